package safe

import (
	"fmt"
	"reflect"

	"ResearchChat/logger"
	"ResearchChat/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required fields during struct initialization.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// DefaultString returns the dereferenced value of a string pointer,
// or the fallback if the pointer is nil.
func DefaultString(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

// Go starts a named goroutine that recovers from panic,
// so that panics don't crash the entire program.
func Go(name string, f func()) {
	go Run(name, f)
}

// Run calls f on the current goroutine and reports whether it returned
// normally. A panic is logged with its stack and swallowed.
func Run(name string, f func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			logger.Log.Error("panic recovered",
				zap.String("task", name),
				zap.Error(errs.ErrPanic(r)),
				zap.Stack("stack"),
			)
		}
	}()
	f()
	return true
}
