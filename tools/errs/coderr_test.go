package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeError_IsMatchesByCode(t *testing.T) {
	err := ErrAuthFailed.WrapMsg("session revoked", "sid", "abc")

	assert.True(t, errors.Is(err, ErrAuthFailed))
	assert.False(t, errors.Is(err, ErrRateLimited))

	wrapped := fmt.Errorf("verify: %w", err)
	assert.True(t, errors.Is(wrapped, ErrAuthFailed))
}

func TestCodeError_WrapMsgKeepsPublicMessage(t *testing.T) {
	err := ErrAuthFailed.WrapMsg("signature invalid")

	ce, ok := AsCode(err)
	require.True(t, ok)
	assert.Equal(t, AuthFailedError, ce.Code)
	assert.Equal(t, "authentication failed", ce.Msg)
	assert.Equal(t, "signature invalid", ce.Detail)
	// the shared sentinel is untouched
	assert.Empty(t, ErrAuthFailed.Detail)
}

func TestCodeError_WrapMsgAppendsDetail(t *testing.T) {
	first := ErrPersistence.WrapMsg("insert", "coll", "msg")
	ce, _ := AsCode(first)

	second := ce.WrapMsg("retry")
	ce2, ok := AsCode(second)
	require.True(t, ok)
	assert.Equal(t, "insert, coll=msg, retry", ce2.Detail)
}

func TestToString_OddKV(t *testing.T) {
	assert.Equal(t, "m, a=1, b=MISSING", toString("m", []any{"a", 1, "b"}))
	assert.Equal(t, "plain", toString("plain", nil))
}

func TestErrPanic(t *testing.T) {
	assert.Nil(t, ErrPanic(nil))

	err := ErrPanic("boom")
	require.Error(t, err)
	ce, ok := AsCode(err)
	require.True(t, ok)
	assert.Equal(t, ServerInternalError, ce.Code)
	assert.Equal(t, "boom", ce.Detail)
}
