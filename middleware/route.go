package middleware

import (
	"sync"

	midsec "ResearchChat/middleware/security"

	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
}

var (
	authMu      sync.RWMutex
	authHandler gin.HandlerFunc
)

// ConfigAuth installs the bearer middleware used by routes with IsAuth.
func ConfigAuth(v midsec.TokenVerifier, opts *midsec.Options) {
	authMu.Lock()
	authHandler = midsec.Middleware(v, opts)
	authMu.Unlock()
}

func chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if !opt.IsAuth {
		return []gin.HandlerFunc{handler}
	}
	authMu.RLock()
	auth := authHandler
	authMu.RUnlock()
	if auth == nil {
		panic("middleware: auth route registered before ConfigAuth")
	}
	return []gin.HandlerFunc{auth, handler}
}

// 封装 POST
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, chain(handler, opt)...)
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, chain(handler, opt)...)
}

// 封装 DELETE
func DELETE(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.DELETE(path, chain(handler, opt)...)
}
