package security

import (
	"net/http"
	"strings"

	"ResearchChat/logger"
	"ResearchChat/tools/errs"
	sec "ResearchChat/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ===== context key =====
// 后续模块统一用这几个 key 读取
const (
	CtxTokenKey     = "authorization" // string
	CtxUserIDKey    = "auth_user_id"  // string
	CtxSessionIDKey = "auth_session_id"
)

// TokenVerifier is satisfied by the session store.
type TokenVerifier interface {
	VerifyToken(token string) (*sec.SessionClaims, error)
}

type Options struct {
	// 读取哪个请求头
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true
	QueryToken                string // 可选，如 "token"
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:               "X-Token",
		EnableAuthorizationBearer: true,
	}
}

// ExtractToken reads the token from the custom header, then
// "Authorization: Bearer xxx", then the query parameter if configured.
func ExtractToken(c *gin.Context, opts *Options) string {
	token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
	// 兼容 Authorization: Bearer xxx
	if token == "" && opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
	}
	if token == "" && opts.QueryToken != "" {
		token = strings.TrimSpace(c.Query(opts.QueryToken))
	}
	return token
}

// Middleware rejects the request with a generic 401 unless the token
// verifies against a live session.
func Middleware(v TokenVerifier, opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := ExtractToken(c, opts)
		if token == "" {
			abortAuth(c)
			return
		}
		claims, err := v.VerifyToken(token)
		if err != nil {
			logger.Debug("http auth rejected", zap.String("path", c.FullPath()), zap.Error(err))
			abortAuth(c)
			return
		}
		c.Set(CtxTokenKey, token)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Set(CtxSessionIDKey, claims.SessionID)
		c.Next()
	}
}

func abortAuth(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code": errs.ErrAuthFailed.Code,
		"msg":  errs.ErrAuthFailed.Msg,
	})
}

func UserID(c *gin.Context) string    { return c.GetString(CtxUserIDKey) }
func SessionID(c *gin.Context) string { return c.GetString(CtxSessionIDKey) }
