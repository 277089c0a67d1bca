package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	midsec "ResearchChat/middleware/security"
	"ResearchChat/tools/errs"
	sec "ResearchChat/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct{ good string }

func (s stubVerifier) VerifyToken(token string) (*sec.SessionClaims, error) {
	if token != s.good {
		return nil, errs.ErrAuthFailed.WrapMsg("bad token")
	}
	return &sec.SessionClaims{UserID: "u1", SessionID: "s1"}, nil
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	m := NewManager()
	m.Add(Recovery(), Origin([]string{"http://ok.example"}))
	m.Apply(r)
	ConfigAuth(stubVerifier{good: "tok"}, nil)
	GET(r, "/open", func(c *gin.Context) { c.String(http.StatusOK, "open") }, RouteOpt{})
	GET(r, "/me", func(c *gin.Context) {
		c.String(http.StatusOK, midsec.UserID(c)+"/"+midsec.SessionID(c))
	}, RouteOpt{IsAuth: true})
	GET(r, "/panic", func(c *gin.Context) { panic("boom") }, RouteOpt{})
	GET(r, "/fail", func(c *gin.Context) { Fail(c, errs.ErrArgs.WrapMsg("limit")) }, RouteOpt{})
	GET(r, "/plain", func(c *gin.Context) { Fail(c, errors.New("db down")) }, RouteOpt{})
	return r
}

func do(r http.Handler, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRoutes(t *testing.T) {
	r := newEngine()

	w := do(r, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"code":1501,"msg":"authentication failed"}`, w.Body.String())

	w = do(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer tok"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1/s1", w.Body.String())

	w = do(r, http.MethodGet, "/me", map[string]string{"X-Token": "tok"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/open", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOrigin(t *testing.T) {
	r := newEngine()
	w := do(r, http.MethodGet, "/open", map[string]string{"Origin": "http://evil.example"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodOptions, "/open", map[string]string{"Origin": "http://ok.example"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://ok.example", w.Header().Get("Access-Control-Allow-Origin"))

	assert.True(t, OriginAllowed(nil, "http://any"))
	assert.True(t, OriginAllowed([]string{"*"}, "http://any"))
	assert.True(t, OriginAllowed([]string{"http://a"}, ""))
}

func TestFailAndRecovery(t *testing.T) {
	r := newEngine()

	w := do(r, http.MethodGet, "/fail", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"code":1001,"msg":"invalid request"}`, w.Body.String())

	w = do(r, http.MethodGet, "/plain", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")

	w = do(r, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
