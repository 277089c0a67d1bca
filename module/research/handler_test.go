package research

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	mid "ResearchChat/middleware"
	"ResearchChat/module/research/store"
	"ResearchChat/tools/errs"
	sec "ResearchChat/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokens map[string]string // token -> user id

func (t tokens) VerifyToken(token string) (*sec.SessionClaims, error) {
	uid, ok := t[token]
	if !ok {
		return nil, errs.ErrAuthFailed.WrapMsg("bad token")
	}
	return &sec.SessionClaims{UserID: uid, SessionID: "s-" + uid}, nil
}

func newServer(t *testing.T) (*gin.Engine, *store.JobStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jobs := store.NewJobStore(store.Options{})
	r := gin.New()
	mid.ConfigAuth(tokens{"ta": "alice", "tb": "bob"}, nil)
	NewHandler(jobs).Register(r)
	return r, jobs
}

func call(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusAndAck(t *testing.T) {
	r, jobs := newServer(t)
	_, err := jobs.Create("t1", "alice")
	require.NoError(t, err)
	require.NoError(t, jobs.Fail("t1", "provider down"))

	w := call(r, http.MethodGet, "/api/research/t1", "ta")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "provider down", body["error"])

	// 他人的 job 不可见
	assert.Equal(t, http.StatusNotFound, call(r, http.MethodGet, "/api/research/t1", "tb").Code)
	assert.Equal(t, http.StatusNotFound, call(r, http.MethodDelete, "/api/research/t1", "tb").Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, http.MethodGet, "/api/research/t1", "").Code)

	assert.Equal(t, http.StatusOK, call(r, http.MethodDelete, "/api/research/t1", "ta").Code)
	assert.Equal(t, 0, jobs.Len())
	assert.Equal(t, http.StatusNotFound, call(r, http.MethodGet, "/api/research/t1", "ta").Code)
}
