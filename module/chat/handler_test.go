package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	mid "ResearchChat/middleware"
	"ResearchChat/module/chat/message"
	"ResearchChat/tools/errs"
	sec "ResearchChat/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type oneToken struct{}

func (oneToken) VerifyToken(token string) (*sec.SessionClaims, error) {
	if token != "tok" {
		return nil, errs.ErrAuthFailed.WrapMsg("bad token")
	}
	return &sec.SessionClaims{UserID: "u1", SessionID: "s1"}, nil
}

func TestHistory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := message.NewMemoryHistory()
	ctx := context.Background()
	owner := message.Owner{UserID: "u1", SessionID: "s1"}
	for _, s := range []string{"a", "b", "c"} {
		_, err := h.RecordUserTurn(ctx, "t-"+s, s, owner)
		require.NoError(t, err)
	}
	_, _ = h.RecordUserTurn(ctx, "t-x", "other", message.Owner{UserID: "u2"})

	r := gin.New()
	mid.ConfigAuth(oneToken{}, nil)
	NewHandler(h, 50).Register(r)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer tok")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := get("/api/chat/history?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		ConversationID string `json:"conversation_id"`
		Messages       []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "conv:u1", body.ConversationID)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "b", body.Messages[0].Content)
	assert.Equal(t, "c", body.Messages[1].Content)

	assert.Equal(t, http.StatusBadRequest, get("/api/chat/history?limit=zero").Code)
}
