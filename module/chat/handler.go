package chat

import (
	"net/http"
	"strconv"

	mid "ResearchChat/middleware"
	midsec "ResearchChat/middleware/security"
	"ResearchChat/module/chat/message"
	"ResearchChat/module/chat/model"
	"ResearchChat/tools/errs"

	"github.com/gin-gonic/gin"
)

const maxHistoryLimit = 200

type Handler struct {
	history      message.HistoryStore
	defaultLimit int
}

func NewHandler(history message.HistoryStore, defaultLimit int) *Handler {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return &Handler{history: history, defaultLimit: defaultLimit}
}

func (h *Handler) Register(r gin.IRoutes) {
	mid.GET(r, "/api/chat/history", h.History, mid.RouteOpt{IsAuth: true})
}

// History returns the caller's newest messages, oldest first.
func (h *Handler) History(c *gin.Context) {
	limit := h.defaultLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			mid.Fail(c, errs.ErrArgs.WrapMsg("invalid limit", "limit", s))
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	uid := midsec.UserID(c)
	msgs, err := h.history.ListByConversation(c.Request.Context(), model.ConversationID(uid), limit)
	if err != nil {
		mid.Fail(c, err)
		return
	}
	if msgs == nil {
		msgs = []*model.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": model.ConversationID(uid),
		"messages":        msgs,
	})
}
