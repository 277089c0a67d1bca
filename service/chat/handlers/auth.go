package handlers

import (
	"context"
	"strings"

	midsec "ResearchChat/middleware/security"
	"ResearchChat/service/chat"
	"ResearchChat/tools/errs"
)

// AuthHandler moves a connection to AUTHENTICATED and joins the user's room.
type AuthHandler struct {
	verifier midsec.TokenVerifier
	cm       *chat.ConnManager
}

func NewAuthHandler(v midsec.TokenVerifier, cm *chat.ConnManager) chat.Handler {
	return &AuthHandler{verifier: v, cm: cm}
}

func (h *AuthHandler) Type() string { return chat.TypeAuth }

func (h *AuthHandler) Handle(_ context.Context, c *chat.Client, f *chat.InboundFrame) error {
	token := strings.TrimSpace(f.Token)
	if token == "" {
		return errs.ErrAuthFailed.WrapMsg("empty token", "conn_id", c.ConnID)
	}
	claims, err := h.verifier.VerifyToken(token)
	if err != nil {
		// 不区分签名/过期/吊销
		return errs.ErrAuthFailed.WrapMsg("verify token", "conn_id", c.ConnID, "err", err)
	}
	if err := h.cm.Authenticate(c, claims.UserID, claims.SessionID); err != nil {
		return err
	}
	h.cm.SendTo(c, chat.AuthSuccess{
		Type:      chat.TypeAuthSuccess,
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		Timestamp: h.cm.Now(),
	})
	return nil
}
