package handlers

import (
	"context"

	"ResearchChat/logger"
	"ResearchChat/service/chat"

	"go.uber.org/zap"
)

// SessionLogout is satisfied by the session store.
type SessionLogout interface {
	Logout(sessionID string, skipSocketClose bool) bool
}

// LogoutHandler ends the session from inside the socket. The store is told
// to skip the socket close since this handler closes its own connection.
type LogoutHandler struct {
	sessions SessionLogout
	cm       *chat.ConnManager
}

func NewLogoutHandler(sessions SessionLogout, cm *chat.ConnManager) chat.Handler {
	return &LogoutHandler{sessions: sessions, cm: cm}
}

func (h *LogoutHandler) Type() string { return chat.TypeLogout }

func (h *LogoutHandler) Handle(_ context.Context, c *chat.Client, _ *chat.InboundFrame) error {
	sid := c.SessionID()
	if !h.sessions.Logout(sid, true) {
		logger.Info("logout of unknown session", zap.String("session_id", sid), zap.String("conn_id", c.ConnID))
	}
	h.cm.SendTo(c, chat.LoggedOut{Type: chat.TypeLoggedOut, Timestamp: h.cm.Now()})
	h.cm.Detach(c)
	return nil
}
