package handlers

import (
	"context"

	"ResearchChat/service/chat"
)

type PingHandler struct{ cm *chat.ConnManager }

func NewPingHandler(cm *chat.ConnManager) chat.Handler { return &PingHandler{cm: cm} }

func (h *PingHandler) Type() string { return chat.TypePing }

func (h *PingHandler) Handle(_ context.Context, c *chat.Client, _ *chat.InboundFrame) error {
	h.cm.SendTo(c, chat.Pong{Type: chat.TypePong, Timestamp: h.cm.Now()})
	return nil
}
