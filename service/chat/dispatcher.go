package chat

import (
	"context"
	"errors"

	"ResearchChat/logger"
	"ResearchChat/tools/errs"

	"go.uber.org/zap"
)

// Handler processes one inbound frame type.
type Handler interface {
	Type() string
	Handle(ctx context.Context, c *Client, f *InboundFrame) error
}

type Dispatcher struct {
	cm       *ConnManager
	handlers map[string]Handler
}

func NewDispatcher(cm *ConnManager) *Dispatcher {
	return &Dispatcher{cm: cm, handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(hs ...Handler) {
	for _, h := range hs {
		d.handlers[h.Type()] = h
	}
}

func (d *Dispatcher) GetHandler(typ string) Handler {
	return d.handlers[typ]
}

// Dispatch parses raw and routes it. Unauthenticated clients may only send
// auth frames. Failures are answered with an error frame; the connection
// stays open.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, raw []byte) {
	f, err := ParseFrame(raw)
	if err != nil {
		d.replyError(c, "Invalid message format")
		return
	}
	if !c.Authenticated() && f.Type != TypeAuth {
		d.replyError(c, "Authentication required")
		return
	}
	h, ok := d.handlers[f.Type]
	if !ok {
		d.replyError(c, "Unknown message type: "+f.Type)
		return
	}
	if err := h.Handle(ctx, c, f); err != nil {
		d.replyError(c, publicMessage(err))
		logger.Info("frame rejected",
			zap.String("conn_id", c.ConnID), zap.String("type", f.Type), zap.Error(err))
	}
}

func (d *Dispatcher) replyError(c *Client, msg string) {
	d.cm.SendTo(c, ErrorFrame{Error: msg, Timestamp: d.cm.Now()})
}

// publicMessage 只向客户端暴露 code 对应的文案，detail 仅记日志
func publicMessage(err error) string {
	switch {
	case errors.Is(err, errs.ErrAuthFailed):
		return "Authentication failed"
	case errors.Is(err, errs.ErrRateLimited):
		return "Too many messages, please slow down"
	}
	if ce, ok := errs.AsCode(err); ok && ce.Code == errs.ArgsError {
		if ce.Detail != "" {
			return ce.Detail
		}
		return ce.Msg
	}
	return "Internal error"
}
