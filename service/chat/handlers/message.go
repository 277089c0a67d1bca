package handlers

import (
	"context"
	"strconv"
	"strings"

	"ResearchChat/logger"
	chatmodel "ResearchChat/module/chat/model"
	chatservice "ResearchChat/module/chat/service"
	"ResearchChat/module/research/poller"
	"ResearchChat/service/chat"
	"ResearchChat/tools/errs"
	"ResearchChat/tools/safe"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// TurnProcessor is implemented by the chat orchestrator.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, window []chatmodel.Turn, userID, sessionID string) (*chatservice.TurnResult, error)
}

// Watcher follows a pending research job for one connection.
type Watcher interface {
	Watch(target poller.Target, turnID string)
}

type MessageOptions struct {
	MaxContentLength int // 默认 4000
	// Run 执行一轮对话；默认 safe.Go，测试可换成同步
	Run func(name string, f func())
}

// MessageHandler answers user_message frames. Turns run off the read loop
// through the connection's turn queue, so turns of one connection never
// overlap and each sees the previous reply in its window.
type MessageHandler struct {
	orch     TurnProcessor
	cm       *chat.ConnManager
	watcher  Watcher
	validate *validator.Validate
	rule     string
	run      func(name string, f func())
}

func NewMessageHandler(orch TurnProcessor, cm *chat.ConnManager, watcher Watcher, opts MessageOptions) chat.Handler {
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = 4000
	}
	if opts.Run == nil {
		opts.Run = safe.Go
	}
	return &MessageHandler{
		orch:     orch,
		cm:       cm,
		watcher:  watcher,
		validate: validator.New(),
		rule:     "required,max=" + strconv.Itoa(opts.MaxContentLength),
		run:      opts.Run,
	}
}

func (h *MessageHandler) Type() string { return chat.TypeUserMessage }

func (h *MessageHandler) Handle(ctx context.Context, c *chat.Client, f *chat.InboundFrame) error {
	content := strings.TrimSpace(f.Content)
	if err := h.validate.Var(content, h.rule); err != nil {
		if content == "" {
			return errs.ErrArgs.WrapMsg("Message content is required")
		}
		return errs.ErrArgs.WrapMsg("Message content is too long")
	}
	if !c.Allow() {
		return errs.ErrRateLimited.WrapMsg("inbound message rate", "conn_id", c.ConnID)
	}

	uid, sid := c.UserID(), c.SessionID()
	turn := func() {
		c.AppendHistory(chatmodel.Turn{Role: chatmodel.RoleUser, Content: content})
		window := c.History()
		h.cm.SendToRoom(uid, chat.NewTyping())

		res, err := h.orch.ProcessTurn(ctx, window, uid, sid)
		if err != nil {
			logger.Warn("process turn failed", zap.String("user_id", uid), zap.Error(err))
			h.cm.SendTo(c, chat.ErrorFrame{Error: "Failed to process message", Timestamp: h.cm.Now()})
			return
		}

		h.cm.SendToRoom(uid, chat.BotMessage{
			Type:            chat.TypeBotMessage,
			Content:         res.Reply,
			MessageID:       res.MessageID,
			Timestamp:       res.Timestamp,
			ResearchPending: res.ResearchPending,
			ConfidenceScore: res.ConfidenceScore,
			Success:         res.Success,
			RetryHint:       res.RetryHint,
		})
		c.AppendHistory(chatmodel.Turn{Role: chatmodel.RoleAssistant, Content: res.Reply, TurnID: res.TurnID})

		if res.ResearchPending && h.watcher != nil {
			h.watcher.Watch(c, res.TurnID)
		}
	}
	if c.QueueTurn(turn) {
		h.run("chat-turn", c.DrainTurns)
	}
	return nil
}
