package service

import (
	"context"
	"errors"
	"time"

	"ResearchChat/logger"
	"ResearchChat/module/chat/message"
	chatmodel "ResearchChat/module/chat/model"
	rservice "ResearchChat/module/research/service"
	"ResearchChat/service/llm"
	"ResearchChat/tools/clock"
	"ResearchChat/tools/errs"
	"ResearchChat/tools/ids"
	"ResearchChat/tools/safe"

	"go.uber.org/zap"
)

// 固定回复文案
const (
	FallbackReply = "I'm sorry, I can only help with questions about your energy and utility services, " +
		"such as bills, rates, usage and outages. Could you rephrase your question in that context?"
	PlaceholderReply = "I'm looking into that for you. I'll share what I find in a moment."
)

// Scheduler accepts a research job for background execution.
type Scheduler interface {
	Enqueue(req rservice.Request) error
}

// TurnResult is the immediate answer to one user message.
type TurnResult struct {
	TurnID          string
	MessageID       string
	Reply           string
	ResearchPending bool
	Success         bool
	ConfidenceScore float64
	RetryHint       string
	Timestamp       time.Time
}

type Orchestrator struct {
	decider   llm.Decider
	history   message.HistoryStore
	scheduler Scheduler
	clock     clock.Clock
}

func NewOrchestrator(decider llm.Decider, history message.HistoryStore, scheduler Scheduler, clk clock.Clock) *Orchestrator {
	safe.MustNotNil(decider, "decider")
	safe.MustNotNil(history, "history")
	safe.MustNotNil(scheduler, "scheduler")
	if clk == nil {
		clk = clock.Real()
	}
	return &Orchestrator{decider: decider, history: history, scheduler: scheduler, clock: clk}
}

// ProcessTurn answers the last user message of window. It never waits for
// research; a pending job is reported through ResearchPending. Only invalid
// input is returned as an error.
func (o *Orchestrator) ProcessTurn(ctx context.Context, window []chatmodel.Turn, userID, sessionID string) (*TurnResult, error) {
	if userID == "" {
		return nil, errs.ErrArgs.WrapMsg("user id is empty")
	}
	if len(window) == 0 || window[len(window)-1].Role != chatmodel.RoleUser {
		return nil, errs.ErrArgs.WrapMsg("conversation must end with a user message")
	}
	owner := message.Owner{UserID: userID, SessionID: sessionID}
	turnID := ids.GenerateString()
	last := window[len(window)-1]

	// 1) 用户消息落库（失败只记日志）
	if _, err := o.history.RecordUserTurn(ctx, turnID, last.Content, owner); err != nil {
		logger.Warn("persist user turn failed", zap.String("turn_id", turnID), zap.Error(err))
	}

	// 2) 范围判断
	needResearch, err := o.decider.DecideScope(ctx, window)
	if err != nil {
		if errors.Is(err, errs.ErrUpstreamMalformed) {
			logger.Info("scope decision malformed, no research", zap.String("turn_id", turnID), zap.Error(err))
			return o.reply(ctx, turnID, owner, FallbackReply, false, true, ""), nil
		}
		logger.Warn("scope decision failed", zap.String("turn_id", turnID), zap.Error(err))
		return o.reply(ctx, turnID, owner, FallbackReply, false, false, llm.RetryHint(err)), nil
	}
	if !needResearch {
		return o.reply(ctx, turnID, owner, FallbackReply, false, true, ""), nil
	}

	// 3) 占位回复 + 后台研究
	res := o.reply(ctx, turnID, owner, PlaceholderReply, true, true, "")
	req := rservice.Request{
		TurnID:    turnID,
		UserID:    userID,
		SessionID: sessionID,
		Window:    append([]chatmodel.Turn(nil), window...),
	}
	if err := o.scheduler.Enqueue(req); err != nil {
		logger.Error("schedule research failed", zap.String("turn_id", turnID), zap.Error(err))
		res.ResearchPending = false
		res.Success = false
		res.Reply = FallbackReply
		res.RetryHint = llm.HintRetry
		return res, nil
	}
	return res, nil
}

func (o *Orchestrator) reply(ctx context.Context, turnID string, owner message.Owner, text string, pending, success bool, hint string) *TurnResult {
	res := &TurnResult{
		TurnID:          turnID,
		Reply:           text,
		ResearchPending: pending,
		Success:         success,
		RetryHint:       hint,
		Timestamp:       o.clock.Now(),
	}
	meta := map[string]any{"research_pending": pending, "success": success}
	if m, err := o.history.RecordBotTurn(ctx, turnID, text, meta, owner); err != nil {
		logger.Warn("persist bot turn failed", zap.String("turn_id", turnID), zap.Error(err))
		res.MessageID = ids.GenerateString()
	} else {
		res.MessageID = m.MessageID
	}
	return res
}
