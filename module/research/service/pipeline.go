package service

import (
	"context"
	"strings"
	"time"

	"ResearchChat/logger"
	"ResearchChat/module/chat/message"
	chatmodel "ResearchChat/module/chat/model"
	"ResearchChat/module/research/model"
	"ResearchChat/module/research/store"
	"ResearchChat/service/llm"
	"ResearchChat/service/metrics"
	"ResearchChat/tools/errs"
	"ResearchChat/tools/ids"
	"ResearchChat/tools/safe"

	"go.uber.org/zap"
)

const queueFullMsg = "research queue is full"

// Request 一次研究任务的输入
type Request struct {
	TurnID    string
	UserID    string
	SessionID string
	Window    []chatmodel.Turn // 完整可见对话，末尾为触发的用户消息
}

// CitationChecker validates citation URLs. Implemented by CitationValidator.
type CitationChecker interface {
	ValidateCitationURLs(ctx context.Context, citations []model.Citation) []model.CitationCheck
}

type PipelineOptions struct {
	HistoryWindow int    // 默认 5
	LocationHint  string // 可选
	Workers       int
	QueueSize     int
	JobTimeout    time.Duration // 单个任务总时长上限（默认 15m）
}

func (o *PipelineOptions) norm() {
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 5
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 15 * time.Minute
	}
}

// Pipeline runs research jobs in the background and writes the outcome
// into the job store. A job never stays pending after Run returns.
type Pipeline struct {
	opts       PipelineOptions
	jobs       *store.JobStore
	researcher llm.Researcher
	history    message.HistoryStore
	checker    CitationChecker
	markers    *MarkerRewriter
	events     EventPublisher

	queue *workQueue[Request]
}

func NewPipeline(jobs *store.JobStore, researcher llm.Researcher, history message.HistoryStore, checker CitationChecker, opts PipelineOptions) *Pipeline {
	safe.MustNotNil(jobs, "jobs")
	safe.MustNotNil(researcher, "researcher")
	safe.MustNotNil(history, "history")
	safe.MustNotNil(checker, "checker")
	opts.norm()
	return &Pipeline{
		opts:       opts,
		jobs:       jobs,
		researcher: researcher,
		history:    history,
		checker:    checker,
		markers:    DefaultMarkerRewriter(),
	}
}

// SetMarkers swaps the citation marker transform.
func (p *Pipeline) SetMarkers(m *MarkerRewriter) {
	if m != nil {
		p.markers = m
	}
}

func (p *Pipeline) SetEvents(pub EventPublisher) { p.events = pub }

func (p *Pipeline) Start() {
	p.queue = newWorkQueue(p.opts.Workers, p.opts.QueueSize, func(req Request) {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.JobTimeout)
		defer cancel()
		p.Run(ctx, req)
	})
}

func (p *Pipeline) Stop() {
	if p.queue != nil {
		p.queue.Close()
	}
}

// Enqueue creates the pending job and hands it to the worker pool. When the
// queue is full the job is failed at once.
func (p *Pipeline) Enqueue(req Request) error {
	if _, err := p.jobs.Create(req.TurnID, req.UserID); err != nil {
		return err
	}
	if p.queue == nil || !p.queue.Submit(req) {
		logger.Warn("research queue full", zap.String("turn_id", req.TurnID))
		p.fail(req, errs.ErrResearchFailed.WrapMsg(queueFullMsg), queueFullMsg)
		return nil
	}
	logger.Info("research scheduled", zap.String("turn_id", req.TurnID), zap.String("user_id", req.UserID))
	return nil
}

// Run executes one job synchronously.
func (p *Pipeline) Run(ctx context.Context, req Request) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.fail(req, errs.ErrPanic(r), "")
		}
		metrics.ResearchDuration.Observe(time.Since(start).Seconds())
	}()

	res, err := p.execute(ctx, req)
	if err != nil {
		p.fail(req, err, "")
		return
	}
	if err := p.jobs.Complete(req.TurnID, *res); err != nil {
		logger.Warn("complete research job failed", zap.String("turn_id", req.TurnID), zap.Error(err))
		return
	}
	metrics.ResearchJobs.WithLabelValues(string(model.StatusCompleted)).Inc()
	logger.Info("research completed",
		zap.String("turn_id", req.TurnID),
		zap.Int("citations", len(res.Report.Citations)),
		zap.Duration("took", time.Since(start)))
	if j, ok := p.jobs.Get(req.TurnID); ok {
		publish(p.events, j)
	}
}

func (p *Pipeline) execute(ctx context.Context, req Request) (*model.Result, error) {
	window := lastTurns(req.Window, p.opts.HistoryWindow)
	prompt := buildPrompt(window, p.opts.LocationHint)

	report, err := p.researcher.Research(ctx, prompt, window)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, errs.ErrResearchFailed.WrapMsg("no research result")
	}

	// 先替换 marker，再做 URL 校验
	p.markers.Rewrite(report)
	checks := p.checker.ValidateCitationURLs(ctx, report.Citations)
	report.Citations = FilterCitations(report.Citations, checks)

	text := FinalText(*report)
	owner := message.Owner{UserID: req.UserID, SessionID: req.SessionID}
	meta := map[string]any{
		"research":         true,
		"citations":        report.Citations,
		"key_developments": report.KeyDevelopments,
	}
	messageID := ids.GenerateString()
	if m, err := p.history.RecordBotTurn(ctx, req.TurnID, text, meta, owner); err != nil {
		logger.Warn("persist research message failed", zap.String("turn_id", req.TurnID), zap.Error(err))
	} else {
		messageID = m.MessageID
	}

	return &model.Result{
		Report:          *report,
		Checks:          checks,
		FinalText:       text,
		ResultMessageID: messageID,
	}, nil
}

func (p *Pipeline) fail(req Request, cause error, msg string) {
	if msg == "" {
		msg = cause.Error()
	}
	if err := p.jobs.Fail(req.TurnID, msg); err != nil {
		logger.Warn("fail research job failed", zap.String("turn_id", req.TurnID), zap.Error(err))
		return
	}
	metrics.ResearchJobs.WithLabelValues(string(model.StatusFailed)).Inc()
	logger.Warn("research failed", zap.String("turn_id", req.TurnID), zap.Error(cause))
	if j, ok := p.jobs.Get(req.TurnID); ok {
		publish(p.events, j)
	}
}

func lastTurns(window []chatmodel.Turn, n int) []chatmodel.Turn {
	if n > 0 && len(window) > n {
		window = window[len(window)-n:]
	}
	return append([]chatmodel.Turn(nil), window...)
}

func buildPrompt(window []chatmodel.Turn, location string) string {
	question := ""
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Role == chatmodel.RoleUser {
			question = window[i].Content
			break
		}
	}
	var sb strings.Builder
	sb.WriteString("Research the most recent user question in this conversation and answer it with current, cited sources.\n")
	sb.WriteString("Question: ")
	sb.WriteString(strings.TrimSpace(question))
	if loc := strings.TrimSpace(location); loc != "" {
		sb.WriteString("\nUser location: ")
		sb.WriteString(loc)
	}
	return sb.String()
}
