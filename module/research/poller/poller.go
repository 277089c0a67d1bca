package poller

import (
	"math"
	"sync"
	"time"

	"ResearchChat/logger"
	"ResearchChat/module/research/model"
	"ResearchChat/service/chat"
	"ResearchChat/service/llm"
	"ResearchChat/service/metrics"
	"ResearchChat/tools/clock"
	"ResearchChat/tools/ids"

	"go.uber.org/zap"
)

const FailedReply = "I wasn't able to finish researching that question. Please try asking again in a moment."

// 终止原因（metrics label）
const (
	StopCompleted = "completed"
	StopFailed    = "failed"
	StopClosed    = "closed"
	StopMissing   = "missing"
	StopExhausted = "exhausted"
	StopCanceled  = "canceled"
)

// JobReader reads research job snapshots.
type JobReader interface {
	Get(turnID string) (*model.Job, bool)
}

// Target is the connection that triggered the research.
type Target interface {
	IsOpen() bool
	UserID() string
	ReplaceAssistantTurn(turnID, content string) bool
}

// Sender pushes frames to every connection of a user.
type Sender interface {
	SendToRoom(userID string, frame chat.Outbound) int
}

type Options struct {
	Interval    time.Duration // 默认 2s
	MaxAttempts int           // 默认 300
	Clock       clock.Clock
}

func (o *Options) norm() {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 300
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
}

// Poller watches pending jobs on a timer chain and pushes the outcome to
// the user's room once the job leaves pending.
type Poller struct {
	opts   Options
	jobs   JobReader
	sender Sender

	mu      sync.Mutex
	seq     uint64
	active  map[uint64]clock.Timer
	stopped bool
}

func New(jobs JobReader, sender Sender, opts Options) *Poller {
	opts.norm()
	return &Poller{opts: opts, jobs: jobs, sender: sender, active: make(map[uint64]clock.Timer)}
}

type watch struct {
	id       uint64
	turnID   string
	target   Target
	attempts int
}

// Watch starts polling turnID on behalf of target.
func (p *Poller) Watch(target Target, turnID string) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.seq++
	w := &watch{id: p.seq, turnID: turnID, target: target}
	p.scheduleLocked(w)
	p.mu.Unlock()
	logger.Debug("research poll started", zap.String("turn_id", turnID), zap.String("user_id", target.UserID()))
}

// Active returns the number of scheduled polls.
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Stop cancels every scheduled poll.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	n := len(p.active)
	for id, t := range p.active {
		t.Stop()
		delete(p.active, id)
	}
	p.mu.Unlock()
	if n > 0 {
		metrics.PollStops.WithLabelValues(StopCanceled).Add(float64(n))
	}
}

func (p *Poller) scheduleLocked(w *watch) {
	p.active[w.id] = p.opts.Clock.AfterFunc(p.opts.Interval, func() { p.poll(w) })
}

func (p *Poller) poll(w *watch) {
	p.mu.Lock()
	if _, ok := p.active[w.id]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.active, w.id)
	p.mu.Unlock()

	w.attempts++
	if !w.target.IsOpen() {
		p.stop(w, StopClosed)
		return
	}
	job, ok := p.jobs.Get(w.turnID)
	if !ok {
		p.stop(w, StopMissing)
		return
	}
	switch job.Status {
	case model.StatusCompleted:
		p.emitCompleted(w, job)
		p.stop(w, StopCompleted)
		return
	case model.StatusFailed:
		p.emitFailed(w, job)
		p.stop(w, StopFailed)
		return
	}

	if w.attempts >= p.opts.MaxAttempts {
		logger.Warn("research poll gave up",
			zap.String("turn_id", w.turnID), zap.Int("attempts", w.attempts))
		p.stop(w, StopExhausted)
		return
	}
	p.mu.Lock()
	if !p.stopped {
		p.scheduleLocked(w)
	}
	p.mu.Unlock()
}

func (p *Poller) stop(w *watch, reason string) {
	metrics.PollStops.WithLabelValues(reason).Inc()
	logger.Debug("research poll stopped",
		zap.String("turn_id", w.turnID), zap.String("reason", reason), zap.Int("attempts", w.attempts))
}

// ===== 推送 =====

func (p *Poller) emitCompleted(w *watch, job *model.Job) {
	uid := w.target.UserID()
	now := p.opts.Clock.Now()
	msgID := job.ResultMessageID
	if msgID == "" {
		msgID = ids.GenerateString()
	}

	// typing 必须先于结果
	p.sender.SendToRoom(uid, chat.NewTyping())
	p.sender.SendToRoom(uid, chat.BotMessage{
		Type:            chat.TypeBotMessage,
		Content:         job.FinalText,
		Citations:       job.Citations,
		KeyDevelopments: job.KeyDevelopments,
		MessageID:       msgID,
		Timestamp:       now,
		ResearchPending: false,
		ConfidenceScore: Confidence(job.Citations),
		Success:         true,
	})
	p.sender.SendToRoom(uid, chat.ResearchUpdate{
		Type:            chat.TypeResearchUpdate,
		ResearchPending: false,
		MessageID:       msgID,
		Timestamp:       now,
	})
	if !w.target.ReplaceAssistantTurn(w.turnID, job.FinalText) {
		logger.Debug("research turn no longer in history", zap.String("turn_id", w.turnID))
	}
	logger.Info("research result pushed", zap.String("turn_id", w.turnID), zap.String("user_id", uid))
}

func (p *Poller) emitFailed(w *watch, job *model.Job) {
	uid := w.target.UserID()
	now := p.opts.Clock.Now()
	msgID := ids.GenerateString()

	p.sender.SendToRoom(uid, chat.NewTyping())
	p.sender.SendToRoom(uid, chat.BotMessage{
		Type:      chat.TypeBotMessage,
		Content:   FailedReply,
		MessageID: msgID,
		Timestamp: now,
		Success:   false,
		RetryHint: llm.HintRetry,
	})
	p.sender.SendToRoom(uid, chat.ResearchUpdate{
		Type:            chat.TypeResearchUpdate,
		ResearchPending: false,
		MessageID:       msgID,
		Timestamp:       now,
	})
	logger.Info("research failure pushed",
		zap.String("turn_id", w.turnID), zap.String("user_id", uid), zap.String("error", job.Error))
}

// Confidence is the mean relevance of verified citations scaled to [0,1].
func Confidence(citations []model.Citation) float64 {
	sum, n := 0.0, 0
	for _, c := range citations {
		if c.Unverified {
			continue
		}
		sum += math.Max(0, math.Min(10, c.RelevanceScore))
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*10) / 100
}
