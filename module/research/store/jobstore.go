package store

import (
	"sync"
	"time"

	"ResearchChat/logger"
	"ResearchChat/module/research/model"
	"ResearchChat/tools/clock"
	"ResearchChat/tools/errs"
	"ResearchChat/tools/safe"

	"go.uber.org/zap"
)

type Options struct {
	Retention  time.Duration // 超过保留期的 job 无论状态一律删除（默认 30m）
	SweepEvery time.Duration // 默认 5m
	Clock      clock.Clock
}

func (o *Options) norm() {
	if o.Retention <= 0 {
		o.Retention = 30 * time.Minute
	}
	if o.SweepEvery <= 0 {
		o.SweepEvery = 5 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
}

// JobStore is the in-memory result store keyed by conversation turn id.
// Each job leaves pending exactly once.
type JobStore struct {
	opts Options

	mu   sync.RWMutex
	jobs map[string]*model.Job

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewJobStore(opts Options) *JobStore {
	opts.norm()
	return &JobStore{
		opts:   opts,
		jobs:   make(map[string]*model.Job),
		stopCh: make(chan struct{}),
	}
}

// Create 新建 pending job；同一 turn 重复创建视为参数错误
func (s *JobStore) Create(turnID, userID string) (*model.Job, error) {
	if turnID == "" {
		return nil, errs.ErrArgs.WrapMsg("turn id is empty")
	}
	now := s.opts.Clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[turnID]; ok {
		return nil, errs.ErrArgs.WrapMsg("research job exists", "turnID", turnID)
	}
	j := &model.Job{
		TurnID:    turnID,
		UserID:    userID,
		Status:    model.StatusPending,
		CreatedAt: now,
		Timestamp: now,
	}
	s.jobs[turnID] = j
	return j.Clone(), nil
}

// Get returns a copy of the job.
func (s *JobStore) Get(turnID string) (*model.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[turnID]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// Complete pending -> completed
func (s *JobStore) Complete(turnID string, res model.Result) error {
	return s.transition(turnID, func(j *model.Job) {
		j.Status = model.StatusCompleted
		j.ExecutiveSummary = res.Report.ExecutiveSummary
		j.KeyDevelopments = res.Report.KeyDevelopments
		j.Citations = res.Report.Citations
		j.CitationValidation = res.Checks
		j.FinalText = res.FinalText
		j.ResultMessageID = res.ResultMessageID
	})
}

// Fail pending -> failed；msg 为空时填充通用描述
func (s *JobStore) Fail(turnID, msg string) error {
	if msg == "" {
		msg = errs.ErrResearchFailed.Msg
	}
	return s.transition(turnID, func(j *model.Job) {
		j.Status = model.StatusFailed
		j.Error = msg
	})
}

func (s *JobStore) transition(turnID string, apply func(j *model.Job)) error {
	now := s.opts.Clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[turnID]
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("research job", "turnID", turnID)
	}
	if j.Status != model.StatusPending {
		return errs.ErrArgs.WrapMsg("research job already finished", "turnID", turnID, "status", j.Status)
	}
	apply(j)
	j.Timestamp = now
	return nil
}

// Ack 消费方确认后删除
func (s *JobStore) Ack(turnID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[turnID]; !ok {
		return false
	}
	delete(s.jobs, turnID)
	return true
}

func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// SweepOnce 删除 timestamp 早于 now-Retention 的 job
func (s *JobStore) SweepOnce(now time.Time) int {
	cutoff := now.Add(-s.opts.Retention)
	s.mu.Lock()
	n := 0
	for id, j := range s.jobs {
		if j.Timestamp.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		logger.Info("research jobs swept", zap.Int("count", n))
	}
	return n
}

func (s *JobStore) Start() {
	safe.Go("research-job-sweeper", s.sweeper)
}

func (s *JobStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *JobStore) sweeper() {
	t := time.NewTicker(s.opts.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.SweepOnce(s.opts.Clock.Now())
		case <-s.stopCh:
			return
		}
	}
}
