package service

import (
	"context"
	"encoding/json"
	"time"

	"ResearchChat/logger"
	"ResearchChat/module/research/model"
	"ResearchChat/tools/safe"

	"go.uber.org/zap"
)

const EventBiz = "research"

// EventPublisher is satisfied by natsx.NatsxProducer.
type EventPublisher interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
}

// Event 研究任务终态事件
type Event struct {
	Type      string    `json:"type"` // research.completed | research.failed
	TurnID    string    `json:"turn_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Citations int       `json:"citations"`
	Verified  int       `json:"verified"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(j *model.Job) Event {
	ev := Event{
		Type:      "research." + string(j.Status),
		TurnID:    j.TurnID,
		UserID:    j.UserID,
		Status:    string(j.Status),
		Citations: len(j.Citations),
		Error:     j.Error,
		Timestamp: j.Timestamp,
	}
	for _, c := range j.Citations {
		if !c.Unverified {
			ev.Verified++
		}
	}
	return ev
}

// publish 异步发布；失败只记日志
func publish(pub EventPublisher, j *model.Job) {
	if pub == nil || j == nil {
		return
	}
	ev := newEvent(j)
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("marshal research event failed", zap.Error(err))
		return
	}
	safe.Go("research-event", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hdr := map[string]string{"Content-Type": "application/json", "Rc-Event": ev.Type}
		if err := pub.PublishOnce(ctx, EventBiz, data, hdr, ev.TurnID+":"+ev.Status); err != nil {
			logger.Warn("publish research event failed", zap.String("turn_id", ev.TurnID), zap.Error(err))
		}
	})
}
