package message

import (
	"context"
	"sort"
	"sync"
	"time"

	chatmodel "ResearchChat/module/chat/model"
	"ResearchChat/tools/errs"
	"ResearchChat/tools/ids"
)

// Owner 消息归属；ConversationID 由 UserID 推导
type Owner struct {
	UserID    string
	SessionID string
}

// HistoryStore is the message history sink. Callers treat writes as best
// effort and only log failures.
type HistoryStore interface {
	RecordUserTurn(ctx context.Context, turnID, content string, o Owner) (*chatmodel.ChatMessage, error)
	RecordBotTurn(ctx context.Context, turnID, content string, metadata map[string]any, o Owner) (*chatmodel.ChatMessage, error)
	// ListByConversation returns the newest limit messages, oldest first.
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*chatmodel.ChatMessage, error)
}

// CallLogStore records LLM API calls.
type CallLogStore interface {
	RecordCall(ctx context.Context, log *chatmodel.APICallLog) error
}

func newMessage(turnID, role, content string, metadata map[string]any, o Owner, now time.Time) (*chatmodel.ChatMessage, error) {
	if o.UserID == "" {
		return nil, errs.ErrArgs.WrapMsg("message owner is empty")
	}
	return &chatmodel.ChatMessage{
		MessageID:      ids.GenerateString(),
		ConversationID: chatmodel.ConversationID(o.UserID),
		TurnID:         turnID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		SessionID:      o.SessionID,
		UserID:         o.UserID,
		CreateTime:     now,
	}, nil
}

// ===== memory =====

type MemoryHistory struct {
	mu     sync.RWMutex
	byConv map[string][]*chatmodel.ChatMessage
	now    func() time.Time
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{byConv: make(map[string][]*chatmodel.ChatMessage), now: time.Now}
}

func (h *MemoryHistory) RecordUserTurn(ctx context.Context, turnID, content string, o Owner) (*chatmodel.ChatMessage, error) {
	return h.insert(turnID, chatmodel.RoleUser, content, nil, o)
}

func (h *MemoryHistory) RecordBotTurn(ctx context.Context, turnID, content string, metadata map[string]any, o Owner) (*chatmodel.ChatMessage, error) {
	return h.insert(turnID, chatmodel.RoleAssistant, content, metadata, o)
}

func (h *MemoryHistory) insert(turnID, role, content string, metadata map[string]any, o Owner) (*chatmodel.ChatMessage, error) {
	m, err := newMessage(turnID, role, content, metadata, o, h.now())
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.byConv[m.ConversationID] = append(h.byConv[m.ConversationID], m)
	h.mu.Unlock()
	cp := *m
	return &cp, nil
}

func (h *MemoryHistory) ListByConversation(_ context.Context, conversationID string, limit int) ([]*chatmodel.ChatMessage, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	all := h.byConv[conversationID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}
	out := make([]*chatmodel.ChatMessage, 0, len(all)-start)
	for _, m := range all[start:] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

type MemoryCallLog struct {
	mu   sync.Mutex
	logs []chatmodel.APICallLog
}

func (l *MemoryCallLog) RecordCall(_ context.Context, log *chatmodel.APICallLog) error {
	l.mu.Lock()
	l.logs = append(l.logs, *log)
	l.mu.Unlock()
	return nil
}

func (l *MemoryCallLog) Logs() []chatmodel.APICallLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]chatmodel.APICallLog, len(l.logs))
	copy(out, l.logs)
	return out
}

// oldestFirst 按时间正序（同一毫秒内按雪花ID）
func oldestFirst(ms []*chatmodel.ChatMessage) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].CreateTime.Equal(ms[j].CreateTime) {
			return ms[i].MessageID < ms[j].MessageID
		}
		return ms[i].CreateTime.Before(ms[j].CreateTime)
	})
}
