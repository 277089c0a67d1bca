package chat

import (
	"sync"
	"time"

	chatmodel "ResearchChat/module/chat/model"
	"ResearchChat/service/metrics"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Client is one live websocket. State moves UNAUTHENTICATED -> AUTHENTICATED
// -> CLOSED; a revoked client drops back to unauthenticated until it closes.
type Client struct {
	ConnID     string          // 本进程内唯一
	WS         *websocket.Conn // 测试中可为 nil
	Send       chan []byte     // 出站队列（单写协程消费）
	RemoteAddr string
	UserAgent  string
	CreatedAt  time.Time

	done      chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	userID        string
	sessionID     string
	roomID        string
	authenticated bool
	history       []chatmodel.Turn
	historyLimit  int
	lastActivity  time.Time
	limiter       *rate.Limiter

	// 同一连接的轮次串行执行
	turnMu   sync.Mutex
	turns    []func()
	draining bool
}

// DefaultHistoryLimit caps the per-connection conversation history.
const DefaultHistoryLimit = 50

// NewClient creates a new client connection object.
func NewClient(connID string, ws *websocket.Conn, sendQueueSize int, limiter *rate.Limiter, now time.Time) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	return &Client{
		ConnID:       connID,
		WS:           ws,
		Send:         make(chan []byte, sendQueueSize),
		CreatedAt:    now,
		done:         make(chan struct{}),
		lastActivity: now,
		limiter:      limiter,
		historyLimit: DefaultHistoryLimit,
	}
}

func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Client) Touch(now time.Time) {
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

func (c *Client) bind(userID, sessionID, roomID string) {
	c.mu.Lock()
	c.userID, c.sessionID, c.roomID = userID, sessionID, roomID
	c.authenticated = true
	c.mu.Unlock()
}

// revoke 会话失效后不再接收房间消息
func (c *Client) revoke() {
	c.mu.Lock()
	c.authenticated = false
	c.mu.Unlock()
}

// Done is closed when the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close marks the client closed; the write pump then closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Enqueue never blocks. A full queue or closed client drops the frame.
func (c *Client) Enqueue(frameType string, payload []byte) bool {
	if !c.IsOpen() {
		metrics.FramesDropped.WithLabelValues(frameType).Inc()
		return false
	}
	select {
	case c.Send <- payload:
		metrics.FramesSent.WithLabelValues(frameType).Inc()
		return true
	default:
		metrics.FramesDropped.WithLabelValues(frameType).Inc()
		return false
	}
}

// Allow applies the per-connection inbound message rate.
func (c *Client) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// ===== 对话历史 =====

// SetHistoryLimit sets how many turns the connection keeps; n <= 0 keeps
// the default.
func (c *Client) SetHistoryLimit(n int) {
	if n <= 0 {
		n = DefaultHistoryLimit
	}
	c.mu.Lock()
	c.historyLimit = n
	c.trimHistoryLocked()
	c.mu.Unlock()
}

// AppendHistory appends turns and drops the oldest beyond the limit.
func (c *Client) AppendHistory(turns ...chatmodel.Turn) {
	c.mu.Lock()
	c.history = append(c.history, turns...)
	c.trimHistoryLocked()
	c.mu.Unlock()
}

func (c *Client) trimHistoryLocked() {
	if over := len(c.history) - c.historyLimit; c.historyLimit > 0 && over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
	}
}

func (c *Client) History() []chatmodel.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chatmodel.Turn, len(c.history))
	copy(out, c.history)
	return out
}

// ReplaceAssistantTurn overwrites the assistant entry answering turnID.
// False when that entry is gone (trimmed) or never existed.
func (c *Client) ReplaceAssistantTurn(turnID, content string) bool {
	if turnID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Role == chatmodel.RoleAssistant && c.history[i].TurnID == turnID {
			c.history[i].Content = content
			return true
		}
	}
	return false
}

// ===== 轮次队列 =====

// QueueTurn appends f to the connection's turn queue. It reports true when
// no drain is running, in which case the caller must start DrainTurns.
func (c *Client) QueueTurn(f func()) bool {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	c.turns = append(c.turns, f)
	if c.draining {
		return false
	}
	c.draining = true
	return true
}

// DrainTurns runs queued turns one at a time, in arrival order, until the
// queue is empty.
func (c *Client) DrainTurns() {
	for {
		c.turnMu.Lock()
		if len(c.turns) == 0 {
			c.draining = false
			c.turnMu.Unlock()
			return
		}
		f := c.turns[0]
		c.turns[0] = nil
		c.turns = c.turns[1:]
		c.turnMu.Unlock()
		f()
	}
}
