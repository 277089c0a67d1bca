package chat

import (
	"encoding/json"
	"strings"
	"time"

	rmodel "ResearchChat/module/research/model"
	usermodel "ResearchChat/module/user/model"
	"ResearchChat/tools/errs"
)

// ===== 帧类型 =====

// client -> server
const (
	TypeAuth        = "auth"
	TypeUserMessage = "user_message"
	TypePing        = "ping"
	TypeLogout      = "logout"
)

// server -> client
const (
	TypeBotMessage        = "bot_message"
	TypeTyping            = "ai_typing"
	TypeResearchUpdate    = "research_update"
	TypeSessionTerminated = "session_terminated"
	TypeAuthSuccess       = "auth_success"
	TypePong              = "pong"
	TypeLoggedOut         = "logged_out"
	TypeError             = "error"
)

const ReasonIdle = "idle"

// InboundFrame 客户端上行帧
type InboundFrame struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	Content string `json:"content,omitempty"`
}

// ParseFrame decodes one text frame.
func ParseFrame(raw []byte) (*InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.ErrArgs.WrapMsg("invalid message format")
	}
	f.Type = strings.TrimSpace(f.Type)
	if f.Type == "" {
		return nil, errs.ErrArgs.WrapMsg("missing message type")
	}
	return &f, nil
}

// Outbound is every server frame; FrameType labels metrics.
type Outbound interface {
	FrameType() string
}

type BotMessage struct {
	Type            string                  `json:"type"`
	Content         string                  `json:"content"`
	Citations       []rmodel.Citation       `json:"citations,omitempty"`
	KeyDevelopments []rmodel.KeyDevelopment `json:"key_developments,omitempty"`
	MessageID       string                  `json:"message_id"`
	Timestamp       time.Time               `json:"timestamp"`
	ResearchPending bool                    `json:"research_pending"`
	ConfidenceScore float64                 `json:"confidence_score"`
	Success         bool                    `json:"success"`
	RetryHint       string                  `json:"retry_hint,omitempty"`
}

func (BotMessage) FrameType() string { return TypeBotMessage }

type Typing struct {
	Type string `json:"type"`
}

func NewTyping() Typing { return Typing{Type: TypeTyping} }

func (Typing) FrameType() string { return TypeTyping }

type ResearchUpdate struct {
	Type            string    `json:"type"`
	ResearchPending bool      `json:"research_pending"`
	MessageID       string    `json:"message_id"`
	Timestamp       time.Time `json:"timestamp"`
}

func (ResearchUpdate) FrameType() string { return TypeResearchUpdate }

type SessionTerminated struct {
	Type      string    `json:"type"`
	Error     string    `json:"error"`
	Reason    string    `json:"reason"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (SessionTerminated) FrameType() string { return TypeSessionTerminated }

func NewSessionTerminated(reason string, now time.Time) SessionTerminated {
	return SessionTerminated{
		Type:      TypeSessionTerminated,
		Error:     "SESSION_TERMINATED",
		Reason:    reason,
		Message:   TerminationMessage(reason),
		Timestamp: now,
	}
}

// ErrorFrame 通用错误帧 {error, timestamp}
type ErrorFrame struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (ErrorFrame) FrameType() string { return TypeError }

type AuthSuccess struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (AuthSuccess) FrameType() string { return TypeAuthSuccess }

type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (Pong) FrameType() string { return TypePong }

type LoggedOut struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (LoggedOut) FrameType() string { return TypeLoggedOut }

// TerminationMessage 终止原因 -> 用户可见文案
func TerminationMessage(reason string) string {
	switch reason {
	case usermodel.ReasonNewLogin:
		return "Your session was terminated because you logged in from another location."
	case usermodel.ReasonLogout:
		return "You have been logged out."
	case usermodel.ReasonLogoutAll:
		return "You have been logged out from all devices."
	case usermodel.ReasonExpired:
		return "Your session has expired. Please log in again."
	case ReasonIdle:
		return "Your connection was closed after a period of inactivity."
	default:
		return "Your session was terminated."
	}
}
