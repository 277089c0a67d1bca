package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Role
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn 对话窗口中的一条
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	TurnID  string `json:"turn_id,omitempty"` // 助手回复所属的用户轮次
}

// ConversationID 每个用户一条会话
func ConversationID(userID string) string { return "conv:" + userID }

// ChatMessage 会话中的一条持久化消息
type ChatMessage struct {
	MessageID      string         `bson:"message_id" json:"message_id"`           // 雪花ID
	ConversationID string         `bson:"conversation_id" json:"conversation_id"` // conv:<userId>
	TurnID         string         `bson:"turn_id" json:"turn_id"`                 // 触发该消息的用户轮次
	Role           string         `bson:"role" json:"role"`
	Content        string         `bson:"content" json:"content"`
	Metadata       map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"` // research_pending / citations ...
	SessionID      string         `bson:"session_id,omitempty" json:"-"`
	UserID         string         `bson:"user_id,omitempty" json:"user_id,omitempty"`
	CreateTime     time.Time      `bson:"create_time" json:"create_time"`
}

func (m *ChatMessage) GetTableName() string {
	return "chat_message"
}

func (m *ChatMessage) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "create_time", Value: -1}}},
		{Keys: bson.D{{Key: "turn_id", Value: 1}}},
	}
}

func (m *ChatMessage) Turn() Turn {
	return Turn{Role: m.Role, Content: m.Content, TurnID: m.TurnID}
}
