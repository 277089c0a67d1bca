package model

import "time"

// ClientMetadata is captured at login.
type ClientMetadata struct {
	UserAgent string `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
	IP        string `bson:"ip,omitempty" json:"ip,omitempty"`
}

type UserSession struct {
	SessionID string `bson:"session_id" json:"session_id"` // 会话ID（UUID）
	UserID    string `bson:"user_id" json:"user_id"`

	// 只落 hash，不落原始 token
	AccessTokenHash string `bson:"access_token_hash" json:"-"`

	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	LastActivity time.Time `bson:"last_activity" json:"last_activity"`
	ExpireAt     time.Time `bson:"expire_at" json:"expire_at"`

	Client ClientMetadata `bson:"client" json:"client"`
}

func (s *UserSession) Expired(now time.Time) bool {
	return !s.ExpireAt.IsZero() && !now.Before(s.ExpireAt)
}

// SessionInfo is the view of an existing session shown before a forced login.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	UserAgent    string    `json:"user_agent,omitempty"`
	IP           string    `json:"ip,omitempty"`
}

func (s *UserSession) Info() SessionInfo {
	return SessionInfo{
		SessionID:    s.SessionID,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		UserAgent:    s.Client.UserAgent,
		IP:           s.Client.IP,
	}
}
