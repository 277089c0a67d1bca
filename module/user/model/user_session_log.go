package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// 会话归档原因
const (
	ReasonNewLogin  = "new_login"
	ReasonLogout    = "logout"
	ReasonLogoutAll = "logout_all"
	ReasonExpired   = "expired"
)

type UserSessionLog struct {
	LogID       string    `bson:"session_log_id" json:"session_log_id"`
	UserSession `bson:",inline"`
	Reason      string    `bson:"reason" json:"reason"`
	ArchivedAt  time.Time `bson:"archived_at" json:"archived_at"`
}

func (log *UserSessionLog) GetTableName() string {
	return "user_session_log"
}

func (log *UserSessionLog) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "archived_at", Value: -1}}},
		{Keys: bson.D{{Key: "archived_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(90 * 24 * 3600)},
	}
}
