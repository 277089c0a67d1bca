package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Kind
const (
	CallScope    = "scope"
	CallResearch = "research"
)

// APICallLog LLM 调用审计
type APICallLog struct {
	LogID     string    `bson:"log_id" json:"log_id"`
	Kind      string    `bson:"kind" json:"kind"`
	Model     string    `bson:"model" json:"model"`
	LatencyMS int64     `bson:"latency_ms" json:"latency_ms"`
	Success   bool      `bson:"success" json:"success"`
	Error     string    `bson:"error,omitempty" json:"error,omitempty"`
	Attempts  int       `bson:"attempts" json:"attempts"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

func (l *APICallLog) GetTableName() string {
	return "api_call_log"
}

func (l *APICallLog) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(int32((30 * 24 * time.Hour).Seconds()))},
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "created_at", Value: -1}}},
	}
}
