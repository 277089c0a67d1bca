package message

import (
	"context"
	"time"

	"ResearchChat/data/database"
	chatmodel "ResearchChat/module/chat/model"
	"ResearchChat/tools/errs"
	"ResearchChat/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoHistory struct {
	db database.DBProvider
}

func NewMongoHistory(db database.DBProvider) *MongoHistory {
	return &MongoHistory{db: db}
}

func (h *MongoHistory) coll() (*mongo.Collection, error) {
	db, ok := h.db()
	if !ok {
		return nil, errs.ErrPersistence.WrapMsg("mongo not ready")
	}
	return db.Collection((&chatmodel.ChatMessage{}).GetTableName()), nil
}

func (h *MongoHistory) RecordUserTurn(ctx context.Context, turnID, content string, o Owner) (*chatmodel.ChatMessage, error) {
	return h.insert(ctx, turnID, chatmodel.RoleUser, content, nil, o)
}

func (h *MongoHistory) RecordBotTurn(ctx context.Context, turnID, content string, metadata map[string]any, o Owner) (*chatmodel.ChatMessage, error) {
	return h.insert(ctx, turnID, chatmodel.RoleAssistant, content, metadata, o)
}

func (h *MongoHistory) insert(ctx context.Context, turnID, role, content string, metadata map[string]any, o Owner) (*chatmodel.ChatMessage, error) {
	m, err := newMessage(turnID, role, content, metadata, o, time.Now())
	if err != nil {
		return nil, err
	}
	coll, err := h.coll()
	if err != nil {
		return nil, err
	}
	if _, err := coll.InsertOne(ctx, m); err != nil {
		return nil, errs.ErrPersistence.WrapMsg("insert chat message", "turn_id", turnID, "err", err)
	}
	return m, nil
}

func (h *MongoHistory) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*chatmodel.ChatMessage, error) {
	coll, err := h.coll()
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "create_time", Value: -1}, {Key: "message_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := coll.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, errs.ErrPersistence.WrapMsg("find chat messages", "conversation_id", conversationID, "err", err)
	}
	defer cur.Close(ctx)

	var out []*chatmodel.ChatMessage
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.ErrPersistence.WrapMsg("decode chat messages", "err", err)
	}
	oldestFirst(out)
	return out, nil
}

type MongoCallLog struct {
	db database.DBProvider
}

func NewMongoCallLog(db database.DBProvider) *MongoCallLog {
	return &MongoCallLog{db: db}
}

func (l *MongoCallLog) RecordCall(ctx context.Context, log *chatmodel.APICallLog) error {
	db, ok := l.db()
	if !ok {
		return errs.ErrPersistence.WrapMsg("mongo not ready")
	}
	if log.LogID == "" {
		log.LogID = ids.GenerateString()
	}
	if _, err := db.Collection(log.GetTableName()).InsertOne(ctx, log); err != nil {
		return errs.ErrPersistence.WrapMsg("insert api call log", "kind", log.Kind, "err", err)
	}
	return nil
}
