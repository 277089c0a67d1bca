package store

import (
	"context"
	"errors"
	"time"

	"ResearchChat/data/database"
	"ResearchChat/module/user/model"
	"ResearchChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type DBProvider = database.DBProvider

type MongoUserRepo struct {
	db DBProvider
}

func NewMongoUserRepo(db DBProvider) *MongoUserRepo {
	return &MongoUserRepo{db: db}
}

func (r *MongoUserRepo) coll() (*mongo.Collection, error) {
	db, ok := r.db()
	if !ok {
		return nil, errs.ErrPersistence.WrapMsg("mongo not ready")
	}
	return db.Collection((&model.User{}).GetTableName()), nil
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	coll, err := r.coll()
	if err != nil {
		return nil, err
	}
	var u model.User
	if err := coll.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrRecordNotFound.WrapMsg("user")
		}
		return nil, errs.WrapMsg(err, "find user")
	}
	return &u, nil
}

func (r *MongoUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"email": NormalizeEmail(email)})
}

func (r *MongoUserRepo) FindByID(ctx context.Context, userID string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"user_id": userID})
}

// Upsert writes u keyed by user_id; used to seed configured users.
func (r *MongoUserRepo) Upsert(ctx context.Context, u *model.User) error {
	coll, err := r.coll()
	if err != nil {
		return err
	}
	now := time.Now()
	u.Email = NormalizeEmail(u.Email)
	u.UpdateTime = now
	if u.CreateTime.IsZero() {
		u.CreateTime = now
	}
	_, err = coll.ReplaceOne(ctx, bson.M{"user_id": u.UserID}, u, options.Replace().SetUpsert(true))
	if err != nil {
		return errs.WrapMsg(err, "upsert user", "user_id", u.UserID)
	}
	return nil
}

type MongoSessionArchiver struct {
	db DBProvider
}

func NewMongoSessionArchiver(db DBProvider) *MongoSessionArchiver {
	return &MongoSessionArchiver{db: db}
}

func (a *MongoSessionArchiver) Archive(ctx context.Context, log *model.UserSessionLog) error {
	db, ok := a.db()
	if !ok {
		return errs.ErrPersistence.WrapMsg("mongo not ready")
	}
	if _, err := db.Collection(log.GetTableName()).InsertOne(ctx, log); err != nil {
		return errs.WrapMsg(err, "archive session", "session_id", log.SessionID)
	}
	return nil
}
