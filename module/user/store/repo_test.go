package store

import (
	"context"
	"testing"

	"ResearchChat/module/user/model"
	"ResearchChat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestMemoryUserRepo(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryUserRepo(&model.User{UserID: "u1", Email: " Alice@Example.com "})

	u, err := r.FindByEmail(ctx, "alice@example.COM")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.UserID)

	u.Nickname = "mutated"
	again, err := r.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, again.Nickname)

	_, err = r.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, errs.ErrRecordNotFound)
	_, err = r.FindByID(ctx, "nope")
	assert.ErrorIs(t, err, errs.ErrRecordNotFound)
}

func TestMemoryArchiver(t *testing.T) {
	a := &MemoryArchiver{}
	require.NoError(t, a.Archive(context.Background(), &model.UserSessionLog{LogID: "l1", Reason: model.ReasonLogout}))
	logs := a.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, model.ReasonLogout, logs[0].Reason)
}

func TestMongoStores_NotReady(t *testing.T) {
	notReady := func() (*mongo.Database, bool) { return nil, false }
	_, err := NewMongoUserRepo(notReady).FindByEmail(context.Background(), "a@b.c")
	assert.ErrorIs(t, err, errs.ErrPersistence)

	err = NewMongoSessionArchiver(notReady).Archive(context.Background(), &model.UserSessionLog{})
	assert.ErrorIs(t, err, errs.ErrPersistence)
}
