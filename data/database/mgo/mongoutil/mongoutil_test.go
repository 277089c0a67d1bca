package mongoutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestValidateAndSetDefaults(t *testing.T) {
	c := &Config{Address: []string{"h1:27017", "h2:27017"}, Database: "rc", Username: "u", Password: "p"}
	require.NoError(t, c.ValidateAndSetDefaults())
	assert.Equal(t, defaultMaxPoolSize, c.MaxPoolSize)
	assert.Equal(t, defaultMaxRetry, c.MaxRetry)
	assert.Equal(t, "mongodb://u:p@h1:27017,h2:27017/rc?authSource=rc&maxPoolSize=100", c.Uri)

	c = &Config{Address: []string{"h1"}, Database: "rc", AuthSource: "admin"}
	require.NoError(t, c.ValidateAndSetDefaults())
	assert.Equal(t, "mongodb://h1/rc?authSource=admin&maxPoolSize=100", c.Uri)

	assert.Error(t, (&Config{Database: "rc"}).ValidateAndSetDefaults())
	assert.Error(t, (&Config{Uri: "mongodb://x"}).ValidateAndSetDefaults())
}

func TestShouldRetry(t *testing.T) {
	ctx := context.Background()
	assert.False(t, shouldRetry(ctx, mongo.CommandError{Code: 18}))
	assert.False(t, shouldRetry(ctx, mongo.CommandError{Code: 13}))
	assert.True(t, shouldRetry(ctx, mongo.CommandError{Code: 91}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, shouldRetry(cancelled, mongo.CommandError{Code: 91}))
}
