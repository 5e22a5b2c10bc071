package store

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisStore_Contract(t *testing.T) {
	url := os.Getenv("LARDER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LARDER_TEST_REDIS_URL not set")
	}
	runStoreContract(t, func(t *testing.T) Store {
		opts, err := redis.ParseURL(url)
		require.NoError(t, err)
		client := redis.NewClient(opts)
		require.NoError(t, client.Ping(context.Background()).Err())
		s := NewRedisStore(client, "larder-test:"+uuid.NewString()+":", 0, zaptest.NewLogger(t))
		t.Cleanup(func() { s.Close() })
		return s
	})
}
