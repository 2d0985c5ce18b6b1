package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-finance-bot/internal/domain"
)

func TestRedisCollectQueueRedelivery(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR не задан")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := "test:collect:" + time.Now().Format("150405.000")
	t.Cleanup(func() { client.Del(context.Background(), key, key+":processing") })
	q := NewRedisCollectQueue(client, key)

	job := domain.CollectJob{ID: "job-1", ChatID: 100, Cause: domain.CollectCauseManual, RequestedAt: time.Now().UTC()}
	require.NoError(t, q.Enqueue(ctx, job))

	got, ack, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
	require.NoError(t, ack(false))

	again, ack, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", again.ID)
	require.NoError(t, ack(true))

	n, err := client.LLen(ctx, key+":processing").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
