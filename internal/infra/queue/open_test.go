package queue

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRedisRequiresClient(t *testing.T) {
	_, _, err := Open(Options{Driver: DriverRedis, Key: "collect"})
	require.Error(t, err)
}

func TestOpenDefaultsToRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	q, closeFn, err := Open(Options{Key: "collect", Redis: client})
	require.NoError(t, err)
	assert.IsType(t, &RedisCollectQueue{}, q)
	assert.NoError(t, closeFn())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, _, err := Open(Options{Driver: "kafka"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka")
}
