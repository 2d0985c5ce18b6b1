package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/metrics"
)

// RedisCache реализует domain.Cache через Redis.
type RedisCache struct {
	client *redis.Client
}

var _ domain.Cache = (*RedisCache)(nil)

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Once выполняет функцию, если ключ ещё не задан.
func (c *RedisCache) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	start := time.Now()
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "once", start, err)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrThrottled
	}
	if err := fn(); err != nil {
		_ = c.client.Del(ctx, key).Err()
		return err
	}
	return nil
}

// RedisConversationStore хранит состояние диалогов операторов в Redis.
type RedisConversationStore struct {
	client *redis.Client
	prefix string
}

var _ domain.ConversationStore = (*RedisConversationStore)(nil)

// NewRedisConversationStore создаёт хранилище диалогов с префиксом ключей.
func NewRedisConversationStore(client *redis.Client, prefix string) *RedisConversationStore {
	if prefix == "" {
		prefix = "finance:conversation"
	}
	return &RedisConversationStore{client: client, prefix: prefix}
}

// Load возвращает domain.ErrNotFound, если диалога нет или он истёк.
func (s *RedisConversationStore) Load(ctx context.Context, userID int64) ([]byte, error) {
	start := time.Now()
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", "conversation", start, nil)
		return nil, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("redis", "get", "conversation", start, err)
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Save сохраняет состояние с временем жизни.
func (s *RedisConversationStore) Save(ctx context.Context, userID int64, data []byte, ttl time.Duration) error {
	start := time.Now()
	err := s.client.Set(ctx, s.key(userID), data, ttl).Err()
	metrics.ObserveNetworkRequest("redis", "set", "conversation", start, err)
	return err
}

// Delete удаляет состояние. Отсутствие ключа ошибкой не считается.
func (s *RedisConversationStore) Delete(ctx context.Context, userID int64) error {
	start := time.Now()
	err := s.client.Del(ctx, s.key(userID)).Err()
	metrics.ObserveNetworkRequest("redis", "del", "conversation", start, err)
	return err
}

func (s *RedisConversationStore) key(userID int64) string {
	return s.prefix + ":" + strconv.FormatInt(userID, 10)
}
