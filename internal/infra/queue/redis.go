package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/metrics"
)

// RedisCollectQueue реализует очередь задач сбора на списках Redis.
// Полученная задача лежит в списке обработки, пока её не подтвердят.
type RedisCollectQueue struct {
	client     *redis.Client
	key        string
	processing string
	wait       time.Duration
}

var _ domain.CollectQueue = (*RedisCollectQueue)(nil)

// NewRedisCollectQueue создаёт очередь по указанному ключу.
func NewRedisCollectQueue(client *redis.Client, key string) *RedisCollectQueue {
	return &RedisCollectQueue{client: client, key: key, processing: key + ":processing", wait: time.Second}
}

// Enqueue публикует задачу в очередь.
func (q *RedisCollectQueue) Enqueue(ctx context.Context, job domain.CollectJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisCollectQueue) Receive(ctx context.Context) (domain.CollectJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.CollectJob{}, nil, err
		}

		payload, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.wait).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.CollectJob{}, nil, ctx.Err()
				}
				continue
			}
			return domain.CollectJob{}, nil, err
		}

		ack := q.ackFunc(payload)
		var job domain.CollectJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			_ = ack(true)
			return domain.CollectJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, ack, nil
	}
}

func (q *RedisCollectQueue) ackFunc(payload string) domain.AckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		start := time.Now()
		_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, payload)
			if !success {
				pipe.RPush(ctx, q.key, payload)
			}
			return nil
		})
		metrics.ObserveNetworkRequest("redis", "ack", q.key, start, err)
		return err
	}
}
