package queue

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tg-finance-bot/internal/domain"
)

// Драйверы очереди задач сбора.
const (
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
)

// Options задаёт выбор очереди.
type Options struct {
	Driver    string
	Key       string
	Redis     *redis.Client
	RabbitURL string
}

// Open создаёт очередь выбранного драйвера. Возвращаемая функция освобождает соединение.
func Open(opts Options) (domain.CollectQueue, func() error, error) {
	switch opts.Driver {
	case "", DriverRedis:
		if opts.Redis == nil {
			return nil, nil, errors.New("очередь redis: не задан клиент Redis")
		}
		return NewRedisCollectQueue(opts.Redis, opts.Key), func() error { return nil }, nil
	case DriverRabbitMQ:
		q, err := NewRabbitCollectQueue(opts.RabbitURL, opts.Key)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	}
	return nil, nil, fmt.Errorf("неизвестный драйвер очереди %q", opts.Driver)
}
