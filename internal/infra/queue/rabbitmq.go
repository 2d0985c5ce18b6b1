package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/metrics"
)

// RabbitCollectQueue реализует очередь задач сбора через AMQP.
type RabbitCollectQueue struct {
	conn  *amqp.Connection
	queue string

	pubMu sync.Mutex
	pub   *amqp.Channel

	consumeOnce sync.Once
	consumeErr  error
	deliveries  <-chan amqp.Delivery
}

var _ domain.CollectQueue = (*RabbitCollectQueue)(nil)

// NewRabbitCollectQueue подключается к брокеру и объявляет устойчивую очередь.
func NewRabbitCollectQueue(amqpURL, queue string) (*RabbitCollectQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := pub.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitCollectQueue{conn: conn, queue: queue, pub: pub}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitCollectQueue) Enqueue(ctx context.Context, job domain.CollectJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	start := time.Now()
	err = q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive ждёт следующую задачу. Неподтверждённая задача возвращается брокером в очередь.
func (q *RabbitCollectQueue) Receive(ctx context.Context) (domain.CollectJob, domain.AckFunc, error) {
	q.consumeOnce.Do(q.startConsumer)
	if q.consumeErr != nil {
		return domain.CollectJob{}, nil, q.consumeErr
	}

	select {
	case <-ctx.Done():
		return domain.CollectJob{}, nil, ctx.Err()
	case d, ok := <-q.deliveries:
		if !ok {
			return domain.CollectJob{}, nil, errors.New("amqp: канал доставки закрыт")
		}

		var job domain.CollectJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			_ = d.Reject(false)
			return domain.CollectJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return job, ack, nil
	}
}

func (q *RabbitCollectQueue) startConsumer() {
	ch, err := q.conn.Channel()
	if err != nil {
		q.consumeErr = fmt.Errorf("open consumer channel: %w", err)
		return
	}
	if err := ch.Qos(1, 0, false); err != nil {
		q.consumeErr = fmt.Errorf("set qos: %w", err)
		return
	}
	deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		q.consumeErr = fmt.Errorf("consume: %w", err)
		return
	}
	q.deliveries = deliveries
}

// Close закрывает соединение с брокером.
func (q *RabbitCollectQueue) Close() error {
	return q.conn.Close()
}
