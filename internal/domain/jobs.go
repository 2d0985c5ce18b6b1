package domain

import (
	"context"
	"time"
)

// CollectJobCause описывает источник запроса на сбор статистики.
type CollectJobCause string

const (
	// CollectCauseManual — оператор запросил сбор командой.
	CollectCauseManual CollectJobCause = "manual"
	// CollectCauseScheduled — ежедневный сбор по расписанию.
	CollectCauseScheduled CollectJobCause = "scheduled"
	// CollectCauseRegistration — первичный сбор после регистрации канала.
	CollectCauseRegistration CollectJobCause = "registration"
)

// CollectJob содержит задачу на сбор статистики. ChannelID == 0 означает все активные каналы.
type CollectJob struct {
	ID          string          `json:"job_id,omitempty"`
	ChatID      int64           `json:"chat_id,omitempty"`
	ChannelID   int64           `json:"channel_id,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
	Cause       CollectJobCause `json:"cause"`
}

// CollectQueue описывает очередь задач сбора.
type CollectQueue interface {
	Enqueue(ctx context.Context, job CollectJob) error
	Receive(ctx context.Context) (CollectJob, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error

// CollectJobStatusRepo отслеживает обработку задач сбора.
type CollectJobStatusRepo interface {
	// EnsureCollectJob регистрирует попытку и возвращает признак завершённости и номер попытки.
	EnsureCollectJob(ctx context.Context, jobID string) (done bool, attempt int, err error)
	// MarkCollectJobDone помечает задачу завершённой.
	MarkCollectJobDone(ctx context.Context, jobID string) error
}
