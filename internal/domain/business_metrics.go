package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	UserID     *int64
	ChannelID  *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventUserRegistered фиксирует первое обращение оператора.
	BusinessMetricEventUserRegistered = "user_registered"
	// BusinessMetricEventChannelRegistered фиксирует регистрацию или реактивацию канала.
	BusinessMetricEventChannelRegistered = "channel_registered"
	// BusinessMetricEventOperationCommitted фиксирует сохранение операции.
	BusinessMetricEventOperationCommitted = "operation_committed"
	// BusinessMetricEventOperationDuplicate фиксирует попытку повторной записи.
	BusinessMetricEventOperationDuplicate = "operation_duplicate"
	// BusinessMetricEventCollectCompleted фиксирует завершение сбора статистики.
	BusinessMetricEventCollectCompleted = "collect_completed"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
