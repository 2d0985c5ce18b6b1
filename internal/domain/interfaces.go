package domain

import (
	"context"
	"time"
)

// UserRepo управляет операторами.
type UserRepo interface {
	UpsertUser(ctx context.Context, profile TelegramProfile) (User, bool, error)
	GetUserByTGID(ctx context.Context, tgUserID int64) (User, error)
	SetNotifyDailyStats(ctx context.Context, userID int64, enabled bool) error
	ListNotifiableUsers(ctx context.Context) ([]User, error)
}

// ChannelRepo управляет каналами.
type ChannelRepo interface {
	RegisterChannel(ctx context.Context, reg ChannelRegistration) (Channel, bool, error)
	GetChannel(ctx context.Context, id int64) (Channel, error)
	ListChannels(ctx context.Context, limit int) ([]Channel, error)
	ListActiveChannels(ctx context.Context) ([]Channel, error)
	SetChannelActive(ctx context.Context, id int64, active bool) error
	DeactivateChannel(ctx context.Context, id int64, reason string) error
	DeactivateLegacyChannels(ctx context.Context) (int64, error)
}

// CategoryRepo читает справочник статей.
type CategoryRepo interface {
	ListCategories(ctx context.Context) ([]Category, error)
	SeedCategories(ctx context.Context, seed []Category) error
}

// LedgerRepo сохраняет операции. CreateOperation пишет операцию и её каналы одной транзакцией
// и возвращает ErrDuplicateFingerprint при нарушении уникальности отпечатка.
type LedgerRepo interface {
	CreateOperation(ctx context.Context, op Operation) (Operation, error)
	GetOperationByFingerprint(ctx context.Context, fingerprint string) (Operation, error)
	ListOperations(ctx context.Context, filter OperationFilter) ([]Operation, error)
}

// SnapshotRepo сохраняет результаты сбора и поля здоровья каналов.
type SnapshotRepo interface {
	SaveChannelCollection(ctx context.Context, c ChannelCollection) error
	MarkChannelSuccess(ctx context.Context, channelID int64, at time.Time) error
	MarkChannelError(ctx context.Context, channelID int64, message string) error
}

// ReportRepo отдаёт срезы для построения отчётов. Даты задают полуинтервал [from, to).
type ReportRepo interface {
	ListOperations(ctx context.Context, filter OperationFilter) ([]Operation, error)
	ListDailySnapshots(ctx context.Context, channelIDs []int64, from, to time.Time) ([]ChannelDailySnapshot, error)
	ListPostSnapshots(ctx context.Context, channelIDs []int64, from, to time.Time) ([]PostSnapshot, error)
	ListDailyChurn(ctx context.Context, channelIDs []int64, from, to time.Time) ([]ChannelDailyChurn, error)
}

// AnalyticsSource поставляет метрики канала из внешнего протокольного клиента.
type AnalyticsSource interface {
	SubscriberCount(ctx context.Context, ch Channel) (int64, error)
	RecentPosts(ctx context.Context, ch Channel, since time.Time) ([]PostMetric, error)
	GrowthSeries(ctx context.Context, ch Channel) ([]GrowthPoint, error)
}

// ConversationStore хранит сериализованное состояние диалога оператора.
// Load возвращает ErrNotFound, если состояния нет.
type ConversationStore interface {
	Load(ctx context.Context, userID int64) ([]byte, error)
	Save(ctx context.Context, userID int64, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, userID int64) error
}

// Cache используется для простых TTL-хранилищ.
// Once выполняет fn, только если ключ не занят, иначе возвращает ErrThrottled.
// При ошибке fn ключ освобождается.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}
