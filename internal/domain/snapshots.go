package domain

import "time"

// ChannelDailySnapshot хранит число подписчиков канала на календарную дату.
type ChannelDailySnapshot struct {
	ChannelID   int64
	Date        time.Time
	Subscribers int64
	CollectedAt time.Time
}

// PostSnapshot хранит метрики поста, снятые в указанную дату.
type PostSnapshot struct {
	ChannelID   int64
	MessageID   int64
	Date        time.Time
	PostedAt    time.Time
	Views       int64
	Forwards    int64
	Reactions   int64
	CollectedAt time.Time
}

// SubscribersSample описывает отдельный замер подписчиков.
type SubscribersSample struct {
	ChannelID   int64
	CollectedAt time.Time
	Subscribers int64
}

// ChannelDailyChurn хранит вступления и выходы за дату.
type ChannelDailyChurn struct {
	ChannelID   int64
	Date        time.Time
	Joins       int64
	Leaves      int64
	CollectedAt time.Time
}

// PostMetric содержит метрики поста от источника аналитики.
type PostMetric struct {
	MessageID int64
	PostedAt  time.Time
	Views     int64
	Forwards  int64
	Reactions int64
}

// GrowthPoint описывает точку графика вступлений и выходов за день.
type GrowthPoint struct {
	Date   time.Time
	Joins  int64
	Leaves int64
}

// ChannelCollection содержит результат сбора по одному каналу и сохраняется атомарно.
type ChannelCollection struct {
	ChannelID   int64
	Date        time.Time
	CollectedAt time.Time
	Subscribers int64
	Posts       []PostMetric
	Growth      []GrowthPoint
}
