package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/metrics"
)

const (
	defaultPostsWindow = 72 * time.Hour
	defaultRetries     = 3
)

// ChannelSource отдаёт каналы для сбора.
type ChannelSource interface {
	GetChannel(ctx context.Context, id int64) (domain.Channel, error)
	ListActiveChannels(ctx context.Context) ([]domain.Channel, error)
}

// Summary описывает итог прохода сборщика.
type Summary struct {
	Total     int
	Succeeded int
	Failed    []*domain.CollectorError
}

// Text возвращает короткий отчёт для оператора.
func (s Summary) Text() string {
	if s.Total == 0 {
		return "Активных каналов для сбора нет."
	}
	text := fmt.Sprintf("Сбор статистики завершён: %d из %d каналов.", s.Succeeded, s.Total)
	if len(s.Failed) > 0 {
		text += fmt.Sprintf(" С ошибкой: %d, подробности в списке каналов.", len(s.Failed))
	}
	return text
}

// Service собирает статистику каналов через внешний источник и сохраняет снимки.
// Источник передаётся явно и принадлежит вызывающему.
type Service struct {
	channels    ChannelSource
	store       domain.SnapshotRepo
	source      domain.AnalyticsSource
	events      domain.BusinessMetricRepo
	loc         *time.Location
	postsWindow time.Duration
	newBackOff  func() backoff.BackOff
	now         func() time.Time
	log         zerolog.Logger
}

// NewService создаёт сервис сбора.
func NewService(channels ChannelSource, store domain.SnapshotRepo, source domain.AnalyticsSource, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		channels:    channels,
		store:       store,
		source:      source,
		loc:         loc,
		postsWindow: defaultPostsWindow,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxElapsedTime = time.Minute
			return backoff.WithMaxRetries(b, defaultRetries)
		},
		now: time.Now,
		log: log,
	}
}

// WithEvents включает запись бизнес-событий.
func (s *Service) WithEvents(events domain.BusinessMetricRepo) *Service {
	s.events = events
	return s
}

// WithPostsWindow задаёт глубину выборки постов.
func (s *Service) WithPostsWindow(window time.Duration) *Service {
	if window > 0 {
		s.postsWindow = window
	}
	return s
}

// Run выполняет задачу из очереди: один канал или все активные.
func (s *Service) Run(ctx context.Context, job domain.CollectJob) (Summary, error) {
	if job.ChannelID == 0 {
		return s.CollectAll(ctx)
	}
	ch, err := s.channels.GetChannel(ctx, job.ChannelID)
	if err != nil {
		return Summary{}, fmt.Errorf("получение канала: %w", err)
	}
	return s.CollectChannels(ctx, []domain.Channel{ch}), nil
}

// CollectAll собирает статистику по всем активным каналам.
func (s *Service) CollectAll(ctx context.Context) (Summary, error) {
	channels, err := s.channels.ListActiveChannels(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("выборка каналов: %w", err)
	}
	return s.CollectChannels(ctx, channels), nil
}

// CollectChannels обходит каналы по очереди. Сбой одного канала не прерывает обход.
func (s *Service) CollectChannels(ctx context.Context, channels []domain.Channel) Summary {
	summary := Summary{Total: len(channels)}
	for _, ch := range channels {
		if ctx.Err() != nil {
			summary.Failed = append(summary.Failed, &domain.CollectorError{ChannelID: ch.ID, Err: ctx.Err()})
			continue
		}
		if err := s.CollectChannel(ctx, ch); err != nil {
			var collectorErr *domain.CollectorError
			if !errors.As(err, &collectorErr) {
				collectorErr = &domain.CollectorError{ChannelID: ch.ID, Err: err}
			}
			summary.Failed = append(summary.Failed, collectorErr)
			continue
		}
		summary.Succeeded++
	}
	s.recordSummary(ctx, summary)
	s.log.Info().Int("total", summary.Total).Int("ok", summary.Succeeded).Int("failed", len(summary.Failed)).Msg("collect: проход завершён")
	return summary
}

// CollectChannel снимает подписчиков, посты и график роста одного канала
// и сохраняет их одной транзакцией. Ошибка записывается в поля здоровья канала.
func (s *Service) CollectChannel(ctx context.Context, ch domain.Channel) error {
	log := s.log.With().Int64("channel", ch.ID).Int64("tg_chat_id", ch.TGChatID).Logger()
	collection, err := s.fetch(ctx, ch, log)
	if err == nil {
		err = s.store.SaveChannelCollection(ctx, collection)
		if err != nil {
			err = fmt.Errorf("сохранение снимков: %w", err)
		}
	}
	metrics.ObserveCollectedChannel(err)

	if err != nil {
		log.Error().Err(err).Msg("collect: сбор канала не удался")
		if markErr := s.store.MarkChannelError(ctx, ch.ID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("collect: не удалось сохранить ошибку канала")
		}
		return &domain.CollectorError{ChannelID: ch.ID, Err: err}
	}
	if err := s.store.MarkChannelSuccess(ctx, ch.ID, collection.CollectedAt); err != nil {
		log.Error().Err(err).Msg("collect: не удалось обновить время сбора")
	}
	log.Debug().Int64("subscribers", collection.Subscribers).Int("posts", len(collection.Posts)).Int("growth_points", len(collection.Growth)).Msg("collect: канал собран")
	return nil
}

func (s *Service) fetch(ctx context.Context, ch domain.Channel, log zerolog.Logger) (domain.ChannelCollection, error) {
	now := s.now().UTC()
	local := now.In(s.loc)
	collection := domain.ChannelCollection{
		ChannelID:   ch.ID,
		Date:        time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC),
		CollectedAt: now,
	}

	subscribers, err := retry(ctx, s.newBackOff(), log, "subscribers", func() (int64, error) {
		return s.source.SubscriberCount(ctx, ch)
	})
	if err != nil {
		return domain.ChannelCollection{}, fmt.Errorf("подписчики: %w", err)
	}
	collection.Subscribers = subscribers

	since := now.Add(-s.postsWindow)
	posts, err := retry(ctx, s.newBackOff(), log, "posts", func() ([]domain.PostMetric, error) {
		return s.source.RecentPosts(ctx, ch, since)
	})
	if err != nil {
		return domain.ChannelCollection{}, fmt.Errorf("посты: %w", err)
	}
	collection.Posts = posts

	growth, err := retry(ctx, s.newBackOff(), log, "growth", func() ([]domain.GrowthPoint, error) {
		return s.source.GrowthSeries(ctx, ch)
	})
	switch {
	case errors.Is(err, domain.ErrStatsUnavailable):
		log.Debug().Msg("collect: статистика роста недоступна")
	case err != nil:
		return domain.ChannelCollection{}, fmt.Errorf("график роста: %w", err)
	default:
		collection.Growth = growth
	}
	return collection, nil
}

func retry[T any](ctx context.Context, b backoff.BackOff, log zerolog.Logger, what string, fn func() (T, error)) (T, error) {
	op := func() (T, error) {
		v, err := fn()
		if errors.Is(err, domain.ErrStatsUnavailable) || errors.Is(err, context.Canceled) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("request", what).Dur("retry_in", wait).Msg("collect: повтор запроса")
	}
	return backoff.RetryNotifyWithData(op, backoff.WithContext(b, ctx), notify)
}

func (s *Service) recordSummary(ctx context.Context, summary Summary) {
	if s.events == nil {
		return
	}
	failed := make([]int64, 0, len(summary.Failed))
	for _, f := range summary.Failed {
		failed = append(failed, f.ChannelID)
	}
	metric := domain.BusinessMetric{
		Event: domain.BusinessMetricEventCollectCompleted,
		Metadata: map[string]any{
			"total":           summary.Total,
			"succeeded":       summary.Succeeded,
			"failed_channels": failed,
		},
	}
	if err := s.events.RecordBusinessMetric(ctx, metric); err != nil {
		s.log.Error().Err(err).Msg("collect: не удалось сохранить бизнес-метрику")
	}
}
