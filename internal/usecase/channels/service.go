package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-finance-bot/internal/domain"
)

// DeletedByUserReason записывается в last_error при удалении канала оператором.
const DeletedByUserReason = "deleted_by_user"

const defaultListLimit = 20

// Service управляет реестром каналов.
type Service struct {
	repo   domain.ChannelRepo
	events domain.BusinessMetricRepo
	queue  domain.CollectQueue
	log    zerolog.Logger
	now    func() time.Time
}

// NewService создаёт новый сервис каналов.
func NewService(repo domain.ChannelRepo, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

// WithEvents включает запись бизнес-событий.
func (s *Service) WithEvents(events domain.BusinessMetricRepo) *Service {
	s.events = events
	return s
}

// WithQueue включает первичный сбор статистики после регистрации.
func (s *Service) WithQueue(queue domain.CollectQueue) *Service {
	s.queue = queue
	return s
}

// Register создаёт канал или реактивирует известный: заполняет пустые название и юзернейм,
// сбрасывает ошибку и включает сбор. Второе значение сообщает, что канал новый.
func (s *Service) Register(ctx context.Context, reg domain.ChannelRegistration, chatID int64) (domain.Channel, bool, error) {
	if reg.TGChatID == 0 {
		return domain.Channel{}, false, &domain.ValidationError{Field: "chat_id", Reason: "не удалось определить канал"}
	}
	channel, created, err := s.repo.RegisterChannel(ctx, reg)
	if err != nil {
		return domain.Channel{}, false, fmt.Errorf("регистрация канала: %w", err)
	}

	s.recordRegistration(ctx, reg, channel, created)

	if s.queue != nil {
		job := domain.CollectJob{
			ID:          uuid.NewString(),
			ChatID:      chatID,
			ChannelID:   channel.ID,
			RequestedAt: s.now().UTC(),
			Cause:       domain.CollectCauseRegistration,
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.log.Error().Err(err).Int64("channel", channel.ID).Msg("channels: не удалось поставить первичный сбор")
		}
	}
	return channel, created, nil
}

// List возвращает последние добавленные каналы.
func (s *Service) List(ctx context.Context, limit int) ([]domain.Channel, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.repo.ListChannels(ctx, limit)
}

// TogglePause ставит сбор канала на паузу или возобновляет его.
func (s *Service) TogglePause(ctx context.Context, channelID int64) (domain.Channel, error) {
	channel, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("получение канала: %w", err)
	}
	if err := s.repo.SetChannelActive(ctx, channelID, !channel.IsActive); err != nil {
		return domain.Channel{}, fmt.Errorf("обновление канала: %w", err)
	}
	channel.IsActive = !channel.IsActive
	return channel, nil
}

// Delete выключает канал. Строка канала и связи с операциями сохраняются.
func (s *Service) Delete(ctx context.Context, channelID int64) error {
	if err := s.repo.DeactivateChannel(ctx, channelID, DeletedByUserReason); err != nil {
		return fmt.Errorf("удаление канала: %w", err)
	}
	return nil
}

// DeactivateLegacy выключает каналы без автора регистрации и возвращает их число.
func (s *Service) DeactivateLegacy(ctx context.Context) (int64, error) {
	n, err := s.repo.DeactivateLegacyChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("отключение устаревших каналов: %w", err)
	}
	if n > 0 {
		s.log.Info().Int64("count", n).Msg("channels: устаревшие каналы отключены")
	}
	return n, nil
}

func (s *Service) recordRegistration(ctx context.Context, reg domain.ChannelRegistration, channel domain.Channel, created bool) {
	if s.events == nil {
		return
	}
	channelID := channel.ID
	var userID *int64
	if reg.AddedBy != 0 {
		added := reg.AddedBy
		userID = &added
	}
	metric := domain.BusinessMetric{
		Event:     domain.BusinessMetricEventChannelRegistered,
		UserID:    userID,
		ChannelID: &channelID,
		Metadata: map[string]any{
			"tg_chat_id": channel.TGChatID,
			"created":    created,
		},
	}
	if err := s.events.RecordBusinessMetric(ctx, metric); err != nil {
		s.log.Error().Err(err).Int64("channel", channel.ID).Msg("channels: не удалось сохранить бизнес-метрику")
	}
}
