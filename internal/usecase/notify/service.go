package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/usecase/report"
)

// Sender доставляет текст оператору в личный чат.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// ReportBuilder строит отчёт за окно.
type ReportBuilder interface {
	Build(ctx context.Context, req report.Request) (report.Report, error)
}

// Service отвечает за подписку на ежедневную статистику и её рассылку.
type Service struct {
	users   domain.UserRepo
	reports ReportBuilder
	sender  Sender
	loc     *time.Location
	now     func() time.Time
	log     zerolog.Logger
}

// NewService создаёт сервис.
func NewService(users domain.UserRepo, reports ReportBuilder, sender Sender, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{users: users, reports: reports, sender: sender, loc: loc, now: time.Now, log: log}
}

// SetDaily включает или выключает ежедневную статистику оператора.
func (s *Service) SetDaily(ctx context.Context, tgUserID int64, enabled bool) error {
	user, err := s.users.GetUserByTGID(ctx, tgUserID)
	if err != nil {
		return fmt.Errorf("получение пользователя: %w", err)
	}
	if err := s.users.SetNotifyDailyStats(ctx, user.ID, enabled); err != nil {
		return fmt.Errorf("обновление подписки: %w", err)
	}
	return nil
}

// SendDaily рассылает отчёт за вчерашний день подписанным операторам.
// Возвращает число доставленных сообщений; сбой доставки одному не прерывает рассылку.
func (s *Service) SendDaily(ctx context.Context) (int, error) {
	users, err := s.users.ListNotifiableUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("выборка подписчиков: %w", err)
	}
	if len(users) == 0 {
		return 0, nil
	}

	window, err := report.NewWindow(report.PeriodDay, s.now(), s.loc, -1)
	if err != nil {
		return 0, err
	}
	rep, err := s.reports.Build(ctx, report.Request{Window: window})
	if err != nil {
		return 0, fmt.Errorf("построение отчёта: %w", err)
	}
	text := report.FormatReport(rep)

	var (
		sent int
		errs []error
	)
	for _, user := range users {
		if err := s.sender.SendText(ctx, user.TGUserID, text); err != nil {
			s.log.Error().Err(err).Int64("user", user.TGUserID).Msg("notify: не удалось отправить статистику")
			errs = append(errs, err)
			continue
		}
		sent++
	}
	s.log.Info().Int("sent", sent).Int("failed", len(errs)).Str("window", window.Label()).Msg("notify: ежедневная статистика разослана")
	if sent == 0 && len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return sent, nil
}
