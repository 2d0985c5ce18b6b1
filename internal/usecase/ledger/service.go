package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/metrics"
)

const defaultConversationTTL = 24 * time.Hour

// Outcome описывает результат обработки действия оператора.
type Outcome struct {
	Step      Step
	Draft     Draft
	Effect    Effect
	Catalog   Catalog
	Committed *domain.Operation
	Duplicate *domain.Operation
}

// CatalogSource отдаёт справочники для сценария.
type CatalogSource interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListActiveChannels(ctx context.Context) ([]domain.Channel, error)
}

type session struct {
	Step  Step  `json:"step"`
	Draft Draft `json:"draft"`
}

// Service ведёт сценарий ввода операции и записывает подтверждённые операции в реестр.
type Service struct {
	store    domain.ConversationStore
	ledger   domain.LedgerRepo
	catalog  CatalogSource
	events   domain.BusinessMetricRepo
	groups   domain.CategoryGroups
	currency string
	ttl      time.Duration
	now      func() time.Time
	log      zerolog.Logger
	// Мьютексы по операторам не удаляются: их число ограничено белым списком.
	locks    sync.Map
}

// NewService создаёт сервис ввода операций.
func NewService(store domain.ConversationStore, ledger domain.LedgerRepo, catalog CatalogSource, groups domain.CategoryGroups, currency string, log zerolog.Logger) *Service {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &Service{
		store:    store,
		ledger:   ledger,
		catalog:  catalog,
		groups:   groups,
		currency: currency,
		ttl:      defaultConversationTTL,
		now:      time.Now,
		log:      log,
	}
}

// WithEvents включает запись бизнес-событий.
func (s *Service) WithEvents(events domain.BusinessMetricRepo) *Service {
	s.events = events
	return s
}

// WithTTL задаёт время жизни незавершённого диалога.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithClock подменяет источник времени.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Currency возвращает валюту записей.
func (s *Service) Currency() string {
	return s.currency
}

// Handle применяет действие оператора к его диалогу.
// Транзакции открываются только внутри вызовов хранилища и не живут между сообщениями.
func (s *Service) Handle(ctx context.Context, user domain.User, in Input) (Outcome, error) {
	unlock := s.lock(user.TGUserID)
	defer unlock()

	current, err := s.load(ctx, user.TGUserID)
	if err != nil {
		return Outcome{}, err
	}
	if current.Step == StepIdle && in.Kind != InputStart && in.Kind != InputCancel {
		return Outcome{Step: StepIdle, Effect: Effect{Kind: EffectNone}}, nil
	}

	catalog, err := s.Catalog(ctx)
	if err != nil {
		return Outcome{}, err
	}

	step, draft, effect := Transition(current.Step, current.Draft, in, catalog)
	out := Outcome{Step: step, Draft: draft, Effect: effect, Catalog: catalog}

	switch effect.Kind {
	case EffectCommit:
		defer s.clear(ctx, user.TGUserID)
		op, err := s.Commit(ctx, user, effect.Draft)
		var dup *domain.DuplicateOperationError
		switch {
		case errors.As(err, &dup):
			existing := dup.Existing
			out.Duplicate = &existing
			return out, nil
		case err != nil:
			return out, err
		}
		out.Committed = &op
		return out, nil
	case EffectCancelled, EffectNone:
		s.clear(ctx, user.TGUserID)
		return out, nil
	case EffectReprompt:
		return out, nil
	}

	if err := s.save(ctx, user.TGUserID, session{Step: step, Draft: draft}); err != nil {
		return out, err
	}
	return out, nil
}

// Current возвращает сохранённый шаг и черновик оператора.
func (s *Service) Current(ctx context.Context, tgUserID int64) (Step, Draft, error) {
	current, err := s.load(ctx, tgUserID)
	if err != nil {
		return StepIdle, Draft{}, err
	}
	return current.Step, current.Draft, nil
}

// Catalog загружает справочники для проверки ввода.
func (s *Service) Catalog(ctx context.Context) (Catalog, error) {
	categories, err := s.catalog.ListCategories(ctx)
	if err != nil {
		return Catalog{}, &domain.StorageError{Op: "list_categories", Err: err}
	}
	channels, err := s.catalog.ListActiveChannels(ctx)
	if err != nil {
		return Catalog{}, &domain.StorageError{Op: "list_channels", Err: err}
	}
	return Catalog{Categories: categories, Channels: channels, Groups: s.groups}, nil
}

// Commit записывает черновик в реестр. Отпечаток считается по моменту подтверждения.
// Если такая операция уже есть, возвращается *domain.DuplicateOperationError с существующей записью.
func (s *Service) Commit(ctx context.Context, user domain.User, d Draft) (domain.Operation, error) {
	if err := d.validate(); err != nil {
		return domain.Operation{}, err
	}
	target, err := d.Target()
	if err != nil {
		return domain.Operation{}, err
	}
	confirmedAt := s.now().UTC()
	fingerprint := Fingerprint(FingerprintInput{
		UserTGID:     user.TGUserID,
		Type:         d.Type,
		CategoryCode: d.CategoryCode,
		AmountMinor:  d.AmountMinor,
		ChannelIDs:   target.ChannelIDs(),
		General:      target.IsGeneral(),
		ConfirmedAt:  confirmedAt,
	})
	op := domain.Operation{
		CreatedAt:       confirmedAt,
		Type:            d.Type,
		CategoryID:      d.CategoryID,
		CategoryCode:    d.CategoryCode,
		CategoryName:    d.CategoryName,
		AmountMinor:     d.AmountMinor,
		Currency:        s.currency,
		Reason:          d.Reason,
		ReceiptURL:      d.ReceiptURL,
		Comment:         d.Comment,
		CreatedByUserID: user.ID,
		Target:          target,
		Fingerprint:     fingerprint,
	}

	saved, err := s.ledger.CreateOperation(ctx, op)
	if err == nil {
		metrics.IncOperationCommitted(saved.Type.Code())
		s.recordEvent(ctx, domain.BusinessMetricEventOperationCommitted, user, saved)
		return saved, nil
	}
	if !errors.Is(err, domain.ErrDuplicateFingerprint) {
		metrics.IncLedgerStorageError()
		var storageErr *domain.StorageError
		if errors.As(err, &storageErr) {
			return domain.Operation{}, err
		}
		return domain.Operation{}, &domain.StorageError{Op: "create_operation", Err: err}
	}

	existing, lookupErr := s.ledger.GetOperationByFingerprint(ctx, fingerprint)
	if lookupErr != nil {
		metrics.IncLedgerStorageError()
		return domain.Operation{}, &domain.StorageError{Op: "find_duplicate", Err: lookupErr}
	}
	metrics.IncOperationDuplicate()
	s.recordEvent(ctx, domain.BusinessMetricEventOperationDuplicate, user, existing)
	return domain.Operation{}, &domain.DuplicateOperationError{Existing: existing}
}

func (s *Service) recordEvent(ctx context.Context, event string, user domain.User, op domain.Operation) {
	if s.events == nil {
		return
	}
	userID := user.ID
	metric := domain.BusinessMetric{
		Event:  event,
		UserID: &userID,
		Metadata: map[string]any{
			"operation_id": op.ID,
			"type":         op.Type.Code(),
			"category":     op.CategoryCode,
			"amount_minor": op.AmountMinor,
			"general":      op.Target.IsGeneral(),
			"channels":     op.Target.ChannelIDs(),
		},
	}
	if err := s.events.RecordBusinessMetric(ctx, metric); err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("ledger: не удалось сохранить бизнес-метрику")
	}
}

func (s *Service) load(ctx context.Context, tgUserID int64) (session, error) {
	data, err := s.store.Load(ctx, tgUserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return session{Step: StepIdle}, nil
		}
		return session{}, fmt.Errorf("загрузка диалога: %w", err)
	}
	var current session
	if err := json.Unmarshal(data, &current); err != nil {
		s.log.Warn().Err(err).Int64("user", tgUserID).Msg("ledger: повреждённое состояние диалога, сбрасываем")
		s.clear(ctx, tgUserID)
		return session{Step: StepIdle}, nil
	}
	if current.Step == "" {
		current.Step = StepIdle
	}
	return current, nil
}

func (s *Service) save(ctx context.Context, tgUserID int64, current session) error {
	if current.Step == StepIdle {
		s.clear(ctx, tgUserID)
		return nil
	}
	data, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("сериализация диалога: %w", err)
	}
	if err := s.store.Save(ctx, tgUserID, data, s.ttl); err != nil {
		return fmt.Errorf("сохранение диалога: %w", err)
	}
	return nil
}

func (s *Service) clear(ctx context.Context, tgUserID int64) {
	if err := s.store.Delete(ctx, tgUserID); err != nil {
		s.log.Error().Err(err).Int64("user", tgUserID).Msg("ledger: не удалось очистить диалог")
	}
}

func (s *Service) lock(tgUserID int64) func() {
	value, _ := s.locks.LoadOrStore(tgUserID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
