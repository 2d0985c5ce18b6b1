package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/cache"
	"tg-finance-bot/internal/usecase/ledger"
)

// memLedger повторяет уникальный индекс по отпечатку.
type memLedger struct {
	mu  sync.Mutex
	ops []domain.Operation
}

func (m *memLedger) CreateOperation(_ context.Context, op domain.Operation) (domain.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.ops {
		if existing.Fingerprint == op.Fingerprint {
			return domain.Operation{}, domain.ErrDuplicateFingerprint
		}
	}
	op.ID = int64(len(m.ops) + 1)
	m.ops = append(m.ops, op)
	return op, nil
}

func (m *memLedger) GetOperationByFingerprint(_ context.Context, fingerprint string) (domain.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.ops {
		if op.Fingerprint == fingerprint {
			return op, nil
		}
	}
	return domain.Operation{}, domain.ErrNotFound
}

func (m *memLedger) ListOperations(context.Context, domain.OperationFilter) ([]domain.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Operation(nil), m.ops...), nil
}

type staticCatalog struct{}

func (staticCatalog) ListCategories(context.Context) ([]domain.Category, error) {
	return []domain.Category{
		{ID: 1, Code: "ad_revenue", Name: "Выручка с прямой рекламы", IsActive: true},
		{ID: 5, Code: domain.CategoryAdPurchase, Name: "Закупка рекламы", IsActive: true},
	}, nil
}

func (staticCatalog) ListActiveChannels(context.Context) ([]domain.Channel, error) {
	return []domain.Channel{{ID: 10, TGChatID: -10010, Title: "A", IsActive: true}}, nil
}

var moscow = time.FixedZone("MSK", 3*60*60)

func newLedgerHandler(api *fakeAPI, store *memLedger) *Handler {
	svc := ledger.NewService(cache.NewMemoryConversations(nil), store, staticCatalog{}, domain.DefaultCategoryGroups(), "RUB", zerolog.Nop()).
		WithClock(func() time.Time { return time.Date(2024, 3, 14, 7, 11, 0, 0, time.UTC) })
	return NewHandler(api, Deps{
		Users:     &fakeUsers{},
		Ledger:    svc,
		Channels:  &fakeChannels{},
		Reports:   &fakeReports{},
		Notify:    &fakeNotify{},
		Queue:     &fakeQueue{},
		Throttle:  &onceCache{},
		Whitelist: []int64{operatorID},
		Location:  moscow,
	}, zerolog.Nop())
}

func enterAdPurchase(h *Handler) {
	ctx := context.Background()
	for _, upd := range []tgbotapi.Update{
		commandUpdate(operatorID, "/out"),
		callbackUpdate(opData("cat", "5")),
		callbackUpdate(opData("ch", "10")),
		callbackUpdate(opData("done")),
		textUpdate("500"),
		callbackUpdate(opData("skip")),
		callbackUpdate(opData("skip")),
		callbackUpdate(opData("confirm")),
	} {
		h.HandleUpdate(ctx, upd)
	}
}

func TestHandlerRepeatedConfirmKeepsCommittedText(t *testing.T) {
	api := &fakeAPI{}
	store := &memLedger{}
	h := newLedgerHandler(api, store)

	enterAdPurchase(h)
	committed := api.last()
	require.Contains(t, committed, "Операция сохранена")
	assert.Contains(t, committed, "#1 от 14.03.2024 10:11")
	sentBefore := len(api.texts())
	callbacksBefore := len(api.callbacks)

	h.HandleUpdate(context.Background(), callbackUpdate(opData("confirm")))

	assert.Len(t, api.texts(), sentBefore, "итог на сообщении не должен перезаписываться")
	assert.Equal(t, committed, api.last())
	require.Len(t, api.callbacks, callbacksBefore+1)
	assert.Equal(t, "Операция уже обработана", api.callbacks[len(api.callbacks)-1].Text)
	assert.Len(t, store.ops, 1)
}

func TestHandlerIdleTextShowsHint(t *testing.T) {
	api := &fakeAPI{}
	h := newLedgerHandler(api, &memLedger{})

	h.HandleUpdate(context.Background(), textUpdate("500"))

	assert.Contains(t, api.last(), "/add")
}
