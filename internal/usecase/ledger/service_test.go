package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-finance-bot/internal/domain"
)

type memConversations struct {
	mu   sync.Mutex
	data map[int64][]byte
}

func newMemConversations() *memConversations {
	return &memConversations{data: make(map[int64][]byte)}
}

func (m *memConversations) Load(_ context.Context, userID int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

func (m *memConversations) Save(_ context.Context, userID int64, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[userID] = data
	return nil
}

func (m *memConversations) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, userID)
	return nil
}

func (m *memConversations) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// fakeLedger повторяет уникальный индекс по отпечатку.
type fakeLedger struct {
	mu       sync.Mutex
	nextID   int64
	ops      []domain.Operation
	failWith error
}

func (f *fakeLedger) CreateOperation(_ context.Context, op domain.Operation) (domain.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return domain.Operation{}, f.failWith
	}
	for _, existing := range f.ops {
		if existing.Fingerprint == op.Fingerprint {
			return domain.Operation{}, domain.ErrDuplicateFingerprint
		}
	}
	f.nextID++
	op.ID = f.nextID
	f.ops = append(f.ops, op)
	return op, nil
}

func (f *fakeLedger) GetOperationByFingerprint(_ context.Context, fingerprint string) (domain.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range f.ops {
		if op.Fingerprint == fingerprint {
			return op, nil
		}
	}
	return domain.Operation{}, domain.ErrNotFound
}

func (f *fakeLedger) ListOperations(_ context.Context, _ domain.OperationFilter) ([]domain.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Operation(nil), f.ops...), nil
}

type fakeCatalog struct {
	catalog Catalog
}

func (f fakeCatalog) ListCategories(context.Context) ([]domain.Category, error) {
	return f.catalog.Categories, nil
}

func (f fakeCatalog) ListActiveChannels(context.Context) ([]domain.Channel, error) {
	return f.catalog.Channels, nil
}

var fixedNow = time.Date(2024, 3, 4, 10, 1, 0, 0, time.UTC)

func newTestService(store domain.ConversationStore, ledger domain.LedgerRepo) *Service {
	return NewService(store, ledger, fakeCatalog{catalog: testCatalog()}, domain.DefaultCategoryGroups(), "RUB", zerolog.Nop()).
		WithClock(func() time.Time { return fixedNow })
}

func adPurchaseScenario() []Input {
	return []Input{
		{Kind: InputStart},
		{Kind: InputSelectType, Type: domain.OperationExpense},
		{Kind: InputSelectCategory, ID: 5},
		{Kind: InputToggleChannel, ID: 10},
		{Kind: InputToggleChannel, ID: 20},
		{Kind: InputDone},
		{Kind: InputText, Text: "500"},
		{Kind: InputSkip},
		{Kind: InputSkip},
		{Kind: InputConfirm},
	}
}

func drive(t *testing.T, svc *Service, user domain.User, inputs []Input) Outcome {
	t.Helper()
	var out Outcome
	for _, in := range inputs {
		var err error
		out, err = svc.Handle(context.Background(), user, in)
		require.NoError(t, err)
	}
	return out
}

func TestServiceCommitsScenario(t *testing.T) {
	store := newMemConversations()
	ledger := &fakeLedger{}
	svc := newTestService(store, ledger)
	user := domain.User{ID: 7, TGUserID: 700}

	out := drive(t, svc, user, adPurchaseScenario())

	require.NotNil(t, out.Committed)
	assert.Nil(t, out.Duplicate)
	assert.Equal(t, StepIdle, out.Step)
	assert.Zero(t, store.size(), "состояние диалога должно быть очищено")

	require.Len(t, ledger.ops, 1)
	op := ledger.ops[0]
	assert.Equal(t, int64(50000), op.AmountMinor)
	assert.Equal(t, domain.OperationExpense, op.Type)
	assert.Equal(t, domain.CategoryAdPurchase, op.CategoryCode)
	assert.Equal(t, []int64{10, 20}, op.Target.ChannelIDs())
	assert.False(t, op.Target.IsGeneral())
	assert.Equal(t, int64(7), op.CreatedByUserID)
	assert.Equal(t, fixedNow, op.CreatedAt)
	assert.Equal(t, "RUB", op.Currency)
}

func TestServiceResolvesDuplicate(t *testing.T) {
	store := newMemConversations()
	ledger := &fakeLedger{}
	svc := newTestService(store, ledger)
	user := domain.User{ID: 7, TGUserID: 700}

	first := drive(t, svc, user, adPurchaseScenario())
	require.NotNil(t, first.Committed)

	scenario := adPurchaseScenario()
	scenario[3], scenario[4] = scenario[4], scenario[3]
	second := drive(t, svc, user, scenario)

	require.NotNil(t, second.Duplicate)
	assert.Nil(t, second.Committed)
	assert.Equal(t, first.Committed.ID, second.Duplicate.ID)
	assert.Len(t, ledger.ops, 1)
	assert.Zero(t, store.size())
}

func TestServiceConcurrentCommitPersistsOnce(t *testing.T) {
	ledger := &fakeLedger{}
	svc := newTestService(newMemConversations(), ledger)
	draft := Draft{Type: domain.OperationIncome, CategoryID: 1, CategoryCode: "ad_revenue", General: true, AmountMinor: 100000}

	const workers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		committed  int
		duplicates []int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Commit(context.Background(), domain.User{ID: 1, TGUserID: 100}, draft)
			mu.Lock()
			defer mu.Unlock()
			var dup *domain.DuplicateOperationError
			switch {
			case err == nil:
				committed++
			case errors.As(err, &dup):
				duplicates = append(duplicates, dup.Existing.ID)
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, committed)
	assert.Len(t, duplicates, workers-1)
	for _, id := range duplicates {
		assert.Equal(t, ledger.ops[0].ID, id)
	}
	assert.Len(t, ledger.ops, 1)
}

func TestServiceStorageErrorClearsState(t *testing.T) {
	store := newMemConversations()
	ledger := &fakeLedger{failWith: errors.New("connection reset")}
	svc := newTestService(store, ledger)
	user := domain.User{ID: 7, TGUserID: 700}

	inputs := adPurchaseScenario()
	drive(t, svc, user, inputs[:len(inputs)-1])
	require.Equal(t, 1, store.size())

	_, err := svc.Handle(context.Background(), user, inputs[len(inputs)-1])
	var storageErr *domain.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Zero(t, store.size())
}

func TestServiceRepromptKeepsState(t *testing.T) {
	store := newMemConversations()
	svc := newTestService(store, &fakeLedger{})
	user := domain.User{ID: 7, TGUserID: 700}

	drive(t, svc, user, adPurchaseScenario()[:6])
	out, err := svc.Handle(context.Background(), user, Input{Kind: InputText, Text: "abc"})
	require.NoError(t, err)
	assert.Equal(t, EffectReprompt, out.Effect.Kind)

	step, draft, err := svc.Current(context.Background(), user.TGUserID)
	require.NoError(t, err)
	assert.Equal(t, StepEnteringAmount, step)
	assert.Equal(t, []int64{10, 20}, draft.ChannelIDs)
}

func TestServiceIgnoresInputWithoutDialog(t *testing.T) {
	store := newMemConversations()
	svc := newTestService(store, &fakeLedger{})
	out, err := svc.Handle(context.Background(), domain.User{TGUserID: 1}, Input{Kind: InputText, Text: "500"})
	require.NoError(t, err)
	assert.Equal(t, EffectNone, out.Effect.Kind)
	assert.Zero(t, store.size())
}

func TestServiceCancelDiscardsDraft(t *testing.T) {
	store := newMemConversations()
	svc := newTestService(store, &fakeLedger{})
	user := domain.User{ID: 7, TGUserID: 700}

	drive(t, svc, user, adPurchaseScenario()[:4])
	require.Equal(t, 1, store.size())
	out, err := svc.Handle(context.Background(), user, Input{Kind: InputCancel})
	require.NoError(t, err)
	assert.Equal(t, EffectCancelled, out.Effect.Kind)
	assert.Zero(t, store.size())
}
