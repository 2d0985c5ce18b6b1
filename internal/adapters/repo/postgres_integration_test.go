package repo

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/db"
)

// newIntegrationRepo подключается к базе из TEST_PG_DSN и очищает схему finance.
func newIntegrationRepo(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN не задан")
	}
	require.NoError(t, db.Migrate(dsn, zerolog.Nop()))

	pool, err := db.Connect(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), `
TRUNCATE finance.operation_channels, finance.operations, finance.channel_daily_snapshots,
         finance.post_snapshots, finance.channel_subscribers_history, finance.channel_daily_churn,
         finance.channels, finance.users, finance.categories, finance.business_metrics,
         finance.collect_job_statuses RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return NewPostgres(pool)
}

func categoryByCode(t *testing.T, cats []domain.Category, code string) domain.Category {
	t.Helper()
	for _, c := range cats {
		if c.Code == code {
			return c
		}
	}
	t.Fatalf("категория %s не найдена", code)
	return domain.Category{}
}

func TestPostgresLedgerDeduplicatesConcurrentCommits(t *testing.T) {
	p := newIntegrationRepo(t)
	ctx := context.Background()

	require.NoError(t, p.SeedCategories(ctx, domain.DefaultCategories))
	require.NoError(t, p.SeedCategories(ctx, domain.DefaultCategories[:1]))
	cats, err := p.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, len(domain.DefaultCategories))
	adPurchase := categoryByCode(t, cats, domain.CategoryAdPurchase)

	user, created, err := p.UpsertUser(ctx, domain.TelegramProfile{TGUserID: 100, FirstName: "Анна"})
	require.NoError(t, err)
	assert.True(t, created)

	a, _, err := p.RegisterChannel(ctx, domain.ChannelRegistration{TGChatID: -1001, Title: "A", AddedBy: user.ID})
	require.NoError(t, err)
	b, _, err := p.RegisterChannel(ctx, domain.ChannelRegistration{TGChatID: -1002, Title: "B", AddedBy: user.ID})
	require.NoError(t, err)

	target, err := domain.NewChannelTarget([]int64{b.ID, a.ID})
	require.NoError(t, err)
	op := domain.Operation{
		CreatedAt:       time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
		Type:            domain.OperationExpense,
		CategoryID:      adPurchase.ID,
		CategoryCode:    adPurchase.Code,
		AmountMinor:     50000,
		Currency:        "RUB",
		CreatedByUserID: user.ID,
		Target:          target,
		Fingerprint:     "fp-1",
	}

	const workers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		saved      int
		duplicates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.CreateOperation(ctx, op)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				saved++
			case errors.Is(err, domain.ErrDuplicateFingerprint):
				duplicates++
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, saved)
	assert.Equal(t, workers-1, duplicates)

	existing, err := p.GetOperationByFingerprint(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, existing.Target.ChannelIDs())
	assert.Equal(t, domain.OperationExpense, existing.Type)
	assert.Equal(t, int64(50000), existing.AmountMinor)

	ops, err := p.ListOperations(ctx, domain.OperationFilter{
		From:       time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		ChannelIDs: []int64{a.ID, b.ID},
	})
	require.NoError(t, err)
	require.Len(t, ops, 1, "операция с двумя каналами возвращается один раз")

	_, err = p.GetOperationByFingerprint(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresSaveChannelCollectionUpserts(t *testing.T) {
	p := newIntegrationRepo(t)
	ctx := context.Background()

	ch, _, err := p.RegisterChannel(ctx, domain.ChannelRegistration{TGChatID: -1003})
	require.NoError(t, err)
	assert.True(t, ch.IsLegacy())

	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	posted := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	for _, views := range []int64{100, 150} {
		require.NoError(t, p.SaveChannelCollection(ctx, domain.ChannelCollection{
			ChannelID:   ch.ID,
			Date:        date,
			CollectedAt: time.Now().UTC(),
			Subscribers: 1000 + views,
			Posts:       []domain.PostMetric{{MessageID: 7, PostedAt: posted, Views: views}},
			Growth:      []domain.GrowthPoint{{Date: date, Joins: 5, Leaves: 2}},
		}))
	}

	snapshots, err := p.ListDailySnapshots(ctx, []int64{ch.ID}, date, date.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, int64(1150), snapshots[0].Subscribers)

	posts, err := p.ListPostSnapshots(ctx, []int64{ch.ID}, date, date.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, int64(150), posts[0].Views)

	churn, err := p.ListDailyChurn(ctx, []int64{ch.ID}, date, date.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, churn, 1)
	assert.Equal(t, int64(5), churn[0].Joins)

	n, err := p.DeactivateLegacyChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostgresCollectJobStatuses(t *testing.T) {
	p := newIntegrationRepo(t)
	ctx := context.Background()

	done, attempt, err := p.EnsureCollectJob(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, attempt)

	require.NoError(t, p.MarkCollectJobDone(ctx, "job-1"))
	done, attempt, err = p.EnsureCollectJob(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 2, attempt)
}
