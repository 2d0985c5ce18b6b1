package collect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-finance-bot/internal/domain"
)

type stubChannels struct {
	channels []domain.Channel
}

func (s stubChannels) GetChannel(_ context.Context, id int64) (domain.Channel, error) {
	for _, ch := range s.channels {
		if ch.ID == id {
			return ch, nil
		}
	}
	return domain.Channel{}, domain.ErrNotFound
}

func (s stubChannels) ListActiveChannels(context.Context) ([]domain.Channel, error) {
	return s.channels, nil
}

type stubStore struct {
	mu        sync.Mutex
	saved     []domain.ChannelCollection
	succeeded map[int64]time.Time
	errors    map[int64]string
}

func newStubStore() *stubStore {
	return &stubStore{succeeded: map[int64]time.Time{}, errors: map[int64]string{}}
}

func (s *stubStore) SaveChannelCollection(_ context.Context, c domain.ChannelCollection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, c)
	return nil
}

func (s *stubStore) MarkChannelSuccess(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded[id] = at
	return nil
}

func (s *stubStore) MarkChannelError(_ context.Context, id int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[id] = message
	return nil
}

type stubSource struct {
	mu            sync.Mutex
	failing       map[int64]error
	flaky         map[int64]int
	noStats       bool
	subscriberReq map[int64]int
	since         time.Time
}

func (s *stubSource) SubscriberCount(_ context.Context, ch domain.Channel) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriberReq == nil {
		s.subscriberReq = map[int64]int{}
	}
	s.subscriberReq[ch.ID]++
	if err, ok := s.failing[ch.ID]; ok {
		return 0, err
	}
	if s.flaky[ch.ID] > 0 {
		s.flaky[ch.ID]--
		return 0, errors.New("flood wait")
	}
	return 1000 + ch.ID, nil
}

func (s *stubSource) RecentPosts(_ context.Context, ch domain.Channel, since time.Time) ([]domain.PostMetric, error) {
	s.mu.Lock()
	s.since = since
	s.mu.Unlock()
	return []domain.PostMetric{{MessageID: 1, Views: 10 * ch.ID}}, nil
}

func (s *stubSource) GrowthSeries(context.Context, domain.Channel) ([]domain.GrowthPoint, error) {
	if s.noStats {
		return nil, domain.ErrStatsUnavailable
	}
	return []domain.GrowthPoint{{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Joins: 5, Leaves: 1}}, nil
}

var collectNow = time.Date(2024, 3, 1, 21, 30, 0, 0, time.UTC)

func newTestService(channels []domain.Channel, store *stubStore, source *stubSource) *Service {
	svc := NewService(stubChannels{channels: channels}, store, source, time.FixedZone("MSK", 3*60*60), zerolog.Nop())
	svc.newBackOff = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) }
	svc.now = func() time.Time { return collectNow }
	return svc
}

func TestCollectAllContinuesAfterChannelFailure(t *testing.T) {
	channels := []domain.Channel{{ID: 1}, {ID: 2}, {ID: 3}}
	store := newStubStore()
	source := &stubSource{failing: map[int64]error{2: errors.New("CHANNEL_PRIVATE")}}

	summary, err := newTestService(channels, store, source).CollectAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, int64(2), summary.Failed[0].ChannelID)

	require.Len(t, store.saved, 2)
	assert.Contains(t, store.errors[2], "CHANNEL_PRIVATE")
	assert.Contains(t, store.succeeded, int64(1))
	assert.Contains(t, store.succeeded, int64(3))
	assert.NotContains(t, store.succeeded, int64(2))
	assert.Equal(t, 3, source.subscriberReq[2], "ожидали исходный запрос и два повтора")
}

func TestCollectChannelRetriesTransientErrors(t *testing.T) {
	store := newStubStore()
	source := &stubSource{flaky: map[int64]int{1: 1}}
	svc := newTestService(nil, store, source)

	require.NoError(t, svc.CollectChannel(context.Background(), domain.Channel{ID: 1}))
	require.Len(t, store.saved, 1)
	saved := store.saved[0]
	assert.Equal(t, int64(1001), saved.Subscribers)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), saved.Date, "дата снимка берётся по локальному календарю")
	assert.Equal(t, collectNow, saved.CollectedAt)
	assert.Len(t, saved.Growth, 1)
	assert.Equal(t, collectNow.Add(-defaultPostsWindow), source.since)
}

func TestCollectChannelToleratesUnavailableStats(t *testing.T) {
	store := newStubStore()
	svc := newTestService(nil, store, &stubSource{noStats: true})

	require.NoError(t, svc.CollectChannel(context.Background(), domain.Channel{ID: 4}))
	require.Len(t, store.saved, 1)
	assert.Empty(t, store.saved[0].Growth)
	assert.Len(t, store.saved[0].Posts, 1)
	assert.Empty(t, store.errors)
}

func TestRunSingleChannelJob(t *testing.T) {
	channels := []domain.Channel{{ID: 1}, {ID: 2}}
	store := newStubStore()
	summary, err := newTestService(channels, store, &stubSource{}).Run(context.Background(), domain.CollectJob{ChannelID: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	require.Len(t, store.saved, 1)
	assert.Equal(t, int64(2), store.saved[0].ChannelID)

	_, err = newTestService(channels, store, &stubSource{}).Run(context.Background(), domain.CollectJob{ChannelID: 9})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSummaryText(t *testing.T) {
	assert.Equal(t, "Активных каналов для сбора нет.", Summary{}.Text())
	text := Summary{Total: 3, Succeeded: 2, Failed: []*domain.CollectorError{{ChannelID: 1}}}.Text()
	assert.Contains(t, text, "2 из 3")
	assert.Contains(t, text, "С ошибкой: 1")
}
