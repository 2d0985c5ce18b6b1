package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-finance-bot/internal/domain"
)

type stubQueue struct {
	jobs []domain.CollectJob
	err  error
}

func (q *stubQueue) Enqueue(_ context.Context, job domain.CollectJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubQueue) Receive(context.Context) (domain.CollectJob, domain.AckFunc, error) {
	return domain.CollectJob{}, nil, errors.New("not implemented")
}

func TestEnqueueDailyCollect(t *testing.T) {
	q := &stubQueue{}
	task := enqueueDailyCollect(q)

	require.NoError(t, task(context.Background()))
	require.NoError(t, task(context.Background()))

	require.Len(t, q.jobs, 2)
	for _, job := range q.jobs {
		assert.Equal(t, domain.CollectCauseScheduled, job.Cause)
		assert.Zero(t, job.ChannelID)
		assert.Zero(t, job.ChatID)
	}
	assert.NotEqual(t, q.jobs[0].ID, q.jobs[1].ID)
}

func TestEnqueueDailyCollectError(t *testing.T) {
	q := &stubQueue{err: errors.New("redis down")}
	assert.Error(t, enqueueDailyCollect(q)(context.Background()))
}
