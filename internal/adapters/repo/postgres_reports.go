package repo

import (
	"context"
	"time"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/metrics"
)

// ListDailySnapshots возвращает дневные снимки подписчиков за даты [from, to).
// Дни без известного числа подписчиков пропускаются.
func (p *Postgres) ListDailySnapshots(ctx context.Context, channelIDs []int64, from, to time.Time) ([]domain.ChannelDailySnapshot, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT channel_id, snapshot_date, subscribers_count, collected_at
FROM finance.channel_daily_snapshots
WHERE channel_id = ANY($1::bigint[])
  AND snapshot_date >= $2 AND snapshot_date < $3
  AND subscribers_count IS NOT NULL
ORDER BY snapshot_date, channel_id
`, nonNilIDs(channelIDs), from, to)
	metrics.ObserveNetworkRequest("postgres", "channel_daily_snapshots_list", "channel_daily_snapshots", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChannelDailySnapshot
	for rows.Next() {
		var s domain.ChannelDailySnapshot
		if err := rows.Scan(&s.ChannelID, &s.Date, &s.Subscribers, &s.CollectedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListPostSnapshots возвращает снимки постов, опубликованных в [from, to).
func (p *Postgres) ListPostSnapshots(ctx context.Context, channelIDs []int64, from, to time.Time) ([]domain.PostSnapshot, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT channel_id, message_id, snapshot_date, posted_at,
       COALESCE(views, 0), COALESCE(forwards, 0), COALESCE(reactions_total, 0), collected_at
FROM finance.post_snapshots
WHERE channel_id = ANY($1::bigint[])
  AND posted_at >= $2 AND posted_at < $3
ORDER BY channel_id, message_id, snapshot_date
`, nonNilIDs(channelIDs), from, to)
	metrics.ObserveNetworkRequest("postgres", "post_snapshots_list", "post_snapshots", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PostSnapshot
	for rows.Next() {
		var s domain.PostSnapshot
		if err := rows.Scan(&s.ChannelID, &s.MessageID, &s.Date, &s.PostedAt, &s.Views, &s.Forwards, &s.Reactions, &s.CollectedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListDailyChurn возвращает вступления и выходы за даты [from, to).
func (p *Postgres) ListDailyChurn(ctx context.Context, channelIDs []int64, from, to time.Time) ([]domain.ChannelDailyChurn, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT channel_id, churn_date, joins_count, leaves_count, collected_at
FROM finance.channel_daily_churn
WHERE channel_id = ANY($1::bigint[])
  AND churn_date >= $2 AND churn_date < $3
ORDER BY churn_date, channel_id
`, nonNilIDs(channelIDs), from, to)
	metrics.ObserveNetworkRequest("postgres", "channel_daily_churn_list", "channel_daily_churn", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChannelDailyChurn
	for rows.Next() {
		var c domain.ChannelDailyChurn
		if err := rows.Scan(&c.ChannelID, &c.Date, &c.Joins, &c.Leaves, &c.CollectedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
