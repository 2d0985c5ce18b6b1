package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/metrics"
)

// SaveChannelCollection сохраняет результат сбора по каналу одной транзакцией:
// дневной снимок подписчиков, замер в историю, снимки постов и отток по дням.
func (p *Postgres) SaveChannelCollection(ctx context.Context, c domain.ChannelCollection) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "channel_daily_snapshots", start, err)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	batch.Queue(`
INSERT INTO finance.channel_daily_snapshots (channel_id, snapshot_date, subscribers_count, collected_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (channel_id, snapshot_date) DO UPDATE
    SET subscribers_count = EXCLUDED.subscribers_count,
        collected_at = EXCLUDED.collected_at
`, c.ChannelID, c.Date, c.Subscribers, c.CollectedAt)
	batch.Queue(`
INSERT INTO finance.channel_subscribers_history (channel_id, collected_at, subscribers_count)
VALUES ($1, $2, $3)
`, c.ChannelID, c.CollectedAt, c.Subscribers)

	for _, post := range c.Posts {
		batch.Queue(`
INSERT INTO finance.post_snapshots (channel_id, message_id, snapshot_date, posted_at, views, forwards, reactions_total, collected_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (channel_id, message_id, snapshot_date) DO UPDATE
    SET views = EXCLUDED.views,
        forwards = EXCLUDED.forwards,
        reactions_total = EXCLUDED.reactions_total,
        collected_at = EXCLUDED.collected_at
`, c.ChannelID, post.MessageID, c.Date, post.PostedAt, post.Views, post.Forwards, post.Reactions, c.CollectedAt)
	}

	for _, point := range c.Growth {
		batch.Queue(`
INSERT INTO finance.channel_daily_churn (channel_id, churn_date, joins_count, leaves_count, collected_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (channel_id, churn_date) DO UPDATE
    SET joins_count = EXCLUDED.joins_count,
        leaves_count = EXCLUDED.leaves_count,
        collected_at = EXCLUDED.collected_at
`, c.ChannelID, point.Date, point.Joins, point.Leaves, c.CollectedAt)
	}

	start = time.Now()
	err = tx.SendBatch(ctx, batch).Close()
	metrics.ObserveNetworkRequest("postgres", "channel_collection_upsert", "channel_daily_snapshots", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "channel_daily_snapshots", start, err)
	return err
}
