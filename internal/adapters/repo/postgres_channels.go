package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/metrics"
)

const channelColumns = `id, tg_chat_id, COALESCE(title, ''), COALESCE(username, ''), is_active, last_success_at, COALESCE(last_error, ''), added_by_user_id, created_at`

func scanChannel(row pgx.Row, extra ...any) (domain.Channel, error) {
	var ch domain.Channel
	dest := []any{&ch.ID, &ch.TGChatID, &ch.Title, &ch.Username, &ch.IsActive, &ch.LastSuccessAt, &ch.LastError, &ch.AddedByUserID, &ch.CreatedAt}
	err := row.Scan(append(dest, extra...)...)
	return ch, err
}

// RegisterChannel создаёт канал или реактивирует существующий: заполняет пустые поля,
// сбрасывает ошибку и включает сбор.
func (p *Postgres) RegisterChannel(ctx context.Context, reg domain.ChannelRegistration) (domain.Channel, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var addedBy sql.NullInt64
	if reg.AddedBy != 0 {
		addedBy = sql.NullInt64{Int64: reg.AddedBy, Valid: true}
	}

	var created bool
	start := time.Now()
	ch, err := scanChannel(p.pool.QueryRow(ctx, `
INSERT INTO finance.channels (tg_chat_id, title, username, is_active, added_by_user_id, created_at)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), true, $4, now())
ON CONFLICT (tg_chat_id) DO UPDATE
    SET title = COALESCE(finance.channels.title, EXCLUDED.title),
        username = COALESCE(finance.channels.username, EXCLUDED.username),
        is_active = true,
        last_error = NULL,
        added_by_user_id = COALESCE(finance.channels.added_by_user_id, EXCLUDED.added_by_user_id)
RETURNING `+channelColumns+`, (xmax = 0) AS inserted
`, reg.TGChatID, strings.TrimSpace(reg.Title), strings.TrimPrefix(strings.TrimSpace(reg.Username), "@"), addedBy), &created)
	metrics.ObserveNetworkRequest("postgres", "channels_register", "channels", start, err)
	if err != nil {
		return domain.Channel{}, false, err
	}
	return ch, created, nil
}

// GetChannel возвращает канал по внутреннему идентификатору.
func (p *Postgres) GetChannel(ctx context.Context, id int64) (domain.Channel, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	ch, err := scanChannel(p.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM finance.channels WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "channels_get", "channels", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Channel{}, domain.ErrNotFound
	}
	return ch, err
}

// ListChannels возвращает последние добавленные каналы, включая выключенные.
func (p *Postgres) ListChannels(ctx context.Context, limit int) ([]domain.Channel, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+channelColumns+`
FROM finance.channels
ORDER BY created_at DESC, id DESC
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "channels_list", "channels", start, err)
	if err != nil {
		return nil, err
	}
	return collectChannels(rows)
}

// ListActiveChannels возвращает каналы, по которым ведётся сбор.
func (p *Postgres) ListActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+channelColumns+` FROM finance.channels WHERE is_active ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "channels_list_active", "channels", start, err)
	if err != nil {
		return nil, err
	}
	return collectChannels(rows)
}

func collectChannels(rows pgx.Rows) ([]domain.Channel, error) {
	defer rows.Close()
	var channels []domain.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// SetChannelActive ставит канал на паузу или возобновляет сбор.
func (p *Postgres) SetChannelActive(ctx context.Context, id int64, active bool) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE finance.channels
SET is_active = $2,
    last_error = CASE WHEN $2 THEN NULL ELSE last_error END
WHERE id = $1
`, id, active)
	metrics.ObserveNetworkRequest("postgres", "channels_set_active", "channels", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeactivateChannel выключает канал и записывает причину.
func (p *Postgres) DeactivateChannel(ctx context.Context, id int64, reason string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE finance.channels SET is_active = false, last_error = $2 WHERE id = $1`, id, reason)
	metrics.ObserveNetworkRequest("postgres", "channels_deactivate", "channels", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeactivateLegacyChannels выключает активные каналы без автора регистрации.
func (p *Postgres) DeactivateLegacyChannels(ctx context.Context) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE finance.channels SET is_active = false WHERE added_by_user_id IS NULL AND is_active`)
	metrics.ObserveNetworkRequest("postgres", "channels_deactivate_legacy", "channels", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkChannelSuccess фиксирует успешный сбор и сбрасывает ошибку.
func (p *Postgres) MarkChannelSuccess(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE finance.channels SET last_success_at = $2, last_error = NULL WHERE id = $1`, id, at)
	metrics.ObserveNetworkRequest("postgres", "channels_mark_success", "channels", start, err)
	return err
}

// MarkChannelError сохраняет текст последней ошибки сбора.
func (p *Postgres) MarkChannelError(ctx context.Context, id int64, message string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if r := []rune(message); len(r) > 1000 {
		message = string(r[:1000])
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE finance.channels SET last_error = $2 WHERE id = $1`, id, message)
	metrics.ObserveNetworkRequest("postgres", "channels_mark_error", "channels", start, err)
	return err
}
