package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.BusinessMetricRepo   = (*Postgres)(nil)
	_ domain.UserRepo             = (*Postgres)(nil)
	_ domain.ChannelRepo          = (*Postgres)(nil)
	_ domain.CategoryRepo         = (*Postgres)(nil)
	_ domain.LedgerRepo           = (*Postgres)(nil)
	_ domain.SnapshotRepo         = (*Postgres)(nil)
	_ domain.ReportRepo           = (*Postgres)(nil)
	_ domain.CollectJobStatusRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func (p *Postgres) saveBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}

	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var userID sql.NullInt64
	if metric.UserID != nil {
		userID = sql.NullInt64{Int64: *metric.UserID, Valid: true}
	}

	var channelID sql.NullInt64
	if metric.ChannelID != nil {
		channelID = sql.NullInt64{Int64: *metric.ChannelID, Valid: true}
	}

	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO finance.business_metrics (event, user_id, channel_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5)
`, metric.Event, userID, channelID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	return p.saveBusinessMetric(ctx, metric)
}

const userColumns = `id, tg_user_id, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(username, ''), notify_daily_stats, created_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.TGUserID, &u.FirstName, &u.LastName, &u.Username, &u.NotifyDailyStats, &u.CreatedAt)
	return u, err
}

// UpsertUser создаёт оператора при первом обращении и обновляет имя из профиля.
// Второе значение сообщает, что запись создана.
func (p *Postgres) UpsertUser(ctx context.Context, profile domain.TelegramProfile) (domain.User, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		user    domain.User
		created bool
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO finance.users (tg_user_id, first_name, last_name, username, created_at)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), now())
ON CONFLICT (tg_user_id) DO UPDATE
    SET first_name = EXCLUDED.first_name,
        last_name = EXCLUDED.last_name,
        username = EXCLUDED.username
RETURNING `+userColumns+`, (xmax = 0) AS inserted
`, profile.TGUserID, strings.TrimSpace(profile.FirstName), strings.TrimSpace(profile.LastName), strings.TrimSpace(profile.Username)).
		Scan(&user.ID, &user.TGUserID, &user.FirstName, &user.LastName, &user.Username, &user.NotifyDailyStats, &user.CreatedAt, &created)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return domain.User{}, false, err
	}

	if created {
		userID := user.ID
		meta := map[string]any{"tg_user_id": user.TGUserID}
		if user.Username != "" {
			meta["username"] = user.Username
		}
		_ = p.saveBusinessMetric(ctx, domain.BusinessMetric{
			Event:    domain.BusinessMetricEventUserRegistered,
			UserID:   &userID,
			Metadata: meta,
		})
	}
	return user, created, nil
}

// GetUserByTGID ищет оператора по идентификатору Telegram.
func (p *Postgres) GetUserByTGID(ctx context.Context, tgUserID int64) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	user, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM finance.users WHERE tg_user_id = $1`, tgUserID))
	metrics.ObserveNetworkRequest("postgres", "users_get_by_tg_id", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	return user, err
}

// SetNotifyDailyStats сохраняет подписку на ежедневную статистику.
func (p *Postgres) SetNotifyDailyStats(ctx context.Context, userID int64, enabled bool) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE finance.users SET notify_daily_stats = $2 WHERE id = $1`, userID, enabled)
	metrics.ObserveNetworkRequest("postgres", "users_set_notify", "users", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListNotifiableUsers возвращает операторов с включённой статистикой.
func (p *Postgres) ListNotifiableUsers(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+userColumns+` FROM finance.users WHERE notify_daily_stats ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "users_list_notifiable", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// EnsureCollectJob регистрирует попытку обработки задачи сбора.
func (p *Postgres) EnsureCollectJob(ctx context.Context, jobID string) (bool, int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		done     sql.NullTime
		attempts int
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO finance.collect_job_statuses (job_id, attempts, updated_at)
VALUES ($1, 1, now())
ON CONFLICT (job_id) DO UPDATE
    SET attempts = finance.collect_job_statuses.attempts + 1,
        updated_at = now()
RETURNING done_at, attempts
`, jobID).Scan(&done, &attempts)
	metrics.ObserveNetworkRequest("postgres", "collect_job_statuses_upsert", "collect_job_statuses", start, err)
	if err != nil {
		return false, 0, err
	}

	return done.Valid, attempts, nil
}

// MarkCollectJobDone помечает задачу завершённой.
func (p *Postgres) MarkCollectJobDone(ctx context.Context, jobID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE finance.collect_job_statuses
SET done_at = COALESCE(done_at, now()),
    updated_at = now()
WHERE job_id = $1
`, jobID)
	metrics.ObserveNetworkRequest("postgres", "collect_job_statuses_mark_done", "collect_job_statuses", start, err)
	return err
}

// LoadMTProtoSession загружает MTProto-сессию сборщика.
func (p *Postgres) LoadMTProtoSession(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	var data []byte
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT data FROM finance.mtproto_sessions WHERE name = $1`, name).Scan(&data)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_load", "mtproto_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	clone := make([]byte, len(data))
	copy(clone, data)
	return clone, nil
}

// StoreMTProtoSession сохраняет MTProto-сессию.
func (p *Postgres) StoreMTProtoSession(ctx context.Context, name string, data []byte) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	tmp := make([]byte, len(data))
	copy(tmp, data)

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO finance.mtproto_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, name, tmp)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_store", "mtproto_sessions", start, err)
	return err
}
