package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/metrics"
)

const dedupConstraint = "uq_operations_dedup_hash"

// ListCategories возвращает активные статьи учёта.
func (p *Postgres) ListCategories(ctx context.Context) ([]domain.Category, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id, code, name, is_active FROM finance.categories WHERE is_active ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "categories_list", "categories", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []domain.Category
	for rows.Next() {
		var (
			c  domain.Category
			id int16
		)
		if err := rows.Scan(&id, &c.Code, &c.Name, &c.IsActive); err != nil {
			return nil, err
		}
		c.ID = int64(id)
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// SeedCategories заполняет справочник, только если он пуст.
func (p *Postgres) SeedCategories(ctx context.Context, seed []domain.Category) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "categories", start, err)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Блокировка не даёт двум процессам засеять справочник одновременно.
	if _, err := tx.Exec(ctx, `LOCK TABLE finance.categories IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return err
	}

	var count int
	start = time.Now()
	err = tx.QueryRow(ctx, `SELECT count(*) FROM finance.categories`).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "categories_count", "categories", start, err)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range seed {
		batch.Queue(`INSERT INTO finance.categories (code, name, is_active) VALUES ($1, $2, $3) ON CONFLICT (code) DO NOTHING`, c.Code, c.Name, c.IsActive)
	}
	start = time.Now()
	err = tx.SendBatch(ctx, batch).Close()
	metrics.ObserveNetworkRequest("postgres", "categories_seed", "categories", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "categories", start, err)
	return err
}

// CreateOperation сохраняет операцию и её каналы одной транзакцией.
// При нарушении уникальности отпечатка транзакция откатывается и возвращается domain.ErrDuplicateFingerprint.
func (p *Postgres) CreateOperation(ctx context.Context, op domain.Operation) (domain.Operation, error) {
	if !op.Target.Valid() {
		return domain.Operation{}, &domain.ValidationError{Field: "channels", Reason: "не задана привязка к каналам"}
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "operations", start, err)
	if err != nil {
		return domain.Operation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	createdAt := op.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	currency := op.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO finance.operations (created_at, op_type, category_id, amount_kop, currency, free_text_reason, receipt_url, comment, created_by_user_id, is_general, dedup_hash)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11)
RETURNING id, created_at
`, createdAt, int16(op.Type), int16(op.CategoryID), op.AmountMinor, currency, op.Reason, op.ReceiptURL, op.Comment, op.CreatedByUserID, op.Target.IsGeneral(), op.Fingerprint).
		Scan(&op.ID, &op.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "operations_insert", "operations", start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == dedupConstraint {
			return domain.Operation{}, domain.ErrDuplicateFingerprint
		}
		return domain.Operation{}, err
	}

	if ids := op.Target.ChannelIDs(); len(ids) > 0 {
		start = time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO finance.operation_channels (operation_id, channel_id)
SELECT $1, unnest($2::bigint[])
`, op.ID, ids)
		metrics.ObserveNetworkRequest("postgres", "operation_channels_insert", "operation_channels", start, err)
		if err != nil {
			return domain.Operation{}, fmt.Errorf("связи операции с каналами: %w", err)
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "operations", start, err)
	if err != nil {
		return domain.Operation{}, err
	}
	op.Currency = currency
	return op, nil
}

const operationSelect = `
SELECT o.id, o.created_at, o.op_type, o.category_id, c.code, c.name, o.amount_kop, o.currency,
       COALESCE(o.free_text_reason, ''), COALESCE(o.receipt_url, ''), COALESCE(o.comment, ''),
       o.created_by_user_id, o.is_general, o.dedup_hash,
       COALESCE(array_agg(oc.channel_id ORDER BY oc.channel_id) FILTER (WHERE oc.channel_id IS NOT NULL), '{}') AS channel_ids
FROM finance.operations o
JOIN finance.categories c ON c.id = o.category_id
LEFT JOIN finance.operation_channels oc ON oc.operation_id = o.id
`

func scanOperation(row pgx.Row) (domain.Operation, error) {
	var (
		op         domain.Operation
		opType     int16
		categoryID int16
		general    bool
		channelIDs []int64
	)
	err := row.Scan(&op.ID, &op.CreatedAt, &opType, &categoryID, &op.CategoryCode, &op.CategoryName, &op.AmountMinor, &op.Currency,
		&op.Reason, &op.ReceiptURL, &op.Comment, &op.CreatedByUserID, &general, &op.Fingerprint, &channelIDs)
	if err != nil {
		return domain.Operation{}, err
	}
	op.Type = domain.OperationType(opType)
	op.CategoryID = int64(categoryID)
	if general {
		op.Target = domain.GeneralTarget()
		return op, nil
	}
	op.Target, err = domain.NewChannelTarget(channelIDs)
	if err != nil {
		return domain.Operation{}, fmt.Errorf("операция #%d без каналов: %w", op.ID, err)
	}
	return op, nil
}

// GetOperationByFingerprint ищет операцию по отпечатку.
func (p *Postgres) GetOperationByFingerprint(ctx context.Context, fingerprint string) (domain.Operation, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	op, err := scanOperation(p.pool.QueryRow(ctx, operationSelect+`
WHERE o.dedup_hash = $1
GROUP BY o.id, c.code, c.name
`, fingerprint))
	metrics.ObserveNetworkRequest("postgres", "operations_get_by_fingerprint", "operations", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Operation{}, domain.ErrNotFound
	}
	return op, err
}

// ListOperations возвращает операции окна [From, To), связанные хотя бы с одним из каналов
// фильтра, и общие операции, если они запрошены. Каждая операция возвращается один раз.
func (p *Postgres) ListOperations(ctx context.Context, filter domain.OperationFilter) ([]domain.Operation, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, operationSelect+`
WHERE o.created_at >= $1 AND o.created_at < $2
  AND (($3 AND o.is_general)
       OR EXISTS (SELECT 1 FROM finance.operation_channels x WHERE x.operation_id = o.id AND x.channel_id = ANY($4::bigint[])))
GROUP BY o.id, c.code, c.name
ORDER BY o.created_at, o.id
`, filter.From, filter.To, filter.IncludeGeneral, nonNilIDs(filter.ChannelIDs))
	metrics.ObserveNetworkRequest("postgres", "operations_list", "operations", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []domain.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
