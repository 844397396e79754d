package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// OrderStore implements domain.OrderStore and domain.OrderMirror on the
// limit_orders table. Live sessions use it as a durable mirror of the
// aggregator; it can also own orders outright.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// orderSelectCols lists the columns selected when reading orders. Amounts
// are read as text to keep full uint256 precision.
const orderSelectCols = `id, chain_id, maker, maker_asset, taker_asset,
	making_amount::text, taking_amount::text, salt, status,
	filled_amount::text, remaining_amount::text, signature,
	created_at, expires_at, updated_at`

const orderUpsert = `
	INSERT INTO limit_orders (
		id, chain_id, maker, maker_asset, taker_asset, pair_key,
		making_amount, taking_amount, salt, status,
		filled_amount, remaining_amount, signature,
		created_at, expires_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7::text::numeric, $8::text::numeric, $9, $10,
		$11::text::numeric, $12::text::numeric, $13,
		$14, $15, $16
	)`

func orderArgs(o domain.LimitOrder) []any {
	var expires *time.Time
	if !o.ExpiresAt.IsZero() {
		t := o.ExpiresAt
		expires = &t
	}
	updated := o.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	remaining := o.RemainingAmount
	if remaining == nil && o.MakingAmount != nil {
		remaining = o.MakingAmount
	}
	return []any{
		o.ID, o.ChainID, o.Maker, o.MakerAsset, o.TakerAsset,
		domain.PairKey(o.MakerAsset, o.TakerAsset),
		domain.IntString(o.MakingAmount), domain.IntString(o.TakingAmount),
		o.Salt, string(o.Status),
		domain.IntString(o.FilledAmount), domain.IntString(remaining),
		o.Signature, o.CreatedAt, expires, updated,
	}
}

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (domain.LimitOrder, error) {
	var o domain.LimitOrder
	var status string
	var making, taking, filled, remaining string
	var expires *time.Time

	err := scanner.Scan(
		&o.ID, &o.ChainID, &o.Maker, &o.MakerAsset, &o.TakerAsset,
		&making, &taking, &o.Salt, &status,
		&filled, &remaining, &o.Signature,
		&o.CreatedAt, &expires, &o.UpdatedAt,
	)
	if err != nil {
		return domain.LimitOrder{}, err
	}
	o.Status = domain.OrderStatus(status)
	if expires != nil {
		o.ExpiresAt = *expires
	}
	o.MakingAmount = parseNumeric(making)
	o.TakingAmount = parseNumeric(taking)
	o.FilledAmount = parseNumeric(filled)
	o.RemainingAmount = parseNumeric(remaining)
	return o, nil
}

func parseNumeric(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

func scanOrderRows(rows pgx.Rows) ([]domain.LimitOrder, error) {
	var orders []domain.LimitOrder
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.LimitOrder) error {
	tag, err := s.pool.Exec(ctx, orderUpsert+` ON CONFLICT (id) DO NOTHING`, orderArgs(o)...)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Invalid("id", fmt.Sprintf("order %s already exists", o.ID))
	}
	return nil
}

// Upsert writes o, keeping the stored row when it is newer than o.
func (s *OrderStore) Upsert(ctx context.Context, o domain.LimitOrder) error {
	const onConflict = `
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			filled_amount = EXCLUDED.filled_amount,
			remaining_amount = EXCLUDED.remaining_amount,
			signature = EXCLUDED.signature,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
		WHERE limit_orders.updated_at <= EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, orderUpsert+onConflict, orderArgs(o)...); err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", o.ID, err)
	}
	return nil
}

// Get retrieves a single order by ID.
func (s *OrderStore) Get(ctx context.Context, id string) (domain.LimitOrder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM limit_orders WHERE id = $1`, id)
	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LimitOrder{}, fmt.Errorf("postgres: order %s: %w", id, domain.ErrNotFound)
		}
		return domain.LimitOrder{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// Update runs fn against the row locked FOR UPDATE and writes the result
// back in the same transaction.
func (s *OrderStore) Update(ctx context.Context, id string, fn domain.OrderUpdateFunc) (domain.LimitOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.LimitOrder{}, fmt.Errorf("postgres: begin update %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM limit_orders WHERE id = $1 FOR UPDATE`, id)
	cur, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LimitOrder{}, fmt.Errorf("postgres: order %s: %w", id, domain.ErrNotFound)
		}
		return domain.LimitOrder{}, fmt.Errorf("postgres: lock order %s: %w", id, err)
	}

	work := cur.Clone()
	changed, err := fn(&work)
	if err != nil {
		return cur, err
	}
	if !changed {
		return cur, nil
	}
	work.ID = id
	work.UpdatedAt = time.Now().UTC()

	const update = `
		UPDATE limit_orders SET
			status = $2,
			filled_amount = $3::text::numeric,
			remaining_amount = $4::text::numeric,
			signature = $5,
			updated_at = $6
		WHERE id = $1`
	if _, err := tx.Exec(ctx, update, id, string(work.Status),
		domain.IntString(work.FilledAmount), domain.IntString(work.RemainingAmount),
		work.Signature, work.UpdatedAt,
	); err != nil {
		return domain.LimitOrder{}, fmt.Errorf("postgres: update order %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.LimitOrder{}, fmt.Errorf("postgres: commit order %s: %w", id, err)
	}
	return work, nil
}

// List returns orders matching f, newest first.
func (s *OrderStore) List(ctx context.Context, f domain.OrderFilter) ([]domain.LimitOrder, error) {
	query := `SELECT ` + orderSelectCols + ` FROM limit_orders WHERE TRUE`
	var args []any
	argIdx := 1

	if f.ChainID != 0 {
		query += fmt.Sprintf(" AND chain_id = $%d", argIdx)
		args = append(args, f.ChainID)
		argIdx++
	}
	if f.Maker != "" {
		query += fmt.Sprintf(" AND lower(maker) = lower($%d)", argIdx)
		args = append(args, f.Maker)
		argIdx++
	}
	if f.Pair != "" {
		query += fmt.Sprintf(" AND pair_key = $%d", argIdx)
		args = append(args, f.Pair)
		argIdx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}

	query += " ORDER BY created_at DESC, id"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders: %w", err)
	}
	return orders, nil
}

// Delete removes an order. Deleting a missing id is not an error.
func (s *OrderStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM limit_orders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete order %s: %w", id, err)
	}
	return nil
}

var (
	_ domain.OrderStore  = (*OrderStore)(nil)
	_ domain.OrderMirror = (*OrderStore)(nil)
)
