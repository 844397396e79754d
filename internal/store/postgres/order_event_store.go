package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

// OrderEventStore implements domain.OrderEventStore on order_events.
type OrderEventStore struct {
	pool *pgxpool.Pool
}

// NewOrderEventStore creates a new OrderEventStore.
func NewOrderEventStore(pool *pgxpool.Pool) *OrderEventStore {
	return &OrderEventStore{pool: pool}
}

const eventSelectCols = `id, order_id, event_type, block_number, COALESCE(filled_amount::text, ''), occurred_at`

// Append records ev; a duplicate id is ignored and reported as false.
func (s *OrderEventStore) Append(ctx context.Context, ev domain.OrderEvent) (bool, error) {
	var filled *string
	if ev.FilledAmount != "" {
		filled = &ev.FilledAmount
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO order_events (id, order_id, event_type, block_number, filled_amount, occurred_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.OrderID, string(ev.Type), int64(ev.BlockNumber), filled, ev.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: append event %s: %w", ev.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByOrder returns the events of orderID oldest first.
func (s *OrderEventStore) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM order_events WHERE order_id = $1 ORDER BY occurred_at, block_number, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events of %s: %w", orderID, err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// ListSince returns events at or after since, oldest first.
func (s *OrderEventStore) ListSince(ctx context.Context, since time.Time, limit int) ([]domain.OrderEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM order_events WHERE occurred_at >= $1 ORDER BY occurred_at, block_number, id`
	args := []any{since}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// DeleteByOrder removes the events of orderIDs.
func (s *OrderEventStore) DeleteByOrder(ctx context.Context, orderIDs ...string) (int, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM order_events WHERE order_id = ANY($1)`, orderIDs)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events of %d orders: %w", len(orderIDs), err)
	}
	return int(tag.RowsAffected()), nil
}

func scanEventRows(rows pgx.Rows) ([]domain.OrderEvent, error) {
	var out []domain.OrderEvent
	for rows.Next() {
		var ev domain.OrderEvent
		var typ string
		var block int64
		if err := rows.Scan(&ev.ID, &ev.OrderID, &typ, &block, &ev.FilledAmount, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Type = domain.OrderEventType(typ)
		ev.BlockNumber = uint64(block)
		out = append(out, ev)
	}
	return out, rows.Err()
}

var _ domain.OrderEventStore = (*OrderEventStore)(nil)
