// Package order provides the audit event repository.
package order

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Repository persists order audit events. Persistence is an audit channel:
// the in-process aggregate is the source of truth and callers treat write
// failures as non-critical.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Save persists the order's unpersisted events in one transaction.
func (r *Repository) Save(ctx context.Context, o *Order) error {
	changes := o.Changes()
	if len(changes) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, event := range changes {
		if err := r.insertEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	o.ClearChanges()
	return nil
}

func (r *Repository) insertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	query := `
		INSERT INTO portal_order_events
		(event_id, order_id, event_type, event_data, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := tx.Exec(ctx, query,
		event.ID,
		event.OrderID,
		event.EventType,
		event.EventData,
		event.Timestamp,
	)
	return err
}

// GetEvents retrieves all audit events for an order, oldest first.
func (r *Repository) GetEvents(ctx context.Context, orderID string) ([]*Event, error) {
	query := `
		SELECT event_id, order_id, event_type, event_data, timestamp
		FROM portal_order_events
		WHERE order_id = $1
		ORDER BY timestamp ASC
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		err := rows.Scan(&e.ID, &e.OrderID, &e.EventType, &e.EventData, &e.Timestamp)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
