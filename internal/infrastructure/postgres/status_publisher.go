package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/quartzhealth/portalbridge/internal/domain/order"
)

// StatusOutbox writes order status changes into the outbox table. The relay
// publishes them to the status topic, so a broker outage never loses a
// transition.
type StatusOutbox struct {
	pool   *pgxpool.Pool
	topic  string
	logger *zap.Logger
}

// NewStatusOutbox creates a status publisher writing to the given topic.
func NewStatusOutbox(pool *pgxpool.Pool, topic string, logger *zap.Logger) *StatusOutbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusOutbox{pool: pool, topic: topic, logger: logger}
}

// statusEvent is the wire shape consumed by downstream status listeners.
type statusEvent struct {
	OrderID        string    `json:"order_id"`
	Status         string    `json:"status"`
	InternalStatus string    `json:"internal_status"`
	RetryCount     int       `json:"retry_count"`
	ConfirmationID string    `json:"confirmation_id,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// PublishStatus enqueues a status event for the relay.
func (s *StatusOutbox) PublishStatus(ctx context.Context, snap order.Snapshot) error {
	payload, err := json.Marshal(statusEvent{
		OrderID:        snap.ID,
		Status:         snap.Status.Observable(),
		InternalStatus: string(snap.Status),
		RetryCount:     snap.RetryCount,
		ConfirmationID: snap.ConfirmationID,
		LastError:      snap.LastError,
		OccurredAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	query := `
		INSERT INTO outbox (aggregate_id, aggregate_type, event_type, payload, kafka_topic, kafka_key)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.pool.Exec(ctx, query,
		snap.ID, "portal_order", "status_changed", payload, s.topic, snap.ID)
	if err != nil {
		return fmt.Errorf("write status outbox entry: %w", err)
	}
	return nil
}
