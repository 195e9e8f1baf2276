package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/quartzhealth/portalbridge/internal/clearinghouse"
)

// ExchangeStore persists raw clearinghouse request/response pairs. EDI
// disputes get resolved from this table, so rows are append-only.
type ExchangeStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewExchangeStore creates an exchange store.
func NewExchangeStore(pool *pgxpool.Pool, logger *zap.Logger) *ExchangeStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExchangeStore{pool: pool, logger: logger}
}

// SaveExchange records one eligibility round trip.
func (s *ExchangeStore) SaveExchange(ctx context.Context, exchange clearinghouse.Exchange) error {
	query := `
		INSERT INTO clearinghouse_exchanges (payload_id, request, response, occurred_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.pool.Exec(ctx, query,
		exchange.PayloadID, exchange.Request, exchange.Response, exchange.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert clearinghouse exchange: %w", err)
	}
	return nil
}
