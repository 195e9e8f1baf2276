package clearinghouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/quartzhealth/portalbridge/pkg/circuitbreaker"
)

// Transport failure taxonomy. Callers below the orchestrator never retry;
// retry policy belongs to the caller.
var (
	ErrTransportTimeout  = errors.New("clearinghouse exchange timed out")
	ErrTransportRejected = errors.New("clearinghouse rejected the exchange")
	ErrPayloadNotFound   = errors.New("response envelope carried no payload")
)

// Config holds clearinghouse connection settings.
type Config struct {
	Endpoint   string
	Username   string
	Password   string
	SenderID   string
	ReceiverID string
	// Timeout bounds one full exchange. Defaults to 30s.
	Timeout time.Duration
}

// Exchange is one raw request/response pair retained for audit.
type Exchange struct {
	PayloadID  string
	Request    string
	Response   string
	OccurredAt time.Time
}

// AuditStore persists raw exchanges. Implementations must tolerate being
// called on error paths; a store failure never fails the exchange itself.
type AuditStore interface {
	SaveExchange(ctx context.Context, ex Exchange) error
}

// Transport performs real-time eligibility exchanges.
type Transport struct {
	config  Config
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	audit   AuditStore
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates a transport. audit may be nil when no audit channel is wired.
func New(cfg Config, audit AuditStore, logger *zap.Logger) (*Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("clearinghouse"), logger)
	if err != nil {
		return nil, err
	}

	return &Transport{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		audit:   audit,
		logger:  logger,
		tracer:  otel.Tracer("clearinghouse"),
	}, nil
}

// Send wraps the EDI payload in a real-time envelope, performs the HTTPS
// exchange and returns the extracted response payload.
func (t *Transport) Send(ctx context.Context, ediPayload string) (string, error) {
	payloadID := uuid.New().String()

	ctx, span := t.tracer.Start(ctx, "clearinghouse_send",
		trace.WithAttributes(attribute.String("payload_id", payloadID)))
	defer span.End()

	envelope := BuildEnvelope(EnvelopeRequest{
		Username:   t.config.Username,
		Password:   t.config.Password,
		SenderID:   t.config.SenderID,
		ReceiverID: t.config.ReceiverID,
		PayloadID:  payloadID,
		Payload:    ediPayload,
		Timestamp:  time.Now(),
	})

	result, err := t.breaker.Execute(ctx, func() (interface{}, error) {
		return t.exchange(ctx, envelope)
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	rawResponse := result.(string)

	t.saveExchange(ctx, Exchange{
		PayloadID:  payloadID,
		Request:    envelope,
		Response:   rawResponse,
		OccurredAt: time.Now().UTC(),
	})

	payload, err := ExtractPayload(rawResponse)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return payload, nil
}

func (t *Transport) exchange(ctx context.Context, envelope string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint,
		strings.NewReader(envelope))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "RealTimeTransaction")

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", fmt.Errorf("%w after %s", ErrTransportTimeout, t.config.Timeout)
		}
		return "", fmt.Errorf("%w: %v", ErrTransportRejected, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrTransportRejected, resp.StatusCode)
	}
	return string(body), nil
}

// saveExchange is a non-critical audit side channel.
func (t *Transport) saveExchange(ctx context.Context, ex Exchange) {
	if t.audit == nil {
		return
	}
	if err := t.audit.SaveExchange(ctx, ex); err != nil {
		t.logger.Warn("failed to persist raw exchange",
			zap.String("payload_id", ex.PayloadID),
			zap.Error(err))
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
