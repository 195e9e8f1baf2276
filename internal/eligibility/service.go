// Package eligibility orchestrates 270/271 exchanges against the
// clearinghouse transport.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/quartzhealth/portalbridge/internal/domain/order"
	"github.com/quartzhealth/portalbridge/internal/edi/x12"
)

var (
	// ErrCredentialsMissing is a configuration error: surfaced before any
	// network call, never retried.
	ErrCredentialsMissing = errors.New("clearinghouse credentials not configured")
	// ErrDecode indicates the response payload was not a decodable 271.
	ErrDecode = errors.New("eligibility response not decodable")
)

// Sender performs one raw EDI exchange. Satisfied by
// *clearinghouse.Transport.
type Sender interface {
	Send(ctx context.Context, ediPayload string) (string, error)
}

// Config identifies the inquiring provider and the target payer.
type Config struct {
	Provider   x12.Provider
	Payer      x12.Payer
	SenderID   string
	ReceiverID string
	Username   string
	Password   string
}

// Service performs eligibility checks with at-most-once semantics per call.
// It never retries: retry policy belongs to the caller. If the verified
// result carries no phone number, substituting one from another system of
// record is also the caller's job, applied before merging into an order.
type Service struct {
	config  Config
	sender  Sender
	logger  *zap.Logger
	tracer  trace.Tracer
	control uint64
}

// New creates an eligibility service.
func New(cfg Config, sender Sender, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config: cfg,
		sender: sender,
		logger: logger,
		tracer: otel.Tracer("eligibility"),
		// Seed so control numbers differ across process restarts.
		control: uint64(time.Now().Unix()),
	}
}

// Check encodes a fresh 270 for the patient, exchanges it and decodes the
// 271. Each call generates a new control number and trace identifier.
func (s *Service) Check(ctx context.Context, patient order.Demographics) (x12.Result, error) {
	if s.config.Username == "" || s.config.Password == "" {
		return x12.Result{}, ErrCredentialsMissing
	}

	controlNumber := fmt.Sprintf("%09d", atomic.AddUint64(&s.control, 1)%1_000_000_000)
	traceID := uuid.New().String()

	ctx, span := s.tracer.Start(ctx, "eligibility_check",
		trace.WithAttributes(
			attribute.String("control_number", controlNumber),
			attribute.String("payer_id", s.config.Payer.ID),
		))
	defer span.End()

	doc := x12.Encode270(x12.Inquiry{
		Patient:       patient,
		Provider:      s.config.Provider,
		Payer:         s.config.Payer,
		SenderID:      s.config.SenderID,
		ReceiverID:    s.config.ReceiverID,
		ControlNumber: controlNumber,
		TraceID:       traceID,
		// Local wall clock: the clearinghouse validates control dates
		// against its own clock, and UTC reads as a future date for part
		// of the day.
		Now: time.Now(),
	})

	raw, err := s.sender.Send(ctx, doc.String())
	if err != nil {
		span.RecordError(err)
		return x12.Result{}, err
	}

	if len(x12.ParseSegments(raw)) == 0 {
		err := fmt.Errorf("%w: empty or unstructured payload", ErrDecode)
		span.RecordError(err)
		return x12.Result{}, err
	}

	result := x12.Decode271(raw)
	s.logger.Info("eligibility check completed",
		zap.String("control_number", controlNumber),
		zap.Bool("eligible", result.Eligible),
		zap.String("plan_category", string(result.PlanCategory)))

	return result, nil
}
