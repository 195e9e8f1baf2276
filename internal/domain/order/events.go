// Package order implements the portal order aggregate and its audit events.
package order

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies an audit event.
type EventType string

const (
	EventOrderCreated         EventType = "OrderCreated"
	EventDemographicsEnriched EventType = "DemographicsEnriched"
	EventEnrichmentSkipped    EventType = "EnrichmentSkipped"
	EventAttemptStarted       EventType = "AttemptStarted"
	EventRetryScheduled       EventType = "RetryScheduled"
	EventPreviewReady         EventType = "PreviewReady"
	EventOrderConfirmed       EventType = "OrderConfirmed"
	EventOrderSubmitted       EventType = "OrderSubmitted"
	EventOrderCancelled       EventType = "OrderCancelled"
	EventOrderFailed          EventType = "OrderFailed"
)

// Event is one append-only audit record for an order.
type Event struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	EventType EventType       `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates an audit event with a serialized payload.
func NewEvent(orderID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		EventType: eventType,
		EventData: eventData,
		Timestamp: time.Now().UTC(),
	}, nil
}

// CreatedData records order intake.
type CreatedData struct {
	OrderID     string `json:"order_id"`
	ProviderNPI string `json:"provider_npi"`
	TestCount   int    `json:"test_count"`
}

// EnrichedData records a successful demographic enrichment.
type EnrichedData struct {
	OrderID         string       `json:"order_id"`
	PlanDescription string       `json:"plan_description,omitempty"`
	Verified        Demographics `json:"verified"`
}

// SkippedData records an eligibility lookup that degraded gracefully.
type SkippedData struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// AttemptData records the start of a portal automation attempt.
type AttemptData struct {
	OrderID string `json:"order_id"`
	Attempt int    `json:"attempt"`
}

// RetryData records a scheduled retry after a transient failure.
type RetryData struct {
	OrderID string `json:"order_id"`
	Retry   int    `json:"retry"`
	Reason  string `json:"reason"`
}

// PreviewData records the preview artifact produced at the confirm gate.
type PreviewData struct {
	OrderID     string `json:"order_id"`
	ArtifactRef string `json:"artifact_ref"`
}

// ConfirmedData records operator confirmation.
type ConfirmedData struct {
	OrderID string `json:"order_id"`
}

// SubmittedData records terminal submission.
type SubmittedData struct {
	OrderID        string    `json:"order_id"`
	ConfirmationID string    `json:"confirmation_id"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// CancelledData records cancellation.
type CancelledData struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// FailedData records terminal failure.
type FailedData struct {
	OrderID    string `json:"order_id"`
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
}
