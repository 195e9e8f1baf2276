// Package order implements the portal order aggregate.
package order

import (
	"errors"
	"time"
)

// Status represents the order state machine state
type Status string

const (
	StatusIntake               Status = "intake"
	StatusEnriching            Status = "enriching_demographics"
	StatusLoggingIn            Status = "logging_in"
	StatusNavigating           Status = "navigating_to_order_form"
	StatusFilling              Status = "filling_form"
	StatusAwaitingConfirmation Status = "awaiting_preview_confirmation"
	StatusSubmitting           Status = "submitting"
	StatusSubmitted            Status = "submitted"
	StatusCancelled            Status = "cancelled"
	StatusFailed               Status = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusSubmitted || s == StatusCancelled || s == StatusFailed
}

// Observable maps internal states to the API-visible status vocabulary.
func (s Status) Observable() string {
	switch s {
	case StatusAwaitingConfirmation:
		return "preview"
	case StatusSubmitting:
		return "confirmed"
	case StatusSubmitted:
		return "submitted"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "processing"
	}
}

// Demographics holds patient identity and contact fields.
// Date of birth is ISO 8601 (YYYY-MM-DD). Fields absent from a payer
// response stay empty, never defaulted.
type Demographics struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
	MemberID    string `json:"member_id,omitempty"`
	Street      string `json:"street,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// MergeVerified overlays payer-verified fields onto caller-supplied ones.
// A verified field wins only when it is non-empty.
func (d Demographics) MergeVerified(v Demographics) Demographics {
	merged := d
	if v.FirstName != "" {
		merged.FirstName = v.FirstName
	}
	if v.LastName != "" {
		merged.LastName = v.LastName
	}
	if v.DateOfBirth != "" {
		merged.DateOfBirth = v.DateOfBirth
	}
	if v.MemberID != "" {
		merged.MemberID = v.MemberID
	}
	if v.Street != "" {
		merged.Street = v.Street
	}
	if v.City != "" {
		merged.City = v.City
	}
	if v.State != "" {
		merged.State = v.State
	}
	if v.PostalCode != "" {
		merged.PostalCode = v.PostalCode
	}
	if v.Phone != "" {
		merged.Phone = v.Phone
	}
	return merged
}

// IdentityComplete reports whether the identity fields required before
// submission are present.
func (d Demographics) IdentityComplete() bool {
	return d.FirstName != "" && d.LastName != "" && d.DateOfBirth != ""
}

// Test is a requested lab test.
type Test struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Intake is the caller-supplied order payload.
type Intake struct {
	ProviderNPI  string       `json:"provider_npi"`
	ProviderName string       `json:"provider_name"`
	Patient      Demographics `json:"patient"`
	Tests        []Test       `json:"tests"`
	Diagnoses    []string     `json:"diagnoses"`
	Instructions string       `json:"instructions,omitempty"`
}

// Validation errors surfaced before any state transition.
var (
	ErrNoTests            = errors.New("order requires at least one test")
	ErrNoDiagnoses        = errors.New("order requires at least one diagnosis code")
	ErrIncompleteIdentity = errors.New("order requires first name, last name and date of birth")
)

// Validate checks the intake preconditions.
func (in Intake) Validate() error {
	if len(in.Tests) == 0 {
		return ErrNoTests
	}
	if len(in.Diagnoses) == 0 {
		return ErrNoDiagnoses
	}
	if !in.Patient.IdentityComplete() {
		return ErrIncompleteIdentity
	}
	return nil
}

// Order is the portal order aggregate root. It is the audit record: never
// deleted, only transitioned to a terminal state.
type Order struct {
	id             string
	providerNPI    string
	providerName   string
	patient        Demographics
	tests          []Test
	diagnoses      []string
	instructions   string
	status         Status
	retryCount     int
	createdAt      time.Time
	submittedAt    *time.Time
	confirmationID string
	lastError      string
	previewRef     string
	changes        []*Event
}

// New validates the intake and creates an order in the Intake state.
func New(id string, in Intake) (*Order, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	o := &Order{
		id:           id,
		providerNPI:  in.ProviderNPI,
		providerName: in.ProviderName,
		patient:      in.Patient,
		tests:        in.Tests,
		diagnoses:    in.Diagnoses,
		instructions: in.Instructions,
		status:       StatusIntake,
		createdAt:    time.Now().UTC(),
	}
	o.record(EventOrderCreated, CreatedData{
		OrderID:     id,
		ProviderNPI: in.ProviderNPI,
		TestCount:   len(in.Tests),
	})
	return o, nil
}

func (o *Order) ID() string             { return o.id }
func (o *Order) ProviderNPI() string    { return o.providerNPI }
func (o *Order) Status() Status         { return o.status }
func (o *Order) RetryCount() int        { return o.retryCount }
func (o *Order) Patient() Demographics  { return o.patient }
func (o *Order) PreviewRef() string     { return o.previewRef }
func (o *Order) ConfirmationID() string { return o.confirmationID }
func (o *Order) LastError() string      { return o.lastError }

// Changes returns unpersisted audit events.
func (o *Order) Changes() []*Event { return o.changes }

// ClearChanges drops events already handed to the repository.
func (o *Order) ClearChanges() { o.changes = nil }

// ErrTerminal rejects any transition attempted on an order that already
// reached Submitted, Cancelled or Failed. Callers racing an operator action
// use it to stand down without treating the rejection as a new failure.
var ErrTerminal = errors.New("order is in a terminal state")

// BeginEnrichment moves the order into demographic enrichment.
func (o *Order) BeginEnrichment() error {
	if o.status != StatusIntake {
		return errors.New("order not in intake")
	}
	o.status = StatusEnriching
	return nil
}

// ApplyEnrichment merges payer-verified demographics over the caller's.
func (o *Order) ApplyEnrichment(verified Demographics, planDescription string) {
	o.patient = o.patient.MergeVerified(verified)
	o.record(EventDemographicsEnriched, EnrichedData{
		OrderID:         o.id,
		PlanDescription: planDescription,
		Verified:        verified,
	})
}

// SkipEnrichment records that eligibility lookup failed and the order
// proceeds with caller-supplied demographics.
func (o *Order) SkipEnrichment(reason string) {
	o.record(EventEnrichmentSkipped, SkippedData{OrderID: o.id, Reason: reason})
}

// BeginAttempt starts a portal login attempt.
func (o *Order) BeginAttempt() error {
	if o.status.Terminal() {
		return ErrTerminal
	}
	o.status = StatusLoggingIn
	o.record(EventAttemptStarted, AttemptData{OrderID: o.id, Attempt: o.retryCount + 1})
	return nil
}

// MarkNavigating advances to the form-navigation state. Terminal states are
// never left: a cancellation landing mid-attempt sticks.
func (o *Order) MarkNavigating() error {
	if o.status.Terminal() {
		return ErrTerminal
	}
	o.status = StatusNavigating
	return nil
}

// MarkFilling advances to the form-filling state.
func (o *Order) MarkFilling() error {
	if o.status.Terminal() {
		return ErrTerminal
	}
	o.status = StatusFilling
	return nil
}

// ScheduleRetry increments the retry counter after a transient failure.
func (o *Order) ScheduleRetry(reason string) error {
	if o.status.Terminal() {
		return ErrTerminal
	}
	o.retryCount++
	o.record(EventRetryScheduled, RetryData{OrderID: o.id, Retry: o.retryCount, Reason: reason})
	return nil
}

// MarkPreviewReady suspends the order at the operator confirmation gate.
func (o *Order) MarkPreviewReady(artifactRef string) error {
	if o.status.Terminal() {
		return ErrTerminal
	}
	o.status = StatusAwaitingConfirmation
	o.previewRef = artifactRef
	o.record(EventPreviewReady, PreviewData{OrderID: o.id, ArtifactRef: artifactRef})
	return nil
}

// MarkConfirmed records operator confirmation.
func (o *Order) MarkConfirmed() error {
	if o.status != StatusAwaitingConfirmation {
		return errors.New("order not awaiting confirmation")
	}
	o.status = StatusSubmitting
	o.record(EventOrderConfirmed, ConfirmedData{OrderID: o.id})
	return nil
}

// MarkSubmitted records the terminal Submitted state with the portal's
// confirmation identifier.
func (o *Order) MarkSubmitted(confirmationID string) error {
	if o.status != StatusSubmitting {
		return errors.New("order not submitting")
	}
	now := time.Now().UTC()
	o.status = StatusSubmitted
	o.confirmationID = confirmationID
	o.submittedAt = &now
	o.record(EventOrderSubmitted, SubmittedData{
		OrderID:        o.id,
		ConfirmationID: confirmationID,
		SubmittedAt:    now,
	})
	return nil
}

// MarkCancelled transitions to Cancelled. Valid from any pre-Submitting state.
func (o *Order) MarkCancelled(reason string) error {
	if o.status.Terminal() || o.status == StatusSubmitting {
		return errors.New("order cannot be cancelled")
	}
	o.status = StatusCancelled
	o.record(EventOrderCancelled, CancelledData{OrderID: o.id, Reason: reason})
	return nil
}

// MarkFailed transitions to Failed. Valid from any non-terminal state.
func (o *Order) MarkFailed(errMsg string) error {
	if o.status.Terminal() {
		return ErrTerminal
	}
	o.status = StatusFailed
	o.lastError = errMsg
	o.record(EventOrderFailed, FailedData{
		OrderID:    o.id,
		Error:      errMsg,
		RetryCount: o.retryCount,
	})
	return nil
}

// ResetForRetry returns a Failed order to Intake for re-processing.
func (o *Order) ResetForRetry() error {
	if o.status != StatusFailed {
		return errors.New("only failed orders can be retried")
	}
	o.status = StatusIntake
	o.retryCount = 0
	o.lastError = ""
	o.previewRef = ""
	o.record(EventOrderCreated, CreatedData{
		OrderID:     o.id,
		ProviderNPI: o.providerNPI,
		TestCount:   len(o.tests),
	})
	return nil
}

// Snapshot is an immutable copy of the full order context, used by the API
// layer and escalation reports.
type Snapshot struct {
	ID             string       `json:"id"`
	ProviderNPI    string       `json:"provider_npi"`
	ProviderName   string       `json:"provider_name"`
	Patient        Demographics `json:"patient"`
	Tests          []Test       `json:"tests"`
	Diagnoses      []string     `json:"diagnoses"`
	Instructions   string       `json:"instructions,omitempty"`
	Status         Status       `json:"status"`
	RetryCount     int          `json:"retry_count"`
	CreatedAt      time.Time    `json:"created_at"`
	SubmittedAt    *time.Time   `json:"submitted_at,omitempty"`
	ConfirmationID string       `json:"confirmation_id,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
	PreviewRef     string       `json:"preview_ref,omitempty"`
}

// Snapshot returns a copy of the order's current state.
func (o *Order) Snapshot() Snapshot {
	tests := make([]Test, len(o.tests))
	copy(tests, o.tests)
	diagnoses := make([]string, len(o.diagnoses))
	copy(diagnoses, o.diagnoses)
	return Snapshot{
		ID:             o.id,
		ProviderNPI:    o.providerNPI,
		ProviderName:   o.providerName,
		Patient:        o.patient,
		Tests:          tests,
		Diagnoses:      diagnoses,
		Instructions:   o.instructions,
		Status:         o.status,
		RetryCount:     o.retryCount,
		CreatedAt:      o.createdAt,
		SubmittedAt:    o.submittedAt,
		ConfirmationID: o.confirmationID,
		LastError:      o.lastError,
		PreviewRef:     o.previewRef,
	}
}

func (o *Order) record(t EventType, data interface{}) {
	event, err := NewEvent(o.id, t, data)
	if err != nil {
		return
	}
	o.changes = append(o.changes, event)
}
