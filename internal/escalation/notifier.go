// Package escalation routes terminally failed portal orders to humans.
// Every order that exhausts automation ends up here exactly once.
package escalation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FailureClass categorizes why automation gave up.
type FailureClass string

const (
	ClassAuthentication FailureClass = "authentication"
	ClassValidation     FailureClass = "validation"
	ClassPortalDrift    FailureClass = "portal_drift"
	ClassRetryExhausted FailureClass = "retry_exhausted"
	ClassPreviewExpired FailureClass = "preview_expired"
	ClassUnknown        FailureClass = "unknown"
)

// Report is the full context a human needs to take over an order.
type Report struct {
	OrderID      string       `json:"order_id"`
	PatientName  string       `json:"patient_name"`
	ProviderNPI  string       `json:"provider_npi"`
	TestCodes    []string     `json:"test_codes"`
	Class        FailureClass `json:"class"`
	Reason       string       `json:"reason"`
	AttemptCount int          `json:"attempt_count"`
	ArtifactRef  string       `json:"artifact_ref,omitempty"`
	OccurredAt   time.Time    `json:"occurred_at"`
}

// Summary renders a single-paragraph description for ticketing systems and
// log lines.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "lab order %s for %s failed after %d attempt(s): %s [%s]",
		r.OrderID, r.PatientName, r.AttemptCount, r.Reason, r.Class)
	if len(r.TestCodes) > 0 {
		fmt.Fprintf(&b, " tests=%s", strings.Join(r.TestCodes, ","))
	}
	if r.ArtifactRef != "" {
		fmt.Fprintf(&b, " screenshot=%s", r.ArtifactRef)
	}
	return b.String()
}

// Notifier delivers escalation reports. Implementations must tolerate being
// called from failure paths: a notify error is logged by the caller but
// never blocks order finalization.
type Notifier interface {
	Notify(ctx context.Context, report Report) error
}

// Classify maps an automation error message onto a failure class.
func Classify(reason string) FailureClass {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "authentication"), strings.Contains(lower, "credentials"):
		return ClassAuthentication
	case strings.Contains(lower, "selector"), strings.Contains(lower, "candidate"):
		return ClassPortalDrift
	case strings.Contains(lower, "preview confirmation window"):
		return ClassPreviewExpired
	case strings.Contains(lower, "retry"), strings.Contains(lower, "attempts"):
		return ClassRetryExhausted
	case strings.Contains(lower, "validation"), strings.Contains(lower, "diagnosis"), strings.Contains(lower, "identity"):
		return ClassValidation
	default:
		return ClassUnknown
	}
}
