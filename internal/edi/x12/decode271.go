package x12

import (
	"strings"
	"time"

	"github.com/quartzhealth/portalbridge/internal/domain/order"
)

// PlanCategory classifies the coverage reported on a 271.
type PlanCategory string

const (
	PlanFeeForService PlanCategory = "traditional_fee_for_service"
	PlanManagedCare   PlanCategory = "managed_care"
	PlanUnknown       PlanCategory = "unknown"
)

// Result is the structured eligibility outcome of a 271 decode. Eligible is
// true only when at least one coverage-indicating EB segment was observed.
// Fields absent from the wire payload stay empty.
type Result struct {
	Eligible        bool
	PlanCategory    PlanCategory
	PlanDescription string
	VerifiedID      string
	Verified        order.Demographics
	Raw             string
}

// Decode271 runs a single linear pass over the response segments. Two
// cursors track position: whether the pass is inside the subscriber entity,
// and whether a subordinate loop has started. Address and phone segments
// recur for non-patient entities (payer contacts, related benefit entities)
// later in the payload and must be ignored once the subordinate loop starts.
//
// The decode is best-effort: a parse mismatch on any single segment skips
// that segment, never the whole decode.
func Decode271(raw string) Result {
	res := Result{PlanCategory: PlanUnknown, Raw: raw}

	inSubscriber := false
	inSubordinate := false

	for _, seg := range ParseSegments(raw) {
		switch seg.ID() {
		case "NM1":
			switch {
			case seg.Element(1) == "IL" && !inSubordinate:
				inSubscriber = true
				res.Verified.LastName = seg.Element(3)
				res.Verified.FirstName = seg.Element(4)
				if seg.Element(8) == "MI" {
					res.VerifiedID = seg.Element(9)
				}
			case inSubscriber:
				// A non-subscriber entity after the subscriber loop.
				inSubordinate = true
			}

		case "LS":
			// Explicit subordinate loop marker (2110C/2120 loops).
			inSubordinate = true

		case "N3":
			if inSubscriber && !inSubordinate && res.Verified.Street == "" {
				res.Verified.Street = seg.Element(1)
			}

		case "N4":
			if inSubscriber && !inSubordinate && res.Verified.City == "" {
				res.Verified.City = seg.Element(1)
				res.Verified.State = seg.Element(2)
				res.Verified.PostalCode = seg.Element(3)
			}

		case "PER":
			if inSubscriber && !inSubordinate && res.Verified.Phone == "" {
				res.Verified.Phone = contactPhone(seg)
			}

		case "DMG":
			if inSubscriber && !inSubordinate && seg.Element(1) == "D8" {
				if t, err := time.Parse("20060102", seg.Element(2)); err == nil {
					res.Verified.DateOfBirth = t.Format("2006-01-02")
				}
			}

		case "EB":
			// EB01 is the coverage status code; "1" is active coverage.
			if seg.Element(1) == "1" {
				res.Eligible = true
			}
			if desc := seg.Element(5); desc != "" && res.PlanDescription == "" {
				res.PlanDescription = desc
				res.PlanCategory = classifyPlan(desc)
			}

		case "REF":
			if inSubscriber && !inSubordinate && res.VerifiedID == "" {
				switch seg.Element(1) {
				case "1L", "IG", "N6":
					res.VerifiedID = seg.Element(2)
				}
			}
		}
	}

	return res
}

// contactPhone scans a PER segment's qualifier/value pairs for a telephone
// contact.
func contactPhone(seg Segment) string {
	for i := 3; i+1 < len(seg); i += 2 {
		if seg.Element(i) == "TE" {
			return seg.Element(i + 1)
		}
	}
	return ""
}

func classifyPlan(description string) PlanCategory {
	d := strings.ToUpper(description)
	switch {
	case strings.Contains(d, "MANAGED"),
		strings.Contains(d, "HMO"),
		strings.Contains(d, "MCO"):
		return PlanManagedCare
	case strings.Contains(d, "MEDICAID"),
		strings.Contains(d, "FEE FOR SERVICE"),
		strings.Contains(d, "FFS"):
		return PlanFeeForService
	default:
		return PlanUnknown
	}
}
