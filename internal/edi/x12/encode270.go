package x12

import (
	"fmt"
	"strings"
	"time"

	"github.com/quartzhealth/portalbridge/internal/domain/order"
)

// Provider identifies the ordering provider on an inquiry.
type Provider struct {
	Name string
	NPI  string
}

// Payer identifies the information source the clearinghouse routes to.
type Payer struct {
	Name string
	ID   string
}

// Inquiry is the full input to a 270 encoding. Now must be the caller's
// wall clock in local time: clearinghouses compare the control date against
// their own server clock, and encoding UTC here produces "date in the
// future" rejections for payers west of the meridian.
type Inquiry struct {
	Patient       order.Demographics
	Provider      Provider
	Payer         Payer
	SenderID      string
	ReceiverID    string
	ControlNumber string
	TraceID       string
	Now           time.Time
}

const versionID = "005010X279A1"

// Encode270 builds the eligibility inquiry document. Pure and deterministic
// for a fixed Inquiry value.
func Encode270(inq Inquiry) Document {
	now := inq.Now
	ctl9 := padControl(inq.ControlNumber, 9)
	ctl4 := padControl(inq.ControlNumber, 4)

	doc := Document{
		{"ISA", "00", strings.Repeat(" ", 10), "00", strings.Repeat(" ", 10),
			"ZZ", padRight(inq.SenderID, 15), "ZZ", padRight(inq.ReceiverID, 15),
			now.Format("060102"), now.Format("1504"), RepetitionChar, "00501",
			ctl9, "0", "P", ComponentSeparator},
		{"GS", "HS", inq.SenderID, inq.ReceiverID, now.Format("20060102"),
			now.Format("1504"), ctl4, "X", versionID},
		{"ST", "270", "0001", versionID},
		{"BHT", "0022", "13", inq.ControlNumber, now.Format("20060102"), now.Format("1504")},

		// 2000A information source
		{"HL", "1", "", "20", "1"},
		{"NM1", "PR", "2", inq.Payer.Name, "", "", "", "", "PI", inq.Payer.ID},

		// 2000B information receiver
		{"HL", "2", "1", "21", "1"},
		{"NM1", "1P", "2", inq.Provider.Name, "", "", "", "", "XX", inq.Provider.NPI},

		// 2000C subscriber
		{"HL", "3", "2", "22", "0"},
		{"TRN", "1", inq.TraceID, padControl(inq.SenderID, 10)},
	}

	doc = append(doc, subscriberName(inq.Patient))

	if dob, ok := wireDate(inq.Patient.DateOfBirth); ok {
		doc = append(doc, Segment{"DMG", "D8", dob})
	}

	// Inquiry date range uses the same local wall clock as the control
	// headers.
	doc = append(doc,
		Segment{"DTP", "291", "D8", now.Format("20060102")},
		Segment{"EQ", "30"},
	)

	// SE counts ST through SE inclusive.
	stIndex := 2
	segmentCount := len(doc) - stIndex + 1
	doc = append(doc,
		Segment{"SE", fmt.Sprintf("%d", segmentCount), "0001"},
		Segment{"GE", "1", ctl4},
		Segment{"IEA", "1", ctl9},
	)
	return doc
}

func subscriberName(p order.Demographics) Segment {
	seg := Segment{"NM1", "IL", "1", p.LastName, p.FirstName, "", "", ""}
	if p.MemberID != "" {
		return append(seg, "MI", p.MemberID)
	}
	return append(seg, "", "")
}

// wireDate converts ISO 8601 (YYYY-MM-DD) to the D8 wire format (YYYYMMDD).
func wireDate(iso string) (string, bool) {
	t, err := time.Parse("2006-01-02", iso)
	if err != nil {
		return "", false
	}
	return t.Format("20060102"), true
}

func padControl(s string, width int) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) > width {
		return digits[len(digits)-width:]
	}
	return strings.Repeat("0", width-len(digits)) + digits
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}
