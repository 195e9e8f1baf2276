package x12

import (
	"strings"
	"testing"
	"time"

	"github.com/quartzhealth/portalbridge/internal/domain/order"
)

func testInquiry() Inquiry {
	return Inquiry{
		Patient: order.Demographics{
			FirstName:   "Jeremy",
			LastName:    "Montoya",
			DateOfBirth: "1984-07-17",
			MemberID:    "0123456789",
		},
		Provider:      Provider{Name: "CANYON FAMILY MEDICINE", NPI: "1235839765"},
		Payer:         Payer{Name: "UTAH MEDICAID", ID: "SKUT0"},
		SenderID:      "CANYONMED",
		ReceiverID:    "CLEARINGHS",
		ControlNumber: "100000001",
		TraceID:       "93175-012547",
		Now:           time.Date(2026, 8, 29, 14, 30, 0, 0, time.Local),
	}
}

func TestEncode270Deterministic(t *testing.T) {
	a := Encode270(testInquiry()).String()
	b := Encode270(testInquiry()).String()
	if a != b {
		t.Error("same inquiry should encode identically")
	}
}

func TestEncode270UsesLocalWallClock(t *testing.T) {
	inq := testInquiry()
	doc := Encode270(inq)

	wantDate := inq.Now.Format("20060102")
	var bht, dtp Segment
	for _, seg := range doc {
		switch seg.ID() {
		case "BHT":
			bht = seg
		case "DTP":
			dtp = seg
		}
	}
	if bht == nil || dtp == nil {
		t.Fatalf("missing BHT or DTP segment in %q", doc.String())
	}
	if bht.Element(4) != wantDate {
		t.Errorf("BHT date = %q, want %q", bht.Element(4), wantDate)
	}
	if dtp.Element(3) != wantDate {
		t.Errorf("DTP inquiry date = %q, want %q", dtp.Element(3), wantDate)
	}
}

func TestEncode270SubscriberSegments(t *testing.T) {
	doc := Encode270(testInquiry())
	raw := doc.String()

	if !strings.Contains(raw, "NM1*IL*1*Montoya*Jeremy***") {
		t.Errorf("missing subscriber name segment in %q", raw)
	}
	if !strings.Contains(raw, "DMG*D8*19840717") {
		t.Errorf("missing demographic segment in %q", raw)
	}
	if !strings.Contains(raw, "EQ*30") {
		t.Errorf("missing eligibility inquiry segment in %q", raw)
	}
}

// transportEcho builds the 271 a payer would return for an encoded 270,
// echoing the subscriber identity it received.
func transportEcho(doc Document) string {
	var name, dmg Segment
	for _, seg := range doc {
		switch {
		case seg.ID() == "NM1" && seg.Element(1) == "IL":
			name = seg
		case seg.ID() == "DMG":
			dmg = seg
		}
	}

	resp := Document{
		{"ST", "271", "0001"},
		{"HL", "1", "", "20", "1"},
		{"NM1", "PR", "2", "UTAH MEDICAID", "", "", "", "", "PI", "SKUT0"},
		{"HL", "2", "1", "21", "1"},
		{"HL", "3", "2", "22", "0"},
		name,
		dmg,
		{"EB", "1", "IND", "30", "MC", "TARGETED ADULT MEDICAID"},
		{"SE", "9", "0001"},
	}
	return resp.String()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	inq := testInquiry()
	res := Decode271(transportEcho(Encode270(inq)))

	if res.Verified.FirstName != inq.Patient.FirstName {
		t.Errorf("first name = %q, want %q", res.Verified.FirstName, inq.Patient.FirstName)
	}
	if res.Verified.LastName != inq.Patient.LastName {
		t.Errorf("last name = %q, want %q", res.Verified.LastName, inq.Patient.LastName)
	}
	if res.Verified.DateOfBirth != inq.Patient.DateOfBirth {
		t.Errorf("dob = %q, want %q", res.Verified.DateOfBirth, inq.Patient.DateOfBirth)
	}
	if res.VerifiedID != inq.Patient.MemberID {
		t.Errorf("verified id = %q, want %q", res.VerifiedID, inq.Patient.MemberID)
	}
}

func TestDecode271TargetedAdultMedicaid(t *testing.T) {
	raw := Document{
		{"ST", "271", "0001"},
		{"HL", "3", "2", "22", "0"},
		{"NM1", "IL", "1", "Montoya", "Jeremy", "", "", "", "MI", "0123456789"},
		{"DMG", "D8", "19840717"},
		{"EB", "1", "IND", "30", "MC", "TARGETED ADULT MEDICAID"},
	}.String()

	res := Decode271(raw)
	if !res.Eligible {
		t.Error("expected eligible result")
	}
	if res.PlanCategory != PlanFeeForService {
		t.Errorf("plan category = %q, want %q", res.PlanCategory, PlanFeeForService)
	}
	if res.Verified.DateOfBirth != "1984-07-17" {
		t.Errorf("dob = %q, want 1984-07-17", res.Verified.DateOfBirth)
	}
}

func TestDecode271ManagedCare(t *testing.T) {
	raw := "NM1*IL*1*Doe*Jane~EB*1*IND*30*HM*SELECTHEALTH MANAGED CARE~"
	res := Decode271(raw)
	if res.PlanCategory != PlanManagedCare {
		t.Errorf("plan category = %q, want %q", res.PlanCategory, PlanManagedCare)
	}
}

// The subscriber's address precedes a subordinate loop carrying a second,
// different address. Only the first may survive the decode.
func TestDecode271SubordinateLoopBoundary(t *testing.T) {
	raw := Document{
		{"NM1", "IL", "1", "Montoya", "Jeremy", "", "", "", "MI", "0123456789"},
		{"N3", "455 E 400 S"},
		{"N4", "SALT LAKE CITY", "UT", "84111"},
		{"LS", "2120"},
		{"NM1", "PR", "2", "MOLINA HEALTHCARE"},
		{"N3", "7050 UNION PARK CTR"},
		{"N4", "MIDVALE", "UT", "84047"},
		{"PER", "IC", "", "TE", "8015554444"},
	}.String()

	res := Decode271(raw)
	if res.Verified.Street != "455 E 400 S" {
		t.Errorf("street = %q, want patient street", res.Verified.Street)
	}
	if res.Verified.City != "SALT LAKE CITY" {
		t.Errorf("city = %q, want patient city", res.Verified.City)
	}
	if res.Verified.Phone != "" {
		t.Errorf("phone = %q, want empty (only subordinate loop carried one)", res.Verified.Phone)
	}
}

// A second entity NM1 without an LS marker also starts the subordinate loop.
func TestDecode271EntityChangeEndsSubscriberLoop(t *testing.T) {
	raw := Document{
		{"NM1", "IL", "1", "Montoya", "Jeremy"},
		{"N3", "455 E 400 S"},
		{"NM1", "P5", "1", "PLAN SPONSOR"},
		{"N3", "999 WRONG WAY"},
	}.String()

	res := Decode271(raw)
	if res.Verified.Street != "455 E 400 S" {
		t.Errorf("street = %q, want patient street", res.Verified.Street)
	}
}

func TestDecode271SkipsMalformedSegments(t *testing.T) {
	raw := "NM1*IL*1*Montoya*Jeremy~DMG*D8*NOTADATE~DMG~EB*1~XXJUNK~EB~"
	res := Decode271(raw)
	if !res.Eligible {
		t.Error("decode should survive malformed segments and keep the EB result")
	}
	if res.Verified.DateOfBirth != "" {
		t.Errorf("dob = %q, want empty for unparseable DMG", res.Verified.DateOfBirth)
	}
}

func TestDecode271NoCoverageSegments(t *testing.T) {
	res := Decode271("NM1*IL*1*Montoya*Jeremy~AAA*Y**75*C~")
	if res.Eligible {
		t.Error("eligible must require a coverage-indicating segment")
	}
	if res.PlanCategory != PlanUnknown {
		t.Errorf("plan category = %q, want unknown", res.PlanCategory)
	}
}
