package eligibility

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/quartzhealth/portalbridge/internal/domain/order"
	"github.com/quartzhealth/portalbridge/internal/edi/x12"
)

type fakeSender struct {
	requests []string
	response string
	err      error
}

func (f *fakeSender) Send(_ context.Context, edi string) (string, error) {
	f.requests = append(f.requests, edi)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func testConfig() Config {
	return Config{
		Provider:   x12.Provider{Name: "CANYON FAMILY MEDICINE", NPI: "1235839765"},
		Payer:      x12.Payer{Name: "UTAH MEDICAID", ID: "SKUT0"},
		SenderID:   "CANYONMED",
		ReceiverID: "CLEARINGHS",
		Username:   "labuser",
		Password:   "secret",
	}
}

var montoya = order.Demographics{
	FirstName:   "Jeremy",
	LastName:    "Montoya",
	DateOfBirth: "1984-07-17",
	MemberID:    "0123456789",
}

func TestCheckDecodesCoverage(t *testing.T) {
	sender := &fakeSender{
		response: "NM1*IL*1*Montoya*Jeremy***MI*0123456789~" +
			"DMG*D8*19840717~" +
			"N3*455 E 400 S~N4*SALT LAKE CITY*UT*84111~" +
			"EB*1*IND*30*MC*TARGETED ADULT MEDICAID~",
	}
	svc := New(testConfig(), sender, nil)

	res, err := svc.Check(context.Background(), montoya)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !res.Eligible {
		t.Error("expected eligible")
	}
	if res.PlanCategory != x12.PlanFeeForService {
		t.Errorf("plan category = %q", res.PlanCategory)
	}
	if res.Verified.Street != "455 E 400 S" {
		t.Errorf("verified street = %q", res.Verified.Street)
	}
	if len(sender.requests) != 1 || !strings.Contains(sender.requests[0], "NM1*IL*1*Montoya*Jeremy") {
		t.Error("expected one 270 exchange carrying the subscriber")
	}
}

func TestCheckCredentialsMissing(t *testing.T) {
	cfg := testConfig()
	cfg.Password = ""
	sender := &fakeSender{response: "EB*1~"}
	svc := New(cfg, sender, nil)

	_, err := svc.Check(context.Background(), montoya)
	if !errors.Is(err, ErrCredentialsMissing) {
		t.Errorf("err = %v, want ErrCredentialsMissing", err)
	}
	if len(sender.requests) != 0 {
		t.Error("no exchange may happen without credentials")
	}
}

func TestCheckPropagatesTransportError(t *testing.T) {
	wantErr := errors.New("gateway unreachable")
	svc := New(testConfig(), &fakeSender{err: wantErr}, nil)

	_, err := svc.Check(context.Background(), montoya)
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want transport error passed through", err)
	}
}

func TestCheckDecodeError(t *testing.T) {
	svc := New(testConfig(), &fakeSender{response: "   "}, nil)
	_, err := svc.Check(context.Background(), montoya)
	if !errors.Is(err, ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

func TestCheckFreshControlNumbers(t *testing.T) {
	sender := &fakeSender{response: "EB*1*IND*30~"}
	svc := New(testConfig(), sender, nil)

	for i := 0; i < 2; i++ {
		if _, err := svc.Check(context.Background(), montoya); err != nil {
			t.Fatalf("check %d failed: %v", i, err)
		}
	}

	bht := func(raw string) string {
		for _, seg := range x12.ParseSegments(raw) {
			if seg.ID() == "BHT" {
				return seg.Element(3)
			}
		}
		return ""
	}
	if bht(sender.requests[0]) == bht(sender.requests[1]) {
		t.Error("control numbers must be fresh per call")
	}
}
