package portal

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quartzhealth/portalbridge/internal/domain/order"
)

// fakeDriver simulates a portal page: only selectors in visible match, and
// every mutating call is recorded.
type fakeDriver struct {
	mu         sync.Mutex
	visible    map[string]bool
	texts      map[string]string
	fills      map[string]string
	clicks     []string
	navigated  []string
	navErr     error
	shotErr    error
	closeCalls int
}

func newFakeDriver(visible ...string) *fakeDriver {
	v := make(map[string]bool, len(visible))
	for _, sel := range visible {
		v[sel] = true
	}
	return &fakeDriver{
		visible: v,
		texts:   make(map[string]string),
		fills:   make(map[string]string),
	}
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigated = append(d.navigated, url)
	return d.navErr
}

func (d *fakeDriver) WaitVisible(ctx context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.visible[selector] {
		return nil
	}
	return errors.New("not visible")
}

func (d *fakeDriver) Fill(ctx context.Context, selector, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fills[selector] = value
	return nil
}

func (d *fakeDriver) Click(ctx context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks = append(d.clicks, selector)
	return nil
}

func (d *fakeDriver) Text(ctx context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.texts[selector], nil
}

func (d *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	if d.shotErr != nil {
		return nil, d.shotErr
	}
	return []byte{0x89, 0x50, 0x4e, 0x47}, nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls++
	return nil
}

func testConfig() Config {
	return Config{
		LoginURL:      "https://portal.example.com/login",
		OrderFormURL:  "https://portal.example.com/orders/new",
		Username:      "svc-account",
		Password:      "hunter2",
		LocateTimeout: 50 * time.Millisecond,
		ActionTimeout: 100 * time.Millisecond,
	}
}

func TestLocateFallsBackThroughCandidates(t *testing.T) {
	// Only the second login_username candidate exists on this page.
	driver := newFakeDriver("input[name='username']")
	session := NewSession(driver, DefaultSelectorSet(), testConfig(), nil, nil)
	defer session.Cleanup()

	selector, err := session.Locate(context.Background(), FieldLoginUsername)
	if err != nil {
		t.Fatalf("Locate returned error: %v", err)
	}
	if selector != "input[name='username']" {
		t.Errorf("expected fallback candidate, got %q", selector)
	}
}

func TestLocateExhaustionReturnsElementNotFound(t *testing.T) {
	driver := newFakeDriver()
	session := NewSession(driver, DefaultSelectorSet(), testConfig(), nil, nil)
	defer session.Cleanup()

	_, err := session.Locate(context.Background(), FieldLoginUsername)
	if !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("expected ErrElementNotFound, got %v", err)
	}
}

func TestLoginRejectedCredentialsAreFatal(t *testing.T) {
	driver := newFakeDriver(
		"#username", "#password", "button[type='submit']",
		".login-error",
	)
	session := NewSession(driver, DefaultSelectorSet(), testConfig(), nil, nil)
	defer session.Cleanup()

	err := session.Login(context.Background())
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestLoginSuccessReachesDashboard(t *testing.T) {
	driver := newFakeDriver(
		"#username", "#password", "button[type='submit']",
		"#dashboard",
	)
	session := NewSession(driver, DefaultSelectorSet(), testConfig(), nil, nil)
	defer session.Cleanup()

	if err := session.Login(context.Background()); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if driver.fills["#username"] != "svc-account" {
		t.Errorf("username not filled, fills: %v", driver.fills)
	}
	if driver.fills["#password"] != "hunter2" {
		t.Errorf("password not filled")
	}
}

func TestLoginMissingDashboardIsTransient(t *testing.T) {
	driver := newFakeDriver("#username", "#password", "button[type='submit']")
	session := NewSession(driver, DefaultSelectorSet(), testConfig(), nil, nil)
	defer session.Cleanup()

	err := session.Login(context.Background())
	if !errors.Is(err, ErrTransientNavigation) {
		t.Fatalf("expected ErrTransientNavigation, got %v", err)
	}
}

func TestFillOrderFormEntersPatientTestsAndDiagnoses(t *testing.T) {
	driver := newFakeDriver(
		"#patientFirstName", "#patientLastName", "#patientDob",
		"#memberId", "#addressLine1", "#addressCity", "#addressState",
		"#addressZip", "#patientPhone", "#orderingProviderNpi",
		"#diagnosisCodes", "#testSearch", "#addTestButton",
		"#specialInstructions",
	)
	session := NewSession(driver, DefaultSelectorSet(), testConfig(), nil, nil)
	defer session.Cleanup()

	snap := order.Snapshot{
		ProviderNPI: "1234567890",
		Patient: order.Demographics{
			FirstName:   "Maria",
			LastName:    "Santos",
			DateOfBirth: "1979-03-02",
			MemberID:    "XJK992817",
			City:        "Mesa",
			State:       "AZ",
		},
		Tests:        []order.Test{{Code: "80053"}, {Code: "85025"}},
		Diagnoses:    []string{"E11.9", "I10"},
		Instructions: "fasting draw",
	}
	if err := session.FillOrderForm(context.Background(), snap); err != nil {
		t.Fatalf("FillOrderForm returned error: %v", err)
	}

	if driver.fills["#diagnosisCodes"] != "E11.9,I10" {
		t.Errorf("diagnoses = %q", driver.fills["#diagnosisCodes"])
	}
	if driver.fills["#testSearch"] != "85025" {
		t.Errorf("last test searched = %q", driver.fills["#testSearch"])
	}
	addClicks := 0
	for _, c := range driver.clicks {
		if c == "#addTestButton" {
			addClicks++
		}
	}
	if addClicks != 2 {
		t.Errorf("expected 2 add-test clicks, got %d", addClicks)
	}
	if _, filled := driver.fills["#addressLine1"]; filled {
		t.Error("empty street should not have been filled")
	}
}

func TestSubmitReadsConfirmationID(t *testing.T) {
	driver := newFakeDriver("#submitOrderButton", "#confirmationNumber")
	driver.texts["#confirmationNumber"] = "  LAB-20260829-0042\n"
	session := NewSession(driver, DefaultSelectorSet(), testConfig(), nil, nil)
	defer session.Cleanup()

	id, err := session.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if id != "LAB-20260829-0042" {
		t.Errorf("confirmation id = %q", id)
	}
}

func TestScreenshotFailureDoesNotAbort(t *testing.T) {
	driver := newFakeDriver()
	driver.shotErr = errors.New("target crashed")
	store := NewArtifactStore(time.Minute)
	defer store.Stop()
	session := NewSession(driver, DefaultSelectorSet(), testConfig(), store, nil)
	defer session.Cleanup()

	if ref := session.Screenshot(context.Background(), "preview"); ref != "" {
		t.Errorf("expected empty ref on capture failure, got %q", ref)
	}
}

func TestScreenshotStoresArtifact(t *testing.T) {
	driver := newFakeDriver()
	store := NewArtifactStore(time.Minute)
	defer store.Stop()
	session := NewSession(driver, DefaultSelectorSet(), testConfig(), store, nil)
	defer session.Cleanup()

	ref := session.Screenshot(context.Background(), "preview")
	if ref == "" {
		t.Fatal("expected artifact reference")
	}
	if !strings.HasPrefix(ref, "preview-") {
		t.Errorf("reference %q missing label prefix", ref)
	}
	data, ok := store.Get(ref)
	if !ok || len(data) == 0 {
		t.Error("artifact not retrievable from store")
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	driver := newFakeDriver()
	session := NewSession(driver, DefaultSelectorSet(), testConfig(), nil, nil)

	session.Cleanup()
	session.Cleanup()
	session.Cleanup()

	if driver.closeCalls != 1 {
		t.Errorf("driver closed %d times, want 1", driver.closeCalls)
	}
}

func TestLoadSelectorSetMergesOverrides(t *testing.T) {
	path := t.TempDir() + "/selectors.json"
	if err := os.WriteFile(path, []byte(`{"login_username": ["#newLoginField"]}`), 0o600); err != nil {
		t.Fatal(err)
	}

	set, err := LoadSelectorSet(path)
	if err != nil {
		t.Fatalf("LoadSelectorSet returned error: %v", err)
	}
	got := set.Candidates(FieldLoginUsername)
	if len(got) != 1 || got[0] != "#newLoginField" {
		t.Errorf("override not applied: %v", got)
	}
	if len(set.Candidates(FieldSubmitButton)) == 0 {
		t.Error("defaults lost for untouched fields")
	}
}
