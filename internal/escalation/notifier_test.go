package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func sampleReport() Report {
	return Report{
		OrderID:      "ord-7731",
		PatientName:  "Maria Santos",
		ProviderNPI:  "1234567890",
		TestCodes:    []string{"80053", "85025"},
		Class:        ClassRetryExhausted,
		Reason:       "retry limit reached after transient portal navigation failure",
		AttemptCount: 3,
		ArtifactRef:  "failure-1a2b3c4d.png",
		OccurredAt:   time.Date(2026, 8, 29, 14, 30, 0, 0, time.UTC),
	}
}

func TestSummaryIncludesOperationalContext(t *testing.T) {
	s := sampleReport().Summary()
	for _, want := range []string{"ord-7731", "Maria Santos", "3 attempt(s)", "80053,85025", "failure-1a2b3c4d.png"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q: %s", want, s)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		reason string
		want   FailureClass
	}{
		{"portal authentication failed: bad credentials", ClassAuthentication},
		{"no candidate selector matched: submit_button", ClassPortalDrift},
		{"preview confirmation window expired", ClassPreviewExpired},
		{"retry limit reached", ClassRetryExhausted},
		{"order validation: at least one diagnosis code required", ClassValidation},
		{"browser process crashed", ClassUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.reason); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.reason, got, tc.want)
		}
	}
}

type capturePublisher struct {
	topic string
	key   string
	value []byte
	err   error
}

func (p *capturePublisher) ProduceMessage(_ context.Context, topic, key string, value []byte) error {
	p.topic, p.key, p.value = topic, key, value
	return p.err
}

func TestKafkaNotifierPublishesKeyedByOrder(t *testing.T) {
	pub := &capturePublisher{}
	notifier := NewKafkaNotifier(pub, "portal.order.failures", nil)

	if err := notifier.Notify(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if pub.topic != "portal.order.failures" {
		t.Errorf("topic = %q", pub.topic)
	}
	if pub.key != "ord-7731" {
		t.Errorf("key = %q", pub.key)
	}
	var decoded Report
	if err := json.Unmarshal(pub.value, &decoded); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if decoded.Class != ClassRetryExhausted {
		t.Errorf("class = %s", decoded.Class)
	}
}

func TestKafkaNotifierPropagatesPublishError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker unavailable")}
	notifier := NewKafkaNotifier(pub, "portal.order.failures", nil)

	if err := notifier.Notify(context.Background(), sampleReport()); err == nil {
		t.Fatal("expected error from failed publish")
	}
}

func TestWebhookNotifierPostsReport(t *testing.T) {
	var received webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, time.Second, nil)
	if err := notifier.Notify(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if received.Report.OrderID != "ord-7731" {
		t.Errorf("order id = %q", received.Report.OrderID)
	}
	if received.Summary == "" {
		t.Error("summary missing from payload")
	}
}

func TestWebhookNotifierRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, time.Second, nil)
	if err := notifier.Notify(context.Background(), sampleReport()); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
