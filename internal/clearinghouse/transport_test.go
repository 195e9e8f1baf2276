package clearinghouse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func respondWith(payload string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<Envelope><Body><COREEnvelopeRealTimeResponse>
			<ErrorCode>Success</ErrorCode>
			<Payload>%s</Payload>
			</COREEnvelopeRealTimeResponse></Body></Envelope>`, payload)
	}
}

type recordingAudit struct {
	exchanges []Exchange
	fail      bool
}

func (a *recordingAudit) SaveExchange(_ context.Context, ex Exchange) error {
	if a.fail {
		return errors.New("audit store unavailable")
	}
	a.exchanges = append(a.exchanges, ex)
	return nil
}

func newTestTransport(t *testing.T, srv *httptest.Server, audit AuditStore) *Transport {
	t.Helper()
	tr, err := New(Config{
		Endpoint:   srv.URL,
		Username:   "labuser",
		Password:   "secret",
		SenderID:   "CANYONMED",
		ReceiverID: "CLEARINGHS",
		Timeout:    2 * time.Second,
	}, audit, nil)
	if err != nil {
		t.Fatalf("transport creation failed: %v", err)
	}
	return tr
}

func TestSendExtractsPayload(t *testing.T) {
	srv := httptest.NewServer(respondWith("EB*1*IND*30~"))
	defer srv.Close()

	audit := &recordingAudit{}
	tr := newTestTransport(t, srv, audit)

	payload, err := tr.Send(context.Background(), "ST*270*0001~")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if payload != "EB*1*IND*30~" {
		t.Errorf("payload = %q", payload)
	}
	if len(audit.exchanges) != 1 {
		t.Fatalf("expected one audited exchange, got %d", len(audit.exchanges))
	}
	if !strings.Contains(audit.exchanges[0].Request, "ST*270*0001~") {
		t.Error("audited request should carry the raw 270")
	}
}

func TestSendRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, nil)
	_, err := tr.Send(context.Background(), "ST*270*0001~")
	if !errors.Is(err, ErrTransportRejected) {
		t.Errorf("err = %v, want ErrTransportRejected", err)
	}
}

func TestSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	tr, err := New(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, nil, nil)
	if err != nil {
		t.Fatalf("transport creation failed: %v", err)
	}
	_, err = tr.Send(context.Background(), "ST*270*0001~")
	if !errors.Is(err, ErrTransportTimeout) {
		t.Errorf("err = %v, want ErrTransportTimeout", err)
	}
}

func TestSendAuditFailureIsNonFatal(t *testing.T) {
	srv := httptest.NewServer(respondWith("EB*1~"))
	defer srv.Close()

	tr := newTestTransport(t, srv, &recordingAudit{fail: true})
	payload, err := tr.Send(context.Background(), "ST*270*0001~")
	if err != nil {
		t.Fatalf("audit failure must never fail the exchange: %v", err)
	}
	if payload != "EB*1~" {
		t.Errorf("payload = %q", payload)
	}
}
