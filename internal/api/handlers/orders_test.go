package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quartzhealth/portalbridge/internal/domain/order"
	"github.com/quartzhealth/portalbridge/internal/orchestrator"
	"github.com/quartzhealth/portalbridge/internal/portal"
)

// happyDriver walks every selector except the login error banner.
type happyDriver struct {
	confirmation string
}

var loginErrorSelectors = map[string]bool{
	".login-error":   true,
	"#loginErrorMsg": true,
	".alert-danger":  true,
}

func (d *happyDriver) Navigate(ctx context.Context, url string) error { return nil }

func (d *happyDriver) WaitVisible(ctx context.Context, selector string) error {
	if loginErrorSelectors[selector] {
		return errors.New("not visible")
	}
	return nil
}

func (d *happyDriver) Fill(ctx context.Context, selector, value string) error { return nil }
func (d *happyDriver) Click(ctx context.Context, selector string) error       { return nil }
func (d *happyDriver) Text(ctx context.Context, selector string) (string, error) {
	return d.confirmation, nil
}
func (d *happyDriver) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte{0x89, 0x50}, nil
}
func (d *happyDriver) Close() error { return nil }

func newTestHandler(t *testing.T) (*OrderHandler, *portal.ArtifactStore) {
	t.Helper()

	artifacts := portal.NewArtifactStore(time.Minute)
	t.Cleanup(artifacts.Stop)

	orch, err := orchestrator.New(orchestrator.Config{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Workers:    2,
		QueueSize:  16,
		Registry:   orchestrator.RegistryConfig{TTL: time.Hour, SweepInterval: time.Hour},
	}, orchestrator.Deps{
		Factory: func(ctx context.Context) (portal.Driver, error) {
			return &happyDriver{confirmation: "LAB-77"}, nil
		},
		Portal: portal.Config{
			LoginURL:      "https://portal.test/login",
			OrderFormURL:  "https://portal.test/orders/new",
			Username:      "svc",
			Password:      "secret",
			LocateTimeout: 5 * time.Millisecond,
			ActionTimeout: 50 * time.Millisecond,
		},
		Artifacts: artifacts,
	})
	if err != nil {
		t.Fatalf("orchestrator setup failed: %v", err)
	}
	orch.Start()
	t.Cleanup(orch.Stop)

	return NewOrderHandler(orch, nil, artifacts, nil), artifacts
}

func intakeBody() []byte {
	body, _ := json.Marshal(order.Intake{
		ProviderNPI: "1234567890",
		Patient: order.Demographics{
			FirstName:   "Maria",
			LastName:    "Santos",
			DateOfBirth: "1979-03-02",
		},
		Tests:     []order.Test{{Code: "80053"}},
		Diagnoses: []string{"E11.9"},
	})
	return body
}

func postOrder(t *testing.T, h *OrderHandler, body []byte) OrderResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp OrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp
}

func waitForAPIStatus(t *testing.T, h *OrderHandler, id, want string) OrderResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/"+id, nil)
		rec := httptest.NewRecorder()
		h.Routes().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("get returned %d", rec.Code)
		}
		var resp OrderResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode get response: %v", err)
		}
		if resp.Status == want {
			return resp
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("order %s never reached API status %q", id, want)
	return OrderResponse{}
}

func TestCreatePreviewConfirmFlow(t *testing.T) {
	h, _ := newTestHandler(t)

	created := postOrder(t, h, intakeBody())
	if created.Status != "processing" {
		t.Errorf("initial status = %q", created.Status)
	}

	preview := waitForAPIStatus(t, h, created.ID, "preview")

	// Preview detail
	req := httptest.NewRequest(http.MethodGet, "/"+created.ID+"/preview", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview returned %d", rec.Code)
	}
	var pv PreviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pv); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if pv.ArtifactRef != preview.PreviewRef {
		t.Errorf("artifact ref mismatch: %q vs %q", pv.ArtifactRef, preview.PreviewRef)
	}

	// Preview image
	req = httptest.NewRequest(http.MethodGet, "/"+created.ID+"/preview/image", nil)
	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview image returned %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("image content type = %q", ct)
	}

	// Confirm
	req = httptest.NewRequest(http.MethodPost, "/"+created.ID+"/confirm", nil)
	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm returned %d: %s", rec.Code, rec.Body.String())
	}

	final := waitForAPIStatus(t, h, created.ID, "submitted")
	if final.ConfirmationID != "LAB-77" {
		t.Errorf("confirmation id = %q", final.ConfirmationID)
	}
}

func TestCreateRejectsInvalidIntake(t *testing.T) {
	h, _ := newTestHandler(t)

	body, _ := json.Marshal(order.Intake{
		ProviderNPI: "1234567890",
		Patient:     order.Demographics{FirstName: "Maria", LastName: "Santos", DateOfBirth: "1979-03-02"},
		Tests:       []order.Test{{Code: "80053"}},
		// no diagnoses
	})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestCreateRejectsMalformedJSON(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetUnknownOrderReturns404(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestConfirmBeforePreviewConflicts(t *testing.T) {
	h, _ := newTestHandler(t)

	// Unknown ID vs wrong-state both map to client errors.
	req := httptest.NewRequest(http.MethodPost, "/missing/confirm", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCancelAtPreview(t *testing.T) {
	h, _ := newTestHandler(t)

	created := postOrder(t, h, intakeBody())
	waitForAPIStatus(t, h, created.ID, "preview")

	req := httptest.NewRequest(http.MethodPost, "/"+created.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp OrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode cancel response: %v", err)
	}
	if resp.Status != "cancelled" {
		t.Errorf("status = %q", resp.Status)
	}
}
