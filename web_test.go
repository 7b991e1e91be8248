package bubbleads

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatus_ReportsRunAndStacks(t *testing.T) {
	// WHAT: /api/status exposes the latest run, its summary slot and the
	// per-domain stack detection results.
	img := newImageServer(t)
	svc, _ := newTestService(t, img.URL)

	if _, err := svc.RunTrends(context.Background()); err != nil {
		t.Fatalf("trends: %v", err)
	}

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: %d", rec.Code)
	}

	var status struct {
		Busy   bool              `json:"busy"`
		Run    *struct{ ID string } `json:"run"`
		Stacks map[string]string `json:"stacks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Busy {
		t.Error("no stage should be running")
	}
	if status.Run == nil {
		t.Error("latest run should be reported")
	}
	if status.Stacks["a.example"] != "mastodon" || status.Stacks["b.example"] != "mastodon" {
		t.Errorf("stacks: %v", status.Stacks)
	}
}

func TestTrends_WithoutRunIs404(t *testing.T) {
	img := newImageServer(t)
	svc, _ := newTestService(t, img.URL)

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trends", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status code: got %d, want 404", rec.Code)
	}
}

func TestRunStage_RejectsUnknownStage(t *testing.T) {
	img := newImageServer(t)
	svc, _ := newTestService(t, img.URL)

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run/frobnicate", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status code: got %d, want 400", rec.Code)
	}
}
