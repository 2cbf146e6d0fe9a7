package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/linnemanlabs/sift/internal/domain"
	"github.com/linnemanlabs/sift/internal/triage"
)

func sampleRun() (*domain.TriageRun, *triage.Result) {
	run := &domain.TriageRun{
		ID: "run_1", AlertID: "alert_1",
		Status: "complete", Risk: domain.RiskHigh,
		EndedAt: time.Now(), DurationMS: 812,
	}
	res := &triage.Result{
		Risk:           domain.RiskHigh,
		Recommendation: triage.RecommendFreezeCard,
		Reasons:        []string{"high_velocity", "large_amount"},
		Confidence:     0.92,
	}
	return run, res
}

func TestNotifyPostsPayload(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	run, res := sampleRun()
	if err := New(srv.URL).Notify(context.Background(), run, res); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got["run_id"] != "run_1" || got["risk"] != "high" || got["recommendation"] != "freeze_card" {
		t.Errorf("payload = %v", got)
	}
}

func TestNotifyEmptyURLIsNoop(t *testing.T) {
	t.Parallel()

	run, res := sampleRun()
	if err := New("").Notify(context.Background(), run, res); err != nil {
		t.Errorf("Notify with empty url: %v", err)
	}
}

func TestNotifyNon2xxIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	run, res := sampleRun()
	if err := New(srv.URL).Notify(context.Background(), run, res); err == nil {
		t.Error("Notify succeeded against a 503 endpoint")
	}
}
