// Package webhook posts high-risk triage outcomes to a configured HTTP
// endpoint so an external case queue or pager can pick them up.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/sift/internal/domain"
	"github.com/linnemanlabs/sift/internal/triage"
)

const httpTimeout = 10 * time.Second

// Notifier posts triage results to a webhook.
type Notifier struct {
	url    string
	client *http.Client
}

// New creates a webhook notifier. If url is empty, Notify is a no-op.
func New(url string) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: httpTimeout},
	}
}

// Notify posts the run outcome to the configured endpoint.
// If no URL is configured, it returns nil immediately.
func (n *Notifier) Notify(ctx context.Context, run *domain.TriageRun, result *triage.Result) error {
	if n.url == "" {
		return nil
	}

	body, err := json.Marshal(payload(run, result))
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func payload(run *domain.TriageRun, result *triage.Result) map[string]any {
	return map[string]any{
		"run_id":         run.ID,
		"alert_id":       run.AlertID,
		"risk":           result.Risk,
		"recommendation": result.Recommendation,
		"reasons":        result.Reasons,
		"confidence":     result.Confidence,
		"fallback_used":  result.FallbackUsed,
		"duration_ms":    run.DurationMS,
		"finished_at":    run.EndedAt.UTC().Format(time.RFC3339),
	}
}
