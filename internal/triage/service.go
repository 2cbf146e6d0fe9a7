package triage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/sift/internal/domain"
	"github.com/linnemanlabs/sift/internal/store"
)

// Run statuses persisted on TriageRun rows.
const (
	RunComplete = "complete"
	RunFailed   = "failed"
)

// Notifier receives completed high-risk runs. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, run *domain.TriageRun, result *Result) error
}

// Service is the business boundary for triage operations: lifecycle,
// async dispatch, streaming subscriptions, and persistence of run + trace.
type Service struct {
	store    store.Store
	engine   *Engine
	registry *Registry
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
}

// NewService creates a triage service. metrics and notifier may be nil.
func NewService(st store.Store, engine *Engine, registry *Registry, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    st,
		engine:   engine,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
	}
}

// ErrAlertUnknown is returned by Start for an alert id with no row.
var ErrAlertUnknown = errors.New("triage: alert not found")

// Start registers a new run for the alert and dispatches the pipeline
// asynchronously. It returns the fresh run id immediately.
func (s *Service) Start(ctx context.Context, alertID string) (string, error) {
	if _, ok, err := s.store.GetAlert(ctx, alertID); err != nil {
		return "", err
	} else if !ok {
		return "", ErrAlertUnknown
	}

	runID := ulid.Make().String()
	bus := s.registry.Add(runID)

	// The run outlives the request so the trace is durable even if the
	// caller goes away.
	go s.run(context.WithoutCancel(ctx), runID, alertID, bus)

	return runID, nil
}

// Subscribe returns a read-only view of a run's event stream with full
// history replay. ok=false means the run is unknown or outside the
// retention window.
func (s *Service) Subscribe(runID string) (<-chan Event, func(), bool) {
	return s.registry.Subscribe(runID)
}

// GetRun retrieves a persisted run and its ordered traces.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.TriageRun, []domain.AgentTrace, bool, error) {
	return s.store.GetTriageRun(ctx, runID)
}

func (s *Service) run(ctx context.Context, runID, alertID string, bus *Bus) {
	L := s.logger.With("run_id", runID, "alert_id", alertID)
	started := time.Now()

	out := s.engine.Run(ctx, runID, alertID, bus)

	run := &domain.TriageRun{
		ID:           runID,
		AlertID:      alertID,
		StartedAt:    started,
		EndedAt:      time.Now(),
		FallbackUsed: out.FallbackUsed,
	}
	if out.Err != nil {
		run.Status = RunFailed
		run.Reasons = []string{"pipeline_error"}
	} else {
		run.Status = RunComplete
		run.Risk = out.Result.Risk
		run.Reasons = out.Result.Reasons
		run.DurationMS = out.Result.DurationMS
	}
	if run.DurationMS == 0 {
		run.DurationMS = run.EndedAt.Sub(run.StartedAt).Milliseconds()
	}

	// Persist before emitting the terminal event so a subscriber that
	// reacts to completion can immediately read the run back.
	// A failed run keeps its partial trace under a failed row; a failed
	// persistence of an alert-not-found run is expected (no alert FK) and
	// the stream still terminates.
	if err := s.store.InsertTriageRun(ctx, run, traceRows(runID, out.Steps)); err != nil {
		L.Error(ctx, err, "failed to persist triage run")
	}

	ev := newEvent(EventComplete)
	if out.Err != nil {
		ev = newEvent(EventError)
		ev.Error = &ErrorData{Message: out.Err.Error()}
	} else {
		ev.Complete = &CompleteData{Result: out.Result}
	}
	bus.Publish(ev)
	s.registry.MarkDone(runID)

	if s.metrics != nil {
		risk := ""
		if out.Result != nil {
			risk = string(out.Result.Risk)
		}
		s.metrics.RunsTotal.WithLabelValues(run.Status, risk).Inc()
		s.metrics.RunDuration.WithLabelValues(run.Status).Observe(float64(run.DurationMS) / 1000)
	}

	if s.notifier != nil && out.Result != nil && out.Result.Risk == domain.RiskHigh {
		if err := s.notifier.Notify(ctx, run, out.Result); err != nil {
			L.Warn(ctx, "high-risk notification failed", "error", err)
		}
	}

	L.Info(ctx, "triage run finished",
		"status", run.Status,
		"risk", run.Risk,
		"steps", len(out.Steps),
		"fallback_used", run.FallbackUsed,
		"duration_ms", run.DurationMS,
	)
}

// traceRows converts ordered step attempts into contiguous trace rows.
func traceRows(runID string, steps []AgentStep) []domain.AgentTrace {
	rows := make([]domain.AgentTrace, 0, len(steps))
	for i, st := range steps {
		detail, err := json.Marshal(struct {
			Result StepResult `json:"result,omitempty"`
			Error  string     `json:"error,omitempty"`
		}{st.Result, st.Error})
		if err != nil {
			detail = json.RawMessage(`{}`)
		}
		rows = append(rows, domain.AgentTrace{
			RunID:      runID,
			Seq:        i,
			Step:       st.Name,
			OK:         st.OK,
			DurationMS: st.DurationMS,
			Detail:     detail,
		})
	}
	return rows
}
