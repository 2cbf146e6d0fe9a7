package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sift/internal/domain"
	"github.com/linnemanlabs/sift/internal/store"
)

const (
	// StepTimeout bounds each step's wall time.
	StepTimeout = 5 * time.Second
	// RunBudget bounds the whole pipeline.
	RunBudget = 10 * time.Second

	// MaxRetries is the number of retries after the first attempt for
	// retriable steps.
	MaxRetries = 2

	recentTxnLimit = 20
	kbDocLimit     = 2
)

// Backoff schedule between retry attempts.
var retryBackoff = []time.Duration{150 * time.Millisecond, 400 * time.Millisecond}

// Risk signal thresholds.
const (
	highVelocityCount      = 15
	largeAmountMinor       = 50_000
	merchantConcentrationN = 3
	merchantConcentrationC = 10
	homeCountry            = "IN"
)

// ErrAlertNotFound terminates a run whose alert does not exist.
var ErrAlertNotFound = errors.New("alert not found")

// Sink is the write-only event destination the engine publishes to.
// The transport never reaches back into the engine through it.
type Sink interface {
	Publish(Event)
}

// EngineHooks are instrumentation callbacks (wired to Prometheus by main).
type EngineHooks struct {
	OnStep     func(name string, ok bool, duration float64)
	OnRetry    func(step string)
	OnFallback func(step string)
}

// Outcome is what a pipeline run produced: a result or a terminal error,
// plus the ordered step attempts either way so the trace is durable.
type Outcome struct {
	Result       *Result
	Err          error
	Steps        []AgentStep
	FallbackUsed bool

	lastError error
}

// Engine executes the investigation pipeline. It is pure with respect to
// persistence: it only reads through the store and publishes events; the
// Service owns all triage writes.
type Engine struct {
	store  store.Store
	logger log.Logger
	hooks  EngineHooks

	// injectFailure, when non-nil, makes riskSignals fail synthetically.
	// A testing facility, disabled by default.
	injectFailure func() bool

	// stepDelay inserts pacing between steps for demo UX. Zero in production.
	stepDelay time.Duration
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithFaultInjector enables synthetic riskSignals failures. fn is called
// once per attempt; returning true fails that attempt.
func WithFaultInjector(fn func() bool) EngineOption {
	return func(e *Engine) { e.injectFailure = fn }
}

// WithStepDelay inserts a fixed pause between steps.
func WithStepDelay(d time.Duration) EngineOption {
	return func(e *Engine) { e.stepDelay = d }
}

// NewEngine creates an engine with the given dependencies.
func NewEngine(st store.Store, logger log.Logger, hooks EngineHooks, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	e := &Engine{store: st, logger: logger, hooks: hooks}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes the pipeline for one alert, publishing events to sink.
// It does not publish the terminal event; the Service does, after the
// trace has been persisted.
func (e *Engine) Run(ctx context.Context, runID, alertID string, sink Sink) *Outcome {
	ctx, cancel := context.WithTimeout(ctx, RunBudget)
	defer cancel()

	start := time.Now()
	L := e.logger.With("run_id", runID, "alert_id", alertID)

	ev := newEvent(EventStart)
	ev.Start = &StartData{RunID: runID, AlertID: alertID}
	sink.Publish(ev)

	out := &Outcome{}

	profile, ok := runStep(ctx, e, sink, out, StepGetProfile, func(sctx context.Context) (ProfileResult, error) {
		return e.getProfile(sctx, alertID)
	})
	if !ok {
		out.Err = fmt.Errorf("%s: %w", StepGetProfile, lastErr(out))
		L.Error(ctx, out.Err, "triage run failed")
		return out
	}
	e.pace(ctx)

	activity, ok := runStep(ctx, e, sink, out, StepRecentTxns, func(sctx context.Context) (ActivityResult, error) {
		return e.recentActivity(sctx, profile.Customer.ID)
	})
	if !ok {
		out.Err = fmt.Errorf("%s: %w", StepRecentTxns, lastErr(out))
		L.Error(ctx, out.Err, "triage run failed")
		return out
	}
	e.pace(ctx)

	signals := e.riskSignalsWithFallback(ctx, sink, out, profile, activity)
	e.pace(ctx)

	kb, _ := runStep(ctx, e, sink, out, StepKBLookup, func(sctx context.Context) (KBResult, error) {
		return e.kbLookup(sctx, signals.Signals)
	})
	_ = kb // informational only; a lookup failure never fails the run
	e.pace(ctx)

	decision, ok := runStep(ctx, e, sink, out, StepDecide, func(context.Context) (DecisionResult, error) {
		return decide(signals, profile.Customer.KYCLevel), nil
	})
	if !ok {
		out.Err = fmt.Errorf("%s: %w", StepDecide, lastErr(out))
		L.Error(ctx, out.Err, "triage run failed")
		return out
	}

	out.Result = &Result{
		Risk:           decision.Risk,
		Recommendation: decision.Recommendation,
		Reasons:        decision.Reasons,
		Confidence:     decision.Confidence,
		Steps:          out.Steps,
		FallbackUsed:   out.FallbackUsed,
		RequiresOTP:    decision.RequiresOTP,
		DurationMS:     time.Since(start).Milliseconds(),
	}

	L.Info(ctx, "triage pipeline complete",
		"risk", decision.Risk,
		"recommendation", decision.Recommendation,
		"fallback_used", out.FallbackUsed,
		"duration_ms", out.Result.DurationMS,
	)
	return out
}

// runStep executes one attempt of a step under the per-step timeout,
// records the attempt on the outcome, and publishes its event.
func runStep[T StepResult](ctx context.Context, e *Engine, sink Sink, out *Outcome, name string, fn func(context.Context) (T, error)) (T, bool) {
	sctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	started := time.Now()
	res, err := fn(sctx)
	dur := time.Since(started).Milliseconds()

	step := AgentStep{Name: name, DurationMS: dur}
	if err != nil {
		step.Error = err.Error()
		out.lastError = err
	} else {
		step.OK = true
		step.Result = res
	}
	out.Steps = append(out.Steps, step)
	sink.Publish(stepEvent(step))

	if e.hooks.OnStep != nil {
		e.hooks.OnStep(name, step.OK, float64(dur)/1000)
	}
	return res, err == nil
}

// riskSignalsWithFallback wraps the riskSignals step in the retry
// envelope. On exhausted retries it publishes a fallback event and
// records a substitute step so the trace preserves the failed attempts.
func (e *Engine) riskSignalsWithFallback(ctx context.Context, sink Sink, out *Outcome, profile ProfileResult, activity ActivityResult) SignalsResult {
	var lastError error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			ev := newEvent(EventRetry)
			ev.Retry = &RetryData{Step: StepRiskSignals, Attempt: attempt}
			sink.Publish(ev)
			if e.hooks.OnRetry != nil {
				e.hooks.OnRetry(StepRiskSignals)
			}

			backoff := retryBackoff[min(attempt-1, len(retryBackoff)-1)]
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
		}

		res, ok := runStep(ctx, e, sink, out, StepRiskSignals, func(sctx context.Context) (SignalsResult, error) {
			return e.riskSignals(sctx, profile, activity)
		})
		if ok {
			return res
		}
		lastError = out.lastError
	}

	ev := newEvent(EventFallback)
	ev.Fallback = &FallbackData{Step: StepRiskSignals, LastError: lastError.Error()}
	sink.Publish(ev)
	if e.hooks.OnFallback != nil {
		e.hooks.OnFallback(StepRiskSignals)
	}

	sub := SignalsResult{Signals: []string{"service_unavailable"}, Score: 0.5, Fallback: true}
	step := AgentStep{Name: StepRiskSignals + fallbackSuffix, OK: true, Result: sub}
	out.Steps = append(out.Steps, step)
	out.FallbackUsed = true
	sink.Publish(stepEvent(step))
	if e.hooks.OnStep != nil {
		e.hooks.OnStep(step.Name, true, 0)
	}
	return sub
}

func (e *Engine) getProfile(ctx context.Context, alertID string) (ProfileResult, error) {
	alert, ok, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return ProfileResult{}, fmt.Errorf("fetch alert: %w", err)
	}
	if !ok {
		return ProfileResult{}, ErrAlertNotFound
	}

	customer, ok, err := e.store.GetCustomer(ctx, alert.CustomerID)
	if err != nil {
		return ProfileResult{}, fmt.Errorf("fetch customer: %w", err)
	}
	if !ok {
		return ProfileResult{}, fmt.Errorf("customer %s not found", alert.CustomerID)
	}

	p := ProfileResult{Alert: *alert, Customer: *customer}

	if alert.TransactionID != "" {
		txn, ok, err := e.store.GetTransaction(ctx, alert.TransactionID)
		if err != nil {
			return ProfileResult{}, fmt.Errorf("fetch suspect transaction: %w", err)
		}
		if ok {
			p.SuspectTxn = txn
		}
	}

	if p.CardCount, err = e.store.CountCards(ctx, customer.ID); err != nil {
		return ProfileResult{}, fmt.Errorf("count cards: %w", err)
	}
	if acct, ok, err := e.store.PrimaryAccount(ctx, customer.ID); err != nil {
		return ProfileResult{}, fmt.Errorf("fetch account: %w", err)
	} else if ok {
		p.AccountBalance = acct.Balance
	}
	return p, nil
}

func (e *Engine) recentActivity(ctx context.Context, customerID string) (ActivityResult, error) {
	txns, err := e.store.RecentTransactions(ctx, customerID, recentTxnLimit)
	if err != nil {
		return ActivityResult{}, fmt.Errorf("fetch recent transactions: %w", err)
	}

	a := ActivityResult{Count: len(txns)}
	merchants := make(map[string]struct{})
	for _, t := range txns {
		a.TotalSpend += t.Amount
		merchants[t.Merchant] = struct{}{}
	}
	a.UniqueMerchants = len(merchants)
	if a.Count > 0 {
		a.AverageAmount = a.TotalSpend / int64(a.Count)
	}
	return a, nil
}

func (e *Engine) riskSignals(_ context.Context, profile ProfileResult, activity ActivityResult) (SignalsResult, error) {
	if e.injectFailure != nil && e.injectFailure() {
		return SignalsResult{}, errors.New("signal service unavailable")
	}

	var signals []string
	if activity.Count > highVelocityCount {
		signals = append(signals, "high_velocity")
	}
	if t := profile.SuspectTxn; t != nil {
		if t.Amount > largeAmountMinor {
			signals = append(signals, "large_amount")
		}
		if t.Country != homeCountry {
			signals = append(signals, "foreign_transaction")
		}
	}
	if activity.UniqueMerchants < merchantConcentrationN && activity.Count > merchantConcentrationC {
		signals = append(signals, "merchant_concentration")
	}

	score := 0.25 * float64(len(signals))
	if score > 1.0 {
		score = 1.0
	}
	return SignalsResult{Signals: signals, Score: score}, nil
}

func (e *Engine) kbLookup(ctx context.Context, tags []string) (KBResult, error) {
	docs, err := e.store.SearchKBDocs(ctx, tags, kbDocLimit)
	if err != nil {
		// Informational step: swallow the failure, the run continues.
		e.logger.Warn(ctx, "kb lookup failed", "error", err)
		return KBResult{}, nil
	}
	return KBResult{Docs: docs}, nil
}

// decide maps a signal score onto risk, recommendation and confidence.
func decide(signals SignalsResult, kycLevel int) DecisionResult {
	d := DecisionResult{Reasons: signals.Signals}

	switch {
	case signals.Score >= 0.6:
		d.Risk, d.Recommendation, d.Confidence = domain.RiskHigh, RecommendFreezeCard, 0.92
	case signals.Score >= 0.3:
		d.Risk, d.Recommendation, d.Confidence = domain.RiskMedium, RecommendContactCustomer, 0.78
	default:
		d.Risk, d.Recommendation, d.Confidence = domain.RiskLow, RecommendFalsePositive, 0.65
	}

	if len(d.Reasons) == 0 {
		d.Reasons = []string{"no_clear_risk"}
	}

	// OTP is demanded by the freeze handler for well-verified customers;
	// the flag here mirrors that gate so the UI can prompt up front.
	d.RequiresOTP = d.Risk == domain.RiskHigh && kycLevel >= 3
	return d
}

func (e *Engine) pace(ctx context.Context) {
	if e.stepDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(e.stepDelay):
	}
}

func lastErr(out *Outcome) error {
	if out.lastError == nil {
		return errors.New("unknown step failure")
	}
	return out.lastError
}
