// Package triage provides the business boundary for fraud alert triage.
// It defines the Engine (deterministic investigation pipeline with retry
// and fallback), the per-run event bus and registry (streaming delivery),
// the Service (lifecycle, async dispatch, persistence), and domain models.
package triage
