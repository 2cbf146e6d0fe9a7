package triage

import (
	"github.com/linnemanlabs/sift/internal/domain"
)

// Recommendation is the action the pipeline suggests to the operator.
type Recommendation string

const (
	RecommendFreezeCard      Recommendation = "freeze_card"
	RecommendContactCustomer Recommendation = "contact_customer"
	RecommendFalsePositive   Recommendation = "mark_false_positive"
)

// Step names, in pipeline order.
const (
	StepGetProfile  = "getProfile"
	StepRecentTxns  = "recentTransactions"
	StepRiskSignals = "riskSignals"
	StepKBLookup    = "kbLookup"
	StepDecide      = "decide"
	fallbackSuffix  = "_fallback"
)

// Result is the terminal outcome of a triage run.
type Result struct {
	Risk           domain.Risk    `json:"risk"`
	Recommendation Recommendation `json:"recommendation"`
	Reasons        []string       `json:"reasons"`
	Confidence     float64        `json:"confidence"`
	Steps          []AgentStep    `json:"steps"`
	FallbackUsed   bool           `json:"fallback_used"`
	RequiresOTP    bool           `json:"requires_otp"`
	DurationMS     int64          `json:"total_duration_ms"`
}

// AgentStep is the in-memory record of one pipeline step attempt.
type AgentStep struct {
	Name       string     `json:"name"`
	OK         bool       `json:"ok"`
	DurationMS int64      `json:"duration_ms"`
	Result     StepResult `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// StepResult is the closed sum of typed step outputs. Each pipeline step
// produces a distinct variant; serialization to JSON happens only at the
// persistence and streaming boundaries.
type StepResult interface {
	stepResult()
}

// ProfileResult is the output of getProfile.
type ProfileResult struct {
	Alert          domain.Alert        `json:"alert"`
	Customer       domain.Customer     `json:"customer"`
	SuspectTxn     *domain.Transaction `json:"suspect_txn,omitempty"`
	CardCount      int                 `json:"card_count"`
	AccountBalance int64               `json:"account_balance"`
}

// ActivityResult is the output of recentTransactions.
type ActivityResult struct {
	Count           int   `json:"count"`
	TotalSpend      int64 `json:"total_spend"`
	UniqueMerchants int   `json:"unique_merchants"`
	AverageAmount   int64 `json:"average_amount"`
}

// SignalsResult is the output of riskSignals (or its fallback substitute).
type SignalsResult struct {
	Signals  []string `json:"signals"`
	Score    float64  `json:"score"`
	Fallback bool     `json:"fallback,omitempty"`
}

// KBResult is the output of kbLookup.
type KBResult struct {
	Docs []domain.KBDoc `json:"docs"`
}

// DecisionResult is the output of decide.
type DecisionResult struct {
	Risk           domain.Risk    `json:"risk"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	Reasons        []string       `json:"reasons"`
	RequiresOTP    bool           `json:"requires_otp"`
}

func (ProfileResult) stepResult()  {}
func (ActivityResult) stepResult() {}
func (SignalsResult) stepResult()  {}
func (KBResult) stepResult()       {}
func (DecisionResult) stepResult() {}
