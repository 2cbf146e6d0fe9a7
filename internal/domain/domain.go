// Package domain defines the core entities of the fraud triage system:
// customers, cards, transactions, alerts, cases and the audit ledger.
package domain

import (
	"encoding/json"
	"time"
)

// CardStatus is the lifecycle state of a card.
type CardStatus string

const (
	CardActive  CardStatus = "active"
	CardFrozen  CardStatus = "frozen"
	CardBlocked CardStatus = "blocked"
)

// CardNetwork is the payment network a card belongs to.
type CardNetwork string

const (
	NetworkVisa       CardNetwork = "visa"
	NetworkMastercard CardNetwork = "mastercard"
	NetworkRupay      CardNetwork = "rupay"
)

// AlertStatus is the lifecycle state of a risk alert. Alerts never reopen.
type AlertStatus string

const (
	AlertOpen          AlertStatus = "open"
	AlertFalsePositive AlertStatus = "false_positive"
	AlertResolved      AlertStatus = "resolved"
)

// Risk is the coarse risk level attached to alerts and triage outcomes.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// CaseType classifies the durable record of an operator action.
type CaseType string

const (
	CaseCardFreeze    CaseType = "card_freeze"
	CaseDispute       CaseType = "dispute"
	CaseFalsePositive CaseType = "false_positive"
)

// CaseStatus is the lifecycle state of a case.
type CaseStatus string

const (
	CaseOpen          CaseStatus = "open"
	CaseInvestigating CaseStatus = "investigating"
	CaseCompleted     CaseStatus = "completed"
	CaseClosed        CaseStatus = "closed"
)

// Customer is created at onboarding and immutable thereafter.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	KYCLevel  int       `json:"kyc_level"`
	CreatedAt time.Time `json:"created_at"`
}

// Card belongs to a customer. Status is the only mutable field in this core.
type Card struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customer_id"`
	LastFour   string      `json:"last_four"`
	Network    CardNetwork `json:"network"`
	Status     CardStatus  `json:"status"`
}

// Account holds a balance in minor currency units. Read-only in this core.
type Account struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Balance    int64  `json:"balance"`
	Currency   string `json:"currency"`
}

// Transaction is an append-only spend record.
type Transaction struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	CardID     string    `json:"card_id"`
	Timestamp  time.Time `json:"timestamp"`
	Amount     int64     `json:"amount"` // minor units, positive
	Merchant   string    `json:"merchant"`
	MCC        string    `json:"mcc"`
	Currency   string    `json:"currency"`
	DeviceID   string    `json:"device_id,omitempty"`
	City       string    `json:"city,omitempty"`
	Country    string    `json:"country"`
	Status     string    `json:"status"`
}

// Alert is a flagged suspect event awaiting triage.
type Alert struct {
	ID            string      `json:"id"`
	CustomerID    string      `json:"customer_id"`
	TransactionID string      `json:"transaction_id,omitempty"`
	Risk          Risk        `json:"risk"`
	Status        AlertStatus `json:"status"`
	Reason        string      `json:"reason"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Case is the durable record of an operator action.
type Case struct {
	ID            string     `json:"id"`
	CustomerID    string     `json:"customer_id"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Type          CaseType   `json:"type"`
	Status        CaseStatus `json:"status"`
	ReasonCode    string     `json:"reason_code"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CaseEvent is one entry in the immutable audit ledger. Payloads are
// PII-redacted before they reach this type.
type CaseEvent struct {
	ID        string          `json:"id"`
	CaseID    string          `json:"case_id"`
	Timestamp time.Time       `json:"timestamp"`
	Actor     string          `json:"actor"` // "system" or operator id
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
}

// TriageRun is written exactly once per completed triage run.
type TriageRun struct {
	ID           string    `json:"id"`
	AlertID      string    `json:"alert_id"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Status       string    `json:"status"` // complete | failed
	Risk         Risk      `json:"risk"`
	Reasons      []string  `json:"reasons"`
	FallbackUsed bool      `json:"fallback_used"`
	DurationMS   int64     `json:"duration_ms"`
}

// AgentTrace is the persisted form of one pipeline step.
// (run_id, seq) is the composite key; seq is contiguous from 0.
type AgentTrace struct {
	RunID      string          `json:"run_id"`
	Seq        int             `json:"seq"`
	Step       string          `json:"step"`
	OK         bool            `json:"ok"`
	DurationMS int64           `json:"duration_ms"`
	Detail     json.RawMessage `json:"detail"`
}

// KBDoc is a static reference document consulted during triage.
type KBDoc struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Tags  string `json:"tags"`
}

// Policy is a static gating rule row.
type Policy struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}
