// Package store defines the typed persistence boundary over the
// relational row store. Implementations: pgstore (PostgreSQL) and
// memstore (in-memory, for tests and db-less development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/sift/internal/cursor"
	"github.com/linnemanlabs/sift/internal/domain"
)

// ErrConflict is returned when a write loses a uniqueness race, e.g. two
// concurrent dispute opens for the same transaction.
var ErrConflict = errors.New("store: conflict")

// AlertWithCustomer embeds the owning customer's display fields for the
// alert list view.
type AlertWithCustomer struct {
	domain.Alert
	Customer struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"customer"`
}

// CustomerProfile is a customer with nested cards and accounts.
type CustomerProfile struct {
	domain.Customer
	Cards    []domain.Card    `json:"cards"`
	Accounts []domain.Account `json:"accounts"`
}

// TxnPageQuery describes one keyset page request over a customer's
// transactions, newest first.
type TxnPageQuery struct {
	CustomerID string
	Cursor     *cursor.Cursor
	Limit      int // rows to return; implementations fetch Limit+1
	From       *time.Time
	To         *time.Time
}

// Store is the persistence interface for the triage and action subsystems.
// Lookups return (value, found, error); absence is not an error.
type Store interface {
	// Alerts.
	GetAlert(ctx context.Context, id string) (*domain.Alert, bool, error)
	ListOpenAlerts(ctx context.Context, limit int) ([]AlertWithCustomer, error)

	// Customers and their holdings.
	GetCustomer(ctx context.Context, id string) (*domain.Customer, bool, error)
	GetCustomerProfile(ctx context.Context, id string) (*CustomerProfile, bool, error)
	CountCards(ctx context.Context, customerID string) (int, error)
	PrimaryAccount(ctx context.Context, customerID string) (*domain.Account, bool, error)

	// Cards.
	GetCard(ctx context.Context, id string) (*domain.Card, bool, error)

	// Transactions (append-only).
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, bool, error)
	RecentTransactions(ctx context.Context, customerID string, limit int) ([]domain.Transaction, error)
	TransactionsPage(ctx context.Context, q TxnPageQuery) ([]domain.Transaction, error)
	TransactionsSince(ctx context.Context, customerID string, since time.Time) ([]domain.Transaction, error)
	InsertTransactions(ctx context.Context, txns []domain.Transaction) (int, error)

	// Reference data.
	SearchKBDocs(ctx context.Context, tags []string, limit int) ([]domain.KBDoc, error)
	GetPolicy(ctx context.Context, name string) (*domain.Policy, bool, error)

	// Triage persistence. InsertTriageRun writes the run row and its
	// contiguous trace rows in one transaction.
	InsertTriageRun(ctx context.Context, run *domain.TriageRun, traces []domain.AgentTrace) error
	GetTriageRun(ctx context.Context, runID string) (*domain.TriageRun, []domain.AgentTrace, bool, error)

	// Cases and the audit ledger. Case events are append-only; no update
	// or delete path exists anywhere on this interface.
	FindOpenDisputeCase(ctx context.Context, txnID string) (*domain.Case, bool, error)
	ListCaseEvents(ctx context.Context, caseID string) ([]domain.CaseEvent, error)

	// Action mutations, each a single transactional unit: the state
	// change, the case row and the audit event commit or roll back
	// together.
	ApplyCardFreeze(ctx context.Context, cardID string, cs *domain.Case, ev *domain.CaseEvent) error
	ApplyDispute(ctx context.Context, cs *domain.Case, ev *domain.CaseEvent) error
	ApplyFalsePositive(ctx context.Context, alertID string, cs *domain.Case, ev *domain.CaseEvent) error
}
