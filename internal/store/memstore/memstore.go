// Package memstore provides an in-memory implementation of store.Store.
// Suitable for dev/testing; single instance only.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/sift/internal/domain"
	"github.com/linnemanlabs/sift/internal/store"
)

// Store holds all rows in memory behind one mutex. Reads return copies.
type Store struct {
	mu           sync.RWMutex
	customers    map[string]*domain.Customer
	cards        map[string]*domain.Card
	accounts     map[string]*domain.Account
	transactions map[string]*domain.Transaction
	alerts       map[string]*domain.Alert
	cases        map[string]*domain.Case
	caseEvents   []domain.CaseEvent
	triageRuns   map[string]*domain.TriageRun
	traces       map[string][]domain.AgentTrace
	kbDocs       []domain.KBDoc
	policies     map[string]*domain.Policy
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		customers:    make(map[string]*domain.Customer),
		cards:        make(map[string]*domain.Card),
		accounts:     make(map[string]*domain.Account),
		transactions: make(map[string]*domain.Transaction),
		alerts:       make(map[string]*domain.Alert),
		cases:        make(map[string]*domain.Case),
		triageRuns:   make(map[string]*domain.TriageRun),
		traces:       make(map[string][]domain.AgentTrace),
		policies:     make(map[string]*domain.Policy),
	}
}

// Seed helpers, used by tests and db-less development.

func (s *Store) PutCustomer(c domain.Customer) { s.mu.Lock(); s.customers[c.ID] = &c; s.mu.Unlock() }

func (s *Store) PutCard(c domain.Card) { s.mu.Lock(); s.cards[c.ID] = &c; s.mu.Unlock() }

func (s *Store) PutAccount(a domain.Account) { s.mu.Lock(); s.accounts[a.ID] = &a; s.mu.Unlock() }

func (s *Store) PutTransaction(t domain.Transaction) {
	s.mu.Lock()
	s.transactions[t.ID] = &t
	s.mu.Unlock()
}

func (s *Store) PutAlert(a domain.Alert) { s.mu.Lock(); s.alerts[a.ID] = &a; s.mu.Unlock() }

func (s *Store) PutKBDoc(d domain.KBDoc) { s.mu.Lock(); s.kbDocs = append(s.kbDocs, d); s.mu.Unlock() }

func (s *Store) PutPolicy(p domain.Policy) { s.mu.Lock(); s.policies[p.Name] = &p; s.mu.Unlock() }

// GetAlert retrieves an alert by id. Returns a copy.
func (s *Store) GetAlert(_ context.Context, id string) (*domain.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// ListOpenAlerts returns open alerts, newest first, with customer fields.
func (s *Store) ListOpenAlerts(_ context.Context, limit int) ([]store.AlertWithCustomer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.AlertWithCustomer
	for _, a := range s.alerts {
		if a.Status != domain.AlertOpen {
			continue
		}
		awc := store.AlertWithCustomer{Alert: *a}
		if c, ok := s.customers[a.CustomerID]; ok {
			awc.Customer.Name = c.Name
			awc.Customer.Email = c.Email
		}
		out = append(out, awc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetCustomer retrieves a customer by id. Returns a copy.
func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

// GetCustomerProfile returns the customer with nested cards and accounts.
func (s *Store) GetCustomerProfile(_ context.Context, id string) (*store.CustomerProfile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, false, nil
	}
	p := &store.CustomerProfile{Customer: *c}
	for _, card := range s.cards {
		if card.CustomerID == id {
			p.Cards = append(p.Cards, *card)
		}
	}
	for _, acct := range s.accounts {
		if acct.CustomerID == id {
			p.Accounts = append(p.Accounts, *acct)
		}
	}
	sort.Slice(p.Cards, func(i, j int) bool { return p.Cards[i].ID < p.Cards[j].ID })
	sort.Slice(p.Accounts, func(i, j int) bool { return p.Accounts[i].ID < p.Accounts[j].ID })
	return p, true, nil
}

// CountCards counts a customer's cards.
func (s *Store) CountCards(_ context.Context, customerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.cards {
		if c.CustomerID == customerID {
			n++
		}
	}
	return n, nil
}

// PrimaryAccount returns the customer's first account by id order.
func (s *Store) PrimaryAccount(_ context.Context, customerID string) (*domain.Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *domain.Account
	for _, a := range s.accounts {
		if a.CustomerID != customerID {
			continue
		}
		if best == nil || a.ID < best.ID {
			best = a
		}
	}
	if best == nil {
		return nil, false, nil
	}
	cp := *best
	return &cp, true, nil
}

// GetCard retrieves a card by id. Returns a copy.
func (s *Store) GetCard(_ context.Context, id string) (*domain.Card, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

// GetTransaction retrieves a transaction by id. Returns a copy.
func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, false, nil
	}
	cp := *t
	return &cp, true, nil
}

func (s *Store) customerTxnsDesc(customerID string) []domain.Transaction {
	var out []domain.Transaction
	for _, t := range s.transactions {
		if t.CustomerID == customerID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// RecentTransactions returns the customer's latest transactions.
func (s *Store) RecentTransactions(_ context.Context, customerID string, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.customerTxnsDesc(customerID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TransactionsPage returns up to q.Limit+1 rows after the cursor.
func (s *Store) TransactionsPage(_ context.Context, q store.TxnPageQuery) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Transaction
	for _, t := range s.customerTxnsDesc(q.CustomerID) {
		if q.From != nil && t.Timestamp.Before(*q.From) {
			continue
		}
		if q.To != nil && t.Timestamp.After(*q.To) {
			continue
		}
		if q.Cursor != nil && !q.Cursor.Before(t.Timestamp, t.ID) {
			continue
		}
		out = append(out, t)
		if len(out) == q.Limit+1 {
			break
		}
	}
	return out, nil
}

// TransactionsSince returns all of a customer's transactions at or after
// the given instant, newest first.
func (s *Store) TransactionsSince(_ context.Context, customerID string, since time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Transaction
	for _, t := range s.customerTxnsDesc(customerID) {
		if t.Timestamp.Before(since) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// InsertTransactions appends transactions, skipping ids already present.
func (s *Store) InsertTransactions(_ context.Context, txns []domain.Transaction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range txns {
		if _, exists := s.transactions[t.ID]; exists {
			continue
		}
		cp := t
		s.transactions[t.ID] = &cp
		n++
	}
	return n, nil
}

// SearchKBDocs returns docs whose tags contain any requested tag.
func (s *Store) SearchKBDocs(_ context.Context, tags []string, limit int) ([]domain.KBDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.KBDoc
	for _, d := range s.kbDocs {
		if matchesAny(d.Tags, tags) {
			out = append(out, d)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func matchesAny(docTags string, tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, t := range tags {
		if strings.Contains(docTags, t) {
			return true
		}
	}
	return false
}

// GetPolicy retrieves a policy row by name.
func (s *Store) GetPolicy(_ context.Context, name string) (*domain.Policy, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[name]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

// InsertTriageRun stores the run row and its trace rows together.
func (s *Store) InsertTriageRun(_ context.Context, run *domain.TriageRun, traces []domain.AgentTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.triageRuns[run.ID] = &cp
	s.traces[run.ID] = append([]domain.AgentTrace(nil), traces...)
	return nil
}

// GetTriageRun retrieves a run and its ordered traces.
func (s *Store) GetTriageRun(_ context.Context, runID string) (*domain.TriageRun, []domain.AgentTrace, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.triageRuns[runID]
	if !ok {
		return nil, nil, false, nil
	}
	cp := *r
	return &cp, append([]domain.AgentTrace(nil), s.traces[runID]...), true, nil
}

// FindOpenDisputeCase returns an open or investigating dispute case for
// the transaction, if one exists.
func (s *Store) FindOpenDisputeCase(_ context.Context, txnID string) (*domain.Case, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cases {
		if c.Type == domain.CaseDispute && c.TransactionID == txnID &&
			(c.Status == domain.CaseOpen || c.Status == domain.CaseInvestigating) {
			cp := *c
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// ListCaseEvents returns the audit events for a case in append order.
func (s *Store) ListCaseEvents(_ context.Context, caseID string) ([]domain.CaseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CaseEvent
	for _, e := range s.caseEvents {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ApplyCardFreeze sets the card frozen and records case + audit event.
func (s *Store) ApplyCardFreeze(_ context.Context, cardID string, cs *domain.Case, ev *domain.CaseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.cards[cardID]
	if !ok {
		return store.ErrConflict
	}
	card.Status = domain.CardFrozen
	s.insertCaseLocked(cs, ev)
	return nil
}

// ApplyDispute records the dispute case and audit event.
func (s *Store) ApplyDispute(_ context.Context, cs *domain.Case, ev *domain.CaseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// uniqueness: one live dispute per transaction
	for _, c := range s.cases {
		if c.Type == domain.CaseDispute && c.TransactionID == cs.TransactionID &&
			(c.Status == domain.CaseOpen || c.Status == domain.CaseInvestigating) {
			return store.ErrConflict
		}
	}
	s.insertCaseLocked(cs, ev)
	return nil
}

// ApplyFalsePositive marks the alert false_positive and records case + event.
func (s *Store) ApplyFalsePositive(_ context.Context, alertID string, cs *domain.Case, ev *domain.CaseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return store.ErrConflict
	}
	a.Status = domain.AlertFalsePositive
	s.insertCaseLocked(cs, ev)
	return nil
}

func (s *Store) insertCaseLocked(cs *domain.Case, ev *domain.CaseEvent) {
	ccp := *cs
	s.cases[cs.ID] = &ccp
	s.caseEvents = append(s.caseEvents, *ev)
}
