// Package pgstore provides a PostgreSQL implementation of store.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sift/internal/domain"
	"github.com/linnemanlabs/sift/internal/store"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/store/pgstore")

//go:embed schema.sql
var schema string

// uniqueViolation is the Postgres error code for unique constraint breaks.
const uniqueViolation = "23505"

// Store persists the triage and action data model in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store over an existing pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// GetAlert retrieves an alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (*domain.Alert, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetAlert", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT id, customer_id, COALESCE(transaction_id,''), risk, status, reason, created_at
		 FROM alerts WHERE id = $1`, id)

	var a domain.Alert
	err := row.Scan(&a.ID, &a.CustomerID, &a.TransactionID, &a.Risk, &a.Status, &a.Reason, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("scan alert: %w", err))
	}
	return &a, true, nil
}

// ListOpenAlerts returns open alerts newest first with customer fields.
func (s *Store) ListOpenAlerts(ctx context.Context, limit int) ([]store.AlertWithCustomer, error) {
	ctx, span := startSpan(ctx, "pgstore.ListOpenAlerts", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.customer_id, COALESCE(a.transaction_id,''), a.risk, a.status, a.reason, a.created_at,
		        c.name, c.email
		 FROM alerts a
		 JOIN customers c ON c.id = a.customer_id
		 WHERE a.status = 'open'
		 ORDER BY a.created_at DESC, a.id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query open alerts: %w", err))
	}
	defer rows.Close()

	var out []store.AlertWithCustomer
	for rows.Next() {
		var awc store.AlertWithCustomer
		if err := rows.Scan(&awc.ID, &awc.CustomerID, &awc.TransactionID, &awc.Risk, &awc.Status,
			&awc.Reason, &awc.CreatedAt, &awc.Customer.Name, &awc.Customer.Email); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan alert row: %w", err))
		}
		out = append(out, awc)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate alerts: %w", err))
	}
	return out, nil
}

// GetCustomer retrieves a customer by id.
func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetCustomer", "SELECT")
	defer span.End()

	var c domain.Customer
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, phone, kyc_level, created_at FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.KYCLevel, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("scan customer: %w", err))
	}
	return &c, true, nil
}

// GetCustomerProfile returns the customer with nested cards and accounts.
func (s *Store) GetCustomerProfile(ctx context.Context, id string) (*store.CustomerProfile, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetCustomerProfile", "SELECT")
	defer span.End()

	c, ok, err := s.GetCustomer(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	p := &store.CustomerProfile{Customer: *c}

	rows, err := s.pool.Query(ctx,
		`SELECT id, customer_id, last_four, network, status FROM cards WHERE customer_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("query cards: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var card domain.Card
		if err := rows.Scan(&card.ID, &card.CustomerID, &card.LastFour, &card.Network, &card.Status); err != nil {
			return nil, false, spanErr(span, fmt.Errorf("scan card: %w", err))
		}
		p.Cards = append(p.Cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, false, spanErr(span, fmt.Errorf("iterate cards: %w", err))
	}

	arow, err := s.pool.Query(ctx,
		`SELECT id, customer_id, balance, currency FROM accounts WHERE customer_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("query accounts: %w", err))
	}
	defer arow.Close()
	for arow.Next() {
		var acct domain.Account
		if err := arow.Scan(&acct.ID, &acct.CustomerID, &acct.Balance, &acct.Currency); err != nil {
			return nil, false, spanErr(span, fmt.Errorf("scan account: %w", err))
		}
		p.Accounts = append(p.Accounts, acct)
	}
	if err := arow.Err(); err != nil {
		return nil, false, spanErr(span, fmt.Errorf("iterate accounts: %w", err))
	}
	return p, true, nil
}

// CountCards counts a customer's cards.
func (s *Store) CountCards(ctx context.Context, customerID string) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.CountCards", "SELECT")
	defer span.End()

	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM cards WHERE customer_id = $1`, customerID).Scan(&n); err != nil {
		return 0, spanErr(span, fmt.Errorf("count cards: %w", err))
	}
	return n, nil
}

// PrimaryAccount returns the customer's first account by id order.
func (s *Store) PrimaryAccount(ctx context.Context, customerID string) (*domain.Account, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.PrimaryAccount", "SELECT")
	defer span.End()

	var a domain.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, customer_id, balance, currency FROM accounts
		 WHERE customer_id = $1 ORDER BY id LIMIT 1`, customerID).
		Scan(&a.ID, &a.CustomerID, &a.Balance, &a.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("scan account: %w", err))
	}
	return &a, true, nil
}

// GetCard retrieves a card by id.
func (s *Store) GetCard(ctx context.Context, id string) (*domain.Card, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetCard", "SELECT")
	defer span.End()

	var c domain.Card
	err := s.pool.QueryRow(ctx,
		`SELECT id, customer_id, last_four, network, status FROM cards WHERE id = $1`, id).
		Scan(&c.ID, &c.CustomerID, &c.LastFour, &c.Network, &c.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("scan card: %w", err))
	}
	return &c, true, nil
}

const txnColumns = `id, customer_id, card_id, ts, amount, merchant, mcc, currency, device_id, city, country, status`

func scanTxn(row pgx.Row) (domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.CustomerID, &t.CardID, &t.Timestamp, &t.Amount, &t.Merchant,
		&t.MCC, &t.Currency, &t.DeviceID, &t.City, &t.Country, &t.Status)
	return t, err
}

// GetTransaction retrieves a transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetTransaction", "SELECT")
	defer span.End()

	t, err := scanTxn(s.pool.QueryRow(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("scan transaction: %w", err))
	}
	return &t, true, nil
}

func (s *Store) queryTxns(ctx context.Context, span trace.Span, sql string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query transactions: %w", err))
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, spanErr(span, fmt.Errorf("scan transaction: %w", err))
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate transactions: %w", err))
	}
	return out, nil
}

// RecentTransactions returns the customer's latest transactions.
func (s *Store) RecentTransactions(ctx context.Context, customerID string, limit int) ([]domain.Transaction, error) {
	ctx, span := startSpan(ctx, "pgstore.RecentTransactions", "SELECT")
	defer span.End()

	return s.queryTxns(ctx, span,
		`SELECT `+txnColumns+` FROM transactions
		 WHERE customer_id = $1 ORDER BY ts DESC, id DESC LIMIT $2`,
		customerID, limit)
}

// TransactionsPage returns up to q.Limit+1 rows after the keyset cursor.
func (s *Store) TransactionsPage(ctx context.Context, q store.TxnPageQuery) ([]domain.Transaction, error) {
	ctx, span := startSpan(ctx, "pgstore.TransactionsPage", "SELECT")
	defer span.End()

	sql := `SELECT ` + txnColumns + ` FROM transactions WHERE customer_id = $1`
	args := []any{q.CustomerID}

	if q.From != nil {
		args = append(args, *q.From)
		sql += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if q.To != nil {
		args = append(args, *q.To)
		sql += fmt.Sprintf(" AND ts <= $%d", len(args))
	}
	if q.Cursor != nil {
		args = append(args, q.Cursor.Timestamp, q.Cursor.ID)
		sql += fmt.Sprintf(" AND (ts, id) < ($%d, $%d)", len(args)-1, len(args))
	}

	args = append(args, q.Limit+1)
	sql += fmt.Sprintf(" ORDER BY ts DESC, id DESC LIMIT $%d", len(args))

	return s.queryTxns(ctx, span, sql, args...)
}

// TransactionsSince returns all transactions at or after the instant, newest first.
func (s *Store) TransactionsSince(ctx context.Context, customerID string, since time.Time) ([]domain.Transaction, error) {
	ctx, span := startSpan(ctx, "pgstore.TransactionsSince", "SELECT")
	defer span.End()

	return s.queryTxns(ctx, span,
		`SELECT `+txnColumns+` FROM transactions
		 WHERE customer_id = $1 AND ts >= $2 ORDER BY ts DESC, id DESC`,
		customerID, since)
}

// InsertTransactions bulk-inserts, skipping duplicate ids.
func (s *Store) InsertTransactions(ctx context.Context, txns []domain.Transaction) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.InsertTransactions", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	inserted := 0
	for _, t := range txns {
		tag, err := tx.Exec(ctx,
			`INSERT INTO transactions (`+txnColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			 ON CONFLICT (id) DO NOTHING`,
			t.ID, t.CustomerID, t.CardID, t.Timestamp, t.Amount, t.Merchant,
			t.MCC, t.Currency, t.DeviceID, t.City, t.Country, t.Status)
		if err != nil {
			return 0, spanErr(span, fmt.Errorf("insert transaction %s: %w", t.ID, err))
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return inserted, nil
}

// SearchKBDocs returns up to limit docs matching any tag.
func (s *Store) SearchKBDocs(ctx context.Context, tags []string, limit int) ([]domain.KBDoc, error) {
	ctx, span := startSpan(ctx, "pgstore.SearchKBDocs", "SELECT")
	defer span.End()

	sql := `SELECT id, title, body, tags FROM kb_docs`
	args := []any{}
	if len(tags) > 0 {
		sql += ` WHERE `
		for i, t := range tags {
			if i > 0 {
				sql += ` OR `
			}
			args = append(args, "%"+t+"%")
			sql += fmt.Sprintf("tags LIKE $%d", len(args))
		}
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query kb docs: %w", err))
	}
	defer rows.Close()

	var out []domain.KBDoc
	for rows.Next() {
		var d domain.KBDoc
		if err := rows.Scan(&d.ID, &d.Title, &d.Body, &d.Tags); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan kb doc: %w", err))
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate kb docs: %w", err))
	}
	return out, nil
}

// GetPolicy retrieves a policy row by name.
func (s *Store) GetPolicy(ctx context.Context, name string) (*domain.Policy, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetPolicy", "SELECT")
	defer span.End()

	var p domain.Policy
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, value FROM policies WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.Value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("scan policy: %w", err))
	}
	return &p, true, nil
}

// InsertTriageRun writes the run row and its trace rows in one transaction.
func (s *Store) InsertTriageRun(ctx context.Context, run *domain.TriageRun, traces []domain.AgentTrace) error {
	ctx, span := startSpan(ctx, "pgstore.InsertTriageRun", "INSERT")
	defer span.End()

	reasonsJSON, err := json.Marshal(run.Reasons)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal reasons: %w", err))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO triage_runs (id, alert_id, started_at, ended_at, status, risk, reasons, fallback_used, duration_ms)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		run.ID, run.AlertID, run.StartedAt, run.EndedAt, run.Status, string(run.Risk),
		reasonsJSON, run.FallbackUsed, run.DurationMS)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert triage run: %w", err))
	}

	for _, tr := range traces {
		detail := tr.Detail
		if detail == nil {
			detail = json.RawMessage(`{}`)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO agent_traces (run_id, seq, step, ok, duration_ms, detail)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			tr.RunID, tr.Seq, tr.Step, tr.OK, tr.DurationMS, detail)
		if err != nil {
			return spanErr(span, fmt.Errorf("insert trace seq %d: %w", tr.Seq, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// GetTriageRun retrieves a run and its ordered traces.
func (s *Store) GetTriageRun(ctx context.Context, runID string) (*domain.TriageRun, []domain.AgentTrace, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetTriageRun", "SELECT")
	defer span.End()

	var run domain.TriageRun
	var reasonsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, alert_id, started_at, ended_at, status, risk, reasons, fallback_used, duration_ms
		 FROM triage_runs WHERE id = $1`, runID).
		Scan(&run.ID, &run.AlertID, &run.StartedAt, &run.EndedAt, &run.Status, &run.Risk,
			&reasonsJSON, &run.FallbackUsed, &run.DurationMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, spanErr(span, fmt.Errorf("scan triage run: %w", err))
	}
	if err := json.Unmarshal(reasonsJSON, &run.Reasons); err != nil {
		return nil, nil, false, spanErr(span, fmt.Errorf("unmarshal reasons: %w", err))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT run_id, seq, step, ok, duration_ms, detail
		 FROM agent_traces WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, nil, false, spanErr(span, fmt.Errorf("query traces: %w", err))
	}
	defer rows.Close()

	var traces []domain.AgentTrace
	for rows.Next() {
		var tr domain.AgentTrace
		if err := rows.Scan(&tr.RunID, &tr.Seq, &tr.Step, &tr.OK, &tr.DurationMS, &tr.Detail); err != nil {
			return nil, nil, false, spanErr(span, fmt.Errorf("scan trace: %w", err))
		}
		traces = append(traces, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, spanErr(span, fmt.Errorf("iterate traces: %w", err))
	}
	return &run, traces, true, nil
}

// FindOpenDisputeCase returns a live dispute case for the transaction.
func (s *Store) FindOpenDisputeCase(ctx context.Context, txnID string) (*domain.Case, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.FindOpenDisputeCase", "SELECT")
	defer span.End()

	var c domain.Case
	err := s.pool.QueryRow(ctx,
		`SELECT id, customer_id, COALESCE(transaction_id,''), type, status, reason_code, created_at
		 FROM cases
		 WHERE type = 'dispute' AND transaction_id = $1 AND status IN ('open','investigating')
		 LIMIT 1`, txnID).
		Scan(&c.ID, &c.CustomerID, &c.TransactionID, &c.Type, &c.Status, &c.ReasonCode, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("scan dispute case: %w", err))
	}
	return &c, true, nil
}

// ListCaseEvents returns audit events for a case in append order.
func (s *Store) ListCaseEvents(ctx context.Context, caseID string) ([]domain.CaseEvent, error) {
	ctx, span := startSpan(ctx, "pgstore.ListCaseEvents", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, case_id, ts, actor, action, payload
		 FROM case_events WHERE case_id = $1 ORDER BY ts, id`, caseID)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query case events: %w", err))
	}
	defer rows.Close()

	var out []domain.CaseEvent
	for rows.Next() {
		var e domain.CaseEvent
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Timestamp, &e.Actor, &e.Action, &e.Payload); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan case event: %w", err))
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate case events: %w", err))
	}
	return out, nil
}

// ApplyCardFreeze freezes the card and records case + audit event atomically.
func (s *Store) ApplyCardFreeze(ctx context.Context, cardID string, cs *domain.Case, ev *domain.CaseEvent) error {
	ctx, span := startSpan(ctx, "pgstore.ApplyCardFreeze", "UPDATE")
	defer span.End()

	return s.inTx(ctx, span, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE cards SET status = 'frozen' WHERE id = $1`, cardID)
		if err != nil {
			return fmt.Errorf("freeze card: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrConflict
		}
		return insertCaseAndEvent(ctx, tx, cs, ev)
	})
}

// ApplyDispute records the dispute case and audit event atomically.
// A lost uniqueness race surfaces as store.ErrConflict.
func (s *Store) ApplyDispute(ctx context.Context, cs *domain.Case, ev *domain.CaseEvent) error {
	ctx, span := startSpan(ctx, "pgstore.ApplyDispute", "INSERT")
	defer span.End()

	err := s.inTx(ctx, span, func(tx pgx.Tx) error {
		return insertCaseAndEvent(ctx, tx, cs, ev)
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrConflict
	}
	return err
}

// ApplyFalsePositive marks the alert and records case + event atomically.
func (s *Store) ApplyFalsePositive(ctx context.Context, alertID string, cs *domain.Case, ev *domain.CaseEvent) error {
	ctx, span := startSpan(ctx, "pgstore.ApplyFalsePositive", "UPDATE")
	defer span.End()

	return s.inTx(ctx, span, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE alerts SET status = 'false_positive' WHERE id = $1`, alertID)
		if err != nil {
			return fmt.Errorf("mark alert: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrConflict
		}
		return insertCaseAndEvent(ctx, tx, cs, ev)
	})
}

func (s *Store) inTx(ctx context.Context, span trace.Span, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := fn(tx); err != nil {
		return spanErr(span, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func insertCaseAndEvent(ctx context.Context, tx pgx.Tx, cs *domain.Case, ev *domain.CaseEvent) error {
	var txnID *string
	if cs.TransactionID != "" {
		txnID = &cs.TransactionID
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO cases (id, customer_id, transaction_id, type, status, reason_code, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		cs.ID, cs.CustomerID, txnID, cs.Type, cs.Status, cs.ReasonCode, cs.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}

	payload := ev.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO case_events (id, case_id, ts, actor, action, payload)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		ev.ID, ev.CaseID, ev.Timestamp, ev.Actor, ev.Action, payload)
	if err != nil {
		return fmt.Errorf("insert case event: %w", err)
	}
	return nil
}
