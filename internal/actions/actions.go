// Package actions implements the operator mutations: freezing a card,
// opening a dispute, and dismissing an alert. Each action is one
// transactional unit on the store and appends exactly one audit event.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/sift/internal/domain"
	"github.com/linnemanlabs/sift/internal/redact"
	"github.com/linnemanlabs/sift/internal/store"
)

// demoOTP is the fixed one-time code accepted by the freeze gate.
const demoOTP = "123456"

// kycOTPLevel is the KYC level at and above which a freeze demands an OTP.
const kycOTPLevel = 3

// systemActor is recorded on audit events produced by these handlers.
const systemActor = "operator"

// Terminal statuses returned to the caller. Conflict statuses are
// successes: re-freezing a frozen card or re-opening a disputed
// transaction is idempotent, not an error.
const (
	StatusFrozen        = "FROZEN"
	StatusAlreadyFrozen = "ALREADY_FROZEN"
	StatusPendingOTP    = "PENDING_OTP"
	StatusOpen          = "OPEN"
	StatusAlreadyExists = "ALREADY_EXISTS"
	StatusDismissed     = "DISMISSED"
)

// Error kinds the HTTP layer maps onto status codes.
var (
	ErrNotFound             = errors.New("not_found")
	ErrInvalidOTP           = errors.New("invalid_otp")
	ErrConfirmationRequired = errors.New("confirmation_required")
)

// FreezeCardRequest asks to freeze one card.
type FreezeCardRequest struct {
	CardID string `json:"cardId"`
	OTP    string `json:"otp,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// FreezeCardResponse reports the freeze outcome. RequiresOtp is set on
// the PENDING_OTP branch so the caller knows to re-submit with a code.
type FreezeCardResponse struct {
	Status      string `json:"status"`
	CardID      string `json:"cardId"`
	CaseID      string `json:"caseId,omitempty"`
	LastFour    string `json:"cardLast4,omitempty"`
	RequiresOtp bool   `json:"requiresOtp,omitempty"`
}

// OpenDisputeRequest asks to open a dispute on one transaction.
type OpenDisputeRequest struct {
	TransactionID string `json:"txnId"`
	ReasonCode    string `json:"reasonCode"`
	Description   string `json:"description,omitempty"`
	Confirm       bool   `json:"confirm"`
}

// OpenDisputeResponse reports the dispute outcome. For ALREADY_EXISTS
// CaseID names the live case.
type OpenDisputeResponse struct {
	Status string `json:"status"`
	CaseID string `json:"caseId"`
}

// FalsePositiveRequest dismisses an alert.
type FalsePositiveRequest struct {
	AlertID string `json:"alertId"`
	Notes   string `json:"notes,omitempty"`
}

// FalsePositiveResponse reports the dismissal.
type FalsePositiveResponse struct {
	Status  string `json:"status"`
	AlertID string `json:"alertId"`
	CaseID  string `json:"caseId"`
}

// Service executes operator actions against the store.
type Service struct {
	store  store.Store
	logger log.Logger
}

func NewService(st store.Store, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: st, logger: logger}
}

// FreezeCard freezes a card subject to the OTP policy gate. Freezing an
// already frozen card succeeds without touching the store again.
func (s *Service) FreezeCard(ctx context.Context, req FreezeCardRequest) (*FreezeCardResponse, error) {
	card, ok, err := s.store.GetCard(ctx, req.CardID)
	if err != nil {
		return nil, fmt.Errorf("actions: fetch card: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("card %s: %w", req.CardID, ErrNotFound)
	}
	if card.Status == domain.CardFrozen {
		return &FreezeCardResponse{Status: StatusAlreadyFrozen, CardID: card.ID, LastFour: card.LastFour}, nil
	}

	customer, ok, err := s.store.GetCustomer(ctx, card.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("actions: fetch customer: %w", err)
	}

	otpRequired := ok && customer.KYCLevel >= kycOTPLevel
	if otpRequired && req.OTP == "" {
		return &FreezeCardResponse{Status: StatusPendingOTP, CardID: card.ID, RequiresOtp: true}, nil
	}
	if otpRequired && req.OTP != demoOTP {
		return nil, ErrInvalidOTP
	}

	now := time.Now()
	cs := &domain.Case{
		ID:         ulid.Make().String(),
		CustomerID: card.CustomerID,
		Type:       domain.CaseCardFreeze,
		Status:     domain.CaseCompleted,
		ReasonCode: req.Reason,
		CreatedAt:  now,
	}
	ev := &domain.CaseEvent{
		ID:        ulid.Make().String(),
		CaseID:    cs.ID,
		Timestamp: now,
		Actor:     systemActor,
		Action:    "card_frozen",
		Payload: eventPayload(map[string]any{
			"cardId":      card.ID,
			"cardLast4":   card.LastFour,
			"otpVerified": otpRequired,
		}),
	}
	if err := s.store.ApplyCardFreeze(ctx, card.ID, cs, ev); err != nil {
		return nil, fmt.Errorf("actions: freeze card: %w", err)
	}

	s.logger.Info(ctx, "card frozen",
		"card_id", card.ID,
		"case_id", cs.ID,
		"otp_verified", otpRequired,
	)
	return &FreezeCardResponse{Status: StatusFrozen, CardID: card.ID, CaseID: cs.ID, LastFour: card.LastFour}, nil
}

// OpenDispute opens a dispute case on a transaction. A live dispute on
// the same transaction makes the call idempotent.
func (s *Service) OpenDispute(ctx context.Context, req OpenDisputeRequest) (*OpenDisputeResponse, error) {
	if !req.Confirm {
		return nil, ErrConfirmationRequired
	}

	txn, ok, err := s.store.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("actions: fetch transaction: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", req.TransactionID, ErrNotFound)
	}

	if existing, ok, err := s.store.FindOpenDisputeCase(ctx, txn.ID); err != nil {
		return nil, fmt.Errorf("actions: check existing dispute: %w", err)
	} else if ok {
		return &OpenDisputeResponse{Status: StatusAlreadyExists, CaseID: existing.ID}, nil
	}

	now := time.Now()
	cs := &domain.Case{
		ID:            ulid.Make().String(),
		CustomerID:    txn.CustomerID,
		TransactionID: txn.ID,
		Type:          domain.CaseDispute,
		Status:        domain.CaseOpen,
		ReasonCode:    req.ReasonCode,
		CreatedAt:     now,
	}
	ev := &domain.CaseEvent{
		ID:        ulid.Make().String(),
		CaseID:    cs.ID,
		Timestamp: now,
		Actor:     systemActor,
		Action:    "dispute_opened",
		Payload: eventPayload(map[string]any{
			"txnId":       txn.ID,
			"merchant":    txn.Merchant,
			"amount":      txn.Amount,
			"reasonCode":  req.ReasonCode,
			"description": req.Description,
		}),
	}
	if err := s.store.ApplyDispute(ctx, cs, ev); err != nil {
		// A concurrent open on the same transaction lost the race; report
		// the surviving case instead of failing.
		if errors.Is(err, store.ErrConflict) {
			if existing, ok, ferr := s.store.FindOpenDisputeCase(ctx, txn.ID); ferr == nil && ok {
				return &OpenDisputeResponse{Status: StatusAlreadyExists, CaseID: existing.ID}, nil
			}
		}
		return nil, fmt.Errorf("actions: open dispute: %w", err)
	}

	s.logger.Info(ctx, "dispute opened", "txn_id", txn.ID, "case_id", cs.ID, "reason_code", req.ReasonCode)
	return &OpenDisputeResponse{Status: StatusOpen, CaseID: cs.ID}, nil
}

// MarkFalsePositive dismisses an alert and closes it out with an audit
// trail.
func (s *Service) MarkFalsePositive(ctx context.Context, req FalsePositiveRequest) (*FalsePositiveResponse, error) {
	alert, ok, err := s.store.GetAlert(ctx, req.AlertID)
	if err != nil {
		return nil, fmt.Errorf("actions: fetch alert: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", req.AlertID, ErrNotFound)
	}

	now := time.Now()
	cs := &domain.Case{
		ID:         ulid.Make().String(),
		CustomerID: alert.CustomerID,
		Type:       domain.CaseFalsePositive,
		Status:     domain.CaseClosed,
		ReasonCode: "false_positive",
		CreatedAt:  now,
	}
	ev := &domain.CaseEvent{
		ID:        ulid.Make().String(),
		CaseID:    cs.ID,
		Timestamp: now,
		Actor:     systemActor,
		Action:    "marked_false_positive",
		Payload: eventPayload(map[string]any{
			"alertId":      alert.ID,
			"originalRisk": string(alert.Risk),
			"notes":        req.Notes,
		}),
	}
	if err := s.store.ApplyFalsePositive(ctx, alert.ID, cs, ev); err != nil {
		return nil, fmt.Errorf("actions: mark false positive: %w", err)
	}

	s.logger.Info(ctx, "alert dismissed", "alert_id", alert.ID, "case_id", cs.ID)
	return &FalsePositiveResponse{Status: StatusDismissed, AlertID: alert.ID, CaseID: cs.ID}, nil
}

// eventPayload redacts and serializes an audit payload. The ledger never
// stores raw PII even when a caller smuggles it into free-text fields.
func eventPayload(m map[string]any) json.RawMessage {
	res := redact.Value(m)
	b, err := json.Marshal(res.Value)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
