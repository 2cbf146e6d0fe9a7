package actions

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/sift/internal/domain"
	"github.com/linnemanlabs/sift/internal/store/memstore"
)

func seed(t *testing.T, kycLevel int) *memstore.Store {
	t.Helper()
	st := memstore.New()
	st.PutCustomer(domain.Customer{ID: "cust_1", Name: "Asha Rao", KYCLevel: kycLevel})
	st.PutCard(domain.Card{ID: "card_1", CustomerID: "cust_1", LastFour: "4242", Status: domain.CardActive})
	st.PutTransaction(domain.Transaction{
		ID: "txn_1", CustomerID: "cust_1", CardID: "card_1",
		Timestamp: time.Now(), Amount: 4_999, Merchant: "Gadget World", Country: "IN",
	})
	st.PutAlert(domain.Alert{
		ID: "alert_1", CustomerID: "cust_1", TransactionID: "txn_1",
		Risk: domain.RiskMedium, Status: domain.AlertOpen,
	})
	return st
}

func TestFreezeCardLowKYC(t *testing.T) {
	t.Parallel()

	st := seed(t, 2)
	svc := NewService(st, nil)
	ctx := context.Background()

	resp, err := svc.FreezeCard(ctx, FreezeCardRequest{CardID: "card_1", Reason: "suspected_fraud"})
	if err != nil {
		t.Fatalf("FreezeCard: %v", err)
	}
	if resp.Status != StatusFrozen {
		t.Errorf("status = %q, want %q", resp.Status, StatusFrozen)
	}
	if resp.LastFour != "4242" {
		t.Errorf("cardLast4 = %q, want 4242", resp.LastFour)
	}

	card, _, _ := st.GetCard(ctx, "card_1")
	if card.Status != domain.CardFrozen {
		t.Errorf("card status = %q, want frozen", card.Status)
	}

	events, err := st.ListCaseEvents(ctx, resp.CaseID)
	if err != nil {
		t.Fatalf("ListCaseEvents: %v", err)
	}
	if len(events) != 1 || events[0].Action != "card_frozen" {
		t.Fatalf("case events = %+v, want one card_frozen", events)
	}
	var payload struct {
		CardID      string `json:"cardId"`
		CardLast4   string `json:"cardLast4"`
		OTPVerified bool   `json:"otpVerified"`
	}
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.CardID != "card_1" || payload.CardLast4 != "4242" || payload.OTPVerified {
		t.Errorf("payload = %+v", payload)
	}
}

func TestFreezeCardOTPGate(t *testing.T) {
	t.Parallel()

	st := seed(t, 3)
	svc := NewService(st, nil)
	ctx := context.Background()

	// No OTP: the gate holds and nothing mutates.
	resp, err := svc.FreezeCard(ctx, FreezeCardRequest{CardID: "card_1"})
	if err != nil {
		t.Fatalf("FreezeCard: %v", err)
	}
	if resp.Status != StatusPendingOTP {
		t.Errorf("status = %q, want %q", resp.Status, StatusPendingOTP)
	}
	if !resp.RequiresOtp {
		t.Error("RequiresOtp = false on PENDING_OTP response, want true")
	}
	if card, _, _ := st.GetCard(ctx, "card_1"); card.Status != domain.CardActive {
		t.Errorf("card mutated by PENDING_OTP path: %q", card.Status)
	}

	// Wrong OTP.
	if _, err := svc.FreezeCard(ctx, FreezeCardRequest{CardID: "card_1", OTP: "000000"}); !errors.Is(err, ErrInvalidOTP) {
		t.Errorf("wrong OTP err = %v, want ErrInvalidOTP", err)
	}

	// Correct OTP.
	resp, err = svc.FreezeCard(ctx, FreezeCardRequest{CardID: "card_1", OTP: "123456"})
	if err != nil {
		t.Fatalf("FreezeCard with OTP: %v", err)
	}
	if resp.Status != StatusFrozen {
		t.Errorf("status = %q, want %q", resp.Status, StatusFrozen)
	}
	events, _ := st.ListCaseEvents(ctx, resp.CaseID)
	if len(events) != 1 || !strings.Contains(string(events[0].Payload), `"otpVerified":true`) {
		t.Errorf("payload = %s, want otpVerified true", events[0].Payload)
	}
}

func TestFreezeCardIdempotent(t *testing.T) {
	t.Parallel()

	st := seed(t, 2)
	svc := NewService(st, nil)
	ctx := context.Background()

	if _, err := svc.FreezeCard(ctx, FreezeCardRequest{CardID: "card_1"}); err != nil {
		t.Fatalf("first freeze: %v", err)
	}
	resp, err := svc.FreezeCard(ctx, FreezeCardRequest{CardID: "card_1"})
	if err != nil {
		t.Fatalf("second freeze: %v", err)
	}
	if resp.Status != StatusAlreadyFrozen {
		t.Errorf("status = %q, want %q", resp.Status, StatusAlreadyFrozen)
	}
}

func TestFreezeCardNotFound(t *testing.T) {
	t.Parallel()

	svc := NewService(seed(t, 2), nil)
	if _, err := svc.FreezeCard(context.Background(), FreezeCardRequest{CardID: "card_missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestOpenDisputeRequiresConfirm(t *testing.T) {
	t.Parallel()

	svc := NewService(seed(t, 2), nil)
	_, err := svc.OpenDispute(context.Background(), OpenDisputeRequest{TransactionID: "txn_1", ReasonCode: "unauthorized"})
	if !errors.Is(err, ErrConfirmationRequired) {
		t.Errorf("err = %v, want ErrConfirmationRequired", err)
	}
}

func TestOpenDisputeLifecycle(t *testing.T) {
	t.Parallel()

	st := seed(t, 2)
	svc := NewService(st, nil)
	ctx := context.Background()

	resp, err := svc.OpenDispute(ctx, OpenDisputeRequest{
		TransactionID: "txn_1", ReasonCode: "unauthorized",
		Description: "never visited this merchant", Confirm: true,
	})
	if err != nil {
		t.Fatalf("OpenDispute: %v", err)
	}
	if resp.Status != StatusOpen || resp.CaseID == "" {
		t.Fatalf("resp = %+v, want OPEN with case id", resp)
	}

	events, _ := st.ListCaseEvents(ctx, resp.CaseID)
	if len(events) != 1 || events[0].Action != "dispute_opened" {
		t.Fatalf("case events = %+v", events)
	}
	var payload struct {
		TxnID    string `json:"txnId"`
		Merchant string `json:"merchant"`
		Amount   int64  `json:"amount"`
	}
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.TxnID != "txn_1" || payload.Merchant != "Gadget World" || payload.Amount != 4_999 {
		t.Errorf("payload = %+v", payload)
	}

	// A second open on the same transaction reports the live case.
	again, err := svc.OpenDispute(ctx, OpenDisputeRequest{TransactionID: "txn_1", ReasonCode: "unauthorized", Confirm: true})
	if err != nil {
		t.Fatalf("second OpenDispute: %v", err)
	}
	if again.Status != StatusAlreadyExists || again.CaseID != resp.CaseID {
		t.Errorf("second open = %+v, want ALREADY_EXISTS with case %s", again, resp.CaseID)
	}
}

func TestOpenDisputeTxnNotFound(t *testing.T) {
	t.Parallel()

	svc := NewService(seed(t, 2), nil)
	_, err := svc.OpenDispute(context.Background(), OpenDisputeRequest{TransactionID: "txn_missing", ReasonCode: "unauthorized", Confirm: true})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkFalsePositive(t *testing.T) {
	t.Parallel()

	st := seed(t, 2)
	svc := NewService(st, nil)
	ctx := context.Background()

	resp, err := svc.MarkFalsePositive(ctx, FalsePositiveRequest{AlertID: "alert_1", Notes: "customer confirmed travel"})
	if err != nil {
		t.Fatalf("MarkFalsePositive: %v", err)
	}
	if resp.Status != StatusDismissed {
		t.Errorf("status = %q, want %q", resp.Status, StatusDismissed)
	}

	alert, _, _ := st.GetAlert(ctx, "alert_1")
	if alert.Status != domain.AlertFalsePositive {
		t.Errorf("alert status = %q, want false_positive", alert.Status)
	}

	events, _ := st.ListCaseEvents(ctx, resp.CaseID)
	if len(events) != 1 || events[0].Action != "marked_false_positive" {
		t.Fatalf("case events = %+v", events)
	}
	var payload struct {
		AlertID      string `json:"alertId"`
		OriginalRisk string `json:"originalRisk"`
		Notes        string `json:"notes"`
	}
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.AlertID != "alert_1" || payload.OriginalRisk != "medium" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestMarkFalsePositiveNotFound(t *testing.T) {
	t.Parallel()

	svc := NewService(seed(t, 2), nil)
	_, err := svc.MarkFalsePositive(context.Background(), FalsePositiveRequest{AlertID: "alert_missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAuditPayloadsRedacted(t *testing.T) {
	t.Parallel()

	st := seed(t, 2)
	svc := NewService(st, nil)
	ctx := context.Background()

	resp, err := svc.OpenDispute(ctx, OpenDisputeRequest{
		TransactionID: "txn_1", ReasonCode: "unauthorized",
		Description: "charged on card 4556737586899855, contact me at priya.sharma@example.com",
		Confirm:     true,
	})
	if err != nil {
		t.Fatalf("OpenDispute: %v", err)
	}
	events, _ := st.ListCaseEvents(ctx, resp.CaseID)
	got := string(events[0].Payload)
	if strings.Contains(got, "4556737586899855") {
		t.Errorf("raw PAN leaked into audit ledger: %s", got)
	}
	if !strings.Contains(got, "****REDACTED****") {
		t.Errorf("payload missing PAN mask: %s", got)
	}
	if strings.Contains(got, "priya.sharma@") {
		t.Errorf("raw email leaked into audit ledger: %s", got)
	}
}
