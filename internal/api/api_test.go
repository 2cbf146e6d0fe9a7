package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/linnemanlabs/sift/internal/actions"
	"github.com/linnemanlabs/sift/internal/domain"
	"github.com/linnemanlabs/sift/internal/idempotency"
	"github.com/linnemanlabs/sift/internal/insights"
	"github.com/linnemanlabs/sift/internal/ratelimit"
	"github.com/linnemanlabs/sift/internal/store/memstore"
	"github.com/linnemanlabs/sift/internal/triage"
)

const testAPIKey = "test-key-123"

type fixture struct {
	store  *memstore.Store
	router chi.Router
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	st := memstore.New()
	registry := triage.NewRegistry(time.Minute)
	t.Cleanup(registry.Close)

	engine := triage.NewEngine(st, nil, triage.EngineHooks{})
	triageSvc := triage.NewService(st, engine, registry, nil, nil, nil)
	insightsSvc := insights.NewService(st)
	actionsSvc := actions.NewService(st, nil)

	if opts.APIKey == "" {
		opts.APIKey = testAPIKey
	}

	r := chi.NewRouter()
	New(nil, st, triageSvc, insightsSvc, actionsSvc, opts).RegisterRoutes(r)
	return &fixture{store: st, router: r}
}

func (f *fixture) seed() {
	f.store.PutCustomer(domain.Customer{ID: "cust_1", Name: "Asha Rao", Email: "asha@example.com", KYCLevel: 2})
	f.store.PutCard(domain.Card{ID: "card_1", CustomerID: "cust_1", LastFour: "4242", Status: domain.CardActive})
	f.store.PutAccount(domain.Account{ID: "acct_1", CustomerID: "cust_1", Balance: 120_000, Currency: "INR"})
	f.store.PutTransaction(domain.Transaction{
		ID: "txn_1", CustomerID: "cust_1", CardID: "card_1",
		Timestamp: time.Now().Add(-time.Hour), Amount: 2_500,
		Merchant: "Groceries Ltd", MCC: "5411", Country: "IN",
	})
	f.store.PutAlert(domain.Alert{
		ID: "alert_1", CustomerID: "cust_1", TransactionID: "txn_1",
		Risk: domain.RiskLow, Status: domain.AlertOpen, Reason: "velocity_check",
		CreatedAt: time.Now(),
	})
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "203.0.113.7:51000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func authHeader() map[string]string {
	return map[string]string{"X-API-Key": testAPIKey}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "ok" || body["ts"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestMetricsExposition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "sift_test_hits_total"})
	reg.MustRegister(hits)
	hits.Inc()

	f := newFixture(t, Options{Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})
	rec := f.do(t, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sift_test_hits_total 1") {
		t.Errorf("exposition missing counter: %s", rec.Body)
	}

	// Without a handler the route stays off the app port.
	bare := newFixture(t, Options{})
	if rec := bare.do(t, http.MethodGet, "/metrics", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unmounted /metrics status = %d, want 404", rec.Code)
	}
}

func TestListAlertsEmbedsCustomer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.seed()

	rec := f.do(t, http.MethodGet, "/api/alerts", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		Alerts []struct {
			ID       string `json:"id"`
			Customer struct {
				Name  string `json:"name"`
				Email string `json:"email"`
			} `json:"customer"`
		} `json:"alerts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Alerts) != 1 || body.Alerts[0].ID != "alert_1" {
		t.Fatalf("alerts = %+v", body.Alerts)
	}
	// The response pass masks the email on the way out.
	if body.Alerts[0].Customer.Name != "Asha Rao" || body.Alerts[0].Customer.Email != "as***@example.com" {
		t.Errorf("embedded customer = %+v", body.Alerts[0].Customer)
	}
}

func TestCustomerProfile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.seed()

	rec := f.do(t, http.MethodGet, "/api/customer/cust_1/profile", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var profile struct {
		ID       string           `json:"id"`
		Cards    []domain.Card    `json:"cards"`
		Accounts []domain.Account `json:"accounts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if profile.ID != "cust_1" || len(profile.Cards) != 1 || len(profile.Accounts) != 1 {
		t.Errorf("profile = %+v", profile)
	}

	if rec := f.do(t, http.MethodGet, "/api/customer/cust_missing/profile", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown customer status = %d", rec.Code)
	}
}

func TestTransactionsPaginationRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.seed()
	base := time.Now().Add(-48 * time.Hour)
	for i := 0; i < 25; i++ {
		f.store.PutTransaction(domain.Transaction{
			ID: fmt.Sprintf("page_txn_%02d", i), CustomerID: "cust_1", CardID: "card_1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Amount:    100, Merchant: "M", Country: "IN",
		})
	}

	type page struct {
		Items      []domain.Transaction `json:"items"`
		NextCursor *string              `json:"nextCursor"`
		HasMore    bool                 `json:"hasMore"`
	}

	seen := map[string]bool{}
	url := "/api/customer/cust_1/transactions?limit=7"
	for hop := 0; hop < 10; hop++ {
		rec := f.do(t, http.MethodGet, url, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body)
		}
		p := decode[page](t, rec)
		for _, item := range p.Items {
			if seen[item.ID] {
				t.Fatalf("duplicate item %s across pages", item.ID)
			}
			seen[item.ID] = true
		}
		if !p.HasMore {
			if p.NextCursor != nil {
				t.Error("hasMore=false with non-null nextCursor")
			}
			break
		}
		url = "/api/customer/cust_1/transactions?limit=7&cursor=" + *p.NextCursor
	}
	// 25 paged rows plus the seeded one.
	if len(seen) != 26 {
		t.Errorf("iterated %d rows, want 26", len(seen))
	}
}

func TestTransactionsBadInputs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.seed()

	for _, path := range []string{
		"/api/customer/cust_1/transactions?cursor=garbage",
		"/api/customer/cust_1/transactions?limit=abc",
		"/api/customer/cust_1/transactions?from=not-a-time",
	} {
		if rec := f.do(t, http.MethodGet, path, nil, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestInsightsSummaryRoute(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.seed()

	rec := f.do(t, http.MethodGet, "/api/insights/cust_1/summary?days=30", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var sum struct {
		CustomerID string `json:"customer_id"`
		WindowDays int    `json:"window_days"`
		Count      int    `json:"transaction_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.CustomerID != "cust_1" || sum.WindowDays != 30 || sum.Count != 1 {
		t.Errorf("summary = %+v", sum)
	}

	if rec := f.do(t, http.MethodGet, "/api/insights/cust_1/summary?days=nope", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad days status = %d", rec.Code)
	}
}

func TestStartTriage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.seed()

	rec := f.do(t, http.MethodPost, "/api/triage", map[string]string{"alertId": "alert_1"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	body := decode[map[string]string](t, rec)
	if body["runId"] == "" || body["alertId"] != "alert_1" || body["status"] != "started" {
		t.Errorf("body = %v", body)
	}

	if rec := f.do(t, http.MethodPost, "/api/triage", map[string]string{"alertId": "alert_missing"}, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown alert status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/triage", map[string]string{}, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing alertId status = %d", rec.Code)
	}
}

func TestTriageStreamSSE(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.seed()
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	rec := f.do(t, http.MethodPost, "/api/triage", map[string]string{"alertId": "alert_1"}, nil)
	runID := decode[map[string]string](t, rec)["runId"]

	resp, err := http.Get(srv.URL + "/api/triage/" + runID + "/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q", ct)
	}

	type frame struct {
		Type      string          `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp time.Time       `json:"timestamp"`
	}
	var frames []frame
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var fr frame
		if err := json.Unmarshal([]byte(line[len("data: "):]), &fr); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		frames = append(frames, fr)
		if fr.Type == "complete" || fr.Type == "error" {
			break
		}
	}

	if len(frames) < 3 {
		t.Fatalf("got %d frames, want at least connected/start/steps/complete", len(frames))
	}
	if frames[0].Type != "connected" {
		t.Errorf("first frame = %q, want connected", frames[0].Type)
	}
	last := frames[len(frames)-1]
	if last.Type != "complete" {
		t.Fatalf("last frame = %q, want complete", last.Type)
	}
	if frames[0].Timestamp.IsZero() {
		t.Error("frame timestamp missing")
	}

	// The completed run is immediately readable as a snapshot.
	snap := f.do(t, http.MethodGet, "/api/triage/"+runID, nil, nil)
	if snap.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d: %s", snap.Code, snap.Body)
	}
	var run struct {
		Status string              `json:"status"`
		Trace  []domain.AgentTrace `json:"trace"`
	}
	if err := json.Unmarshal(snap.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if run.Status != "complete" || len(run.Trace) == 0 {
		t.Errorf("snapshot = %+v", run)
	}
}

func TestTriageStreamUnknownRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/triage/run_nope/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with error frame", resp.StatusCode)
	}

	body := make([]byte, 4096)
	n, _ := resp.Body.Read(body)
	text := string(body[:n])
	if !strings.Contains(text, `"connected"`) {
		t.Errorf("missing connected preamble: %s", text)
	}
	// More of the body may arrive in a second read.
	if !strings.Contains(text, "Run not found") {
		m, _ := resp.Body.Read(body)
		text += string(body[:m])
	}
	if !strings.Contains(text, "Run not found") {
		t.Errorf("missing terminal error frame: %s", text)
	}
}

func TestActionsRequireAPIKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.seed()

	rec := f.do(t, http.MethodPost, "/api/action/freeze-card", actions.FreezeCardRequest{CardID: "card_1"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/action/freeze-card", actions.FreezeCardRequest{CardID: "card_1"},
		map[string]string{"X-API-Key": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/action/freeze-card", actions.FreezeCardRequest{CardID: "card_1"}, authHeader())
	if rec.Code != http.StatusOK {
		t.Errorf("valid key status = %d: %s", rec.Code, rec.Body)
	}
}

func TestActionStatusMapping(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.seed()

	// not_found → 404.
	rec := f.do(t, http.MethodPost, "/api/action/freeze-card", actions.FreezeCardRequest{CardID: "card_nope"}, authHeader())
	if rec.Code != http.StatusNotFound {
		t.Errorf("not_found status = %d", rec.Code)
	}

	// Missing confirm → 400.
	rec = f.do(t, http.MethodPost, "/api/action/open-dispute",
		actions.OpenDisputeRequest{TransactionID: "txn_1", ReasonCode: "unauthorized"}, authHeader())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("confirmation_required status = %d", rec.Code)
	}

	// Conflict outcomes are 200 with a status tag.
	first := f.do(t, http.MethodPost, "/api/action/open-dispute",
		actions.OpenDisputeRequest{TransactionID: "txn_1", ReasonCode: "unauthorized", Confirm: true}, authHeader())
	if first.Code != http.StatusOK {
		t.Fatalf("first dispute status = %d: %s", first.Code, first.Body)
	}
	second := f.do(t, http.MethodPost, "/api/action/open-dispute",
		actions.OpenDisputeRequest{TransactionID: "txn_1", ReasonCode: "unauthorized", Confirm: true}, authHeader())
	if second.Code != http.StatusOK {
		t.Fatalf("second dispute status = %d", second.Code)
	}
	body := decode[map[string]string](t, second)
	if body["status"] != actions.StatusAlreadyExists {
		t.Errorf("second dispute body = %v", body)
	}
}

func TestIdempotencyReplay(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{Idempotency: idempotency.NewCache(time.Hour)})
	f.seed()

	headers := authHeader()
	headers["Idempotency-Key"] = "idem-abc"

	req := actions.FreezeCardRequest{CardID: "card_1"}
	first := f.do(t, http.MethodPost, "/api/action/freeze-card", req, headers)
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d: %s", first.Code, first.Body)
	}
	second := f.do(t, http.MethodPost, "/api/action/freeze-card", req, headers)
	if second.Code != http.StatusOK {
		t.Fatalf("second status = %d", second.Code)
	}

	if first.Body.String() != second.Body.String() {
		t.Errorf("replay body differs:\n%s\n%s", first.Body, second.Body)
	}
	if second.Header().Get("X-Idempotency-Replay") != "true" {
		t.Error("replay marker header missing")
	}

	// One side effect: the first call froze the card, the replay never
	// reached the handler, so there is exactly one freeze case.
	var resp actions.FreezeCardResponse
	if err := json.Unmarshal(first.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	events, err := f.store.ListCaseEvents(t.Context(), resp.CaseID)
	if err != nil {
		t.Fatalf("ListCaseEvents: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("case events = %d, want 1", len(events))
	}
}

func TestRequestBodyRedaction(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.seed()

	rec := f.do(t, http.MethodPost, "/api/action/open-dispute", actions.OpenDisputeRequest{
		TransactionID: "txn_1", ReasonCode: "unauthorized",
		Description: "my card 4556737586899855 was used without consent",
		Confirm:     true,
	}, authHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	resp := decode[actions.OpenDisputeResponse](t, rec)
	events, err := f.store.ListCaseEvents(t.Context(), resp.CaseID)
	if err != nil || len(events) != 1 {
		t.Fatalf("ListCaseEvents: %v (%d events)", err, len(events))
	}
	payload := string(events[0].Payload)
	if strings.Contains(payload, "4556737586899855") {
		t.Errorf("PAN reached the audit ledger: %s", payload)
	}
	if !strings.Contains(payload, "****REDACTED****") {
		t.Errorf("mask missing from audit payload: %s", payload)
	}
}

func TestResponseBodyRedaction(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.seed()

	rec := f.do(t, http.MethodGet, "/api/alerts", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	body := rec.Body.String()
	if strings.Contains(body, "asha@example.com") {
		t.Errorf("raw email crossed the wire: %s", body)
	}
	if !strings.Contains(body, "as***@example.com") {
		t.Errorf("masked email missing: %s", body)
	}

	// Profile responses go through the same pass.
	rec = f.do(t, http.MethodGet, "/api/customer/cust_1/profile", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status = %d: %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "asha@example.com") {
		t.Errorf("raw email in profile response: %s", rec.Body)
	}
}

func TestRateLimiting(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(ratelimit.NewMemStore(), time.Second, 5, nil, nil)
	f := newFixture(t, Options{Limiter: limiter})
	f.seed()

	var ok, limited int
	for i := 0; i < 7; i++ {
		rec := f.do(t, http.MethodGet, "/api/alerts", nil, nil)
		switch rec.Code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			limited++
			if ra := rec.Header().Get("Retry-After"); ra == "" {
				t.Error("429 without Retry-After")
			}
		default:
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}
	if ok != 5 || limited != 2 {
		t.Errorf("ok=%d limited=%d, want 5 and 2", ok, limited)
	}
}

func TestIngestTransactions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.seed()

	batch := []domain.Transaction{
		{ID: "in_1", CustomerID: "cust_1", CardID: "card_1", Timestamp: time.Now(), Amount: 900, Merchant: "Chai Stall"},
		{ID: "in_2", CustomerID: "cust_1", CardID: "card_1", Timestamp: time.Now(), Amount: 1_500, Merchant: "Book Depot", Country: "IN"},
	}
	rec := f.do(t, http.MethodPost, "/api/ingest/transactions", batch, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	body := decode[map[string]int](t, rec)
	if body["inserted"] != 2 || body["received"] != 2 {
		t.Errorf("body = %v", body)
	}

	// Country defaulting applied before insert.
	txn, ok, _ := f.store.GetTransaction(t.Context(), "in_1")
	if !ok || txn.Country != "IN" {
		t.Errorf("ingested txn = %+v", txn)
	}

	// Validation failures.
	bad := []domain.Transaction{{ID: "", CustomerID: "cust_1", Timestamp: time.Now(), Amount: 100}}
	if rec := f.do(t, http.MethodPost, "/api/ingest/transactions", bad, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d", rec.Code)
	}
	neg := []domain.Transaction{{ID: "in_3", CustomerID: "cust_1", Timestamp: time.Now(), Amount: -5}}
	if rec := f.do(t, http.MethodPost, "/api/ingest/transactions", neg, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("negative amount status = %d", rec.Code)
	}
}
