// Package api is the HTTP surface: read views, triage lifecycle and
// streaming, operator actions, and transaction ingest.
package api

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sift/internal/actions"
	"github.com/linnemanlabs/sift/internal/authmw"
	"github.com/linnemanlabs/sift/internal/idempotency"
	"github.com/linnemanlabs/sift/internal/insights"
	"github.com/linnemanlabs/sift/internal/ratelimit"
	"github.com/linnemanlabs/sift/internal/store"
	"github.com/linnemanlabs/sift/internal/triage"
)

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	store    store.Store
	triage   *triage.Service
	insights *insights.Service
	actions  *actions.Service
	limiter  *ratelimit.Limiter
	idem     *idempotency.Cache
	apiKey   string
	metrics  http.Handler
}

// Options carries the optional collaborators. A nil Limiter disables
// rate limiting, a nil Idempotency disables replay. Metrics, when set,
// aliases the Prometheus exposition on the app port for scrapers that
// cannot reach the ops listener.
type Options struct {
	Limiter     *ratelimit.Limiter
	Idempotency *idempotency.Cache
	APIKey      string
	Metrics     http.Handler
}

// New creates a new API handler.
func New(logger log.Logger, st store.Store, triageSvc *triage.Service, insightsSvc *insights.Service, actionsSvc *actions.Service, opts Options) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if st == nil {
		panic(xerrors.New("store is required"))
	}
	if triageSvc == nil || insightsSvc == nil || actionsSvc == nil {
		panic(xerrors.New("triage, insights and actions services are required"))
	}
	return &API{
		logger:   logger,
		store:    st,
		triage:   triageSvc,
		insights: insightsSvc,
		actions:  actionsSvc,
		limiter:  opts.Limiter,
		idem:     opts.Idempotency,
		apiKey:   opts.APIKey,
		metrics:  opts.Metrics,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/health", a.handleHealth)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if a.limiter != nil {
			r.Use(a.limiter.Middleware(clientKey))
		}
		r.Use(a.redactResponse)

		r.Get("/alerts", a.handleListAlerts)
		r.Get("/customer/{id}/profile", a.handleCustomerProfile)
		r.Get("/customer/{id}/transactions", a.handleCustomerTransactions)
		r.Get("/insights/{customerId}/summary", a.handleInsightsSummary)

		r.Post("/triage", a.handleStartTriage)
		r.Get("/triage/{runId}", a.handleGetTriage)
		r.Get("/triage/{runId}/stream", a.handleTriageStream)

		// Order matters on actions: admission, then auth, then replay,
		// then body redaction, so a replayed response is already clean
		// and an unauthenticated caller never touches the cache.
		r.Route("/action", func(r chi.Router) {
			r.Use(authmw.APIKey(a.apiKey))
			if a.idem != nil {
				r.Use(a.idem.Middleware)
			}
			r.Use(redactBody)
			r.Post("/freeze-card", a.handleFreezeCard)
			r.Post("/open-dispute", a.handleOpenDispute)
			r.Post("/mark-false-positive", a.handleFalsePositive)
		})

		if a.idem != nil {
			r.With(a.idem.Middleware).Post("/ingest/transactions", a.handleIngestTransactions)
		} else {
			r.Post("/ingest/transactions", a.handleIngestTransactions)
		}
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	a.respond(w, http.StatusOK, map[string]any{
		"status": "ok",
		"ts":     time.Now().UTC().Format(time.RFC3339),
	})
}

// clientKey picks the rate-limit identity: the API key when the caller
// presents one, else the remote address.
func clientKey(r *http.Request) string {
	if key := r.Header.Get(authmw.Header); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

func (a *API) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
