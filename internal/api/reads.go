package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/sift/internal/cursor"
	"github.com/linnemanlabs/sift/internal/domain"
	"github.com/linnemanlabs/sift/internal/store"
)

// openAlertLimit caps the alert list view.
const openAlertLimit = 50

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.store.ListOpenAlerts(r.Context(), openAlertLimit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list alerts")
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.respond(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) handleCustomerProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	profile, ok, err := a.store.GetCustomerProfile(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to load customer profile", "customer_id", id)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		jsonError(w, http.StatusNotFound, "customer not found")
		return
	}
	a.respond(w, http.StatusOK, profile)
}

func (a *API) handleCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	q := store.TxnPageQuery{CustomerID: chi.URLParam(r, "id")}

	if raw := r.URL.Query().Get("cursor"); raw != "" {
		c, err := cursor.Decode(raw)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		q.Cursor = c
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	q.Limit = cursor.ClampLimit(limit)

	if raw := r.URL.Query().Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		q.From = &ts
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		q.To = &ts
	}

	rows, err := a.store.TransactionsPage(r.Context(), q)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to page transactions", "customer_id", q.CustomerID)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	page := cursor.NewPage(rows, q.Limit, func(t domain.Transaction) (time.Time, string) {
		return t.Timestamp, t.ID
	})
	a.respond(w, http.StatusOK, page)
}

func (a *API) handleInsightsSummary(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")

	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "invalid days")
			return
		}
		days = n
	}

	summary, err := a.insights.Summarize(r.Context(), customerID, days)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to summarize", "customer_id", customerID)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.respond(w, http.StatusOK, summary)
}
