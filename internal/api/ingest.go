package api

import (
	"encoding/json"
	"net/http"

	"github.com/linnemanlabs/sift/internal/domain"
)

// maxIngestBatch caps one bulk ingest request.
const maxIngestBatch = 1000

// defaultCountry is assumed for transactions ingested without one.
const defaultCountry = "IN"

func (a *API) handleIngestTransactions(w http.ResponseWriter, r *http.Request) {
	var txns []domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&txns); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid payload: expected a transaction array")
		return
	}
	if len(txns) == 0 {
		jsonError(w, http.StatusBadRequest, "empty batch")
		return
	}
	if len(txns) > maxIngestBatch {
		jsonError(w, http.StatusBadRequest, "batch too large")
		return
	}

	for i := range txns {
		t := &txns[i]
		if t.ID == "" || t.CustomerID == "" {
			jsonError(w, http.StatusBadRequest, "id and customer_id are required on every transaction")
			return
		}
		if t.Amount <= 0 {
			jsonError(w, http.StatusBadRequest, "amount must be a positive integer of minor units")
			return
		}
		if t.Timestamp.IsZero() {
			jsonError(w, http.StatusBadRequest, "timestamp is required on every transaction")
			return
		}
		if t.Country == "" {
			t.Country = defaultCountry
		}
		if t.Status == "" {
			t.Status = "completed"
		}
	}

	inserted, err := a.store.InsertTransactions(r.Context(), txns)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to ingest transactions", "batch", len(txns))
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.logger.Info(r.Context(), "ingested transactions", "received", len(txns), "inserted", inserted)
	a.respond(w, http.StatusOK, map[string]int{
		"received": len(txns),
		"inserted": inserted,
	})
}
