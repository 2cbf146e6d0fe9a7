package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/linnemanlabs/sift/internal/actions"
	"github.com/linnemanlabs/sift/internal/redact"
)

// maxActionBody bounds how much of an action body the redaction pass reads.
const maxActionBody = 1 << 20

// redactBody masks PII in JSON request bodies before handlers see them,
// so raw card numbers in free-text fields never reach processing or the
// audit trail.
func redactBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxActionBody))
		_ = r.Body.Close()
		if err != nil {
			jsonError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			// Not JSON; the handler's decoder rejects it with full context.
			r.Body = io.NopCloser(bytes.NewReader(raw))
			next.ServeHTTP(w, r)
			return
		}

		res := redact.Value(v)
		if res.Masked {
			if clean, err := json.Marshal(res.Value); err == nil {
				raw = clean
			}
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))
		r.ContentLength = int64(len(raw))
		next.ServeHTTP(w, r)
	})
}

// redactWriter buffers JSON responses so they can be masked before going
// out. Event streams switch to passthrough at WriteHeader time so frames
// keep flushing instead of being held back.
type redactWriter struct {
	http.ResponseWriter
	status int
	stream bool
	buf    bytes.Buffer
}

func (w *redactWriter) WriteHeader(status int) {
	w.status = status
	if strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream") {
		w.stream = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *redactWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if w.stream {
		return w.ResponseWriter.Write(p)
	}
	return w.buf.Write(p)
}

func (w *redactWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// redactResponse masks PII in outgoing JSON bodies. Together with
// redactBody the redactor sits on both directions of every call, so a
// raw card number stored upstream still never crosses the wire.
func (a *API) redactResponse(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &redactWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.stream {
			return
		}

		out := rw.buf.Bytes()
		var v any
		if err := json.Unmarshal(out, &v); err == nil {
			if res := redact.Value(v); res.Masked {
				if clean, err := json.Marshal(res.Value); err == nil {
					out = append(clean, '\n')
					a.logger.Info(r.Context(), "response redacted",
						"path", r.URL.Path,
						"masked", true,
					)
				}
			}
		}
		_, _ = w.Write(out)
	})
}

func (a *API) handleFreezeCard(w http.ResponseWriter, r *http.Request) {
	var req actions.FreezeCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.CardID == "" {
		jsonError(w, http.StatusBadRequest, "cardId is required")
		return
	}

	resp, err := a.actions.FreezeCard(r.Context(), req)
	if err != nil {
		a.actionError(w, r, err, "freeze card")
		return
	}
	a.respond(w, http.StatusOK, resp)
}

func (a *API) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	var req actions.OpenDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.TransactionID == "" || req.ReasonCode == "" {
		jsonError(w, http.StatusBadRequest, "txnId and reasonCode are required")
		return
	}

	resp, err := a.actions.OpenDispute(r.Context(), req)
	if err != nil {
		a.actionError(w, r, err, "open dispute")
		return
	}
	a.respond(w, http.StatusOK, resp)
}

func (a *API) handleFalsePositive(w http.ResponseWriter, r *http.Request) {
	var req actions.FalsePositiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.AlertID == "" {
		jsonError(w, http.StatusBadRequest, "alertId is required")
		return
	}

	resp, err := a.actions.MarkFalsePositive(r.Context(), req)
	if err != nil {
		a.actionError(w, r, err, "mark false positive")
		return
	}
	a.respond(w, http.StatusOK, resp)
}

// actionError maps action failures onto the wire. Conflict outcomes
// never reach here; they are successes with a status tag.
func (a *API) actionError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, actions.ErrNotFound):
		jsonError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, actions.ErrInvalidOTP):
		jsonError(w, http.StatusBadRequest, "invalid_otp")
	case errors.Is(err, actions.ErrConfirmationRequired):
		jsonError(w, http.StatusBadRequest, "confirmation_required")
	default:
		a.logger.Error(r.Context(), err, "action failed", "op", op)
		jsonError(w, http.StatusInternalServerError, "internal error")
	}
}
