package authmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func TestAPIKey_ValidKey(t *testing.T) {
	t.Parallel()

	h := APIKey("secret-key-123")(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	req.Header.Set(Header, "secret-key-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAPIKey_MissingHeader(t *testing.T) {
	t.Parallel()

	h := APIKey("secret")(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q, want application/json", ct)
	}
}

func TestAPIKey_InvalidKey(t *testing.T) {
	t.Parallel()

	h := APIKey("correct-key")(okHandler)

	tests := []struct {
		name string
		key  string
	}{
		{"wrong key", "wrong-key"},
		{"partial match", "correct"},
		{"expected plus suffix", "correct-key-extra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
			req.Header.Set(Header, tt.key)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}
