package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tgrelay/internal/events"
)

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		provided   string
		configured string
		want       bool
	}{
		{"match", "relay-key", "relay-key", true},
		{"mismatch", "relay-key", "other", false},
		{"prefix of configured", "relay", "relay-key", false},
		{"empty provided", "", "relay-key", false},
		{"empty configured locks", "relay-key", "", false},
		{"both empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateAPIKey(tt.provided, tt.configured))
		})
	}
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr string
	}{
		{name: "bearer", header: "Bearer relay-key", want: "relay-key"},
		{name: "padded with spaces", header: "Bearer   relay-key  ", want: "relay-key"},
		{name: "padded with tab", header: "Bearer \trelay-key\t", want: "relay-key"},
		{name: "missing header", header: "", wantErr: "missing Authorization header"},
		{name: "basic scheme", header: "Basic abc", wantErr: "invalid Authorization header format"},
		{name: "lowercase scheme", header: "bearer relay-key", wantErr: "invalid Authorization header format"},
		{name: "blank key", header: "Bearer \t ", wantErr: "missing API key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://relay.test/bots", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			key, err := ExtractAPIKey(req)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, key)
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		header     string
		wantStatus int
	}{
		{"valid key", "relay-key", "Bearer relay-key", http.StatusNoContent},
		{"tab padded key", "relay-key", "Bearer\t relay-key", http.StatusUnauthorized},
		{"space padded key", "relay-key", "Bearer relay-key ", http.StatusNoContent},
		{"wrong key", "relay-key", "Bearer nope", http.StatusUnauthorized},
		{"no header", "relay-key", "", http.StatusUnauthorized},
		{"empty configured key", "", "Bearer anything", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{APIKey: tt.configured}, events.NewHub(events.DefaultCapacity), nil,
				slog.New(slog.NewTextHandler(io.Discard, nil)))
			var reached bool
			h := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodGet, "http://relay.test/bots", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantStatus == http.StatusNoContent, reached)
		})
	}
}
