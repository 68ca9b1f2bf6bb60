package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Bots:          len(s.bots),
		Events:        s.hub.Counts(),
	})
}

func (s *Server) handleBots(w http.ResponseWriter, r *http.Request) {
	bots := s.bots
	if bots == nil {
		bots = []BotInfo{}
	}
	respondJSON(w, http.StatusOK, bots)
}

// handleWebhook handles POST /telegram/{bot}.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	bot := chi.URLParam(r, "bot")

	s.mu.RLock()
	h, ok := s.webhooks[bot]
	s.mu.RUnlock()

	if !ok {
		writeError(w, http.StatusNotFound, "unknown bot")
		return
	}
	h.ServeHTTP(w, r)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
