package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/mattjoyce/tgrelay/internal/event"
	"github.com/mattjoyce/tgrelay/internal/log"
)

// SecretHeader carries the webhook secret registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBytes = 1 << 20

// Webhook receives pushed updates for one bot and forwards them to the same
// channel a poller would use.
type Webhook struct {
	bot    string
	secret string
	out    chan<- event.Event
	logger *slog.Logger
}

// NewWebhook creates the HTTP ingress for bot. An empty secret disables the header check.
func NewWebhook(bot, secret string, out chan<- event.Event) *Webhook {
	return &Webhook{
		bot:    bot,
		secret: secret,
		out:    out,
		logger: log.WithComponent("webhook").With("bot", bot),
	}
}

func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(h.secret)) != 1 {
		h.logger.Warn("webhook request with invalid secret", "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid secret token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxUpdateBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "update too large")
		return
	}

	ev, ok, err := ParseUpdate(body)
	if err != nil {
		h.logger.Warn("invalid webhook update", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		h.logger.Debug("ignoring webhook update")
		w.WriteHeader(http.StatusOK)
		return
	}

	select {
	case h.out <- ev:
		w.WriteHeader(http.StatusOK)
	case <-r.Context().Done():
		// Telegram redelivers updates that were not acknowledged.
		writeError(w, http.StatusServiceUnavailable, "relay busy")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
