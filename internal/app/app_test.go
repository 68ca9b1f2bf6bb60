package app

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tgrelay/internal/acl"
	"github.com/mattjoyce/tgrelay/internal/command"
	"github.com/mattjoyce/tgrelay/internal/config"
	"github.com/mattjoyce/tgrelay/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

// botAPI fakes the handful of Bot API methods the relay calls.
type botAPI struct {
	mu      sync.Mutex
	calls   map[string][]map[string]string
	pending []string
	getMeOK bool
}

func newBotAPI(t *testing.T, updates ...string) (*botAPI, string) {
	t.Helper()
	b := &botAPI{calls: map[string][]map[string]string{}, pending: updates, getMeOK: true}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, srv.URL + "/bot%s/%s"
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	_ = r.ParseForm()
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}

	b.mu.Lock()
	b.calls[method] = append(b.calls[method], form)
	var batch []string
	if method == "getUpdates" {
		batch, b.pending = b.pending, nil
	}
	getMeOK := b.getMeOK
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		if !getMeOK {
			_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Relay","username":"relay_bot"}}`))
	case "getUpdates":
		if len(batch) == 0 {
			time.Sleep(10 * time.Millisecond)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":[` + strings.Join(batch, ",") + `]}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}
}

func (b *botAPI) requests(method string) []map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]string(nil), b.calls[method]...)
}

func echoBot(t *testing.T) config.BotSpec {
	t.Helper()
	script := filepath.Join(t.TempDir(), "echo.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nprintf 'you said %s' \"$1\"\n"), 0o755))
	return config.BotSpec{
		Name:  "alpha",
		Token: "123:abc",
		Commands: []command.Command{{
			Name:       "echo",
			Pattern:    regexp.MustCompile(`^/echo (.+)$`),
			Executable: script,
			Args:       []string{"$1"},
			Output:     command.OutputText,
			Policy:     acl.Policy{Allow: acl.NewList(42)},
		}},
	}
}

func pollingConfig(endpoint string) *config.Config {
	cfg := config.Defaults()
	cfg.Transport.Endpoint = endpoint
	cfg.Transport.PollTimeout = time.Second
	return cfg
}

const echoUpdate = `{"update_id":7,"message":{"message_id":1,"date":0,"text":"/echo hi","from":{"id":42,"is_bot":false,"first_name":"A"},"chat":{"id":-100,"type":"group"}}}`

func TestRunPollingRoundTrip(t *testing.T) {
	fake, endpoint := newBotAPI(t, echoUpdate)
	a := New(pollingConfig(endpoint), []config.BotSpec{echoBot(t)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(fake.requests("sendMessage")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	sent := fake.requests("sendMessage")[0]
	assert.Equal(t, "-100", sent["chat_id"])
	assert.Equal(t, "you said hi", sent["text"])
	assert.Len(t, fake.requests("deleteWebhook"), 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}

	assert.Eventually(t, func() bool {
		return a.Hub().Counts()["reply.sent"] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRunWebhookRegistersEachBot(t *testing.T) {
	fake, endpoint := newBotAPI(t)
	cfg := pollingConfig(endpoint)
	cfg.Transport.Mode = config.TransportWebhook
	cfg.Transport.WebhookURL = "https://relay.example.com/hooks/"
	cfg.API.Enabled = true
	cfg.API.Listen = "127.0.0.1:0"

	bot := echoBot(t)
	bot.WebhookSecret = "s3cret"
	a := New(cfg, []config.BotSpec{bot})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(fake.requests("setWebhook")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	req := fake.requests("setWebhook")[0]
	assert.Equal(t, "https://relay.example.com/hooks/telegram/alpha", req["url"])
	assert.Equal(t, "s3cret", req["secret_token"])
	assert.Empty(t, fake.requests("getUpdates"))

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRunWebhookIngressFailureStopsRelay(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	_, endpoint := newBotAPI(t)
	cfg := pollingConfig(endpoint)
	cfg.Transport.Mode = config.TransportWebhook
	cfg.Transport.WebhookURL = "https://relay.example.com"
	cfg.API.Enabled = true
	cfg.API.Listen = occupied.Addr().String()

	done := make(chan error, 1)
	go func() { done <- New(cfg, []config.BotSpec{echoBot(t)}).Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api")
	case <-time.After(5 * time.Second):
		t.Fatal("relay kept running without its webhook listener")
	}
}

func TestRunConnectFailureAbortsStartup(t *testing.T) {
	fake, endpoint := newBotAPI(t)
	fake.mu.Lock()
	fake.getMeOK = false
	fake.mu.Unlock()

	err := New(pollingConfig(endpoint), []config.BotSpec{echoBot(t)}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha")
	assert.Empty(t, fake.requests("getUpdates"))
}

func TestWebhookURL(t *testing.T) {
	assert.Equal(t, "https://x.test/telegram/a", WebhookURL("https://x.test", "a"))
	assert.Equal(t, "https://x.test/base/telegram/a", WebhookURL("https://x.test/base/", "a"))
}

func TestBotInfo(t *testing.T) {
	info := BotInfo(echoBot(t), "relay_bot")
	assert.Equal(t, "alpha", info.Name)
	assert.Equal(t, "relay_bot", info.Username)
	require.Len(t, info.Commands, 1)
	c := info.Commands[0]
	assert.Equal(t, "echo", c.Name)
	assert.Equal(t, `^/echo (.+)$`, c.Pattern)
	assert.Equal(t, "message", c.Mode)
	assert.Equal(t, "text", c.Output)
	assert.Equal(t, []int64{42}, c.Allow)
	assert.Nil(t, c.Deny)
}
