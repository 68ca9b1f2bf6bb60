// Package telegram adapts the Bot API client to the relay's event and reply types.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mattjoyce/tgrelay/internal/event"
	"github.com/mattjoyce/tgrelay/internal/log"
)

// DefaultPollTimeout is the long-poll timeout passed to getUpdates.
const DefaultPollTimeout = 60 * time.Second

// allowedUpdates limits delivery to the update kinds the relay dispatches.
var allowedUpdates = []string{"message", "inline_query"}

// Options configures a Client.
type Options struct {
	// Endpoint overrides the Bot API URL format (tgbotapi.APIEndpoint).
	Endpoint    string
	PollTimeout time.Duration
	// HTTPClient overrides the default HTTP client.
	HTTPClient tgbotapi.HTTPClient
}

// Client is one bot's connection to the Bot API.
type Client struct {
	name        string
	bot         *tgbotapi.BotAPI
	pollTimeout time.Duration
	logger      *slog.Logger
	stopOnce    sync.Once
}

var setLoggerOnce sync.Once

// New connects to the Bot API with token and verifies it with getMe.
func New(name, token string, opts Options) (*Client, error) {
	setLoggerOnce.Do(func() {
		// Library polling errors are routed through slog instead of stderr.
		_ = tgbotapi.SetLogger(&botLogger{logger: log.WithComponent("telegram_api")})
	})

	if opts.Endpoint == "" {
		opts.Endpoint = tgbotapi.APIEndpoint
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.PollTimeout + 30*time.Second}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, opts.Endpoint, opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("connect bot %s: %w", name, err)
	}

	logger := log.WithComponent("telegram").With("bot", name)
	logger.Info("connected to bot api", "username", bot.Self.UserName)

	return &Client{
		name:        name,
		bot:         bot,
		pollTimeout: opts.PollTimeout,
		logger:      logger,
	}, nil
}

// Name returns the configured bot name.
func (c *Client) Name() string { return c.name }

// Username returns the bot's Telegram username.
func (c *Client) Username() string { return c.bot.Self.UserName }

// Send calls method with body encoded as Bot API form parameters.
func (c *Client) Send(ctx context.Context, method string, body map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params, err := toParams(body)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", method, err)
	}
	if _, err := c.bot.MakeRequest(method, params); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Poll long-polls getUpdates and forwards converted events to out in arrival
// order. It returns when ctx is done.
func (c *Client) Poll(ctx context.Context, out chan<- event.Event) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(c.pollTimeout / time.Second)
	cfg.AllowedUpdates = allowedUpdates

	updates := c.bot.GetUpdatesChan(cfg)
	defer c.stop()

	c.logger.Info("polling for updates", "timeout", c.pollTimeout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := Convert(u)
			if !ok {
				c.logger.Debug("ignoring update", "update_id", u.UpdateID)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *Client) stop() {
	c.stopOnce.Do(c.bot.StopReceivingUpdates)
}

// SetWebhook registers url as the bot's webhook. A non-empty secret is echoed
// by Telegram in the X-Telegram-Bot-Api-Secret-Token header.
func (c *Client) SetWebhook(url, secret string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}

	params := tgbotapi.Params{"url": wh.URL.String()}
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", allowedUpdates); err != nil {
		return err
	}
	if _, err := c.bot.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	c.logger.Info("webhook registered", "url", wh.URL.Redacted())
	return nil
}

// DeleteWebhook removes the bot's webhook so getUpdates can be used.
func (c *Client) DeleteWebhook() error {
	if _, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}
	return nil
}

// toParams flattens a JSON request body into form parameters. Strings are
// sent verbatim and every other value as its JSON encoding.
func toParams(body map[string]any) (tgbotapi.Params, error) {
	params := make(tgbotapi.Params, len(body))
	for key, value := range body {
		switch v := value.(type) {
		case string:
			params[key] = v
		case json.Number:
			params[key] = v.String()
		default:
			if err := params.AddInterface(key, v); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return params, nil
}

type botLogger struct {
	logger *slog.Logger
}

func (l *botLogger) Println(v ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *botLogger) Printf(format string, v ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
