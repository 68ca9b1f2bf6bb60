// Package app wires configured bots to their transports, dispatch loops and
// the HTTP API, and runs them under one supervisor.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattjoyce/tgrelay/internal/api"
	"github.com/mattjoyce/tgrelay/internal/config"
	"github.com/mattjoyce/tgrelay/internal/dispatch"
	"github.com/mattjoyce/tgrelay/internal/event"
	"github.com/mattjoyce/tgrelay/internal/events"
	"github.com/mattjoyce/tgrelay/internal/log"
	"github.com/mattjoyce/tgrelay/internal/runner"
	"github.com/mattjoyce/tgrelay/internal/supervisor"
	"github.com/mattjoyce/tgrelay/internal/telegram"
)

// updateBuffer is the per-bot queue between the transport and the dispatch loop.
const updateBuffer = 64

// App is a configured relay ready to run.
type App struct {
	cfg    *config.Config
	bots   []config.BotSpec
	hub    *events.Hub
	logger *slog.Logger
}

// New creates an App for cfg and its resolved bots.
func New(cfg *config.Config, bots []config.BotSpec) *App {
	return &App{
		cfg:    cfg,
		bots:   bots,
		hub:    events.NewHub(events.DefaultCapacity),
		logger: log.WithComponent("app"),
	}
}

// Hub exposes the event hub the dispatch loops publish to.
func (a *App) Hub() *events.Hub { return a.hub }

// Run connects every bot, then blocks until ctx is done and every unit has
// stopped. Connection failures abort startup before anything runs.
func (a *App) Run(ctx context.Context) error {
	for _, w := range a.cfg.Warnings {
		a.logger.Warn("config warning", "warning", w)
	}

	var units []supervisor.Unit
	infos := make([]api.BotInfo, 0, len(a.bots))
	webhooks := make(map[string]*telegram.Webhook)

	for _, bot := range a.bots {
		client, err := telegram.New(bot.Name, bot.Token, telegram.Options{
			Endpoint:    a.cfg.Transport.Endpoint,
			PollTimeout: a.cfg.Transport.PollTimeout,
		})
		if err != nil {
			return err
		}
		infos = append(infos, BotInfo(bot, client.Username()))

		updates := make(chan event.Event, updateBuffer)
		d := dispatch.New(bot.Name, bot.Commands, runner.New(log.WithBot(bot.Name)), client, a.hub)

		switch a.cfg.Transport.Mode {
		case config.TransportWebhook:
			url := WebhookURL(a.cfg.Transport.WebhookURL, bot.Name)
			if err := client.SetWebhook(url, bot.WebhookSecret); err != nil {
				return fmt.Errorf("bot %s: %w", bot.Name, err)
			}
			webhooks[bot.Name] = telegram.NewWebhook(bot.Name, bot.WebhookSecret, updates)
		default:
			// getUpdates is refused while a webhook is registered.
			if err := client.DeleteWebhook(); err != nil {
				return fmt.Errorf("bot %s: %w", bot.Name, err)
			}
			units = append(units, supervisor.Func{
				UnitName: "poll:" + bot.Name,
				Fn: func(ctx context.Context) error {
					defer close(updates)
					return client.Poll(ctx, updates)
				},
			})
		}

		units = append(units, supervisor.Func{
			UnitName: "dispatch:" + bot.Name,
			Fn: func(ctx context.Context) error {
				return d.Run(ctx, updates)
			},
		})
	}

	if a.cfg.API.Enabled {
		srv := api.New(api.Config{
			Listen: a.cfg.API.Listen,
			APIKey: a.cfg.API.Auth.APIKey,
		}, a.hub, infos, log.WithComponent("api"))
		for name, h := range webhooks {
			srv.RegisterWebhook(name, h)
		}
		var unit supervisor.Unit = srv
		if a.cfg.Transport.Mode == config.TransportWebhook {
			// The listener is the only ingress in webhook mode.
			unit = supervisor.Essential(srv)
		}
		units = append(units, unit)
	}

	a.logger.Info("relay running", "bots", len(a.bots), "transport", a.cfg.Transport.Mode, "api", a.cfg.API.Enabled)
	return supervisor.Run(ctx, units...)
}

// WebhookURL is the address Telegram posts bot's updates to.
func WebhookURL(base, bot string) string {
	return strings.TrimRight(base, "/") + "/telegram/" + bot
}

// BotInfo summarizes a resolved bot for the API listing.
func BotInfo(bot config.BotSpec, username string) api.BotInfo {
	info := api.BotInfo{
		Name:     bot.Name,
		Username: username,
		Commands: make([]api.CommandInfo, 0, len(bot.Commands)),
	}
	for _, cmd := range bot.Commands {
		info.Commands = append(info.Commands, api.CommandInfo{
			Name:       cmd.Name,
			Pattern:    cmd.Pattern.String(),
			Executable: cmd.Executable,
			Mode:       cmd.Mode.String(),
			Output:     cmd.Output.String(),
			Allow:      cmd.Policy.Allow,
			Deny:       cmd.Policy.Deny,
		})
	}
	return info
}
