// Package doctor validates tgrelay configuration beyond what loading
// enforces, reporting findings as errors and warnings.
package doctor

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mattjoyce/tgrelay/internal/command"
	"github.com/mattjoyce/tgrelay/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Bots     int     `json:"bots"`
	Commands int     `json:"commands"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for a config returned by config.Load.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate resolves every bot and runs all checks.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	for _, w := range d.cfg.Warnings {
		d.addWarning(r, "integrity", "", w)
	}
	d.validateAPIConfig(r)
	d.validateWebhooks(r)

	bots, err := config.Resolve(d.cfg)
	if err != nil {
		d.addError(r, "commands", "", err.Error())
	} else {
		r.Bots = len(bots)
		for i, bot := range bots {
			r.Commands += len(bot.Commands)
			d.warnOpenAccess(r, i, bot)
			d.warnShadowedCommands(r, i, bot)
			d.warnStaticInline(r, i, bot)
		}
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Auth.APIKey == "" {
		d.addWarning(r, "api", "api.auth.api_key", "API enabled but no api_key configured; /events and /bots will reject every request")
	}
}

// validateWebhooks warns about bots whose webhook cannot be authenticated.
func (d *Doctor) validateWebhooks(r *Result) {
	if d.cfg.Transport.Mode != config.TransportWebhook {
		return
	}
	for i, bot := range d.cfg.Bots {
		if bot.WebhookSecret == "" {
			d.addWarning(r, "webhook", fmt.Sprintf("bots[%d].webhook_secret", i),
				fmt.Sprintf("bot %q accepts webhook posts from anyone who knows its URL", bot.Name))
		}
	}
}

// warnOpenAccess flags commands any Telegram user can trigger.
func (d *Doctor) warnOpenAccess(r *Result, i int, bot config.BotSpec) {
	for j, cmd := range bot.Commands {
		if cmd.Policy.Allow == nil {
			d.addWarning(r, "access", fmt.Sprintf("bots[%d].commands[%d]", i, j),
				fmt.Sprintf("command %q has no allow list and runs for every sender", cmd.Name))
		}
	}
}

// warnShadowedCommands flags commands that can never match because an
// earlier command of the same mode has the identical pattern.
func (d *Doctor) warnShadowedCommands(r *Result, i int, bot config.BotSpec) {
	seen := map[string]string{}
	for j, cmd := range bot.Commands {
		key := cmd.Mode.String() + "\x00" + cmd.Pattern.String()
		if first, ok := seen[key]; ok {
			d.addWarning(r, "commands", fmt.Sprintf("bots[%d].commands[%d]", i, j),
				fmt.Sprintf("command %q is shadowed by %q (same pattern)", cmd.Name, first))
			continue
		}
		seen[key] = cmd.Name
	}
}

// warnStaticInline flags inline commands whose argv ignores the offset
// placeholder: every page of results would be identical.
func (d *Doctor) warnStaticInline(r *Result, i int, bot config.BotSpec) {
	for j, cmd := range bot.Commands {
		if cmd.Mode != command.ModeInline {
			continue
		}
		first, second := 0, 1
		if slices.Equal(command.Expand(cmd.Args, command.Captures{}, &first), command.Expand(cmd.Args, command.Captures{}, &second)) {
			d.addWarning(r, "inline", fmt.Sprintf("bots[%d].commands[%d].args", i, j),
				fmt.Sprintf("inline command %q never uses ${%s}; every invocation gets the same arguments", cmd.Name, command.OffsetPlaceholder))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		fmt.Fprintf(&b, "Configuration valid: %d bot(s), %d command(s).\n", r.Bots, r.Commands)
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid: %d bot(s), %d command(s) (%d warning(s))\n", r.Bots, r.Commands, len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
	} else {
		fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
	}
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
