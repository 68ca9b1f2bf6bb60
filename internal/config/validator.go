package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/mattjoyce/tgrelay/internal/command"
)

// validNamePattern restricts bot names to what fits a URL path segment and a log field.
var validNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// validate performs structural validation. Executable lookup and pattern
// compilation happen in Resolve.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch cfg.Service.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.API.Enabled {
		if err := checkUnresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
	}

	switch cfg.Transport.Mode {
	case TransportPolling:
	case TransportWebhook:
		if cfg.Transport.WebhookURL == "" {
			return fmt.Errorf("transport.webhook_url is required when transport.mode is webhook")
		}
		u, err := url.Parse(cfg.Transport.WebhookURL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("transport.webhook_url must be an absolute https URL (got %q)", cfg.Transport.WebhookURL)
		}
		if !cfg.API.Enabled {
			return fmt.Errorf("transport.mode webhook requires api.enabled for the ingress listener")
		}
	default:
		return fmt.Errorf("transport.mode must be polling or webhook (got %q)", cfg.Transport.Mode)
	}
	if cfg.Transport.PollTimeout < 0 {
		return fmt.Errorf("transport.poll_timeout must not be negative")
	}

	if len(cfg.Bots) == 0 {
		return fmt.Errorf("at least one bot must be configured")
	}

	seen := make(map[string]int, len(cfg.Bots))
	for i, bot := range cfg.Bots {
		prefix := fmt.Sprintf("bots[%d]", i)
		if bot.Name == "" {
			return fmt.Errorf("%s.name is required", prefix)
		}
		if !validNamePattern.MatchString(bot.Name) {
			return fmt.Errorf("%s.name %q must contain only letters, digits, '-' and '_'", prefix, bot.Name)
		}
		if prev, dup := seen[bot.Name]; dup {
			return fmt.Errorf("%s.name %q duplicates bots[%d]", prefix, bot.Name, prev)
		}
		seen[bot.Name] = i

		if bot.Token == "" {
			return fmt.Errorf("%s (%s): token is required", prefix, bot.Name)
		}
		if err := checkUnresolved(prefix+".token", bot.Token); err != nil {
			return err
		}
		if err := checkUnresolved(prefix+".webhook_secret", bot.WebhookSecret); err != nil {
			return err
		}

		for j, cmd := range bot.Commands {
			if err := validateCommand(fmt.Sprintf("%s.commands[%d]", prefix, j), cmd); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateCommand(prefix string, cmd CommandConf) error {
	switch {
	case cmd.Pattern == "" && cmd.Prefix == "":
		return fmt.Errorf("%s: one of pattern or prefix is required", prefix)
	case cmd.Pattern != "" && cmd.Prefix != "":
		return fmt.Errorf("%s: pattern and prefix are mutually exclusive", prefix)
	}
	if cmd.Executable == "" {
		return fmt.Errorf("%s: executable is required", prefix)
	}
	if _, err := command.ParseInputKind(cmd.Input); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	if _, err := command.ParseOutputKind(cmd.Output); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	if _, err := command.ParseMode(cmd.Mode); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	if cmd.Timeout < 0 {
		return fmt.Errorf("%s: timeout must not be negative", prefix)
	}
	for k, kv := range cmd.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("%s.env[%d]: expected KEY=VALUE (got %q)", prefix, k, kv)
		}
		if err := checkUnresolved(fmt.Sprintf("%s.env[%d]", prefix, k), kv); err != nil {
			return err
		}
	}
	for k, arg := range cmd.Args {
		if err := checkUnresolved(fmt.Sprintf("%s.args[%d]", prefix, k), arg); err != nil {
			return err
		}
	}
	return checkUnresolved(prefix+".executable", cmd.Executable)
}

// checkUnresolved rejects a value that still holds an ${env:VAR} placeholder.
func checkUnresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); m != nil {
		return fmt.Errorf("%s: environment variable %s is not set", field, m[1])
	}
	return nil
}
