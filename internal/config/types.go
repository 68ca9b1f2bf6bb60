package config

import "time"

// Config represents the complete tgrelay configuration.
type Config struct {
	Include   []string        `yaml:"include,omitempty"`
	Service   ServiceConfig   `yaml:"service"`
	API       APIConfig       `yaml:"api,omitempty"`
	Transport TransportConfig `yaml:"transport"`
	// Allow and Deny are the global sender lists inherited by every bot.
	Allow []int64   `yaml:"allow,omitempty"`
	Deny  []int64   `yaml:"deny,omitempty"`
	Bots  []BotConf `yaml:"bots"`

	// Files lists every loaded file, root first.
	Files []string `yaml:"-"`
	// Warnings collects non-fatal load findings such as a missing .checksums.
	Warnings []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LockPath  string `yaml:"lock_path"`
}

// APIConfig defines HTTP API server settings. The server also carries the
// webhook ingress when transport.mode is webhook.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the bearer token for the protected routes. When empty they reject every request.
	APIKey string `yaml:"api_key"`
}

// TransportConfig selects how updates are received.
type TransportConfig struct {
	Mode        string        `yaml:"mode"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// WebhookURL is the public base URL; each bot registers <base>/telegram/<name>.
	WebhookURL string `yaml:"webhook_url,omitempty"`
	// Endpoint overrides the Bot API URL format, for self-hosted API servers.
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Transport modes.
const (
	TransportPolling = "polling"
	TransportWebhook = "webhook"
)

// BotConf defines one bot and its ordered command list.
type BotConf struct {
	Name          string        `yaml:"name"`
	Token         string        `yaml:"token"`
	WebhookSecret string        `yaml:"webhook_secret,omitempty"`
	Allow         []int64       `yaml:"allow,omitempty"`
	Deny          []int64       `yaml:"deny,omitempty"`
	Commands      []CommandConf `yaml:"commands"`
}

// CommandConf defines one command. Exactly one of Pattern and Prefix is set.
type CommandConf struct {
	Name       string        `yaml:"name"`
	Pattern    string        `yaml:"pattern,omitempty"`
	Prefix     string        `yaml:"prefix,omitempty"`
	Executable string        `yaml:"executable"`
	Args       []string      `yaml:"args,omitempty"`
	Dir        string        `yaml:"dir,omitempty"`
	Env        []string      `yaml:"env,omitempty"`
	Input      string        `yaml:"input,omitempty"`
	Output     string        `yaml:"output,omitempty"`
	Mode       string        `yaml:"mode,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	StrictExit bool          `yaml:"strict_exit,omitempty"`
	Allow      []int64       `yaml:"allow,omitempty"`
	Deny       []int64       `yaml:"deny,omitempty"`
}

// ChecksumManifest is the on-disk .checksums format.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "tgrelay",
			LogLevel:  "info",
			LogFormat: "json",
			LockPath:  "./tgrelay.lock",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "localhost:8080",
		},
		Transport: TransportConfig{
			Mode:        TransportPolling,
			PollTimeout: 60 * time.Second,
		},
	}
}
