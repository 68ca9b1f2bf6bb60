package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
bots:
  - name: main
    token: "123:abc"
    commands:
      - name: echo
        pattern: '^/echo (.*)$'
        executable: sh
        args: ['-c', 'echo "$1"', 'sh', '${1}']
`

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal config gets defaults",
			yaml: minimalConfig,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "tgrelay", cfg.Service.Name)
				assert.Equal(t, "info", cfg.Service.LogLevel)
				assert.Equal(t, "json", cfg.Service.LogFormat)
				assert.Equal(t, TransportPolling, cfg.Transport.Mode)
				assert.Equal(t, 60*time.Second, cfg.Transport.PollTimeout)
				require.Len(t, cfg.Bots, 1)
				assert.Equal(t, []string{"-c", `echo "$1"`, "sh", "${1}"}, cfg.Bots[0].Commands[0].Args)
			},
		},
		{
			name: "full config",
			yaml: `
service:
  name: relay
  log_level: debug
  log_format: text
api:
  enabled: true
  listen: 127.0.0.1:9000
  auth:
    api_key: k
transport:
  mode: webhook
  webhook_url: https://relay.example.com
  poll_timeout: 30s
allow: [1, 2]
deny: [3]
bots:
  - name: main
    token: "t"
    webhook_secret: s
    allow: [4]
    commands:
      - name: search
        prefix: /s
        executable: sh
        mode: inline
        input: json
        output: textmono
        timeout: 5s
        strict_exit: true
        env: [A=1]
        deny: [9]
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "relay", cfg.Service.Name)
				assert.True(t, cfg.API.Enabled)
				assert.Equal(t, TransportWebhook, cfg.Transport.Mode)
				assert.Equal(t, 30*time.Second, cfg.Transport.PollTimeout)
				assert.Equal(t, []int64{1, 2}, cfg.Allow)
				cmd := cfg.Bots[0].Commands[0]
				assert.Equal(t, 5*time.Second, cmd.Timeout)
				assert.True(t, cmd.StrictExit)
				assert.Equal(t, []int64{9}, cmd.Deny)
			},
		},
		{
			name: "env interpolation",
			yaml: `
bots:
  - name: main
    token: ${env:TGRELAY_TEST_TOKEN}
    commands: []
`,
			env: map[string]string{"TGRELAY_TEST_TOKEN": "999:zzz"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "999:zzz", cfg.Bots[0].Token)
			},
		},
		{
			name:    "unset token variable",
			yaml:    "bots:\n  - name: main\n    token: ${env:TGRELAY_TEST_UNSET_TOKEN}\n",
			wantErr: "TGRELAY_TEST_UNSET_TOKEN is not set",
		},
		{
			name:    "no bots",
			yaml:    "service:\n  name: x\n",
			wantErr: "at least one bot",
		},
		{
			name:    "duplicate bot names",
			yaml:    "bots:\n  - {name: a, token: t}\n  - {name: a, token: u}\n",
			wantErr: "duplicates bots[0]",
		},
		{
			name:    "missing token",
			yaml:    "bots:\n  - {name: a}\n",
			wantErr: "token is required",
		},
		{
			name: "pattern and prefix",
			yaml: `
bots:
  - name: a
    token: t
    commands:
      - {pattern: x, prefix: y, executable: sh}
`,
			wantErr: "bots[0].commands[0]: pattern and prefix are mutually exclusive",
		},
		{
			name: "invalid output kind",
			yaml: `
bots:
  - name: a
    token: t
    commands:
      - {pattern: x, executable: sh, output: pdf}
`,
			wantErr: `invalid output "pdf"`,
		},
		{
			name:    "webhook without url",
			yaml:    "transport: {mode: webhook}\napi: {enabled: true}\nbots:\n  - {name: a, token: t}\n",
			wantErr: "webhook_url is required",
		},
		{
			name:    "webhook without api",
			yaml:    "transport: {mode: webhook, webhook_url: 'https://x.example'}\nbots:\n  - {name: a, token: t}\n",
			wantErr: "requires api.enabled",
		},
		{
			name:    "bad transport mode",
			yaml:    "transport: {mode: carrier-pigeon}\nbots:\n  - {name: a, token: t}\n",
			wantErr: "transport.mode",
		},
		{
			name:    "bad log level",
			yaml:    "service: {log_level: loud}\nbots:\n  - {name: a, token: t}\n",
			wantErr: "service.log_level",
		},
		{
			name:    "invalid yaml",
			yaml:    "bots: [\n",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeFile(t, t.TempDir(), "config.yaml", tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", minimalConfig)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "config.yaml")}, cfg.Files)
	require.Len(t, cfg.Warnings, 1, "missing checksums produce a warning")
	assert.Contains(t, cfg.Warnings[0], ".checksums")
}

func TestLoad_Includes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
include:
  - bots/*.yaml
  - globals.yaml
allow: [1]
bots:
  - name: root
    token: t0
`)
	writeFile(t, dir, "bots/a.yaml", "bots:\n  - name: alpha\n    token: t1\n")
	writeFile(t, dir, "bots/b.yaml", `
bots:
  - name: beta
    token: t2
    commands:
      - pattern: .
        executable: ./scripts/run.sh
        dir: work
`)
	writeFile(t, dir, "globals.yaml", "allow: [5, 6]\nservice:\n  log_level: warn\n")

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	names := make([]string, 0, len(cfg.Bots))
	for _, b := range cfg.Bots {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"root", "alpha", "beta"}, names, "bots appended in include order")
	assert.Equal(t, []int64{5, 6}, cfg.Allow, "global lists replaced when set")
	assert.Equal(t, "warn", cfg.Service.LogLevel)
	assert.Len(t, cfg.Files, 4)

	cmd := cfg.Bots[2].Commands[0]
	assert.Equal(t, filepath.Join(dir, "bots", "scripts", "run.sh"), cmd.Executable, "relative paths anchor at the including file")
	assert.Equal(t, filepath.Join(dir, "bots", "work"), cmd.Dir)
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "include: [a.yaml]\nbots:\n  - {name: x, token: t}\n")
	writeFile(t, dir, "a.yaml", "include: [config.yaml]\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestLoad_MissingInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "include: [nope.yaml]\nbots:\n  - {name: x, token: t}\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "config file not found"))
}

func TestConfigFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "include: [extra.yaml]\n")
	writeFile(t, dir, "extra.yaml", "bots: []\n")

	files, err := ConfigFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "config.yaml"), filepath.Join(dir, "extra.yaml")}, files)
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("TGRELAY_X", "value")
	assert.Equal(t, "a value b", interpolateEnv("a ${env:TGRELAY_X} b"))
	assert.Equal(t, "${env:TGRELAY_NOT_SET_X}", interpolateEnv("${env:TGRELAY_NOT_SET_X}"))
	assert.Equal(t, "${1} ${name} $offset", interpolateEnv("${1} ${name} $offset"), "capture placeholders untouched")
}
