package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${env:VAR}. Plain ${name} is left alone because
// command args use it for capture placeholders.
var envVarPattern = regexp.MustCompile(`\$\{env:([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory containing config.yaml.
// Included files are merged in order, checksums are verified and the result is validated.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Files = []string{absPath}

	if len(cfg.Include) > 0 {
		visited := map[string]bool{absPath: true}
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	applyConfigDefaults(cfg)

	warnings, err := VerifyIntegrity(cfg.Files)
	if err != nil {
		return nil, err
	}
	cfg.Warnings = append(cfg.Warnings, warnings...)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ConfigFiles returns the absolute paths of the root config and every file it includes.
func ConfigFiles(configPath string) ([]string, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Files = []string{absPath}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), map[string]bool{absPath: true}); err != nil {
			return nil, err
		}
	}
	return cfg.Files, nil
}

func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// loadIncludes recursively loads and merges files from the include array.
// Entries may be glob patterns; matches are loaded in lexical order.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(baseDir, includePath)
		}

		paths, err := expandInclude(includePath)
		if err != nil {
			return fmt.Errorf("include[%d]: %w\nReferenced from: %s", i, err, baseDir)
		}

		for _, absPath := range paths {
			if visited[absPath] {
				return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
			}
			visited[absPath] = true

			included, err := loadConfigFile(absPath)
			if err != nil {
				return fmt.Errorf("include[%d] (%s): %w", i, absPath, err)
			}
			cfg.Files = append(cfg.Files, absPath)
			mergeConfig(cfg, included)

			if len(included.Include) > 0 {
				if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func expandInclude(path string) ([]string, error) {
	if strings.ContainsAny(path, "*?[") {
		matches, err := filepath.Glob(path)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", path, err)
		}
		abs := make([]string, 0, len(matches))
		for _, m := range matches {
			a, err := filepath.Abs(m)
			if err != nil {
				return nil, err
			}
			abs = append(abs, a)
		}
		return abs, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %q: %w", path, err)
	}
	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", absPath)
		}
		return nil, fmt.Errorf("failed to access file %s: %w", absPath, err)
	}
	return []string{absPath}, nil
}

// loadConfigFile parses a single file. Relative executable and dir paths are
// resolved against the file's directory.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	baseDir := filepath.Dir(path)
	for b := range cfg.Bots {
		for c := range cfg.Bots[b].Commands {
			cmd := &cfg.Bots[b].Commands[c]
			cmd.Executable = relativeTo(baseDir, cmd.Executable)
			if cmd.Dir != "" && !filepath.IsAbs(cmd.Dir) {
				cmd.Dir = filepath.Join(baseDir, cmd.Dir)
			}
		}
	}
	return &cfg, nil
}

// relativeTo anchors path-like executables ("./x", "bin/x") at baseDir.
// Bare names are left for PATH lookup.
func relativeTo(baseDir, exe string) string {
	if exe == "" || filepath.IsAbs(exe) || !strings.ContainsRune(exe, filepath.Separator) {
		return exe
	}
	return filepath.Join(baseDir, exe)
}

// mergeConfig merges src into dst. Bots are appended; scalar settings and
// global lists from src replace dst when set.
func mergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}
	if src.Service.LockPath != "" {
		dst.Service.LockPath = src.Service.LockPath
	}

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.Auth.APIKey != "" {
		dst.API.Auth.APIKey = src.API.Auth.APIKey
	}

	if src.Transport.Mode != "" {
		dst.Transport.Mode = src.Transport.Mode
	}
	if src.Transport.PollTimeout != 0 {
		dst.Transport.PollTimeout = src.Transport.PollTimeout
	}
	if src.Transport.WebhookURL != "" {
		dst.Transport.WebhookURL = src.Transport.WebhookURL
	}
	if src.Transport.Endpoint != "" {
		dst.Transport.Endpoint = src.Transport.Endpoint
	}

	if len(src.Allow) > 0 {
		dst.Allow = src.Allow
	}
	if len(src.Deny) > 0 {
		dst.Deny = src.Deny
	}

	dst.Bots = append(dst.Bots, src.Bots...)
}

// applyConfigDefaults fills unset values from Defaults.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.LockPath == "" {
		cfg.Service.LockPath = defaults.Service.LockPath
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Transport.Mode == "" {
		cfg.Transport.Mode = defaults.Transport.Mode
	}
	if cfg.Transport.PollTimeout == 0 {
		cfg.Transport.PollTimeout = defaults.Transport.PollTimeout
	}
}

// interpolateEnv replaces ${env:VAR} with environment variable values.
// Undefined variables are left as-is and rejected by validation where it matters.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
