package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath retrieves a value from the configuration using a dot-notation path.
// Numeric segments index into lists, e.g. "bots.0.commands.1.pattern".
func (c *Config) GetPath(path string) (any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return getValue(m, path)
}

// Bot returns the bot named name.
func (c *Config) Bot(name string) (BotConf, bool) {
	for _, b := range c.Bots {
		if b.Name == name {
			return b, true
		}
	}
	return BotConf{}, false
}

func getValue(m map[string]any, path string) (any, error) {
	var current any = m

	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}

		switch node := current.(type) {
		case map[string]any:
			val, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("path %q: key %q not found", path, part)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("path %q: %q is not a list index", path, part)
			}
			if idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("path %q: index %d out of range (len %d)", path, idx, len(node))
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("path %q breaks at %q (not a map or list)", path, part)
		}
	}
	return current, nil
}
