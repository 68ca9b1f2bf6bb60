package api

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string           `json:"status"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Bots          int              `json:"bots"`
	Events        map[string]int64 `json:"events"`
}

// BotInfo describes one running bot for GET /bots.
type BotInfo struct {
	Name     string        `json:"name"`
	Username string        `json:"username,omitempty"`
	Commands []CommandInfo `json:"commands"`
}

// CommandInfo describes one resolved command.
type CommandInfo struct {
	Name       string  `json:"name"`
	Pattern    string  `json:"pattern"`
	Executable string  `json:"executable"`
	Mode       string  `json:"mode"`
	Output     string  `json:"output"`
	Allow      []int64 `json:"allow,omitempty"`
	Deny       []int64 `json:"deny,omitempty"`
}
