package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/mattjoyce/tgrelay/internal/api"
	"github.com/mattjoyce/tgrelay/internal/app"
	"github.com/mattjoyce/tgrelay/internal/config"
	"github.com/mattjoyce/tgrelay/internal/lock"
	"github.com/mattjoyce/tgrelay/internal/log"
	"github.com/mattjoyce/tgrelay/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "bot":
		return runBotNoun(args)

	// Root alias for the common case.
	case "start":
		return runStart(args)

	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: tgrelay version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("tgrelay %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`tgrelay - Telegram bots backed by local programs

Usage:
  tgrelay <noun> <action> [flags]

System Commands:
  system start      Run every configured bot in the foreground
  system status     Show health of a running relay
  system watch      Real-time monitoring TUI

Config Commands:
  config check      Validate syntax, commands, and integrity
  config lock       Authorize current state (update integrity hashes)
  config show       Print the merged configuration
  config get <path> Print one configuration value

Bot Commands:
  bot list          Show configured bots and their commands

General:
  start             Alias for system start
  version           Show version information
  help              Show this help message

Configuration is read from --config, else the first of $TGRELAY_CONFIG,
~/.config/tgrelay, /etc/tgrelay and ./config.yaml. A .env file in the
working directory is loaded first so ${env:VAR} references resolve from it.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		return runStart(actionArgs)
	case "status":
		return runSystemStatus(actionArgs)
	case "watch":
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "lock":
		return runConfigLock(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	case "get":
		return runConfigGet(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runBotNoun(args []string) int {
	if len(args) < 1 {
		printBotNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printBotNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "list":
		return runBotList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown bot action: %s\n", args[0])
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tgrelay system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tgrelay config <action>")
	fmt.Fprintln(w, "Actions: check, lock, show, get")
}

func printBotNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tgrelay bot <action>")
	fmt.Fprintln(w, "Actions: list")
}

// --- SHARED ---

// configFlags registers the flags every config-reading action accepts.
func configFlags(fs *flag.FlagSet) (configPath, envFile *string) {
	configPath = fs.String("config", "", "Path to configuration file or directory")
	envFile = fs.String("env-file", ".env", "dotenv file loaded before the configuration")
	return configPath, envFile
}

// loadEnv loads the dotenv file. A missing file is not an error; existing
// environment variables win.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DiscoverConfig()
}

func loadConfigForTool(configPath, envFile string) (*config.Config, error) {
	if err := loadEnv(envFile); err != nil {
		return nil, err
	}
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// --- SYSTEM ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath, envFile := configFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	bots, err := config.Resolve(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("tgrelay starting", "version", version, "config", cfg.Files[0], "bots", len(bots))

	pidLock, err := lock.Acquire(cfg.Service.LockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.LockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, bots).Run(ctx); err != nil {
		logger.Error("relay failed", "error", err)
		return 1
	}

	logger.Info("tgrelay stopped")
	return 0
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Relay API URL")
	jsonOut := fs.Bool("json", false, "Output raw JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(*apiURL, "/") + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay unreachable: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	var h api.HealthzResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid health response: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(h, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("status: %s\n", h.Status)
		fmt.Printf("uptime: %s\n", time.Duration(h.UptimeSeconds)*time.Second)
		fmt.Printf("bots: %d\n", h.Bots)
		for _, typ := range sortedKeys(h.Events) {
			fmt.Printf("  %-18s %d\n", typ, h.Events[typ])
		}
	}
	if h.Status != "ok" {
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Relay API URL")
	apiKey := fs.String("api-key", os.Getenv("TGRELAY_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or TGRELAY_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(strings.TrimRight(*apiURL, "/"), *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
