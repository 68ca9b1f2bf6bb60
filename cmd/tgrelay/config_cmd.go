package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/tgrelay/internal/api"
	"github.com/mattjoyce/tgrelay/internal/app"
	"github.com/mattjoyce/tgrelay/internal/config"
	"github.com/mattjoyce/tgrelay/internal/doctor"
)

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath, envFile := configFlags(fs)
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	format := fs.String("format", "human", "Output format (human, json)")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *jsonOut {
		*format = "json"
	}

	cfg, err := loadConfigForTool(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch *format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if *strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath, envFile := configFlags(fs)
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	if err := loadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	// The include graph is read without verification: locking is how a
	// changed file becomes trusted again.
	files, err := config.ConfigFiles(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		return 1
	}

	reports, err := config.GenerateChecksums(files, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	for _, report := range reports {
		if isVerbose {
			fmt.Printf("Processing directory: %s\n", report.ConfigDir)
			for _, file := range report.Files {
				fmt.Printf("  HASH %s: %s\n", file.Path, file.Hash)
			}
			if dryRun {
				fmt.Printf("  DRY-RUN .checksums: %s (not written)\n", report.ChecksumPath)
			} else {
				fmt.Printf("  WROTE .checksums: %s\n", report.ChecksumPath)
			}
		}
	}

	if dryRun {
		fmt.Printf("Dry run completed for %d directory/ies (no files written):\n", len(reports))
	} else {
		fmt.Printf("Successfully locked configuration in %d directory/ies:\n", len(reports))
	}
	for _, report := range reports {
		fmt.Printf("  - %s\n", report.ConfigDir)
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath, envFile := configFlags(fs)
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	return printValue(redact(cfg), *jsonOut)
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath, envFile := configFlags(fs)
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: tgrelay config get <path> [--json]\n")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	val, err := cfg.GetPath(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(val, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("%v\n", val)
	}
	return 0
}

// redact masks secrets before the configuration is printed.
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	if out.API.Auth.APIKey != "" {
		out.API.Auth.APIKey = "********"
	}
	out.Bots = make([]config.BotConf, len(cfg.Bots))
	for i, b := range cfg.Bots {
		b.Token = "********"
		if b.WebhookSecret != "" {
			b.WebhookSecret = "********"
		}
		out.Bots[i] = b
	}
	return &out
}

func printValue(v any, jsonOut bool) int {
	if jsonOut {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

// --- BOT ---

func runBotList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath, envFile := configFlags(fs)
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	bots, err := config.Resolve(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	infos := make([]api.BotInfo, 0, len(bots))
	for _, b := range bots {
		infos = append(infos, app.BotInfo(b, ""))
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(infos, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	for _, info := range infos {
		fmt.Printf("%s (%d commands)\n", info.Name, len(info.Commands))
		for _, c := range info.Commands {
			fmt.Printf("  %-16s %-7s %-9s %s -> %s\n", c.Name, c.Mode, c.Output, c.Pattern, c.Executable)
		}
	}
	return 0
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
