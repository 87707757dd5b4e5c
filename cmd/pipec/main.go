package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
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

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "cache":
		return runCacheNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- VERBS ---
	case "build":
		if hasHelpFlag(args) {
			printBuildHelp()
			return 0
		}
		return runBuild(args)
	case "hash":
		if hasHelpFlag(args) {
			printHashHelp()
			return 0
		}
		return runHash(args)
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "monitor":
		if hasHelpFlag(args) {
			printMonitorHelp()
			return 0
		}
		return runMonitor(args)
	case "version":
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
		fmt.Fprintln(os.Stderr, "Usage: pipec version [--json]")
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

	fmt.Printf("pipec %s\n", info.Version)
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
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
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
	fmt.Print(`pipec - Cached GPU pipeline compiler

Usage:
  pipec <command> [flags]
  pipec <noun> <action> [flags]

Commands:
  build <file>...   Compile pipeline descriptions to ELF binaries
  hash <file>...    Print the cache key of pipeline descriptions
  serve             Run the HTTP build service in foreground
  monitor           Live dashboard of a running build service

Core Resources (Nouns):
  cache     Persistent shader cache maintenance
  config    Configuration validation and integrity

Cache Commands:
  cache stats       Show entry counts and sizes
  cache clear       Drop every cached pipeline
  cache export      Write the cache to a blob file
  cache import      Load a blob file into the cache

Config Commands:
  config check      Validate syntax and integrity
  config lock       Authorize current state (update integrity hashes)
  config show       Print the effective configuration

General:
  version           Show version information
  help              Show this help message

Configuration is read from --config, $PIPEC_CONFIG, ./config.yaml or
~/.config/pipec/config.yaml, in that order. Built-in defaults apply when
none exists.

Use 'pipec <noun> help' for resource-specific flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printBuildHelp() {
	fmt.Println("Usage: pipec build [--config PATH] [--out DIR] [--jobs N] [--json] <pipeline.yaml>...")
	fmt.Println("Compile each pipeline description and write <name>.elf to the output directory.")
}

func printHashHelp() {
	fmt.Println("Usage: pipec hash [--config PATH] [--json] <pipeline.yaml>...")
	fmt.Println("Print the pipeline hash used as the cache key, without building.")
}

func printServeHelp() {
	fmt.Println("Usage: pipec serve [--config PATH] [--listen ADDR]")
	fmt.Println("Serve the build API until SIGINT or SIGTERM.")
}
