package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/pipec/internal/tui"
)

// TokenEnv supplies the bearer token for monitor when --token is not given.
const TokenEnv = "PIPEC_TOKEN"

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apiURL := fs.String("url", "", "Base URL of the build service (default from api.listen)")
	token := fs.String("token", os.Getenv(TokenEnv), "Bearer token with events:ro")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiURL == "" {
		cfg, err := loadConfigForTool(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		*apiURL = listenURL(cfg.API.Listen)
	}

	p := tea.NewProgram(tui.NewMonitor(*apiURL, *token), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Monitor failed: %v\n", err)
		return 1
	}
	return 0
}

// listenURL turns a listen address into a URL a local client can dial.
func listenURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen
}

func printMonitorHelp() {
	fmt.Println("Usage: pipec monitor [--config PATH] [--url URL] [--token TOKEN]")
	fmt.Println("Show a live dashboard of a running 'pipec serve'. The token defaults to $" + TokenEnv + ".")
}
