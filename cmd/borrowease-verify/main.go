// cmd/borrowease-verify/main.go
//
// Entry point for the phone verification flow.
//
// Flow:
// 1. Load .env and ~/.borrowease/config.yaml
// 2. Run the TUI until the number is verified or the user quits
// 3. Print the result JSON on stdout for the calling flow

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/kingrea/borrowease-verify/internal/config"
	"github.com/kingrea/borrowease-verify/internal/logbook"
	"github.com/kingrea/borrowease-verify/internal/otpapi"
	"github.com/kingrea/borrowease-verify/internal/tui"
)

func main() {
	homeDir := flag.String("home", "", "config directory (defaults to $BORROWEASE_HOME or ~/.borrowease)")
	apiURL := flag.String("api", "", "verification API base URL (overrides config)")
	flag.Parse()

	// A missing .env is fine; it only supplies overrides.
	_ = godotenv.Load()

	home := strings.TrimSpace(*homeDir)
	if home == "" {
		var err error
		home, err = config.ResolveHome()
		if err != nil {
			die("resolve home: %v", err)
		}
	}
	if err := config.InitHomeDir(home); err != nil {
		die("init %s: %v", home, err)
	}
	cfg, err := config.NewConfig(home)
	if err != nil {
		die("load config: %v", err)
	}
	baseURL := cfg.BaseURL()
	if value := strings.TrimSpace(*apiURL); value != "" {
		baseURL = value
	}

	lb, err := logbook.New(cfg.JourneyLogPath())
	if err != nil {
		die("open journey log: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := otpapi.New(baseURL,
		otpapi.WithToken(cfg.Token()),
		otpapi.WithTimeout(cfg.RequestTimeout()))
	app, err := tui.NewApp(cfg.FlowSettings(),
		tui.WithVerifier(client),
		tui.WithLogbook(lb),
		tui.WithContext(ctx))
	if err != nil {
		die("build app: %v", err)
	}

	// Run blocks until the user quits or verification completes
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		die("run TUI: %v", err)
	}

	result, ok := app.Result()
	if !ok {
		fmt.Fprintln(os.Stderr, "Phone number not verified.")
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		die("write result: %v", err)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "borrowease-verify: "+format+"\n", args...)
	os.Exit(1)
}
