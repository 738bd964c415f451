// Command fetch resolves a batch of quotes once and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"quotegateway/internal/app"
	"quotegateway/internal/config"
	"quotegateway/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		symbolsCSV string
		configPath string
		timeout    time.Duration
		noFallback bool
		verbose    bool
	)
	flag.StringVar(&symbolsCSV, "symbols", os.Getenv("SYMBOLS"), "comma-separated symbols, e.g. AAPL,RELIANCE.NSE")
	flag.StringVar(&configPath, "config", "", "path to config.yaml (optional)")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	flag.BoolVar(&noFallback, "no-fallback", false, "query only the highest-priority provider")
	flag.BoolVar(&verbose, "v", false, "log to stderr")
	flag.Parse()

	symbols := splitCSV(symbolsCSV)
	if len(symbols) == 0 {
		fmt.Fprintln(os.Stderr, "fetch: -symbols is required")
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: config: %v\n", err)
		return 1
	}
	if noFallback {
		cfg.Quotes.EnableFallback = false
	}
	// A one-shot run gains nothing from a shared cache.
	cfg.Cache.Backend = "memory"

	log := zerolog.Nop()
	if verbose {
		log, err = logging.New(logging.Config{Level: cfg.Log.Level, Format: "console"}, os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fetch: logging: %v\n", err)
			return 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		return 1
	}
	defer a.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	res, err := a.Service.GetQuotes(ctx, symbols)
	if err != nil {
		_ = enc.Encode(map[string]any{"error": err.Error()})
		return 1
	}
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "fetch: encode: %v\n", err)
		return 1
	}
	return 0
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
