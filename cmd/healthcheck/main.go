// Command healthcheck verifies the deployment before the ingestion service is
// started: the record store is readable, the sensor link can be opened, and,
// when DATABASE_URL is set, the database answers and the readings table
// exists.
//
// Usage:
//
//	go run ./cmd/healthcheck -timeout 5s
//
// The exit code is 0 when every required check passes. An unavailable sensor
// link is reported as a warning only, since the service keeps retrying it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/flood-telemetry/internal/adapter/csvlog"
	"github.com/couchcryptid/flood-telemetry/internal/adapter/postgres"
	"github.com/couchcryptid/flood-telemetry/internal/config"
	"github.com/couchcryptid/flood-telemetry/internal/domain"
	"github.com/couchcryptid/flood-telemetry/internal/observability"
	"github.com/couchcryptid/flood-telemetry/internal/transport"
)

type status int

const (
	statusPass status = iota
	statusWarn
	statusFail
	statusSkip
)

func (s status) String() string {
	switch s {
	case statusPass:
		return "\033[32mPASS\033[0m"
	case statusWarn:
		return "\033[33mWARN\033[0m"
	case statusSkip:
		return "SKIP"
	default:
		return "\033[31mFAIL\033[0m"
	}
}

// result is the outcome of one check.
type result struct {
	name   string
	status status
	detail string
}

func main() {
	timeout := flag.Duration("timeout", 5*time.Second, "time allowed for each network check")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(cfg, *timeout))
}

func run(cfg *config.Config, timeout time.Duration) int {
	fmt.Println("=== Flood Telemetry Health Check ===")
	fmt.Println()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	results := []result{
		checkRecordStore(cfg.CSVPath),
		checkTransport(cfg, timeout, logger),
	}
	results = append(results, checkDatabase(cfg, timeout, logger)...)

	ok := true
	for _, r := range results {
		fmt.Printf("  %-28s %s\n", r.name, r.status)
		if r.detail != "" {
			fmt.Printf("      %s\n", r.detail)
		}
		if r.status == statusFail {
			ok = false
		}
	}

	if ok {
		fmt.Println("\nReady to run the ingestion service.")
		return 0
	}
	fmt.Println("\nFix the failures above before starting the service.")
	return 1
}

func checkRecordStore(path string) result {
	res := result{name: "record store"}
	stored, err := csvlog.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		res.status = statusPass
		res.detail = fmt.Sprintf("%s does not exist yet and will be created", path)
	case err != nil:
		res.status = statusFail
		res.detail = err.Error()
	default:
		res.status = statusPass
		res.detail = fmt.Sprintf("%s: %d readings, %d schema epochs, latest layout %s, %d malformed rows",
			path, len(stored.Readings), stored.Epochs, stored.Version, stored.Skipped)
	}
	return res
}

// checkTransport opens the configured link and, if a line arrives within the
// timeout, reports how it decodes.
func checkTransport(cfg *config.Config, timeout time.Duration, logger *slog.Logger) result {
	res := result{name: "sensor link"}
	reader, err := transport.NewReader(transport.Config{
		Port:              cfg.SerialPort,
		BridgeAddr:        cfg.TCPBridgeAddr,
		Baud:              cfg.BaudRate,
		ReadTimeout:       cfg.ReadTimeout,
		BackoffInitial:    cfg.BackoffInitial,
		BackoffMax:        cfg.BackoffMax,
		BackoffMultiplier: cfg.BackoffMultiplier,
	}, logger, observability.NewMetricsForTesting())
	if err != nil {
		res.status = statusFail
		res.detail = err.Error()
		return res
	}
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var line string
	for line == "" && ctx.Err() == nil {
		if line, err = reader.ReadLine(ctx); err != nil {
			break
		}
	}

	target, open := reader.Current()
	if !open {
		res.status = statusWarn
		res.detail = fmt.Sprintf("no link on %s (the service keeps retrying)", cfg.SerialPort)
		return res
	}
	res.status = statusPass
	if line == "" {
		res.detail = fmt.Sprintf("%s open, no data within %s", target, timeout)
		return res
	}

	parser, err := domain.NewParser(nil, cfg.FieldOrder, cfg.FixedMinFields)
	if err != nil {
		res.status = statusFail
		res.detail = err.Error()
		return res
	}
	_, enc, err := parser.Parse(line)
	if err != nil {
		res.status = statusWarn
		res.detail = fmt.Sprintf("%s open, sample line rejected: %v", target, err)
		return res
	}
	res.detail = fmt.Sprintf("%s open, sample line decodes as %s", target, enc)
	return res
}

func checkDatabase(cfg *config.Config, timeout time.Duration, logger *slog.Logger) []result {
	conn := result{name: "database"}
	table := result{name: "table " + cfg.DatabaseTable}
	if cfg.DatabaseURL == "" {
		conn.status, conn.detail = statusSkip, "DATABASE_URL not set"
		table.status = statusSkip
		return []result{conn, table}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	store, err := postgres.New(ctx, cfg.DatabaseURL, cfg.DatabaseTable, logger)
	if err != nil {
		conn.status, conn.detail = statusFail, err.Error()
		table.status = statusSkip
		return []result{conn, table}
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		conn.status, conn.detail = statusFail, err.Error()
		table.status = statusSkip
		return []result{conn, table}
	}
	conn.status = statusPass

	exists, err := store.TableExists(ctx)
	switch {
	case err != nil:
		table.status, table.detail = statusFail, err.Error()
	case !exists:
		table.status, table.detail = statusWarn, "missing; the service creates it on start"
	default:
		table.status = statusPass
	}
	return []result{conn, table}
}
