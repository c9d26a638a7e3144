// Command simulate stands in for a serial-over-TCP bridge. Every client that
// connects receives a stream of synthetic sensor lines, terminated with CRLF
// the way the firmware writes them.
//
// Usage:
//
//	go run ./cmd/simulate -addr :7070 -interval 1s -format mixed
//
// Point the ingestion service at it with SERIAL_PORT=tcp://localhost:7070.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/flood-telemetry/internal/simulate"
)

func main() {
	addr := flag.String("addr", ":7070", "listen address")
	interval := flag.Duration("interval", time.Second, "delay between lines")
	format := flag.String("format", "mixed", "json, kv, fixed, level, noise or mixed")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	lat := flag.Float64("lat", 0, "station latitude (0 omits coordinates)")
	lon := flag.Float64("lon", 0, "station longitude")
	flag.Parse()

	logger := sharedobs.NewLogger(sharedcfg.EnvOrDefault("LOG_LEVEL", "info"), sharedcfg.EnvOrDefault("LOG_FORMAT", "text"))

	f, err := simulate.ParseFormat(*format)
	if err != nil {
		logger.Error("invalid format", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := simulate.Config{Format: f, Seed: *seed, Lat: *lat, Lon: *lon}
	if err := serve(ctx, *addr, *interval, cfg, logger); err != nil {
		logger.Error("simulator failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func serve(ctx context.Context, addr string, interval time.Duration, cfg simulate.Config, logger *slog.Logger) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("simulator listening", "addr", ln.Addr().String(), "format", cfg.Format, "interval", interval)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for client := 0; ; client++ {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		// Each client gets its own stream so reconnecting readers see a
		// fresh but reproducible sequence.
		clientCfg := cfg
		clientCfg.Seed += uint64(client)
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream(ctx, conn, interval, simulate.NewGenerator(clientCfg, nil), logger)
		}()
	}
}

func stream(ctx context.Context, conn net.Conn, interval time.Duration, gen *simulate.Generator, logger *slog.Logger) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	logger.Info("client connected", "remote", remote)

	sent := 0
	for retry.SleepWithContext(ctx, interval) {
		line, _ := gen.Next()
		if _, err := fmt.Fprintf(conn, "%s\r\n", line); err != nil {
			logger.Info("client disconnected", "remote", remote, "lines", sent, "error", err)
			return
		}
		sent++
		logger.Debug("line sent", "remote", remote, "line", line)
	}
	logger.Info("closing client", "remote", remote, "lines", sent)
}
