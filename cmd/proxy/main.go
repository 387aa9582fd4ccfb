// Command proxy wires config, cache, logging, metrics and access control
// together and runs the acceptor until a shutdown signal arrives. The
// overall shape (parse flags → build dependencies → build handler →
// listen → graceful shutdown on SIGINT/SIGTERM) follows teacher's
// original cmd/proxy/main.go; the CLI contract itself preserves
// original_source/main.cpp's "port is a required positional argument"
// rule via config.CLI's kong:"arg" tag.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/divergen371/cacheproxy/internal/access"
	"github.com/divergen371/cacheproxy/internal/acceptor"
	"github.com/divergen371/cacheproxy/internal/cache"
	"github.com/divergen371/cacheproxy/internal/config"
	"github.com/divergen371/cacheproxy/internal/metrics"
	"github.com/divergen371/cacheproxy/internal/oplog"
	"github.com/divergen371/cacheproxy/internal/protocol"
	"github.com/divergen371/cacheproxy/internal/ratelimit"
	"github.com/divergen371/cacheproxy/internal/translog"
)

const shutdownGrace = 30 * time.Second

func main() {
	var cli config.CLI
	kong.Parse(&cli, kong.Description("RFC 7234 caching HTTP/1.1 forward proxy."))

	cfg, err := config.Load(cli.Config, &cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}

	opLog, rotWriter, err := oplog.NewRotating(zerolog.InfoLevel, cfg.LogDir, "operations.log", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize operational log: %v\n", err)
		os.Exit(1)
	}
	defer rotWriter.Close()

	txLog, err := translog.Open(cfg.TransactionLog)
	if err != nil {
		opLog.Fatal().Err(err).Str("path", cfg.TransactionLog).Msg("failed to open transaction log")
	}
	defer txLog.Close()

	metricsCollector := metrics.New()

	c := cache.New(cfg.Cache.MaxEntries, cfg.Cache.SweepInterval)
	c.OnEvict(evictionLogger(txLog, metricsCollector))

	blockList, err := access.New(cfg.BlockList, opLog)
	if err != nil {
		opLog.Fatal().Err(err).Msg("failed to initialize access control")
	}
	defer blockList.Close()

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	acc := acceptor.New(fmt.Sprintf(":%d", cfg.Port), c, txLog, metricsCollector)
	acc.Access = blockList
	acc.RateLimit = limiter

	mux := http.NewServeMux()
	metrics.NewHandler(metricsCollector).Register(mux)
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		opLog.Info().Int("port", cfg.MetricsPort).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			opLog.Error().Err(err).Msg("metrics server error")
		}
	}()

	go func() {
		opLog.Info().Int("port", cfg.Port).Msg("starting proxy acceptor")
		if err := acc.Run(ctx); err != nil {
			opLog.Error().Err(err).Msg("acceptor error")
			cancel()
		}
	}()

	<-signalChan
	opLog.Info().Msg("shutdown signal received")
	cancel()
	acc.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)
	opLog.Info().Msg("shutdown complete")
}

// evictionLogger bridges cache.Cache's onEvict callback to the
// transaction log and the eviction-reason metric.
func evictionLogger(txLog *translog.Logger, m *metrics.Collector) func(reason, url string, _ *protocol.Response) {
	return func(reason, url string, _ *protocol.Response) {
		txLog.Note(translog.ProxyWide, fmt.Sprintf("%s %s from cache", reason, url))
		if m != nil {
			m.CacheEvictions.WithLabelValues(reason).Inc()
		}
	}
}
