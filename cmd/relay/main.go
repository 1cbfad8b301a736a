package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/fetch-relay/internal/app/relay"
	"github.com/ahrav/fetch-relay/internal/config"
	"github.com/ahrav/fetch-relay/internal/infra/fetch"
	"github.com/ahrav/fetch-relay/internal/infra/webdav"
	"github.com/ahrav/fetch-relay/pkg/common"
	"github.com/ahrav/fetch-relay/pkg/common/logger"
	"github.com/ahrav/fetch-relay/pkg/common/otel"
)

const (
	serviceType = "relay"
)

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.NewEnvLoader().Load(ctx)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to parse log level: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("RELAY-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
		"queue":    string(cfg.Queue.Backend),
	}
	log = logger.NewWithMetadata(os.Stdout, level, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	providers, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		Enabled:          cfg.Telemetry.Enabled,
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		Probability:      cfg.Telemetry.SamplingRatio,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(context.Background())

	if cfg.Telemetry.Enabled {
		log = log.Tee(providers.LogHandler(cfg.Telemetry.ServiceName))
	}
	tracer := providers.Tracer.Tracer(cfg.Telemetry.ServiceName)

	ready := &atomic.Bool{}
	healthServer, err := common.NewHealthServer(cfg.Health.Addr, ready, log)
	if err != nil {
		log.Error(ctx, "failed to start health server", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "Error shutting down health server", "error", err)
		}
	}()

	queue, queueCloser, err := openQueue(ctx, cfg.Queue, svcName, log, tracer)
	if err != nil {
		log.Error(ctx, "failed to connect to queue", "backend", cfg.Queue.Backend, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := queueCloser.Close(); err != nil {
			log.Error(context.Background(), "Failed to close queue", "error", err)
		}
	}()

	source, err := fetch.NewClient(fetchOptions(cfg), tracer)
	if err != nil {
		log.Error(ctx, "failed to create source client", "error", err)
		os.Exit(1)
	}
	if cfg.Source.ProxyURL != "" {
		log.Info(ctx, "SOCKS5 proxy enabled", "proxy", cfg.Source.ProxyURL)
	}

	sink, err := webdav.NewClient(sinkOptions(cfg), tracer)
	if err != nil {
		log.Error(ctx, "failed to create sink client", "error", err)
		os.Exit(1)
	}

	metrics, err := relay.NewMetrics(providers.Meter)
	if err != nil {
		log.Error(ctx, "failed to create metrics", "error", err)
		os.Exit(1)
	}

	r := relay.New(
		relayOptions(cfg),
		queue,
		common.NewRateLimiter(cfg.Pool.RateLimit),
		source,
		sink,
		nil,
		log,
		metrics,
		tracer,
	)

	log.Info(ctx, "Relay initialized",
		"workers", cfg.Pool.Workers,
		"rate_limit", cfg.Pool.RateLimit,
		"batch_size", cfg.Queue.BatchSize,
		"sink", cfg.Sink.Endpoint,
	)
	ready.Store(true)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info(ctx, "Received shutdown signal", "signal", sig)
		cancel()
		runErr = <-errCh
	case runErr = <-errCh:
	}
	ready.Store(false)

	if runErr != nil {
		log.Error(ctx, "Relay error", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := r.Drain(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error(shutdownCtx, "Failed to drain relay", "error", err)
	}

	if runErr != nil {
		cancel()
		os.Exit(1)
	}
}
