package ledgerd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"surveyledger/config"
	"surveyledger/core"
	"surveyledger/core/genesis"
	"surveyledger/observability"
	"surveyledger/observability/logging"
	telemetry "surveyledger/observability/otel"
	"surveyledger/services/indexer"
	"surveyledger/storage"
)

const serviceName = "ledgerd"

// Main runs the ledger daemon using the command line flags.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./ledgerd.toml", "path to ledgerd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if env := strings.TrimSpace(os.Getenv("LEDGER_ENV")); env != "" {
		cfg.Environment = env
	}
	logger := logging.Setup(serviceName, cfg.Environment, logging.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		SampleRatio: cfg.Telemetry.SampleRatio,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}

	var ledgerMetrics *observability.LedgerMetrics
	var httpMetrics *observability.HTTPMetrics
	if cfg.MetricsEnabled {
		ledgerMetrics = observability.Ledger()
		httpMetrics = observability.HTTP()
	}
	ledger, err := core.New(db, core.Options{
		ChainID:      cfg.ChainID,
		RewardModels: cfg.RewardModels,
		Metrics:      ledgerMetrics,
		Logger:       logger,
	})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("build ledger: %w", err)
	}
	defer func() { _ = ledger.Close() }()

	if cfg.GenesisFile != "" {
		spec, err := genesis.Load(cfg.GenesisFile)
		if err != nil {
			return fmt.Errorf("load genesis: %w", err)
		}
		if _, err := ledger.InitGenesis(spec); err != nil {
			return fmt.Errorf("apply genesis: %w", err)
		}
	}

	opts := Options{
		Logger:        logger,
		Metrics:       httpMetrics,
		RateLimit:     RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
		ExposeMetrics: cfg.MetricsEnabled,
	}
	if strings.TrimSpace(cfg.Indexer.Driver) != "" {
		indexDB, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
		if err != nil {
			return fmt.Errorf("open indexer: %w", err)
		}
		ix, err := indexer.New(indexDB, logger)
		if err != nil {
			return fmt.Errorf("build indexer: %w", err)
		}
		ledger.Subscribe(ix)
		opts.Index = ix
	}
	if cfg.IdempotencyFile != "" {
		store, err := OpenIdempotencyStore(cfg.IdempotencyFile)
		if err != nil {
			return fmt.Errorf("open idempotency store: %w", err)
		}
		defer func() { _ = store.Close() }()
		opts.Idempotency = store
	}

	server := NewServer(ledger, opts)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server.Handler(),
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("ledgerd.listening", slog.String("address", cfg.ListenAddress), slog.Uint64("chainId", cfg.ChainID))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
