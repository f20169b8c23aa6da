package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Rajchodisetti/account-stream/internal/alerts"
	"github.com/Rajchodisetti/account-stream/internal/broker"
	"github.com/Rajchodisetti/account-stream/internal/config"
	"github.com/Rajchodisetti/account-stream/internal/cursor"
	"github.com/Rajchodisetti/account-stream/internal/ledger"
	"github.com/Rajchodisetti/account-stream/internal/lock"
	"github.com/Rajchodisetti/account-stream/internal/observ"
	"github.com/Rajchodisetti/account-stream/internal/portfolio"
	"github.com/Rajchodisetti/account-stream/internal/proposal"
	"github.com/Rajchodisetti/account-stream/internal/transport"
)

func main() {
	var cfgPath string
	var envPath string
	var metricsAddr string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path (empty for defaults + env only)")
	flag.StringVar(&envPath, "env", ".env", "dotenv file loaded before the environment is read")
	flag.StringVar(&metricsAddr, "metrics-addr", ":8093", "serve /metrics and /health here (empty to disable)")
	flag.Parse()

	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		observ.Log("dotenv_load_failed", map[string]any{"path": envPath, "error": err})
	}

	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync()
	observ.SetLogger(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("load config", zap.String("path", cfgPath), zap.Error(err))
	}
	if cfg.Stream.AccountID == "" || cfg.Reconcile.OwnerID == "" {
		logger.Fatal("stream.account_id and reconcile.owner_id are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	activities, closeLedger, err := ledger.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.Path, cfg.Ledger.DSN)
	if err != nil {
		logger.Fatal("open ledger", zap.String("driver", cfg.Ledger.Driver), zap.Error(err))
	}
	defer closeLedger()

	proposals := proposal.NewFileStore(cfg.Proposals.Path)
	if err := proposals.Load(); err != nil {
		logger.Fatal("load proposals", zap.String("path", cfg.Proposals.Path), zap.Error(err))
	}

	var locker lock.Locker = lock.NewMemory()
	if cfg.Lock.Driver == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		locker = lock.NewRedis(rdb)
	}

	client, err := broker.NewClient(broker.Config{
		BaseURL:            cfg.Broker.BaseURL,
		APIKey:             cfg.Broker.APIKey,
		APISecret:          cfg.Broker.APISecret,
		TimeoutSeconds:     cfg.Broker.TimeoutSeconds,
		RateLimitPerMinute: cfg.Broker.RateLimitPerMinute,
		MaxRetries:         cfg.Broker.MaxRetries,
		BackoffBaseMs:      cfg.Broker.BackoffBaseMs,
	})
	if err != nil {
		logger.Fatal("broker client", zap.Error(err))
	}

	notifier := alerts.NewSlackClient(cfg.Slack)
	defer notifier.Close()

	var snapshot *portfolio.SnapshotFile
	if cfg.Reconcile.SnapshotPath != "" {
		snapshot = portfolio.NewSnapshotFile(cfg.Reconcile.SnapshotPath)
	}
	engine := portfolio.NewEngine(activities, proposals, broker.NewProber(client), broker.NewExecutor(client), locker,
		portfolio.Options{
			OwnerID:         cfg.Reconcile.OwnerID,
			AccountID:       cfg.Stream.AccountID,
			ActivityLimit:   cfg.Reconcile.ActivityLimit,
			RefreshInterval: time.Duration(cfg.Reconcile.RefreshSeconds) * time.Second,
			LockTTL:         time.Duration(cfg.Reconcile.LockTTLSeconds) * time.Second,
			Snapshot:        snapshot,
			Notifier:        notifier,
		})

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", observ.Handler())
		mux.Handle("GET /health", observ.HealthHandler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	stream := transport.NewClient(cfg.Stream, cursor.NewStore())
	events, err := stream.Start(ctx)
	if err != nil {
		logger.Fatal("start stream", zap.Error(err))
	}
	defer stream.Close()

	observ.Log("startup", map[string]any{
		"gateway":    cfg.Stream.BaseURL,
		"account_id": cfg.Stream.AccountID,
		"owner_id":   cfg.Reconcile.OwnerID,
		"ledger":     cfg.Ledger.Driver,
		"lock":       cfg.Lock.Driver,
	})

	if err := engine.Run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("engine stopped", zap.Error(err))
	}
	if err := stream.Err(); err != nil {
		logger.Error("stream gave up", zap.Error(err), zap.Any("client", stream.GetMetrics()))
		notifier.Notify(alerts.Alert{
			Kind:      "stream_terminated",
			Severity:  alerts.SeverityCritical,
			AccountID: cfg.Stream.AccountID,
			Title:     "Account status stream stopped",
			Detail:    err.Error(),
		})
		notifier.Close()
		closeLedger()
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("Shutdown Complete")
}
