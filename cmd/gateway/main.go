package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Rajchodisetti/account-stream/internal/config"
	"github.com/Rajchodisetti/account-stream/internal/gateway"
	"github.com/Rajchodisetti/account-stream/internal/ledger"
	"github.com/Rajchodisetti/account-stream/internal/observ"
	"github.com/Rajchodisetti/account-stream/internal/upstream"
)

func main() {
	var cfgPath string
	var envPath string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path (empty for defaults + env only)")
	flag.StringVar(&envPath, "env", ".env", "dotenv file loaded before the environment is read")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	activities, closeLedger, err := ledger.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.Path, cfg.Ledger.DSN)
	if err != nil {
		logger.Fatal("open ledger", zap.String("driver", cfg.Ledger.Driver), zap.Error(err))
	}
	defer closeLedger()

	source := upstream.NewSource(upstream.Config{
		BaseURL:               cfg.Upstream.BaseURL,
		Path:                  cfg.Upstream.Path,
		APIKey:                cfg.Upstream.APIKey,
		APISecret:             cfg.Upstream.APISecret,
		ConnectTimeoutSeconds: cfg.Upstream.ConnectTimeoutSeconds,
	})
	g := gateway.New(
		gateway.TokenAuthenticator(cfg.Gateway.Tokens),
		gateway.LedgerOwnership{Ledger: activities, Limit: cfg.Gateway.OwnershipLookupLimit},
		source,
		gateway.Options{
			HeartbeatInterval:   time.Duration(cfg.Gateway.HeartbeatSeconds) * time.Second,
			OwnershipFailClosed: cfg.Gateway.OwnershipFailClosed,
		},
	)

	// No write timeout: responses are long-lived streams
	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           g.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	observ.Log("startup", map[string]any{
		"addr":                  cfg.Gateway.Addr,
		"upstream":              cfg.Upstream.BaseURL,
		"ledger":                cfg.Ledger.Driver,
		"viewers":               len(cfg.Gateway.Tokens),
		"ownership_fail_closed": cfg.Gateway.OwnershipFailClosed,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}
