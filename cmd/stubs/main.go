package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Rajchodisetti/account-stream/internal/observ"
	"github.com/Rajchodisetti/account-stream/internal/stubs"
)

func main() {
	var addr string
	var apiKey, apiSecret string
	var heartbeat time.Duration
	var seedAccount string
	var progressEvery time.Duration
	var failSymbols string
	flag.StringVar(&addr, "addr", ":8091", "listen address")
	flag.StringVar(&apiKey, "api-key", os.Getenv("BROKER_API_KEY"), "required basic auth key (empty disables auth)")
	flag.StringVar(&apiSecret, "api-secret", os.Getenv("BROKER_API_SECRET"), "required basic auth secret")
	flag.DurationVar(&heartbeat, "heartbeat", 10*time.Second, "idle comment interval on the status stream")
	flag.StringVar(&seedAccount, "account", "", "create this account at startup")
	flag.DurationVar(&progressEvery, "progress-every", 0, "walk the seeded account SUBMITTED -> APPROVED -> ACTIVE at this interval")
	flag.StringVar(&failSymbols, "fail-symbols", "", "comma-separated symbols whose orders are rejected")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync()
	observ.SetLogger(logger)

	sim := stubs.NewBrokerage()
	sim.APIKey, sim.APISecret = apiKey, apiSecret
	sim.SetHeartbeat(heartbeat)
	for _, s := range strings.Split(failSymbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			sim.FailSymbols[strings.ToUpper(s)] = true
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if seedAccount != "" {
		sim.SetStatus(seedAccount, "SUBMITTED")
		if progressEvery > 0 {
			go progress(ctx, sim, seedAccount, progressEvery)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/", sim.Handler())
	// Drive status changes by hand: POST /admin/accounts/{id}/status?status=ACTIVE
	mux.HandleFunc("POST /admin/accounts/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		status := strings.ToUpper(r.URL.Query().Get("status"))
		if status == "" {
			http.Error(w, "status is required", http.StatusBadRequest)
			return
		}
		ev := sim.SetStatus(r.PathValue("id"), status)
		observ.Log("stub_status_set", map[string]any{"account_id": ev.AccountID, "from": ev.StatusFrom, "to": ev.StatusTo})
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("POST /admin/streams/drop", func(w http.ResponseWriter, r *http.Request) {
		sim.DropStreams()
		w.WriteHeader(http.StatusAccepted)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	sim.DropStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func progress(ctx context.Context, sim *stubs.Brokerage, accountID string, every time.Duration) {
	for _, status := range []string{"APPROVED", "ACTIVE"} {
		select {
		case <-ctx.Done():
			return
		case <-time.After(every):
		}
		sim.SetStatus(accountID, status)
		observ.Log("stub_status_progressed", map[string]any{"account_id": accountID, "status": status})
	}
}
