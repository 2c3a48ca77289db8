// loyalty-sim runs the in-memory loyalty backend: REST API, websocket push
// and prometheus metrics on one port, seeded with a demo partner so the
// client binaries have something to talk to out of the box.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nish7156/loyalty-client/internal/domain"
	"github.com/Nish7156/loyalty-client/internal/simulator"
	"github.com/Nish7156/loyalty-client/pkg/config"
	"github.com/Nish7156/loyalty-client/pkg/logger"
	"github.com/Nish7156/loyalty-client/pkg/tracing"
)

type appConfig struct {
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	Simulator simulator.Config

	TracingEnabled  bool   `env:"TRACING_ENABLED" envDefault:"false"`
	TracingEndpoint string `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("loyalty-sim", cfg.LogLevel)
	log.Info("starting simulator",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tcfg := tracing.DefaultConfig("loyalty-sim")
	tcfg.Enabled = cfg.TracingEnabled
	tcfg.OTLPEndpoint = cfg.TracingEndpoint
	tcfg.Environment = cfg.Environment
	shutdownTracing, err := tracing.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	store := simulator.NewStore(log)
	branchID := store.Seed(
		domain.Partner{BusinessName: "Chai Point", IndustryType: "CAFE"},
		domain.Branch{
			BranchName: "Koramangala",
			Settings: &domain.BranchSettings{
				StreakThreshold:   5,
				StreakWindowDays:  30,
				RewardDescription: "One free chai",
				MinCheckInAmount:  50,
			},
		},
		simulator.Staff{Name: "Ravi", Phone: "+919000000001"},
	)
	log.Info("seeded demo branch",
		slog.String("branch_id", branchID),
		slog.String("staff_phone", "+919000000001"),
	)

	hub := simulator.NewHub(log)
	srv := simulator.NewServer(store, hub, cfg.Simulator, log)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("simulator stopped")
	return nil
}
