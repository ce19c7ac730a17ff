package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/matheus3301/nearby/internal/account"
	"github.com/matheus3301/nearby/internal/backend/memory"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/hub"
	"github.com/matheus3301/nearby/internal/logging"
	"github.com/matheus3301/nearby/internal/signal"
	"go.uber.org/zap"
)

func main() {
	addrFlag := flag.String("addr", "127.0.0.1:8787", "listen address")
	seedFlag := flag.Bool("seed", true, "publish the simulated roster as online profiles")
	latFlag := flag.Float64("lat", 0, "latitude the seeded roster is placed around")
	lonFlag := flag.Float64("lon", 0, "longitude the seeded roster is placed around")
	debugFlag := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	logger, err := logging.New(filepath.Join(account.BaseDir(), "hub", "nearbyhub.log"), "hub", *debugFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mem := memory.New()
	if *seedFlag {
		var around *domain.Coords
		if *latFlag != 0 || *lonFlag != 0 {
			around = &domain.Coords{Latitude: *latFlag, Longitude: *lonFlag}
		}
		roster := signal.DefaultRoster()
		if err := signal.PublishRoster(ctx, mem, roster, around); err != nil {
			logger.Fatal("seed roster", zap.Error(err))
		}
		logger.Info("roster seeded", zap.Int("profiles", len(roster)))
	}

	srv := &http.Server{
		Addr:              *addrFlag,
		Handler:           hub.NewServer(mem, logger.Named("hub")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("hub listening", zap.String("addr", *addrFlag))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("hub stopped", zap.Error(err))
	}
	logger.Info("hub stopped")
}
