package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/JustinCarm001/MLAApp-sub001/internal/archive"
	"github.com/JustinCarm001/MLAApp-sub001/internal/config"
	"github.com/JustinCarm001/MLAApp-sub001/internal/httpapi"
	"github.com/JustinCarm001/MLAApp-sub001/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	if cfg.AppEnv == "development" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	// Archive is optional: without DB_HOST, records stay in process memory.
	var rec archive.Recorder = archive.NewMemory()
	if cfg.ArchiveEnabled() {
		store, err := archive.Open(cfg.DSN(), logger)
		if err != nil {
			logger.Fatal("archive open failed", zap.Error(err))
		}
		rec = store
	} else {
		logger.Warn("no DB_HOST configured, session archive is in-memory only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	reg := registry.New(ctx, cfg.Protocol, clock, rec, logger)
	handler := httpapi.SetupRoutes(reg, clock, logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	reg.Inbox() <- registry.ShutdownRegistry{}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}
