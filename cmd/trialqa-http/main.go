package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Epistemic-Technology/trialqa/internal/config"
	"github.com/Epistemic-Technology/trialqa/internal/httpapi"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/server"
)

func main() {
	log, err := logger.NewLogger(logger.LogConfig{Output: "stderr"})
	if err != nil {
		panic(err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	deps, err := server.NewDeps(log, cfg)
	if err != nil {
		log.Fatal("Failed to build dependencies: %v", err)
	}
	defer deps.Close()

	handler := httpapi.NewHandler(deps.Pipeline, deps.Store, deps.Metrics, log)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("Listening on %s (primary provider: %s)", cfg.HTTPAddr, deps.Router.Primary())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed: %v", err)
	}
}
