package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DTeam-Top/docpilot/internal/api"
	"github.com/DTeam-Top/docpilot/internal/cache"
	"github.com/DTeam-Top/docpilot/internal/config"
	"github.com/DTeam-Top/docpilot/internal/llm"
	"github.com/DTeam-Top/docpilot/internal/pipeline"
	"github.com/DTeam-Top/docpilot/internal/watcher"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	model, err := llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey:         cfg.AnthropicAPIKey,
		BaseURL:        cfg.AnthropicURL,
		Model:          cfg.AnthropicModel,
		MaxInputTokens: cfg.ModelMaxInputTokens,
	})
	if err != nil {
		log.Error("llm client init failed", "error", err)
		os.Exit(1)
	}

	store, err := cache.New(cfg.DataDir, log)
	if err != nil {
		log.Error("cache init failed", "error", err)
		os.Exit(1)
	}

	watch, err := watcher.New(store, log)
	if err != nil {
		log.Error("watcher init failed", "error", err)
		os.Exit(1)
	}

	proc := pipeline.NewProcessor(log,
		pipeline.WithBatchSize(cfg.BatchSize),
		pipeline.WithMaxAttempts(cfg.MaxAttempts),
	)
	svc := pipeline.NewService(proc, model, store, watch, log)

	srv := api.NewServer(svc, store, model, log, cfg)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		watch.Close()
		store.Close()
		model.Close()
	}()

	log.Info("starting docpilot", "port", cfg.Port, "model", model.Model())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
