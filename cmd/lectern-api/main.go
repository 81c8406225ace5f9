package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lectern/internal/audio"
	"lectern/internal/config"
	"lectern/internal/generation"
	"lectern/internal/handoff"
	"lectern/internal/httpapi"
	"lectern/internal/observability"
	"lectern/internal/pipeline"
	"lectern/internal/transcription"
	"lectern/internal/upstream/openai"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	upstreamHTTPClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: transport}
	upstreamClient := openai.New(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, upstreamHTTPClient, openai.WithObserver(metrics.ObserveUpstream))

	storeHTTPClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: transport}
	store := handoff.New(cfg.PersistenceBaseURL, storeHTTPClient, cfg.HandoffTimeout, handoff.WithObserver(metrics.ObserveHandoff))

	conditioner := audio.New(audio.Options{
		SampleRate: cfg.CanonicalSampleRate,
		LowHz:      cfg.BandPassLowHz,
		HighHz:     cfg.BandPassHighHz,
	})
	transcriber := transcription.New(upstreamClient, cfg.TranscriptionModel, cfg.TranscriptionTimeout)
	generator := generation.New(upstreamClient, generation.Options{
		Model:       cfg.GenerationModel,
		Temperature: cfg.GenerationTemperature,
		MaxTokens:   cfg.GenerationMaxTokens,
		Timeout:     cfg.GenerationTimeout,
	})
	pipelineService := pipeline.New(conditioner, transcriber, generator, store, pipeline.Options{
		QuizMaxAttempts: cfg.QuizMaxAttempts,
		RetryBackoff:    cfg.RetryBackoff,
		Logger:          logger,
		Metrics:         metrics,
	})

	handler := httpapi.NewServer(cfg, logger, httpapi.Dependencies{
		Pipeline:       pipelineService,
		Upstream:       upstreamClient,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      pipelineBudget(cfg),
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// pipelineBudget bounds how long a full lecture run may hold a connection: one
// transcription, one summary, the whole quiz retry budget and both handoffs.
func pipelineBudget(cfg config.Config) time.Duration {
	generations := time.Duration(1+cfg.QuizMaxAttempts) * (cfg.GenerationTimeout + cfg.RetryBackoff)
	return cfg.TranscriptionTimeout + generations + 2*cfg.HandoffTimeout + 30*time.Second
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
