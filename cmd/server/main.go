package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wootrico/wabridge/internal/bridge"
	"github.com/wootrico/wabridge/internal/config"
	"github.com/wootrico/wabridge/internal/httpapi"
	"github.com/wootrico/wabridge/internal/integration"
	"github.com/wootrico/wabridge/internal/mapping"
	"github.com/wootrico/wabridge/internal/queue"
	"github.com/wootrico/wabridge/internal/ticket"
)

func main() {
	// .env is optional; deployments usually inject the environment directly.
	_ = godotenv.Load()

	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "wabridge").Logger()

	// Pretty logging for local dev
	if config.Get("ENV", "dev") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := integration.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("no usable integrations")
	}

	// Resolve each tenant's inbox up front so callback routing works from
	// the first event. Not fatal: the client retries the lookup lazily.
	for _, itg := range registry.All() {
		inboxCtx, inboxCancel := context.WithTimeout(ctx, 15*time.Second)
		if _, err := itg.Chatwoot.EnsureInbox(inboxCtx); err != nil {
			log.Warn().Err(err).Str("integration", itg.ID).Msg("inbox not resolved at startup")
		}
		inboxCancel()
	}

	nc, js, err := queue.Connect(config.Get("NATS_URL", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer nc.Close()

	if err := queue.EnsureStream(js); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure webhook stream")
	}

	ledger := ticket.NewLedger()
	cache := mapping.NewCache()
	cache.StartWipe(ctx, mapping.DefaultWipeInterval, ledger.Reset)

	processor := bridge.New(registry, ledger, cache)

	if err := queue.Consume(ctx, js, queue.SubjectPrincipal, queue.DurablePrincipal, queue.WorkerPrincipal, processor.HandleProviderEvent); err != nil {
		log.Fatal().Err(err).Msg("failed to start principal consumer")
	}
	if err := queue.Consume(ctx, js, queue.SubjectCallback, queue.DurableCallback, queue.WorkerCallback, processor.HandleChatwootEvent); err != nil {
		log.Fatal().Err(err).Msg("failed to start callback consumer")
	}

	// HTTP server setup
	srv := &httpapi.Server{
		Queue:          queue.JetStreamPublisher{JS: js},
		Ledger:         ledger,
		WebhookName:    config.Get("WEBHOOK_NAME", "wootrico"),
		WebhookBaseURL: config.Get("WEBHOOK_BASE_URL", "http://localhost:8080"),
	}

	httpAddr := config.Get("HTTP_ADDR", ":8080")
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", httpAddr).
			Int("integrations", registry.Len()).
			Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
