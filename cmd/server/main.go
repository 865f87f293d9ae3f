package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/coachwars/internal/config"
	"github.com/freeeve/coachwars/internal/events"
	"github.com/freeeve/coachwars/internal/handler"
	"github.com/freeeve/coachwars/internal/logger"
	"github.com/freeeve/coachwars/internal/metrics"
	"github.com/freeeve/coachwars/internal/middleware"
	"github.com/freeeve/coachwars/internal/repository/postgres"
	redisrepo "github.com/freeeve/coachwars/internal/repository/redis"
	"github.com/freeeve/coachwars/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Config load failed")
	}
	logger.Init(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File, Dev: cfg.Log.Dev})
	log.Info().Str("port", cfg.Port).Bool("llm", cfg.Oracle.OpenAIKey != "").Msg("Config loaded")

	// Database
	db, err := postgres.Connect(cfg.DatabaseURL, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	// Redis
	redisClient, err := redisrepo.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer redisClient.Close()

	// Lifecycle events are optional; without a broker they are dropped.
	var publisher service.EventPublisher = service.NoopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("AMQP connection failed")
		}
		defer amqpPub.Close()
		publisher = amqpPub
	}

	dice, err := newDice(cfg.Battle.DiceSeed)
	if err != nil {
		log.Fatal().Err(err).Msg("Dice seed failed")
	}

	wsHub := handler.NewHub()
	app := buildCore(cfg, db, redisClient, handler.NewRelayBroadcaster(redisClient, wsHub), publisher, dice)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Orphan recovery runs once now and then on an interval.
	go app.Recovery.Start(ctx)
	// Every instance relays published battle events to its own spectators.
	go redisClient.SubscribeBattleEvents(ctx, wsHub.DeliverRaw)

	wsHandler := handler.NewWSHandler(wsHub, "*").WithSnapshots(func(ctx context.Context, battleID string) (any, error) {
		rec, err := app.Replays.Reconstruct(ctx, battleID)
		if err != nil {
			return nil, err
		}
		return rec.Context, nil
	})
	opsHandler := handler.NewOpsHandler(map[string]handler.Pinger{
		"postgres": handler.PingFunc(db.PingContext),
		"redis":    redisClient,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", opsHandler.Healthz)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /ws", wsHandler.ServeWS)

	root := middleware.Chain(mux, middleware.Recover, middleware.Logger("/healthz", "/metrics"), middleware.CORS("*"))

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     root,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}
