package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"papp/ingestion/internal/client"
	"papp/ingestion/internal/config"
	"papp/ingestion/internal/httpapi"
	"papp/ingestion/internal/ingest"
	"papp/ingestion/internal/metrics"
	"papp/ingestion/internal/queue"
	"papp/ingestion/internal/repository"
	"papp/ingestion/internal/scheduler"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	// Setup logger
	setupLogger(cfg)

	log.Info().Msg("Starting odds snapshot ingestion worker")
	log.Info().
		Str("env", cfg.AppEnv).
		Str("log_level", cfg.LogLevel).
		Strs("leagues", cfg.Leagues).
		Msg("Configuration loaded")

	// Create context that listens for cancellation
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize odds provider client
	oddsClient := client.NewClient(
		cfg.OddsAPIBaseURL,
		cfg.OddsAPIKey,
		cfg.OddsAPITimeout,
		client.WithRegions(cfg.OddsAPIRegions),
		client.WithMaxRetries(cfg.OddsAPIMaxRetries),
		client.WithMaxConcurrency(cfg.OddsAPIMaxConcurrency),
		client.WithScoresDaysFrom(cfg.OddsAPIScoresDaysFrom),
	)
	log.Info().Str("base_url", cfg.OddsAPIBaseURL).Msg("Odds provider client initialized")

	// Initialize database connection
	db, err := repository.NewDatabase(ctx, repository.Config{
		Host:     cfg.DatabaseHost,
		Port:     strconv.Itoa(cfg.DatabasePort),
		User:     cfg.DatabaseUser,
		Password: cfg.DatabasePassword,
		Database: cfg.DatabaseName,
		SSLMode:  cfg.DatabaseSSLMode,
		MaxConns: int32(cfg.WorkerConcurrency + cfg.LeagueConcurrency + 2),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize the job queue. Unlike a cache it is required.
	rdb, err := queue.Connect(ctx, queue.Config{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	jobs := queue.NewRedisQueue(rdb, cfg.QueuePrefix, cfg.QueueVisibilityTimeout)

	svc := ingest.NewService(ingest.NewConfig(cfg), ingest.Deps{
		Provider:    oddsClient,
		Matches:     db.Matches,
		Snapshots:   db.Snapshots,
		Maintenance: db.Matches,
		Jobs:        jobs,
	})

	// Start ops server: metrics, health and sweep triggers
	if cfg.EnableMetrics {
		ops := httpapi.NewServer(svc, httpapi.Options{
			Token:          cfg.OpsToken,
			AllowedOrigins: cfg.OpsAllowedOrigins,
			Checks: map[string]httpapi.Check{
				"database": db.Health,
				"redis":    jobs.Ping,
			},
		})
		go func() {
			if err := ops.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.MetricsPort)); err != nil {
				log.Error().Err(err).Msg("Ops server failed")
			}
		}()
	}

	// Update system uptime and pool metrics
	startTime := time.Now()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.SystemUptime.Set(time.Since(startTime).Seconds())
				stat := db.Pool.Stat()
				metrics.UpdateDBConnectionStats(stat.AcquiredConns(), stat.IdleConns())
			case <-ctx.Done():
				return
			}
		}
	}()

	// Create and start scheduler
	sched, err := scheduler.NewScheduler(scheduler.OptionsFromConfig(cfg), svc, jobs)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	if cfg.EnableScheduler {
		if err := sched.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start scheduler")
		}
	} else {
		log.Warn().Msg("Scheduler disabled, serving ops endpoints only")
	}

	// Keep running until a shutdown signal arrives
	<-ctx.Done()
	log.Info().Msg("Received shutdown signal, gracefully shutting down...")

	sched.Stop()

	log.Info().Msg("Worker shutdown complete")
}

// setupLogger configures the zerolog logger
func setupLogger(cfg *config.Config) {
	// Pretty console logging in development
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		level = parsed
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("level", level.String()).
		Msg("Logger initialized")
}
