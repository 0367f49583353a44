package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"evacuation/internal/config"
	"evacuation/internal/evacuation"
	"evacuation/internal/faceclient"
	"evacuation/internal/queue"
	"evacuation/internal/store"
)

// Worker owns the refresh schedule: it runs migrations, optionally refreshes
// once at startup, then refreshes on a fixed interval and on triggers consumed
// from the queue. The guard keeps all of those single-flight.
func main() {
	cfg := config.Load()
	log := newLogger(cfg.Env).With().Str("component", "worker").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(16)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "evacuation:refresh")
	}

	face := faceclient.New(cfg.FaceAPIURL, cfg.FaceAPITimeout)
	if err := face.Health(ctx); err != nil {
		log.Warn().Err(err).Msg("face api not reachable at startup, refreshes will retry on schedule")
	}

	repo := evacuation.NewRepository(db.Pool)
	svc := evacuation.NewService(face, repo, evacuation.NewGuard(), evacuation.Options{
		LookbackDays:       cfg.LookbackDays,
		FaceListLimit:      cfg.FaceListLimit,
		DetectionPageLimit: cfg.DetectionPageLimit,
		ListItemPageLimit:  cfg.ListItemPageLimit,
	}, log)

	if cfg.Autostart {
		runRefresh(ctx, svc, log)
	}

	triggers, err := q.Consume(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("queue consume init failed")
	}

	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", cfg.RefreshInterval).Msg("worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker stopped")
			return
		case <-ticker.C:
			runRefresh(ctx, svc, log)
		case msg, ok := <-triggers:
			if !ok {
				return
			}
			if msg.Type != queue.TypeRefresh {
				continue
			}
			log.Info().Str("requested_by", msg.RequestedBy).Msg("external refresh trigger")
			runRefresh(ctx, svc, log)
		}
	}
}

func runRefresh(ctx context.Context, svc *evacuation.Service, log zerolog.Logger) {
	if err := svc.RefreshAll(ctx); err != nil {
		if errors.Is(err, evacuation.ErrRefreshInProgress) {
			log.Debug().Msg("refresh trigger ignored, cycle already running")
			return
		}
		log.Error().Err(err).Msg("refresh cycle failed")
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "production" || env == "prod" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.DebugLevel)
}
