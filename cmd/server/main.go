package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/doorforge/quotecontrol/internal/autopilot"
	"github.com/doorforge/quotecontrol/internal/config"
	"github.com/doorforge/quotecontrol/internal/httpapi"
	"github.com/doorforge/quotecontrol/internal/logger"
	"github.com/doorforge/quotecontrol/internal/metrics"
	"github.com/doorforge/quotecontrol/internal/model"
	"github.com/doorforge/quotecontrol/internal/postgres"
	"github.com/doorforge/quotecontrol/internal/resource"
	"github.com/doorforge/quotecontrol/internal/session"
	"github.com/doorforge/quotecontrol/internal/wsconn"
)

func main() {
	log := logger.New()

	configPath := "config.toml"
	if p := os.Getenv("QUOTECONTROL_CONFIG"); p != "" {
		configPath = p
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logger.FromConfig(cfg.API.Local, false)

	log.Info().Str("host", cfg.Server.API.Host).Int("port", cfg.Server.API.Port).Msg("starting quotecontrol")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.Server.Postgres.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()
	log.Info().Msg("connected to postgres")

	store := postgres.New(pool)

	sessions := session.NewRegistry(store, session.Config{
		AccessTTL:        cfg.Server.API.AccessTTL(),
		RefreshTTL:       cfg.Server.API.RefreshTTL(),
		MaxTokensPerUser: cfg.Server.API.MaxTokensPerUser,
	}, log)

	catalog := map[string]resource.Loader{
		"quote": resource.QuoteLoader(store),
	}
	resources := resource.NewManager(catalog, log)

	releaser := session.NewResourceReleaser(func(sess *model.Session, key model.ResourceKey, unconditional bool) error {
		// ReleaseByKey returns *apperrors.AppError; a plain `return` here
		// would box a nil *AppError into a non-nil error interface, so
		// the nil case is handled explicitly.
		if ae := resources.ReleaseByKey(sess, key, unconditional); ae != nil {
			return ae
		}
		return nil
	})

	autopilots := autopilot.NewManager(log)

	srv := httpapi.New(cfg, sessions, resources, autopilots, log)

	taskInterval := cfg.Server.API.TaskIntervalDuration()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sessions.Run(gctx, taskInterval, releaser, wsconn.CloseTokenExpired, "token expired")
		return nil
	})
	g.Go(func() error {
		resources.Run(gctx, taskInterval, cfg.Server.API.ResourceGraceDuration())
		return nil
	})
	g.Go(func() error {
		autopilots.Run(gctx)
		return nil
	})
	g.Go(func() error {
		refreshGauges(gctx, sessions, resources, autopilots)
		return nil
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Listen()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
	}

	if err := srv.Shutdown(); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	cancel()
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("background task error")
	}

	log.Info().Msg("stopped")
}

// refreshGauges samples the in-memory registries' sizes into the
// ambient Prometheus gauges every few seconds, the way the teacher's
// middleware.UpdateActiveSessions is meant to be driven.
func refreshGauges(ctx context.Context, sessions *session.Registry, resources *resource.Manager, autopilots *autopilot.Manager) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ActiveSessions.Set(float64(sessions.ActiveSessionCount()))
			metrics.ActiveTokens.Set(float64(sessions.ActiveTokenCount()))
			metrics.ResourceCacheSize.Set(float64(resources.CacheSize()))
			metrics.AutopilotQueueDepth.Set(float64(autopilots.QueueDepth()))
			metrics.AutopilotsConnected.Set(float64(autopilots.ConnectedCount()))
		}
	}
}
