package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/boardcast/internal/api"
	"github.com/boardcast/internal/cache"
	"github.com/boardcast/internal/config"
	"github.com/boardcast/internal/discord"
	"github.com/boardcast/internal/logging"
	"github.com/boardcast/internal/mapping"
	"github.com/boardcast/internal/notify"
	"github.com/boardcast/internal/registry"
	"github.com/boardcast/internal/retry"
	"github.com/boardcast/internal/router"
	"github.com/boardcast/internal/store"
	"github.com/boardcast/internal/trello"
)

// ServeCommand returns the CLI command for starting the service
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the webhook receiver and event router",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the HTTP server (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ca, stopCache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopCache()

	trelloClient := trello.NewClient(cfg.Trello.BaseURL, cfg.Trello.APIKey, cfg.Trello.APIToken, cfg.Trello.Timeout)

	mappings := mapping.NewService(st, ca, cfg.Cache.TTL, trelloClient)

	reg := registry.New(st, trelloClient, mappings, cfg.CallbackURL(),
		retry.RegistrationConfig(cfg.Registry.MaxAttempts, cfg.Registry.BaseDelay))
	mappings.SetChangeNotifier(reg.Poke)

	sink, err := openSink(cfg)
	if err != nil {
		return err
	}

	rt := router.New(mappings, sink, router.Config{
		DedupWindow:     cfg.Router.DedupWindow,
		DedupMaxEntries: cfg.Router.DedupMaxEntries,
		QueueSize:       cfg.Router.QueueSize,
		DeliveryRetries: cfg.Router.DeliveryRetries,
	})

	server := api.NewServer(cfg, st, ca, mappings, reg, rt)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		reg.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		rt.Run(ctx)
	}()

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	log.Info().
		Int("port", cfg.Server.Port).
		Str("callback_url", cfg.CallbackURL()).
		Str("sink", sink.Name()).
		Msg("boardcast started")

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	cancel()
	wg.Wait()
	log.Info().Msg("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL == "" {
		log.Warn().Msg("no database configured, using in-memory store (mappings are lost on restart)")
		return store.NewMemory(), nil
	}

	pg, err := store.NewPostgres(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return pg, nil
}

func openCache(ctx context.Context, cfg *config.Config) (cache.Cache, func(), error) {
	if cfg.Cache.Backend == "redis" {
		rc, err := cache.NewRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return rc, func() { rc.Close() }, nil
	}

	mc := cache.NewMemory()
	return mc, mc.Stop, nil
}

func openSink(cfg *config.Config) (notify.Sink, error) {
	if !cfg.Discord.Enabled {
		log.Warn().Msg("discord delivery disabled, notifications will only be logged")
		return notify.LogSink{}, nil
	}

	sink, err := discord.NewSink(cfg.Discord.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord sink: %w", err)
	}
	return sink, nil
}
