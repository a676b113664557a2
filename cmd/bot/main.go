// Package main contains the entrypoint for the Jeffrey archive bot.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CharlesAD/jeffrey/internal/bot"
	"github.com/CharlesAD/jeffrey/internal/bot/tasks"
	"github.com/CharlesAD/jeffrey/internal/config"
	"github.com/CharlesAD/jeffrey/internal/database"
	"github.com/CharlesAD/jeffrey/internal/discord"
	"github.com/CharlesAD/jeffrey/internal/gemini"
	"github.com/CharlesAD/jeffrey/internal/history"
	"github.com/CharlesAD/jeffrey/internal/ingest"
	"github.com/CharlesAD/jeffrey/internal/logger"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger, db,
// ai client, discord session, scheduler), handles graceful shutdown, and
// returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	gemClient, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	session, err := discord.NewSession(cfg.Discord.Token, log)
	if err != nil {
		log.Error("Failed to create Discord session", "error", err)
		return 1
	}

	fetcher := discord.NewFetcher(session)
	ingestor := ingest.NewIngestor(store, log)
	backfiller := ingest.NewBackfiller(store, fetcher, cfg.Ingest.PageSize, cfg.Ingest.PageDelay, log)

	resolver := history.NewResolver()
	router := history.NewRouter(resolver, gemClient, log)
	engine := history.NewEngine(store, fetcher, log)
	synth := history.NewSynthesizer(gemClient, log)
	historyService := history.NewService(router, engine, synth, log)

	discord.RegisterHandlers(session, discord.HandlerDeps{
		Logger:   log,
		Config:   cfg,
		Ingestor: ingestor,
		History:  historyService,
		Resolver: resolver,
	})

	tDeps := tasks.TaskDeps{
		Logger:     log,
		Store:      store,
		Backfiller: backfiller,
		Config:     cfg,
		GuildID: func() string {
			if cfg.Discord.GuildID != "" {
				return cfg.Discord.GuildID
			}
			if len(session.State.Guilds) > 0 {
				return session.State.Guilds[0].ID
			}
			return ""
		},
	}

	sched := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	app := bot.NewBot(log, cfg, db, store, session, backfiller, sched)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
