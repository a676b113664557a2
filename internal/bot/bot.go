// Package bot implements the core lifecycle management and component
// orchestration for the Jeffrey archive bot.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/CharlesAD/jeffrey/internal/config"
	"github.com/CharlesAD/jeffrey/internal/database"
	"github.com/CharlesAD/jeffrey/internal/discord"
	"github.com/CharlesAD/jeffrey/internal/ingest"
)

// Bot represents the main application and manages its components' lifecycle.
type Bot struct {
	logger     *slog.Logger
	cfg        *config.Config
	db         *sqlx.DB
	store      database.Store
	session    *discordgo.Session
	backfiller *ingest.Backfiller
	scheduler  *Scheduler
}

// NewBot creates a new instance of the bot with all required dependencies.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	db *sqlx.DB,
	store database.Store,
	session *discordgo.Session,
	backfiller *ingest.Backfiller,
	scheduler *Scheduler,
) *Bot {
	return &Bot{
		logger:     logger.With("component", "bot_orchestrator"),
		cfg:        cfg,
		db:         db,
		store:      store,
		session:    session,
		backfiller: backfiller,
		scheduler:  scheduler,
	}
}

// Run opens the gateway connection, registers slash commands, starts the
// scheduler and the startup backfill, then blocks until the context is
// cancelled or a component fails.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	if err := discord.RegisterCommands(b.session, b.cfg.Discord.GuildID, b.logger); err != nil {
		b.closeSession()
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, closing discord session...")
		b.closeSession()
		return nil
	})

	g.Go(func() error {
		b.logger.Info("Starting scheduler...")
		if err := b.scheduler.Start(); err != nil {
			b.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	if b.cfg.Ingest.BackfillOnStart {
		g.Go(func() error {
			guildID := b.guildID()
			if guildID == "" {
				b.logger.Warn("Startup backfill skipped, no guild available")
				return nil
			}
			b.logger.Info("Starting startup backfill...", "guild_id", guildID)
			if err := b.backfiller.Run(gCtx, guildID); err != nil && !errors.Is(err, context.Canceled) {
				// Backfill failure is not fatal to the live bot.
				b.logger.Error("Startup backfill failed", "error", err)
			}
			return nil
		})
	}

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

func (b *Bot) guildID() string {
	if b.cfg.Discord.GuildID != "" {
		return b.cfg.Discord.GuildID
	}
	if len(b.session.State.Guilds) > 0 {
		return b.session.State.Guilds[0].ID
	}
	return ""
}

func (b *Bot) closeSession() {
	if err := b.session.Close(); err != nil {
		b.logger.Error("Error closing discord session", "error", err)
	}
}
