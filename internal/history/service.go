package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Service ties the router, engine and synthesizer into a single
// ask-a-question surface. Answer never returns an error: failures at any
// stage become user-visible replies, with the cause logged.
type Service struct {
	router *Router
	engine *Engine
	synth  *Synthesizer
	logger *slog.Logger
}

// NewService wires the full question pipeline.
func NewService(router *Router, engine *Engine, synth *Synthesizer, logger *slog.Logger) *Service {
	return &Service{
		router: router,
		engine: engine,
		synth:  synth,
		logger: logger.With("component", "history_service"),
	}
}

// Answer resolves a natural-language question against the archive for
// guildID and returns the reply text.
func (s *Service) Answer(ctx context.Context, guildID, text string) string {
	q, err := s.router.Route(ctx, text)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownPeriod):
			return "Sorry, I couldn't recognise that time period."
		case errors.Is(err, ErrMissingTopic):
			return "Which topic?"
		default:
			s.logger.ErrorContext(ctx, "routing failed", "error", err)
			return apologyReply
		}
	}
	return s.AnswerQuery(ctx, guildID, q)
}

// AnswerQuery executes an already-built query descriptor. Command surfaces
// that construct descriptors directly, such as slash commands, use this
// entry point.
func (s *Service) AnswerQuery(ctx context.Context, guildID string, q *Query) string {
	rs, err := s.engine.Retrieve(ctx, guildID, q)
	if err != nil {
		if errors.Is(err, ErrUnknownChannel) {
			return fmt.Sprintf("I couldn't find a channel called **#%s**.", q.Channel)
		}
		s.logger.ErrorContext(ctx, "retrieval failed", "kind", q.Kind.String(), "error", err)
		return "An error occurred while searching the archive. Please try again later."
	}
	return s.synth.Synthesize(ctx, q, rs)
}
