package chat

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/ashureev/arogya/internal/domain"
	"github.com/ashureev/arogya/internal/store"
)

// ErrEmptyMessage is returned by Handle for blank utterances.
var ErrEmptyMessage = domain.NewInvalidInputError("No message provided")

// Pipeline answers one utterance: normalize, resolve, format.
// It holds no mutable state and is safe for concurrent use.
type Pipeline struct {
	resolver  *Resolver
	formatter *Formatter
	logger    *slog.Logger
}

// NewPipeline wires a resolver and formatter.
func NewPipeline(resolver *Resolver, formatter *Formatter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{resolver: resolver, formatter: formatter, logger: logger}
}

// NewDefaultPipeline builds a pipeline over remedies with the built-in
// templates.
func NewDefaultPipeline(remedies store.RemedyStore, logger *slog.Logger, opts ...ResolverOption) (*Pipeline, error) {
	formatter, err := NewFormatter(nil)
	if err != nil {
		return nil, fmt.Errorf("load response templates: %w", err)
	}
	opts = append([]ResolverOption{WithLogger(logger)}, opts...)
	return NewPipeline(NewResolver(remedies, opts...), formatter, logger), nil
}

// Normalize lower-cases and trims an utterance.
func Normalize(utterance string) string {
	return strings.ToLower(strings.TrimSpace(utterance))
}

// Handle returns the reply for utterance. The only error is ErrEmptyMessage;
// any failure while resolving or formatting yields the fallback reply.
func (p *Pipeline) Handle(ctx context.Context, utterance string) (string, error) {
	text := Normalize(utterance)
	if text == "" {
		return "", ErrEmptyMessage
	}
	reply, _ := p.answer(ctx, text)
	return reply, nil
}

// Answer is Handle that also reports the resolved intent.
func (p *Pipeline) Answer(ctx context.Context, utterance string) (string, Intent, error) {
	text := Normalize(utterance)
	if text == "" {
		return "", Intent{}, ErrEmptyMessage
	}
	reply, intent := p.answer(ctx, text)
	return reply, intent, nil
}

func (p *Pipeline) answer(ctx context.Context, text string) (reply string, intent Intent) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("Chat pipeline panic, returning fallback",
				"panic", rec,
				"stack", string(debug.Stack()))
			reply, intent = p.formatter.Fallback(), Fallback()
		}
	}()

	intent = p.resolver.Resolve(ctx, text)
	reply = p.formatter.Format(intent)
	if reply == "" {
		return p.formatter.Fallback(), Fallback()
	}
	p.logger.Debug("Resolved chat intent", "intent", intent.Label())
	return reply, intent
}
