package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/arogya/internal/domain"
	"github.com/ashureev/arogya/internal/store"
)

// DefaultLookupTimeout bounds the remedy store query on the interactive path.
const DefaultLookupTimeout = 300 * time.Millisecond

// GreetingWords trigger the greeting intent when contained anywhere in the utterance.
var GreetingWords = []string{"hi", "hello", "hey", "namaste"}

// keywordRule maps a set of contained keywords to a fixed intent.
type keywordRule struct {
	intent   Intent
	keywords []string
}

// keywordRules holds every static rule after the database lookup, in
// priority order.
var keywordRules = buildKeywordRules()

func buildKeywordRules() []keywordRule {
	rules := []keywordRule{
		{Symptom(SymptomFever), []string{"fever"}},
		{Symptom(SymptomCoughCold), []string{"cough", "cold"}},
		{Symptom(SymptomImmunity), []string{"immunity"}},
		{Symptom(SymptomDigestion), []string{"indigestion", "digestion", "stomach", "bloating"}},
		{Symptom(SymptomStress), []string{"stress", "anxiety", "tension"}},
	}
	for _, h := range HerbKeys {
		rules = append(rules, keywordRule{Herb(h), []string{string(h)}})
	}
	return rules
}

func (r keywordRule) matches(text string) bool {
	return containsAny(text, r.keywords)
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// Resolver maps a normalized utterance to exactly one Intent.
//
// Order: greeting, database match, fever, cough/cold, immunity, digestion,
// stress, herbs, fallback. The first match wins.
type Resolver struct {
	remedies store.RemedyStore
	timeout  time.Duration
	logger   *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLookupTimeout sets the remedy lookup timeout. Zero disables it.
func WithLookupTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = d }
}

// WithLogger sets the logger used for degraded lookups.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a resolver backed by remedies. A nil store skips the
// database step entirely.
func NewResolver(remedies store.RemedyStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		remedies: remedies,
		timeout:  DefaultLookupTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the intent for text, which must already be normalized.
// Store failures and timeouts never surface; the database step is skipped.
func (r *Resolver) Resolve(ctx context.Context, text string) Intent {
	if containsAny(text, GreetingWords) {
		return Greeting()
	}

	if records := r.lookup(ctx, text); len(records) > 0 {
		return DatabaseMatch(records)
	}

	for _, rule := range keywordRules {
		if rule.matches(text) {
			return rule.intent
		}
	}
	return Fallback()
}

func (r *Resolver) lookup(ctx context.Context, text string) []domain.Remedy {
	if r.remedies == nil {
		return nil
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	records, err := r.remedies.FindByFreeText(ctx, text, MaxDatabaseMatches)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			r.logger.Warn("Remedy lookup timed out, using keyword rules", "timeout", r.timeout)
		case domain.IsStoreUnavailable(err):
			r.logger.Warn("Remedy store unavailable, using keyword rules", "error", err)
		default:
			r.logger.Error("Remedy lookup failed, using keyword rules", "error", err)
		}
		return nil
	}
	return records
}

// RuleOrder lists the rule names in evaluation order.
func RuleOrder() []string {
	names := []string{KindGreeting.String(), KindDatabaseMatch.String()}
	for _, rule := range keywordRules {
		names = append(names, rule.intent.Label())
	}
	return append(names, KindFallback.String())
}
