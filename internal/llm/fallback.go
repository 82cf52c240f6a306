package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FallbackModel chains multiple ChatModels: the primary is tried first and
// later entries only when earlier ones fail. A per-model breaker skips a
// model for a cooldown window after repeated consecutive failures so a dead
// gateway does not tax every analyst invocation.
type FallbackModel struct {
	models []ChatModel
	names  []string

	mu        sync.Mutex
	failures  []int
	openUntil []time.Time

	failureThreshold int
	cooldown         time.Duration
}

// FallbackOption adjusts FallbackModel behavior.
type FallbackOption func(*FallbackModel)

// WithFailureThreshold sets how many consecutive failures open a model's breaker.
func WithFailureThreshold(n int) FallbackOption {
	return func(f *FallbackModel) { f.failureThreshold = n }
}

// WithCooldown sets how long an opened breaker skips its model.
func WithCooldown(d time.Duration) FallbackOption {
	return func(f *FallbackModel) { f.cooldown = d }
}

// NewFallbackModel builds a fallback chain. Names parallel models and are
// used only for logging.
func NewFallbackModel(models []ChatModel, names []string, opts ...FallbackOption) *FallbackModel {
	for len(names) < len(models) {
		names = append(names, fmt.Sprintf("model-%d", len(names)+1))
	}

	f := &FallbackModel{
		models:           models,
		names:            names,
		failures:         make([]int, len(models)),
		openUntil:        make([]time.Time, len(models)),
		failureThreshold: 5,
		cooldown:         60 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Invoke tries each model in order. Implements ChatModel.
func (f *FallbackModel) Invoke(ctx context.Context, messages []Message, tools []Tool) (*Message, error) {
	var lastErr error

	for i, model := range f.models {
		if f.skip(i) {
			log.Warn().Str("model", f.names[i]).Msg("Model breaker open, skipping")
			continue
		}

		start := time.Now()
		msg, err := model.Invoke(ctx, messages, tools)
		if err == nil {
			f.recordSuccess(i)
			if i > 0 {
				log.Info().
					Str("model", f.names[i]).
					Dur("duration", time.Since(start)).
					Msg("Fallback model answered")
			}
			return msg, nil
		}

		f.recordFailure(i)
		lastErr = err
		log.Warn().
			Err(err).
			Str("model", f.names[i]).
			Int("attempt", i+1).
			Msg("Model invocation failed, trying next")

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if lastErr == nil {
		return nil, fmt.Errorf("all models skipped by open breakers")
	}
	return nil, fmt.Errorf("all models failed: %w", lastErr)
}

func (f *FallbackModel) skip(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Now().Before(f.openUntil[i])
}

func (f *FallbackModel) recordSuccess(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[i] = 0
	f.openUntil[i] = time.Time{}
}

func (f *FallbackModel) recordFailure(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[i]++
	if f.failures[i] >= f.failureThreshold {
		f.openUntil[i] = time.Now().Add(f.cooldown)
		f.failures[i] = 0
		log.Warn().
			Str("model", f.names[i]).
			Dur("cooldown", f.cooldown).
			Msg("Model breaker opened")
	}
}
