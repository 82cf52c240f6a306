// Package health tracks per-source availability for the data provider facade.
//
// Each source moves through three states: healthy, cooling and probing.
// Consecutive failures push a healthy source into cooling; after the cooldown
// window elapses the next Allow lets a single trial request through (probing).
// A probing success restores the source, a probing failure restarts cooling
// with a refreshed timestamp.
package health

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/metrics"
)

// State is a source's availability state
type State string

const (
	StateHealthy State = "healthy"
	StateCooling State = "cooling"
	StateProbing State = "probing"
)

// Record is a point-in-time view of one source's health
type Record struct {
	Source            string     `json:"source"`
	State             State      `json:"state"`
	Healthy           bool       `json:"healthy"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastFailureAt     *time.Time `json:"last_failure_at,omitempty"`
	LastSuccessAt     *time.Time `json:"last_success_at,omitempty"`
}

// Config holds registry thresholds
type Config struct {
	// MaxErrors is the consecutive failure count that trips a source into cooling
	MaxErrors int
	// Cooldown is how long a tripped source stays blocked before a probe is allowed
	Cooldown time.Duration
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		MaxErrors: 3,
		Cooldown:  300 * time.Second,
	}
}

type sourceState struct {
	state             State
	consecutiveErrors int
	lastFailureAt     time.Time
	lastSuccessAt     time.Time
}

// Registry is the single authority on source health. Only the registry
// marks sources unhealthy; callers report outcomes and ask Allow.
type Registry struct {
	mu        sync.Mutex
	sources   map[string]*sourceState
	maxErrors int
	cooldown  time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewRegistry creates a registry with the given thresholds.
// Zero-value fields fall back to defaults.
func NewRegistry(cfg Config) *Registry {
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = DefaultConfig().MaxErrors
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Registry{
		sources:   make(map[string]*sourceState),
		maxErrors: cfg.MaxErrors,
		cooldown:  cfg.Cooldown,
		now:       time.Now,
		log:       log.With().Str("component", "health_registry").Logger(),
	}
}

// get returns the state for a source, creating it healthy on first touch.
// Caller must hold mu.
func (r *Registry) get(source string) *sourceState {
	s, ok := r.sources[source]
	if !ok {
		s = &sourceState{state: StateHealthy}
		r.sources[source] = s
		metrics.SetSourceHealth(source, true, 0)
	}
	return s
}

// Allow reports whether a request to the source may proceed.
// A cooling source whose cooldown has elapsed transitions to probing
// and is allowed through as the trial request.
func (r *Registry) Allow(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.get(source)
	switch s.state {
	case StateHealthy, StateProbing:
		return true
	case StateCooling:
		if r.now().Sub(s.lastFailureAt) >= r.cooldown {
			s.state = StateProbing
			r.log.Info().Str("source", source).Msg("Cooldown elapsed, probing source")
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess marks a successful call, restoring the source to healthy
func (r *Registry) RecordSuccess(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.get(source)
	prev := s.state
	s.state = StateHealthy
	s.consecutiveErrors = 0
	s.lastSuccessAt = r.now()

	if prev != StateHealthy {
		r.log.Info().Str("source", source).Str("from", string(prev)).Msg("Source recovered")
	}
	metrics.SetSourceHealth(source, true, 0)
}

// RecordFailure marks a failed call. A probing source drops straight back to
// cooling; a healthy source trips once it reaches the error threshold.
func (r *Registry) RecordFailure(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.get(source)
	s.consecutiveErrors++
	s.lastFailureAt = r.now()

	switch s.state {
	case StateProbing:
		s.state = StateCooling
		metrics.SourceCooldowns.WithLabelValues(source).Inc()
		r.log.Warn().
			Str("source", source).
			Int("consecutive_errors", s.consecutiveErrors).
			Msg("Probe failed, source cooling again")
	case StateHealthy:
		if s.consecutiveErrors >= r.maxErrors {
			s.state = StateCooling
			metrics.SourceCooldowns.WithLabelValues(source).Inc()
			r.log.Warn().
				Str("source", source).
				Int("consecutive_errors", s.consecutiveErrors).
				Dur("cooldown", r.cooldown).
				Msg("Source tripped into cooling")
		}
	}

	metrics.SetSourceHealth(source, s.state == StateHealthy, s.consecutiveErrors)
}

// Healthy reports whether the source is currently in the healthy state
func (r *Registry) Healthy(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(source).state == StateHealthy
}

// Snapshot returns a copy of every tracked source's record
func (r *Registry) Snapshot() map[string]Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Record, len(r.sources))
	for name, s := range r.sources {
		rec := Record{
			Source:            name,
			State:             s.state,
			Healthy:           s.state == StateHealthy,
			ConsecutiveErrors: s.consecutiveErrors,
		}
		if !s.lastFailureAt.IsZero() {
			t := s.lastFailureAt
			rec.LastFailureAt = &t
		}
		if !s.lastSuccessAt.IsZero() {
			t := s.lastSuccessAt
			rec.LastSuccessAt = &t
		}
		out[name] = rec
	}
	return out
}
