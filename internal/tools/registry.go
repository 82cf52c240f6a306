// Package tools holds the name→function registry the graph scheduler
// dispatches analyst tool calls through. Built-in tools wrap the market
// data facade; MCP-served tools can be mounted alongside them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/metrics"
)

// Func is a callable tool. Arguments arrive as a JSON object string and the
// result is a JSON string handed back to the model verbatim.
type Func func(ctx context.Context, args string) (string, error)

// Definition couples a tool name with its schema description and handler.
// Parameters is the JSON-schema object advertised to the model; nil means
// the tool takes no arguments.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Handler     Func
}

// Registry is the dispatch table. Registration happens at startup; lookups
// and calls are concurrent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Definition
	log   zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Definition),
		log:   log.With().Str("component", "tools").Logger(),
	}
}

// Register adds a tool. Names are unique; re-registering is an error.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s has no handler", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	r.tools[def.Name] = def
	r.log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Get returns the definition for a tool name
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Names returns the registered tool names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Call dispatches a tool by name. Unknown names are an error the caller
// relays to the model rather than a crash. The caller owns the timeout on ctx.
func (r *Registry) Call(ctx context.Context, name, args string) (string, error) {
	def, ok := r.Get(name)
	if !ok {
		metrics.ToolDispatches.WithLabelValues(name, "unknown").Inc()
		return "", fmt.Errorf("unknown tool %q", name)
	}

	start := time.Now()
	result, err := def.Handler(ctx, args)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ToolDispatches.WithLabelValues(name, status).Inc()
	metrics.ToolDispatchDuration.WithLabelValues(name).Observe(float64(elapsed.Milliseconds()))

	if err != nil {
		r.log.Warn().Str("tool", name).Dur("duration", elapsed).Err(err).Msg("Tool call failed")
		return "", err
	}

	r.log.Debug().Str("tool", name).Dur("duration", elapsed).Int("result_bytes", len(result)).Msg("Tool call complete")
	return result, nil
}
