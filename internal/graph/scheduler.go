package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/llm"
	"github.com/marketmind-ai/marketmind/internal/metrics"
	"github.com/marketmind-ai/marketmind/internal/session"
	"github.com/marketmind-ai/marketmind/internal/tools"
)

const (
	// DefaultConcurrency matches the number of analysts that can run in
	// parallel once the probe completes.
	DefaultConcurrency = 4

	defaultToolTimeout = 30 * time.Second
)

// SchedulerConfig tunes the scheduler.
type SchedulerConfig struct {
	Concurrency int
	ToolTimeout time.Duration
}

// Scheduler executes a graph against one run state. It owns tool dispatch:
// nodes emit tool-call directives and the scheduler calls the registry,
// appends the result messages and re-invokes the node, sequentially within
// each node.
type Scheduler struct {
	registry    *tools.Registry
	limit       int
	toolTimeout time.Duration
	log         zerolog.Logger
}

// NewScheduler creates a scheduler over a tool registry.
func NewScheduler(registry *tools.Registry, cfg SchedulerConfig) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}
	return &Scheduler{
		registry:    registry,
		limit:       cfg.Concurrency,
		toolTimeout: cfg.ToolTimeout,
		log:         log.With().Str("component", "scheduler").Logger(),
	}
}

type nodeResult struct {
	name string
	err  error
}

// Run executes every node in dependency order, launching ready nodes
// concurrently up to the configured limit. The first node error cancels the
// run; in-flight nodes drain before Run returns.
func (s *Scheduler) Run(ctx context.Context, g *Graph, state *session.AgentState) error {
	if g == nil || g.Len() == 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex // guards state between node goroutines

	sem := make(chan struct{}, s.limit)
	completions := make(chan nodeResult)

	done := make(map[string]bool, g.Len())
	launched := make(map[string]bool, g.Len())
	inflight := 0

	launchReady := func() {
		for _, name := range g.order {
			if launched[name] || !g.ready(name, done) {
				continue
			}
			launched[name] = true
			inflight++
			node := g.nodes[name]
			go func() {
				err := s.runNode(runCtx, node, state, &mu, sem)
				completions <- nodeResult{name: node.Name(), err: err}
			}()
		}
	}

	start := time.Now()
	var firstErr error

	launchReady()
	for inflight > 0 {
		res := <-completions
		inflight--

		if res.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("node %s: %w", res.name, res.err)
				cancel()
			}
			continue
		}

		done[res.name] = true
		if firstErr == nil {
			launchReady()
		}
	}

	if firstErr != nil {
		return firstErr
	}
	if len(done) != g.Len() {
		return fmt.Errorf("graph stalled: %d of %d nodes completed", len(done), g.Len())
	}

	s.log.Info().
		Str("run_id", state.RunID.String()).
		Int("nodes", g.Len()).
		Dur("duration", time.Since(start)).
		Msg("Graph complete")
	return nil
}

// runNode drives one node to completion: invoke, apply the patch, dispatch
// any tool calls, and repeat until the node stops emitting directives. The
// semaphore bounds node execution, not time spent waiting for a slot.
func (s *Scheduler) runNode(ctx context.Context, node Node, state *session.AgentState, mu *sync.Mutex, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sem }()

	start := time.Now()
	err := s.driveNode(ctx, node, state, mu)
	metrics.GraphNodeDuration.WithLabelValues(node.Name()).Observe(float64(time.Since(start).Milliseconds()))

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.GraphNodeRuns.WithLabelValues(node.Name(), outcome).Inc()
	return err
}

func (s *Scheduler) driveNode(ctx context.Context, node Node, state *session.AgentState, mu *sync.Mutex) error {
	for {
		mu.Lock()
		snapshot := state.Clone()
		mu.Unlock()

		patch, err := node.Run(ctx, snapshot)
		if err != nil {
			return err
		}
		if patch == nil {
			return nil
		}

		mu.Lock()
		err = state.Apply(*patch)
		mu.Unlock()
		if err != nil {
			return err
		}

		calls := pendingToolCalls(patch.Messages)
		if len(calls) == 0 {
			return nil
		}

		results, err := s.dispatch(ctx, node.Name(), calls)
		if err != nil {
			return err
		}

		mu.Lock()
		err = state.Apply(session.Patch{Messages: results})
		mu.Unlock()
		if err != nil {
			return err
		}
	}
}

// dispatch answers every tool call with a result message. Handler errors
// become error payloads the model can read; only cancellation aborts the
// cycle.
func (s *Scheduler) dispatch(ctx context.Context, nodeName string, calls []llm.ToolCall) ([]llm.Message, error) {
	results := make([]llm.Message, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		callCtx, cancelCall := context.WithTimeout(ctx, s.toolTimeout)
		out, err := s.registry.Call(callCtx, call.Function.Name, call.Function.Arguments)
		cancelCall()

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn().
				Str("node", nodeName).
				Str("tool", call.Function.Name).
				Err(err).
				Msg("Tool dispatch failed")
			payload, merr := json.Marshal(map[string]string{"error": err.Error()})
			if merr != nil {
				payload = []byte(`{"error": "tool call failed"}`)
			}
			out = string(payload)
		}

		results = append(results, llm.ToolResultMessage(call.ID, call.Function.Name, out))
	}
	return results, nil
}

func pendingToolCalls(messages []llm.Message) []llm.ToolCall {
	var calls []llm.ToolCall
	for _, m := range messages {
		if m.Role == llm.RoleAssistant && m.HasToolCalls() {
			calls = append(calls, m.ToolCalls...)
		}
	}
	return calls
}
