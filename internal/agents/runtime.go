// Package agents implements the analyst nodes of the analysis graph. Every
// analyst shares one runtime that enforces the node invariants: idempotent
// re-entry on a populated slot, a per-node tool budget, exactly one assistant
// message per invocation, and artifact extraction that never loses raw model
// output. The scheduler owns tool dispatch; a node only emits directives.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/artifact"
	"github.com/marketmind-ai/marketmind/internal/llm"
	"github.com/marketmind-ai/marketmind/internal/metrics"
	"github.com/marketmind-ai/marketmind/internal/session"
	"github.com/marketmind-ai/marketmind/internal/tools"
)

// Tool budgets per research depth. The counter increments once per
// invocation that emits tool-call directives, not per individual call.
const (
	quickToolRounds    = 3
	standardToolRounds = 4
	deepToolRounds     = 5
)

// fallbackConfidence marks fallback artifacts so downstream logic
// deprioritizes them. Must stay at or below 0.3.
const fallbackConfidence = 0.2

// MaxToolRounds returns the tool-round budget for a research depth.
func MaxToolRounds(depth session.ResearchDepth) int {
	switch depth {
	case session.DepthQuick:
		return quickToolRounds
	case session.DepthDeep:
		return deepToolRounds
	default:
		return standardToolRounds
	}
}

// Config carries the capabilities every analyst shares.
type Config struct {
	Model    llm.ChatModel
	Registry *tools.Registry

	// LenientJSON opts artifact extraction into a json-repair pass after
	// strict parsing fails. Strict extraction is the default contract.
	LenientJSON bool
}

// Analyst is one LLM-backed node. The constructors in analysts.go fill the
// per-analyst fields; Run is the shared runtime.
type Analyst struct {
	kind artifact.Kind
	cfg  Config

	system       string
	buildUser    func(state *session.AgentState) string
	toolNames    []string
	requiredTool string
	fallback     func(reason string) interface{}
	sanitize     func(raw string) string

	log zerolog.Logger
}

// Kind returns the artifact kind this analyst owns.
func (a *Analyst) Kind() artifact.Kind { return a.kind }

// Name returns the analyst's graph node name.
func (a *Analyst) Name() string { return string(a.kind) }

// Run executes one node invocation against a state clone and returns the
// patch for the scheduler to apply. A populated slot returns immediately:
// no model call, no new messages. When the model emits tool-call directives
// within budget, the patch carries them for the scheduler to dispatch;
// otherwise the runtime extracts the JSON artifact from the reply, falling
// back to preserving the raw content verbatim when extraction fails.
func (a *Analyst) Run(ctx context.Context, state *session.AgentState) (*session.Patch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if state.SlotPopulated(a.kind) {
		a.log.Debug().Str("run_id", state.RunID.String()).Msg("Slot already populated, skipping invocation")
		return &session.Patch{Kind: a.kind}, nil
	}

	metrics.AnalystInvocations.WithLabelValues(string(a.kind)).Inc()

	if a.requiredTool != "" {
		if _, ok := a.cfg.Registry.Get(a.requiredTool); !ok {
			a.log.Warn().Str("tool", a.requiredTool).Msg("Required tool not registered, emitting fallback artifact")
			return a.fallbackPatch(fmt.Sprintf("required data source %s unavailable", a.requiredTool))
		}
	}

	budget := MaxToolRounds(state.Request.ResearchDepth)
	rounds := state.ToolRounds[a.kind]

	// Past the budget the model gets one last chance to conclude from the
	// tool results it already has, so no tools are advertised.
	var decls []llm.Tool
	if rounds < budget {
		decls = a.declarations()
	}

	reply, err := a.cfg.Model.Invoke(ctx, a.conversation(state), decls)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.log.Warn().Err(err).Msg("Model invocation failed, emitting fallback artifact")
		return a.fallbackPatch("model invocation failed")
	}
	if reply == nil {
		return a.fallbackPatch("model returned no reply")
	}

	msg := *reply
	msg.Role = llm.RoleAssistant
	msg.Name = string(a.kind)

	if msg.HasToolCalls() {
		if rounds >= budget {
			a.log.Warn().Int("rounds", rounds).Int("budget", budget).
				Msg("Tool budget exhausted, emitting fallback artifact")
			return a.fallbackPatch("tool budget exhausted")
		}
		return &session.Patch{Kind: a.kind, Messages: []llm.Message{msg}, ToolRounds: 1}, nil
	}

	if strings.TrimSpace(msg.Content) == "" {
		return a.fallbackPatch("model returned empty content")
	}

	raw, err := a.extract(msg.Content)
	if err != nil {
		metrics.ArtifactParseFailures.WithLabelValues(string(a.kind)).Inc()
		a.log.Warn().Err(err).Int("content_bytes", len(msg.Content)).
			Msg("Artifact extraction failed, preserving raw content")
		return &session.Patch{Kind: a.kind, Report: msg.Content, Messages: []llm.Message{msg}, ParseFailures: 1}, nil
	}
	if a.sanitize != nil {
		raw = a.sanitize(raw)
	}

	a.log.Info().Str("run_id", state.RunID.String()).Int("artifact_bytes", len(raw)).Msg("Artifact extracted")
	return &session.Patch{Kind: a.kind, Report: raw, Messages: []llm.Message{msg}}, nil
}

// conversation rebuilds this analyst's thread from the shared message log:
// the system and task prompts, then its own assistant messages and the tool
// results answering its calls. Other analysts' messages are invisible to it.
func (a *Analyst) conversation(state *session.AgentState) []llm.Message {
	msgs := []llm.Message{
		llm.SystemMessage(a.system),
		llm.UserMessage(a.buildUser(state)),
	}

	own := make(map[string]bool)
	for _, m := range state.Messages {
		switch {
		case m.Role == llm.RoleAssistant && m.Name == string(a.kind):
			msgs = append(msgs, m)
			for _, call := range m.ToolCalls {
				own[call.ID] = true
			}
		case m.Role == llm.RoleTool && own[m.ToolCallID]:
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// declarations maps the analyst's tool names through the registry so the
// model sees current descriptions and parameter schemas.
func (a *Analyst) declarations() []llm.Tool {
	decls := make([]llm.Tool, 0, len(a.toolNames))
	for _, name := range a.toolNames {
		def, ok := a.cfg.Registry.Get(name)
		if !ok {
			a.log.Warn().Str("tool", name).Msg("Tool not registered, not advertising it")
			continue
		}
		decls = append(decls, llm.NewTool(def.Name, def.Description, def.Parameters))
	}
	return decls
}

func (a *Analyst) extract(content string) (string, error) {
	if a.cfg.LenientJSON {
		return llm.ExtractObjectLenient(content)
	}
	return llm.ExtractObject(content)
}

// fallbackPatch emits the analyst's neutral low-confidence artifact. The
// artifact is appended as the invocation's single assistant message so the
// log stays replayable.
func (a *Analyst) fallbackPatch(reason string) (*session.Patch, error) {
	metrics.AnalystFallbacks.WithLabelValues(string(a.kind), metrics.NormalizeFallbackReason(reason)).Inc()

	raw, err := json.Marshal(a.fallback(reason))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s fallback artifact: %w", a.kind, err)
	}

	msg := llm.AssistantMessage(string(raw))
	msg.Name = string(a.kind)
	return &session.Patch{Kind: a.kind, Report: string(raw), Messages: []llm.Message{msg}}, nil
}

// degradedSummary is the marker downstream consumers and dashboards grep
// for; keep the prefix stable.
func degradedSummary(what, reason string) string {
	return fmt.Sprintf("[degraded] %s analysis unavailable (%s); holding a neutral view", what, reason)
}

func componentLogger(kind artifact.Kind) zerolog.Logger {
	return log.With().Str("component", "analyst").Str("analyst", string(kind)).Logger()
}
