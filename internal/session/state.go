// Package session defines the state record that flows through the analysis
// graph. The record is logically copy-on-write: every node receives its own
// clone, returns a Patch for the slot it owns, and the scheduler applies
// patches sequentially, so no two goroutines ever share a mutable state.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marketmind-ai/marketmind/internal/artifact"
	"github.com/marketmind-ai/marketmind/internal/llm"
)

// Kind distinguishes the trading-day contexts an analysis can run in.
type Kind string

const (
	Morning Kind = "morning"
	Closing Kind = "closing"
	Post    Kind = "post"
)

// Valid reports whether k is a recognized session kind.
func (k Kind) Valid() bool {
	switch k {
	case Morning, Closing, Post:
		return true
	}
	return false
}

// MarketType identifies the exchange family a symbol belongs to.
type MarketType string

const (
	MarketAShare MarketType = "a_share"
	MarketHK     MarketType = "hk"
	MarketUS     MarketType = "us"
)

// Valid reports whether m is a recognized market type.
func (m MarketType) Valid() bool {
	switch m {
	case MarketAShare, MarketHK, MarketUS:
		return true
	}
	return false
}

// ResearchDepth controls how much tool budget the analysts receive.
type ResearchDepth string

const (
	DepthQuick    ResearchDepth = "quick"
	DepthStandard ResearchDepth = "standard"
	DepthDeep     ResearchDepth = "deep"
)

// Valid reports whether d is a recognized research depth.
func (d ResearchDepth) Valid() bool {
	switch d {
	case DepthQuick, DepthStandard, DepthDeep:
		return true
	}
	return false
}

// Request is the caller-supplied input that starts an analysis run.
type Request struct {
	Symbol        string        `json:"symbol"`
	MarketType    MarketType    `json:"market_type"`
	SessionKind   Kind          `json:"session_kind"`
	TradeDate     string        `json:"trade_date"`
	ResearchDepth ResearchDepth `json:"research_depth"`
}

// Normalize fills defaults for omitted request fields.
func (r *Request) Normalize() {
	if r.MarketType == "" {
		r.MarketType = MarketAShare
	}
	if r.SessionKind == "" {
		r.SessionKind = Post
	}
	if r.ResearchDepth == "" {
		r.ResearchDepth = DepthStandard
	}
	if r.TradeDate == "" {
		r.TradeDate = time.Now().Format("2006-01-02")
	}
}

// Validate checks the request against the recognized enums.
func (r *Request) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !r.MarketType.Valid() {
		return fmt.Errorf("unknown market type %q", r.MarketType)
	}
	if !r.SessionKind.Valid() {
		return fmt.Errorf("unknown session kind %q", r.SessionKind)
	}
	if !r.ResearchDepth.Valid() {
		return fmt.Errorf("unknown research depth %q", r.ResearchDepth)
	}
	return nil
}

// SourceStatus is the probe verdict for one data source.
type SourceStatus struct {
	Available     bool          `json:"available"`
	SourceOfTruth string        `json:"source_of_truth"` // "cache" or "api"
	Latency       time.Duration `json:"latency_ms"`
	Error         string        `json:"error,omitempty"`
}

// IndexInfo is the resolved identity of the analyzed symbol.
type IndexInfo struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// AgentState is the record flowing through the graph. Report slots hold the
// raw JSON emitted by each analyst; parse failures keep the raw content in
// the slot so nothing the model said is ever lost.
type AgentState struct {
	RunID   uuid.UUID `json:"run_id"`
	Request Request   `json:"request"`

	Messages []llm.Message `json:"messages"`

	MacroReport     string `json:"macro_report"`
	PolicyReport    string `json:"policy_report"`
	SectorReport    string `json:"sector_report"`
	TechnicalReport string `json:"technical_report"`
	IntlNewsReport  string `json:"intl_news_report"`
	StrategyReport  string `json:"strategy_report"`

	ToolRounds    map[artifact.Kind]int `json:"tool_rounds"`
	ParseFailures map[artifact.Kind]int `json:"parse_failures"`

	DataSourceStatus map[string]SourceStatus `json:"data_source_status"`
	IndexInfo        *IndexInfo              `json:"index_info,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Extra preserves keys this version does not recognize so states written
	// by newer components survive a round trip untouched.
	Extra map[string]json.RawMessage `json:"-"`
}

// New creates the initial state for a request. The request is normalized
// in place.
func New(req Request) *AgentState {
	req.Normalize()
	now := time.Now()
	return &AgentState{
		RunID:            uuid.New(),
		Request:          req,
		ToolRounds:       make(map[artifact.Kind]int),
		ParseFailures:    make(map[artifact.Kind]int),
		DataSourceStatus: make(map[string]SourceStatus),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Clone returns a deep copy. Nodes receive clones so concurrent readers
// never observe a write.
func (s *AgentState) Clone() *AgentState {
	c := *s

	c.Messages = make([]llm.Message, len(s.Messages))
	copy(c.Messages, s.Messages)

	c.ToolRounds = make(map[artifact.Kind]int, len(s.ToolRounds))
	for k, v := range s.ToolRounds {
		c.ToolRounds[k] = v
	}
	c.ParseFailures = make(map[artifact.Kind]int, len(s.ParseFailures))
	for k, v := range s.ParseFailures {
		c.ParseFailures[k] = v
	}
	c.DataSourceStatus = make(map[string]SourceStatus, len(s.DataSourceStatus))
	for k, v := range s.DataSourceStatus {
		c.DataSourceStatus[k] = v
	}
	if s.IndexInfo != nil {
		info := *s.IndexInfo
		c.IndexInfo = &info
	}
	if s.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// Report returns the raw slot content for an artifact kind.
func (s *AgentState) Report(kind artifact.Kind) string {
	switch kind {
	case artifact.KindMacro:
		return s.MacroReport
	case artifact.KindPolicy:
		return s.PolicyReport
	case artifact.KindSector:
		return s.SectorReport
	case artifact.KindTechnical:
		return s.TechnicalReport
	case artifact.KindIntlNews:
		return s.IntlNewsReport
	case artifact.KindStrategy:
		return s.StrategyReport
	}
	return ""
}

func (s *AgentState) setReport(kind artifact.Kind, raw string) {
	switch kind {
	case artifact.KindMacro:
		s.MacroReport = raw
	case artifact.KindPolicy:
		s.PolicyReport = raw
	case artifact.KindSector:
		s.SectorReport = raw
	case artifact.KindTechnical:
		s.TechnicalReport = raw
	case artifact.KindIntlNews:
		s.IntlNewsReport = raw
	case artifact.KindStrategy:
		s.StrategyReport = raw
	}
}

// SlotPopulated reports whether the slot already holds a well-formed value,
// which lets a re-entered node return without another model call.
func (s *AgentState) SlotPopulated(kind artifact.Kind) bool {
	return artifact.SlotPopulated(kind, s.Report(kind))
}

// PrimaryArtifactCount counts the populated primary slots feeding the
// strategy blend (macro, policy, sector).
func (s *AgentState) PrimaryArtifactCount() int {
	n := 0
	for _, kind := range []artifact.Kind{artifact.KindMacro, artifact.KindPolicy, artifact.KindSector} {
		if s.SlotPopulated(kind) {
			n++
		}
	}
	return n
}

// Patch is what a node hands back to the scheduler: writes limited to the
// node's own slot plus appended messages and counter increments.
type Patch struct {
	Kind artifact.Kind

	// Report, when non-empty, replaces the slot content.
	Report string

	// Messages are appended to the state's log in order.
	Messages []llm.Message

	// ToolRounds and ParseFailures are increments, not absolutes.
	ToolRounds    int
	ParseFailures int

	// SourceStatus entries are merged into the state's data source map.
	// Only the probe node sets this.
	SourceStatus map[string]SourceStatus
}

// Apply merges a node patch into the state. Only the patch's own slot is
// written; a patch can never clobber another analyst's artifact.
func (s *AgentState) Apply(p Patch) error {
	if p.Kind != "" && !p.Kind.Valid() {
		return fmt.Errorf("patch for unknown artifact kind %q", p.Kind)
	}

	s.Messages = append(s.Messages, p.Messages...)

	if p.Kind != "" {
		if p.Report != "" {
			s.setReport(p.Kind, p.Report)
		}
		if p.ToolRounds != 0 {
			s.ToolRounds[p.Kind] += p.ToolRounds
		}
		if p.ParseFailures != 0 {
			s.ParseFailures[p.Kind] += p.ParseFailures
		}
	}

	for source, status := range p.SourceStatus {
		if s.DataSourceStatus == nil {
			s.DataSourceStatus = make(map[string]SourceStatus, len(p.SourceStatus))
		}
		s.DataSourceStatus[source] = status
	}

	s.UpdatedAt = time.Now()
	return nil
}

// knownStateKeys mirrors the json tags on AgentState. Keys outside this set
// are carried through Extra.
var knownStateKeys = map[string]struct{}{
	"run_id": {}, "request": {}, "messages": {},
	"macro_report": {}, "policy_report": {}, "sector_report": {},
	"technical_report": {}, "intl_news_report": {}, "strategy_report": {},
	"tool_rounds": {}, "parse_failures": {},
	"data_source_status": {}, "index_info": {},
	"created_at": {}, "updated_at": {},
}

type stateAlias AgentState

// MarshalJSON emits the recognized fields plus any preserved unknown keys.
// Recognized fields win on collision.
func (s *AgentState) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal((*stateAlias)(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if _, known := knownStateKeys[k]; known {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON fills the recognized fields and stashes everything else in
// Extra so a round trip through an older build loses nothing.
func (s *AgentState) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*stateAlias)(s)); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if _, known := knownStateKeys[k]; known {
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}
