package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketmind-ai/marketmind/internal/alerts"
	"github.com/marketmind-ai/marketmind/internal/artifact"
	"github.com/marketmind-ai/marketmind/internal/events"
	"github.com/marketmind-ai/marketmind/internal/llm"
	"github.com/marketmind-ai/marketmind/internal/probe"
	"github.com/marketmind-ai/marketmind/internal/session"
	"github.com/marketmind-ai/marketmind/internal/store"
	"github.com/marketmind-ai/marketmind/internal/tools"
	"github.com/marketmind-ai/marketmind/internal/validation"
)

// routingModel answers each analyst with a canned artifact selected by its
// system prompt. Prompts it does not recognize, the rationale pass included,
// get an error so the deterministic rationale survives.
type routingModel struct {
	mu      sync.Mutex
	prompts []string
}

func (m *routingModel) Invoke(_ context.Context, messages []llm.Message, _ []llm.Tool) (*llm.Message, error) {
	if len(messages) == 0 {
		return nil, errors.New("empty conversation")
	}
	system := messages[0].Content

	m.mu.Lock()
	m.prompts = append(m.prompts, system)
	m.mu.Unlock()

	var payload interface{}
	switch {
	case strings.Contains(system, "macroeconomic analyst"):
		payload = artifact.MacroAnalysis{
			AnalysisSummary: "recovery with loose liquidity",
			Confidence:      0.8,
			EconomicCycle:   artifact.CycleRecovery,
			Liquidity:       artifact.LiquidityLoose,
			SentimentScore:  0.6,
		}
	case strings.Contains(system, "policy research analyst"):
		payload = artifact.PolicyAnalysis{
			AnalysisSummary:        "broad fiscal and monetary support",
			Confidence:             0.9,
			OverallSupportStrength: artifact.StrengthStrong,
		}
	case strings.Contains(system, "sector rotation analyst"):
		payload = artifact.SectorAnalysis{
			AnalysisSummary: "tech-led rotation",
			Confidence:      0.8,
			SentimentScore:  0.5,
		}
	case strings.Contains(system, "global markets analyst"):
		payload = artifact.IntlNewsAnalysis{
			AnalysisSummary: "supportive global backdrop",
			Confidence:      0.8,
			ImpactStrength:  artifact.ImpactMedium,
			ImpactDuration:  artifact.DurationMedium,
		}
	case strings.Contains(system, "technical analyst"):
		payload = artifact.TechnicalAnalysis{
			AnalysisSummary: "trend intact above key supports",
			Confidence:      0.7,
			TrendSignal:     artifact.TrendBullish,
		}
	default:
		return nil, errors.New("no canned reply for this prompt")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	reply := llm.AssistantMessage(string(raw))
	return &reply, nil
}

func (m *routingModel) invocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// proseModel answers every prompt with unstructured text, so artifact
// extraction fails everywhere and the decision degrades.
type proseModel struct{}

func (proseModel) Invoke(context.Context, []llm.Message, []llm.Tool) (*llm.Message, error) {
	reply := llm.AssistantMessage("no comment")
	return &reply, nil
}

type proberFunc func(ctx context.Context, symbol string) map[string]session.SourceStatus

func (f proberFunc) Run(ctx context.Context, symbol string) map[string]session.SourceStatus {
	return f(ctx, symbol)
}

func healthyProber() proberFunc {
	return func(context.Context, string) map[string]session.SourceStatus {
		statuses := make(map[string]session.SourceStatus, len(probe.Sources()))
		for _, source := range probe.Sources() {
			statuses[source] = session.SourceStatus{Available: true, SourceOfTruth: "api"}
		}
		return statuses
	}
}

func fullRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	for _, name := range []string{
		tools.FetchMacroData,
		tools.FetchPolicyNews,
		tools.FetchSectorRotation,
		tools.FetchIndexConstituents,
		tools.FetchSectorNews,
		tools.FetchStockSectorInfo,
		tools.FetchMultiSourceNews,
		tools.FetchTechnicalIndicators,
	} {
		require.NoError(t, reg.Register(tools.Definition{
			Name:        name,
			Description: "canned data",
			Handler:     func(context.Context, string) (string, error) { return "{}", nil },
		}))
	}
	return reg
}

type recordingAlerter struct {
	mu   sync.Mutex
	sent []alerts.Alert
}

func (r *recordingAlerter) Send(_ context.Context, alert alerts.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, alert)
	return nil
}

func (r *recordingAlerter) alerts() []alerts.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerts.Alert(nil), r.sent...)
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	base := func() Deps {
		return Deps{Model: &routingModel{}, Registry: fullRegistry(t), Prober: healthyProber()}
	}

	tests := []struct {
		name    string
		mutate  func(*Deps)
		wantErr string
	}{
		{"no model", func(d *Deps) { d.Model = nil }, "chat model"},
		{"no registry", func(d *Deps) { d.Registry = nil }, "tool registry"},
		{"no prober", func(d *Deps) { d.Prober = nil }, "source prober"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := base()
			tt.mutate(&deps)
			_, err := NewEngine(Config{}, deps)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	eng, err := NewEngine(Config{}, base())
	require.NoError(t, err)
	assert.NotNil(t, eng)
}

func TestAnalyzeFullRun(t *testing.T) {
	model := &routingModel{}
	eng, err := NewEngine(Config{}, Deps{Model: model, Registry: fullRegistry(t), Prober: healthyProber()})
	require.NoError(t, err)

	res, err := eng.Analyze(context.Background(), session.Request{
		Symbol:      "000300.SH",
		SessionKind: session.Morning,
		TradeDate:   "2026-02-16",
	})
	require.NoError(t, err)
	require.NotNil(t, res.State)
	require.NotNil(t, res.Run)

	for _, kind := range artifact.AllKinds {
		assert.True(t, res.State.SlotPopulated(kind), "slot %s", kind)
	}
	assert.Equal(t, 6, model.invocations(), "five analysts plus the rationale pass")

	run := res.Run
	assert.Equal(t, res.State.RunID, run.RunID)
	assert.Equal(t, "000300.SH", run.Symbol)
	assert.Equal(t, string(session.MarketAShare), run.MarketType, "market type defaulted")
	assert.Equal(t, string(session.Morning), run.SessionKind)
	assert.Equal(t, "2026-02-16", run.TradeDate)
	assert.Equal(t, string(session.DepthStandard), run.ResearchDepth, "depth defaulted")
	assert.InDelta(t, 0.832, run.FinalPosition, 1e-9)
	assert.Equal(t, artifact.OutlookBullish, run.MarketOutlook)
	assert.InDelta(t, 0.84, run.Confidence, 1e-9)
	assert.False(t, run.Degraded)

	for _, source := range probe.Sources() {
		assert.True(t, res.State.DataSourceStatus[source].Available, "source %s", source)
	}
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestAnalyzeQuickDepthSkipsSecondaryAnalysts(t *testing.T) {
	eng, err := NewEngine(Config{}, Deps{Model: &routingModel{}, Registry: fullRegistry(t), Prober: healthyProber()})
	require.NoError(t, err)

	res, err := eng.Analyze(context.Background(), session.Request{
		Symbol:        "000300.SH",
		ResearchDepth: session.DepthQuick,
		TradeDate:     "2026-02-16",
	})
	require.NoError(t, err)

	assert.False(t, res.State.SlotPopulated(artifact.KindTechnical))
	assert.False(t, res.State.SlotPopulated(artifact.KindIntlNews))
	assert.True(t, res.State.SlotPopulated(artifact.KindMacro))
	assert.True(t, res.State.SlotPopulated(artifact.KindStrategy))

	// base = 0.4*1.0*0.9 + 0.3*0.75*0.8 = 0.54, macro +0.048, no overlay post
	run := res.Run
	assert.InDelta(t, 0.588, run.FinalPosition, 1e-9)
	assert.Equal(t, artifact.OutlookNeutral, run.MarketOutlook)
	assert.InDelta(t, 0.6, run.Confidence, 1e-9)
	assert.False(t, run.Degraded, "three primary analysts are plenty")
}

func TestAnalyzeDegradedRunAlerts(t *testing.T) {
	rec := &recordingAlerter{}
	eng, err := NewEngine(Config{}, Deps{
		Model:    proseModel{},
		Registry: fullRegistry(t),
		Prober:   healthyProber(),
		Alerts:   alerts.NewManager(rec),
	})
	require.NoError(t, err)

	res, err := eng.Analyze(context.Background(), session.Request{
		Symbol:    "000300.SH",
		TradeDate: "2026-02-16",
	})
	require.NoError(t, err, "unparseable analyst output degrades, it does not fail")

	run := res.Run
	assert.True(t, run.Degraded)
	assert.InDelta(t, 0.5, run.FinalPosition, 1e-9)
	assert.InDelta(t, 0.3, run.Confidence, 1e-9)
	assert.Equal(t, artifact.OutlookNeutral, run.MarketOutlook)

	assert.Equal(t, "no comment", res.State.MacroReport, "raw model output preserved")
	assert.Equal(t, 1, res.State.ParseFailures[artifact.KindMacro])

	sent := rec.alerts()
	require.Len(t, sent, 1)
	assert.Equal(t, "Degraded analysis run", sent[0].Title)
	assert.Equal(t, alerts.SeverityWarning, sent[0].Severity)
	assert.Contains(t, sent[0].Message, "000300.SH")
}

func TestAnalyzePersistsRun(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO analysis_runs").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	eng, err := NewEngine(Config{}, Deps{
		Model:    &routingModel{},
		Registry: fullRegistry(t),
		Prober:   healthyProber(),
		Store:    store.New(mock),
	})
	require.NoError(t, err)

	res, err := eng.Analyze(context.Background(), session.Request{
		Symbol:    "000300.SH",
		TradeDate: "2026-02-16",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalyzeStoreFailureKeepsVerdict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO analysis_runs").
		WillReturnError(errors.New("connection refused"))

	rec := &recordingAlerter{}
	eng, err := NewEngine(Config{}, Deps{
		Model:    &routingModel{},
		Registry: fullRegistry(t),
		Prober:   healthyProber(),
		Store:    store.New(mock),
		Alerts:   alerts.NewManager(rec),
	})
	require.NoError(t, err)

	res, err := eng.Analyze(context.Background(), session.Request{
		Symbol:    "000300.SH",
		TradeDate: "2026-02-16",
	})
	require.NoError(t, err, "a dead decision log must not fail the run")
	require.NotNil(t, res.Run)

	sent := rec.alerts()
	require.Len(t, sent, 1)
	assert.Equal(t, alerts.SeverityCritical, sent[0].Severity)
	assert.Equal(t, "Decision log write failed", sent[0].Title)
}

func TestAnalyzePublishesCompletionEvent(t *testing.T) {
	ns := startEmbeddedNATS(t)
	sub := subscribeSync(t, ns.ClientURL(), "marketmind.analysis.completed")

	pub, err := events.Connect(events.Config{URL: ns.ClientURL()})
	require.NoError(t, err)
	defer pub.Close()

	eng, err := NewEngine(Config{}, Deps{
		Model:    &routingModel{},
		Registry: fullRegistry(t),
		Prober:   healthyProber(),
		Events:   pub,
	})
	require.NoError(t, err)

	res, err := eng.Analyze(context.Background(), session.Request{
		Symbol:    "000300.SH",
		TradeDate: "2026-02-16",
	})
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var envelope events.Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &envelope))
	assert.Equal(t, events.SubjectAnalysisCompleted, envelope.Type)

	var got events.AnalysisCompleted
	require.NoError(t, json.Unmarshal(envelope.Payload, &got))
	assert.Equal(t, res.Run.RunID, got.RunID)
	assert.Equal(t, "000300.SH", got.Symbol)
	assert.InDelta(t, res.Run.FinalPosition, got.FinalPosition, 1e-9)
	assert.False(t, got.Degraded)
}

func TestAnalyzeRejectsInvalidRequest(t *testing.T) {
	model := &routingModel{}
	eng, err := NewEngine(Config{}, Deps{Model: model, Registry: fullRegistry(t), Prober: healthyProber()})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  session.Request
	}{
		{"missing symbol", session.Request{}},
		{"unknown market", session.Request{Symbol: "000300.SH", MarketType: "nasdaq"}},
		{"symbol wrong for market", session.Request{Symbol: "AAPL", MarketType: session.MarketAShare}},
		{"bad trade date", session.Request{Symbol: "000300.SH", TradeDate: "Feb 16"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Analyze(context.Background(), tt.req)
			require.Error(t, err)

			var verrs validation.ValidationErrors
			assert.ErrorAs(t, err, &verrs)
		})
	}

	assert.Zero(t, model.invocations(), "invalid requests must not reach the model")
}

func startEmbeddedNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()

	if !ns.ReadyForConnections(4 * time.Second) {
		t.Fatal("NATS server did not start in time")
	}
	t.Cleanup(ns.Shutdown)

	return ns
}

func subscribeSync(t *testing.T, url, subject string) *nats.Subscription {
	t.Helper()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	sub, err := nc.SubscribeSync(subject)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
	return sub
}
