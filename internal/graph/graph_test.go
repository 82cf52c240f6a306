package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketmind-ai/marketmind/internal/session"
)

type fakeNode struct {
	name string
	run  func(ctx context.Context, state *session.AgentState) (*session.Patch, error)
}

func (n *fakeNode) Name() string { return n.name }

func (n *fakeNode) Run(ctx context.Context, state *session.AgentState) (*session.Patch, error) {
	if n.run == nil {
		return &session.Patch{}, nil
	}
	return n.run(ctx, state)
}

func node(name string) *fakeNode { return &fakeNode{name: name} }

func testNodeSet() NodeSet {
	return NodeSet{
		Probe:     node(HealthCheckName),
		Macro:     node("macro"),
		Policy:    node("policy"),
		Sector:    node("sector"),
		Technical: node("technical"),
		IntlNews:  node("intl_news"),
		Strategy:  node("strategy"),
	}
}

func TestAddRejectsUnregisteredDependency(t *testing.T) {
	g := New()
	require.NoError(t, g.Add(node("a")))

	err := g.Add(node("b"), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered")
}

func TestAddRejectsDuplicateNode(t *testing.T) {
	g := New()
	require.NoError(t, g.Add(node("a")))

	err := g.Add(node("a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestPlanStandardDepth(t *testing.T) {
	g, err := Plan(session.DepthStandard, testNodeSet())
	require.NoError(t, err)

	assert.Equal(t, 7, g.Len())
	assert.Empty(t, g.Deps(HealthCheckName))
	assert.Equal(t, []string{HealthCheckName}, g.Deps("macro"))
	assert.Equal(t, []string{HealthCheckName}, g.Deps("policy"))
	assert.Equal(t, []string{HealthCheckName}, g.Deps("technical"))
	assert.Equal(t, []string{HealthCheckName}, g.Deps("intl_news"))
	assert.Equal(t, []string{"policy"}, g.Deps("sector"))
	assert.ElementsMatch(t,
		[]string{"macro", "policy", "sector", "technical", "intl_news"},
		g.Deps("strategy"))
}

func TestPlanQuickDepthSkipsTechnicalAndIntlNews(t *testing.T) {
	g, err := Plan(session.DepthQuick, testNodeSet())
	require.NoError(t, err)

	assert.Equal(t, 5, g.Len())
	assert.NotContains(t, g.Names(), "technical")
	assert.NotContains(t, g.Names(), "intl_news")
	assert.ElementsMatch(t, []string{"macro", "policy", "sector"}, g.Deps("strategy"),
		"strategy edges leave with the skipped nodes")
}

func TestHealthCheckPatchesSourceStatus(t *testing.T) {
	verdict := map[string]session.SourceStatus{
		"macro": {Available: true, SourceOfTruth: "api"},
		"news":  {Available: false, Error: "connection refused"},
	}
	hc := NewHealthCheck(proberFunc(func(context.Context, string) map[string]session.SourceStatus {
		return verdict
	}))

	state := session.New(session.Request{Symbol: "000300.SH"})
	patch, err := hc.Run(context.Background(), state)
	require.NoError(t, err)

	require.NoError(t, state.Apply(*patch))
	assert.Equal(t, verdict, state.DataSourceStatus)
}

type proberFunc func(ctx context.Context, symbol string) map[string]session.SourceStatus

func (f proberFunc) Run(ctx context.Context, symbol string) map[string]session.SourceStatus {
	return f(ctx, symbol)
}
