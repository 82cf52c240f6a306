package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketmind-ai/marketmind/internal/orchestrator"
	"github.com/marketmind-ai/marketmind/internal/session"
	"github.com/marketmind-ai/marketmind/internal/snapshot"
	"github.com/marketmind-ai/marketmind/internal/store"
)

type fakeAnalyzer struct {
	mu   sync.Mutex
	reqs []session.Request
	fail map[string]error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req session.Request) (*orchestrator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if err := f.fail[req.Symbol]; err != nil {
		return nil, err
	}
	return &orchestrator.Result{Run: &store.Run{
		Symbol:        req.Symbol,
		FinalPosition: 0.5,
		MarketOutlook: "neutral",
	}}, nil
}

func (f *fakeAnalyzer) requests() []session.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Request(nil), f.reqs...)
}

type fakeRefresher struct {
	mu          sync.Mutex
	invalidated []session.Kind
	built       []session.Kind
	scanned     [][]string
	buildErr    error
}

func (f *fakeRefresher) Build(_ context.Context, kind session.Kind) (snapshot.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built = append(f.built, kind)
	if f.buildErr != nil {
		return snapshot.Snapshot{}, f.buildErr
	}
	return snapshot.Snapshot{Kind: kind}, nil
}

func (f *fakeRefresher) Invalidate(kind session.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, kind)
}

func (f *fakeRefresher) ScanAnomalies(_ context.Context, symbols []string) ([]snapshot.AnomalyEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanned = append(f.scanned, append([]string(nil), symbols...))
	return nil, nil
}

func watchlistConfig() Config {
	return Config{Watchlist: []string{"000300.SH", "000905.SH"}}
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		engine  Analyzer
		wantErr string
	}{
		{
			name:    "missing analyzer",
			cfg:     watchlistConfig(),
			wantErr: "requires an analyzer",
		},
		{
			name:    "empty watchlist",
			cfg:     Config{},
			engine:  &fakeAnalyzer{},
			wantErr: "requires a watchlist",
		},
		{
			name: "unknown timezone",
			cfg: Config{
				Watchlist: []string{"000300.SH"},
				Timezone:  "Mars/Olympus",
			},
			engine:  &fakeAnalyzer{},
			wantErr: "unknown timezone",
		},
		{
			name: "bad crontab",
			cfg: Config{
				Watchlist:   []string{"000300.SH"},
				MorningSpec: "every morning please",
			},
			engine:  &fakeAnalyzer{},
			wantErr: "invalid crontab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg, tt.engine, nil)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewRegistersJobs(t *testing.T) {
	s, err := New(watchlistConfig(), &fakeAnalyzer{}, &fakeRefresher{})
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 3)
	assert.Equal(t, DefaultTimezone, s.loc.String())
	assert.Equal(t, session.DepthStandard, s.depth)
}

func TestNewSkipsRefreshWithoutRefresher(t *testing.T) {
	s, err := New(watchlistConfig(), &fakeAnalyzer{}, nil)
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 2)
}

func TestRunWatchlistAnalyzesEverySymbol(t *testing.T) {
	engine := &fakeAnalyzer{}
	cfg := Config{
		Watchlist: []string{"000300.SH", "000905.SH", "399006.SZ"},
		Depth:     session.DepthQuick,
	}
	s, err := New(cfg, engine, nil)
	require.NoError(t, err)

	s.RunWatchlist(context.Background(), session.Morning)

	reqs := engine.requests()
	require.Len(t, reqs, 3)
	for i, symbol := range cfg.Watchlist {
		assert.Equal(t, symbol, reqs[i].Symbol)
		assert.Equal(t, session.Morning, reqs[i].SessionKind)
		assert.Equal(t, session.DepthQuick, reqs[i].ResearchDepth)
	}
}

func TestRunWatchlistContinuesPastFailures(t *testing.T) {
	engine := &fakeAnalyzer{fail: map[string]error{
		"000905.SH": errors.New("scheduler deadlock"),
	}}
	cfg := Config{Watchlist: []string{"000300.SH", "000905.SH", "399006.SZ"}}
	s, err := New(cfg, engine, nil)
	require.NoError(t, err)

	s.RunWatchlist(context.Background(), session.Closing)

	require.Len(t, engine.requests(), 3)
}

func TestRunWatchlistHonorsCancellation(t *testing.T) {
	engine := &fakeAnalyzer{}
	s, err := New(watchlistConfig(), engine, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.RunWatchlist(ctx, session.Morning)

	assert.Empty(t, engine.requests())
}

func TestRefreshTracksSession(t *testing.T) {
	tests := []struct {
		name string
		hour int
		want session.Kind
	}{
		{name: "mid morning", hour: 10, want: session.Morning},
		{name: "after lunch", hour: 14, want: session.Closing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refresher := &fakeRefresher{}
			s, err := New(watchlistConfig(), &fakeAnalyzer{}, refresher)
			require.NoError(t, err)
			s.now = func() time.Time {
				return time.Date(2026, 2, 16, tt.hour, 0, 0, 0, s.loc)
			}

			s.Refresh(context.Background())

			assert.Equal(t, []session.Kind{tt.want}, refresher.invalidated)
			assert.Equal(t, []session.Kind{tt.want}, refresher.built)
			require.Len(t, refresher.scanned, 1)
			assert.Equal(t, []string{"000300.SH", "000905.SH"}, refresher.scanned[0])
		})
	}
}

func TestRefreshSweepsDespiteBuildFailure(t *testing.T) {
	refresher := &fakeRefresher{buildErr: errors.New("every input failed")}
	s, err := New(watchlistConfig(), &fakeAnalyzer{}, refresher)
	require.NoError(t, err)

	s.Refresh(context.Background())

	assert.Len(t, refresher.scanned, 1)
}

func TestStartStop(t *testing.T) {
	s, err := New(watchlistConfig(), &fakeAnalyzer{}, &fakeRefresher{})
	require.NoError(t, err)

	s.Start()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
