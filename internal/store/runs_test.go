package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketmind-ai/marketmind/internal/artifact"
)

var runTestColumns = []string{
	"run_id", "symbol", "market_type", "session_kind", "trade_date", "research_depth",
	"final_position", "market_outlook", "confidence", "degraded",
	"breakdown", "artifacts", "source_status", "duration_ms", "created_at",
}

func fixtureRun() *Run {
	return &Run{
		RunID:         uuid.New(),
		Symbol:        "000300.SH",
		MarketType:    "a_share",
		SessionKind:   "morning",
		TradeDate:     "2026-02-16",
		ResearchDepth: "standard",
		FinalPosition: 0.62,
		MarketOutlook: artifact.OutlookBullish,
		Confidence:    0.8,
		Degraded:      false,
		Breakdown:     json.RawMessage(`{"core_holding": 0.4, "tactical_allocation": 0.12, "cash_reserve": 0.48}`),
		Artifacts:     json.RawMessage(`{"macro": "{}"}`),
		SourceStatus:  json.RawMessage(`{"macro": {"available": true}}`),
		DurationMs:    1500,
		CreatedAt:     time.Now().UTC(),
	}
}

func rowFor(run *Run) *pgxmock.Rows {
	return pgxmock.NewRows(runTestColumns).AddRow(
		run.RunID, run.Symbol, run.MarketType, run.SessionKind, run.TradeDate, run.ResearchDepth,
		run.FinalPosition, run.MarketOutlook, run.Confidence, run.Degraded,
		run.Breakdown, run.Artifacts, run.SourceStatus, run.DurationMs, run.CreatedAt,
	)
}

func TestInsertRun(t *testing.T) {
	st, mock := newMockStore(t)
	run := fixtureRun()

	mock.ExpectExec("INSERT INTO analysis_runs").
		WithArgs(
			run.RunID, run.Symbol, run.MarketType, run.SessionKind, run.TradeDate, run.ResearchDepth,
			run.FinalPosition, run.MarketOutlook, run.Confidence, run.Degraded,
			run.Breakdown, run.Artifacts, run.SourceStatus, run.DurationMs, run.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.InsertRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRunWrapsError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO analysis_runs").
		WillReturnError(errors.New("connection refused"))

	err := st.InsertRun(context.Background(), fixtureRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert analysis run")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	st, mock := newMockStore(t)
	run := fixtureRun()

	mock.ExpectQuery("WHERE run_id").
		WithArgs(run.RunID).
		WillReturnRows(rowFor(run))

	got, err := st.GetRun(context.Background(), run.RunID)
	require.NoError(t, err)

	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, run.Symbol, got.Symbol)
	assert.Equal(t, run.FinalPosition, got.FinalPosition)
	assert.Equal(t, run.MarketOutlook, got.MarketOutlook)
	assert.JSONEq(t, string(run.Breakdown), string(got.Breakdown))
	assert.Equal(t, run.DurationMs, got.DurationMs)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("WHERE run_id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	got, err := st.GetRun(context.Background(), id)
	assert.Nil(t, got)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns(t *testing.T) {
	st, mock := newMockStore(t)
	first := fixtureRun()
	second := fixtureRun()
	second.SessionKind = "closing"

	rows := pgxmock.NewRows(runTestColumns).
		AddRow(
			first.RunID, first.Symbol, first.MarketType, first.SessionKind, first.TradeDate, first.ResearchDepth,
			first.FinalPosition, first.MarketOutlook, first.Confidence, first.Degraded,
			first.Breakdown, first.Artifacts, first.SourceStatus, first.DurationMs, first.CreatedAt,
		).
		AddRow(
			second.RunID, second.Symbol, second.MarketType, second.SessionKind, second.TradeDate, second.ResearchDepth,
			second.FinalPosition, second.MarketOutlook, second.Confidence, second.Degraded,
			second.Breakdown, second.Artifacts, second.SourceStatus, second.DurationMs, second.CreatedAt,
		)

	mock.ExpectQuery("FROM analysis_runs").
		WithArgs("000300.SH", 50).
		WillReturnRows(rows)

	runs, err := st.ListRuns(context.Background(), RunFilter{Symbol: "000300.SH", Limit: 50})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, first.RunID, runs[0].RunID)
	assert.Equal(t, second.RunID, runs[1].RunID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsLimits(t *testing.T) {
	tests := []struct {
		name     string
		filter   RunFilter
		wantArgs []interface{}
	}{
		{
			name:     "default limit",
			filter:   RunFilter{},
			wantArgs: []interface{}{20},
		},
		{
			name:     "capped limit",
			filter:   RunFilter{Limit: 1000},
			wantArgs: []interface{}{100},
		},
		{
			name:     "symbol and session",
			filter:   RunFilter{Symbol: "600519.SH", SessionKind: "closing", Limit: 5},
			wantArgs: []interface{}{"600519.SH", "closing", 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, mock := newMockStore(t)

			mock.ExpectQuery("FROM analysis_runs").
				WithArgs(tt.wantArgs...).
				WillReturnRows(pgxmock.NewRows(runTestColumns))

			runs, err := st.ListRuns(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Empty(t, runs)

			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetRunStats(t *testing.T) {
	st, mock := newMockStore(t)
	since := time.Now().Add(-24 * time.Hour)

	rows := pgxmock.NewRows([]string{"total_runs", "degraded_runs", "avg_final_position", "avg_confidence"}).
		AddRow(int64(12), int64(3), 0.61, 0.74)

	mock.ExpectQuery("WHERE created_at >=").
		WithArgs(since).
		WillReturnRows(rows)

	stats, err := st.GetRunStats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.TotalRuns)
	assert.Equal(t, int64(3), stats.DegradedRuns)
	assert.Equal(t, 0.61, stats.AvgFinalPosition)
	assert.Equal(t, 0.74, stats.AvgConfidence)

	require.NoError(t, mock.ExpectationsWereMet())
}
