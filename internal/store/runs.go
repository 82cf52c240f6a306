package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/marketmind-ai/marketmind/internal/artifact"
	"github.com/marketmind-ai/marketmind/internal/metrics"
	"github.com/marketmind-ai/marketmind/internal/session"
)

// ErrNotFound is returned when a run id has no row.
var ErrNotFound = errors.New("run not found")

// Run is one row of the decision log.
type Run struct {
	RunID         uuid.UUID       `json:"run_id"`
	Symbol        string          `json:"symbol"`
	MarketType    string          `json:"market_type"`
	SessionKind   string          `json:"session_kind"`
	TradeDate     string          `json:"trade_date"`
	ResearchDepth string          `json:"research_depth"`
	FinalPosition float64         `json:"final_position"`
	MarketOutlook string          `json:"market_outlook"`
	Confidence    float64         `json:"confidence"`
	Degraded      bool            `json:"degraded"`
	Breakdown     json.RawMessage `json:"breakdown"`
	Artifacts     json.RawMessage `json:"artifacts"`
	SourceStatus  json.RawMessage `json:"source_status"`
	DurationMs    int64           `json:"duration_ms"`
	CreatedAt     time.Time       `json:"created_at"`
}

// FromState builds the log row for a finished run. The strategy slot must
// hold a parseable artifact; runs that never reached a verdict are not
// persisted.
func FromState(state *session.AgentState, duration time.Duration) (*Run, error) {
	var decided artifact.StrategyArtifact
	if err := json.Unmarshal([]byte(state.StrategyReport), &decided); err != nil {
		return nil, fmt.Errorf("run %s has no parseable strategy artifact: %w", state.RunID, err)
	}

	breakdown, err := json.Marshal(decided.PositionBreakdown)
	if err != nil {
		return nil, fmt.Errorf("failed to encode position breakdown: %w", err)
	}

	slots := make(map[string]string, len(artifact.AllKinds))
	for _, kind := range artifact.AllKinds {
		slots[string(kind)] = state.Report(kind)
	}
	artifacts, err := json.Marshal(slots)
	if err != nil {
		return nil, fmt.Errorf("failed to encode artifact slots: %w", err)
	}

	sourceStatus, err := json.Marshal(state.DataSourceStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to encode source status: %w", err)
	}

	return &Run{
		RunID:         state.RunID,
		Symbol:        state.Request.Symbol,
		MarketType:    string(state.Request.MarketType),
		SessionKind:   string(state.Request.SessionKind),
		TradeDate:     state.Request.TradeDate,
		ResearchDepth: string(state.Request.ResearchDepth),
		FinalPosition: decided.FinalPosition,
		MarketOutlook: decided.MarketOutlook,
		Confidence:    decided.Confidence,
		Degraded:      decided.Degraded,
		Breakdown:     breakdown,
		Artifacts:     artifacts,
		SourceStatus:  sourceStatus,
		DurationMs:    duration.Milliseconds(),
		CreatedAt:     time.Now(),
	}, nil
}

const runColumns = `
		run_id, symbol, market_type, session_kind, trade_date, research_depth,
		final_position, market_outlook, confidence, degraded,
		breakdown, artifacts, source_status, duration_ms, created_at`

// InsertRun appends one run to the decision log.
func (s *Store) InsertRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO analysis_runs (` + runColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)
	`

	start := time.Now()
	_, err := s.pool.Exec(
		ctx,
		query,
		run.RunID,
		run.Symbol,
		run.MarketType,
		run.SessionKind,
		run.TradeDate,
		run.ResearchDepth,
		run.FinalPosition,
		run.MarketOutlook,
		run.Confidence,
		run.Degraded,
		run.Breakdown,
		run.Artifacts,
		run.SourceStatus,
		run.DurationMs,
		run.CreatedAt,
	)
	metrics.StoreQueryDuration.WithLabelValues("insert_run").Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return fmt.Errorf("failed to insert analysis run: %w", err)
	}

	metrics.RunsStored.Inc()
	s.log.Info().
		Str("run_id", run.RunID.String()).
		Str("symbol", run.Symbol).
		Float64("final_position", run.FinalPosition).
		Msg("Analysis run stored")
	return nil
}

// GetRun fetches one run by id. Returns ErrNotFound when the id is unknown.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM analysis_runs
		WHERE run_id = $1
	`

	start := time.Now()
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	metrics.StoreQueryDuration.WithLabelValues("get_run").Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, err
	}
	return run, nil
}

// RunFilter narrows ListRuns. Zero values mean no constraint.
type RunFilter struct {
	Symbol      string
	SessionKind string
	Limit       int
}

const defaultListLimit = 20
const maxListLimit = 100

// ListRuns returns recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var conditions []string
	var args []interface{}
	if filter.Symbol != "" {
		args = append(args, filter.Symbol)
		conditions = append(conditions, "symbol = $"+strconv.Itoa(len(args)))
	}
	if filter.SessionKind != "" {
		args = append(args, filter.SessionKind)
		conditions = append(conditions, "session_kind = $"+strconv.Itoa(len(args)))
	}

	query := `
		SELECT ` + runColumns + `
		FROM analysis_runs`
	if len(conditions) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += "\n\t\tORDER BY created_at DESC\n\t\tLIMIT $" + strconv.Itoa(len(args))

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	metrics.StoreQueryDuration.WithLabelValues("list_runs").Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunStats aggregates the decision log over a window.
type RunStats struct {
	TotalRuns        int64   `json:"total_runs"`
	DegradedRuns     int64   `json:"degraded_runs"`
	AvgFinalPosition float64 `json:"avg_final_position"`
	AvgConfidence    float64 `json:"avg_confidence"`
}

// GetRunStats aggregates runs created at or after since.
func (s *Store) GetRunStats(ctx context.Context, since time.Time) (*RunStats, error) {
	query := `
		SELECT
			COUNT(*) AS total_runs,
			COUNT(CASE WHEN degraded THEN 1 END) AS degraded_runs,
			COALESCE(AVG(final_position), 0) AS avg_final_position,
			COALESCE(AVG(confidence), 0) AS avg_confidence
		FROM analysis_runs
		WHERE created_at >= $1
	`

	start := time.Now()
	var stats RunStats
	err := s.pool.QueryRow(ctx, query, since).Scan(
		&stats.TotalRuns,
		&stats.DegradedRuns,
		&stats.AvgFinalPosition,
		&stats.AvgConfidence,
	)
	metrics.StoreQueryDuration.WithLabelValues("run_stats").Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	err := row.Scan(
		&run.RunID,
		&run.Symbol,
		&run.MarketType,
		&run.SessionKind,
		&run.TradeDate,
		&run.ResearchDepth,
		&run.FinalPosition,
		&run.MarketOutlook,
		&run.Confidence,
		&run.Degraded,
		&run.Breakdown,
		&run.Artifacts,
		&run.SourceStatus,
		&run.DurationMs,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
