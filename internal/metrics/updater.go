package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Updater periodically refreshes decision-log gauges from the database
type Updater struct {
	db       *pgxpool.Pool
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates a new metrics updater
func NewUpdater(db *pgxpool.Pool, interval time.Duration) *Updater {
	return &Updater{
		db:       db,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the metrics update loop
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	// Update immediately on start
	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the metrics updater
func (u *Updater) Stop() {
	close(u.stopCh)
}

func (u *Updater) update(ctx context.Context) {
	log.Debug().Msg("Updating metrics from decision log")

	u.updateRunMetrics(ctx)
	u.updateDatabaseMetrics()
}

// updateRunMetrics refreshes the 24h decision-log gauges
func (u *Updater) updateRunMetrics(ctx context.Context) {
	var total, degraded int64
	var avgPosition float64

	query := `
		SELECT
			COUNT(*) as total_runs,
			COUNT(*) FILTER (WHERE degraded) as degraded_runs,
			COALESCE(AVG(final_position), 0) as avg_position
		FROM analysis_runs
		WHERE created_at >= NOW() - INTERVAL '24 hours'
	`

	err := u.db.QueryRow(ctx, query).Scan(&total, &degraded, &avgPosition)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch run metrics")
		return
	}

	RunsLast24h.Set(float64(total))
	AvgFinalPosition24h.Set(avgPosition)

	if total > 0 {
		DegradedShare24h.Set(float64(degraded) / float64(total))
	} else {
		DegradedShare24h.Set(0)
	}
}

// updateDatabaseMetrics updates database connection pool metrics
func (u *Updater) updateDatabaseMetrics() {
	stat := u.db.Stat()
	UpdateDatabaseConnections(stat.AcquiredConns(), stat.IdleConns())
}
