// Package snapshot builds the morning and closing market-context snapshots
// analysts and the API consume, and scans movers for anomalies. Snapshots
// are composed from facade primitives on demand and held in the in-memory
// cache tier for a short lifetime; callers needing fresher data invalidate.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/cache"
	"github.com/marketmind-ai/marketmind/internal/marketdata"
	"github.com/marketmind-ai/marketmind/internal/metrics"
	"github.com/marketmind-ai/marketmind/internal/session"
)

const (
	defaultTTL          = 5 * time.Minute
	defaultTopNews      = 3
	defaultSurgePercent = 3.0
	defaultDropPercent  = 3.0

	// Days of bars fetched to find the last two closes across weekends
	// and holidays.
	moverLookbackDays = 10
)

// Snapshot is one session's market context. Morning carries overnight
// international headlines plus the sector flow extremes; closing carries
// the full flow ranking plus policy-tagged news.
type Snapshot struct {
	Kind         session.Kind            `json:"kind"`
	IntlNews     []marketdata.NewsItem   `json:"international_news,omitempty"`
	SectorTop    []marketdata.SectorFlow `json:"sector_top,omitempty"`
	SectorBottom []marketdata.SectorFlow `json:"sector_bottom,omitempty"`
	SectorFlows  []marketdata.SectorFlow `json:"sector_flows,omitempty"`
	PolicyNews   []marketdata.NewsItem   `json:"policy_news,omitempty"`
	Degraded     bool                    `json:"degraded,omitempty"`
	FallbackNote string                  `json:"fallback_note,omitempty"`
	GeneratedAt  time.Time               `json:"generated_at"`
}

// AnomalyKind labels the direction of an abnormal move
type AnomalyKind string

const (
	Surge AnomalyKind = "surge"
	Drop  AnomalyKind = "drop"
)

// AnomalyEvent is one abnormal move found by the scan. Sector events carry
// the sector name only; index events carry the full price context.
type AnomalyEvent struct {
	Symbol        string      `json:"symbol,omitempty"`
	Name          string      `json:"name"`
	Kind          AnomalyKind `json:"kind"`
	ChangePercent float64     `json:"change_percent"`
	TriggerPrice  float64     `json:"trigger_price,omitempty"`
	PreviousPrice float64     `json:"previous_price,omitempty"`
	Volume        float64     `json:"volume,omitempty"`
	DetectedAt    time.Time   `json:"detected_at"`
}

// AnomalySink receives anomalies as the scan finds them. Sink errors are
// logged, never propagated; one slow or broken sink must not hide events
// from the others.
type AnomalySink interface {
	HandleAnomaly(ctx context.Context, event AnomalyEvent) error
}

// Config tunes the engine
type Config struct {
	TTL          time.Duration // snapshot cache lifetime
	TopNews      int           // international items in the morning snapshot
	SurgePercent float64       // change percent at or above which a move is a surge
	DropPercent  float64       // change percent at or below the negative of which a move is a drop
}

// Engine composes facade calls into session snapshots
type Engine struct {
	facade   *marketdata.Facade
	memory   *cache.Memory
	ttl      time.Duration
	topNews  int
	surgePct float64
	dropPct  float64
	sinks    []AnomalySink
	log      zerolog.Logger
}

// New creates the snapshot engine. The memory tier may be shared with the
// tiered cache or nil, in which case the engine owns a small private one.
func New(facade *marketdata.Facade, memory *cache.Memory, cfg Config, sinks ...AnomalySink) *Engine {
	if memory == nil {
		memory = cache.NewMemory(cache.DefaultMaxEntries, cache.DefaultSweepInterval)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.TopNews <= 0 {
		cfg.TopNews = defaultTopNews
	}
	if cfg.SurgePercent <= 0 {
		cfg.SurgePercent = defaultSurgePercent
	}
	if cfg.DropPercent <= 0 {
		cfg.DropPercent = defaultDropPercent
	}
	return &Engine{
		facade:   facade,
		memory:   memory,
		ttl:      cfg.TTL,
		topNews:  cfg.TopNews,
		surgePct: cfg.SurgePercent,
		dropPct:  cfg.DropPercent,
		sinks:    sinks,
		log:      log.With().Str("component", "snapshot").Logger(),
	}
}

// snapshotKind collapses session kinds onto the two snapshot compositions.
// Post-market consumers want the closing picture.
func snapshotKind(kind session.Kind) session.Kind {
	if kind == session.Morning {
		return session.Morning
	}
	return session.Closing
}

func snapshotCacheKey(kind session.Kind) string {
	return cache.Key("snapshot", string(kind), cache.DateBucket(time.Now()))
}

// Build returns the session's snapshot, serving from cache within the TTL.
// The GeneratedAt stamp survives cache hits so callers can judge freshness.
func (e *Engine) Build(ctx context.Context, kind session.Kind) (Snapshot, error) {
	k := snapshotKind(kind)
	key := snapshotCacheKey(k)

	if payload, _, ok := e.memory.Get(key); ok {
		var snap Snapshot
		if err := json.Unmarshal(payload, &snap); err == nil {
			return snap, nil
		}
		e.memory.Invalidate(key)
	}

	var (
		snap Snapshot
		err  error
	)
	if k == session.Morning {
		snap, err = e.buildMorning(ctx)
	} else {
		snap, err = e.buildClosing(ctx)
	}
	if err != nil {
		return Snapshot{}, err
	}

	snap.Kind = k
	snap.GeneratedAt = time.Now()
	metrics.SnapshotBuilds.WithLabelValues(string(k)).Inc()

	if payload, merr := json.Marshal(snap); merr == nil {
		e.memory.Put(key, payload, e.ttl)
	}

	e.log.Info().
		Str("kind", string(k)).
		Bool("degraded", snap.Degraded).
		Msg("Snapshot built")
	return snap, nil
}

// Invalidate drops the cached snapshot for a session so the next Build
// recomputes it
func (e *Engine) Invalidate(kind session.Kind) {
	e.memory.Invalidate(snapshotCacheKey(snapshotKind(kind)))
}

// buildMorning composes overnight international headlines with the sector
// flow extremes. A single failed input degrades the snapshot; only when
// every input fails does the build error.
func (e *Engine) buildMorning(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var notes []string

	news, err := e.facade.GetInternationalNews(ctx, nil, 1)
	if err != nil {
		notes = append(notes, "international news unavailable")
		e.log.Warn().Err(err).Msg("Morning snapshot missing international news")
	} else {
		items := news.Items
		if len(items) > e.topNews {
			items = items[:e.topNews]
		}
		snap.IntlNews = items
		if news.Degraded {
			notes = append(notes, news.FallbackNote)
		}
	}

	flows, err := e.facade.GetSectorFlows(ctx, "")
	if err != nil {
		notes = append(notes, "sector flows unavailable")
		e.log.Warn().Err(err).Msg("Morning snapshot missing sector flows")
	} else {
		snap.SectorTop = flows.Top
		snap.SectorBottom = flows.Bottom
	}

	if snap.IntlNews == nil && snap.SectorTop == nil {
		return Snapshot{}, fmt.Errorf("morning snapshot: every input failed")
	}
	if len(notes) > 0 {
		snap.Degraded = true
		snap.FallbackNote = strings.Join(notes, "; ")
	}
	return snap, nil
}

// buildClosing composes the full sector flow ranking with policy-tagged
// items from the general news feed
func (e *Engine) buildClosing(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var notes []string

	flows, err := e.facade.GetSectorFlows(ctx, "")
	if err != nil {
		notes = append(notes, "sector flows unavailable")
		e.log.Warn().Err(err).Msg("Closing snapshot missing sector flows")
	} else {
		snap.SectorFlows = flows.All
		snap.SectorTop = flows.Top
		snap.SectorBottom = flows.Bottom
	}

	latest, err := e.facade.GetLatestNews(ctx, 50)
	if err != nil {
		notes = append(notes, "latest news unavailable")
		e.log.Warn().Err(err).Msg("Closing snapshot missing latest news")
	} else {
		snap.PolicyNews = marketdata.PolicyTagged(latest)
	}

	if snap.SectorFlows == nil && snap.PolicyNews == nil {
		return Snapshot{}, fmt.Errorf("closing snapshot: every input failed")
	}
	if len(notes) > 0 {
		snap.Degraded = true
		snap.FallbackNote = strings.Join(notes, "; ")
	}
	return snap, nil
}

// ScanAnomalies inspects sector flows and the given index symbols for
// abnormal moves, fanning detected events out to the registered sinks.
// A failed input is skipped, not fatal.
func (e *Engine) ScanAnomalies(ctx context.Context, symbols []string) ([]AnomalyEvent, error) {
	now := time.Now()
	var events []AnomalyEvent

	flows, err := e.facade.GetSectorFlows(ctx, "")
	if err != nil {
		e.log.Warn().Err(err).Msg("Anomaly scan skipping sector flows")
	} else {
		for _, flow := range flows.All {
			kind, abnormal := e.classify(flow.ChangePercent)
			if !abnormal {
				continue
			}
			events = append(events, AnomalyEvent{
				Name:          flow.Sector,
				Kind:          kind,
				ChangePercent: flow.ChangePercent,
				DetectedAt:    now,
			})
		}
	}

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return events, ctx.Err()
		}
		event, found, err := e.scanIndex(ctx, symbol, now)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("Anomaly scan skipping index")
			continue
		}
		if found {
			events = append(events, event)
		}
	}

	for _, event := range events {
		metrics.AnomaliesDetected.WithLabelValues(string(event.Kind)).Inc()
		for _, sink := range e.sinks {
			if err := sink.HandleAnomaly(ctx, event); err != nil {
				e.log.Error().
					Err(err).
					Str("name", event.Name).
					Str("kind", string(event.Kind)).
					Msg("Anomaly sink failed")
			}
		}
	}

	if len(events) > 0 {
		e.log.Info().Int("events", len(events)).Msg("Anomalies detected")
	}
	return events, nil
}

// scanIndex compares the last two closes of one index
func (e *Engine) scanIndex(ctx context.Context, symbol string, now time.Time) (AnomalyEvent, bool, error) {
	start := now.AddDate(0, 0, -moverLookbackDays)
	bars, err := e.facade.GetIndexDaily(ctx, symbol, start.Format("20060102"), now.Format("20060102"))
	if err != nil {
		return AnomalyEvent{}, false, err
	}
	if len(bars) < 2 {
		return AnomalyEvent{}, false, fmt.Errorf("need two bars for %s, got %d", symbol, len(bars))
	}

	last, prev := bars[len(bars)-1], bars[len(bars)-2]
	if prev.Close == 0 {
		return AnomalyEvent{}, false, fmt.Errorf("zero previous close for %s", symbol)
	}

	change := (last.Close - prev.Close) / prev.Close * 100
	kind, abnormal := e.classify(change)
	if !abnormal {
		return AnomalyEvent{}, false, nil
	}

	return AnomalyEvent{
		Symbol:        symbol,
		Name:          e.facade.ResolveIndex(symbol).Name,
		Kind:          kind,
		ChangePercent: change,
		TriggerPrice:  last.Close,
		PreviousPrice: prev.Close,
		Volume:        last.Volume,
		DetectedAt:    now,
	}, true, nil
}

func (e *Engine) classify(changePercent float64) (AnomalyKind, bool) {
	switch {
	case changePercent >= e.surgePct:
		return Surge, true
	case changePercent <= -e.dropPct:
		return Drop, true
	default:
		return "", false
	}
}
