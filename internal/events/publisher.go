// Package events publishes run lifecycle and anomaly events to NATS so
// downstream consumers can react without polling the decision log.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/metrics"
	"github.com/marketmind-ai/marketmind/internal/snapshot"
)

// Subject suffixes. The full subject is the configured prefix plus one of
// these, e.g. marketmind.analysis.completed.
const (
	SubjectAnalysisCompleted = "analysis.completed"
	SubjectAnomalyDetected   = "anomaly.detected"
)

// DefaultPrefix namespaces all subjects.
const DefaultPrefix = "marketmind."

// Envelope wraps every published event.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// AnalysisCompleted is the payload published after a run persists.
type AnalysisCompleted struct {
	RunID         uuid.UUID `json:"run_id"`
	Symbol        string    `json:"symbol"`
	MarketType    string    `json:"market_type"`
	SessionKind   string    `json:"session_kind"`
	TradeDate     string    `json:"trade_date"`
	FinalPosition float64   `json:"final_position"`
	MarketOutlook string    `json:"market_outlook"`
	Confidence    float64   `json:"confidence"`
	Degraded      bool      `json:"degraded"`
	DurationMs    int64     `json:"duration_ms"`
}

// Config configures the publisher.
type Config struct {
	URL    string
	Prefix string // subject prefix, DefaultPrefix when empty
}

// Publisher is a fire-and-forget NATS event publisher.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

// Connect dials NATS with infinite reconnects.
func Connect(cfg Config) (*Publisher, error) {
	nc, err := nats.Connect(
		cfg.URL,
		nats.Name("marketmind-advisor"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	logger := log.With().Str("component", "events").Logger()
	logger.Info().Str("nats_url", cfg.URL).Str("prefix", prefix).Msg("Event publisher connected")

	return &Publisher{
		nc:     nc,
		prefix: prefix,
		log:    logger,
	}, nil
}

// Connected reports whether the underlying connection is up.
func (p *Publisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

// Close drains nothing; pending publishes flush on the connection's own
// flusher before the socket closes.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
		p.log.Info().Msg("Event publisher closed")
	}
}

// PublishAnalysisCompleted emits the run-completed event.
func (p *Publisher) PublishAnalysisCompleted(ctx context.Context, event AnalysisCompleted) error {
	return p.publish(ctx, SubjectAnalysisCompleted, event)
}

// PublishAnomaly emits one anomaly event.
func (p *Publisher) PublishAnomaly(ctx context.Context, event snapshot.AnomalyEvent) error {
	return p.publish(ctx, SubjectAnomalyDetected, event)
}

func (p *Publisher) publish(ctx context.Context, eventType string, payload interface{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !p.Connected() {
		return fmt.Errorf("event publisher not connected")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	envelope := Envelope{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payloadJSON,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	subject := p.prefix + eventType
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	metrics.EventsPublished.WithLabelValues(eventType).Inc()
	p.log.Debug().
		Str("event_id", envelope.ID.String()).
		Str("subject", subject).
		Msg("Event published")
	return nil
}

// AnomalySink adapts the publisher to the snapshot engine's sink interface.
type AnomalySink struct {
	pub *Publisher
}

// NewAnomalySink wraps a publisher.
func NewAnomalySink(pub *Publisher) *AnomalySink {
	return &AnomalySink{pub: pub}
}

// HandleAnomaly publishes the event. The snapshot engine logs and swallows
// any error returned here.
func (s *AnomalySink) HandleAnomaly(ctx context.Context, event snapshot.AnomalyEvent) error {
	return s.pub.PublishAnomaly(ctx, event)
}
