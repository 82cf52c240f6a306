// Package alerts fans alert messages out to the configured channels.
// Channel failures are logged and never block the other channels or the
// caller's run.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marketmind-ai/marketmind/internal/metrics"
	"github.com/marketmind-ai/marketmind/internal/snapshot"
)

// Severity levels for alerts
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert represents an alert message
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Alerter defines the interface for sending alerts
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans alerts out to every configured alerter.
type Manager struct {
	alerters []Alerter
}

// NewManager creates a new alert manager
func NewManager(alerters ...Alerter) *Manager {
	return &Manager{
		alerters: alerters,
	}
}

// Send sends an alert to all configured alerters. Every alerter is tried;
// the last failure is returned.
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	var lastErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Error().
				Err(err).
				Str("title", alert.Title).
				Msg("Failed to send alert")
			lastErr = err
		}
	}

	return lastErr
}

// SendCritical is a convenience method for sending critical alerts
func (m *Manager) SendCritical(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityCritical,
		Metadata: metadata,
	})
}

// SendWarning is a convenience method for sending warning alerts
func (m *Manager) SendWarning(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityWarning,
		Metadata: metadata,
	})
}

// SendInfo is a convenience method for sending info alerts
func (m *Manager) SendInfo(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityInfo,
		Metadata: metadata,
	})
}

// LogAlerter logs alerts using zerolog
type LogAlerter struct{}

// NewLogAlerter creates a new log-based alerter
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{}
}

// Send sends an alert by logging it
func (l *LogAlerter) Send(ctx context.Context, alert Alert) error {
	event := log.Log()

	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	case SeverityInfo:
		event = log.Info()
	}

	if alert.Metadata != nil {
		for key, value := range alert.Metadata {
			event = event.Interface(key, value)
		}
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg(fmt.Sprintf("ALERT: %s", alert.Message))

	metrics.AlertsSent.WithLabelValues("log", string(alert.Severity)).Inc()
	return nil
}

// AnomalyAlert builds the alert for one abnormal market move.
func AnomalyAlert(event snapshot.AnomalyEvent) Alert {
	metadata := map[string]interface{}{
		"name":           event.Name,
		"kind":           string(event.Kind),
		"change_percent": event.ChangePercent,
	}
	if event.Symbol != "" {
		metadata["symbol"] = event.Symbol
	}

	verb := "surged"
	if event.Kind == snapshot.Drop {
		verb = "dropped"
	}

	return Alert{
		Title:    fmt.Sprintf("Market anomaly: %s", event.Name),
		Message:  fmt.Sprintf("%s %s %.2f%% against the anomaly threshold", event.Name, verb, event.ChangePercent),
		Severity: SeverityWarning,
		Metadata: metadata,
	}
}

// DegradedRunAlert builds the alert for a run that completed on fallback
// inputs.
func DegradedRunAlert(runID uuid.UUID, symbol, sessionKind string, finalPosition float64) Alert {
	return Alert{
		Title:    "Degraded analysis run",
		Message:  fmt.Sprintf("Run for %s (%s session) completed degraded; holding position %.2f", symbol, sessionKind, finalPosition),
		Severity: SeverityWarning,
		Metadata: map[string]interface{}{
			"run_id":         runID.String(),
			"symbol":         symbol,
			"session_kind":   sessionKind,
			"final_position": finalPosition,
		},
	}
}

// AnomalySink adapts the manager to the snapshot engine's sink interface so
// anomaly scans alert directly.
type AnomalySink struct {
	m *Manager
}

// NewAnomalySink wraps a manager.
func NewAnomalySink(m *Manager) *AnomalySink {
	return &AnomalySink{m: m}
}

// HandleAnomaly sends the anomaly as an alert.
func (s *AnomalySink) HandleAnomaly(ctx context.Context, event snapshot.AnomalyEvent) error {
	return s.m.Send(ctx, AnomalyAlert(event))
}
