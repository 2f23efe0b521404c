// Package notification delivers buy/sell signal alerts to external channels
// (log, Telegram, webhooks).
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"trading-scanner/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one signal notification.
type Alert struct {
	Level          AlertLevel `json:"level"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	InstrumentID   string     `json:"instrument_id"`
	Recommendation string     `json:"recommendation"`
	Score          float64    `json:"score"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Name identifies the channel in logs and metrics.
	Name() string
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// Recorder observes delivery attempts. *metrics.Metrics satisfies it.
type Recorder interface {
	AlertSent(channel string, err error)
}

// SignalAlerts builds alerts for buy and sell records whose absolute score is
// at least minScore, keeping the ranking order. Hold records and records
// without a score never alert.
func SignalAlerts(records []model.ResultRecord, minScore float64) []Alert {
	var alerts []Alert
	for _, rec := range records {
		if rec.Score == nil || rec.Recommendation == string(model.RecommendHold) {
			continue
		}
		score := *rec.Score
		if math.Abs(score) < minScore {
			continue
		}
		level := AlertInfo
		if math.Abs(score) >= 2*minScore && minScore > 0 {
			level = AlertWarning
		}
		alerts = append(alerts, Alert{
			Level:          level,
			Title:          fmt.Sprintf("%s %s (score %.4f)", strings.ToUpper(rec.Recommendation), rec.InstrumentID, score),
			Message:        summary(rec),
			InstrumentID:   rec.InstrumentID,
			Recommendation: rec.Recommendation,
			Score:          score,
		})
	}
	return alerts
}

// summary is the last non-empty reason, which carries the threshold comparison.
func summary(rec model.ResultRecord) string {
	for i := len(rec.Reasons) - 1; i >= 0; i-- {
		if rec.Reasons[i] != "" {
			return rec.Reasons[i]
		}
	}
	return ""
}

// Dispatcher fans alerts out to every configured notifier. A failing
// channel is logged and does not stop delivery to the others.
type Dispatcher struct {
	notifiers []Notifier
	recorder  Recorder
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. recorder may be nil.
func NewDispatcher(logger *slog.Logger, recorder Recorder, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{notifiers: notifiers, recorder: recorder, logger: logger}
}

// Notify sends every alert to every notifier and returns the number of
// failed deliveries.
func (d *Dispatcher) Notify(ctx context.Context, alerts []Alert) int {
	failed := 0
	for _, a := range alerts {
		for _, n := range d.notifiers {
			err := n.Send(ctx, a)
			if d.recorder != nil {
				d.recorder.AlertSent(n.Name(), err)
			}
			if err != nil {
				failed++
				d.logger.Warn("alert delivery failed",
					slog.String("channel", n.Name()),
					slog.String("instrument", a.InstrumentID),
					slog.Any("error", err))
			}
		}
	}
	return failed
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.logger.InfoContext(ctx, "signal alert",
		slog.String("level", string(alert.Level)),
		slog.String("instrument", alert.InstrumentID),
		slog.String("recommendation", alert.Recommendation),
		slog.Float64("score", alert.Score),
		slog.String("summary", alert.Message))
	return nil
}
