// Package notify delivers execution and phase status-change events to an
// external sink. Delivery is best-effort: a failed send is logged, never
// propagated, so notification problems cannot fail a pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

// EventType identifies the kind of status change.
type EventType string

const (
	EventExecutionStarted  EventType = "execution_started"
	EventExecutionFinished EventType = "execution_finished"
	EventPhaseStarted      EventType = "phase_started"
	EventPhaseFinished     EventType = "phase_finished"
	EventPhaseBlocked      EventType = "phase_blocked"
	EventPhaseStuck        EventType = "phase_stuck"
)

// Event is one status-change notification.
type Event struct {
	Type        EventType       `json:"type"`
	ExecutionID string          `json:"execution_id"`
	Phase       model.PhaseName `json:"phase,omitempty"`
	Status      string          `json:"status,omitempty"`
	Detail      string          `json:"detail,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Sink receives status-change events.
type Sink interface {
	Notify(ctx context.Context, ev Event)
}

// LogSink writes events to the global logger. It is the default sink when no
// webhook is configured.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, ev Event) {
	zap.L().Info("status change",
		zap.String("event", string(ev.Type)),
		zap.String("execution_id", ev.ExecutionID),
		zap.String("phase", string(ev.Phase)),
		zap.String("status", ev.Status),
		zap.String("detail", ev.Detail),
	)
}

// WebhookSink posts events to a webhook URL as JSON.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a WebhookSink for the given URL.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts the event. Failures are logged and swallowed.
func (w *WebhookSink) Notify(ctx context.Context, ev Event) {
	if err := w.send(ctx, ev); err != nil {
		zap.L().Error("notify: failed to deliver event",
			zap.String("event", string(ev.Type)),
			zap.String("execution_id", ev.ExecutionID),
			zap.Error(err),
		)
		return
	}
	zap.L().Debug("notify: event delivered",
		zap.String("event", string(ev.Type)),
		zap.String("execution_id", ev.ExecutionID),
	)
}

func (w *WebhookSink) send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ForConfig returns a WebhookSink when a URL is configured, LogSink otherwise.
func ForConfig(webhookURL string) Sink {
	if webhookURL != "" {
		return NewWebhookSink(webhookURL)
	}
	return LogSink{}
}
