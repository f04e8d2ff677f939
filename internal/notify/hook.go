package notify

import (
	"log/slog"

	"github.com/IZEUS01/Exfil-Guard/internal/metrics"
	"github.com/IZEUS01/Exfil-Guard/internal/model"
	"github.com/IZEUS01/Exfil-Guard/internal/store"
)

// Hook reacts to the post-insert state of the event store: it refreshes the
// badge from the high-risk count and, for high or critical events at or above
// the alert threshold, emits one alert record to the notification
// collaborator and the on-screen alert center. Notifier failures are logged,
// never propagated; the insert has already completed.
type Hook struct {
	notifier    Notifier
	badge       *Badge
	alerts      *AlertCenter
	minSeverity model.Severity
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewHook creates the post-insert hook.
func NewHook(notifier Notifier, badge *Badge, alerts *AlertCenter, minSeverity model.Severity, m *metrics.Metrics, logger *slog.Logger) *Hook {
	return &Hook{
		notifier:    notifier,
		badge:       badge,
		alerts:      alerts,
		minSeverity: minSeverity,
		metrics:     m,
		logger:      logger,
	}
}

// AfterChange refreshes the badge from the post-mutation aggregates. The
// store fires it after clear and age cleanup, which can drop the high-risk
// count without an insert ever happening.
func (h *Hook) AfterChange(stats store.Stats) {
	h.badge.Update(stats.HighRisk)
}

// AfterInsert implements store.InsertHook. It must not block the insert
// path; notification dispatch runs on its own goroutine.
func (h *Hook) AfterInsert(event *model.Event, stats store.Stats) {
	h.badge.Update(stats.HighRisk)

	if !event.HighRisk() || !event.Severity.AtLeast(h.minSeverity) {
		return
	}

	notification := NotificationFor(event)
	h.alerts.Show(notification.Title, notification.Message, event.Severity)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("Panic in notification dispatch", "panic", r)
			}
		}()
		if err := h.notifier.Notify(notification); err != nil {
			h.metrics.NotificationsFailed.Inc()
			h.logger.Warn("Failed to dispatch notification", "title", notification.Title, "error", err)
			return
		}
		h.metrics.NotificationsSent.Inc()
	}()
}
