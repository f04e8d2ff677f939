package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/IZEUS01/Exfil-Guard/internal/model"
)

// Alert is one active on-screen alert record.
type Alert struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Severity  model.Severity `json:"severity"`
	CreatedAt time.Time      `json:"created_at"`
}

// AlertCenter retains the currently visible alerts. It holds at most
// maxAlerts records, evicting the oldest when full, and auto-dismisses each
// alert after the configured timeout. Dismiss timers are per-alert and cancel
// cleanly when an alert is dismissed early.
type AlertCenter struct {
	mu        sync.Mutex
	maxAlerts int
	timeout   time.Duration
	alerts    []*Alert
	timers    map[string]*time.Timer
}

// NewAlertCenter creates an alert center.
func NewAlertCenter(maxAlerts int, timeout time.Duration) *AlertCenter {
	return &AlertCenter{
		maxAlerts: maxAlerts,
		timeout:   timeout,
		timers:    make(map[string]*time.Timer),
	}
}

// Show adds an alert and schedules its auto-dismiss. Returns the alert id.
func (c *AlertCenter) Show(title, message string, severity model.Severity) string {
	alert := &Alert{
		ID:        "alert-" + uuid.NewString(),
		Title:     title,
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	for len(c.alerts) >= c.maxAlerts {
		c.removeLocked(c.alerts[0].ID)
	}
	c.alerts = append(c.alerts, alert)
	c.timers[alert.ID] = time.AfterFunc(c.timeout, func() {
		c.Dismiss(alert.ID)
	})
	c.mu.Unlock()

	return alert.ID
}

// Dismiss removes an alert and cancels its timer. Dismissing an already
// removed alert is a no-op.
func (c *AlertCenter) Dismiss(id string) {
	c.mu.Lock()
	c.removeLocked(id)
	c.mu.Unlock()
}

func (c *AlertCenter) removeLocked(id string) {
	if timer, ok := c.timers[id]; ok {
		timer.Stop()
		delete(c.timers, id)
	}
	for i, alert := range c.alerts {
		if alert.ID == id {
			c.alerts = append(c.alerts[:i], c.alerts[i+1:]...)
			return
		}
	}
}

// Active returns the currently visible alerts, oldest first.
func (c *AlertCenter) Active() []*Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// Close cancels all pending dismiss timers.
func (c *AlertCenter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
	c.alerts = nil
}
