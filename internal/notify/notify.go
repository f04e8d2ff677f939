package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/IZEUS01/Exfil-Guard/internal/model"
)

// Notification is one alert record handed to the external notification
// collaborator.
type Notification struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

// Notifier dispatches alert records. Failures are contained by the caller;
// they never affect the stored event.
type Notifier interface {
	Notify(n Notification) error
}

// NatsNotifier publishes alert records to a NATS subject.
type NatsNotifier struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNatsNotifier creates a notifier publishing to the given subject.
func NewNatsNotifier(nc *nats.Conn, subject string, logger *slog.Logger) *NatsNotifier {
	return &NatsNotifier{nc: nc, subject: subject, logger: logger}
}

// Notify publishes one alert record.
func (n *NatsNotifier) Notify(notification Notification) error {
	if n.nc == nil || !n.nc.IsConnected() {
		return fmt.Errorf("NATS connection not available")
	}

	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	headers := nats.Header{}
	headers.Set("x-alert-title", notification.Title)
	headers.Set("x-alert-priority", strconv.Itoa(notification.Priority))

	msg := &nats.Msg{
		Subject: n.subject,
		Data:    data,
		Header:  headers,
	}
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	n.logger.Debug("Published notification", "subject", n.subject, "title", notification.Title)
	return nil
}

// NotificationFor derives the alert title and message from the event type,
// mirroring what operators see on the desktop.
func NotificationFor(event *model.Event) Notification {
	n := Notification{
		Title:    "ExfilGuard Alert",
		Message:  fmt.Sprintf("%s detected", event.Type),
		Priority: 2,
	}

	switch event.Type {
	case model.TypeFormInput:
		n.Title = "Sensitive Input Detected"
		field := event.FieldName
		if field == "" {
			field = "Unknown"
		}
		n.Message = fmt.Sprintf("Field: %s", field)
	case model.TypeNetwork:
		n.Title = "Data Transmission Detected"
		n.Message = "Sensitive data being sent"
	case model.TypeClipboard:
		n.Title = "Clipboard Access"
		action := event.ClipboardAction
		if action == "" {
			action = "access"
		}
		n.Message = fmt.Sprintf("Clipboard %s detected", action)
	case model.TypeStorage:
		n.Title = "Storage Access"
		n.Message = fmt.Sprintf("Sensitive storage access: %s", event.StorageKey)
	case model.TypeScriptAnalysis:
		n.Title = "Suspicious Script Detected"
		n.Message = fmt.Sprintf("Script from %s matched detection rules", event.Domain)
	}
	return n
}
