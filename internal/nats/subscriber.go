package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/IZEUS01/Exfil-Guard/internal/classify"
	"github.com/IZEUS01/Exfil-Guard/internal/metrics"
	"github.com/IZEUS01/Exfil-Guard/internal/model"
	"github.com/IZEUS01/Exfil-Guard/internal/normalize"
	"github.com/IZEUS01/Exfil-Guard/internal/store"
)

// Subjects making up the core's message-passing surface.
const (
	SubjectObservations = "exfilguard.observations"
	SubjectQuery        = "exfilguard.events.query"
	SubjectClear        = "exfilguard.events.clear"
	SubjectStats        = "exfilguard.stats"
	SubjectAlerts       = "exfilguard.alerts"
)

// QueryResponse answers an events query.
type QueryResponse struct {
	Events   []*model.Event `json:"events"`
	Total    int            `json:"total"`
	HighRisk int            `json:"high_risk"`
}

// Subscriber receives raw observations from producers and serves the
// query/clear/stats request-reply surface. Producers emit concurrently; every
// mutation funnels through the store's serialized boundary, so no two inserts
// interleave their capacity check.
type Subscriber struct {
	nc         *nats.Conn
	store      *store.Store
	classifier *classify.Classifier
	builder    *normalize.Builder

	// Events below this severity are classified but not retained.
	storeMin model.Severity

	queue   string
	metrics *metrics.Metrics
	logger  *slog.Logger

	subs []*nats.Subscription
}

// NewSubscriber creates the message surface.
func NewSubscriber(nc *nats.Conn, st *store.Store, classifier *classify.Classifier, builder *normalize.Builder, storeMin model.Severity, queue string, m *metrics.Metrics, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		nc:         nc,
		store:      st,
		classifier: classifier,
		builder:    builder,
		storeMin:   storeMin,
		queue:      queue,
		metrics:    m,
		logger:     logger,
	}
}

// Subscribe starts all subscriptions and blocks until the context is
// canceled, then drains them.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	subjects := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{SubjectObservations, s.handleObservation},
		{SubjectQuery, s.handleQuery},
		{SubjectClear, s.handleClear},
		{SubjectStats, s.handleStats},
	}

	for _, sub := range subjects {
		subscription, err := s.nc.QueueSubscribe(sub.subject, s.queue, sub.handler)
		if err != nil {
			s.drain()
			return fmt.Errorf("failed to subscribe to %s: %w", sub.subject, err)
		}
		s.subs = append(s.subs, subscription)
		s.logger.Info("Subscribed", "subject", sub.subject, "queue", s.queue)
	}

	<-ctx.Done()

	s.logger.Info("Draining subscriptions")
	s.drain()
	return nil
}

func (s *Subscriber) drain() {
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			s.logger.Error("Failed to drain subscription", "subject", sub.Subject, "error", err)
		}
	}
	s.subs = nil
}

// handleObservation classifies, normalizes, and stores one raw observation.
// Malformed payloads are dropped and logged; producers only ever receive an
// acknowledgement of receipt.
func (s *Subscriber) handleObservation(msg *nats.Msg) {
	started := time.Now()

	obs, err := parseObservation(msg.Data)
	if err != nil {
		s.metrics.ObservationsInvalid.Inc()
		s.logger.Warn("Dropping malformed observation", "error", err)
		s.ack(msg)
		return
	}

	findings, severity := s.classifier.Classify(obs)
	s.metrics.ClassifyDuration.Observe(time.Since(started).Seconds())
	s.metrics.ObservationsProcessed.Inc()
	s.metrics.FindingsGenerated.Add(float64(len(findings)))

	event, err := s.builder.Build(obs, findings, severity)
	if err != nil {
		s.metrics.ObservationsInvalid.Inc()
		s.logger.Warn("Dropping observation the normalizer rejected", "error", err)
		s.ack(msg)
		return
	}
	if !normalize.Validate(event) {
		s.metrics.ObservationsInvalid.Inc()
		s.logger.Warn("Dropping invalid event", "event_id", event.ID)
		s.ack(msg)
		return
	}

	if event.Severity.AtLeast(s.storeMin) {
		s.store.Insert(event)
		s.logger.Info("Detection logged",
			"event_id", event.ID,
			"type", event.Type,
			"severity", event.Severity,
			"domain", event.Domain,
			"rule_id", event.RuleID)
	}

	s.ack(msg)
}

// handleQuery serves the filtered, limited event query.
func (s *Subscriber) handleQuery(msg *nats.Msg) {
	var filter store.Filter
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &filter); err != nil {
			s.logger.Warn("Malformed query filter, treating as unfiltered", "error", err)
			filter = store.Filter{}
		}
	}

	events := s.store.Query(filter)
	stats := s.store.Stats()
	s.respond(msg, QueryResponse{
		Events:   events,
		Total:    stats.Total,
		HighRisk: stats.HighRisk,
	})
}

func (s *Subscriber) handleClear(msg *nats.Msg) {
	s.store.Clear()
	s.respond(msg, map[string]bool{"success": true})
}

func (s *Subscriber) handleStats(msg *nats.Msg) {
	s.respond(msg, s.store.Stats())
}

func (s *Subscriber) ack(msg *nats.Msg) {
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond([]byte(`{"received":true}`)); err != nil {
		s.logger.Error("Failed to acknowledge observation", "error", err)
	}
}

func (s *Subscriber) respond(msg *nats.Msg, payload interface{}) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to encode response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Error("Failed to respond", "subject", msg.Subject, "error", err)
	}
}

// parseObservation converts a producer payload to an Observation. Producers
// emit slightly different shapes per surface (and legacy type aliases), so
// parsing is tolerant; unknown extra fields are never carried forward.
func parseObservation(data []byte) (*model.Observation, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal observation: %w", err)
	}

	rawType, _ := raw["type"].(string)
	if rawType == "" {
		return nil, fmt.Errorf("observation missing type")
	}

	obs := &model.Observation{
		PageURL:   stringField(raw, "page_url", "pageUrl", "tabUrl"),
		Timestamp: timeField(raw, "timestamp"),
	}

	switch {
	case rawType == "form_input" || rawType == "password":
		obs.Type = model.TypeFormInput
		obs.Form = &model.FormInput{
			FieldName: stringField(raw, "field_name", "fieldName"),
			FieldType: stringField(raw, "field_type", "fieldType"),
			Value:     stringField(raw, "value"),
		}
	case rawType == "network" || rawType == "fetch_request" || rawType == "xhr_request":
		obs.Type = model.TypeNetwork
		obs.Network = &model.NetworkCall{
			URL:    stringField(raw, "url"),
			Method: stringField(raw, "method"),
			Body:   stringField(raw, "body"),
		}
	case rawType == "storage" || strings.HasPrefix(rawType, "localstorage_") || strings.HasPrefix(rawType, "sessionstorage_"):
		obs.Type = model.TypeStorage
		op := stringField(raw, "op", "accessType")
		if op == "" && rawType != "storage" {
			op = rawType
		}
		obs.Storage = &model.StorageAccess{
			Op:    op,
			Key:   stringField(raw, "key"),
			Value: stringField(raw, "value"),
		}
	case rawType == "clipboard" || rawType == "clipboard_copy" || rawType == "clipboard_paste":
		obs.Type = model.TypeClipboard
		action := stringField(raw, "action")
		if action == "" {
			action = strings.TrimPrefix(rawType, "clipboard_")
			if action == "clipboard" {
				action = "copy"
			}
		}
		obs.Clipboard = &model.ClipboardUse{
			Action:  action,
			Length:  intField(raw, "length", "dataLength"),
			Preview: stringField(raw, "preview", "data", "dataPreview"),
		}
	case rawType == "script_analysis":
		obs.Type = model.TypeScriptAnalysis
		obs.Script = &model.ScriptSample{
			SourceURL: stringField(raw, "source_url", "url"),
			Content:   stringField(raw, "content", "script"),
		}
	default:
		return nil, fmt.Errorf("unknown observation type %q", rawType)
	}

	return obs, nil
}

func stringField(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if value, ok := raw[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func intField(raw map[string]interface{}, keys ...string) int {
	for _, key := range keys {
		if value, ok := raw[key].(float64); ok {
			return int(value)
		}
	}
	return 0
}

func timeField(raw map[string]interface{}, key string) time.Time {
	switch value := raw[key].(type) {
	case float64:
		return time.UnixMilli(int64(value))
	case string:
		if parsed, err := time.Parse(time.RFC3339, value); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
