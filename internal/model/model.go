package model

import (
	"time"
)

// Severity is the ordered classification level assigned to findings and events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityLevels = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Level returns the numeric rank of a severity (critical > high > medium > low > info).
// Unknown severities rank below info.
func (s Severity) Level() int {
	if level, ok := severityLevels[s]; ok {
		return level
	}
	return -1
}

// Valid reports whether the severity is one of the five known levels.
func (s Severity) Valid() bool {
	_, ok := severityLevels[s]
	return ok
}

// AtLeast reports whether s ranks at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Level() >= min.Level()
}

// ParseSeverity coerces a raw severity string to a known level. Unrecognized
// values degrade to low rather than failing, so a bad rule severity never
// drops an observation.
func ParseSeverity(raw string) Severity {
	s := Severity(raw)
	if s.Valid() {
		return s
	}
	return SeverityLow
}

// MaxSeverity returns the higher-ranked of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Level() > a.Level() {
		return b
	}
	return a
}

// ObservationType identifies the kind of monitored surface an observation
// was captured from.
type ObservationType string

const (
	TypeFormInput      ObservationType = "form_input"
	TypeNetwork        ObservationType = "network"
	TypeStorage        ObservationType = "storage"
	TypeClipboard      ObservationType = "clipboard"
	TypeScriptAnalysis ObservationType = "script_analysis"
)

// Valid reports whether the observation type is one of the five known kinds.
func (t ObservationType) Valid() bool {
	switch t {
	case TypeFormInput, TypeNetwork, TypeStorage, TypeClipboard, TypeScriptAnalysis:
		return true
	}
	return false
}

// FormInput is a form field edit captured by a DOM observer.
type FormInput struct {
	FieldName string `json:"field_name"`
	FieldType string `json:"field_type"`
	Value     string `json:"value"`
}

// NetworkCall is an outbound request captured by a network observer.
type NetworkCall struct {
	URL    string `json:"url"`
	Method string `json:"method"`
	Body   string `json:"body"`
}

// StorageAccess is a persistent-storage read or write.
type StorageAccess struct {
	Op    string `json:"op"` // localstorage_read, localstorage_write, sessionstorage_read, sessionstorage_write
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ClipboardUse is a clipboard copy or paste.
type ClipboardUse struct {
	Action  string `json:"action"` // copy, paste
	Length  int    `json:"length"`
	Preview string `json:"preview"`
}

// ScriptSample is an inline or fetched script handed over for static analysis.
type ScriptSample struct {
	SourceURL string `json:"source_url"`
	Content   string `json:"content"`
}

// Observation is the raw signal a producer hands to the core. Exactly one
// variant matching Type is set; extra fields in the producer payload are
// never carried past parsing.
type Observation struct {
	Type      ObservationType `json:"type"`
	PageURL   string          `json:"page_url"`
	Timestamp time.Time       `json:"timestamp"`

	Form      *FormInput     `json:"form,omitempty"`
	Network   *NetworkCall   `json:"network,omitempty"`
	Storage   *StorageAccess `json:"storage,omitempty"`
	Clipboard *ClipboardUse  `json:"clipboard,omitempty"`
	Script    *ScriptSample  `json:"script,omitempty"`
}

// Event is the canonical stored record derived from an observation and its
// resolved severity. Events are immutable after normalization and are removed
// only by capacity or age eviction.
type Event struct {
	ID        string          `json:"id"`
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Domain    string          `json:"domain"`
	Type      ObservationType `json:"type"`
	Severity  Severity        `json:"severity"`

	// Minimized source-specific fields. Raw captured values are reduced to
	// bounded previews and lengths before they reach the store.
	FieldName       string `json:"field_name,omitempty"`
	FieldType       string `json:"field_type,omitempty"`
	Method          string `json:"method,omitempty"`
	URL             string `json:"url,omitempty"`
	StorageOp       string `json:"storage_op,omitempty"`
	StorageKey      string `json:"storage_key,omitempty"`
	ClipboardAction string `json:"clipboard_action,omitempty"`
	Preview         string `json:"preview,omitempty"`
	Length          int    `json:"length,omitempty"`

	RuleID         string `json:"rule_id,omitempty"`
	MatchedPattern string `json:"matched_pattern,omitempty"`
}

// HighRisk reports whether the event counts toward the high-risk aggregate.
func (e *Event) HighRisk() bool {
	return e.Severity == SeverityHigh || e.Severity == SeverityCritical
}
