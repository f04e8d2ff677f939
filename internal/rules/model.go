package rules

import (
	"fmt"
	"regexp"

	"github.com/IZEUS01/Exfil-Guard/internal/model"
)

// Rule is one classification rule as it appears in a rule-set document.
type Rule struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string   `json:"type" yaml:"type"`
	Patterns    []string `json:"patterns" yaml:"patterns"`
	Severity    string   `json:"severity" yaml:"severity"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	// Threshold applies only to size-based rules (clipboard/storage payload length).
	Threshold int `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// Validate checks the fields a rule needs before it can be compiled.
// Pattern syntax is deliberately not checked here; a bad pattern is skipped
// at compile time without invalidating the rest of the rule.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "id", Message: "rule ID is required"}
	}
	if !model.ObservationType(r.Type).Valid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown rule type %q", r.Type)}
	}
	if !model.Severity(r.Severity).Valid() {
		return &ValidationError{Field: "severity", Message: fmt.Sprintf("invalid severity %q, must be critical/high/medium/low/info", r.Severity)}
	}
	return nil
}

// ValidationError describes why a rule was rejected at load time.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Document is the fetchable rule-set document consumed by the loader.
type Document struct {
	Rules          []Rule            `json:"rules" yaml:"rules"`
	IgnoreDomains  []string          `json:"ignoreDomains,omitempty" yaml:"ignoreDomains,omitempty"`
	IgnorePatterns []string          `json:"ignorePatterns,omitempty" yaml:"ignorePatterns,omitempty"`
	SeverityColors map[string]string `json:"severityColors,omitempty" yaml:"severityColors,omitempty"`
	SeverityLabels map[string]string `json:"severityLabels,omitempty" yaml:"severityLabels,omitempty"`
	EventTypes     map[string]string `json:"eventTypes,omitempty" yaml:"eventTypes,omitempty"`
}

// CompiledRule is a rule with its valid patterns compiled. Patterns that fail
// to compile are dropped individually and never applied.
type CompiledRule struct {
	Rule
	Compiled []*regexp.Regexp
}

// Severity returns the rule severity as a typed level.
func (r *CompiledRule) SeverityLevel() model.Severity {
	return model.Severity(r.Severity)
}

// RuleSet is an immutable snapshot of the active rules. A reload produces a
// fresh RuleSet and swaps it atomically; concurrent classification sees either
// the old or the new set, never a mix.
type RuleSet struct {
	Version        int64
	Source         string
	byType         map[model.ObservationType][]*CompiledRule
	byID           map[string]*CompiledRule
	ignoreDomains  map[string]bool
	ignorePatterns []*regexp.Regexp
	severityColors map[string]string
	severityLabels map[string]string
	eventTypes     map[string]string
	ruleCount      int
	patternErrors  int
}

// ByType returns the enabled compiled rules of the given observation kind,
// in document order.
func (rs *RuleSet) ByType(t model.ObservationType) []*CompiledRule {
	return rs.byType[t]
}

// ByID returns a rule by id, for the special-cased rules consulted directly
// after the general pass.
func (rs *RuleSet) ByID(id string) (*CompiledRule, bool) {
	r, ok := rs.byID[id]
	return r, ok
}

// IgnoredDomain reports whether a host is on the operator ignore-list.
func (rs *RuleSet) IgnoredDomain(host string) bool {
	return rs.ignoreDomains[host]
}

// IgnoredURL reports whether a URL matches any ignore pattern.
func (rs *RuleSet) IgnoredURL(url string) bool {
	for _, re := range rs.ignorePatterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// Len returns the number of enabled rules in the set.
func (rs *RuleSet) Len() int {
	return rs.ruleCount
}

// PatternErrors returns how many patterns failed to compile while building
// this set.
func (rs *RuleSet) PatternErrors() int {
	return rs.patternErrors
}

// SeverityColor returns the display color for a severity, defaulting to the
// low/benign color for unknown values.
func (rs *RuleSet) SeverityColor(s model.Severity) string {
	if c, ok := rs.severityColors[string(s)]; ok {
		return c
	}
	return "#4CAF50"
}

// SeverityLabel returns the display label for a severity.
func (rs *RuleSet) SeverityLabel(s model.Severity) string {
	if l, ok := rs.severityLabels[string(s)]; ok {
		return l
	}
	return string(s)
}

// EventTypeLabel returns the display label for an observation type.
func (rs *RuleSet) EventTypeLabel(t model.ObservationType) string {
	if l, ok := rs.eventTypes[string(t)]; ok {
		return l
	}
	return string(t)
}

// IDs returns the ids of all enabled rules, for summaries.
func (rs *RuleSet) IDs() []string {
	ids := make([]string, 0, len(rs.byID))
	for id := range rs.byID {
		ids = append(ids, id)
	}
	return ids
}
