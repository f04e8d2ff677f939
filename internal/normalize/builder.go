package normalize

import (
	"fmt"
	"net/url"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/IZEUS01/Exfil-Guard/internal/classify"
	"github.com/IZEUS01/Exfil-Guard/internal/model"
)

// Preview caps per source kind. The canonical event never retains more than
// these many characters of captured content.
const (
	maxFormPreview      = 50
	maxClipboardPreview = 100
	maxBodyPreview      = 200
	maxStoragePreview   = 30
)

// ErrMalformed is returned when an observation is missing fields the
// normalizer cannot safely default. The observation is dropped and logged.
type ErrMalformed struct {
	Reason string
}

func (e *ErrMalformed) Error() string {
	return "malformed observation: " + e.Reason
}

// Builder converts a raw observation plus its resolved severity into a
// canonical Event. Safe for concurrent use; the sequence counter is atomic.
type Builder struct {
	sequence atomic.Uint64
	now      func() time.Time
}

// NewBuilder creates an event builder.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// NewBuilderAt creates a builder with a fixed clock, for tests.
func NewBuilderAt(now func() time.Time) *Builder {
	return &Builder{now: now}
}

// Build produces the canonical event for an observation. Oversized captured
// content is reduced to bounded previews and lengths; the strongest finding's
// rule id and pattern are carried along for operator review.
func (b *Builder) Build(obs *model.Observation, findings []classify.Finding, severity model.Severity) (*model.Event, error) {
	if !obs.Type.Valid() {
		return nil, &ErrMalformed{Reason: fmt.Sprintf("unknown observation type %q", obs.Type)}
	}

	ts := obs.Timestamp
	if ts.IsZero() {
		ts = b.now()
	}
	if !severity.Valid() {
		severity = model.SeverityLow
	}

	event := &model.Event{
		ID:        b.generateID(ts),
		Sequence:  b.sequence.Add(1),
		Timestamp: ts,
		Domain:    extractDomain(observationURL(obs)),
		Type:      obs.Type,
		Severity:  severity,
	}

	switch obs.Type {
	case model.TypeFormInput:
		if obs.Form == nil {
			return nil, &ErrMalformed{Reason: "form_input observation without form payload"}
		}
		event.FieldName = obs.Form.FieldName
		event.FieldType = obs.Form.FieldType
		event.Preview = truncate(obs.Form.Value, maxFormPreview)
		event.Length = len(obs.Form.Value)
	case model.TypeNetwork:
		if obs.Network == nil {
			return nil, &ErrMalformed{Reason: "network observation without request payload"}
		}
		event.Method = obs.Network.Method
		event.URL = obs.Network.URL
		event.Preview = truncate(obs.Network.Body, maxBodyPreview)
		event.Length = len(obs.Network.Body)
	case model.TypeStorage:
		if obs.Storage == nil {
			return nil, &ErrMalformed{Reason: "storage observation without access payload"}
		}
		event.StorageOp = obs.Storage.Op
		event.StorageKey = obs.Storage.Key
		event.Preview = truncate(obs.Storage.Value, maxStoragePreview)
		event.Length = len(obs.Storage.Value)
	case model.TypeClipboard:
		if obs.Clipboard == nil {
			return nil, &ErrMalformed{Reason: "clipboard observation without payload"}
		}
		event.ClipboardAction = obs.Clipboard.Action
		event.Preview = truncate(obs.Clipboard.Preview, maxClipboardPreview)
		event.Length = obs.Clipboard.Length
	case model.TypeScriptAnalysis:
		if obs.Script == nil {
			return nil, &ErrMalformed{Reason: "script_analysis observation without script payload"}
		}
		event.URL = obs.Script.SourceURL
		event.Length = len(obs.Script.Content)
	}

	if winner := strongest(findings); winner != nil {
		event.RuleID = winner.RuleID
		event.MatchedPattern = winner.MatchedPattern
	}

	return event, nil
}

// Validate checks the fields every stored event must carry. An unrecognized
// severity is coerced to low rather than rejected.
func Validate(event *model.Event) bool {
	if event == nil {
		return false
	}
	if event.ID == "" || event.Timestamp.IsZero() || !event.Type.Valid() {
		return false
	}
	if !event.Severity.Valid() {
		event.Severity = model.SeverityLow
	}
	return true
}

// generateID composes the creation instant with a random disambiguator so ids
// from the same millisecond never collide.
func (b *Builder) generateID(ts time.Time) string {
	return fmt.Sprintf("evt_%d_%s", ts.UnixMilli(), uuid.NewString()[:8])
}

func observationURL(obs *model.Observation) string {
	switch {
	case obs.Type == model.TypeNetwork && obs.Network != nil && obs.Network.URL != "":
		return obs.Network.URL
	case obs.Type == model.TypeScriptAnalysis && obs.Script != nil && obs.Script.SourceURL != "":
		return obs.Script.SourceURL
	}
	return obs.PageURL
}

func extractDomain(rawURL string) string {
	if rawURL == "" {
		return "unknown"
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

func strongest(findings []classify.Finding) *classify.Finding {
	var winner *classify.Finding
	for i := range findings {
		if winner == nil || findings[i].Severity.Level() > winner.Severity.Level() {
			winner = &findings[i]
		}
	}
	return winner
}

// truncate cuts on a rune boundary so a preview never carries a split
// multi-byte character.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
