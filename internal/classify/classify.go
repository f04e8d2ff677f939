package classify

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/IZEUS01/Exfil-Guard/internal/model"
	"github.com/IZEUS01/Exfil-Guard/internal/rules"
)

// Finding is the result of one rule or pattern match against an observation.
// Findings are ephemeral; only the winning severity survives into the stored
// event, together with the winning rule id and pattern.
type Finding struct {
	RuleID         string         `json:"rule_id"`
	RuleName       string         `json:"rule_name"`
	Severity       model.Severity `json:"severity"`
	MatchedPattern string         `json:"matched_pattern,omitempty"`
	Detail         string         `json:"detail,omitempty"`
}

// sensitiveTerms drive the type-specific default heuristics when no explicit
// rule matches.
var sensitiveTerms = []string{"password", "credit", "card", "ssn", "cvv", "secret", "token", "auth"}

var sensitiveStorageTerms = []string{"token", "auth", "session", "jwt", "password", "secret"}

const defaultClipboardThreshold = 100

// Classifier evaluates raw observations against the active rule set. Each
// call reads one consistent rule snapshot, so a concurrent reload is seen
// entirely or not at all.
type Classifier struct {
	loader *rules.Loader
	logger *slog.Logger

	// External-domain verdicts are pure functions of the rule set version and
	// the two hosts involved, so they are cached.
	domainVerdicts *lru.Cache[string, bool]
}

// New creates a classifier backed by the given rule loader.
func New(loader *rules.Loader, logger *slog.Logger) *Classifier {
	verdicts, _ := lru.New[string, bool](4096)
	return &Classifier{
		loader:         loader,
		logger:         logger,
		domainVerdicts: verdicts,
	}
}

// Classify dispatches an observation to the matching per-kind operation.
func (c *Classifier) Classify(obs *model.Observation) ([]Finding, model.Severity) {
	switch obs.Type {
	case model.TypeFormInput:
		if obs.Form == nil {
			return nil, model.SeverityLow
		}
		return c.Form(obs.Form.FieldName, obs.Form.FieldType, obs.Form.Value)
	case model.TypeNetwork:
		if obs.Network == nil {
			return nil, model.SeverityLow
		}
		return c.Network(obs.PageURL, obs.Network.URL, obs.Network.Method, obs.Network.Body)
	case model.TypeStorage:
		if obs.Storage == nil {
			return nil, model.SeverityLow
		}
		return c.Storage(obs.Storage.Op, obs.Storage.Key, obs.Storage.Value)
	case model.TypeClipboard:
		if obs.Clipboard == nil {
			return nil, model.SeverityLow
		}
		return c.Clipboard(obs.Clipboard.Action, obs.Clipboard.Length)
	case model.TypeScriptAnalysis:
		if obs.Script == nil {
			return nil, model.SeverityLow
		}
		return c.Script(obs.Script.SourceURL, obs.Script.Content)
	}
	return nil, model.SeverityLow
}

// Form evaluates a form field edit. The subject text is the lowercased field
// name concatenated with the entered value.
func (c *Classifier) Form(fieldName, fieldType, value string) ([]Finding, model.Severity) {
	rs := c.loader.Snapshot()
	subject := strings.ToLower(fieldName) + " " + value

	findings := c.patternPass(rs, model.TypeFormInput, subject, 0)

	// Password-type fields are flagged even when no pattern matched.
	if strings.EqualFold(fieldType, "password") {
		if rule, ok := rs.ByID(rules.RulePasswordField); ok && !hasRule(findings, rule.ID) {
			findings = append(findings, Finding{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Severity: rule.SeverityLevel(),
				Detail:   fmt.Sprintf("password field %q", fieldName),
			})
		}
	}

	fallback := model.SeverityLow
	if strings.EqualFold(fieldType, "password") || containsAny(strings.ToLower(fieldName), sensitiveTerms) {
		fallback = model.SeverityHigh
	}
	return findings, resolve(findings, fallback)
}

// Network evaluates an outbound request. The subject text is the URL and body
// concatenated.
func (c *Classifier) Network(pageURL, requestURL, method, body string) ([]Finding, model.Severity) {
	rs := c.loader.Snapshot()
	subject := requestURL + " " + body

	findings := c.patternPass(rs, model.TypeNetwork, subject, 0)

	// Cross-site requests get an extra finding unless the destination is the
	// page's own host, a registrable subdomain, or allow-listed.
	if rule, ok := rs.ByID(rules.RuleExternalDomain); ok && !hasRule(findings, rule.ID) {
		if c.isExternal(rs, pageURL, requestURL) {
			findings = append(findings, Finding{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Severity: rule.SeverityLevel(),
				Detail:   fmt.Sprintf("request to external domain %s", hostOf(requestURL)),
			})
		}
	}

	fallback := model.SeverityLow
	if containsAny(strings.ToLower(body), sensitiveTerms) {
		fallback = model.SeverityHigh
	} else if body != "" && !strings.EqualFold(method, "GET") {
		fallback = model.SeverityMedium
	}
	return findings, resolve(findings, fallback)
}

// Storage evaluates a persistent-storage access. Patterns are tested against
// the lowercased key; size-based rules fire on the value length.
func (c *Classifier) Storage(op, key, value string) ([]Finding, model.Severity) {
	rs := c.loader.Snapshot()

	findings := c.patternPass(rs, model.TypeStorage, strings.ToLower(key), len(value))

	fallback := model.SeverityLow
	if containsAny(strings.ToLower(key), sensitiveStorageTerms) {
		fallback = model.SeverityHigh
	}
	return findings, resolve(findings, fallback)
}

// Clipboard evaluates a clipboard copy or paste by payload length.
func (c *Classifier) Clipboard(action string, length int) ([]Finding, model.Severity) {
	rs := c.loader.Snapshot()

	findings := c.patternPass(rs, model.TypeClipboard, action, length)

	if rule, ok := rs.ByID(rules.RuleClipboardLarge); ok && !hasRule(findings, rule.ID) {
		if rule.Threshold > 0 && length > rule.Threshold {
			findings = append(findings, Finding{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Severity: rule.SeverityLevel(),
				Detail:   fmt.Sprintf("clipboard %s of %d chars exceeds threshold %d", action, length, rule.Threshold),
			})
		}
	}

	fallback := model.SeverityLow
	if length > defaultClipboardThreshold {
		fallback = model.SeverityMedium
	}
	return findings, resolve(findings, fallback)
}

// Script evaluates script text for exfiltration-shaped constructs.
func (c *Classifier) Script(sourceURL, content string) ([]Finding, model.Severity) {
	rs := c.loader.Snapshot()
	findings := c.patternPass(rs, model.TypeScriptAnalysis, content, 0)
	return findings, resolve(findings, model.SeverityLow)
}

// patternPass runs every pattern of every enabled rule of the given kind
// against the subject. Pattern-less rules with a threshold fire when the
// payload length exceeds it.
func (c *Classifier) patternPass(rs *rules.RuleSet, t model.ObservationType, subject string, length int) []Finding {
	var findings []Finding
	for _, rule := range rs.ByType(t) {
		if len(rule.Compiled) == 0 {
			if rule.Threshold > 0 && length > rule.Threshold {
				findings = append(findings, Finding{
					RuleID:   rule.ID,
					RuleName: rule.Name,
					Severity: rule.SeverityLevel(),
					Detail:   fmt.Sprintf("payload of %d bytes exceeds threshold %d", length, rule.Threshold),
				})
			}
			continue
		}
		for _, re := range rule.Compiled {
			if re.MatchString(subject) {
				findings = append(findings, Finding{
					RuleID:         rule.ID,
					RuleName:       rule.Name,
					Severity:       rule.SeverityLevel(),
					MatchedPattern: re.String(),
				})
			}
		}
	}
	return findings
}

// isExternal reports whether requestURL points outside the page's own site
// and is not allow-listed.
func (c *Classifier) isExternal(rs *rules.RuleSet, pageURL, requestURL string) bool {
	pageHost := hostOf(pageURL)
	destHost := hostOf(requestURL)
	if pageHost == "" || destHost == "" {
		return false
	}
	if rs.IgnoredURL(requestURL) {
		return false
	}

	key := fmt.Sprintf("%d|%s|%s", rs.Version, pageHost, destHost)
	if verdict, ok := c.domainVerdicts.Get(key); ok {
		return verdict
	}

	external := destHost != pageHost &&
		!strings.HasSuffix(destHost, "."+pageHost) &&
		!strings.HasSuffix(pageHost, "."+destHost) &&
		!rs.IgnoredDomain(destHost)
	c.domainVerdicts.Add(key, external)
	return external
}

// resolve picks the maximum severity across findings, or the heuristic
// fallback when nothing matched.
func resolve(findings []Finding, fallback model.Severity) model.Severity {
	if len(findings) == 0 {
		return fallback
	}
	severity := model.SeverityInfo
	for _, f := range findings {
		severity = model.MaxSeverity(severity, f.Severity)
	}
	return severity
}

func hasRule(findings []Finding, ruleID string) bool {
	for _, f := range findings {
		if f.RuleID == ruleID {
			return true
		}
	}
	return false
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return u.Hostname()
}
