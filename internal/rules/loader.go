package rules

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/IZEUS01/Exfil-Guard/internal/model"
)

// LoadError wraps a rule source failure. Callers that see one are already
// running on the built-in defaults; the error exists for logging and metrics.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load rules from %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader resolves the active RuleSet from a fetchable URL, a local file, or
// the built-in defaults, in that order. Reloads swap the snapshot atomically.
type Loader struct {
	url      string
	path     string
	client   *http.Client
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.RWMutex
	snapshot *RuleSet

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	done     chan struct{}
}

// NewLoader creates a rule loader. Either url or path may be empty.
func NewLoader(url, path string, debounce time.Duration, logger *slog.Logger) *Loader {
	return &Loader{
		url:      url,
		path:     path,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
		debounce: debounce,
		done:     make(chan struct{}),
	}
}

// Load resolves and installs a fresh RuleSet. On any source failure the
// built-in defaults are installed instead, so classification never runs with
// zero rules; the returned error describes what failed.
func (l *Loader) Load() (*RuleSet, error) {
	doc, source, err := l.fetchDocument()
	if err != nil {
		l.logger.Warn("Rule source unavailable, falling back to built-in defaults", "error", err)
		doc = DefaultDocument()
		source = "builtin"
	}

	rs := Compile(doc, source, l.logger)
	l.mu.Lock()
	l.snapshot = rs
	l.mu.Unlock()

	l.logger.Info("Rules loaded",
		"source", source,
		"rules", rs.Len(),
		"pattern_errors", rs.PatternErrors(),
		"version", rs.Version)
	return rs, err
}

// Snapshot returns the current rule set. Safe for concurrent use; the
// returned set is immutable.
func (l *Loader) Snapshot() *RuleSet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.snapshot == nil {
		// Load was never called; behave as if the source had failed.
		return Compile(DefaultDocument(), "builtin", l.logger)
	}
	return l.snapshot
}

// fetchDocument reads the rule document from the first available source.
func (l *Loader) fetchDocument() (Document, string, error) {
	if l.url != "" {
		doc, err := l.fetchURL()
		if err == nil {
			return doc, l.url, nil
		}
		l.logger.Warn("Failed to fetch rules from URL", "url", l.url, "error", err)
		if l.path == "" {
			return Document{}, l.url, &LoadError{Source: l.url, Err: err}
		}
	}
	if l.path != "" {
		doc, err := l.readFile()
		if err != nil {
			return Document{}, l.path, &LoadError{Source: l.path, Err: err}
		}
		return doc, l.path, nil
	}
	return Document{}, "builtin", &LoadError{Source: "none", Err: fmt.Errorf("no rule source configured")}
}

func (l *Loader) fetchURL() (Document, error) {
	resp, err := l.client.Get(l.url)
	if err != nil {
		return Document{}, fmt.Errorf("failed to fetch rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("rule source returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Document{}, fmt.Errorf("failed to read rule document: %w", err)
	}
	return parseDocument(data)
}

func (l *Loader) readFile() (Document, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read rule file: %w", err)
	}
	return parseDocument(data)
}

// parseDocument parses a rule document in YAML or JSON form and checks it
// against the document schema.
func parseDocument(data []byte) (Document, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("failed to parse rule document: %w", err)
	}
	if err := validateDocument(raw); err != nil {
		return Document{}, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode rule document: %w", err)
	}
	return doc, nil
}

// Compile builds an immutable RuleSet from a document. Disabled and invalid
// rules are skipped with a warning; an unparsable pattern drops only that
// pattern, never the rule or the rest of the set.
func Compile(doc Document, source string, logger *slog.Logger) *RuleSet {
	rs := &RuleSet{
		Version:        time.Now().UnixNano(),
		Source:         source,
		byType:         make(map[model.ObservationType][]*CompiledRule),
		byID:           make(map[string]*CompiledRule),
		ignoreDomains:  make(map[string]bool),
		severityColors: doc.SeverityColors,
		severityLabels: doc.SeverityLabels,
		eventTypes:     doc.EventTypes,
	}

	for _, rule := range doc.Rules {
		if !rule.Enabled {
			logger.Debug("Skipping disabled rule", "rule_id", rule.ID)
			continue
		}
		if err := rule.Validate(); err != nil {
			logger.Warn("Invalid rule skipped", "rule_id", rule.ID, "error", err)
			continue
		}
		if _, exists := rs.byID[rule.ID]; exists {
			logger.Warn("Duplicate rule id, later definition wins", "rule_id", rule.ID)
		}

		compiled := &CompiledRule{Rule: rule}
		for _, pattern := range rule.Patterns {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				logger.Warn("Invalid rule pattern skipped", "rule_id", rule.ID, "pattern", pattern, "error", err)
				rs.patternErrors++
				continue
			}
			compiled.Compiled = append(compiled.Compiled, re)
		}

		t := model.ObservationType(rule.Type)
		rs.byType[t] = append(rs.byType[t], compiled)
		rs.byID[rule.ID] = compiled
		rs.ruleCount++
	}

	for _, domain := range doc.IgnoreDomains {
		rs.ignoreDomains[domain] = true
	}
	for _, pattern := range doc.IgnorePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			logger.Warn("Invalid ignore pattern skipped", "pattern", pattern, "error", err)
			rs.patternErrors++
			continue
		}
		rs.ignorePatterns = append(rs.ignorePatterns, re)
	}

	return rs
}

// Watch starts an fsnotify watcher on the rule file and reloads the set,
// debounced, when it changes. No-op when no file path is configured.
func (l *Loader) Watch() error {
	if l.path == "" {
		l.logger.Info("Rule file watch disabled, no file configured")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rule watcher: %w", err)
	}
	// Watch the directory so editor rename-and-replace writes are seen.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch rule directory: %w", err)
	}
	l.watcher = watcher
	l.logger.Info("Watching rule file for changes", "path", l.path)

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	var timer *time.Timer
	target := filepath.Clean(l.path)

	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(l.debounce, func() {
				l.logger.Info("Rule file changed, reloading", "path", l.path)
				if _, err := l.Load(); err != nil {
					l.logger.Error("Failed to reload rules", "error", err)
				}
			})
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("Rule watcher error", "error", err)
		}
	}
}

// Close stops the file watcher.
func (l *Loader) Close() {
	l.stopOnce.Do(func() {
		close(l.done)
		if l.watcher != nil {
			l.watcher.Close()
		}
	})
}
