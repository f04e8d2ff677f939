package rules

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IZEUS01/Exfil-Guard/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeRules(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeRules(t, `{
		"rules": [
			{"id": "r1", "name": "One", "type": "network", "patterns": ["token="], "severity": "high", "enabled": true}
		],
		"ignoreDomains": ["cdn.example.com"],
		"ignorePatterns": ["^https?://localhost"]
	}`)

	loader := NewLoader("", path, 0, testLogger())
	rs, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 1, rs.Len())
	assert.Equal(t, path, rs.Source)

	rule, ok := rs.ByID("r1")
	require.True(t, ok)
	assert.Len(t, rule.Compiled, 1)
	assert.True(t, rule.Compiled[0].MatchString("https://x.test/?TOKEN=abc"), "patterns compile case-insensitive")

	assert.True(t, rs.IgnoredDomain("cdn.example.com"))
	assert.False(t, rs.IgnoredDomain("evil.example.net"))
	assert.True(t, rs.IgnoredURL("http://localhost:3000/api"))
}

func TestLoad_FromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - id: form_watch
    name: Form Watch
    type: form_input
    patterns:
      - passphrase
    severity: medium
    enabled: true
`), 0o644))

	loader := NewLoader("", path, 0, testLogger())
	rs, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())
}

func TestLoad_FromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rules": [{"id": "remote", "type": "network", "severity": "low", "enabled": true}]}`))
	}))
	defer srv.Close()

	loader := NewLoader(srv.URL, "", 0, testLogger())
	rs, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())
	assert.Equal(t, srv.URL, rs.Source)
}

func TestLoad_URLFailureFallsBackToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	path := writeRules(t, `{"rules": [{"id": "local", "type": "network", "severity": "low", "enabled": true}]}`)
	loader := NewLoader(srv.URL, path, 0, testLogger())
	rs, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, path, rs.Source)
}

func TestLoad_FallbackToDefaults(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{
			name: "missing file",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.json") },
		},
		{
			name: "unparsable document",
			path: func(t *testing.T) string { return writeRules(t, `{"rules": [`) },
		},
		{
			name: "schema rejection",
			path: func(t *testing.T) string {
				return writeRules(t, `{"rules": [{"id": "bad", "type": "network", "severity": "apocalyptic", "enabled": true}]}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader("", tt.path(t), 0, testLogger())
			rs, err := loader.Load()
			require.Error(t, err)
			var loadErr *LoadError
			assert.ErrorAs(t, err, &loadErr)

			// The set installed despite the failure is the built-in one.
			require.NotNil(t, rs)
			assert.Equal(t, "builtin", rs.Source)
			assert.Greater(t, rs.Len(), 0, "classification never runs with zero rules")
			_, ok := rs.ByID(RulePasswordField)
			assert.True(t, ok)
		})
	}
}

func TestSnapshot_WithoutLoad(t *testing.T) {
	loader := NewLoader("", "", 0, testLogger())
	rs := loader.Snapshot()
	require.NotNil(t, rs)
	assert.Equal(t, "builtin", rs.Source)
	assert.Greater(t, rs.Len(), 0)
}

func TestCompile(t *testing.T) {
	t.Run("disabled rule skipped", func(t *testing.T) {
		rs := Compile(Document{Rules: []Rule{
			{ID: "off", Type: "network", Severity: "low", Enabled: false},
		}}, "test", testLogger())
		assert.Equal(t, 0, rs.Len())
	})

	t.Run("invalid rule skipped without dropping the rest", func(t *testing.T) {
		rs := Compile(Document{Rules: []Rule{
			{ID: "", Type: "network", Severity: "low", Enabled: true},
			{ID: "ok", Type: "network", Severity: "low", Enabled: true},
		}}, "test", testLogger())
		assert.Equal(t, 1, rs.Len())
	})

	t.Run("bad pattern dropped, rule kept", func(t *testing.T) {
		rs := Compile(Document{Rules: []Rule{
			{ID: "mixed", Type: "network", Patterns: []string{"(bad", "good"}, Severity: "low", Enabled: true},
		}}, "test", testLogger())
		assert.Equal(t, 1, rs.Len())
		assert.Equal(t, 1, rs.PatternErrors())
		rule, ok := rs.ByID("mixed")
		require.True(t, ok)
		assert.Len(t, rule.Compiled, 1)
	})

	t.Run("duplicate id, later definition wins", func(t *testing.T) {
		rs := Compile(Document{Rules: []Rule{
			{ID: "dup", Type: "network", Severity: "low", Enabled: true},
			{ID: "dup", Type: "network", Severity: "critical", Enabled: true},
		}}, "test", testLogger())
		rule, ok := rs.ByID("dup")
		require.True(t, ok)
		assert.Equal(t, model.SeverityCritical, rule.SeverityLevel())
	})

	t.Run("bad ignore pattern dropped", func(t *testing.T) {
		rs := Compile(Document{IgnorePatterns: []string{"(bad", "^https?://localhost"}}, "test", testLogger())
		assert.Equal(t, 1, rs.PatternErrors())
		assert.True(t, rs.IgnoredURL("http://localhost/x"))
	})
}

func TestLoad_ReloadSwapsSnapshot(t *testing.T) {
	path := writeRules(t, `{"rules": [{"id": "v1", "type": "network", "severity": "low", "enabled": true}]}`)
	loader := NewLoader("", path, 0, testLogger())
	_, err := loader.Load()
	require.NoError(t, err)
	first := loader.Snapshot()

	require.NoError(t, os.WriteFile(path, []byte(
		`{"rules": [{"id": "v2", "type": "network", "severity": "low", "enabled": true}]}`), 0o644))
	_, err = loader.Load()
	require.NoError(t, err)
	second := loader.Snapshot()

	assert.NotEqual(t, first.Version, second.Version)
	_, ok := first.ByID("v1")
	assert.True(t, ok, "the old snapshot is immutable")
	_, ok = second.ByID("v2")
	assert.True(t, ok)
	_, ok = second.ByID("v1")
	assert.False(t, ok)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := writeRules(t, `{"rules": [{"id": "before", "type": "network", "severity": "low", "enabled": true}]}`)
	loader := NewLoader("", path, 50*time.Millisecond, testLogger())
	defer loader.Close()

	_, err := loader.Load()
	require.NoError(t, err)
	require.NoError(t, loader.Watch())

	require.NoError(t, os.WriteFile(path, []byte(
		`{"rules": [{"id": "after", "type": "network", "severity": "low", "enabled": true}]}`), 0o644))

	require.Eventually(t, func() bool {
		_, ok := loader.Snapshot().ByID("after")
		return ok
	}, 3*time.Second, 25*time.Millisecond)
}
