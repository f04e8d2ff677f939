package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IZEUS01/Exfil-Guard/internal/metrics"
	"github.com/IZEUS01/Exfil-Guard/internal/model"
	"github.com/IZEUS01/Exfil-Guard/internal/persist"
)

func newTestStore(t *testing.T, maxEvents int) (*Store, *persist.Memory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	mem := persist.NewMemory()
	s := New(mem, maxEvents, metrics.NewWithRegistry(prometheus.NewRegistry()), logger)
	t.Cleanup(s.Close)
	return s, mem
}

func testEvent(id string, severity model.Severity, ts time.Time) *model.Event {
	return &model.Event{
		ID:        id,
		Timestamp: ts,
		Domain:    "example.com",
		Type:      model.TypeFormInput,
		Severity:  severity,
	}
}

func TestStore_CapacityBound(t *testing.T) {
	s, _ := newTestStore(t, 1000)

	now := time.Now()
	for i := 0; i < 1000; i++ {
		s.Insert(testEvent(fmt.Sprintf("evt-%d", i), model.SeverityLow, now))
	}
	assert.Equal(t, 1000, s.Stats().Total)

	s.Insert(testEvent("evt-1000", model.SeverityLow, now))

	stats := s.Stats()
	assert.Equal(t, 1000, stats.Total)

	events := s.Query(Filter{})
	assert.Equal(t, "evt-1", events[0].ID, "oldest event should be evicted")
	assert.Equal(t, "evt-1000", events[len(events)-1].ID)
}

func TestStore_EvictionIsFIFO(t *testing.T) {
	s, _ := newTestStore(t, 3)

	now := time.Now()
	for i := 0; i < 3; i++ {
		s.Insert(testEvent(fmt.Sprintf("evt-%d", i), model.SeverityLow, now))
	}
	s.Insert(testEvent("evt-3", model.SeverityLow, now))

	events := s.Query(Filter{})
	require.Len(t, events, 3)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, "evt-2", events[1].ID)
	assert.Equal(t, "evt-3", events[2].ID)
}

func TestStore_QueryFilters(t *testing.T) {
	s, _ := newTestStore(t, 100)

	now := time.Now()
	for i := 0; i < 10; i++ {
		severity := model.SeverityLow
		if i%2 == 0 {
			severity = model.SeverityHigh
		}
		event := testEvent(fmt.Sprintf("evt-%d", i), severity, now)
		if i >= 8 {
			event.Type = model.TypeNetwork
		}
		s.Insert(event)
	}

	t.Run("severity filter", func(t *testing.T) {
		events := s.Query(Filter{Severity: model.SeverityHigh})
		assert.Len(t, events, 5)
		for _, e := range events {
			assert.Equal(t, model.SeverityHigh, e.Severity)
		}
	})

	t.Run("type filter", func(t *testing.T) {
		events := s.Query(Filter{Type: model.TypeNetwork})
		assert.Len(t, events, 2)
	})

	t.Run("limit keeps most recent tail in arrival order", func(t *testing.T) {
		events := s.Query(Filter{Severity: model.SeverityHigh, Limit: 2})
		require.Len(t, events, 2)
		assert.Equal(t, "evt-6", events[0].ID)
		assert.Equal(t, "evt-8", events[1].ID)
	})

	t.Run("no filter returns everything oldest first", func(t *testing.T) {
		events := s.Query(Filter{})
		require.Len(t, events, 10)
		assert.Equal(t, "evt-0", events[0].ID)
		assert.Equal(t, "evt-9", events[9].ID)
	})
}

func TestStore_Stats(t *testing.T) {
	s, _ := newTestStore(t, 100)

	now := time.Now()
	yesterday := now.Add(-36 * time.Hour)

	e1 := testEvent("evt-1", model.SeverityHigh, now)
	e1.Domain = "a.example.com"
	e2 := testEvent("evt-2", model.SeverityCritical, now)
	e2.Domain = "b.example.com"
	e3 := testEvent("evt-3", model.SeverityLow, yesterday)
	e3.Domain = "a.example.com"
	e4 := testEvent("evt-4", model.SeverityMedium, now)
	e4.Domain = "unknown"

	for _, e := range []*model.Event{e1, e2, e3, e4} {
		s.Insert(e)
	}

	stats := s.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.HighRisk)
	assert.Equal(t, 2, stats.UniqueDomains, "unknown domains are not counted")
	assert.Equal(t, 3, stats.EventsToday)
}

func TestStore_Clear(t *testing.T) {
	s, mem := newTestStore(t, 100)

	s.Insert(testEvent("evt-1", model.SeverityHigh, time.Now()))
	s.Clear()

	stats := s.Stats()
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0, stats.HighRisk)
	assert.Equal(t, 0, stats.UniqueDomains)
	assert.Equal(t, 0, stats.EventsToday)
	assert.Empty(t, s.Query(Filter{}))

	// The empty state is what ends up persisted.
	s.Close()
	data, found, err := mem.Load(persist.KeyEvents)
	require.NoError(t, err)
	require.True(t, found)
	var persisted []*model.Event
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Empty(t, persisted)
}

func TestStore_Cleanup(t *testing.T) {
	s, _ := newTestStore(t, 100)

	now := time.Now()
	s.Insert(testEvent("evt-old", model.SeverityLow, now.Add(-8*24*time.Hour)))
	s.Insert(testEvent("evt-fresh", model.SeverityLow, now.Add(-6*24*time.Hour)))
	s.Insert(testEvent("evt-now", model.SeverityLow, now))

	removed := s.Cleanup(now, 7*24*time.Hour)
	assert.Equal(t, 1, removed, "only the 8-day-old event is past the 7-day bound")

	events := s.Query(Filter{})
	require.Len(t, events, 2)
	assert.Equal(t, "evt-fresh", events[0].ID, "survivor order is preserved")
	assert.Equal(t, "evt-now", events[1].ID)

	t.Run("idempotent", func(t *testing.T) {
		assert.Equal(t, 0, s.Cleanup(now, 7*24*time.Hour))
		assert.Equal(t, 2, s.Stats().Total)
	})
}

func TestStore_CleanupDoesNotPersistWhenNothingRemoved(t *testing.T) {
	s, mem := newTestStore(t, 100)

	s.Insert(testEvent("evt-1", model.SeverityLow, time.Now()))
	s.Close() // drain the insert's persistence write
	saves := mem.Saves()

	s2 := New(mem, 100, metrics.NewWithRegistry(prometheus.NewRegistry()),
		slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	require.NoError(t, s2.LoadInitial())
	s2.Cleanup(time.Now(), 7*24*time.Hour)
	s2.Close()

	assert.Equal(t, saves, mem.Saves(), "a no-op cleanup must not write")
}

func TestStore_PersistAndRestore(t *testing.T) {
	s, mem := newTestStore(t, 100)

	now := time.Now().Truncate(time.Millisecond)
	s.Insert(testEvent("evt-1", model.SeverityHigh, now))
	s.Insert(testEvent("evt-2", model.SeverityLow, now))
	s.Close()

	// Last-enqueued state wins; the persisted sequence matches memory.
	_, found, err := mem.Load(persist.KeyLastUpdate)
	require.NoError(t, err)
	assert.True(t, found)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	restored := New(mem, 100, metrics.NewWithRegistry(prometheus.NewRegistry()), logger)
	defer restored.Close()
	require.NoError(t, restored.LoadInitial())

	events := restored.Query(Filter{})
	require.Len(t, events, 2)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, "evt-2", events[1].ID)
}

func TestStore_RestoreTrimsToCapacity(t *testing.T) {
	s, mem := newTestStore(t, 100)
	now := time.Now()
	for i := 0; i < 50; i++ {
		s.Insert(testEvent(fmt.Sprintf("evt-%d", i), model.SeverityLow, now))
	}
	s.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	small := New(mem, 10, metrics.NewWithRegistry(prometheus.NewRegistry()), logger)
	defer small.Close()
	require.NoError(t, small.LoadInitial())

	events := small.Query(Filter{})
	require.Len(t, events, 10)
	assert.Equal(t, "evt-40", events[0].ID, "restore keeps the most recent events")
}

func TestStore_PersistenceFailureKeepsMemoryAuthoritative(t *testing.T) {
	s, mem := newTestStore(t, 100)
	mem.FailSaves = true

	s.Insert(testEvent("evt-1", model.SeverityHigh, time.Now()))
	assert.Equal(t, 1, s.Stats().Total, "a failed durable write never loses the in-memory event")
}

func TestStore_HookRunsAfterInsert(t *testing.T) {
	s, _ := newTestStore(t, 100)

	var mu sync.Mutex
	var gotEvent *model.Event
	var gotStats Stats
	s.SetHook(func(event *model.Event, stats Stats) {
		mu.Lock()
		defer mu.Unlock()
		gotEvent = event
		gotStats = stats
	})

	s.Insert(testEvent("evt-1", model.SeverityCritical, time.Now()))

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, gotEvent)
	assert.Equal(t, "evt-1", gotEvent.ID)
	assert.Equal(t, 1, gotStats.HighRisk)
}

func TestStore_DurableStateMatchesMemory(t *testing.T) {
	s, mem := newTestStore(t, 500)

	var wg sync.WaitGroup
	now := time.Now()
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Insert(testEvent(fmt.Sprintf("p%d-%d", producer, i), model.SeverityLow, now))
			}
		}(p)
	}
	wg.Wait()

	inMemory := s.Query(Filter{})
	s.Close()

	// The last snapshot to land is the newest one; a delayed write from an
	// earlier mutation can never overwrite it.
	data, found, err := mem.Load(persist.KeyEvents)
	require.NoError(t, err)
	require.True(t, found)
	var persisted []*model.Event
	require.NoError(t, json.Unmarshal(data, &persisted))
	require.Len(t, persisted, len(inMemory))
	for i := range inMemory {
		assert.Equal(t, inMemory[i].ID, persisted[i].ID)
	}
}

func TestStore_StatsHookFiresOnClearAndCleanup(t *testing.T) {
	s, _ := newTestStore(t, 100)

	var mu sync.Mutex
	var calls []Stats
	s.SetStatsHook(func(stats Stats) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, stats)
	})

	now := time.Now()
	s.Insert(testEvent("evt-old", model.SeverityCritical, now.Add(-8*24*time.Hour)))

	s.Cleanup(now, 7*24*time.Hour)
	mu.Lock()
	require.Len(t, calls, 1, "cleanup that removed something fires the hook")
	assert.Equal(t, 0, calls[0].HighRisk)
	mu.Unlock()

	s.Cleanup(now, 7*24*time.Hour)
	mu.Lock()
	assert.Len(t, calls, 1, "a no-op cleanup stays silent")
	mu.Unlock()

	s.Insert(testEvent("evt-now", model.SeverityHigh, now))
	s.Clear()
	mu.Lock()
	require.Len(t, calls, 2)
	assert.Equal(t, Stats{}, calls[1])
	mu.Unlock()
}

func TestStore_ConcurrentInserts(t *testing.T) {
	s, _ := newTestStore(t, 500)

	var wg sync.WaitGroup
	now := time.Now()
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Insert(testEvent(fmt.Sprintf("p%d-%d", producer, i), model.SeverityLow, now))
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 500, s.Stats().Total, "capacity bound holds under concurrent producers")
}
