package store

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IZEUS01/Exfil-Guard/internal/metrics"
	"github.com/IZEUS01/Exfil-Guard/internal/model"
	"github.com/IZEUS01/Exfil-Guard/internal/persist"
)

// Filter selects events for a query. A zero field places no restriction on
// that dimension. Limit keeps only the most recent Limit matching events,
// still returned oldest first.
type Filter struct {
	Severity model.Severity        `json:"severity,omitempty"`
	Type     model.ObservationType `json:"type,omitempty"`
	Limit    int                   `json:"limit,omitempty"`
}

// Stats are the aggregate counts over the retained events.
type Stats struct {
	Total         int `json:"total"`
	HighRisk      int `json:"high_risk"`
	UniqueDomains int `json:"unique_domains"`
	EventsToday   int `json:"events_today"`
}

// InsertHook runs after every successful insert with the inserted event and
// the post-insert aggregates. Hooks must not block.
type InsertHook func(event *model.Event, stats Stats)

// persistJob is one snapshot of serialized store state bound for the durable
// collaborator.
type persistJob struct {
	events []byte
	at     time.Time
}

// Store is the capacity- and age-bounded, arrival-ordered event collection.
// All mutation is serialized through the write lock, so eviction is atomic
// relative to any concurrent read. Persistence is fire-and-forget through an
// ordered single-consumer queue: the in-memory state is authoritative the
// moment a mutation returns, and a delayed write can never overwrite a later
// snapshot because snapshots are produced AND enqueued under the write lock,
// coalescing any pending job into the newest state.
type Store struct {
	mu        sync.RWMutex
	events    []*model.Event
	maxEvents int

	persister persist.Persister
	persistCh chan persistJob
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	hook      InsertHook
	statsHook func(Stats)

	cleanupStop chan struct{}
	cleanupOnce sync.Once

	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a store bounded at maxEvents and starts the persistence
// consumer.
func New(persister persist.Persister, maxEvents int, m *metrics.Metrics, logger *slog.Logger) *Store {
	s := &Store{
		maxEvents:   maxEvents,
		persister:   persister,
		persistCh:   make(chan persistJob, 1),
		done:        make(chan struct{}),
		cleanupStop: make(chan struct{}),
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
	s.wg.Add(1)
	go s.persistLoop()
	return s
}

// SetHook registers the post-insert hook. Call before producers start.
func (s *Store) SetHook(hook InsertHook) {
	s.hook = hook
}

// SetStatsHook registers a callback fired with the post-mutation aggregates
// after clear and age cleanup, so derived artifacts track every mutation and
// not just inserts. Call before producers start.
func (s *Store) SetStatsHook(hook func(Stats)) {
	s.statsHook = hook
}

// LoadInitial restores the persisted event sequence, re-trimming to the
// capacity bound. A read failure leaves the store empty; memory is
// authoritative from here on.
func (s *Store) LoadInitial() error {
	data, found, err := s.persister.Load(persist.KeyEvents)
	if err != nil {
		s.metrics.PersistFailures.Inc()
		return err
	}
	if !found {
		return nil
	}

	var events []*model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return err
	}
	if len(events) > s.maxEvents {
		events = events[len(events)-s.maxEvents:]
	}

	s.mu.Lock()
	s.events = events
	total := len(events)
	s.mu.Unlock()

	s.metrics.EventsInStore.Set(float64(total))
	s.logger.Info("Restored persisted events", "count", total)
	return nil
}

// Insert appends an event, evicting oldest-first past the capacity bound,
// then enqueues persistence and runs the post-insert hook.
func (s *Store) Insert(event *model.Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	evicted := 0
	for len(s.events) > s.maxEvents {
		s.events[0] = nil
		s.events = s.events[1:]
		evicted++
	}
	stats := s.statsLocked()
	s.enqueuePersist(s.snapshotLocked())
	s.mu.Unlock()

	s.metrics.EventsStored.Inc()
	if evicted > 0 {
		s.metrics.EventsEvicted.WithLabelValues("capacity").Add(float64(evicted))
	}
	s.metrics.EventsInStore.Set(float64(stats.Total))
	s.metrics.HighRiskEvents.Set(float64(stats.HighRisk))

	if s.hook != nil {
		s.hook(event, stats)
	}
}

// Query returns the matching events in arrival order, oldest first. With a
// limit, only the most recent limit matching events are returned (the tail of
// the filtered sequence, not the highest-severity ones).
func (s *Store) Query(filter Filter) []*model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*model.Event, 0, len(s.events))
	for _, event := range s.events {
		if filter.Severity != "" && event.Severity != filter.Severity {
			continue
		}
		if filter.Type != "" && event.Type != filter.Type {
			continue
		}
		matched = append(matched, event)
	}

	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[len(matched)-filter.Limit:]
	}
	return matched
}

// Stats computes the aggregate counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked()
}

func (s *Store) statsLocked() Stats {
	stats := Stats{Total: len(s.events)}

	domains := make(map[string]bool)
	startOfDay := startOfToday(s.now())
	for _, event := range s.events {
		if event.HighRisk() {
			stats.HighRisk++
		}
		if event.Domain != "" && event.Domain != "unknown" {
			domains[event.Domain] = true
		}
		if !event.Timestamp.Before(startOfDay) {
			stats.EventsToday++
		}
	}
	stats.UniqueDomains = len(domains)
	return stats
}

// Clear empties the sequence and persists the empty state.
func (s *Store) Clear() {
	s.mu.Lock()
	s.events = nil
	stats := s.statsLocked()
	s.enqueuePersist(s.snapshotLocked())
	s.mu.Unlock()

	s.metrics.EventsInStore.Set(0)
	s.metrics.HighRiskEvents.Set(0)
	if s.statsHook != nil {
		s.statsHook(stats)
	}
	s.logger.Info("All events cleared")
}

// Cleanup removes every event older than maxAge relative to now, preserving
// survivor order, and returns the number removed. It persists only when it
// actually removed something.
func (s *Store) Cleanup(now time.Time, maxAge time.Duration) int {
	cutoff := now.Add(-maxAge)

	s.mu.Lock()
	survivors := s.events[:0]
	for _, event := range s.events {
		if event.Timestamp.Before(cutoff) {
			continue
		}
		survivors = append(survivors, event)
	}
	removed := len(s.events) - len(survivors)
	for i := len(survivors); i < len(s.events); i++ {
		s.events[i] = nil
	}
	s.events = survivors

	stats := s.statsLocked()
	if removed > 0 {
		s.enqueuePersist(s.snapshotLocked())
	}
	s.mu.Unlock()

	if removed > 0 {
		s.metrics.EventsEvicted.WithLabelValues("age").Add(float64(removed))
		s.metrics.EventsInStore.Set(float64(stats.Total))
		s.metrics.HighRiskEvents.Set(float64(stats.HighRisk))
		if s.statsHook != nil {
			s.statsHook(stats)
		}
		s.logger.Info("Cleaned up old events", "removed", removed, "max_age", maxAge)
	}
	return removed
}

// StartCleanup runs Cleanup on a fixed interval until StopCleanup or Close.
func (s *Store) StartCleanup(interval, maxAge time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.cleanupStop:
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.Cleanup(s.now(), maxAge)
			}
		}
	}()
}

// StopCleanup stops the cleanup ticker.
func (s *Store) StopCleanup() {
	s.cleanupOnce.Do(func() { close(s.cleanupStop) })
}

// Close stops background work, flushing any pending persistence write.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

// snapshotLocked serializes the current sequence for the persistence queue.
// Must be called with the write lock held so snapshots are produced in
// mutation order.
func (s *Store) snapshotLocked() persistJob {
	data, err := json.Marshal(s.events)
	if err != nil {
		// Events are plain data; marshal failure would be a programming error.
		s.logger.Error("Failed to serialize events for persistence", "error", err)
		data = []byte("[]")
	}
	return persistJob{events: data, at: s.now()}
}

// enqueuePersist hands a snapshot to the single-consumer queue. When a write
// is already pending it is replaced, so the queue always carries the newest
// state and a delayed persist can never clobber a later one. Must be called
// with the write lock held so jobs enter the queue in mutation order; the
// send never blocks, it replaces.
func (s *Store) enqueuePersist(job persistJob) {
	for {
		select {
		case s.persistCh <- job:
			return
		default:
			select {
			case <-s.persistCh:
			default:
			}
		}
	}
}

func (s *Store) persistLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			// Flush the pending snapshot, if any, before exiting.
			select {
			case job := <-s.persistCh:
				s.persistOne(job)
			default:
			}
			return
		case job := <-s.persistCh:
			s.persistOne(job)
		}
	}
}

func (s *Store) persistOne(job persistJob) {
	if err := s.persister.Save(persist.KeyEvents, job.events); err != nil {
		s.metrics.PersistFailures.Inc()
		s.logger.Error("Failed to persist events, in-memory state remains authoritative", "error", err)
		return
	}
	if err := s.persister.Save(persist.KeyLastUpdate, []byte(job.at.Format(time.RFC3339Nano))); err != nil {
		s.metrics.PersistFailures.Inc()
		s.logger.Error("Failed to persist last-update instant", "error", err)
	}
}

func startOfToday(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location())
}
