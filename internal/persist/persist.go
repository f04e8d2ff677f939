package persist

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// Logical keys the core persists under.
const (
	KeyEvents     = "detected_events"
	KeyLastUpdate = "last_update"
)

// Persister is the durable key-value collaborator the core writes to and
// reads from but does not implement. Writes are issued from a single ordered
// queue, so implementations do not need to serialize callers.
type Persister interface {
	Load(key string) (value []byte, found bool, err error)
	Save(key string, value []byte) error
}

// KVStore persists under a NATS JetStream key-value bucket.
type KVStore struct {
	kv nats.KeyValue
}

// NewKVStore binds to the named bucket, creating it if absent.
func NewKVStore(nc *nats.Conn, bucket string) (*KVStore, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "ExfilGuard event history",
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open KV bucket %q: %w", bucket, err)
	}

	return &KVStore{kv: kv}, nil
}

// Load fetches a key. A missing key is reported as absent, not as an error.
func (s *KVStore) Load(key string) ([]byte, bool, error) {
	entry, err := s.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load %q: %w", key, err)
	}
	return entry.Value(), true, nil
}

// Save writes a key.
func (s *KVStore) Save(key string, value []byte) error {
	if _, err := s.kv.Put(key, value); err != nil {
		return fmt.Errorf("failed to save %q: %w", key, err)
	}
	return nil
}

// Memory is an in-process Persister for tests.
type Memory struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int

	// FailSaves makes every Save return an error, for failure-path tests.
	FailSaves bool
}

// NewMemory creates an empty in-memory persister.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Load(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *Memory) Save(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return errors.New("save failed")
	}
	m.saves++
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Saves returns how many writes have landed.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
