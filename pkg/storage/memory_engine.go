package storage

import (
	"bytes"
	"sort"
	"sync"
)

// MemoryEngine is a thread-safe in-memory Engine implementation. Useful
// for unit tests that need transactional semantics without disk I/O,
// the same role the teacher's MemoryEngine plays for its graph storage.
//
// Unlike BadgerEngine, data is not persisted and is lost on Close.
type MemoryEngine struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryEngine creates an empty in-memory Engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{data: make(map[string][]byte)}
}

// View implements Engine. Snapshots the keyspace under a read lock for
// the duration of fn so concurrent writers cannot be observed mid-update.
func (e *MemoryEngine) View(fn func(Txn) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return fn(&memoryTxn{engine: e, readOnly: true})
}

// Update implements Engine. Buffers writes and applies them atomically
// only if fn returns nil.
func (e *MemoryEngine) Update(fn func(Txn) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	tx := &memoryTxn{
		engine:  e,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.writes {
		e.data[k] = v
	}
	for k := range tx.deletes {
		delete(e.data, k)
	}
	return nil
}

// Sync implements Engine. In-memory data has no durability guarantee to
// flush, so this is a no-op beyond the closed check.
func (e *MemoryEngine) Sync() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Engine.
func (e *MemoryEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.data = nil
	return nil
}

type memoryTxn struct {
	engine   *MemoryEngine
	readOnly bool
	writes   map[string][]byte
	deletes  map[string]struct{}
}

func (t *memoryTxn) Get(key []byte) ([]byte, error) {
	k := string(key)
	if !t.readOnly {
		if _, deleted := t.deletes[k]; deleted {
			return nil, ErrKeyNotFound
		}
		if v, ok := t.writes[k]; ok {
			return bytes.Clone(v), nil
		}
	}
	v, ok := t.engine.data[k]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

func (t *memoryTxn) Set(key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	k := string(key)
	delete(t.deletes, k)
	t.writes[k] = bytes.Clone(value)
	return nil
}

func (t *memoryTxn) Delete(key []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	k := string(key)
	delete(t.writes, k)
	t.deletes[k] = struct{}{}
	return nil
}

func (t *memoryTxn) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	merged := make(map[string][]byte, len(t.engine.data))
	for k, v := range t.engine.data {
		merged[k] = v
	}
	if !t.readOnly {
		for k := range t.deletes {
			delete(merged, k)
		}
		for k, v := range t.writes {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !fn([]byte(k), bytes.Clone(merged[k])) {
			break
		}
	}
	return nil
}
