package storage

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerEngine is a BadgerDB-backed Engine. It provides persistent,
// crash-recoverable storage with ACID transactions, the same way the
// teacher's storage.BadgerEngine wraps badger.DB for its node/edge
// keyspace -- here the keyspace is the DAG node / column cell / meta
// layout of spec §6 instead of a property graph.
type BadgerEngine struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// BadgerOptions configures a BadgerEngine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files. Required
	// unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Data is not
	// persisted; useful for tests that still want transactional
	// semantics without real disk I/O.
	InMemory bool

	// SyncWrites forces fsync after each commit. Slower, more durable.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger badger.Logger
}

// NewBadgerEngine opens a BadgerEngine at dataDir with default settings.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineInMemory opens an in-memory BadgerEngine, used by tests
// that want real transactional semantics without touching disk.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// NewBadgerEngineWithOptions opens a BadgerEngine with explicit tuning,
// mirroring the low-memory defaults the teacher applies for
// containerized deployments.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("storage: opening badgerdb: %w", err)
	}

	return &BadgerEngine{db: db}, nil
}

// View implements Engine.
func (e *BadgerEngine) View(fn func(Txn) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return e.db.View(func(btx *badger.Txn) error {
		return fn(&badgerTxn{btx: btx, readOnly: true})
	})
}

// Update implements Engine.
func (e *BadgerEngine) Update(fn func(Txn) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return e.db.Update(func(btx *badger.Txn) error {
		return fn(&badgerTxn{btx: btx})
	})
}

// Sync implements Engine.
func (e *BadgerEngine) Sync() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return e.db.Sync()
}

// Close implements Engine.
func (e *BadgerEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

type badgerTxn struct {
	btx      *badger.Txn
	readOnly bool
}

func (t *badgerTxn) Get(key []byte) ([]byte, error) {
	item, err := t.btx.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get: %w", err)
	}
	var out []byte
	err = item.Value(func(val []byte) error {
		out = bytes.Clone(val)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: reading value: %w", err)
	}
	return out, nil
}

func (t *badgerTxn) Set(key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if err := t.btx.Set(key, value); err != nil {
		return fmt.Errorf("storage: set: %w", err)
	}
	return nil
}

func (t *badgerTxn) Delete(key []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if err := t.btx.Delete(key); err != nil {
		return fmt.Errorf("storage: delete: %w", err)
	}
	return nil
}

func (t *badgerTxn) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.btx.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := bytes.Clone(item.Key())
		var value []byte
		if err := item.Value(func(val []byte) error {
			value = bytes.Clone(val)
			return nil
		}); err != nil {
			return fmt.Errorf("storage: reading value during iteration: %w", err)
		}
		if !fn(key, value) {
			break
		}
	}
	return nil
}
