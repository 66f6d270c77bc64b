package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engineConstructors lets every test below run against both backends,
// the same dual-engine testing approach the teacher uses across
// MemoryEngine/BadgerEngine in its own storage test suite.
func engineConstructors(t *testing.T) map[string]func() Engine {
	t.Helper()
	return map[string]func() Engine{
		"memory": func() Engine { return NewMemoryEngine() },
		"badger": func() Engine {
			e, err := NewBadgerEngineInMemory()
			require.NoError(t, err)
			return e
		},
	}
}

func TestEngineSetGetRoundTrip(t *testing.T) {
	for name, newEngine := range engineConstructors(t) {
		t.Run(name, func(t *testing.T) {
			e := newEngine()
			defer e.Close()

			err := e.Update(func(tx Txn) error {
				return tx.Set(DagNodeKey([32]byte{1}), []byte("hello"))
			})
			require.NoError(t, err)

			var got []byte
			err = e.View(func(tx Txn) error {
				v, err := tx.Get(DagNodeKey([32]byte{1}))
				got = v
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), got)
		})
	}
}

func TestEngineGetMissingKey(t *testing.T) {
	for name, newEngine := range engineConstructors(t) {
		t.Run(name, func(t *testing.T) {
			e := newEngine()
			defer e.Close()

			err := e.View(func(tx Txn) error {
				_, err := tx.Get(DagNodeKey([32]byte{9}))
				return err
			})
			assert.ErrorIs(t, err, ErrKeyNotFound)
		})
	}
}

func TestEngineUpdateRollsBackOnError(t *testing.T) {
	for name, newEngine := range engineConstructors(t) {
		t.Run(name, func(t *testing.T) {
			e := newEngine()
			defer e.Close()

			sentinel := assert.AnError
			err := e.Update(func(tx Txn) error {
				if err := tx.Set(RowColKey("r1", "x"), []byte("v1")); err != nil {
					return err
				}
				return sentinel
			})
			assert.ErrorIs(t, err, sentinel)

			err = e.View(func(tx Txn) error {
				_, err := tx.Get(RowColKey("r1", "x"))
				return err
			})
			assert.ErrorIs(t, err, ErrKeyNotFound, "aborted transaction must not persist writes")
		})
	}
}

func TestEngineIteratePrefix(t *testing.T) {
	for name, newEngine := range engineConstructors(t) {
		t.Run(name, func(t *testing.T) {
			e := newEngine()
			defer e.Close()

			err := e.Update(func(tx Txn) error {
				if err := tx.Set(RowColKey("r1", "a"), []byte("1")); err != nil {
					return err
				}
				if err := tx.Set(RowColKey("r1", "b"), []byte("2")); err != nil {
					return err
				}
				return tx.Set(RowColKey("r2", "a"), []byte("3"))
			})
			require.NoError(t, err)

			var cols []string
			err = e.View(func(tx Txn) error {
				return tx.Iterate(RowPrefix("r1"), func(key, value []byte) bool {
					cols = append(cols, string(value))
					return true
				})
			})
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"1", "2"}, cols)
		})
	}
}

func TestEngineWriteRejectedInView(t *testing.T) {
	for name, newEngine := range engineConstructors(t) {
		t.Run(name, func(t *testing.T) {
			e := newEngine()
			defer e.Close()

			err := e.View(func(tx Txn) error {
				return tx.Set(RowColKey("r1", "x"), []byte("v"))
			})
			assert.Error(t, err)
		})
	}
}

func TestEngineClosedRejectsOperations(t *testing.T) {
	for name, newEngine := range engineConstructors(t) {
		t.Run(name, func(t *testing.T) {
			e := newEngine()
			require.NoError(t, e.Close())

			err := e.Update(func(tx Txn) error { return nil })
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}
