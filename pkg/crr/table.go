package crr

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/latticedb/crrdb/pkg/dag"
	"github.com/latticedb/crrdb/pkg/storage"
)

// ErrMissingCausality is returned by Merge when a changeset cell
// references a DAG node that is neither already known locally nor
// included in the same changeset envelope (spec §4.3, §7). The merge
// is rejected atomically: no partial state is ever observed.
var ErrMissingCausality = errors.New("crr: missing causality for cell")

// Cell pairs a ColumnCell with the (row, column) it belongs to, the
// unit Table.Changeset produces and Table.Merge consumes.
type Cell struct {
	RowKey string
	Column string
	ColumnCell
}

// Table is the CRR Table (spec §4.3): a keyed collection of rows
// backed by a storage.Engine, providing insert/update, lookup, the
// changeset extraction used by the sync protocol, and the crr_merge
// operator.
type Table struct {
	engine storage.Engine
}

// New wraps engine as a CRR Table.
func New(engine storage.Engine) *Table {
	return &Table{engine: engine}
}

// Get returns the row for rowKey, or ok=false if it does not exist
// (spec §3: a row exists iff at least one column has version > 0).
func (t *Table) Get(rowKey string) (row Row, ok bool, err error) {
	err = t.engine.View(func(tx storage.Txn) error {
		row, ok, err = t.readRow(tx, rowKey)
		return err
	})
	return row, ok, err
}

func (t *Table) readRow(tx storage.Txn, rowKey string) (Row, bool, error) {
	row := Row{}
	err := tx.Iterate(storage.RowPrefix(rowKey), func(key, value []byte) bool {
		col := columnFromKey(key, rowKey)
		var cell ColumnCell
		if jerr := json.Unmarshal(value, &cell); jerr != nil {
			return true
		}
		row[col] = cell
		return true
	})
	if err != nil {
		return nil, false, err
	}
	if !row.Exists() {
		return nil, false, nil
	}
	return row, true, nil
}

func columnFromKey(key []byte, rowKey string) string {
	prefix := storage.RowPrefix(rowKey)
	if len(key) <= len(prefix) {
		return ""
	}
	return string(key[len(prefix):])
}

// InsertOrUpdate writes cells into rowKey. The caller supplies desired
// versions directly (typically via pkg/txn, which stamps them from the
// peer's Clock): for each column whose incoming version exceeds the
// existing cell's version, the cell is replaced. An equal version
// triggers the same LexicographicMin tiebreak crr_merge would apply as
// if the value arrived from a remote peer equal to self -- spec §4.3
// notes this path is normally unreachable unless the caller reuses a
// version number.
func (t *Table) InsertOrUpdate(rowKey string, cells map[string]ColumnCell) error {
	return t.engine.Update(func(tx storage.Txn) error {
		for col, incoming := range cells {
			key := storage.RowColKey(rowKey, col)
			existing, found, err := getCell(tx, key)
			if err != nil {
				return err
			}
			var final ColumnCell
			switch {
			case !found || incoming.Version > existing.Version:
				final = incoming
			case incoming.Version < existing.Version:
				final = existing
			default:
				final = resolveConflict(existing, incoming, LexicographicMin)
			}
			if err := putCell(tx, key, final); err != nil {
				return err
			}
		}
		return nil
	})
}

// Changeset collects every ColumnCell whose origin node is not
// reachable from sinceHeads (spec §4.3). dagStore resolves reachability
// against the local DAG Store's parent links.
func (t *Table) Changeset(dagStore *dag.Store, sinceHeads []dag.NodeID) ([]Cell, error) {
	known, err := dagStore.KnownAncestorsOf(sinceHeads)
	if err != nil {
		return nil, fmt.Errorf("crr: resolving known ancestors: %w", err)
	}

	var out []Cell
	err = t.engine.View(func(tx storage.Txn) error {
		return tx.Iterate(storage.AllRowColPrefix(), func(key, value []byte) bool {
			rowKey, col, ok := parseRowColKey(key)
			if !ok {
				return true
			}
			var cell ColumnCell
			if jerr := json.Unmarshal(value, &cell); jerr != nil {
				return true
			}
			if !cell.Pruned && known[cell.Node] {
				return true // already reachable from since_frontier, skip
			}
			out = append(out, Cell{RowKey: rowKey, Column: col, ColumnCell: cell})
			return true
		})
	})
	return out, err
}

func parseRowColKey(key []byte) (rowKey, col string, ok bool) {
	if !storage.IsRowColKey(key) {
		return "", "", false
	}
	rest := key[1:]
	for i, b := range rest {
		if b == 0x00 {
			return string(rest[:i]), string(rest[i+1:]), true
		}
	}
	return "", "", false
}

func getCell(tx storage.Txn, key []byte) (ColumnCell, bool, error) {
	data, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return ColumnCell{}, false, nil
		}
		return ColumnCell{}, false, err
	}
	var cell ColumnCell
	if err := json.Unmarshal(data, &cell); err != nil {
		return ColumnCell{}, false, fmt.Errorf("crr: decoding cell: %w", err)
	}
	return cell, true, nil
}

func putCell(tx storage.Txn, key []byte, cell ColumnCell) error {
	data, err := json.Marshal(cell)
	if err != nil {
		return fmt.Errorf("crr: encoding cell: %w", err)
	}
	return tx.Set(key, data)
}
