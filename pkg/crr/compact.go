package crr

import (
	"encoding/json"
	"fmt"

	"github.com/latticedb/crrdb/pkg/dag"
	"github.com/latticedb/crrdb/pkg/storage"
)

// Compact marks every ColumnCell whose origin node is no longer known
// to dagStore (fully deleted, not merely sealed) as Pruned, per spec
// §4.6 step 3: the cell's (value, version, writer) survive, only the
// node reference is dropped. Returns how many cells were newly pruned.
//
// Sealed stubs still answer Known=true (invariant G2), so a cell whose
// node was only sealed, not deleted, is left untouched -- its Node
// remains a valid, if non-traversable, id.
func (t *Table) Compact(dagStore *dag.Store) (pruned int, err error) {
	err = t.engine.Update(func(tx storage.Txn) error {
		type update struct {
			key  []byte
			cell ColumnCell
		}
		var updates []update
		var knownErr error

		iterErr := tx.Iterate(storage.AllRowColPrefix(), func(key, value []byte) bool {
			var cell ColumnCell
			if jerr := json.Unmarshal(value, &cell); jerr != nil {
				return true
			}
			if cell.Pruned || cell.Node.IsNil() {
				return true
			}
			known, kerr := dagStore.Known(cell.Node)
			if kerr != nil {
				knownErr = kerr
				return false
			}
			if known {
				return true
			}
			cell.Pruned = true
			cell.Node = dag.Nil
			updates = append(updates, update{key: append([]byte(nil), key...), cell: cell})
			return true
		})
		if iterErr != nil {
			return iterErr
		}
		if knownErr != nil {
			return knownErr
		}

		for _, u := range updates {
			if perr := putCell(tx, u.key, u.cell); perr != nil {
				return fmt.Errorf("crr: compacting cell: %w", perr)
			}
		}
		pruned = len(updates)
		return nil
	})
	return pruned, err
}
