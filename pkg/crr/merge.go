package crr

import (
	"fmt"

	"github.com/latticedb/crrdb/pkg/dag"
	"github.com/latticedb/crrdb/pkg/storage"
)

// Merge applies crr_merge (spec §4.3) to every incoming cell under
// policy, against the local state. dagStore is consulted to verify
// causal completeness (invariant E1 / MissingCausality): by the time
// Merge runs, the sync protocol has already appended every DAG node
// referenced by cells in the same changeset (spec §4.5 step 3), so any
// cell whose Node is still unknown here is truly unresolvable and the
// whole merge is rejected atomically -- no partial state is observed.
func (t *Table) Merge(dagStore *dag.Store, cells []Cell, policy TieBreakPolicy) (MergeReport, error) {
	var report MergeReport

	err := t.engine.Update(func(tx storage.Txn) error {
		for _, incoming := range cells {
			if !incoming.Pruned && !incoming.Node.IsNil() {
				known, err := dagStore.Known(incoming.Node)
				if err != nil {
					return fmt.Errorf("crr: checking causality: %w", err)
				}
				if !known {
					return ErrMissingCausality
				}
			}
		}

		for _, incoming := range cells {
			if err := mergeOne(tx, incoming, policy, &report); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return MergeReport{}, err
	}
	return report, nil
}

func mergeOne(tx storage.Txn, incoming Cell, policy TieBreakPolicy, report *MergeReport) error {
	key := storage.RowColKey(incoming.RowKey, incoming.Column)
	ref := CellRef{RowKey: incoming.RowKey, Column: incoming.Column}

	existing, found, err := getCell(tx, key)
	if err != nil {
		return err
	}

	if !found {
		report.recordInsert(ref)
		return putCell(tx, key, incoming.ColumnCell)
	}

	switch {
	case incoming.Version > existing.Version:
		report.recordUpdate(ref)
		return putCell(tx, key, incoming.ColumnCell)

	case incoming.Version < existing.Version:
		report.recordIgnore(ref)
		return nil // local already wins; no write needed

	default: // equal version
		if string(incoming.Value) == string(existing.Value) {
			return nil // true convergent write: NoOp, not even reported
		}
		report.recordConflict(ref, policy)
		winner := resolveConflict(existing, incoming.ColumnCell, policy)
		return putCell(tx, key, winner)
	}
}
