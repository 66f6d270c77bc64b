package dag

import (
	"encoding/json"
	"fmt"

	"github.com/latticedb/crrdb/pkg/storage"
)

// Prune atomically removes nodes not in keep, sealing any node that is
// a direct parent of a retained node (spec §4.2, §4.6). Nodes outside
// keep that are not referenced as a parent by any retained node are
// deleted outright; they contribute nothing to future causal-
// completeness checks once no retained node points to them.
//
// The caller (pkg/gc) is responsible for computing keep = union of
// ancestors(h, R) over every head h. Returns how many nodes were newly
// sealed and how many were deleted outright, for audit logging.
func (s *Store) Prune(keep map[NodeID]struct{}) (sealedCount, deletedCount int, err error) {
	err = s.engine.Update(func(tx storage.Txn) error {
		sealSet := map[NodeID]struct{}{}
		for id := range keep {
			rec, found, err := getRecord(tx, id)
			if err != nil {
				return err
			}
			if !found || rec.Sealed {
				continue
			}
			for _, p := range rec.Parents {
				if p.IsNil() {
					continue
				}
				if _, inKeep := keep[p]; !inKeep {
					sealSet[p] = struct{}{}
				}
			}
		}

		var toSeal []record
		var toDelete []NodeID
		err := tx.Iterate(storage.DagNodePrefix(), func(key, value []byte) bool {
			var rec record
			if err := json.Unmarshal(value, &rec); err != nil {
				return true // best-effort; malformed entries are skipped, not fatal
			}
			if _, inKeep := keep[rec.ID]; inKeep {
				return true
			}
			if _, seal := sealSet[rec.ID]; seal && !rec.Sealed {
				toSeal = append(toSeal, rec)
				return true
			}
			if _, seal := sealSet[rec.ID]; !seal {
				toDelete = append(toDelete, rec.ID)
			}
			return true
		})
		if err != nil {
			return err
		}

		for _, rec := range toSeal {
			sealed := record{Sealed: true, ID: rec.ID, Author: rec.Author, Seq: rec.Seq}
			data, err := json.Marshal(sealed)
			if err != nil {
				return fmt.Errorf("dag: encoding sealed stub: %w", err)
			}
			if err := tx.Set(storage.DagNodeKey(rec.ID), data); err != nil {
				return err
			}
		}
		for _, id := range toDelete {
			if err := tx.Delete(storage.DagNodeKey(id)); err != nil {
				return err
			}
		}
		sealedCount = len(toSeal)
		deletedCount = len(toDelete)
		return nil
	})
	return sealedCount, deletedCount, err
}
