// Package gc implements the coordination-free GC Engine (spec §4.6):
// retention-depth pruning of the DAG Store with synthetic
// pruned-origin compaction of the CRR Table, safe to run on one peer
// without coordinating with any other.
package gc

import (
	"fmt"
	"log"

	"github.com/latticedb/crrdb/pkg/crr"
	"github.com/latticedb/crrdb/pkg/dag"
)

// Engine runs GC passes against a single peer's DAG Store and CRR Table.
type Engine struct {
	dagStore *dag.Store
	table    *crr.Table
}

// New wires a GC Engine to the given DAG Store and CRR Table.
func New(dagStore *dag.Store, table *crr.Table) *Engine {
	return &Engine{dagStore: dagStore, table: table}
}

// Report summarizes one GC pass, for audit logging.
type Report struct {
	RetentionDepth int
	NodesSealed    int
	NodesDeleted   int
	CellsPruned    int
}

// Run executes one GC pass at the given retention depth R (spec §4.6):
//  1. keep = union over heads h of ancestors(h, R), inclusive of h.
//  2. DAG Store.Prune seals boundary parents and deletes everything else.
//  3. CRR Table.Compact drops Node references for cells whose origin
//     was fully deleted (not merely sealed).
//
// Invariant G1 holds because Compact only ever changes Node/Pruned,
// never Value/Version/Writer -- the fields get() actually returns.
func (e *Engine) Run(retentionDepth int) (Report, error) {
	if retentionDepth < 0 {
		return Report{}, fmt.Errorf("gc: retention depth must be >= 0, got %d", retentionDepth)
	}

	heads, err := e.dagStore.Heads()
	if err != nil {
		return Report{}, fmt.Errorf("gc: reading heads: %w", err)
	}

	keep := map[dag.NodeID]struct{}{}
	for _, h := range heads {
		keep[h] = struct{}{}
		ancestors, err := e.dagStore.Ancestors(h, retentionDepth)
		if err != nil {
			return Report{}, fmt.Errorf("gc: walking ancestors of %x: %w", h, err)
		}
		for _, a := range ancestors {
			keep[a] = struct{}{}
		}
	}

	sealed, deleted, err := e.dagStore.Prune(keep)
	if err != nil {
		return Report{}, fmt.Errorf("gc: pruning dag store: %w", err)
	}

	cellsPruned, err := e.table.Compact(e.dagStore)
	if err != nil {
		return Report{}, fmt.Errorf("gc: compacting crr table: %w", err)
	}

	if deleted > 0 || sealed > 0 {
		log.Printf("gc: retention depth %d sealed %d nodes, deleted %d nodes, pruned %d cells", retentionDepth, sealed, deleted, cellsPruned)
	}

	return Report{
		RetentionDepth: retentionDepth,
		NodesSealed:    sealed,
		NodesDeleted:   deleted,
		CellsPruned:    cellsPruned,
	}, nil
}
