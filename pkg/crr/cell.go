// Package crr implements the per-column Conflict-free Replicated
// Relation: a keyed collection of rows, each a mapping of column name
// to versioned cell, and the deterministic crr_merge operator that
// provides Strong Eventual Consistency across peers (spec §3, §4.3).
package crr

import (
	"github.com/latticedb/crrdb/pkg/dag"
	"github.com/latticedb/crrdb/pkg/peerid"
)

// ColumnCell is one (value, version, writer, node) entry for a single
// row/column, per spec §3.
type ColumnCell struct {
	// Value is the opaque byte string. May be empty for a tombstone.
	Value []byte

	// Version is monotonic per (row, column, writer). A version of 0
	// means "never written".
	Version uint64

	// Writer is the PeerId that produced this version (invariant C2:
	// Writer must equal the author of Node, unless Pruned).
	Writer peerid.PeerId

	// Node is the DAG node that introduced (Value, Version). Zero and
	// ignored once Pruned is set.
	Node dag.NodeID

	// Pruned marks a cell whose origin node has been GC'd past the
	// retention boundary (spec §4.6): Node is no longer a resolvable
	// DAG node id, only (Writer, Version) remain meaningful. Merge
	// outcome never depends on Node, only on (Value, Version, Writer),
	// so pruning a cell's origin never changes what get() returns
	// (invariant G1).
	Pruned bool
}

// Row is the full set of columns for one row key. A row "exists" (per
// spec §3) iff at least one column has Version > 0; an empty Row is
// indistinguishable from "never written".
type Row map[string]ColumnCell

// Exists reports whether r represents a written row.
func (r Row) Exists() bool {
	for _, c := range r {
		if c.Version > 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of r so callers cannot mutate Table state
// through a returned Row (cells are logically immutable, spec §3).
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		vv := v
		vv.Value = append([]byte(nil), v.Value...)
		out[k] = vv
	}
	return out
}
