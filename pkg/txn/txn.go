// Package txn implements the Transaction Context (spec §4.4): a
// local write buffer that, on commit, appends exactly one DagNode
// whose parents are the peer's current heads and whose payload lists
// every buffered write, then merges the resulting cells into the CRR
// Table. The node append and the cell merge are two separate storage
// transactions, not one atomic step: if the merge fails, the appended
// node stays in the DAG Store.
package txn

import (
	"errors"
	"fmt"

	"github.com/latticedb/crrdb/pkg/clock"
	"github.com/latticedb/crrdb/pkg/crr"
	"github.com/latticedb/crrdb/pkg/dag"
	"github.com/latticedb/crrdb/pkg/peerid"
)

// ErrAlreadyClosed is returned by Write/Commit/Abort on a Tx that has
// already been committed or aborted.
var ErrAlreadyClosed = errors.New("txn: already committed or aborted")

// ErrEmptyCommit is returned by Commit when no writes were buffered;
// an empty DagNode would carry no causal information worth recording.
var ErrEmptyCommit = errors.New("txn: commit with no buffered writes")

type write struct {
	rowKey string
	column string
	value  []byte
}

// Tx is a single-peer, single-writer transaction: writes accumulate in
// memory and become visible only on Commit. Not safe for concurrent
// use by multiple goroutines.
type Tx struct {
	dagStore *dag.Store
	table    *crr.Table
	clock    *clock.Clock
	author   peerid.PeerId
	policy   crr.TieBreakPolicy

	writes []write
	closed bool
}

// Begin opens a new transaction against the given peer's DAG Store,
// CRR Table, and logical clock. policy governs how Commit's merge
// step resolves an equal-version conflict against the peer's own
// table -- ordinarily unreachable for a single-writer commit, but
// still required by crr.Table.Merge's signature.
func Begin(dagStore *dag.Store, table *crr.Table, clk *clock.Clock, author peerid.PeerId, policy crr.TieBreakPolicy) *Tx {
	return &Tx{dagStore: dagStore, table: table, clock: clk, author: author, policy: policy}
}

// Write buffers a column write. Nothing is visible to Get or to other
// peers until Commit succeeds.
func (tx *Tx) Write(rowKey, column string, value []byte) error {
	if tx.closed {
		return ErrAlreadyClosed
	}
	tx.writes = append(tx.writes, write{rowKey: rowKey, column: column, value: value})
	return nil
}

// Abort discards the buffered writes. Since nothing was persisted
// until Commit, Abort is always a pure no-op on stored state.
func (tx *Tx) Abort() error {
	if tx.closed {
		return ErrAlreadyClosed
	}
	tx.closed = true
	tx.writes = nil
	return nil
}

// Commit appends one DagNode covering every buffered write, parented
// on the current heads, then merges the resulting cells into the CRR
// Table. All writes in the transaction share one logical timestamp:
// the clock tick consumed for the node's Seq also derives each cell's
// new Version, so a multi-column commit is atomic with respect to any
// concurrent reader (spec §4.4).
//
// Clock.Next() returns 0 on a fresh peer's first tick, but spec §3
// reserves version 0 for "never written" -- Row.Exists() would treat
// a row stamped with version 0 as absent immediately after its own
// commit. Cell and payload versions are therefore seq+1; the node's
// own Seq keeps the raw clock value, since DagNode.Seq has no such
// "never written" reservation.
func (tx *Tx) Commit() (dag.NodeID, error) {
	if tx.closed {
		return dag.NodeID{}, ErrAlreadyClosed
	}
	tx.closed = true

	if len(tx.writes) == 0 {
		return dag.NodeID{}, ErrEmptyCommit
	}

	heads, err := tx.dagStore.Heads()
	if err != nil {
		return dag.NodeID{}, fmt.Errorf("txn: reading heads: %w", err)
	}

	seq := tx.clock.Next()
	version := seq + 1

	payload := make([]dag.PayloadEntry, 0, len(tx.writes))
	cells := make([]crr.Cell, 0, len(tx.writes))
	for _, w := range tx.writes {
		payload = append(payload, dag.PayloadEntry{
			RowKey:  w.rowKey,
			Column:  w.column,
			Value:   w.value,
			Version: version,
		})
	}

	node := dag.NewNode(tx.author, seq, heads, payload)
	if err := tx.dagStore.Append(node); err != nil {
		return dag.NodeID{}, fmt.Errorf("txn: appending dag node: %w", err)
	}

	for _, w := range tx.writes {
		cells = append(cells, crr.Cell{
			RowKey: w.rowKey,
			Column: w.column,
			ColumnCell: crr.ColumnCell{
				Value:   w.value,
				Version: version,
				Writer:  tx.author,
				Node:    node.ID,
			},
		})
	}

	if _, err := tx.table.Merge(tx.dagStore, cells, tx.policy); err != nil {
		return dag.NodeID{}, fmt.Errorf("txn: merging committed cells: %w", err)
	}

	return node.ID, nil
}
