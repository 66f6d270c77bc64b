package peer

import (
	"fmt"

	"github.com/latticedb/crrdb/pkg/dag"
	"github.com/latticedb/crrdb/pkg/txn"
)

// Tx is a Transaction Context bound to a Peer: writes buffer in
// memory until Commit, which appends one DagNode, merges it into the
// peer's CRR Table, persists the advanced logical clock, and
// audit-logs each committed write.
type Tx struct {
	inner  *txn.Tx
	peer   *Peer
	writes []write
}

type write struct {
	rowKey string
	column string
}

// Write buffers a column write.
func (tx *Tx) Write(rowKey, column string, value []byte) error {
	if err := tx.inner.Write(rowKey, column, value); err != nil {
		return err
	}
	tx.writes = append(tx.writes, write{rowKey: rowKey, column: column})
	return nil
}

// Abort discards the buffered writes.
func (tx *Tx) Abort() error {
	return tx.inner.Abort()
}

// Commit appends the transaction's DagNode, merges it into the CRR
// Table, persists the peer's logical clock, and records one audit
// event per committed write.
func (tx *Tx) Commit() (dag.NodeID, error) {
	nodeID, err := tx.inner.Commit()
	if err != nil {
		return dag.NodeID{}, err
	}

	if err := tx.peer.persistClock(); err != nil {
		return nodeID, fmt.Errorf("peer: persisting clock after commit: %w", err)
	}

	for _, w := range tx.writes {
		if err := tx.peer.auditLog.LogTxnCommit(tx.peer.author.String(), w.rowKey, w.column); err != nil {
			return nodeID, fmt.Errorf("peer: audit logging commit: %w", err)
		}
	}
	return nodeID, nil
}
