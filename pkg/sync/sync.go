// Package sync implements the Sync Protocol (spec §4.5): computing the
// delta between two peers' DAG frontiers, exchanging Changesets, and
// applying them via crr_merge under a TieBreakPolicy.
package sync

import (
	"errors"
	"fmt"

	"github.com/latticedb/crrdb/pkg/changeset"
	"github.com/latticedb/crrdb/pkg/clock"
	"github.com/latticedb/crrdb/pkg/crr"
	"github.com/latticedb/crrdb/pkg/dag"
	"github.com/latticedb/crrdb/pkg/peerid"
)

// Engine orchestrates one peer's side of a sync exchange against its
// own DAG Store and CRR Table.
type Engine struct {
	dagStore *dag.Store
	table    *crr.Table
	clock    *clock.Clock
	author   peerid.PeerId
}

// New wires a Sync Engine to the given DAG Store and CRR Table, both
// assumed to share the same underlying storage.Engine. clock and
// author identify this peer, so Apply can catch the local logical
// clock up past any of this peer's own writes relayed back through a
// third party (spec §4.1's Lamport-style catch-up).
func New(dagStore *dag.Store, table *crr.Table, clk *clock.Clock, author peerid.PeerId) *Engine {
	return &Engine{dagStore: dagStore, table: table, clock: clk, author: author}
}

// Heads returns the local DAG frontier, to be sent to a peer as the
// first step of the head exchange (spec §4.5 step 1).
func (e *Engine) Heads() ([]dag.NodeID, error) {
	return e.dagStore.Heads()
}

// ChangesetSince computes the delta to send a peer whose frontier is
// peerHeads (spec §4.5 step 2): every DAG node reachable from the local
// frontier but not peerHeads, in parent-before-child order, plus every
// ColumnCell not reachable from peerHeads.
func (e *Engine) ChangesetSince(peerHeads []dag.NodeID) (changeset.Changeset, error) {
	nodes, err := e.dagStore.MissingRelativeTo(peerHeads)
	if err != nil {
		return changeset.Changeset{}, fmt.Errorf("sync: computing missing nodes: %w", err)
	}
	cells, err := e.table.Changeset(e.dagStore, peerHeads)
	if err != nil {
		return changeset.Changeset{}, fmt.Errorf("sync: computing changeset cells: %w", err)
	}
	return changeset.Changeset{Nodes: nodes, Cells: cells}, nil
}

// Apply replays a received Changeset (spec §4.5 step 3): every node is
// appended to the DAG Store first, in the order the sender provided
// (already parent-before-child), then every cell is merged under
// policy in a single crr_merge call. Finally, the local logical clock
// catches up past any cell this peer itself wrote that came back
// relayed through the sender (spec §4.1): without this, a peer
// restored from an older persisted clock value could mint a new write
// whose version collides with, or falls behind, one of its own
// earlier writes it only now observed via a third party.
//
// Appending nodes is purely additive and therefore always safe to let
// stand even if a later node in the same blob turns out malformed: an
// appended-but-never-merged node changes no CRR-visible state, only
// which future deltas reference it. The CRR merge itself runs as one
// atomic transaction (crr.Table.Merge), so the step that actually
// mutates visible rows is still all-or-nothing (spec §4.5's
// "accepts a whole changeset or discards it" applies to row state).
func (e *Engine) Apply(cs changeset.Changeset, policy crr.TieBreakPolicy) (crr.MergeReport, error) {
	for _, node := range cs.Nodes {
		if err := e.dagStore.Append(node); err != nil {
			if errors.Is(err, dag.ErrDuplicateID) {
				continue // idempotent replay, spec §7 DuplicateNode
			}
			return crr.MergeReport{}, fmt.Errorf("sync: appending node %x: %w", node.ID, err)
		}
	}

	report, err := e.table.Merge(e.dagStore, cs.Cells, policy)
	if err != nil {
		return crr.MergeReport{}, fmt.Errorf("sync: merging cells: %w", err)
	}

	for _, c := range cs.Cells {
		if c.Writer == e.author {
			e.clock.Observe(c.Version)
		}
	}

	return report, nil
}
