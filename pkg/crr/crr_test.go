package crr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/crrdb/pkg/crr"
	"github.com/latticedb/crrdb/pkg/dag"
	"github.com/latticedb/crrdb/pkg/peerid"
	"github.com/latticedb/crrdb/pkg/storage"
)

func newFixture(t *testing.T) (*crr.Table, *dag.Store) {
	t.Helper()
	engine := storage.NewMemoryEngine()
	t.Cleanup(func() { _ = engine.Close() })
	return crr.New(engine), dag.New(engine)
}

// appendNode appends a single-entry node authored by author and returns
// its id, so tests can hand Merge a Node that is already known locally
// (satisfying the causality precondition without a full sync protocol).
func appendNode(t *testing.T, store *dag.Store, author peerid.PeerId, seq uint64, parents []dag.NodeID) dag.NodeID {
	t.Helper()
	node := dag.NewNode(author, seq, parents, []dag.PayloadEntry{{RowKey: "r", Column: "c", Version: seq}})
	require.NoError(t, store.Append(node))
	return node.ID
}

func newPeer(t *testing.T) peerid.PeerId {
	t.Helper()
	p, err := peerid.New()
	require.NoError(t, err)
	return p
}

func TestMergeInsertsWhenRowAbsent(t *testing.T) {
	table, store := newFixture(t)
	author := newPeer(t)
	nodeID := appendNode(t, store, author, 1, nil)

	report, err := table.Merge(store, []crr.Cell{
		{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("alice"), Version: 1, Writer: author, Node: nodeID}},
	}, crr.LexicographicMin)
	require.NoError(t, err)
	require.Equal(t, 1, report.Inserted)
	require.Zero(t, report.Updated)
	require.Zero(t, report.ConflictsEqualVersion)

	row, ok, err := table.Get("row1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("alice"), row["name"].Value)
}

func TestMergeUpdatesOnHigherVersion(t *testing.T) {
	table, store := newFixture(t)
	author := newPeer(t)
	n1 := appendNode(t, store, author, 1, nil)
	n2 := appendNode(t, store, author, 2, []dag.NodeID{n1})

	_, err := table.Merge(store, []crr.Cell{
		{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("alice"), Version: 1, Writer: author, Node: n1}},
	}, crr.LexicographicMin)
	require.NoError(t, err)

	report, err := table.Merge(store, []crr.Cell{
		{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("alicia"), Version: 2, Writer: author, Node: n2}},
	}, crr.LexicographicMin)
	require.NoError(t, err)
	require.Equal(t, 1, report.Updated)

	row, _, err := table.Get("row1")
	require.NoError(t, err)
	require.Equal(t, []byte("alicia"), row["name"].Value)
}

func TestMergeIgnoresLowerVersion(t *testing.T) {
	table, store := newFixture(t)
	author := newPeer(t)
	n1 := appendNode(t, store, author, 1, nil)
	n2 := appendNode(t, store, author, 2, []dag.NodeID{n1})

	_, err := table.Merge(store, []crr.Cell{
		{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("alicia"), Version: 2, Writer: author, Node: n2}},
	}, crr.LexicographicMin)
	require.NoError(t, err)

	report, err := table.Merge(store, []crr.Cell{
		{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("alice"), Version: 1, Writer: author, Node: n1}},
	}, crr.LexicographicMin)
	require.NoError(t, err)
	require.Equal(t, 1, report.Ignored)

	row, _, err := table.Get("row1")
	require.NoError(t, err)
	require.Equal(t, []byte("alicia"), row["name"].Value) // local still wins
}

func TestMergeSameVersionSameValueIsNoOp(t *testing.T) {
	table, store := newFixture(t)
	author := newPeer(t)
	n1 := appendNode(t, store, author, 1, nil)

	cell := crr.Cell{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("alice"), Version: 1, Writer: author, Node: n1}}
	_, err := table.Merge(store, []crr.Cell{cell}, crr.LexicographicMin)
	require.NoError(t, err)

	report, err := table.Merge(store, []crr.Cell{cell}, crr.LexicographicMin)
	require.NoError(t, err)
	require.Zero(t, report.Inserted)
	require.Zero(t, report.Updated)
	require.Zero(t, report.Ignored)
	require.Zero(t, report.ConflictsEqualVersion)
}

func TestMergeSameVersionDifferentValueResolvesByLexicographicMin(t *testing.T) {
	table, store := newFixture(t)
	peerA := newPeer(t)
	peerB := newPeer(t)
	nodeA := appendNode(t, store, peerA, 1, nil)
	nodeB := appendNode(t, store, peerB, 1, nil)

	_, err := table.Merge(store, []crr.Cell{
		{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("bbb"), Version: 1, Writer: peerA, Node: nodeA}},
	}, crr.LexicographicMin)
	require.NoError(t, err)

	report, err := table.Merge(store, []crr.Cell{
		{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("aaa"), Version: 1, Writer: peerB, Node: nodeB}},
	}, crr.LexicographicMin)
	require.NoError(t, err)
	require.Equal(t, 1, report.ConflictsEqualVersion)
	require.False(t, report.PolicyViolation)

	row, _, err := table.Get("row1")
	require.NoError(t, err)
	require.Equal(t, []byte("aaa"), row["name"].Value) // "aaa" < "bbb" lexicographically
}

func TestMergeConflictUnderPreferExistingFlagsPolicyViolation(t *testing.T) {
	table, store := newFixture(t)
	peerA := newPeer(t)
	peerB := newPeer(t)
	nodeA := appendNode(t, store, peerA, 1, nil)
	nodeB := appendNode(t, store, peerB, 1, nil)

	_, err := table.Merge(store, []crr.Cell{
		{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("bbb"), Version: 1, Writer: peerA, Node: nodeA}},
	}, crr.LexicographicMin)
	require.NoError(t, err)

	report, err := table.Merge(store, []crr.Cell{
		{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("aaa"), Version: 1, Writer: peerB, Node: nodeB}},
	}, crr.PreferExisting)
	require.NoError(t, err)
	require.True(t, report.PolicyViolation)

	row, _, err := table.Get("row1")
	require.NoError(t, err)
	require.Equal(t, []byte("bbb"), row["name"].Value) // local kept despite losing lex order
}

func TestMergeRejectsUnknownNodeAtomically(t *testing.T) {
	table, store := newFixture(t)
	author := newPeer(t)
	unknown := dag.NewNode(author, 99, nil, nil).ID

	report, err := table.Merge(store, []crr.Cell{
		{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("alice"), Version: 1, Writer: author, Node: unknown}},
	}, crr.LexicographicMin)
	require.ErrorIs(t, err, crr.ErrMissingCausality)
	require.Zero(t, report)

	_, ok, err := table.Get("row1")
	require.NoError(t, err)
	require.False(t, ok) // no partial write from the rejected cell
}

func TestMergeAllowsPrunedCellsWithoutCausalityCheck(t *testing.T) {
	table, store := newFixture(t)
	author := newPeer(t)

	report, err := table.Merge(store, []crr.Cell{
		{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("alice"), Version: 5, Writer: author, Pruned: true}},
	}, crr.LexicographicMin)
	require.NoError(t, err)
	require.Equal(t, 1, report.Inserted)
}

func TestMergeIsIdempotentUnderReplay(t *testing.T) {
	table, store := newFixture(t)
	author := newPeer(t)
	n1 := appendNode(t, store, author, 1, nil)
	cells := []crr.Cell{
		{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("alice"), Version: 1, Writer: author, Node: n1}},
	}

	_, err := table.Merge(store, cells, crr.LexicographicMin)
	require.NoError(t, err)
	first, _, err := table.Get("row1")
	require.NoError(t, err)

	_, err = table.Merge(store, cells, crr.LexicographicMin)
	require.NoError(t, err)
	second, _, err := table.Get("row1")
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestMergeIsCommutativeAcrossTwoNonConflictingColumns(t *testing.T) {
	author := newPeer(t)

	run := func(reverse bool) crr.Row {
		table, store := newFixture(t)
		n1 := appendNode(t, store, author, 1, nil)
		n2 := appendNode(t, store, author, 2, []dag.NodeID{n1})
		nameCell := crr.Cell{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("alice"), Version: 1, Writer: author, Node: n1}}
		ageCell := crr.Cell{RowKey: "row1", Column: "age", ColumnCell: crr.ColumnCell{Value: []byte("30"), Version: 2, Writer: author, Node: n2}}

		cells := []crr.Cell{nameCell, ageCell}
		if reverse {
			cells = []crr.Cell{ageCell, nameCell}
		}
		_, err := table.Merge(store, cells, crr.LexicographicMin)
		require.NoError(t, err)
		row, _, err := table.Get("row1")
		require.NoError(t, err)
		return row
	}

	forward := run(false)
	backward := run(true)
	require.Equal(t, forward, backward)
	require.Equal(t, []byte("alice"), forward["name"].Value)
	require.Equal(t, []byte("30"), forward["age"].Value)
}
