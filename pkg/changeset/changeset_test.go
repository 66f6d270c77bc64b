package changeset_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/crrdb/pkg/changeset"
	"github.com/latticedb/crrdb/pkg/crr"
	"github.com/latticedb/crrdb/pkg/dag"
	"github.com/latticedb/crrdb/pkg/peerid"
)

func newPeer(t *testing.T) peerid.PeerId {
	t.Helper()
	p, err := peerid.New()
	require.NoError(t, err)
	return p
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	author := newPeer(t)
	n1 := dag.NewNode(author, 1, nil, []dag.PayloadEntry{
		{RowKey: "row1", Column: "name", Value: []byte("alice"), Version: 1},
	})
	n2 := dag.NewNode(author, 2, []dag.NodeID{n1.ID}, []dag.PayloadEntry{
		{RowKey: "row1", Column: "age", Value: nil, Version: 2, Tombstone: true},
	})

	cs := changeset.Changeset{
		Nodes: []dag.Node{n1, n2},
		Cells: []crr.Cell{
			{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("alice"), Version: 1, Writer: author, Node: n1.ID}},
			{RowKey: "row1", Column: "age", ColumnCell: crr.ColumnCell{Value: nil, Version: 2, Writer: author, Node: n2.ID}},
		},
	}

	blob, err := changeset.Encode(cs)
	require.NoError(t, err)
	require.True(t, len(blob) > 5)
	require.Equal(t, []byte("CRRX"), blob[:4])

	decoded, err := changeset.Decode(blob)
	require.NoError(t, err)
	require.Len(t, decoded.Nodes, 2)
	require.Len(t, decoded.Cells, 2)

	require.Equal(t, n1.ID, decoded.Nodes[0].ID)
	require.Equal(t, n1.Author, decoded.Nodes[0].Author)
	require.Equal(t, n1.Payload, decoded.Nodes[0].Payload)

	require.Equal(t, n2.ID, decoded.Nodes[1].ID)
	require.Equal(t, []dag.NodeID{n1.ID}, decoded.Nodes[1].Parents)
	require.True(t, decoded.Nodes[1].Payload[0].Tombstone)

	require.Equal(t, cs.Cells[0].Value, decoded.Cells[0].Value)
	require.Equal(t, cs.Cells[1].RowKey, decoded.Cells[1].RowKey)
}

func TestEncodeDecodeEmptyChangeset(t *testing.T) {
	blob, err := changeset.Encode(changeset.Changeset{})
	require.NoError(t, err)

	decoded, err := changeset.Decode(blob)
	require.NoError(t, err)
	require.Empty(t, decoded.Nodes)
	require.Empty(t, decoded.Cells)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := changeset.Decode([]byte("XXXX\x01\x00\x00"))
	require.ErrorIs(t, err, changeset.ErrBadMagic)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	blob := append([]byte("CRRX"), 0x99, 0x00, 0x00)
	_, err := changeset.Decode(blob)
	require.ErrorIs(t, err, changeset.ErrUnsupportedVersion)
}

func TestDecodeRejectsTruncatedBlob(t *testing.T) {
	_, err := changeset.Decode([]byte("CR"))
	require.ErrorIs(t, err, changeset.ErrTruncated)
}

func TestPrunedCellRoundTripsWithoutNode(t *testing.T) {
	author := newPeer(t)
	cs := changeset.Changeset{
		Cells: []crr.Cell{
			{RowKey: "row1", Column: "name", ColumnCell: crr.ColumnCell{Value: []byte("alice"), Version: 3, Writer: author, Pruned: true}},
		},
	}
	blob, err := changeset.Encode(cs)
	require.NoError(t, err)
	decoded, err := changeset.Decode(blob)
	require.NoError(t, err)
	require.True(t, decoded.Cells[0].Pruned)
	require.Equal(t, uint64(3), decoded.Cells[0].Version)
}
