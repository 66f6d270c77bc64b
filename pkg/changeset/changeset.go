// Package changeset implements the Changeset Codec (spec §4.4): the
// binary wire format exchanged between peers during sync, carrying an
// ordered batch of DagNodes plus the ColumnCells touched since a given
// frontier.
package changeset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/latticedb/crrdb/pkg/crr"
	"github.com/latticedb/crrdb/pkg/dag"
	"github.com/latticedb/crrdb/pkg/peerid"
)

var (
	// ErrBadMagic is returned when the leading 4 bytes are not "CRRX".
	ErrBadMagic = errors.New("changeset: bad magic")

	// ErrUnsupportedVersion is returned for any version byte this build
	// does not recognize. Non-negotiable: the receiver rejects outright.
	ErrUnsupportedVersion = errors.New("changeset: unsupported version")

	// ErrTruncated is returned when the blob ends before a framed field
	// is fully readable.
	ErrTruncated = errors.New("changeset: truncated")
)

const (
	version1       = 0x01
	tombstoneBit   = uint32(1) << 31
	maxValueLength = tombstoneBit - 1
)

var magic = [4]byte{'C', 'R', 'R', 'X'}

// Changeset is a self-contained delta: every DagNode is listed before
// any node that depends on it (spec §4.4), and every Cell's Node is
// either in Nodes or assumed already known to the receiver (invariant
// E1, checked by crr.Table.Merge on apply).
type Changeset struct {
	Nodes []dag.Node
	Cells []crr.Cell
}

// Encode serializes cs into the CRRX wire format (spec §6's bit-level
// layout).
func Encode(cs Changeset) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(version1)

	writeUvarint(&buf, uint64(len(cs.Nodes)))
	for _, n := range cs.Nodes {
		if err := encodeNode(&buf, n); err != nil {
			return nil, err
		}
	}

	writeUvarint(&buf, uint64(len(cs.Cells)))
	for _, c := range cs.Cells {
		if err := encodeCell(&buf, c); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a CRRX blob produced by Encode.
func Decode(blob []byte) (Changeset, error) {
	r := bytes.NewReader(blob)

	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return Changeset{}, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if gotMagic != magic {
		return Changeset{}, ErrBadMagic
	}

	verByte, err := r.ReadByte()
	if err != nil {
		return Changeset{}, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if verByte != version1 {
		return Changeset{}, fmt.Errorf("%w: got %d", ErrUnsupportedVersion, verByte)
	}

	nodeCount, err := readUvarint(r)
	if err != nil {
		return Changeset{}, err
	}
	nodes := make([]dag.Node, 0, nodeCount)
	for i := uint64(0); i < nodeCount; i++ {
		n, err := decodeNode(r)
		if err != nil {
			return Changeset{}, err
		}
		nodes = append(nodes, n)
	}

	cellCount, err := readUvarint(r)
	if err != nil {
		return Changeset{}, err
	}
	cells := make([]crr.Cell, 0, cellCount)
	for i := uint64(0); i < cellCount; i++ {
		c, err := decodeCell(r)
		if err != nil {
			return Changeset{}, err
		}
		cells = append(cells, c)
	}

	return Changeset{Nodes: nodes, Cells: cells}, nil
}

func encodeNode(buf *bytes.Buffer, n dag.Node) error {
	buf.Write(n.Author.Bytes())

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], n.Seq)
	buf.Write(seqBuf[:])

	writeUvarint(buf, uint64(len(n.Parents)))
	for _, p := range n.Parents {
		buf.Write(p[:])
	}

	writeUvarint(buf, uint64(len(n.Payload)))
	for _, e := range n.Payload {
		if err := writeLenPrefixed(buf, []byte(e.RowKey)); err != nil {
			return err
		}
		if err := writeLenPrefixed(buf, []byte(e.Column)); err != nil {
			return err
		}
		if err := writeValueWithTombstoneBit(buf, e.Value, e.Tombstone); err != nil {
			return err
		}
		writeUvarint(buf, e.Version)
	}
	return nil
}

func decodeNode(r *bytes.Reader) (dag.Node, error) {
	var authorBytes [peerid.Size]byte
	if _, err := io.ReadFull(r, authorBytes[:]); err != nil {
		return dag.Node{}, fmt.Errorf("%w: author: %v", ErrTruncated, err)
	}
	author, err := peerid.FromBytes(authorBytes[:])
	if err != nil {
		return dag.Node{}, fmt.Errorf("changeset: decoding author: %w", err)
	}

	var seqBuf [8]byte
	if _, err := io.ReadFull(r, seqBuf[:]); err != nil {
		return dag.Node{}, fmt.Errorf("%w: seq: %v", ErrTruncated, err)
	}
	seq := binary.LittleEndian.Uint64(seqBuf[:])

	parentCount, err := readUvarint(r)
	if err != nil {
		return dag.Node{}, err
	}
	parents := make([]dag.NodeID, 0, parentCount)
	for i := uint64(0); i < parentCount; i++ {
		var id dag.NodeID
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return dag.Node{}, fmt.Errorf("%w: parent: %v", ErrTruncated, err)
		}
		parents = append(parents, id)
	}

	payloadCount, err := readUvarint(r)
	if err != nil {
		return dag.Node{}, err
	}
	payload := make([]dag.PayloadEntry, 0, payloadCount)
	for i := uint64(0); i < payloadCount; i++ {
		rowKey, err := readLenPrefixedString(r)
		if err != nil {
			return dag.Node{}, err
		}
		column, err := readLenPrefixedString(r)
		if err != nil {
			return dag.Node{}, err
		}
		value, tombstone, err := readValueWithTombstoneBit(r)
		if err != nil {
			return dag.Node{}, err
		}
		ver, err := readUvarint(r)
		if err != nil {
			return dag.Node{}, err
		}
		payload = append(payload, dag.PayloadEntry{RowKey: rowKey, Column: column, Value: value, Version: ver, Tombstone: tombstone})
	}

	return dag.Node{
		ID:      dag.ComputeID(author, seq, parents, payload),
		Author:  author,
		Seq:     seq,
		Parents: parents,
		Payload: payload,
	}, nil
}

func encodeCell(buf *bytes.Buffer, c crr.Cell) error {
	if err := writeLenPrefixed(buf, []byte(c.RowKey)); err != nil {
		return err
	}
	if err := writeLenPrefixed(buf, []byte(c.Column)); err != nil {
		return err
	}
	if err := writeLenPrefixed(buf, c.Value); err != nil {
		return err
	}
	writeUvarint(buf, c.Version)
	buf.Write(c.Writer.Bytes())
	buf.Write(c.Node[:])
	if c.Pruned {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return nil
}

func decodeCell(r *bytes.Reader) (crr.Cell, error) {
	rowKey, err := readLenPrefixedString(r)
	if err != nil {
		return crr.Cell{}, err
	}
	column, err := readLenPrefixedString(r)
	if err != nil {
		return crr.Cell{}, err
	}
	value, err := readLenPrefixedBytes(r)
	if err != nil {
		return crr.Cell{}, err
	}
	ver, err := readUvarint(r)
	if err != nil {
		return crr.Cell{}, err
	}
	var writerBytes [peerid.Size]byte
	if _, err := io.ReadFull(r, writerBytes[:]); err != nil {
		return crr.Cell{}, fmt.Errorf("%w: writer: %v", ErrTruncated, err)
	}
	writer, err := peerid.FromBytes(writerBytes[:])
	if err != nil {
		return crr.Cell{}, fmt.Errorf("changeset: decoding writer: %w", err)
	}
	var nodeID dag.NodeID
	if _, err := io.ReadFull(r, nodeID[:]); err != nil {
		return crr.Cell{}, fmt.Errorf("%w: node: %v", ErrTruncated, err)
	}
	prunedByte, err := r.ReadByte()
	if err != nil {
		return crr.Cell{}, fmt.Errorf("%w: pruned flag: %v", ErrTruncated, err)
	}

	return crr.Cell{
		RowKey: rowKey,
		Column: column,
		ColumnCell: crr.ColumnCell{
			Value:   value,
			Version: ver,
			Writer:  writer,
			Node:    nodeID,
			Pruned:  prunedByte != 0,
		},
	}, nil
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) error {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
	return nil
}

func readLenPrefixedString(r *bytes.Reader) (string, error) {
	b, err := readLenPrefixedBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readLenPrefixedBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrTruncated, err)
	}
	return b, nil
}

// writeValueWithTombstoneBit length-prefixes value with the high bit of
// the 32-bit length field reserved for the tombstone flag (spec §6).
func writeValueWithTombstoneBit(buf *bytes.Buffer, value []byte, tombstone bool) error {
	if uint64(len(value)) > uint64(maxValueLength) {
		return fmt.Errorf("changeset: value too large: %d bytes", len(value))
	}
	length := uint32(len(value))
	if tombstone {
		length |= tombstoneBit
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], length)
	buf.Write(lenBuf[:])
	buf.Write(value)
	return nil
}

func readValueWithTombstoneBit(r *bytes.Reader) (value []byte, tombstone bool, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, false, fmt.Errorf("%w: value length: %v", ErrTruncated, err)
	}
	raw := binary.LittleEndian.Uint32(lenBuf[:])
	tombstone = raw&tombstoneBit != 0
	length := raw &^ tombstoneBit
	value = make([]byte, length)
	if _, err := io.ReadFull(r, value); err != nil {
		return nil, false, fmt.Errorf("%w: value body: %v", ErrTruncated, err)
	}
	return value, tombstone, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, fmt.Errorf("%w: varint: %v", ErrTruncated, err)
	}
	return v, nil
}
