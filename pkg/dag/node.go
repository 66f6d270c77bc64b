// Package dag implements the append-only DAG Store of change nodes:
// content-addressed commit records tying together a batch of column
// writes and their causal parents (spec §3, §4.2).
package dag

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/latticedb/crrdb/pkg/peerid"
	"golang.org/x/crypto/blake2b"
)

// ErrInvalidLength is returned by NodeIDFromBytes when its input is
// not exactly 32 bytes.
var ErrInvalidLength = errors.New("dag: node id must be 32 bytes")

// NodeID is the 256-bit content-addressed digest identifying a DagNode.
type NodeID [32]byte

// Nil is the zero NodeID, used as a sentinel for "no parent" on a
// genesis node.
var Nil NodeID

// IsNil reports whether id is the zero NodeID.
func (id NodeID) IsNil() bool { return id == Nil }

// NodeIDFromBytes copies b into a NodeID, failing if b is not exactly
// 32 bytes. Used to parse ids received over the wire (e.g. a head set
// supplied by a CLI flag) back into a NodeID.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != len(id) {
		return Nil, ErrInvalidLength
	}
	copy(id[:], b)
	return id, nil
}

// PayloadEntry is one (row_key, column_name, new_value, new_version)
// tuple within a DagNode's payload (spec §3).
type PayloadEntry struct {
	RowKey    string
	Column    string
	Value     []byte
	Version   uint64
	Tombstone bool // true if this entry is a tombstone marker (deleted column)
}

// Node is a DagNode: a commit record tying together a batch of column
// writes and their causal parents.
//
// Invariant D1 (acyclicity) follows from Store.Append accepting a node
// only once all its parents are present. Invariant D2 (author linearity
// modulo merges) is not checked by Store.Append or by this type.
type Node struct {
	ID      NodeID
	Author  peerid.PeerId
	Seq     uint64
	Parents []NodeID
	Payload []PayloadEntry
}

// ComputeID derives the content-addressed digest over
// (author, seq, parents, payload), per spec §3's DagNode.id definition.
// Parents are hashed in a canonical (sorted) order so that semantically
// identical parent sets always hash identically regardless of the order
// they were collected in.
func ComputeID(author peerid.PeerId, seq uint64, parents []NodeID, payload []PayloadEntry) NodeID {
	h, _ := blake2b.New256(nil)

	h.Write(author.Bytes())

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], seq)
	h.Write(seqBuf[:])

	sorted := make([]NodeID, len(parents))
	copy(sorted, parents)
	sort.Slice(sorted, func(i, j int) bool {
		return compareNodeIDs(sorted[i], sorted[j]) < 0
	})
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(sorted)))
	h.Write(countBuf[:])
	for _, p := range sorted {
		h.Write(p[:])
	}

	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(payload)))
	h.Write(countBuf[:])
	for _, e := range payload {
		writeLenPrefixed(h, []byte(e.RowKey))
		writeLenPrefixed(h, []byte(e.Column))
		writeLenPrefixed(h, e.Value)
		var verBuf [8]byte
		binary.LittleEndian.PutUint64(verBuf[:], e.Version)
		h.Write(verBuf[:])
		if e.Tombstone {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}

	var id NodeID
	copy(id[:], h.Sum(nil))
	return id
}

func writeLenPrefixed(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}

func compareNodeIDs(a, b NodeID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// NewNode builds a Node and computes its content-addressed ID.
func NewNode(author peerid.PeerId, seq uint64, parents []NodeID, payload []PayloadEntry) Node {
	return Node{
		ID:      ComputeID(author, seq, parents, payload),
		Author:  author,
		Seq:     seq,
		Parents: parents,
		Payload: payload,
	}
}

// SealedStub is what remains of a Node after GC prunes it (spec §4.6):
// enough metadata to answer "is this id known" for causal-completeness
// (D3/G2) and delta computation, without retaining the payload.
type SealedStub struct {
	ID     NodeID
	Author peerid.PeerId
	Seq    uint64
}
