// Package peerid provides the opaque 128-bit replica identifier used
// throughout the CRR/DAG engine as a tiebreak input and DAG node author.
package peerid

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Size is the length of a PeerId in bytes (128 bits).
const Size = 16

// ErrInvalidLength is returned when decoding a byte slice or hex string
// that is not exactly Size bytes long.
var ErrInvalidLength = errors.New("peerid: invalid length")

// PeerId is an opaque 128-bit identifier, unique per replica for its
// lifetime. PeerIds are total-ordered lexicographically over their raw
// bytes; that ordering is used as a tiebreak input by the CRR merge
// operator (spec LexicographicMin policy).
type PeerId [Size]byte

// Nil is the zero-value PeerId. It is never assigned to a real peer and
// is used only as a sentinel in tests and default-valued structs.
var Nil PeerId

// New generates a random PeerId using a cryptographically secure source.
// Collision probability across any realistic deployment is negligible
// (128 bits of entropy).
func New() (PeerId, error) {
	var id PeerId
	if _, err := rand.Read(id[:]); err != nil {
		return Nil, fmt.Errorf("peerid: generating random id: %w", err)
	}
	return id, nil
}

// FromBytes copies b into a PeerId, failing if b is not exactly Size bytes.
func FromBytes(b []byte) (PeerId, error) {
	var id PeerId
	if len(b) != Size {
		return Nil, ErrInvalidLength
	}
	copy(id[:], b)
	return id, nil
}

// FromHex parses a hex-encoded PeerId, as produced by String.
func FromHex(s string) (PeerId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Nil, fmt.Errorf("peerid: decoding hex: %w", err)
	}
	return FromBytes(b)
}

// Bytes returns the raw 16-byte representation.
func (p PeerId) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, p[:])
	return out
}

// String returns the lowercase hex encoding of the PeerId.
func (p PeerId) String() string {
	return hex.EncodeToString(p[:])
}

// IsNil reports whether p is the zero-value PeerId.
func (p PeerId) IsNil() bool {
	return p == Nil
}

// Less reports whether p sorts strictly before other under byte-lexicographic
// order. This total order is what the LexicographicMin tiebreak policy uses
// to break ties on equal values.
func (p PeerId) Less(other PeerId) bool {
	return bytes.Compare(p[:], other[:]) < 0
}

// Compare returns -1, 0, or 1 as p is less than, equal to, or greater than
// other, matching bytes.Compare semantics.
func (p PeerId) Compare(other PeerId) int {
	return bytes.Compare(p[:], other[:])
}

// MarshalJSON encodes the PeerId as its lowercase hex string.
func (p PeerId) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a PeerId from its lowercase hex string form.
func (p *PeerId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := FromHex(s)
	if err != nil {
		return err
	}
	*p = id
	return nil
}
