package dag

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes a NodeID as its lowercase hex string, rather than
// the default JSON array-of-numbers encoding for a fixed-size byte array.
func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(id[:]))
}

// UnmarshalJSON decodes a NodeID from its lowercase hex string form.
func (id *NodeID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("dag: decoding node id: %w", err)
	}
	if len(b) != len(id) {
		return fmt.Errorf("dag: node id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return nil
}
