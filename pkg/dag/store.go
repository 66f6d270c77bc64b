package dag

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/latticedb/crrdb/pkg/peerid"
	"github.com/latticedb/crrdb/pkg/storage"
)

// Errors returned by Store operations (spec §7).
var (
	ErrMissingParent = errors.New("dag: missing parent")
	ErrDuplicateID   = errors.New("dag: duplicate node id")
	ErrNotFound      = errors.New("dag: node not found")
)

// record is the on-disk representation of either a full Node or a
// SealedStub, distinguished by Sealed.
type record struct {
	Sealed  bool
	ID      NodeID
	Author  peerid.PeerId
	Seq     uint64
	Parents []NodeID       `json:",omitempty"`
	Payload []PayloadEntry `json:",omitempty"`
}

func (r record) toNode() Node {
	return Node{ID: r.ID, Author: r.Author, Seq: r.Seq, Parents: r.Parents, Payload: r.Payload}
}

// Store is the append-only DAG Store (spec §4.2), backed by a
// storage.Engine. It tracks the local frontier (heads) and supports
// reachability queries used by the sync protocol and GC engine.
type Store struct {
	engine storage.Engine
}

// New wraps engine as a DAG Store. The frontier is read lazily from
// `meta/heads`; a fresh engine starts with an empty frontier (genesis).
func New(engine storage.Engine) *Store {
	return &Store{engine: engine}
}

// Append inserts node, failing with ErrMissingParent if any parent is
// unknown locally (enforcing invariant D3: causal completeness at
// commit) or ErrDuplicateID if node.ID already exists (idempotent
// no-op per spec §7's DuplicateNode policy -- callers should treat a
// non-nil ErrDuplicateID as success, not failure).
func (s *Store) Append(node Node) error {
	return s.engine.Update(func(tx storage.Txn) error {
		key := storage.DagNodeKey(node.ID)
		if _, err := tx.Get(key); err == nil {
			return ErrDuplicateID
		} else if !errors.Is(err, storage.ErrKeyNotFound) {
			return err
		}

		for _, p := range node.Parents {
			if p.IsNil() {
				continue // genesis marker, not a real parent reference
			}
			if _, err := tx.Get(storage.DagNodeKey(p)); err != nil {
				if errors.Is(err, storage.ErrKeyNotFound) {
					return ErrMissingParent
				}
				return err
			}
		}

		rec := record{ID: node.ID, Author: node.Author, Seq: node.Seq, Parents: node.Parents, Payload: node.Payload}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("dag: encoding node: %w", err)
		}
		if err := tx.Set(key, data); err != nil {
			return err
		}

		return s.updateFrontierLocked(tx, node.ID, node.Parents)
	})
}

// updateFrontierLocked removes newParents from the frontier (they now
// have a descendant) and adds id, since a just-appended node has none.
func (s *Store) updateFrontierLocked(tx storage.Txn, id NodeID, parents []NodeID) error {
	heads, err := loadHeads(tx)
	if err != nil {
		return err
	}
	for _, p := range parents {
		delete(heads, p)
	}
	heads[id] = struct{}{}
	return saveHeads(tx, heads)
}

// Get returns the node with the given id, or ErrNotFound. A sealed
// stub id returns ok=false for isFull, letting callers distinguish a
// fully-known node from a metadata-only stub.
func (s *Store) Get(id NodeID) (node Node, isFull bool, err error) {
	err = s.engine.View(func(tx storage.Txn) error {
		data, gerr := tx.Get(storage.DagNodeKey(id))
		if gerr != nil {
			if errors.Is(gerr, storage.ErrKeyNotFound) {
				return ErrNotFound
			}
			return gerr
		}
		var rec record
		if uerr := json.Unmarshal(data, &rec); uerr != nil {
			return fmt.Errorf("dag: decoding node: %w", uerr)
		}
		node = rec.toNode()
		isFull = !rec.Sealed
		return nil
	})
	return node, isFull, err
}

// Known reports whether id is present locally, either as a full node
// or a sealed stub (spec G2: sealed nodes count as "known").
func (s *Store) Known(id NodeID) (bool, error) {
	var known bool
	err := s.engine.View(func(tx storage.Txn) error {
		_, gerr := tx.Get(storage.DagNodeKey(id))
		if gerr == nil {
			known = true
			return nil
		}
		if errors.Is(gerr, storage.ErrKeyNotFound) {
			return nil
		}
		return gerr
	})
	return known, err
}

// Heads returns the current frontier: node ids with no local descendants.
func (s *Store) Heads() ([]NodeID, error) {
	var out []NodeID
	err := s.engine.View(func(tx storage.Txn) error {
		heads, err := loadHeads(tx)
		if err != nil {
			return err
		}
		out = make([]NodeID, 0, len(heads))
		for id := range heads {
			out = append(out, id)
		}
		return nil
	})
	return out, err
}

// Ancestors yields nodes reachable from id via parent links, up to
// depth edges (depth < 0 means unbounded). The walk is a simple BFS;
// callers needing to resume a long walk can re-invoke with a smaller
// depth bound, per spec §4.2's "finite, restartable by re-invocation".
func (s *Store) Ancestors(id NodeID, depth int) ([]NodeID, error) {
	var out []NodeID
	err := s.engine.View(func(tx storage.Txn) error {
		visited := map[NodeID]bool{id: true}
		frontier := []NodeID{id}
		for d := 0; (depth < 0 || d < depth) && len(frontier) > 0; d++ {
			var next []NodeID
			for _, cur := range frontier {
				rec, found, err := getRecord(tx, cur)
				if err != nil {
					return err
				}
				if !found || rec.Sealed {
					continue
				}
				for _, p := range rec.Parents {
					if p.IsNil() || visited[p] {
						continue
					}
					visited[p] = true
					out = append(out, p)
					next = append(next, p)
				}
			}
			frontier = next
		}
		return nil
	})
	return out, err
}

// MissingRelativeTo computes the delta to send to a peer whose frontier
// is theirHeads: nodes ancestor-reachable from the local frontier but
// not from theirHeads (spec §4.2). Returned in an order where every
// node appears after its parents, suitable for direct replay via Append.
func (s *Store) MissingRelativeTo(theirHeads []NodeID) ([]Node, error) {
	var out []Node
	err := s.engine.View(func(tx storage.Txn) error {
		known := map[NodeID]bool{}
		for _, h := range theirHeads {
			if err := markKnownAncestors(tx, h, known); err != nil {
				return err
			}
		}

		ourHeads, err := loadHeads(tx)
		if err != nil {
			return err
		}

		visited := map[NodeID]bool{}
		var collected []record
		var walk func(id NodeID) error
		walk = func(id NodeID) error {
			if id.IsNil() || visited[id] || known[id] {
				return nil
			}
			visited[id] = true
			rec, found, err := getRecord(tx, id)
			if err != nil {
				return err
			}
			if !found || rec.Sealed {
				return nil
			}
			for _, p := range rec.Parents {
				if err := walk(p); err != nil {
					return err
				}
			}
			collected = append(collected, rec)
			return nil
		}
		for h := range ourHeads {
			if err := walk(h); err != nil {
				return err
			}
		}

		out = make([]Node, 0, len(collected))
		for _, r := range collected {
			out = append(out, r.toNode())
		}
		return nil
	})
	return out, err
}

// KnownAncestorsOf returns the set of node ids reachable (via local
// parent links) from heads, inclusive of heads themselves. Used by
// pkg/crr to decide which column cells are "reachable from
// since_frontier" when building a changeset (spec §4.3's Changeset
// operation).
func (s *Store) KnownAncestorsOf(heads []NodeID) (map[NodeID]bool, error) {
	known := map[NodeID]bool{}
	err := s.engine.View(func(tx storage.Txn) error {
		for _, h := range heads {
			if err := markKnownAncestors(tx, h, known); err != nil {
				return err
			}
		}
		return nil
	})
	return known, err
}

// markKnownAncestors marks id and everything reachable from it (via
// local parent links) as known. If id is not known locally at all,
// nothing is marked for it -- the peer claims to have it, but we have
// no way to verify or use that, so we fall back to treating our own
// subgraph as the source of truth.
func markKnownAncestors(tx storage.Txn, id NodeID, known map[NodeID]bool) error {
	if id.IsNil() || known[id] {
		return nil
	}
	rec, found, err := getRecord(tx, id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	known[id] = true
	if rec.Sealed {
		return nil
	}
	for _, p := range rec.Parents {
		if err := markKnownAncestors(tx, p, known); err != nil {
			return err
		}
	}
	return nil
}

func getRecord(tx storage.Txn, id NodeID) (record, bool, error) {
	data, err := tx.Get(storage.DagNodeKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return record{}, false, nil
		}
		return record{}, false, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, false, fmt.Errorf("dag: decoding node: %w", err)
	}
	return rec, true, nil
}

func loadHeads(tx storage.Txn) (map[NodeID]struct{}, error) {
	data, err := tx.Get(storage.MetaKey(storage.MetaHeads))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return map[NodeID]struct{}{}, nil
		}
		return nil, err
	}
	var ids []NodeID
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("dag: decoding heads: %w", err)
	}
	heads := make(map[NodeID]struct{}, len(ids))
	for _, id := range ids {
		heads[id] = struct{}{}
	}
	return heads, nil
}

func saveHeads(tx storage.Txn, heads map[NodeID]struct{}) error {
	ids := make([]NodeID, 0, len(heads))
	for id := range heads {
		ids = append(ids, id)
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("dag: encoding heads: %w", err)
	}
	return tx.Set(storage.MetaKey(storage.MetaHeads), data)
}
