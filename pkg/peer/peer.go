// Package peer wires the DAG Store, CRR Table, Sync Engine, GC Engine,
// logical clock, and audit logger into the single library surface a
// client embeds: open a peer, run transactions against it, and
// exchange changesets with other peers (spec §5).
package peer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/latticedb/crrdb/pkg/audit"
	"github.com/latticedb/crrdb/pkg/changeset"
	"github.com/latticedb/crrdb/pkg/clock"
	"github.com/latticedb/crrdb/pkg/config"
	"github.com/latticedb/crrdb/pkg/crr"
	"github.com/latticedb/crrdb/pkg/dag"
	"github.com/latticedb/crrdb/pkg/gc"
	"github.com/latticedb/crrdb/pkg/peerid"
	"github.com/latticedb/crrdb/pkg/storage"
	"github.com/latticedb/crrdb/pkg/sync"
	"github.com/latticedb/crrdb/pkg/txn"
)

// Peer is one replica of the CRR/DAG engine: its own storage.Engine,
// DAG Store, CRR Table, and identity, plus the sync/GC machinery for
// talking to other peers.
type Peer struct {
	cfg      *config.Config
	engine   storage.Engine
	dagStore *dag.Store
	table    *crr.Table
	clock    *clock.Clock
	author   peerid.PeerId
	syncEng  *sync.Engine
	gcEng    *gc.Engine
	auditLog *audit.Logger
}

// Open builds or resumes a Peer from cfg: a BadgerDB-backed engine
// under cfg.Database.DataDir, or a transient in-memory engine when
// cfg.Database.InMemory is set. The peer's identity and logical clock
// are loaded from `meta/peer_id` and `meta/clock` if present, or
// minted fresh on a brand-new data directory.
func Open(cfg *config.Config) (*Peer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("peer: invalid config: %w", err)
	}

	var engine storage.Engine
	var err error
	if cfg.Database.InMemory {
		engine = storage.NewMemoryEngine()
	} else {
		engine, err = storage.NewBadgerEngine(cfg.Database.DataDir)
		if err != nil {
			return nil, fmt.Errorf("peer: opening storage engine: %w", err)
		}
	}

	author, err := loadOrMintIdentity(engine)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("peer: loading identity: %w", err)
	}

	clk, err := loadClock(engine)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("peer: loading clock: %w", err)
	}

	auditCfg := audit.DefaultConfig()
	auditCfg.Enabled = !cfg.Database.InMemory
	if !cfg.Database.InMemory {
		auditCfg.LogPath = filepath.Join(cfg.Database.DataDir, "audit.log")
	}
	auditLog, err := audit.NewLogger(auditCfg)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("peer: opening audit logger: %w", err)
	}

	dagStore := dag.New(engine)
	table := crr.New(engine)

	return &Peer{
		cfg:      cfg,
		engine:   engine,
		dagStore: dagStore,
		table:    table,
		clock:    clk,
		author:   author,
		syncEng:  sync.New(dagStore, table, clk, author),
		gcEng:    gc.New(dagStore, table),
		auditLog: auditLog,
	}, nil
}

func loadOrMintIdentity(engine storage.Engine) (peerid.PeerId, error) {
	var id peerid.PeerId
	found := false
	err := engine.View(func(tx storage.Txn) error {
		data, err := tx.Get(storage.MetaKey(storage.MetaPeerID))
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		id, err = peerid.FromBytes(data)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return peerid.PeerId{}, err
	}
	if found {
		return id, nil
	}

	id, err = peerid.New()
	if err != nil {
		return peerid.PeerId{}, fmt.Errorf("minting peer identity: %w", err)
	}
	err = engine.Update(func(tx storage.Txn) error {
		return tx.Set(storage.MetaKey(storage.MetaPeerID), id.Bytes())
	})
	if err != nil {
		return peerid.PeerId{}, err
	}
	log.Printf("peer: minted new identity %s", id)
	return id, nil
}

func loadClock(engine storage.Engine) (*clock.Clock, error) {
	var start uint64
	err := engine.View(func(tx storage.Txn) error {
		data, err := tx.Get(storage.MetaKey(storage.MetaClock))
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(data) == 8 {
			start = binary.LittleEndian.Uint64(data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return clock.New(start), nil
}

func (p *Peer) persistClock() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], p.clock.Peek())
	return p.engine.Update(func(tx storage.Txn) error {
		return tx.Set(storage.MetaKey(storage.MetaClock), buf[:])
	})
}

// Author returns this peer's identity.
func (p *Peer) Author() peerid.PeerId {
	return p.author
}

// Begin opens a new Transaction Context against this peer.
func (p *Peer) Begin() *Tx {
	return &Tx{
		inner: txn.Begin(p.dagStore, p.table, p.clock, p.author, p.cfg.Sync.DefaultPolicy),
		peer:  p,
	}
}

// Get reads the current row state for rowKey (spec §4.1 get).
func (p *Peer) Get(rowKey string) (crr.Row, bool, error) {
	return p.table.Get(rowKey)
}

// Heads returns the local DAG frontier.
func (p *Peer) Heads() ([]dag.NodeID, error) {
	return p.syncEng.Heads()
}

// ChangesetSince computes the delta to send a peer whose frontier is
// peerHeads.
func (p *Peer) ChangesetSince(peerHeads []dag.NodeID) (changeset.Changeset, error) {
	return p.syncEng.ChangesetSince(peerHeads)
}

// ApplyChangeset applies a Changeset received from another peer under
// this peer's configured default TieBreakPolicy, audit-logging the
// outcome whether it succeeds or is rejected.
func (p *Peer) ApplyChangeset(cs changeset.Changeset) (crr.MergeReport, error) {
	report, err := p.syncEng.Apply(cs, p.cfg.Sync.DefaultPolicy)
	if logErr := p.auditLog.LogSyncApply(p.author.String(), report, err); logErr != nil {
		if err == nil {
			return report, fmt.Errorf("peer: audit logging sync apply: %w", logErr)
		}
	}
	if err != nil {
		return crr.MergeReport{}, err
	}
	return report, nil
}

// GC runs one GC pass at the given retention depth and audit-logs the
// result. cfg.Sync.RetentionDepth is not consulted here.
func (p *Peer) GC(retentionDepth int) (gc.Report, error) {
	report, err := p.gcEng.Run(retentionDepth)
	if err != nil {
		return gc.Report{}, err
	}
	if logErr := p.auditLog.LogGC(report.RetentionDepth, report.NodesSealed, report.NodesDeleted); logErr != nil {
		return report, fmt.Errorf("peer: audit logging gc: %w", logErr)
	}
	return report, nil
}

// Close flushes the logical clock to storage and closes the audit
// logger and storage engine.
func (p *Peer) Close() error {
	if err := p.persistClock(); err != nil {
		return fmt.Errorf("peer: persisting clock: %w", err)
	}
	if err := p.auditLog.Close(); err != nil {
		return fmt.Errorf("peer: closing audit logger: %w", err)
	}
	if err := p.engine.Close(); err != nil {
		return fmt.Errorf("peer: closing storage engine: %w", err)
	}
	return nil
}
