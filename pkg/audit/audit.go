// Package audit provides append-only JSON-lines logging of crr_merge
// decisions, GC passes, and sync exchanges, so a peer's convergence
// history can be reconstructed after the fact.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/latticedb/crrdb/pkg/crr"
)

// EventType categorizes an audit log entry.
type EventType string

const (
	EventMerge     EventType = "MERGE"
	EventSyncApply EventType = "SYNC_APPLY"
	EventGC        EventType = "GC"
	EventTxnCommit EventType = "TXN_COMMIT"
)

// Event is a single immutable audit log entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	PeerID string `json:"peer_id,omitempty"`
	RowKey string `json:"row_key,omitempty"`
	Column string `json:"column,omitempty"`

	Inserted              int  `json:"inserted,omitempty"`
	Updated               int  `json:"updated,omitempty"`
	Ignored               int  `json:"ignored,omitempty"`
	ConflictsEqualVersion int  `json:"conflicts_equal_version,omitempty"`
	PolicyViolation       bool `json:"policy_violation,omitempty"`

	RetentionDepth int `json:"retention_depth,omitempty"`
	NodesSealed    int `json:"nodes_sealed,omitempty"`
	NodesDeleted   int `json:"nodes_deleted,omitempty"`

	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Config holds audit logger configuration.
type Config struct {
	// Enabled controls whether audit logging is active.
	Enabled bool

	// LogPath is the path to the audit log file.
	LogPath string

	// SyncWrites forces fsync after each write.
	SyncWrites bool
}

// DefaultConfig returns sensible defaults for audit logging.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		LogPath:    "./logs/audit.log",
		SyncWrites: true,
	}
}

// Logger writes audit Events as newline-delimited JSON. Safe for
// concurrent use.
type Logger struct {
	mu       sync.Mutex
	writer   io.Writer
	file     *os.File
	config   Config
	sequence uint64
	closed   bool
}

// NewLogger creates a logger per config, creating LogPath's directory
// and opening it in append mode. A disabled config returns a no-op
// logger.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	dir := filepath.Dir(config.LogPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("audit: creating log directory: %w", err)
	}

	file, err := os.OpenFile(config.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("audit: opening log file: %w", err)
	}

	return &Logger{writer: file, file: file, config: config}, nil
}

// NewLoggerWithWriter wraps an arbitrary writer (for tests).
func NewLoggerWithWriter(writer io.Writer, config Config) *Logger {
	return &Logger{writer: writer, config: config}
}

// Log appends event, stamping Timestamp and ID if unset.
func (l *Logger) Log(event Event) error {
	if !l.config.Enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("audit: logger is closed")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		l.sequence++
		event.ID = fmt.Sprintf("audit-%d-%d", event.Timestamp.UnixNano(), l.sequence)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: encoding event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: writing event: %w", err)
	}
	if l.config.SyncWrites && l.file != nil {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("audit: syncing log: %w", err)
		}
	}
	return nil
}

// LogMerge records the outcome of a single crr_merge call.
func (l *Logger) LogMerge(peerID string, report crr.MergeReport) error {
	return l.Log(Event{
		Type:                  EventMerge,
		PeerID:                peerID,
		Inserted:              report.Inserted,
		Updated:               report.Updated,
		Ignored:               report.Ignored,
		ConflictsEqualVersion: report.ConflictsEqualVersion,
		PolicyViolation:       report.PolicyViolation,
		Success:               true,
	})
}

// LogSyncApply records a full sync apply (node append + merge) against
// a peer, including whether it was rejected (e.g. MissingCausality).
func (l *Logger) LogSyncApply(peerID string, report crr.MergeReport, applyErr error) error {
	event := Event{
		Type:                  EventSyncApply,
		PeerID:                peerID,
		Inserted:              report.Inserted,
		Updated:               report.Updated,
		Ignored:               report.Ignored,
		ConflictsEqualVersion: report.ConflictsEqualVersion,
		PolicyViolation:       report.PolicyViolation,
		Success:               applyErr == nil,
	}
	if applyErr != nil {
		event.Reason = applyErr.Error()
	}
	return l.Log(event)
}

// LogGC records one GC pass: how many nodes were sealed vs fully
// deleted at the given retention depth.
func (l *Logger) LogGC(retentionDepth, sealed, deleted int) error {
	return l.Log(Event{
		Type:           EventGC,
		RetentionDepth: retentionDepth,
		NodesSealed:    sealed,
		NodesDeleted:   deleted,
		Success:        true,
	})
}

// LogTxnCommit records a local write committing a new DAG node.
func (l *Logger) LogTxnCommit(peerID, rowKey, column string) error {
	return l.Log(Event{
		Type:    EventTxnCommit,
		PeerID:  peerID,
		RowKey:  rowKey,
		Column:  column,
		Success: true,
	})
}

// Close closes the underlying log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
