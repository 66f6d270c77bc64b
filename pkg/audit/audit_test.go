package audit_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/crrdb/pkg/audit"
	"github.com/latticedb/crrdb/pkg/crr"
)

func TestLogMergeWritesOneJSONLine(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf, audit.Config{Enabled: true})

	report := crr.MergeReport{Inserted: 2, ConflictsEqualVersion: 1, PolicyViolation: true}
	require.NoError(t, logger.LogMerge("peer-a", report))

	var event audit.Event
	require.NoError(t, json.Unmarshal(bytes.TrimRight(buf.Bytes(), "\n"), &event))
	require.Equal(t, audit.EventMerge, event.Type)
	require.Equal(t, 2, event.Inserted)
	require.Equal(t, 1, event.ConflictsEqualVersion)
	require.True(t, event.PolicyViolation)
	require.NotEmpty(t, event.ID)
	require.False(t, event.Timestamp.IsZero())
}

func TestDisabledLoggerIsNoOp(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf, audit.Config{Enabled: false})
	require.NoError(t, logger.LogGC(3, 5, 2))
	require.Empty(t, buf.Bytes())
}

func TestLogGCRecordsSealedAndDeletedCounts(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf, audit.Config{Enabled: true})
	require.NoError(t, logger.LogGC(4, 3, 7))

	var event audit.Event
	require.NoError(t, json.Unmarshal(bytes.TrimRight(buf.Bytes(), "\n"), &event))
	require.Equal(t, audit.EventGC, event.Type)
	require.Equal(t, 4, event.RetentionDepth)
	require.Equal(t, 3, event.NodesSealed)
	require.Equal(t, 7, event.NodesDeleted)
}

func TestClosedLoggerRejectsFurtherWrites(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf, audit.Config{Enabled: true})
	require.NoError(t, logger.Close())
	err := logger.Log(audit.Event{Type: audit.EventTxnCommit})
	require.Error(t, err)
}
