package crr

import "bytes"

// TieBreakPolicy resolves a conflict_equal_version: two cells for the
// same (row, column) arriving with equal version but different values
// (spec §3, §4.3).
type TieBreakPolicy int

const (
	// LexicographicMin picks the byte-lexicographically smaller value,
	// breaking value ties by byte-lex of writer PeerId. The only
	// policy that is symmetric and therefore SEC-preserving (spec §3).
	LexicographicMin TieBreakPolicy = iota

	// PreferExisting always keeps the local cell. Not symmetric: two
	// peers applying each other's changeset under PreferExisting will
	// diverge, each keeping its own value.
	PreferExisting

	// PreferIncoming always takes the remote cell. Not symmetric, for
	// the same reason as PreferExisting.
	PreferIncoming
)

// String renders the policy name for logs and audit entries.
func (p TieBreakPolicy) String() string {
	switch p {
	case LexicographicMin:
		return "lexicographic_min"
	case PreferExisting:
		return "prefer_existing"
	case PreferIncoming:
		return "prefer_incoming"
	default:
		return "unknown"
	}
}

// Symmetric reports whether p is safe to use across independently
// syncing peers without surfacing a PolicyViolation (spec §9's open
// question: only LexicographicMin is SEC-preserving).
func (p TieBreakPolicy) Symmetric() bool {
	return p == LexicographicMin
}

// resolveConflict picks the winning cell of two cells for the same
// (row, column) that share a version but differ in value. It never
// refuses -- callers are expected to inspect MergeReport.PolicyViolation
// for non-symmetric policies (spec §9's explicit "do not refuse").
func resolveConflict(local, remote ColumnCell, policy TieBreakPolicy) ColumnCell {
	switch policy {
	case PreferExisting:
		return local
	case PreferIncoming:
		return remote
	case LexicographicMin:
		fallthrough
	default:
		cmp := bytes.Compare(remote.Value, local.Value)
		if cmp < 0 {
			return remote
		}
		if cmp > 0 {
			return local
		}
		// Value tie: break by byte-lex of writer PeerId, smaller wins.
		if remote.Writer.Less(local.Writer) {
			return remote
		}
		return local
	}
}
