package crr

// CellRef names a single (row, column) touched during a merge, used in
// MergeReport's per-row lists.
type CellRef struct {
	RowKey string
	Column string
}

// MergeReport summarizes the outcome of a single crr_merge call (spec
// §4.3). Every count is derivable purely from the diff between pre-
// and post-merge state.
type MergeReport struct {
	Inserted              int
	Updated               int
	ConflictsEqualVersion int
	Ignored               int

	InsertedCells  []CellRef
	UpdatedCells   []CellRef
	ConflictCells  []CellRef
	IgnoredCells   []CellRef

	// PolicyViolation is set when a non-symmetric TieBreakPolicy
	// (PreferExisting/PreferIncoming) resolved at least one conflict.
	// The merge is never refused because of this (spec §7, §9); it is
	// purely informational so callers can log or alert on it.
	PolicyViolation bool
}

func (r *MergeReport) recordInsert(ref CellRef) {
	r.Inserted++
	r.InsertedCells = append(r.InsertedCells, ref)
}

func (r *MergeReport) recordUpdate(ref CellRef) {
	r.Updated++
	r.UpdatedCells = append(r.UpdatedCells, ref)
}

func (r *MergeReport) recordConflict(ref CellRef, policy TieBreakPolicy) {
	r.ConflictsEqualVersion++
	r.ConflictCells = append(r.ConflictCells, ref)
	if !policy.Symmetric() {
		r.PolicyViolation = true
	}
}

func (r *MergeReport) recordIgnore(ref CellRef) {
	r.Ignored++
	r.IgnoredCells = append(r.IgnoredCells, ref)
}
