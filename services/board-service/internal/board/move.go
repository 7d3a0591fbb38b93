package board

import "github.com/openbay/shopboard/services/board-service/internal/model"

// MoveOutcome is the result of validating a requested move against current
// row state. NoOp means the request matches stored state exactly and must be
// accepted without writing anything.
type MoveOutcome struct {
	NoOp       bool
	SameColumn bool
}

// ValidateMove decides whether moving an appointment currently in
// (currentStatus, currentPosition) to (requested, requestedPosition) is
// legal. A same-status request is a column reorder and needs no edge check.
// Pure function; the caller applies the result transactionally.
func ValidateMove(currentStatus, requested model.Status, currentPosition, requestedPosition int) (MoveOutcome, error) {
	if requested == currentStatus {
		if requestedPosition == currentPosition {
			return MoveOutcome{NoOp: true, SameColumn: true}, nil
		}
		return MoveOutcome{SameColumn: true}, nil
	}
	if !model.CanTransition(currentStatus, requested) {
		return MoveOutcome{}, IllegalTransition(currentStatus, requested)
	}
	return MoveOutcome{}, nil
}

// ColumnEntry is one appointment's slot in a (tenant, status) column.
type ColumnEntry struct {
	ID       string
	Position int
}

// PositionChange assigns an appointment a new position.
type PositionChange struct {
	ID       string
	Position int
}

// ReorderPlan is the full position diff for one move: the moved
// appointment's final position plus every sibling whose position shifts.
type ReorderPlan struct {
	MovedPosition int
	Changes       []PositionChange
}

// PlanReorder computes the reorder for moving movedID into dest at
// requestedPosition. source must hold the moved appointment's current column
// (including the moved entry, ordered by position); dest the destination
// column. For a same-column move pass sameColumn=true and the same slice
// twice. A requested position past the end of the column is clamped to
// append. Both columns come out densely ordered from zero.
func PlanReorder(source, dest []ColumnEntry, movedID string, requestedPosition int, sameColumn bool) ReorderPlan {
	remaining := make([]ColumnEntry, 0, len(source))
	for _, e := range source {
		if e.ID != movedID {
			remaining = append(remaining, e)
		}
	}

	target := remaining
	if !sameColumn {
		target = dest
	}

	pos := requestedPosition
	if pos < 0 {
		pos = 0
	}
	if pos > len(target) {
		pos = len(target)
	}

	plan := ReorderPlan{MovedPosition: pos}

	// Destination column: everything at or after the insertion point shifts
	// down by one; entries before it compact into any gap left by removal.
	idx := 0
	for _, e := range target {
		if idx == pos {
			idx++
		}
		if e.Position != idx {
			plan.Changes = append(plan.Changes, PositionChange{ID: e.ID, Position: idx})
		}
		idx++
	}

	// Source column compaction only applies on a cross-column move.
	if !sameColumn {
		for i, e := range remaining {
			if e.Position != i {
				plan.Changes = append(plan.Changes, PositionChange{ID: e.ID, Position: i})
			}
		}
	}

	return plan
}
