package domain

import (
	"strconv"

	apperrors "github.com/louisbranch/cyclefund/internal/platform/errors"
)

// Position is one contribution record. Indices into the owner's list are
// long-lived handles: slots are never removed, only zeroed in place
// ("tombstoned") by withdrawal, refund, or transfer.
type Position struct {
	// ContributionRemaining is the position's live principal.
	ContributionRemaining uint64
	// StartCycleIndex indexes the cycle entry the contribution landed in.
	StartCycleIndex int
	// LastCollectedCycleIndex marks fee-collection progress; always >=
	// StartCycleIndex.
	LastCollectedCycleIndex int
	// Refunded guards against double refunds on a tombstoned slot.
	Refunded bool
}

// live reports whether the slot still holds principal.
func (p Position) live() bool {
	return p.ContributionRemaining > 0
}

// AnyPosition is the index sentinel for "the caller's only position".
const AnyPosition = -1

// PositionsLength returns the owner's slot count, tombstones included.
func (c *Contract) PositionsLength(owner string) int {
	return len(c.Positions[owner])
}

// PositionByIndex returns the owner's slot at index, tombstoned or not.
func (c *Contract) PositionByIndex(owner string, index int) (Position, error) {
	list := c.Positions[owner]
	if index < 0 || index >= len(list) {
		return Position{}, apperrors.WithMetadata(apperrors.CodePositionNotFound,
			"position index out of range",
			map[string]string{"index": strconv.Itoa(index)})
	}
	return list[index], nil
}

// resolvePosition returns the live position at index. AnyPosition resolves
// to the owner's sole live position and fails as ambiguous when the owner
// holds more than one.
func (c *Contract) resolvePosition(owner string, index int) (Position, int, error) {
	list := c.Positions[owner]

	if index == AnyPosition {
		found := -1
		for i, p := range list {
			if !p.live() {
				continue
			}
			if found >= 0 {
				return Position{}, 0, apperrors.New(apperrors.CodePositionAmbiguous,
					"owner holds multiple positions; an explicit index is required")
			}
			found = i
		}
		if found < 0 {
			return Position{}, 0, apperrors.New(apperrors.CodePositionNotFound, "owner holds no position")
		}
		return list[found], found, nil
	}

	if index < 0 || index >= len(list) {
		return Position{}, 0, apperrors.WithMetadata(apperrors.CodePositionNotFound,
			"position index out of range",
			map[string]string{"index": strconv.Itoa(index)})
	}
	p := list[index]
	if !p.live() {
		return Position{}, 0, apperrors.WithMetadata(apperrors.CodePositionNotFound,
			"position is consumed",
			map[string]string{"index": strconv.Itoa(index)})
	}
	return p, index, nil
}

// appendPosition adds a slot to the owner's list and returns its index.
func (c *Contract) appendPosition(owner string, p Position) int {
	if c.Positions == nil {
		c.Positions = make(map[string][]Position)
	}
	c.Positions[owner] = append(c.Positions[owner], p)
	return len(c.Positions[owner]) - 1
}

// tombstone zeroes the slot in place, optionally keeping the refunded mark.
func (c *Contract) tombstone(owner string, index int, refunded bool) {
	c.Positions[owner][index] = Position{Refunded: refunded}
}
