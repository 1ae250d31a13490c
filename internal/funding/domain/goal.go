package domain

import "time"

// GoalStatus is derived from contributions, goal, deadline, and the clock.
// It is never stored.
type GoalStatus int

const (
	// StatusFunding: the deadline has not passed and the goal is unmet.
	StatusFunding GoalStatus = iota
	// StatusSucceeded: credited contributions reached the goal.
	StatusSucceeded
	// StatusFailed: the deadline passed with the goal unmet. Terminal.
	StatusFailed
)

// String implements fmt.Stringer for logs and API responses.
func (s GoalStatus) String() string {
	switch s {
	case StatusFunding:
		return "funding"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Status derives the goal state at the given instant. Success is judged on
// credited contributions and sticks even if the deadline later passes. Open
// contracts are always funding.
func (c *Contract) Status(now time.Time) GoalStatus {
	if c.Variant != VariantGoal {
		return StatusFunding
	}
	if c.TokensContributed >= c.Params.FundingGoal {
		return StatusSucceeded
	}
	if now.After(c.Params.Deadline) {
		return StatusFailed
	}
	return StatusFunding
}

// GoalFailed reports whether the contract is past its deadline with the
// goal unmet.
func (c *Contract) GoalFailed(now time.Time) bool {
	return c.Variant == VariantGoal && c.Status(now) == StatusFailed
}
