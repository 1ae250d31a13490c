package domain

import "time"

// Cycle is one snapshot in the compressed accrual time series. Number is the
// cycle index since the contract's start; Shares is the cumulative share
// total through that cycle; Fees is the fee pool assessed during it.
type Cycle struct {
	Number           uint64
	Shares           uint64
	Fees             uint64
	HasContributions bool
}

// CycleNumberAt converts a wall-clock instant into a cycle index.
func CycleNumberAt(start time.Time, cycleLength time.Duration, now time.Time) uint64 {
	if cycleLength <= 0 || now.Before(start) {
		return 0
	}
	return uint64(now.Sub(start) / cycleLength)
}

// CoalesceAction tells the caller how to apply a coalesced ledger update.
type CoalesceAction int

const (
	// CoalesceAppend appends Entry after the current tail.
	CoalesceAppend CoalesceAction = iota
	// CoalesceOverwrite replaces the current tail with Entry.
	CoalesceOverwrite
	// CoalesceMerge updates the current tail's fee pool in place.
	CoalesceMerge
	// CoalesceNone leaves the ledger untouched.
	CoalesceNone
)

// CoalesceResult is the outcome of coalescing one ledger update.
type CoalesceResult struct {
	Action CoalesceAction
	Entry  Cycle
}

// Coalesce decides how a ledger update at cycle `current` folds into the
// tail entry. It is pure: callers apply the returned action.
//
// The compression policy: same-cycle activity merges into the tail,
// accumulating the fee and marking the tail contribution-bearing when
// principal landed in it, even when the fee floors to zero (the opening
// cycle is already contribution-bearing and never carries a contributor
// fee, so it is left untouched). When the cycle has advanced, a tail that
// saw contributions or holds an unclaimed fee pool is preserved and a new
// entry appended; only a tail produced by a fee-free withdrawal or
// collection is overwritten in place, to bound ledger growth. Fees
// recorded into a snapshot are never discarded, and stay attributed to the
// share distribution of the cycle they were assessed in.
func Coalesce(tail Cycle, tailIndex int, current uint64, newShares uint64, amount, fee uint64) CoalesceResult {
	if current == tail.Number {
		if tailIndex == 0 {
			return CoalesceResult{Action: CoalesceNone}
		}
		if amount == 0 && fee == 0 {
			return CoalesceResult{Action: CoalesceNone}
		}
		merged := tail
		merged.Fees += fee
		if amount > 0 {
			merged.HasContributions = true
		}
		return CoalesceResult{Action: CoalesceMerge, Entry: merged}
	}

	entry := Cycle{
		Number:           current,
		Shares:           newShares,
		Fees:             fee,
		HasContributions: amount > 0,
	}
	if tail.HasContributions || tail.Fees > 0 {
		return CoalesceResult{Action: CoalesceAppend, Entry: entry}
	}
	return CoalesceResult{Action: CoalesceOverwrite, Entry: entry}
}

// lastCycle returns the tail entry; ok is false when the ledger is empty.
func (c *Contract) lastCycle() (Cycle, bool) {
	if len(c.Cycles) == 0 {
		return Cycle{}, false
	}
	return c.Cycles[len(c.Cycles)-1], true
}

// advanceLedger folds one update into the cycle ledger. It is the sole
// ledger mutator and runs at the top of every state-changing operation.
func (c *Contract) advanceLedger(now time.Time, amount, fee uint64) {
	current := c.currentCycle(now)

	tail, ok := c.lastCycle()
	if !ok {
		// The opening entry never carries a contributor fee; contributions
		// landing here are fee-exempt.
		c.Cycles = append(c.Cycles, Cycle{
			Number:           current,
			HasContributions: true,
		})
		return
	}

	newShares := tail.Shares
	if current > tail.Number {
		newShares += accruedShares(c.Params.AccrualRate, current-tail.Number, c.TokensContributed, c.Params.PercentScale)
	}

	result := Coalesce(tail, len(c.Cycles)-1, current, newShares, amount, fee)
	switch result.Action {
	case CoalesceAppend:
		c.Cycles = append(c.Cycles, result.Entry)
	case CoalesceOverwrite, CoalesceMerge:
		c.Cycles[len(c.Cycles)-1] = result.Entry
	}
}

// currentCycle returns the cycle index at the given instant.
func (c *Contract) currentCycle(now time.Time) uint64 {
	return CycleNumberAt(c.StartTime, c.Params.CycleLength, now)
}

// CurrentCycleNumber exposes the deterministic cycle index for readers.
func (c *Contract) CurrentCycleNumber(now time.Time) uint64 {
	return c.currentCycle(now)
}

// TotalShares projects the contract-wide share total at the given instant:
// the accrual through the last stored cycle plus the pending accrual since.
// It never mutates the ledger.
func (c *Contract) TotalShares(now time.Time) uint64 {
	tail, ok := c.lastCycle()
	if !ok {
		return 0
	}
	current := c.currentCycle(now)
	pending := uint64(0)
	if current > tail.Number {
		pending = accruedShares(c.Params.AccrualRate, current-tail.Number, c.TokensContributed, c.Params.PercentScale)
	}
	return tail.Shares + pending
}
