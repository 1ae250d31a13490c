package domain

import "time"

// PositionReport is the read-only projection returned by CheckPosition.
type PositionReport struct {
	// ContributionRemaining is the position's live principal.
	ContributionRemaining uint64
	// Shares is the position's accrued share total at the given instant,
	// pending accrual included.
	Shares uint64
	// FeesEarned is the uncollected fee payout the position can claim.
	FeesEarned uint64
}

// CheckPosition projects a position's principal, shares, and uncollected
// fees without mutating the ledger.
func (c *Contract) CheckPosition(owner string, index int, now time.Time) (PositionReport, error) {
	p, _, err := c.resolvePosition(owner, index)
	if err != nil {
		return PositionReport{}, err
	}
	fees, shares := c.positionEarnings(p, now)
	return PositionReport{
		ContributionRemaining: p.ContributionRemaining,
		Shares:                shares,
		FeesEarned:            fees,
	}, nil
}

// positionEarnings walks the stored cycles from the position's start and
// returns the uncollected fee payout plus the position's current share
// total. The walk accrues shares segment by segment, mirroring how
// advanceLedger accrues the contract-wide totals, so position shares and
// cycle share totals floor identically. Fee pools only exist in
// materialized entries, so unmaterialized trailing cycles contribute
// pending shares but never fees.
func (c *Contract) positionEarnings(p Position, now time.Time) (feesEarned, shares uint64) {
	rate := c.Params.AccrualRate
	scale := c.Params.PercentScale

	var running uint64
	for i := p.StartCycleIndex + 1; i < len(c.Cycles); i++ {
		elapsed := c.Cycles[i].Number - c.Cycles[i-1].Number
		running += accruedShares(rate, elapsed, p.ContributionRemaining, scale)
		if i <= p.LastCollectedCycleIndex {
			continue
		}
		if c.Cycles[i].Shares == 0 {
			continue
		}
		// An overwrite can merge accrual segments, putting the single-floor
		// walk a unit above the per-segment cycle total. Clamp so a fee pool
		// never pays out more than it holds.
		claim := running
		if claim > c.Cycles[i].Shares {
			claim = c.Cycles[i].Shares
		}
		feesEarned += proRata(c.Cycles[i].Fees, claim, c.Cycles[i].Shares)
	}

	if tail, ok := c.lastCycle(); ok {
		if current := c.currentCycle(now); current > tail.Number {
			running += accruedShares(rate, current-tail.Number, p.ContributionRemaining, scale)
		}
	}
	return feesEarned, running
}
