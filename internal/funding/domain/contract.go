package domain

import (
	"math/big"
	"time"

	apperrors "github.com/louisbranch/cyclefund/internal/platform/errors"
)

// Contract is one funding ledger instance. All mutating methods assume the
// caller serializes access per contract: each operation is an atomic,
// all-or-nothing transition with no partial state visible to other callers.
type Contract struct {
	ID        string
	Owner     string
	Variant   Variant
	Params    Params
	StartTime time.Time
	Paused    bool

	// Cycles is the compressed accrual time series (see Coalesce).
	Cycles []Cycle
	// Positions maps owner address to an index-stable slot list.
	Positions map[string][]Position

	// TokensContributed counts credited principal (fees excluded);
	// TokensWithdrawn counts principal paid back out.
	TokensContributed uint64
	TokensWithdrawn   uint64

	// Stake collateral (goal variant only).
	TotalStake uint64
	Stakes     map[string]uint64
}

// ensureActive rejects state-changing calls on a paused contract.
func (c *Contract) ensureActive() error {
	if c.Paused {
		return apperrors.New(apperrors.CodeContractPaused, "contract is paused")
	}
	return nil
}

// Contribute records a contribution and returns the new position's index
// together with the contributor fee withheld. The returned index is a
// stable handle for all future operations. The full amount must already be
// held by the contract; the fee stays behind as the cycle's fee pool.
func (c *Contract) Contribute(owner string, amount uint64, now time.Time) (int, uint64, error) {
	if err := c.ensureActive(); err != nil {
		return 0, 0, err
	}
	if amount == 0 {
		return 0, 0, apperrors.New(apperrors.CodeInvalidAmount, "contribution amount must be positive")
	}
	if c.Variant == VariantGoal && c.GoalFailed(now) {
		return 0, 0, apperrors.New(apperrors.CodeGoalFailed, "goal has failed; contributions are closed")
	}

	// Contributions landing in the ledger's opening cycle pay no fee.
	fee := uint64(0)
	if !c.inOpeningCycle(now) {
		fee = proRata(amount, c.Params.ContributorFeeRate, c.Params.PercentScale)
	}

	c.advanceLedger(now, amount, fee)

	credited := amount - fee
	tailIndex := len(c.Cycles) - 1
	index := c.appendPosition(owner, Position{
		ContributionRemaining:   credited,
		StartCycleIndex:         tailIndex,
		LastCollectedCycleIndex: tailIndex,
	})
	c.TokensContributed += credited
	return index, fee, nil
}

// inOpeningCycle reports whether a contribution made now would land in the
// ledger's very first stored cycle.
func (c *Contract) inOpeningCycle(now time.Time) bool {
	if len(c.Cycles) == 0 {
		return true
	}
	return len(c.Cycles) == 1 && c.currentCycle(now) == c.Cycles[0].Number
}

// CollectFees pays out a position's uncollected fee share and advances its
// collection cursor. Principal is untouched. Calling twice with no
// intervening cycle advance pays zero the second time. Fee collection stays
// available on a paused contract.
func (c *Contract) CollectFees(owner string, index int, now time.Time) (uint64, error) {
	c.advanceLedger(now, 0, 0)

	p, slot, err := c.resolvePosition(owner, index)
	if err != nil {
		return 0, err
	}

	fees, _ := c.positionEarnings(p, now)
	p.LastCollectedCycleIndex = len(c.Cycles) - 1
	c.Positions[owner][slot] = p
	return fees, nil
}

// Withdraw pays out a position's remaining principal plus uncollected fees
// and tombstones the slot.
func (c *Contract) Withdraw(owner string, index int, now time.Time) (uint64, error) {
	if err := c.ensureActive(); err != nil {
		return 0, err
	}

	c.advanceLedger(now, 0, 0)

	p, slot, err := c.resolvePosition(owner, index)
	if err != nil {
		return 0, err
	}

	fees, _ := c.positionEarnings(p, now)
	payout := p.ContributionRemaining + fees
	c.TokensWithdrawn += p.ContributionRemaining
	c.tombstone(owner, slot, false)
	return payout, nil
}

// Refund pays out principal, uncollected fees, and a pro-rata slice of the
// posted stake. Only callable once per position, and only after the goal
// has failed. Refunds stay available on a paused contract.
func (c *Contract) Refund(owner string, index int, now time.Time) (uint64, error) {
	if c.Variant != VariantGoal {
		return 0, apperrors.New(apperrors.CodeGoalNotFailed, "contract has no funding goal")
	}
	if index != AnyPosition {
		if list := c.Positions[owner]; index >= 0 && index < len(list) && list[index].Refunded {
			return 0, apperrors.New(apperrors.CodeAlreadyRefunded, "position is already refunded")
		}
	}
	if !c.GoalFailed(now) {
		return 0, apperrors.New(apperrors.CodeGoalNotFailed, "goal has not failed")
	}

	c.advanceLedger(now, 0, 0)

	p, slot, err := c.resolvePosition(owner, index)
	if err != nil {
		return 0, err
	}

	fees, shares := c.positionEarnings(p, now)
	stakeShare := proRata(c.TotalStake, shares, c.TotalShares(now))

	payout := p.ContributionRemaining + fees + stakeShare
	c.TokensWithdrawn += p.ContributionRemaining
	c.TotalStake -= stakeShare
	c.tombstone(owner, slot, true)
	return payout, nil
}

// Split carves numSplits equal child positions out of a source position.
// Children inherit the source's accrual and collection cursors, so the
// combined share and fee claims are preserved; principal is conserved
// exactly.
func (c *Contract) Split(owner string, index int, numSplits int, amountPerSplit uint64, now time.Time) ([]int, error) {
	if err := c.ensureActive(); err != nil {
		return nil, err
	}
	if numSplits <= 0 || amountPerSplit == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidAmount, "split count and amount must be positive")
	}

	c.advanceLedger(now, 0, 0)

	p, slot, err := c.resolvePosition(owner, index)
	if err != nil {
		return nil, err
	}

	product := new(big.Int).Mul(big.NewInt(int64(numSplits)), new(big.Int).SetUint64(amountPerSplit))
	if !product.IsUint64() || product.Uint64() > p.ContributionRemaining {
		return nil, apperrors.New(apperrors.CodeSplitExceedsPosition, "split total exceeds position principal")
	}

	p.ContributionRemaining -= product.Uint64()
	c.Positions[owner][slot] = p

	indices := make([]int, 0, numSplits)
	for i := 0; i < numSplits; i++ {
		indices = append(indices, c.appendPosition(owner, Position{
			ContributionRemaining:   amountPerSplit,
			StartCycleIndex:         p.StartCycleIndex,
			LastCollectedCycleIndex: p.LastCollectedCycleIndex,
		}))
	}
	return indices, nil
}

// TransferPosition appends a full copy of the source position to the
// recipient's list and tombstones the source slot. Self-transfer is a legal,
// observable operation: it yields a new trailing slot and a tombstone, not a
// no-op.
func (c *Contract) TransferPosition(to, owner string, index int) (int, error) {
	if err := c.ensureActive(); err != nil {
		return 0, err
	}

	p, slot, err := c.resolvePosition(owner, index)
	if err != nil {
		return 0, err
	}

	newIndex := c.appendPosition(to, p)
	c.tombstone(owner, slot, false)
	return newIndex, nil
}

// TransferPositions transfers several positions at once. The batch is
// all-or-nothing: every index is validated before any slot moves.
func (c *Contract) TransferPositions(to, owner string, indices []int) ([]int, error) {
	if err := c.ensureActive(); err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidAmount, "at least one position index is required")
	}

	seen := make(map[int]bool, len(indices))
	for _, index := range indices {
		if index == AnyPosition {
			return nil, apperrors.New(apperrors.CodePositionAmbiguous, "batched transfers require explicit indices")
		}
		if seen[index] {
			return nil, apperrors.New(apperrors.CodePositionNotFound, "duplicate position index in batch")
		}
		seen[index] = true
		if _, _, err := c.resolvePosition(owner, index); err != nil {
			return nil, err
		}
	}

	newIndices := make([]int, 0, len(indices))
	for _, index := range indices {
		newIndex, err := c.TransferPosition(to, owner, index)
		if err != nil {
			return nil, err
		}
		newIndices = append(newIndices, newIndex)
	}
	return newIndices, nil
}

// Distribute injects an external fee pool into the current cycle,
// distributed to existing positions proportional to their shares.
func (c *Contract) Distribute(amount uint64, now time.Time) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	if amount == 0 {
		return apperrors.New(apperrors.CodeInvalidAmount, "distribution amount must be positive")
	}
	if c.inOpeningCycle(now) || c.TotalShares(now) == 0 {
		return apperrors.New(apperrors.CodeInvalidAmount, "no shares outstanding to receive a distribution")
	}
	c.advanceLedger(now, 0, amount)
	return nil
}

// WithdrawFunds pays raised principal to the owner's chosen recipient. On
// goal contracts this requires the goal to have been reached.
func (c *Contract) WithdrawFunds(amount uint64, now time.Time) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	if amount == 0 {
		return apperrors.New(apperrors.CodeInvalidAmount, "withdrawal amount must be positive")
	}
	if c.Variant == VariantGoal && c.Status(now) != StatusSucceeded {
		return apperrors.New(apperrors.CodeGoalNotReached, "goal has not been reached")
	}

	available := c.TokensContributed - c.TokensWithdrawn
	if amount > available {
		return apperrors.New(apperrors.CodeWithdrawExceedsAvailable, "withdrawal exceeds available funds")
	}

	c.advanceLedger(now, 0, 0)
	c.TokensWithdrawn += amount
	return nil
}

// ExtendGoal raises the funding goal and pushes the deadline out. The goal
// must strictly increase and the deadline must be in the future.
func (c *Contract) ExtendGoal(goal uint64, deadline time.Time, now time.Time) error {
	if c.Variant != VariantGoal {
		return apperrors.New(apperrors.CodeContractInvalidParams, "contract has no funding goal")
	}
	if err := c.ensureActive(); err != nil {
		return err
	}
	if goal <= c.Params.FundingGoal {
		return apperrors.New(apperrors.CodeGoalMustIncrease, "new goal must exceed the current goal")
	}
	if !deadline.After(now) {
		return apperrors.New(apperrors.CodeDeadlineMustBeFuture, "new deadline must be in the future")
	}
	c.Params.FundingGoal = goal
	c.Params.Deadline = deadline.UTC()
	return nil
}

// AddStake posts collateral that is forfeited pro rata to contributors if
// the goal fails.
func (c *Contract) AddStake(address string, amount uint64) error {
	if c.Variant != VariantGoal {
		return apperrors.New(apperrors.CodeContractInvalidParams, "contract has no stake collateral")
	}
	if err := c.ensureActive(); err != nil {
		return err
	}
	if amount == 0 {
		return apperrors.New(apperrors.CodeInvalidAmount, "stake amount must be positive")
	}
	if c.Stakes == nil {
		c.Stakes = make(map[string]uint64)
	}
	c.Stakes[address] += amount
	c.TotalStake += amount
	return nil
}

// RemoveStake releases previously posted collateral. Blocked once the goal
// has failed: the stake then belongs to refunding contributors.
func (c *Contract) RemoveStake(address string, amount uint64, now time.Time) error {
	if c.Variant != VariantGoal {
		return apperrors.New(apperrors.CodeContractInvalidParams, "contract has no stake collateral")
	}
	if err := c.ensureActive(); err != nil {
		return err
	}
	if amount == 0 {
		return apperrors.New(apperrors.CodeInvalidAmount, "stake amount must be positive")
	}
	if c.GoalFailed(now) {
		return apperrors.New(apperrors.CodeGoalFailed, "goal has failed; stake is forfeited to contributors")
	}
	if amount > c.Stakes[address] {
		return apperrors.New(apperrors.CodeWithdrawExceedsAvailable, "stake removal exceeds posted stake")
	}
	c.Stakes[address] -= amount
	c.TotalStake -= amount
	return nil
}

// TransferStake moves posted collateral between addresses without releasing it.
func (c *Contract) TransferStake(from, to string, amount uint64) error {
	if c.Variant != VariantGoal {
		return apperrors.New(apperrors.CodeContractInvalidParams, "contract has no stake collateral")
	}
	if err := c.ensureActive(); err != nil {
		return err
	}
	if amount == 0 {
		return apperrors.New(apperrors.CodeInvalidAmount, "stake amount must be positive")
	}
	if amount > c.Stakes[from] {
		return apperrors.New(apperrors.CodeWithdrawExceedsAvailable, "stake transfer exceeds posted stake")
	}
	if c.Stakes == nil {
		c.Stakes = make(map[string]uint64)
	}
	c.Stakes[from] -= amount
	c.Stakes[to] += amount
	return nil
}

// SetPaused toggles the pause gate. Paused contracts reject state-changing
// calls except fee collection and refunds.
func (c *Contract) SetPaused(paused bool) {
	c.Paused = paused
}

// LivePrincipal sums the remaining principal across live positions. With
// TokensContributed and TokensWithdrawn it forms the conservation check:
// live + withdrawn == contributed, up to bounded rounding.
func (c *Contract) LivePrincipal() uint64 {
	var sum uint64
	for _, list := range c.Positions {
		for _, p := range list {
			sum += p.ContributionRemaining
		}
	}
	return sum
}
