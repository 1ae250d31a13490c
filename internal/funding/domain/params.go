// Package domain implements the cycle-based accrual and fee-distribution
// engine behind funding contracts.
//
// A contract batches share accrual into fixed-length cycles. Contributions
// accrue shares over elapsed cycles, and fees collected from later
// contributors (or injected externally) pool per cycle and pay out to
// existing positions proportional to their shares at that cycle boundary.
package domain

import (
	"errors"
	"strings"
	"time"
)

// Variant selects the contract shape.
type Variant int

const (
	// VariantUnspecified represents an invalid variant value.
	VariantUnspecified Variant = iota
	// VariantOpen is a goalless contract: contributions, accrual, and fee
	// distribution only, with withdrawal at will.
	VariantOpen
	// VariantGoal adds a funding goal, deadline, and stake collateral.
	VariantGoal
)

var (
	// ErrEmptyOwner indicates a missing contract owner address.
	ErrEmptyOwner = errors.New("contract owner is required")
	// ErrInvalidVariant indicates a missing or unknown contract variant.
	ErrInvalidVariant = errors.New("contract variant is required")
)

// Params fixes a contract's economics at construction. All rates are
// fixed-point integers over PercentScale; amounts are integers in the
// token's smallest unit. Params never change after construction, with the
// single exception of ExtendGoal raising the goal and deadline.
type Params struct {
	// CycleLength is the wall-clock duration of one accrual cycle.
	CycleLength time.Duration
	// AccrualRate is the share accrual per token per elapsed cycle,
	// scaled by PercentScale.
	AccrualRate uint64
	// ContributorFeeRate is the levy on each contribution, scaled by
	// PercentScale. Contributions landing in the ledger's opening cycle
	// are exempt.
	ContributorFeeRate uint64
	// PercentScale is the fixed-point denominator (1_000_000 == 100%).
	PercentScale uint64
	// FundingGoal is the contribution target (goal variant only).
	FundingGoal uint64
	// Deadline is the funding cutoff (goal variant only).
	Deadline time.Time
}

// Validate checks parameter consistency for the given variant.
func (p Params) Validate(variant Variant) error {
	if p.CycleLength <= 0 {
		return errors.New("cycle length must be positive")
	}
	if p.PercentScale == 0 {
		return errors.New("percent scale must be positive")
	}
	if p.ContributorFeeRate > p.PercentScale {
		return errors.New("contributor fee rate must not exceed percent scale")
	}
	switch variant {
	case VariantOpen:
		if p.FundingGoal != 0 || !p.Deadline.IsZero() {
			return errors.New("open contracts must not set a goal or deadline")
		}
	case VariantGoal:
		if p.FundingGoal == 0 {
			return errors.New("funding goal must be positive")
		}
		if p.Deadline.IsZero() {
			return errors.New("deadline is required")
		}
	default:
		return ErrInvalidVariant
	}
	return nil
}

// NewContractInput describes the metadata needed to create a contract.
type NewContractInput struct {
	Owner   string
	Variant Variant
	Params  Params
}

// NewContract creates a contract with a generated ID; the start time anchors
// cycle numbering.
func NewContract(input NewContractInput, now func() time.Time, idGenerator func() (string, error)) (*Contract, error) {
	if now == nil {
		now = time.Now
	}

	owner := strings.TrimSpace(input.Owner)
	if owner == "" {
		return nil, ErrEmptyOwner
	}
	if err := input.Params.Validate(input.Variant); err != nil {
		return nil, err
	}

	contractID, err := idGenerator()
	if err != nil {
		return nil, err
	}

	return &Contract{
		ID:        contractID,
		Owner:     owner,
		Variant:   input.Variant,
		Params:    input.Params,
		StartTime: now().UTC(),
		Positions: make(map[string][]Position),
		Stakes:    make(map[string]uint64),
	}, nil
}
