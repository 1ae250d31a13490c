// Package service orchestrates funding contract operations: it serializes
// access per contract, runs the accrual engine against a loaded aggregate,
// and persists the result together with the token movements it produced.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/cyclefund/internal/funding/domain"
	"github.com/louisbranch/cyclefund/internal/funding/storage"
	apperrors "github.com/louisbranch/cyclefund/internal/platform/errors"
	"github.com/louisbranch/cyclefund/internal/platform/id"
	"github.com/louisbranch/cyclefund/internal/token"
)

// Service exposes the funding contract operations.
type Service struct {
	store  storage.ContractStore
	ledger token.Ledger
	now    func() time.Time
	newID  func() (string, error)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides contract ID generation, primarily for tests.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// New creates a funding service backed by the given store and token ledger.
func New(store storage.ContractStore, ledger token.Ledger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ledger: ledger,
		now:    time.Now,
		newID:  id.NewID,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockContract returns the mutex serializing writes to one contract.
func (s *Service) lockContract(contractID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[contractID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[contractID] = lock
	}
	return lock
}

func translateStorageErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.Wrap(apperrors.CodeContractNotFound, "contract not found", err)
	}
	return err
}

// CreateContract validates parameters and persists a fresh contract.
func (s *Service) CreateContract(ctx context.Context, input domain.NewContractInput) (*domain.Contract, error) {
	contract, err := domain.NewContract(input, s.now, s.newID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeContractInvalidParams, "invalid contract parameters", err)
	}
	if err := s.store.CreateContract(ctx, contract); err != nil {
		return nil, err
	}
	return contract, nil
}

// GetContract loads one contract aggregate.
func (s *Service) GetContract(ctx context.Context, contractID string) (*domain.Contract, error) {
	contract, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, translateStorageErr(err)
	}
	return contract, nil
}

// ListContracts returns summaries for every stored contract.
func (s *Service) ListContracts(ctx context.Context) ([]storage.ContractSummary, error) {
	return s.store.ListContracts(ctx)
}

// mutate runs one state transition under the contract's lock: load, apply,
// persist with the movements the transition produced. The apply callback
// works on a freshly loaded aggregate, so a failed persist leaves no trace.
func (s *Service) mutate(ctx context.Context, contractID string, apply func(*domain.Contract) ([]token.Movement, error)) error {
	lock := s.lockContract(contractID)
	lock.Lock()
	defer lock.Unlock()

	contract, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return translateStorageErr(err)
	}
	moves, err := apply(contract)
	if err != nil {
		return err
	}
	if err := s.store.UpdateContract(ctx, contract, moves); err != nil {
		return translateStorageErr(err)
	}
	return nil
}

// requireOwner gates owner-only operations on caller identity.
func requireOwner(contract *domain.Contract, caller string) error {
	if strings.TrimSpace(caller) == "" || caller != contract.Owner {
		return apperrors.New(apperrors.CodeUnauthorized, "operation restricted to the contract owner")
	}
	return nil
}

// Contribute pulls the contribution amount from the contributor's approved
// allowance and records the new position.
func (s *Service) Contribute(ctx context.Context, contractID, contributor string, amount uint64) (index int, fee uint64, err error) {
	contributor = strings.TrimSpace(contributor)
	if contributor == "" {
		return 0, 0, apperrors.New(apperrors.CodeContractInvalidParams, "contributor address is required")
	}
	err = s.mutate(ctx, contractID, func(contract *domain.Contract) ([]token.Movement, error) {
		index, fee, err = contract.Contribute(contributor, amount, s.now())
		if err != nil {
			return nil, err
		}
		return []token.Movement{{
			From:    contributor,
			To:      contract.ID,
			Spender: contract.ID,
			Amount:  amount,
		}}, nil
	})
	return index, fee, err
}

// CheckPosition projects a position's principal, shares, and fees.
func (s *Service) CheckPosition(ctx context.Context, contractID, owner string, index int) (domain.PositionReport, error) {
	contract, err := s.GetContract(ctx, contractID)
	if err != nil {
		return domain.PositionReport{}, err
	}
	return contract.CheckPosition(owner, index, s.now())
}

// CollectFees pays out a position's uncollected fee share.
func (s *Service) CollectFees(ctx context.Context, contractID, owner string, index int) (payout uint64, err error) {
	err = s.mutate(ctx, contractID, func(contract *domain.Contract) ([]token.Movement, error) {
		payout, err = contract.CollectFees(owner, index, s.now())
		if err != nil {
			return nil, err
		}
		if payout == 0 {
			return nil, nil
		}
		return []token.Movement{{From: contract.ID, To: owner, Amount: payout}}, nil
	})
	return payout, err
}

// Withdraw pays out a position's principal plus uncollected fees.
func (s *Service) Withdraw(ctx context.Context, contractID, owner string, index int) (payout uint64, err error) {
	err = s.mutate(ctx, contractID, func(contract *domain.Contract) ([]token.Movement, error) {
		payout, err = contract.Withdraw(owner, index, s.now())
		if err != nil {
			return nil, err
		}
		if payout == 0 {
			return nil, nil
		}
		return []token.Movement{{From: contract.ID, To: owner, Amount: payout}}, nil
	})
	return payout, err
}

// Refund pays out principal, fees, and the pro-rata stake slice after a
// goal failure.
func (s *Service) Refund(ctx context.Context, contractID, owner string, index int) (payout uint64, err error) {
	err = s.mutate(ctx, contractID, func(contract *domain.Contract) ([]token.Movement, error) {
		payout, err = contract.Refund(owner, index, s.now())
		if err != nil {
			return nil, err
		}
		if payout == 0 {
			return nil, nil
		}
		return []token.Movement{{From: contract.ID, To: owner, Amount: payout}}, nil
	})
	return payout, err
}

// Split carves equal child positions out of a source position.
func (s *Service) Split(ctx context.Context, contractID, owner string, index, numSplits int, amountPerSplit uint64) (indices []int, err error) {
	err = s.mutate(ctx, contractID, func(contract *domain.Contract) ([]token.Movement, error) {
		indices, err = contract.Split(owner, index, numSplits, amountPerSplit, s.now())
		return nil, err
	})
	return indices, err
}

// TransferPosition moves one position to a new owner.
func (s *Service) TransferPosition(ctx context.Context, contractID, to, owner string, index int) (newIndex int, err error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return 0, apperrors.New(apperrors.CodeContractInvalidParams, "recipient address is required")
	}
	err = s.mutate(ctx, contractID, func(contract *domain.Contract) ([]token.Movement, error) {
		newIndex, err = contract.TransferPosition(to, owner, index)
		return nil, err
	})
	return newIndex, err
}

// TransferPositions moves several positions at once, all or nothing.
func (s *Service) TransferPositions(ctx context.Context, contractID, to, owner string, indices []int) (newIndices []int, err error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, apperrors.New(apperrors.CodeContractInvalidParams, "recipient address is required")
	}
	err = s.mutate(ctx, contractID, func(contract *domain.Contract) ([]token.Movement, error) {
		newIndices, err = contract.TransferPositions(to, owner, indices)
		return nil, err
	})
	return newIndices, err
}

// Distribute pulls an external fee pool from the funder into the current
// cycle's fee pool.
func (s *Service) Distribute(ctx context.Context, contractID, funder string, amount uint64) error {
	funder = strings.TrimSpace(funder)
	if funder == "" {
		return apperrors.New(apperrors.CodeContractInvalidParams, "funder address is required")
	}
	return s.mutate(ctx, contractID, func(contract *domain.Contract) ([]token.Movement, error) {
		if err := contract.Distribute(amount, s.now()); err != nil {
			return nil, err
		}
		return []token.Movement{{
			From:    funder,
			To:      contract.ID,
			Spender: contract.ID,
			Amount:  amount,
		}}, nil
	})
}

// WithdrawFunds pays raised principal to the owner's chosen recipient.
func (s *Service) WithdrawFunds(ctx context.Context, contractID, caller, to string, amount uint64) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return apperrors.New(apperrors.CodeContractInvalidParams, "recipient address is required")
	}
	return s.mutate(ctx, contractID, func(contract *domain.Contract) ([]token.Movement, error) {
		if err := requireOwner(contract, caller); err != nil {
			return nil, err
		}
		if err := contract.WithdrawFunds(amount, s.now()); err != nil {
			return nil, err
		}
		return []token.Movement{{From: contract.ID, To: to, Amount: amount}}, nil
	})
}

// ExtendGoal raises the funding goal and pushes the deadline out.
func (s *Service) ExtendGoal(ctx context.Context, contractID, caller string, goal uint64, deadline time.Time) error {
	return s.mutate(ctx, contractID, func(contract *domain.Contract) ([]token.Movement, error) {
		if err := requireOwner(contract, caller); err != nil {
			return nil, err
		}
		return nil, contract.ExtendGoal(goal, deadline, s.now())
	})
}

// AddStake pulls collateral from the caller into the contract.
func (s *Service) AddStake(ctx context.Context, contractID, caller string, amount uint64) error {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return apperrors.New(apperrors.CodeContractInvalidParams, "staker address is required")
	}
	return s.mutate(ctx, contractID, func(contract *domain.Contract) ([]token.Movement, error) {
		if err := contract.AddStake(caller, amount); err != nil {
			return nil, err
		}
		return []token.Movement{{
			From:    caller,
			To:      contract.ID,
			Spender: contract.ID,
			Amount:  amount,
		}}, nil
	})
}

// RemoveStake releases posted collateral back to the caller.
func (s *Service) RemoveStake(ctx context.Context, contractID, caller string, amount uint64) error {
	return s.mutate(ctx, contractID, func(contract *domain.Contract) ([]token.Movement, error) {
		if err := contract.RemoveStake(caller, amount, s.now()); err != nil {
			return nil, err
		}
		return []token.Movement{{From: contract.ID, To: caller, Amount: amount}}, nil
	})
}

// TransferStake moves posted collateral between addresses.
func (s *Service) TransferStake(ctx context.Context, contractID, caller, to string, amount uint64) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return apperrors.New(apperrors.CodeContractInvalidParams, "recipient address is required")
	}
	return s.mutate(ctx, contractID, func(contract *domain.Contract) ([]token.Movement, error) {
		return nil, contract.TransferStake(caller, to, amount)
	})
}

// SetPaused toggles the pause gate, owner only.
func (s *Service) SetPaused(ctx context.Context, contractID, caller string, paused bool) error {
	return s.mutate(ctx, contractID, func(contract *domain.Contract) ([]token.Movement, error) {
		if err := requireOwner(contract, caller); err != nil {
			return nil, err
		}
		contract.SetPaused(paused)
		return nil, nil
	})
}

// Ledger exposes the underlying token ledger for balance reads and
// approvals.
func (s *Service) Ledger() token.Ledger {
	return s.ledger
}

// Now reports the service clock, used by read-only projections.
func (s *Service) Now() time.Time {
	return s.now()
}
