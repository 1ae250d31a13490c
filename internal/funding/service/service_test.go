package service

import (
	"context"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/cyclefund/internal/funding/domain"
	"github.com/louisbranch/cyclefund/internal/funding/storage"
	apperrors "github.com/louisbranch/cyclefund/internal/platform/errors"
	"github.com/louisbranch/cyclefund/internal/token"
)

var testStart = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

// memStore keeps aggregates in memory and settles movements against a
// MemoryLedger, mirroring the atomic settle contract of the SQLite store.
type memStore struct {
	ledger *token.MemoryLedger

	mu        sync.Mutex
	contracts map[string]*domain.Contract
}

func newMemStore(ledger *token.MemoryLedger) *memStore {
	return &memStore{ledger: ledger, contracts: make(map[string]*domain.Contract)}
}

func cloneContract(c *domain.Contract) *domain.Contract {
	clone := *c
	clone.Cycles = append([]domain.Cycle(nil), c.Cycles...)
	clone.Positions = make(map[string][]domain.Position, len(c.Positions))
	for owner, list := range c.Positions {
		clone.Positions[owner] = append([]domain.Position(nil), list...)
	}
	clone.Stakes = maps.Clone(c.Stakes)
	return &clone
}

func (m *memStore) CreateContract(ctx context.Context, contract *domain.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contracts[contract.ID]; ok {
		return storage.ErrAlreadyExists
	}
	m.contracts[contract.ID] = cloneContract(contract)
	return nil
}

func (m *memStore) GetContract(ctx context.Context, id string) (*domain.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	contract, ok := m.contracts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneContract(contract), nil
}

func (m *memStore) UpdateContract(ctx context.Context, contract *domain.Contract, moves []token.Movement) error {
	m.mu.Lock()
	if _, ok := m.contracts[contract.ID]; !ok {
		m.mu.Unlock()
		return storage.ErrNotFound
	}
	m.mu.Unlock()

	for _, move := range moves {
		var err error
		if move.Spender != "" {
			err = m.ledger.TransferFrom(ctx, move.Spender, move.From, move.To, move.Amount)
		} else {
			err = m.ledger.Transfer(ctx, move.From, move.To, move.Amount)
		}
		if err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.contracts[contract.ID] = cloneContract(contract)
	m.mu.Unlock()
	return nil
}

func (m *memStore) ListContracts(ctx context.Context) ([]storage.ContractSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var summaries []storage.ContractSummary
	for _, contract := range m.contracts {
		summaries = append(summaries, storage.ContractSummary{
			ID:                contract.ID,
			Owner:             contract.Owner,
			Variant:           contract.Variant,
			Paused:            contract.Paused,
			TokensContributed: contract.TokensContributed,
			TokensWithdrawn:   contract.TokensWithdrawn,
			TotalStake:        contract.TotalStake,
			StartTime:         contract.StartTime,
		})
	}
	return summaries, nil
}

var _ storage.ContractStore = (*memStore)(nil)

type fixture struct {
	svc    *Service
	ledger *token.MemoryLedger
	store  *memStore
	clock  *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := token.NewMemoryLedger()
	store := newMemStore(ledger)
	current := testStart
	svc := New(store, ledger,
		WithClock(func() time.Time { return current }),
		WithIDGenerator(func() (string, error) { return "c1", nil }),
	)
	return &fixture{svc: svc, ledger: ledger, store: store, clock: &current}
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *fixture) createOpenContract(t *testing.T) *domain.Contract {
	t.Helper()
	contract, err := f.svc.CreateContract(context.Background(), domain.NewContractInput{
		Owner:   "owner",
		Variant: domain.VariantOpen,
		Params: domain.Params{
			CycleLength:        time.Hour,
			AccrualRate:        1_000_000,
			ContributorFeeRate: 100_000,
			PercentScale:       1_000_000,
		},
	})
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	return contract
}

func (f *fixture) createGoalContract(t *testing.T, goal uint64, deadline time.Time) *domain.Contract {
	t.Helper()
	contract, err := f.svc.CreateContract(context.Background(), domain.NewContractInput{
		Owner:   "owner",
		Variant: domain.VariantGoal,
		Params: domain.Params{
			CycleLength:        time.Hour,
			AccrualRate:        1_000_000,
			ContributorFeeRate: 100_000,
			PercentScale:       1_000_000,
			FundingGoal:        goal,
			Deadline:           deadline,
		},
	})
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	return contract
}

func (f *fixture) fund(t *testing.T, address string, amount uint64) {
	t.Helper()
	ctx := context.Background()
	if err := f.ledger.Mint(ctx, address, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.ledger.Approve(ctx, address, "c1", amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, address string) uint64 {
	t.Helper()
	balance, err := f.ledger.BalanceOf(context.Background(), address)
	if err != nil {
		t.Fatalf("balance of %s: %v", address, err)
	}
	return balance
}

func TestContributePullsApprovedTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createOpenContract(t)
	f.fund(t, "alice", 10_000)

	index, fee, err := f.svc.Contribute(ctx, "c1", "alice", 10_000)
	if err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if index != 0 || fee != 0 {
		t.Fatalf("contribute = (index %d, fee %d), want (0, 0)", index, fee)
	}
	if got := f.balance(t, "c1"); got != 10_000 {
		t.Fatalf("contract balance = %d, want 10000", got)
	}
	if got := f.balance(t, "alice"); got != 0 {
		t.Fatalf("alice balance = %d, want 0", got)
	}
}

func TestContributeWithoutAllowanceLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createOpenContract(t)

	_, _, err := f.svc.Contribute(ctx, "c1", "alice", 10_000)
	if apperrors.CodeOf(err) != apperrors.CodeInsufficientAllowance {
		t.Fatalf("error = %v, want %s", err, apperrors.CodeInsufficientAllowance)
	}

	contract, err := f.svc.GetContract(ctx, "c1")
	if err != nil {
		t.Fatalf("get contract: %v", err)
	}
	if contract.TokensContributed != 0 || contract.PositionsLength("alice") != 0 {
		t.Fatalf("failed contribute left state: contributed %d, positions %d",
			contract.TokensContributed, contract.PositionsLength("alice"))
	}
}

func TestCollectAndWithdrawMoveBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createOpenContract(t)
	f.fund(t, "alice", 10_000)
	f.fund(t, "bob", 10_000)

	if _, _, err := f.svc.Contribute(ctx, "c1", "alice", 10_000); err != nil {
		t.Fatalf("contribute alice: %v", err)
	}
	f.advance(5 * time.Hour)
	if _, _, err := f.svc.Contribute(ctx, "c1", "bob", 10_000); err != nil {
		t.Fatalf("contribute bob: %v", err)
	}
	f.advance(5 * time.Hour)

	payout, err := f.svc.CollectFees(ctx, "c1", "alice", 0)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if payout != 1_000 {
		t.Fatalf("payout = %d, want 1000", payout)
	}
	if got := f.balance(t, "alice"); got != 1_000 {
		t.Fatalf("alice balance = %d, want 1000", got)
	}

	payout, err = f.svc.Withdraw(ctx, "c1", "alice", 0)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if payout != 10_000 {
		t.Fatalf("payout = %d, want 10000 after fees already collected", payout)
	}
	if got := f.balance(t, "c1"); got != 9_000 {
		t.Fatalf("contract balance = %d, want 9000", got)
	}
}

func TestOwnerGatedOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deadline := testStart.Add(10 * time.Hour)
	f.createGoalContract(t, 10_000, deadline)
	f.fund(t, "alice", 10_000)

	if _, _, err := f.svc.Contribute(ctx, "c1", "alice", 10_000); err != nil {
		t.Fatalf("contribute: %v", err)
	}

	if err := f.svc.WithdrawFunds(ctx, "c1", "mallory", "mallory", 1_000); apperrors.CodeOf(err) != apperrors.CodeUnauthorized {
		t.Fatalf("error = %v, want %s", err, apperrors.CodeUnauthorized)
	}
	if err := f.svc.SetPaused(ctx, "c1", "mallory", true); apperrors.CodeOf(err) != apperrors.CodeUnauthorized {
		t.Fatalf("error = %v, want %s", err, apperrors.CodeUnauthorized)
	}
	if err := f.svc.ExtendGoal(ctx, "c1", "mallory", 20_000, deadline.Add(time.Hour)); apperrors.CodeOf(err) != apperrors.CodeUnauthorized {
		t.Fatalf("error = %v, want %s", err, apperrors.CodeUnauthorized)
	}

	if err := f.svc.WithdrawFunds(ctx, "c1", "owner", "payee", 10_000); err != nil {
		t.Fatalf("withdraw funds: %v", err)
	}
	if got := f.balance(t, "payee"); got != 10_000 {
		t.Fatalf("payee balance = %d, want 10000", got)
	}
}

func TestRefundFlowPaysStake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deadline := testStart.Add(10 * time.Hour)
	f.createGoalContract(t, 50_000, deadline)
	f.fund(t, "alice", 5_000)
	f.fund(t, "owner", 1_000)

	if _, _, err := f.svc.Contribute(ctx, "c1", "alice", 5_000); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if err := f.svc.AddStake(ctx, "c1", "owner", 1_000); err != nil {
		t.Fatalf("add stake: %v", err)
	}
	if got := f.balance(t, "c1"); got != 6_000 {
		t.Fatalf("contract balance = %d, want 6000", got)
	}

	// Stake release is blocked once the goal fails.
	f.advance(11 * time.Hour)
	if err := f.svc.RemoveStake(ctx, "c1", "owner", 1_000); apperrors.CodeOf(err) != apperrors.CodeGoalFailed {
		t.Fatalf("error = %v, want %s", err, apperrors.CodeGoalFailed)
	}

	payout, err := f.svc.Refund(ctx, "c1", "alice", 0)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if payout != 6_000 {
		t.Fatalf("payout = %d, want principal 5000 + stake 1000", payout)
	}
	if got := f.balance(t, "alice"); got != 6_000 {
		t.Fatalf("alice balance = %d, want 6000", got)
	}
	if got := f.balance(t, "c1"); got != 0 {
		t.Fatalf("contract balance = %d, want 0", got)
	}
}

func TestGetContractNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetContract(context.Background(), "missing")
	if apperrors.CodeOf(err) != apperrors.CodeContractNotFound {
		t.Fatalf("error = %v, want %s", err, apperrors.CodeContractNotFound)
	}
}
