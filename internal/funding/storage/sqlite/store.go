// Package sqlite provides a SQLite-backed funding storage implementation.
// The same database holds the token balance ledger, so contract transitions
// and the transfers they produce commit in one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/louisbranch/cyclefund/internal/funding/domain"
	"github.com/louisbranch/cyclefund/internal/funding/storage"
	"github.com/louisbranch/cyclefund/internal/funding/storage/sqlite/migrations"
	sqlitemigrate "github.com/louisbranch/cyclefund/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/cyclefund/internal/token"
)

// Store persists funding contracts and token balances in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite funding store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateContract inserts one contract aggregate.
func (s *Store) CreateContract(ctx context.Context, contract *domain.Contract) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if contract == nil || strings.TrimSpace(contract.ID) == "" {
		return fmt.Errorf("contract id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO contracts (
		   id, owner, variant,
		   cycle_length_ms, accrual_rate, contributor_fee_rate, percent_scale,
		   funding_goal, deadline, start_time, paused,
		   tokens_contributed, tokens_withdrawn, total_stake, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		contract.ID,
		contract.Owner,
		int(contract.Variant),
		contract.Params.CycleLength.Milliseconds(),
		int64(contract.Params.AccrualRate),
		int64(contract.Params.ContributorFeeRate),
		int64(contract.Params.PercentScale),
		int64(contract.Params.FundingGoal),
		deadlineToMillis(contract.Params.Deadline),
		toMillis(contract.StartTime),
		boolToInt(contract.Paused),
		int64(contract.TokensContributed),
		int64(contract.TokensWithdrawn),
		int64(contract.TotalStake),
		toMillis(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create contract: %w", err)
	}

	if err := insertChildrenTx(ctx, tx, contract); err != nil {
		return err
	}
	return tx.Commit()
}

// GetContract loads one contract aggregate by ID.
func (s *Store) GetContract(ctx context.Context, id string) (*domain.Contract, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("contract id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, owner, variant,
		        cycle_length_ms, accrual_rate, contributor_fee_rate, percent_scale,
		        funding_goal, deadline, start_time, paused,
		        tokens_contributed, tokens_withdrawn, total_stake
		   FROM contracts
		  WHERE id = ?`,
		id,
	)

	contract := &domain.Contract{
		Positions: make(map[string][]domain.Position),
		Stakes:    make(map[string]uint64),
	}
	var (
		variant       int
		cycleLengthMS int64
		accrualRate   int64
		feeRate       int64
		percentScale  int64
		fundingGoal   int64
		deadline      int64
		startTime     int64
		paused        int
		contributed   int64
		withdrawn     int64
		totalStake    int64
	)
	err := row.Scan(
		&contract.ID,
		&contract.Owner,
		&variant,
		&cycleLengthMS,
		&accrualRate,
		&feeRate,
		&percentScale,
		&fundingGoal,
		&deadline,
		&startTime,
		&paused,
		&contributed,
		&withdrawn,
		&totalStake,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get contract: %w", err)
	}

	contract.Variant = domain.Variant(variant)
	contract.Params = domain.Params{
		CycleLength:        time.Duration(cycleLengthMS) * time.Millisecond,
		AccrualRate:        uint64(accrualRate),
		ContributorFeeRate: uint64(feeRate),
		PercentScale:       uint64(percentScale),
		FundingGoal:        uint64(fundingGoal),
		Deadline:           deadlineFromMillis(deadline),
	}
	contract.StartTime = fromMillis(startTime)
	contract.Paused = paused != 0
	contract.TokensContributed = uint64(contributed)
	contract.TokensWithdrawn = uint64(withdrawn)
	contract.TotalStake = uint64(totalStake)

	if err := s.loadCycles(ctx, contract); err != nil {
		return nil, err
	}
	if err := s.loadPositions(ctx, contract); err != nil {
		return nil, err
	}
	if err := s.loadStakes(ctx, contract); err != nil {
		return nil, err
	}
	return contract, nil
}

// UpdateContract rewrites one contract aggregate and settles its token
// movements in the same transaction. A failed transfer rolls back the
// whole transition.
func (s *Store) UpdateContract(ctx context.Context, contract *domain.Contract, moves []token.Movement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if contract == nil || strings.TrimSpace(contract.ID) == "" {
		return fmt.Errorf("contract id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(
		ctx,
		`UPDATE contracts
		    SET funding_goal = ?, deadline = ?, paused = ?,
		        tokens_contributed = ?, tokens_withdrawn = ?, total_stake = ?,
		        updated_at = ?
		  WHERE id = ?`,
		int64(contract.Params.FundingGoal),
		deadlineToMillis(contract.Params.Deadline),
		boolToInt(contract.Paused),
		int64(contract.TokensContributed),
		int64(contract.TokensWithdrawn),
		int64(contract.TotalStake),
		toMillis(time.Now()),
		contract.ID,
	)
	if err != nil {
		return fmt.Errorf("update contract: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update contract: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	for _, table := range []string{"contract_cycles", "contract_positions", "contract_stakes"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE contract_id = ?", contract.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := insertChildrenTx(ctx, tx, contract); err != nil {
		return err
	}

	for _, move := range moves {
		if err := applyMovementTx(ctx, tx, move); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListContracts returns summaries for every stored contract.
func (s *Store) ListContracts(ctx context.Context) ([]storage.ContractSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, owner, variant, paused,
		        tokens_contributed, tokens_withdrawn, total_stake, start_time
		   FROM contracts
		  ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()

	var summaries []storage.ContractSummary
	for rows.Next() {
		var summary storage.ContractSummary
		var variant int
		var paused int
		var contributed, withdrawn, totalStake, startTime int64
		if err := rows.Scan(
			&summary.ID,
			&summary.Owner,
			&variant,
			&paused,
			&contributed,
			&withdrawn,
			&totalStake,
			&startTime,
		); err != nil {
			return nil, fmt.Errorf("list contracts: %w", err)
		}
		summary.Variant = domain.Variant(variant)
		summary.Paused = paused != 0
		summary.TokensContributed = uint64(contributed)
		summary.TokensWithdrawn = uint64(withdrawn)
		summary.TotalStake = uint64(totalStake)
		summary.StartTime = fromMillis(startTime)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	return summaries, nil
}

func (s *Store) loadCycles(ctx context.Context, contract *domain.Contract) error {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT number, shares, fees, has_contributions
		   FROM contract_cycles
		  WHERE contract_id = ?
		  ORDER BY idx ASC`,
		contract.ID,
	)
	if err != nil {
		return fmt.Errorf("load cycles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var number, shares, fees int64
		var hasContributions int
		if err := rows.Scan(&number, &shares, &fees, &hasContributions); err != nil {
			return fmt.Errorf("load cycles: %w", err)
		}
		contract.Cycles = append(contract.Cycles, domain.Cycle{
			Number:           uint64(number),
			Shares:           uint64(shares),
			Fees:             uint64(fees),
			HasContributions: hasContributions != 0,
		})
	}
	return rows.Err()
}

func (s *Store) loadPositions(ctx context.Context, contract *domain.Contract) error {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT owner, idx, contribution_remaining,
		        start_cycle_index, last_collected_cycle_index, refunded
		   FROM contract_positions
		  WHERE contract_id = ?
		  ORDER BY owner ASC, idx ASC`,
		contract.ID,
	)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var owner string
		var idx int
		var remaining int64
		var startIdx, lastIdx int
		var refunded int
		if err := rows.Scan(&owner, &idx, &remaining, &startIdx, &lastIdx, &refunded); err != nil {
			return fmt.Errorf("load positions: %w", err)
		}
		list := contract.Positions[owner]
		if idx != len(list) {
			return fmt.Errorf("load positions: non-contiguous index %d for owner %s", idx, owner)
		}
		contract.Positions[owner] = append(list, domain.Position{
			ContributionRemaining:   uint64(remaining),
			StartCycleIndex:         startIdx,
			LastCollectedCycleIndex: lastIdx,
			Refunded:                refunded != 0,
		})
	}
	return rows.Err()
}

func (s *Store) loadStakes(ctx context.Context, contract *domain.Contract) error {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT address, amount FROM contract_stakes WHERE contract_id = ?`,
		contract.ID,
	)
	if err != nil {
		return fmt.Errorf("load stakes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var address string
		var amount int64
		if err := rows.Scan(&address, &amount); err != nil {
			return fmt.Errorf("load stakes: %w", err)
		}
		contract.Stakes[address] = uint64(amount)
	}
	return rows.Err()
}

func insertChildrenTx(ctx context.Context, tx *sql.Tx, contract *domain.Contract) error {
	for idx, cycle := range contract.Cycles {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO contract_cycles (contract_id, idx, number, shares, fees, has_contributions)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			contract.ID,
			idx,
			int64(cycle.Number),
			int64(cycle.Shares),
			int64(cycle.Fees),
			boolToInt(cycle.HasContributions),
		); err != nil {
			return fmt.Errorf("insert cycle %d: %w", idx, err)
		}
	}

	for owner, list := range contract.Positions {
		for idx, position := range list {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO contract_positions (
				   contract_id, owner, idx,
				   contribution_remaining, start_cycle_index, last_collected_cycle_index, refunded
				 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				contract.ID,
				owner,
				idx,
				int64(position.ContributionRemaining),
				position.StartCycleIndex,
				position.LastCollectedCycleIndex,
				boolToInt(position.Refunded),
			); err != nil {
				return fmt.Errorf("insert position %s/%d: %w", owner, idx, err)
			}
		}
	}

	for address, amount := range contract.Stakes {
		if amount == 0 {
			continue
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO contract_stakes (contract_id, address, amount) VALUES (?, ?, ?)`,
			contract.ID,
			address,
			int64(amount),
		); err != nil {
			return fmt.Errorf("insert stake %s: %w", address, err)
		}
	}
	return nil
}

func deadlineToMillis(deadline time.Time) int64 {
	if deadline.IsZero() {
		return 0
	}
	return toMillis(deadline)
}

func deadlineFromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return fromMillis(value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ storage.ContractStore = (*Store)(nil)
