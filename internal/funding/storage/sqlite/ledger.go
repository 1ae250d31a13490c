package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/cyclefund/internal/platform/errors"
	"github.com/louisbranch/cyclefund/internal/token"
)

// The token ledger lives in the same database as contract state so that
// UpdateContract can settle transfers atomically with the transition that
// produced them.

// BalanceOf returns the address's current balance.
func (s *Store) BalanceOf(ctx context.Context, address string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return 0, fmt.Errorf("address is required")
	}

	var balance int64
	row := s.sqlDB.QueryRowContext(ctx, `SELECT balance FROM token_balances WHERE address = ?`, address)
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("balance of %s: %w", address, err)
	}
	return uint64(balance), nil
}

// Mint credits freshly issued tokens to an address.
func (s *Store) Mint(ctx context.Context, to string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("address is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, creditSQL, to, int64(amount)); err != nil {
		return fmt.Errorf("mint to %s: %w", to, err)
	}
	return nil
}

// Transfer moves tokens between addresses.
func (s *Store) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := applyMovementTx(ctx, tx, token.Movement{From: from, To: to, Amount: amount}); err != nil {
		return err
	}
	return tx.Commit()
}

// Approve lets spender move up to amount on owner's behalf.
func (s *Store) Approve(ctx context.Context, owner, spender string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	owner = strings.TrimSpace(owner)
	spender = strings.TrimSpace(spender)
	if owner == "" || spender == "" {
		return fmt.Errorf("owner and spender are required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO token_allowances (owner, spender, amount) VALUES (?, ?, ?)
		 ON CONFLICT(owner, spender) DO UPDATE SET amount = excluded.amount`,
		owner,
		spender,
		int64(amount),
	)
	if err != nil {
		return fmt.Errorf("approve %s for %s: %w", spender, owner, err)
	}
	return nil
}

// Allowance returns the remaining approved amount.
func (s *Store) Allowance(ctx context.Context, owner, spender string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var amount int64
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT amount FROM token_allowances WHERE owner = ? AND spender = ?`,
		strings.TrimSpace(owner),
		strings.TrimSpace(spender),
	)
	if err := row.Scan(&amount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("allowance of %s for %s: %w", owner, spender, err)
	}
	return uint64(amount), nil
}

// TransferFrom moves tokens out of `from` using spender's allowance.
func (s *Store) TransferFrom(ctx context.Context, spender, from, to string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := spendAllowanceTx(ctx, tx, from, spender, amount); err != nil {
		return err
	}
	if err := applyMovementTx(ctx, tx, token.Movement{From: from, To: to, Amount: amount}); err != nil {
		return err
	}
	return tx.Commit()
}

const creditSQL = `INSERT INTO token_balances (address, balance) VALUES (?, ?)
ON CONFLICT(address) DO UPDATE SET balance = balance + excluded.balance`

func applyMovementTx(ctx context.Context, tx *sql.Tx, move token.Movement) error {
	from := strings.TrimSpace(move.From)
	to := strings.TrimSpace(move.To)
	if from == "" || to == "" {
		return fmt.Errorf("movement addresses are required")
	}
	if move.Amount == 0 {
		return nil
	}
	if spender := strings.TrimSpace(move.Spender); spender != "" {
		if err := spendAllowanceTx(ctx, tx, from, spender, move.Amount); err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(
		ctx,
		`UPDATE token_balances SET balance = balance - ? WHERE address = ? AND balance >= ?`,
		int64(move.Amount),
		from,
		int64(move.Amount),
	)
	if err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if affected == 0 {
		return apperrors.WithMetadata(apperrors.CodeInsufficientBalance,
			"balance too low for transfer",
			map[string]string{"address": from})
	}

	if _, err := tx.ExecContext(ctx, creditSQL, to, int64(move.Amount)); err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}
	return nil
}

func spendAllowanceTx(ctx context.Context, tx *sql.Tx, owner, spender string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	result, err := tx.ExecContext(
		ctx,
		`UPDATE token_allowances SET amount = amount - ? WHERE owner = ? AND spender = ? AND amount >= ?`,
		int64(amount),
		strings.TrimSpace(owner),
		strings.TrimSpace(spender),
		int64(amount),
	)
	if err != nil {
		return fmt.Errorf("spend allowance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("spend allowance: %w", err)
	}
	if affected == 0 {
		return apperrors.WithMetadata(apperrors.CodeInsufficientAllowance,
			"allowance too low for transfer",
			map[string]string{"owner": owner, "spender": spender})
	}
	return nil
}

var _ token.Ledger = (*Store)(nil)
