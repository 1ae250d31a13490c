// Package storage defines persistence contracts for funding contract state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/cyclefund/internal/funding/domain"
	"github.com/louisbranch/cyclefund/internal/token"
)

var (
	// ErrNotFound indicates a requested contract record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained contract already exists.
	ErrAlreadyExists = errors.New("record already exists")
)

// ContractSummary stores the list-view slice of one contract.
type ContractSummary struct {
	ID                string
	Owner             string
	Variant           domain.Variant
	Paused            bool
	TokensContributed uint64
	TokensWithdrawn   uint64
	TotalStake        uint64
	StartTime         time.Time
}

// ContractStore persists funding contract aggregates. UpdateContract applies
// the aggregate state and the token movements it produced in one atomic
// write, so a persisted transition always settles its transfers.
type ContractStore interface {
	CreateContract(ctx context.Context, contract *domain.Contract) error
	GetContract(ctx context.Context, id string) (*domain.Contract, error)
	UpdateContract(ctx context.Context, contract *domain.Contract, moves []token.Movement) error
	ListContracts(ctx context.Context) ([]ContractSummary, error)
}
