// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/models"
)

// Snapshot is a consistent read of everything the ledger calculator
// needs for one group: non-archived expenses with their shares and
// payments, plus completed settlements. Implementations must produce
// it inside a single transaction so a settlement is never observed
// without the share state it implies.
type Snapshot struct {
	Group                *models.Group
	Expenses             []models.Expense
	CompletedSettlements []models.Settlement
}

// GroupStore reads and writes group membership data.
type GroupStore interface {
	// CreateGroup persists a new group. ID and CreatedAt are populated
	// by the store when unset.
	CreateGroup(ctx context.Context, group *models.Group) error

	// GetGroup retrieves a group with its member list.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// IsMember reports whether userID belongs to the group.
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// ExpenseStore reads and writes expense records.
type ExpenseStore interface {
	// CreateExpense persists an expense with its shares and payments in
	// one transaction. ID and CreatedAt are populated when unset.
	CreateExpense(ctx context.Context, expense *models.Expense) error

	// GetShare retrieves one expense share.
	GetShare(ctx context.Context, expenseID, userID string) (*models.ExpenseShare, error)

	// GroupSnapshot reads the group, its non-archived expenses, and its
	// completed settlements in a single transaction.
	GroupSnapshot(ctx context.Context, groupID string) (*Snapshot, error)
}

// SettlementStore reads settlement records.
type SettlementStore interface {
	// GetSettlement retrieves a settlement by ID.
	GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error)

	// ListSettlementsByGroup retrieves all settlements for a group,
	// newest first.
	ListSettlementsByGroup(ctx context.Context, groupID string) ([]*models.Settlement, error)
}

// UnitOfWork groups writes that must commit or roll back together. It
// is only valid inside the InTx callback that produced it.
type UnitOfWork interface {
	// InsertSettlement persists a new settlement. ID and CreatedAt are
	// populated when unset.
	InsertSettlement(ctx context.Context, settlement *models.Settlement) error

	// UpdateSettlement rewrites a settlement's mutable fields. The write
	// only applies to a PENDING row; a settlement that reached a terminal
	// state since the caller's read fails with an invalid-state-transition
	// error, regardless of what that read saw.
	UpdateSettlement(ctx context.Context, settlement *models.Settlement) error

	// DeleteSettlement removes a PENDING settlement record. Terminal
	// settlements fail with an invalid-state-transition error.
	DeleteSettlement(ctx context.Context, settlementID string) error

	// ReserveShare increments a share's settled amount by amount,
	// failing with a validation error when the result would exceed the
	// owed amount. The check and the increment are one atomic update.
	ReserveShare(ctx context.Context, expenseID, userID string, amount decimal.Decimal) error

	// ReleaseShare decrements a share's settled amount by amount,
	// failing with a validation error when the result would go below
	// zero.
	ReleaseShare(ctx context.Context, expenseID, userID string, amount decimal.Decimal) error
}

// Store is the full persistence surface the engine depends on. The
// abstraction allows swapping storage backends without changing the
// service layer.
type Store interface {
	GroupStore
	ExpenseStore
	SettlementStore

	// InTx runs fn inside a transaction, committing when fn returns nil
	// and rolling back otherwise.
	InTx(ctx context.Context, fn func(UnitOfWork) error) error

	// Close releases any resources held by the store.
	Close() error
}
