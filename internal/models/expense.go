package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SplitType identifies how an expense amount was divided into shares.
type SplitType string

const (
	SplitEqual      SplitType = "EQUAL"
	SplitPercentage SplitType = "PERCENTAGE"
	SplitAmount     SplitType = "AMOUNT"
	SplitShares     SplitType = "SHARES"
)

// ShareEpsilon is the tolerance for share sums: for every expense the
// shares must sum to the expense amount within this value.
var ShareEpsilon = decimal.NewFromFloat(0.01)

// Expense represents a shared expense within a group.
// The engine treats expenses as read-only input; they are created and
// edited by the expense subsystem.
type Expense struct {
	// ID is the unique identifier for the expense (UUID format).
	ID string

	// GroupID is the group this expense belongs to.
	GroupID string

	// Description is the human-readable label (e.g., "Dinner").
	Description string

	// Amount is the full expense amount in Currency.
	Amount decimal.Decimal

	// Currency is the 3-letter ISO code the expense was incurred in.
	// Shares and payments inherit it.
	Currency string

	// SplitType records how Shares were derived from Amount.
	SplitType SplitType

	// Archived expenses are excluded from balance computation.
	Archived bool

	// Shares is who owes what for this expense.
	Shares []ExpenseShare

	// Payments is who actually paid for this expense.
	Payments []ExpensePayment

	// CreatedAt is the Unix timestamp when the expense was created.
	CreatedAt int64
}

// ExpenseShare is one user's owed portion of an expense.
//
// SettledAmount is the only field the settlement lifecycle mutates:
// a PARTIAL settlement reserves part of the outstanding amount by
// incrementing it at creation time.
type ExpenseShare struct {
	// ExpenseID identifies the parent expense.
	ExpenseID string

	// UserID is the user who owes this share.
	UserID string

	// Owed is the share amount, in the parent expense's currency.
	// Always >= 0.
	Owed decimal.Decimal

	// SettledAmount is the cumulative amount settled against this share
	// via PARTIAL settlements. Invariant: 0 <= SettledAmount <= Owed.
	SettledAmount decimal.Decimal

	// LastSettledAt is when SettledAmount last changed; zero if never.
	LastSettledAt time.Time
}

// Outstanding returns the amount still available to settle on this share.
func (s *ExpenseShare) Outstanding() decimal.Decimal {
	return s.Owed.Sub(s.SettledAmount)
}

// ExpensePayment records one user's contribution toward an expense.
type ExpensePayment struct {
	// ExpenseID identifies the parent expense.
	ExpenseID string

	// UserID is the user who paid.
	UserID string

	// Amount is the paid amount, in the parent expense's currency.
	Amount decimal.Decimal
}
