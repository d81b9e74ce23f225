package models

import "github.com/shopspring/decimal"

// UserBalance is one member's derived position within a group, in a
// single currency. Recomputed on every read; never persisted.
type UserBalance struct {
	// UserID is the member this balance belongs to.
	UserID string

	// TotalPaid is the sum of everything this user paid (expenses plus
	// completed settlements sent).
	TotalPaid decimal.Decimal

	// TotalOwed is the sum of everything this user owes (shares plus
	// completed settlements received).
	TotalOwed decimal.Decimal

	// NetBalance is TotalPaid - TotalOwed. Positive means the group
	// owes this user money.
	NetBalance decimal.Decimal

	// Currency is the 3-letter ISO code all three amounts are in.
	Currency string

	// Display is the formatted net balance (e.g., "-$12.50").
	Display string
}

// DebtEdge is a directed pairwise debt between two members, derived
// from expense records. Edges between the same pair are aggregated per
// currency before simplification.
type DebtEdge struct {
	// FromUserID owes the money.
	FromUserID string

	// ToUserID is owed the money.
	ToUserID string

	// Amount is strictly positive.
	Amount decimal.Decimal

	// Currency is the 3-letter ISO code of Amount.
	Currency string
}

// SimplifiedDebt is one payment in the minimal transaction set produced
// by debt simplification.
type SimplifiedDebt struct {
	// FromUserID pays ToUserID.
	FromUserID string
	ToUserID   string

	// Amount is strictly positive, in Currency.
	Amount   decimal.Decimal
	Currency string

	// Subsumes lists the original pairwise edges this payment replaces.
	Subsumes []DebtEdge
}
