package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus is the lifecycle state of a settlement.
type SettlementStatus string

const (
	// SettlementPending is the initial state of every settlement.
	SettlementPending SettlementStatus = "PENDING"

	// SettlementCompleted means the payment happened. Terminal.
	SettlementCompleted SettlementStatus = "COMPLETED"

	// SettlementCancelled means the settlement was abandoned. Terminal.
	SettlementCancelled SettlementStatus = "CANCELLED"
)

// CanTransitionTo reports whether the status may move to next.
// PENDING is the only state transitions occur from.
func (s SettlementStatus) CanTransitionTo(next SettlementStatus) bool {
	if s != SettlementPending {
		return false
	}
	return next == SettlementCompleted || next == SettlementCancelled
}

// Terminal reports whether the status accepts no further edits.
func (s SettlementStatus) Terminal() bool {
	return s == SettlementCompleted || s == SettlementCancelled
}

// SettlementType distinguishes full debt payments from partial ones
// targeted at a specific expense share.
type SettlementType string

const (
	SettlementFull    SettlementType = "FULL"
	SettlementPartial SettlementType = "PARTIAL"
)

// Settlement represents a payment between group members to clear debts.
type Settlement struct {
	// ID is the unique identifier for the settlement (UUID format).
	ID string

	// GroupID is the group this settlement belongs to.
	GroupID string

	// FromUserID is the debtor settling up.
	FromUserID string

	// ToUserID is the creditor being paid.
	ToUserID string

	// Amount is the payment amount in the group's default currency.
	// When the settlement was made in another currency this is the
	// converted value; the as-paid value lives in OriginalAmount.
	Amount decimal.Decimal

	// Currency is the 3-letter ISO code of Amount.
	Currency string

	// ExchangeRateOverride, when positive, is the caller-supplied rate
	// used instead of a conversion-service lookup. Zero when unset.
	ExchangeRateOverride decimal.Decimal

	// OriginalAmount and OriginalCurrency hold the as-paid value when
	// the settlement currency differed from the group default.
	// OriginalCurrency is empty when no conversion occurred.
	OriginalAmount   decimal.Decimal
	OriginalCurrency string

	// Status is the lifecycle state. Only COMPLETED settlements affect
	// balances.
	Status SettlementStatus

	// Type is FULL or PARTIAL.
	Type SettlementType

	// ShareExpenseID and ShareUserID reference the expense share a
	// PARTIAL settlement reduces. Empty for FULL settlements.
	ShareExpenseID string
	ShareUserID    string

	// PartialAmount is the amount reserved against the referenced share,
	// in the share's native currency. Zero for FULL settlements.
	PartialAmount decimal.Decimal

	// Note is an optional description for the settlement.
	Note string

	// CreatedBy is the user who recorded this settlement. Must be
	// FromUserID or ToUserID.
	CreatedBy string

	// CreatedAt is the Unix timestamp when the settlement was recorded.
	CreatedAt int64

	// SettledAt is when the settlement was completed; zero while
	// PENDING or after cancellation.
	SettledAt time.Time
}

// IsParty reports whether userID is the debtor or creditor.
func (s *Settlement) IsParty(userID string) bool {
	return userID == s.FromUserID || userID == s.ToUserID
}
