// Package models defines the core domain models for the ledger and
// settlement engine.
//
// # Read-side models
//
//   - Group: scope for every balance and debt computation
//   - Expense, ExpenseShare, ExpensePayment: raw expense records the
//     ledger folds over (owned by the expense subsystem, except for
//     ExpenseShare.SettledAmount which the settlement lifecycle owns)
//   - UserBalance, DebtEdge, SimplifiedDebt: derived on every read,
//     never persisted
//
// # Write-side models
//
//   - Settlement: a recorded payment between two members, with a
//     PENDING -> COMPLETED|CANCELLED lifecycle. PARTIAL settlements
//     reference an ExpenseShare and reserve part of its outstanding
//     amount at creation time.
//
// # Design principles
//
//  1. Amounts are decimal.Decimal, never floats. Comparisons that
//     tolerate rounding use a 0.01 currency-unit epsilon.
//  2. Relationships use ID strings, not pointers, to avoid circular
//     references between models.
//  3. Derived types (UserBalance, DebtEdge, SimplifiedDebt) carry their
//     currency explicitly so cross-currency aggregation is impossible
//     to do by accident.
package models
