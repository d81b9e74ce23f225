// Package calculator holds the pure ledger math: folding a group's
// expense and settlement records into per-user balances, deriving
// pairwise debts, and simplifying them into a minimal payment set.
//
// The package performs no I/O and no currency conversion; callers load
// a consistent snapshot of records and convert amounts before or after
// calling in, as appropriate.
package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/models"
)

// epsilon is the sub-cent threshold below which amounts are treated as
// floating-point noise and dropped.
var epsilon = decimal.NewFromFloat(0.01)

// Totals accumulates one user's paid/owed amounts keyed by currency.
type Totals struct {
	Paid map[string]decimal.Decimal
	Owed map[string]decimal.Decimal
}

func newTotals() *Totals {
	return &Totals{
		Paid: make(map[string]decimal.Decimal),
		Owed: make(map[string]decimal.Decimal),
	}
}

func (t *Totals) addPaid(currency string, amount decimal.Decimal) {
	t.Paid[currency] = t.Paid[currency].Add(amount)
}

func (t *Totals) addOwed(currency string, amount decimal.Decimal) {
	t.Owed[currency] = t.Owed[currency].Add(amount)
}

// Currencies returns every currency the user has amounts in, sorted.
func (t *Totals) Currencies() []string {
	set := make(map[string]bool)
	for c := range t.Paid {
		set[c] = true
	}
	for c := range t.Owed {
		set[c] = true
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Fold computes per-user, per-currency totals for a group.
//
// Every member appears in the result even with no expense activity
// (stable enumeration by membership). Archived expenses must already be
// filtered out by the caller; only COMPLETED settlements may be passed.
//
// For each expense: payments add to the payer's Paid, shares add to the
// owing user's Owed, both under the expense's native currency. For each
// settlement: the amount adds to the debtor's Paid and the creditor's
// Owed under the settlement's native currency, which moves both net
// balances toward zero.
func Fold(members []string, expenses []models.Expense, settlements []models.Settlement) map[string]*Totals {
	totals := make(map[string]*Totals, len(members))
	for _, m := range members {
		totals[m] = newTotals()
	}
	get := func(userID string) *Totals {
		t, ok := totals[userID]
		if !ok {
			// Users on old expenses who have left the group still count,
			// otherwise the ledger would not sum to zero.
			t = newTotals()
			totals[userID] = t
		}
		return t
	}

	for _, exp := range expenses {
		for _, p := range exp.Payments {
			get(p.UserID).addPaid(exp.Currency, p.Amount)
		}
		for _, s := range exp.Shares {
			get(s.UserID).addOwed(exp.Currency, s.Owed)
		}
	}

	for _, s := range settlements {
		get(s.FromUserID).addPaid(s.Currency, s.Amount)
		get(s.ToUserID).addOwed(s.Currency, s.Amount)
	}

	return totals
}

// PairwiseDebts derives directed debt edges from expenses and completed
// settlements, aggregated to at most one edge per (debtor, creditor,
// currency) triple.
//
// Within an expense, each share is owed to the expense's payers in
// proportion to how much each payer contributed; a user's own share of
// what they themselves paid cancels out. A completed settlement reduces
// the debtor's edge toward the creditor. Edges are emitted sorted by
// (currency, from, to) for deterministic output.
func PairwiseDebts(expenses []models.Expense, settlements []models.Settlement) []models.DebtEdge {
	// net[currency][from][to]
	net := make(map[string]map[string]map[string]decimal.Decimal)
	add := func(currency, from, to string, amount decimal.Decimal) {
		if net[currency] == nil {
			net[currency] = make(map[string]map[string]decimal.Decimal)
		}
		if net[currency][from] == nil {
			net[currency][from] = make(map[string]decimal.Decimal)
		}
		net[currency][from][to] = net[currency][from][to].Add(amount)
	}

	for _, exp := range expenses {
		totalPaid := decimal.Zero
		for _, p := range exp.Payments {
			totalPaid = totalPaid.Add(p.Amount)
		}
		if totalPaid.LessThanOrEqual(decimal.Zero) {
			continue
		}
		for _, s := range exp.Shares {
			for _, p := range exp.Payments {
				if p.UserID == s.UserID {
					continue
				}
				portion := s.Owed.Mul(p.Amount).Div(totalPaid)
				add(exp.Currency, s.UserID, p.UserID, portion)
			}
		}
	}

	for _, s := range settlements {
		add(s.Currency, s.FromUserID, s.ToUserID, s.Amount.Neg())
	}

	// Collapse mutual debts within each pair, keeping only the net
	// direction. Each unordered pair is visited once (from < to).
	var edges []models.DebtEdge
	for currency, froms := range net {
		for from, tos := range froms {
			for to, amount := range tos {
				mirror, hasMirror := net[currency][to][from]
				if from > to && hasMirror {
					continue // pair handled from the other side
				}
				amount = amount.Sub(mirror)
				a, b := from, to
				if amount.IsNegative() {
					a, b = to, from
					amount = amount.Neg()
				}
				if amount.GreaterThanOrEqual(epsilon) {
					edges = append(edges, models.DebtEdge{
						FromUserID: a,
						ToUserID:   b,
						Amount:     amount.Round(2),
						Currency:   currency,
					})
				}
			}
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Currency != b.Currency {
			return a.Currency < b.Currency
		}
		if a.FromUserID != b.FromUserID {
			return a.FromUserID < b.FromUserID
		}
		return a.ToUserID < b.ToUserID
	})
	return edges
}
