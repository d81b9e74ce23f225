package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/apperr"
	"github.com/divvyhq/divvy/internal/models"
)

// Simplify reduces a set of pairwise debts to a smaller payment set
// that zeroes out every net balance.
//
// All edges must share one currency; cross-currency debts have to be
// converted before this step. The matching is greedy largest-first:
// the biggest debtor pays the biggest creditor min(debt, credit), and
// whoever hits zero advances. That bounds the number of payments at
// debtors+creditors-1 but is a heuristic, not a proven minimum (the
// exact minimum-transaction problem is NP-hard). Ties sort by user ID
// so output is deterministic.
//
// Each emitted payment subsumes the original edges owed by its debtor.
func Simplify(debts []models.DebtEdge) ([]models.SimplifiedDebt, error) {
	if len(debts) == 0 {
		return nil, nil
	}

	currency := debts[0].Currency
	net := make(map[string]decimal.Decimal)
	byDebtor := make(map[string][]models.DebtEdge)
	for _, d := range debts {
		if d.Currency != currency {
			return nil, apperr.Validation("cannot simplify mixed currencies: %s and %s", currency, d.Currency)
		}
		if !d.Amount.IsPositive() {
			return nil, apperr.Validation("debt edge %s->%s has non-positive amount %s", d.FromUserID, d.ToUserID, d.Amount)
		}
		net[d.FromUserID] = net[d.FromUserID].Sub(d.Amount)
		net[d.ToUserID] = net[d.ToUserID].Add(d.Amount)
		byDebtor[d.FromUserID] = append(byDebtor[d.FromUserID], d)
	}

	type party struct {
		userID string
		amount decimal.Decimal // always positive
	}
	var debtors, creditors []party
	for userID, balance := range net {
		switch {
		case balance.LessThanOrEqual(epsilon.Neg()):
			debtors = append(debtors, party{userID, balance.Neg()})
		case balance.GreaterThanOrEqual(epsilon):
			creditors = append(creditors, party{userID, balance})
		}
	}
	byAmountDesc := func(parties []party) func(i, j int) bool {
		return func(i, j int) bool {
			if !parties[i].amount.Equal(parties[j].amount) {
				return parties[i].amount.GreaterThan(parties[j].amount)
			}
			return parties[i].userID < parties[j].userID
		}
	}
	sort.Slice(debtors, byAmountDesc(debtors))
	sort.Slice(creditors, byAmountDesc(creditors))

	var out []models.SimplifiedDebt
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d, c := &debtors[i], &creditors[j]
		amount := decimal.Min(d.amount, c.amount)
		if amount.GreaterThanOrEqual(epsilon) {
			out = append(out, models.SimplifiedDebt{
				FromUserID: d.userID,
				ToUserID:   c.userID,
				Amount:     amount.Round(2),
				Currency:   currency,
				Subsumes:   byDebtor[d.userID],
			})
		}
		d.amount = d.amount.Sub(amount)
		c.amount = c.amount.Sub(amount)
		// A whole cent is still real debt; only sub-cent residue retires
		// a party.
		if d.amount.LessThan(epsilon) {
			i++
		}
		if c.amount.LessThan(epsilon) {
			j++
		}
	}

	return out, nil
}
