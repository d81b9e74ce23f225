// Package split computes expense shares from a split definition.
//
// Each split type is its own variant, carrying only the fields it
// needs and validated at construction. Compute always produces share
// amounts that sum to the expense amount to the cent: rounding residue
// is distributed by largest fractional remainder, ties broken by user
// ID so results are deterministic.
package split

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/apperr"
	"github.com/divvyhq/divvy/internal/models"
)

var (
	hundred = decimal.NewFromInt(100)
	cent    = decimal.NewFromFloat(0.01)
)

// Split derives per-user owed amounts from an expense amount.
type Split interface {
	// Type identifies the variant.
	Type() models.SplitType

	// Compute returns the owed amount per user. The returned amounts
	// are rounded to 2 decimal places and sum exactly to amount.
	Compute(amount decimal.Decimal) (map[string]decimal.Decimal, error)
}

// Equal divides the amount evenly among participants.
type Equal struct {
	participants []string
}

// NewEqual validates and builds an equal split.
func NewEqual(participants []string) (*Equal, error) {
	if len(participants) == 0 {
		return nil, apperr.Validation("equal split requires at least one participant")
	}
	if err := checkDistinct(participants); err != nil {
		return nil, err
	}
	return &Equal{participants: append([]string(nil), participants...)}, nil
}

func (e *Equal) Type() models.SplitType { return models.SplitEqual }

func (e *Equal) Compute(amount decimal.Decimal) (map[string]decimal.Decimal, error) {
	if amount.IsNegative() {
		return nil, apperr.Validation("expense amount must not be negative")
	}
	n := decimal.NewFromInt(int64(len(e.participants)))
	raw := make(map[string]decimal.Decimal, len(e.participants))
	for _, p := range e.participants {
		raw[p] = amount.Div(n)
	}
	return settleRemainder(raw, amount), nil
}

// Percentage divides the amount by per-user percentages summing to 100.
type Percentage struct {
	percents map[string]decimal.Decimal
	total    decimal.Decimal
}

// NewPercentage validates and builds a percentage split. Percentages
// must be non-negative and sum to 100 within the share epsilon.
func NewPercentage(percents map[string]decimal.Decimal) (*Percentage, error) {
	if len(percents) == 0 {
		return nil, apperr.Validation("percentage split requires at least one participant")
	}
	total := decimal.Zero
	for user, pct := range percents {
		if pct.IsNegative() {
			return nil, apperr.Validation("percentage for %s must not be negative", user)
		}
		total = total.Add(pct)
	}
	if total.Sub(hundred).Abs().GreaterThan(models.ShareEpsilon) {
		return nil, apperr.Validation("percentages must sum to 100, got %s", total)
	}
	cp := make(map[string]decimal.Decimal, len(percents))
	for u, p := range percents {
		cp[u] = p
	}
	return &Percentage{percents: cp, total: total}, nil
}

func (p *Percentage) Type() models.SplitType { return models.SplitPercentage }

func (p *Percentage) Compute(amount decimal.Decimal) (map[string]decimal.Decimal, error) {
	if amount.IsNegative() {
		return nil, apperr.Validation("expense amount must not be negative")
	}
	// Scale against the actual total, not a literal 100: a tolerated
	// drift in the percentages must not grow with the amount.
	raw := make(map[string]decimal.Decimal, len(p.percents))
	for user, pct := range p.percents {
		raw[user] = amount.Mul(pct).Div(p.total)
	}
	return settleRemainder(raw, amount), nil
}

// Amount assigns an exact owed amount per user.
type Amount struct {
	amounts map[string]decimal.Decimal
}

// NewAmount validates and builds an exact-amount split. Amounts must be
// non-negative; their sum is checked against the expense amount at
// Compute time.
func NewAmount(amounts map[string]decimal.Decimal) (*Amount, error) {
	if len(amounts) == 0 {
		return nil, apperr.Validation("amount split requires at least one participant")
	}
	cp := make(map[string]decimal.Decimal, len(amounts))
	for user, amt := range amounts {
		if amt.IsNegative() {
			return nil, apperr.Validation("amount for %s must not be negative", user)
		}
		cp[user] = amt
	}
	return &Amount{amounts: cp}, nil
}

func (a *Amount) Type() models.SplitType { return models.SplitAmount }

func (a *Amount) Compute(amount decimal.Decimal) (map[string]decimal.Decimal, error) {
	total := decimal.Zero
	for _, amt := range a.amounts {
		total = total.Add(amt)
	}
	if total.Sub(amount).Abs().GreaterThan(models.ShareEpsilon) {
		return nil, apperr.Validation("share amounts sum to %s, expense amount is %s", total, amount)
	}
	out := make(map[string]decimal.Decimal, len(a.amounts))
	for user, amt := range a.amounts {
		out[user] = amt.Round(2)
	}
	return out, nil
}

// Shares divides the amount by per-user share counts (e.g. 2:1:1).
type Shares struct {
	counts map[string]int64
	total  int64
}

// NewShares validates and builds a share-count split. Counts must be
// positive and total at least one share.
func NewShares(counts map[string]int64) (*Shares, error) {
	if len(counts) == 0 {
		return nil, apperr.Validation("shares split requires at least one participant")
	}
	var total int64
	cp := make(map[string]int64, len(counts))
	for user, n := range counts {
		if n <= 0 {
			return nil, apperr.Validation("share count for %s must be positive", user)
		}
		total += n
		cp[user] = n
	}
	return &Shares{counts: cp, total: total}, nil
}

func (s *Shares) Type() models.SplitType { return models.SplitShares }

func (s *Shares) Compute(amount decimal.Decimal) (map[string]decimal.Decimal, error) {
	if amount.IsNegative() {
		return nil, apperr.Validation("expense amount must not be negative")
	}
	total := decimal.NewFromInt(s.total)
	raw := make(map[string]decimal.Decimal, len(s.counts))
	for user, n := range s.counts {
		raw[user] = amount.Mul(decimal.NewFromInt(n)).Div(total)
	}
	return settleRemainder(raw, amount), nil
}

func checkDistinct(users []string) error {
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		if seen[u] {
			return apperr.Validation("duplicate participant %s", u)
		}
		seen[u] = true
	}
	return nil
}

// settleRemainder rounds raw amounts to cents and distributes the
// rounding residue one cent at a time, largest truncated fraction
// first, user ID as tie-break.
func settleRemainder(raw map[string]decimal.Decimal, amount decimal.Decimal) map[string]decimal.Decimal {
	users := make([]string, 0, len(raw))
	for u := range raw {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		fi := raw[users[i]].Sub(raw[users[i]].RoundDown(2))
		fj := raw[users[j]].Sub(raw[users[j]].RoundDown(2))
		if !fi.Equal(fj) {
			return fi.GreaterThan(fj)
		}
		return users[i] < users[j]
	})

	out := make(map[string]decimal.Decimal, len(raw))
	assigned := decimal.Zero
	for _, u := range users {
		out[u] = raw[u].RoundDown(2)
		assigned = assigned.Add(out[u])
	}

	// Residue is < len(raw) cents; hand it out a cent at a time.
	residue := amount.Round(2).Sub(assigned)
	for i := 0; residue.GreaterThanOrEqual(cent); i = (i + 1) % len(users) {
		u := users[i]
		out[u] = out[u].Add(cent)
		residue = residue.Sub(cent)
	}
	return out
}
