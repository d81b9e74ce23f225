package currency

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/apperr"
)

// StaticSource is a RateSource backed by a fixed rate table, keyed by
// "FROM/TO". Useful for development and tests; production deployments
// inject a real provider.
type StaticSource struct {
	rates map[string]decimal.Decimal
}

// NewStaticSource builds a source from a fixed table.
func NewStaticSource(rates map[string]decimal.Decimal) *StaticSource {
	cp := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		cp[k] = v
	}
	return &StaticSource{rates: cp}
}

// FetchRate returns the configured rate for the pair.
func (s *StaticSource) FetchRate(_ context.Context, from, to string) (decimal.Decimal, error) {
	if r, ok := s.rates[from+"/"+to]; ok {
		return r, nil
	}
	// Derive the inverse when only one direction is configured.
	if r, ok := s.rates[to+"/"+from]; ok && r.IsPositive() {
		return decimal.NewFromInt(1).Div(r), nil
	}
	return decimal.Decimal{}, apperr.Conversion(nil, "no configured rate for %s->%s", from, to)
}
