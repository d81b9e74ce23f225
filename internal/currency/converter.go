// Package currency implements the currency conversion port: rate
// lookup with a two-tier cache (in-process TTL map, optionally backed
// by redis, falling back to a persisted last-known-rate table), amount
// conversion, and display formatting.
//
// The actual rate provider is injected as a RateSource; fetching rates
// over the network is a collaborator concern, not this package's.
package currency

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	xcurrency "golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/divvyhq/divvy/internal/apperr"
	"github.com/divvyhq/divvy/internal/metrics"
)

// Rate is an exchange rate between two currencies at a point in time.
type Rate struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Converter is the conversion port consumed by the ledger and
// settlement services.
type Converter interface {
	// GetRate returns the rate from one currency to another. Called
	// with from == to it returns rate 1 without touching any tier.
	GetRate(ctx context.Context, from, to string) (Rate, error)

	// Convert applies the current rate to amount, rounded to 2 decimal
	// places, and returns the rate used.
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, Rate, error)

	// IsValidCurrency reports whether code is a known ISO 4217 code.
	IsValidCurrency(code string) bool

	// FormatAmount renders the amount with its currency symbol.
	FormatAmount(amount decimal.Decimal, code string) string
}

// RateSource fetches fresh rates, typically from an external API.
type RateSource interface {
	FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Cache is the fast tier of rate storage. Implementations must be safe
// for concurrent use and must not perform blocking I/O under a lock.
type Cache interface {
	Get(ctx context.Context, from, to string) (Rate, bool)
	Set(ctx context.Context, r Rate)
}

// RateStore is the persisted fallback tier: it remembers the last
// successfully fetched rate per currency pair across restarts.
type RateStore interface {
	SaveRate(ctx context.Context, r Rate) error
	LastKnownRate(ctx context.Context, from, to string) (Rate, bool, error)
}

// Service implements Converter. The cache tiers and fallback store are
// explicit dependencies with process lifecycle; there is no package
// level state.
type Service struct {
	source  RateSource
	cache   Cache
	store   RateStore // may be nil
	ttl     time.Duration
	timeout time.Duration
}

var _ Converter = (*Service)(nil)

// NewService builds a conversion service. store may be nil when no
// persisted fallback tier is available.
func NewService(source RateSource, cache Cache, store RateStore, ttl, timeout time.Duration) *Service {
	return &Service{source: source, cache: cache, store: store, ttl: ttl, timeout: timeout}
}

// GetRate resolves a rate through the tiers: identity, cache, source,
// then last-known persisted rate. A source failure with no fallback is
// a conversion error; two distinct currencies never silently get 1:1.
func (s *Service) GetRate(ctx context.Context, from, to string) (Rate, error) {
	if !s.IsValidCurrency(from) {
		return Rate{}, apperr.Validation("unsupported currency %q", from)
	}
	if !s.IsValidCurrency(to) {
		return Rate{}, apperr.Validation("unsupported currency %q", to)
	}
	now := time.Now()
	if from == to {
		return Rate{From: from, To: to, Rate: decimal.NewFromInt(1), FetchedAt: now, ExpiresAt: now.Add(s.ttl)}, nil
	}

	if r, ok := s.cache.Get(ctx, from, to); ok {
		metrics.RateCacheHits.Inc()
		return r, nil
	}
	metrics.RateCacheMisses.Inc()

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	value, err := s.source.FetchRate(fetchCtx, from, to)
	if err == nil {
		r := Rate{From: from, To: to, Rate: value, FetchedAt: now, ExpiresAt: now.Add(s.ttl)}
		s.cache.Set(ctx, r)
		if s.store != nil {
			if saveErr := s.store.SaveRate(ctx, r); saveErr != nil {
				slog.Warn("failed to persist exchange rate", "from", from, "to", to, "error", saveErr)
			}
		}
		return r, nil
	}

	slog.Warn("rate fetch failed, trying last-known rate", "from", from, "to", to, "error", err)
	if s.store != nil {
		r, ok, storeErr := s.store.LastKnownRate(ctx, from, to)
		if storeErr != nil {
			slog.Error("last-known rate lookup failed", "from", from, "to", to, "error", storeErr)
		} else if ok {
			metrics.RateFallbacks.Inc()
			return r, nil
		}
	}
	return Rate{}, apperr.Conversion(err, "no rate available for %s->%s", from, to)
}

// Convert converts amount from one currency to another using the
// current rate, rounding to 2 decimal places.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, Rate, error) {
	r, err := s.GetRate(ctx, from, to)
	if err != nil {
		return decimal.Decimal{}, Rate{}, err
	}
	return amount.Mul(r.Rate).Round(2), r, nil
}

// IsValidCurrency reports whether code parses as an ISO 4217 currency.
func (s *Service) IsValidCurrency(code string) bool {
	_, err := xcurrency.ParseISO(code)
	return err == nil
}

// FormatAmount renders amount with the currency's symbol, e.g. "USD
// 12.50" -> "$12.50". Unknown codes fall back to "<code> <amount>".
func (s *Service) FormatAmount(amount decimal.Decimal, code string) string {
	unit, err := xcurrency.ParseISO(code)
	if err != nil {
		return code + " " + amount.StringFixed(2)
	}
	f, _ := amount.Float64()
	p := message.NewPrinter(language.English)
	return p.Sprint(xcurrency.Symbol(unit.Amount(f)))
}
