package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/divvyhq/divvy/internal/currency"
)

// Ensure SQLiteStore implements the conversion port's fallback tier.
var _ currency.RateStore = (*SQLiteStore)(nil)

// SaveRate upserts the last-known rate for a currency pair.
func (s *SQLiteStore) SaveRate(ctx context.Context, r currency.Rate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchange_rates (from_currency, to_currency, rate, fetched_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (from_currency, to_currency)
		 DO UPDATE SET rate = excluded.rate, fetched_at = excluded.fetched_at, expires_at = excluded.expires_at`,
		r.From, r.To, r.Rate.String(), r.FetchedAt.Unix(), r.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save exchange rate: %w", err)
	}
	return nil
}

// LastKnownRate returns the most recently persisted rate for the pair,
// even if expired; the caller decides whether a stale rate is usable.
func (s *SQLiteStore) LastKnownRate(ctx context.Context, from, to string) (currency.Rate, bool, error) {
	var rateStr string
	var fetchedAt, expiresAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT rate, fetched_at, expires_at FROM exchange_rates
		 WHERE from_currency = ? AND to_currency = ?`,
		from, to,
	).Scan(&rateStr, &fetchedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return currency.Rate{}, false, nil
	}
	if err != nil {
		return currency.Rate{}, false, fmt.Errorf("failed to get exchange rate: %w", err)
	}

	rate, err := parseAmount(rateStr)
	if err != nil {
		return currency.Rate{}, false, err
	}
	return currency.Rate{
		From:      from,
		To:        to,
		Rate:      rate,
		FetchedAt: time.Unix(fetchedAt, 0),
		ExpiresAt: time.Unix(expiresAt, 0),
	}, true, nil
}
