// Package service orchestrates the engine's read and write paths:
// LedgerService derives balances and simplified debts, and
// SettlementService manages the settlement lifecycle.
package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/apperr"
	"github.com/divvyhq/divvy/internal/calculator"
	"github.com/divvyhq/divvy/internal/currency"
	"github.com/divvyhq/divvy/internal/metrics"
	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/storage"
)

// LedgerService computes group balances and simplified debts.
type LedgerService struct {
	store     storage.Store
	converter currency.Converter
}

// NewLedgerService creates a LedgerService with the given storage and
// conversion backends.
func NewLedgerService(store storage.Store, converter currency.Converter) *LedgerService {
	return &LedgerService{store: store, converter: converter}
}

// resolveCurrency picks the computation currency: explicit request,
// else the group's preferred currency, else its default.
func (s *LedgerService) resolveCurrency(group *models.Group, requested string) (string, error) {
	target := requested
	if target == "" {
		target = group.DisplayCurrency()
	}
	if !s.converter.IsValidCurrency(target) {
		return "", apperr.Validation("unsupported currency %q", target)
	}
	return target, nil
}

// GetGroupBalances computes every member's balance in the target
// currency. Members with no expense activity appear with zero
// balances. Conversion failures propagate; no balance is silently
// zero-filled.
func (s *LedgerService) GetGroupBalances(ctx context.Context, groupID, targetCurrency string) ([]models.UserBalance, error) {
	start := time.Now()
	slog.Info("GetGroupBalances request received", "group_id", groupID, "currency", targetCurrency)

	snap, err := s.store.GroupSnapshot(ctx, groupID)
	if err != nil {
		slog.Error("GetGroupBalances failed - snapshot read", "group_id", groupID, "error", err)
		return nil, err
	}

	target, err := s.resolveCurrency(snap.Group, targetCurrency)
	if err != nil {
		return nil, err
	}

	totals := calculator.Fold(snap.Group.Members, snap.Expenses, snap.CompletedSettlements)

	userIDs := make([]string, 0, len(totals))
	for userID := range totals {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	balances := make([]models.UserBalance, 0, len(userIDs))
	for _, userID := range userIDs {
		t := totals[userID]
		paid, owed := decimal.Zero, decimal.Zero
		for _, cur := range t.Currencies() {
			p, err := s.toTarget(ctx, t.Paid[cur], cur, target)
			if err != nil {
				return nil, err
			}
			o, err := s.toTarget(ctx, t.Owed[cur], cur, target)
			if err != nil {
				return nil, err
			}
			paid = paid.Add(p)
			owed = owed.Add(o)
		}
		net := paid.Sub(owed)
		balances = append(balances, models.UserBalance{
			UserID:     userID,
			TotalPaid:  paid.Round(2),
			TotalOwed:  owed.Round(2),
			NetBalance: net.Round(2),
			Currency:   target,
			Display:    s.converter.FormatAmount(net.Round(2), target),
		})
	}

	metrics.BalanceComputeDuration.Observe(time.Since(start).Seconds())
	slog.Info("GetGroupBalances successful",
		"group_id", groupID,
		"currency", target,
		"members_count", len(balances),
		"expenses_count", len(snap.Expenses),
	)
	return balances, nil
}

// GetSimplifiedDebts derives pairwise debts, converts them to the
// target currency, and reduces them to a minimal payment set.
func (s *LedgerService) GetSimplifiedDebts(ctx context.Context, groupID, targetCurrency string) ([]models.SimplifiedDebt, error) {
	slog.Info("GetSimplifiedDebts request received", "group_id", groupID, "currency", targetCurrency)

	snap, err := s.store.GroupSnapshot(ctx, groupID)
	if err != nil {
		slog.Error("GetSimplifiedDebts failed - snapshot read", "group_id", groupID, "error", err)
		return nil, err
	}

	target, err := s.resolveCurrency(snap.Group, targetCurrency)
	if err != nil {
		return nil, err
	}

	edges := calculator.PairwiseDebts(snap.Expenses, snap.CompletedSettlements)

	// Simplification operates in a single currency, so the edges are
	// converted first; the Subsumes references carry the converted
	// amounts in the target currency as well.
	converted := make([]models.DebtEdge, 0, len(edges))
	for _, e := range edges {
		amount, _, err := s.converter.Convert(ctx, e.Amount, e.Currency, target)
		if err != nil {
			slog.Error("GetSimplifiedDebts failed - conversion", "from", e.Currency, "to", target, "error", err)
			return nil, err
		}
		converted = append(converted, models.DebtEdge{
			FromUserID: e.FromUserID,
			ToUserID:   e.ToUserID,
			Amount:     amount,
			Currency:   target,
		})
	}

	simplified, err := calculator.Simplify(converted)
	if err != nil {
		return nil, err
	}

	slog.Info("GetSimplifiedDebts successful",
		"group_id", groupID,
		"currency", target,
		"pairwise_count", len(edges),
		"simplified_count", len(simplified),
	)
	return simplified, nil
}

func (s *LedgerService) toTarget(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if amount.IsZero() || from == to {
		return amount, nil
	}
	converted, _, err := s.converter.Convert(ctx, amount, from, to)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return converted, nil
}
