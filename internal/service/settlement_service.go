package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/apperr"
	"github.com/divvyhq/divvy/internal/currency"
	"github.com/divvyhq/divvy/internal/metrics"
	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/storage"
)

// SettlementService manages the settlement lifecycle: creation,
// updates, completion, cancellation, and deletion.
//
// PARTIAL settlements reserve against their expense share at creation
// time; cancel and delete reverse the reservation in the same unit of
// work, so a reservation never outlives the settlement that made it.
type SettlementService struct {
	store     storage.Store
	converter currency.Converter
}

// NewSettlementService creates a SettlementService with the given
// storage and conversion backends.
func NewSettlementService(store storage.Store, converter currency.Converter) *SettlementService {
	return &SettlementService{store: store, converter: converter}
}

// CreateSettlementInput carries everything needed to record a
// settlement. ActorID is the authenticated user performing the call.
type CreateSettlementInput struct {
	GroupID    string
	ActorID    string
	FromUserID string
	ToUserID   string

	// Amount in Currency, as paid.
	Amount   decimal.Decimal
	Currency string

	// ExchangeRateOverride, when positive, bypasses the conversion
	// service for cross-currency settlements.
	ExchangeRateOverride decimal.Decimal

	Note string

	// Type defaults to FULL. PARTIAL requires the share reference and
	// PartialAmount.
	Type           models.SettlementType
	ShareExpenseID string
	ShareUserID    string
	PartialAmount  decimal.Decimal
}

// Create validates and records a new settlement in PENDING state.
// For PARTIAL settlements the insert and the share reservation commit
// atomically; a failed reservation leaves nothing behind.
func (s *SettlementService) Create(ctx context.Context, in CreateSettlementInput) (*models.Settlement, error) {
	slog.Info("CreateSettlement request received",
		"group_id", in.GroupID,
		"from_user", in.FromUserID,
		"to_user", in.ToUserID,
		"amount", in.Amount,
		"currency", in.Currency,
		"type", in.Type,
	)

	group, err := s.store.GetGroup(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}

	if in.FromUserID == in.ToUserID {
		return nil, apperr.Validation("settlement debtor and creditor must differ")
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("settlement amount must be positive, got %s", in.Amount)
	}
	if !s.converter.IsValidCurrency(in.Currency) {
		return nil, apperr.Validation("unsupported currency %q", in.Currency)
	}
	for _, userID := range []string{in.FromUserID, in.ToUserID} {
		if !group.HasMember(userID) {
			return nil, apperr.Validation("user %s is not a member of group %s", userID, in.GroupID)
		}
	}
	if !group.HasMember(in.ActorID) {
		return nil, apperr.Permission("user %s is not a member of group %s", in.ActorID, in.GroupID)
	}
	if in.ActorID != in.FromUserID && in.ActorID != in.ToUserID {
		return nil, apperr.Permission("settlements can only be recorded by the debtor or creditor")
	}

	settlementType := in.Type
	if settlementType == "" {
		settlementType = models.SettlementFull
	}

	st := &models.Settlement{
		GroupID:              in.GroupID,
		FromUserID:           in.FromUserID,
		ToUserID:             in.ToUserID,
		Amount:               in.Amount.Round(2),
		Currency:             in.Currency,
		ExchangeRateOverride: in.ExchangeRateOverride,
		Status:               models.SettlementPending,
		Type:                 settlementType,
		Note:                 in.Note,
		CreatedBy:            in.ActorID,
	}

	if err := s.applyConversion(ctx, st, group); err != nil {
		metrics.SettlementOps.WithLabelValues("create", "conversion_error").Inc()
		return nil, err
	}

	if settlementType == models.SettlementPartial {
		if in.ShareExpenseID == "" || in.ShareUserID == "" {
			return nil, apperr.Validation("partial settlement requires an expense share reference")
		}
		if !in.PartialAmount.IsPositive() {
			return nil, apperr.Validation("partial amount must be positive, got %s", in.PartialAmount)
		}
		// Early bound check for a friendlier error; the conditional
		// update below remains the authoritative guard under races.
		share, err := s.store.GetShare(ctx, in.ShareExpenseID, in.ShareUserID)
		if err != nil {
			return nil, err
		}
		if in.PartialAmount.GreaterThan(share.Outstanding().Add(models.ShareEpsilon)) {
			return nil, apperr.Validation("partial amount %s exceeds outstanding %s on the share",
				in.PartialAmount, share.Outstanding())
		}
		st.ShareExpenseID = in.ShareExpenseID
		st.ShareUserID = in.ShareUserID
		st.PartialAmount = in.PartialAmount.Round(2)
	}

	err = s.store.InTx(ctx, func(uow storage.UnitOfWork) error {
		if st.Type == models.SettlementPartial {
			if err := uow.ReserveShare(ctx, st.ShareExpenseID, st.ShareUserID, st.PartialAmount); err != nil {
				return err
			}
		}
		return uow.InsertSettlement(ctx, st)
	})
	if err != nil {
		metrics.SettlementOps.WithLabelValues("create", "error").Inc()
		slog.Error("CreateSettlement failed", "group_id", in.GroupID, "error", err)
		return nil, err
	}

	metrics.SettlementOps.WithLabelValues("create", "ok").Inc()
	slog.Info("Settlement created", "settlement_id", st.ID, "group_id", st.GroupID, "type", st.Type)
	return st, nil
}

// applyConversion normalizes a settlement into the group's default
// currency when it was paid in another one, recording the as-paid
// amount and currency. A positive ExchangeRateOverride wins over the
// conversion service.
func (s *SettlementService) applyConversion(ctx context.Context, st *models.Settlement, group *models.Group) error {
	if st.Currency == group.DefaultCurrency {
		st.OriginalAmount = decimal.Zero
		st.OriginalCurrency = ""
		return nil
	}

	original := st.Amount
	var converted decimal.Decimal
	if st.ExchangeRateOverride.IsPositive() {
		converted = original.Mul(st.ExchangeRateOverride).Round(2)
	} else {
		var err error
		converted, _, err = s.converter.Convert(ctx, original, st.Currency, group.DefaultCurrency)
		if err != nil {
			return err
		}
	}

	st.OriginalAmount = original
	st.OriginalCurrency = st.Currency
	st.Amount = converted
	st.Currency = group.DefaultCurrency
	return nil
}

// UpdateSettlementInput carries the editable fields; nil pointers leave
// the current value unchanged.
type UpdateSettlementInput struct {
	Amount               *decimal.Decimal
	Currency             *string
	ExchangeRateOverride *decimal.Decimal
	Note                 *string
}

// Update edits a PENDING settlement. Changing amount or currency
// re-runs the cross-currency handling against the group default.
func (s *SettlementService) Update(ctx context.Context, settlementID, actorID string, in UpdateSettlementInput) (*models.Settlement, error) {
	slog.Info("UpdateSettlement request received", "settlement_id", settlementID, "actor", actorID)

	st, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePendingParty(st, actorID); err != nil {
		return nil, err
	}

	if in.Note != nil {
		st.Note = *in.Note
	}
	if in.ExchangeRateOverride != nil {
		st.ExchangeRateOverride = *in.ExchangeRateOverride
	}

	if in.Amount != nil || in.Currency != nil {
		group, err := s.store.GetGroup(ctx, st.GroupID)
		if err != nil {
			return nil, err
		}

		// Rebuild the as-paid view before reconverting.
		if st.OriginalCurrency != "" {
			st.Amount = st.OriginalAmount
			st.Currency = st.OriginalCurrency
		}
		if in.Amount != nil {
			if !in.Amount.IsPositive() {
				return nil, apperr.Validation("settlement amount must be positive, got %s", in.Amount)
			}
			st.Amount = in.Amount.Round(2)
		}
		if in.Currency != nil {
			if !s.converter.IsValidCurrency(*in.Currency) {
				return nil, apperr.Validation("unsupported currency %q", *in.Currency)
			}
			st.Currency = *in.Currency
		}
		if err := s.applyConversion(ctx, st, group); err != nil {
			metrics.SettlementOps.WithLabelValues("update", "conversion_error").Inc()
			return nil, err
		}
	}

	err = s.store.InTx(ctx, func(uow storage.UnitOfWork) error {
		return uow.UpdateSettlement(ctx, st)
	})
	if err != nil {
		metrics.SettlementOps.WithLabelValues("update", "error").Inc()
		slog.Error("UpdateSettlement failed", "settlement_id", settlementID, "error", err)
		return nil, err
	}

	metrics.SettlementOps.WithLabelValues("update", "ok").Inc()
	slog.Info("Settlement updated", "settlement_id", st.ID)
	return st, nil
}

// Complete moves a PENDING settlement to COMPLETED and stamps the
// completion time. Completed settlements affect balances from the next
// read onward.
func (s *SettlementService) Complete(ctx context.Context, settlementID, actorID string) (*models.Settlement, error) {
	slog.Info("CompleteSettlement request received", "settlement_id", settlementID, "actor", actorID)

	st, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePendingParty(st, actorID); err != nil {
		metrics.SettlementOps.WithLabelValues("complete", "rejected").Inc()
		return nil, err
	}

	st.Status = models.SettlementCompleted
	st.SettledAt = time.Now()

	err = s.store.InTx(ctx, func(uow storage.UnitOfWork) error {
		return uow.UpdateSettlement(ctx, st)
	})
	if err != nil {
		metrics.SettlementOps.WithLabelValues("complete", "error").Inc()
		slog.Error("CompleteSettlement failed", "settlement_id", settlementID, "error", err)
		return nil, err
	}

	metrics.SettlementOps.WithLabelValues("complete", "ok").Inc()
	slog.Info("Settlement completed", "settlement_id", st.ID)
	return st, nil
}

// Cancel moves a PENDING settlement to CANCELLED. For PARTIAL
// settlements the share reservation is released in the same unit of
// work.
func (s *SettlementService) Cancel(ctx context.Context, settlementID, actorID string) (*models.Settlement, error) {
	slog.Info("CancelSettlement request received", "settlement_id", settlementID, "actor", actorID)

	st, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePendingParty(st, actorID); err != nil {
		metrics.SettlementOps.WithLabelValues("cancel", "rejected").Inc()
		return nil, err
	}

	st.Status = models.SettlementCancelled

	err = s.store.InTx(ctx, func(uow storage.UnitOfWork) error {
		if st.Type == models.SettlementPartial {
			if err := uow.ReleaseShare(ctx, st.ShareExpenseID, st.ShareUserID, st.PartialAmount); err != nil {
				return err
			}
		}
		return uow.UpdateSettlement(ctx, st)
	})
	if err != nil {
		metrics.SettlementOps.WithLabelValues("cancel", "error").Inc()
		slog.Error("CancelSettlement failed", "settlement_id", settlementID, "error", err)
		return nil, err
	}

	metrics.SettlementOps.WithLabelValues("cancel", "ok").Inc()
	slog.Info("Settlement cancelled", "settlement_id", st.ID)
	return st, nil
}

// Delete removes a PENDING settlement. For PARTIAL settlements the
// share reservation is released in the same unit of work.
func (s *SettlementService) Delete(ctx context.Context, settlementID, actorID string) error {
	slog.Info("DeleteSettlement request received", "settlement_id", settlementID, "actor", actorID)

	st, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return err
	}
	if err := s.requirePendingParty(st, actorID); err != nil {
		metrics.SettlementOps.WithLabelValues("delete", "rejected").Inc()
		return err
	}

	err = s.store.InTx(ctx, func(uow storage.UnitOfWork) error {
		if st.Type == models.SettlementPartial {
			if err := uow.ReleaseShare(ctx, st.ShareExpenseID, st.ShareUserID, st.PartialAmount); err != nil {
				return err
			}
		}
		return uow.DeleteSettlement(ctx, st.ID)
	})
	if err != nil {
		metrics.SettlementOps.WithLabelValues("delete", "error").Inc()
		slog.Error("DeleteSettlement failed", "settlement_id", settlementID, "error", err)
		return err
	}

	metrics.SettlementOps.WithLabelValues("delete", "ok").Inc()
	slog.Info("Settlement deleted", "settlement_id", settlementID)
	return nil
}

// requirePendingParty enforces the shared mutation preconditions: the
// settlement is still PENDING and the actor is one of its parties.
func (s *SettlementService) requirePendingParty(st *models.Settlement, actorID string) error {
	if st.Status.Terminal() {
		return apperr.InvalidStateTransition("settlement %s is %s and cannot be modified", st.ID, st.Status)
	}
	if !st.IsParty(actorID) {
		return apperr.Permission("user %s is not a party to settlement %s", actorID, st.ID)
	}
	return nil
}
