package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/divvyhq/divvy/internal/apperr"
	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/storage"
)

const settlementColumns = `id, group_id, from_user_id, to_user_id, amount, currency,
	exchange_rate_override, original_amount, original_currency, status, type,
	share_expense_id, share_user_id, partial_amount, note, created_by, created_at, settled_at`

// GetSettlement retrieves a settlement by ID.
func (s *SQLiteStore) GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	settlements, err := scanSettlements(ctx, s.db,
		"SELECT "+settlementColumns+" FROM settlements WHERE id = ?", settlementID)
	if err != nil {
		return nil, err
	}
	if len(settlements) == 0 {
		return nil, apperr.NotFound("settlement not found: %s", settlementID)
	}
	return settlements[0], nil
}

// ListSettlementsByGroup retrieves all settlements for a group, newest
// first.
func (s *SQLiteStore) ListSettlementsByGroup(ctx context.Context, groupID string) ([]*models.Settlement, error) {
	return scanSettlements(ctx, s.db,
		"SELECT "+settlementColumns+" FROM settlements WHERE group_id = ? ORDER BY created_at DESC", groupID)
}

func scanSettlements(ctx context.Context, q querier, query string, args ...any) ([]*models.Settlement, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var settlements []*models.Settlement
	for rows.Next() {
		st := &models.Settlement{}
		var amount, status, stype string
		var override, origAmount, origCurrency, shareExpense, shareUser, partial, note sql.NullString
		var settledAt sql.NullInt64

		if err := rows.Scan(&st.ID, &st.GroupID, &st.FromUserID, &st.ToUserID, &amount, &st.Currency,
			&override, &origAmount, &origCurrency, &status, &stype,
			&shareExpense, &shareUser, &partial, &note, &st.CreatedBy, &st.CreatedAt, &settledAt); err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}

		if st.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		st.Status = models.SettlementStatus(status)
		st.Type = models.SettlementType(stype)
		if override.Valid {
			if st.ExchangeRateOverride, err = parseAmount(override.String); err != nil {
				return nil, err
			}
		}
		if origAmount.Valid {
			if st.OriginalAmount, err = parseAmount(origAmount.String); err != nil {
				return nil, err
			}
		}
		if origCurrency.Valid {
			st.OriginalCurrency = origCurrency.String
		}
		if shareExpense.Valid {
			st.ShareExpenseID = shareExpense.String
		}
		if shareUser.Valid {
			st.ShareUserID = shareUser.String
		}
		if partial.Valid {
			if st.PartialAmount, err = parseAmount(partial.String); err != nil {
				return nil, err
			}
		}
		if note.Valid {
			st.Note = note.String
		}
		if settledAt.Valid {
			st.SettledAt = time.Unix(settledAt.Int64, 0)
		}
		settlements = append(settlements, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settlements: %w", err)
	}

	return settlements, nil
}

// unitOfWork implements storage.UnitOfWork on a live transaction.
type unitOfWork struct {
	tx *sql.Tx
}

var _ storage.UnitOfWork = (*unitOfWork)(nil)

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableAmount(d decimal.Decimal) interface{} {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

// InsertSettlement persists a new settlement inside the transaction.
func (u *unitOfWork) InsertSettlement(ctx context.Context, st *models.Settlement) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	if st.CreatedAt == 0 {
		st.CreatedAt = time.Now().Unix()
	}

	var settledAt interface{}
	if !st.SettledAt.IsZero() {
		settledAt = st.SettledAt.Unix()
	}

	_, err := u.tx.ExecContext(ctx,
		`INSERT INTO settlements (`+settlementColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.GroupID, st.FromUserID, st.ToUserID, st.Amount.String(), st.Currency,
		nullableAmount(st.ExchangeRateOverride), nullableAmount(st.OriginalAmount), nullable(st.OriginalCurrency),
		string(st.Status), string(st.Type),
		nullable(st.ShareExpenseID), nullable(st.ShareUserID), nullableAmount(st.PartialAmount),
		nullable(st.Note), st.CreatedBy, st.CreatedAt, settledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	return nil
}

// UpdateSettlement rewrites a settlement's mutable fields. The write
// matches only a PENDING row: a caller whose earlier read saw PENDING
// cannot overwrite a settlement that another writer completed or
// cancelled in between.
func (u *unitOfWork) UpdateSettlement(ctx context.Context, st *models.Settlement) error {
	var settledAt interface{}
	if !st.SettledAt.IsZero() {
		settledAt = st.SettledAt.Unix()
	}

	res, err := u.tx.ExecContext(ctx,
		`UPDATE settlements SET amount = ?, currency = ?, exchange_rate_override = ?,
		 original_amount = ?, original_currency = ?, status = ?, note = ?, settled_at = ?
		 WHERE id = ? AND status = ?`,
		st.Amount.String(), st.Currency, nullableAmount(st.ExchangeRateOverride),
		nullableAmount(st.OriginalAmount), nullable(st.OriginalCurrency),
		string(st.Status), nullable(st.Note), settledAt,
		st.ID, string(models.SettlementPending),
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check settlement update: %w", err)
	}
	if affected == 0 {
		return u.settlementConflict(ctx, st.ID)
	}
	return nil
}

// DeleteSettlement removes a settlement record. Only PENDING rows may
// be deleted.
func (u *unitOfWork) DeleteSettlement(ctx context.Context, settlementID string) error {
	res, err := u.tx.ExecContext(ctx,
		"DELETE FROM settlements WHERE id = ? AND status = ?",
		settlementID, string(models.SettlementPending),
	)
	if err != nil {
		return fmt.Errorf("failed to delete settlement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check settlement delete: %w", err)
	}
	if affected == 0 {
		return u.settlementConflict(ctx, settlementID)
	}
	return nil
}

// settlementConflict explains a zero-row settlement write: the row is
// either gone or already in a terminal state.
func (u *unitOfWork) settlementConflict(ctx context.Context, settlementID string) error {
	var status string
	err := u.tx.QueryRowContext(ctx,
		"SELECT status FROM settlements WHERE id = ?", settlementID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return apperr.NotFound("settlement not found: %s", settlementID)
	}
	if err != nil {
		return fmt.Errorf("failed to check settlement status: %w", err)
	}
	return apperr.InvalidStateTransition("settlement %s is %s and cannot be modified", settlementID, status)
}

// ReserveShare increments a share's settled amount, guarded by a
// conditional update so concurrent reservations can never push the
// settled amount past the owed amount. SQLite compares the decimal
// strings numerically via CAST.
func (u *unitOfWork) ReserveShare(ctx context.Context, expenseID, userID string, amount decimal.Decimal) error {
	now := time.Now().Unix()
	res, err := u.tx.ExecContext(ctx,
		`UPDATE expense_shares
		 SET settled_amount = CAST(CAST(settled_amount AS REAL) + CAST(? AS REAL) AS TEXT),
		     last_settled_at = ?
		 WHERE expense_id = ? AND user_id = ?
		   AND CAST(settled_amount AS REAL) + CAST(? AS REAL) <= CAST(owed_amount AS REAL) + 0.005`,
		amount.String(), now, expenseID, userID, amount.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to reserve share amount: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check share reservation: %w", err)
	}
	if affected == 0 {
		// Either the share does not exist or the increment would exceed
		// the owed amount; distinguish for the caller.
		var one int
		err := u.tx.QueryRowContext(ctx,
			"SELECT 1 FROM expense_shares WHERE expense_id = ? AND user_id = ?",
			expenseID, userID,
		).Scan(&one)
		if err == sql.ErrNoRows {
			return apperr.NotFound("expense share not found: expense %s, user %s", expenseID, userID)
		}
		if err != nil {
			return fmt.Errorf("failed to check share existence: %w", err)
		}
		return apperr.Validation("partial amount %s exceeds the share's outstanding amount", amount)
	}
	return nil
}

// ReleaseShare decrements a share's settled amount, used when a partial
// settlement is cancelled or deleted while pending.
func (u *unitOfWork) ReleaseShare(ctx context.Context, expenseID, userID string, amount decimal.Decimal) error {
	now := time.Now().Unix()
	res, err := u.tx.ExecContext(ctx,
		`UPDATE expense_shares
		 SET settled_amount = CAST(CAST(settled_amount AS REAL) - CAST(? AS REAL) AS TEXT),
		     last_settled_at = ?
		 WHERE expense_id = ? AND user_id = ?
		   AND CAST(settled_amount AS REAL) - CAST(? AS REAL) >= -0.005`,
		amount.String(), now, expenseID, userID, amount.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to release share amount: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check share release: %w", err)
	}
	if affected == 0 {
		return apperr.Validation("release of %s would take the share's settled amount below zero", amount)
	}
	return nil
}
