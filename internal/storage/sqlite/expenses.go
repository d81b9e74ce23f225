package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/divvyhq/divvy/internal/apperr"
	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/storage"
)

// CreateExpense persists an expense with its shares and payments in one
// transaction.
func (s *SQLiteStore) CreateExpense(ctx context.Context, expense *models.Expense) error {
	if expense.ID == "" {
		expense.ID = uuid.New().String()
	}
	if expense.CreatedAt == 0 {
		expense.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	archived := 0
	if expense.Archived {
		archived = 1
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO expenses (id, group_id, description, amount, currency, split_type, archived, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		expense.ID, expense.GroupID, expense.Description, expense.Amount.String(),
		expense.Currency, string(expense.SplitType), archived, expense.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}

	for i := range expense.Shares {
		share := &expense.Shares[i]
		share.ExpenseID = expense.ID
		var lastSettled interface{}
		if !share.LastSettledAt.IsZero() {
			lastSettled = share.LastSettledAt.Unix()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO expense_shares (expense_id, user_id, owed_amount, settled_amount, last_settled_at)
			 VALUES (?, ?, ?, ?, ?)`,
			expense.ID, share.UserID, share.Owed.String(), share.SettledAmount.String(), lastSettled,
		)
		if err != nil {
			return fmt.Errorf("failed to insert expense share: %w", err)
		}
	}

	for i := range expense.Payments {
		payment := &expense.Payments[i]
		payment.ExpenseID = expense.ID
		_, err = tx.ExecContext(ctx,
			"INSERT INTO expense_payments (expense_id, user_id, amount) VALUES (?, ?, ?)",
			expense.ID, payment.UserID, payment.Amount.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert expense payment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetShare retrieves one expense share.
func (s *SQLiteStore) GetShare(ctx context.Context, expenseID, userID string) (*models.ExpenseShare, error) {
	share := &models.ExpenseShare{}
	var owed, settled string
	var lastSettled sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT expense_id, user_id, owed_amount, settled_amount, last_settled_at
		 FROM expense_shares WHERE expense_id = ? AND user_id = ?`,
		expenseID, userID,
	).Scan(&share.ExpenseID, &share.UserID, &owed, &settled, &lastSettled)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("expense share not found: expense %s, user %s", expenseID, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense share: %w", err)
	}

	if share.Owed, err = parseAmount(owed); err != nil {
		return nil, err
	}
	if share.SettledAmount, err = parseAmount(settled); err != nil {
		return nil, err
	}
	if lastSettled.Valid {
		share.LastSettledAt = time.Unix(lastSettled.Int64, 0)
	}
	return share, nil
}

// GroupSnapshot reads the group, its non-archived expenses (with shares
// and payments), and its completed settlements inside one transaction.
func (s *SQLiteStore) GroupSnapshot(ctx context.Context, groupID string) (*storage.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	group, err := getGroup(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}

	expenses, err := loadExpenses(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}

	settlements, err := scanSettlements(ctx, tx,
		`SELECT `+settlementColumns+` FROM settlements
		 WHERE group_id = ? AND status = ? ORDER BY created_at DESC`,
		groupID, string(models.SettlementCompleted),
	)
	if err != nil {
		return nil, err
	}

	snap := &storage.Snapshot{Group: group, Expenses: expenses}
	for _, st := range settlements {
		snap.CompletedSettlements = append(snap.CompletedSettlements, *st)
	}
	return snap, nil
}

func loadExpenses(ctx context.Context, tx *sql.Tx, groupID string) ([]models.Expense, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, group_id, description, amount, currency, split_type, archived, created_at
		 FROM expenses WHERE group_id = ? AND archived = 0 ORDER BY created_at`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []models.Expense
	for rows.Next() {
		var exp models.Expense
		var amount, splitType string
		var archived int
		if err := rows.Scan(&exp.ID, &exp.GroupID, &exp.Description, &amount,
			&exp.Currency, &splitType, &archived, &exp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		if exp.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		exp.SplitType = models.SplitType(splitType)
		exp.Archived = archived != 0
		expenses = append(expenses, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}

	for i := range expenses {
		exp := &expenses[i]

		shareRows, err := tx.QueryContext(ctx,
			`SELECT expense_id, user_id, owed_amount, settled_amount, last_settled_at
			 FROM expense_shares WHERE expense_id = ? ORDER BY user_id`,
			exp.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to list expense shares: %w", err)
		}
		for shareRows.Next() {
			var share models.ExpenseShare
			var owed, settled string
			var lastSettled sql.NullInt64
			if err := shareRows.Scan(&share.ExpenseID, &share.UserID, &owed, &settled, &lastSettled); err != nil {
				shareRows.Close()
				return nil, fmt.Errorf("failed to scan expense share: %w", err)
			}
			if share.Owed, err = parseAmount(owed); err != nil {
				shareRows.Close()
				return nil, err
			}
			if share.SettledAmount, err = parseAmount(settled); err != nil {
				shareRows.Close()
				return nil, err
			}
			if lastSettled.Valid {
				share.LastSettledAt = time.Unix(lastSettled.Int64, 0)
			}
			exp.Shares = append(exp.Shares, share)
		}
		shareRows.Close()
		if err := shareRows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate expense shares: %w", err)
		}

		payRows, err := tx.QueryContext(ctx,
			"SELECT expense_id, user_id, amount FROM expense_payments WHERE expense_id = ? ORDER BY user_id",
			exp.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to list expense payments: %w", err)
		}
		for payRows.Next() {
			var payment models.ExpensePayment
			var amount string
			if err := payRows.Scan(&payment.ExpenseID, &payment.UserID, &amount); err != nil {
				payRows.Close()
				return nil, fmt.Errorf("failed to scan expense payment: %w", err)
			}
			if payment.Amount, err = parseAmount(amount); err != nil {
				payRows.Close()
				return nil, err
			}
			exp.Payments = append(exp.Payments, payment)
		}
		payRows.Close()
		if err := payRows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate expense payments: %w", err)
		}
	}

	return expenses, nil
}
