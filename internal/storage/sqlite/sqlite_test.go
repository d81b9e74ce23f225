package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/divvyhq/divvy/internal/apperr"
	"github.com/divvyhq/divvy/internal/currency"
	"github.com/divvyhq/divvy/internal/models"
	"github.com/divvyhq/divvy/internal/storage"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedGroup(t *testing.T, store *SQLiteStore, members ...string) *models.Group {
	t.Helper()
	group := &models.Group{
		Name:            "Trip",
		DefaultCurrency: "USD",
		Members:         members,
	}
	require.NoError(t, store.CreateGroup(context.Background(), group))
	return group
}

func TestGroupRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	group := seedGroup(t, store, "alice", "bob")
	require.NotEmpty(t, group.ID)
	require.NotZero(t, group.CreatedAt)

	got, err := store.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Equal(t, "Trip", got.Name)
	require.Equal(t, "USD", got.DefaultCurrency)
	require.Equal(t, []string{"alice", "bob"}, got.Members)

	ok, err := store.IsMember(ctx, group.ID, "alice")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.IsMember(ctx, group.ID, "mallory")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.GetGroup(ctx, "missing")
	require.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestExpenseRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, store, "alice", "bob")

	exp := &models.Expense{
		GroupID:     group.ID,
		Description: "Dinner",
		Amount:      dec(t, "100"),
		Currency:    "USD",
		SplitType:   models.SplitEqual,
		Shares: []models.ExpenseShare{
			{UserID: "alice", Owed: dec(t, "50")},
			{UserID: "bob", Owed: dec(t, "50")},
		},
		Payments: []models.ExpensePayment{
			{UserID: "alice", Amount: dec(t, "100")},
		},
	}
	require.NoError(t, store.CreateExpense(ctx, exp))
	require.NotEmpty(t, exp.ID)

	share, err := store.GetShare(ctx, exp.ID, "bob")
	require.NoError(t, err)
	require.True(t, share.Owed.Equal(dec(t, "50")))
	require.True(t, share.SettledAmount.IsZero())

	snap, err := store.GroupSnapshot(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, snap.Expenses, 1)
	require.Len(t, snap.Expenses[0].Shares, 2)
	require.Len(t, snap.Expenses[0].Payments, 1)
	require.Equal(t, group.ID, snap.Group.ID)
}

func TestSnapshotExcludesArchivedAndPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, store, "alice", "bob")

	require.NoError(t, store.CreateExpense(ctx, &models.Expense{
		GroupID:  group.ID,
		Amount:   dec(t, "10"),
		Currency: "USD",
		Archived: true,
		Shares:   []models.ExpenseShare{{UserID: "bob", Owed: dec(t, "10")}},
		Payments: []models.ExpensePayment{{UserID: "alice", Amount: dec(t, "10")}},
	}))

	pending := &models.Settlement{
		GroupID:    group.ID,
		FromUserID: "bob",
		ToUserID:   "alice",
		Amount:     dec(t, "5"),
		Currency:   "USD",
		Status:     models.SettlementPending,
		Type:       models.SettlementFull,
		CreatedBy:  "bob",
	}
	completed := &models.Settlement{
		GroupID:    group.ID,
		FromUserID: "bob",
		ToUserID:   "alice",
		Amount:     dec(t, "3"),
		Currency:   "USD",
		Status:     models.SettlementCompleted,
		Type:       models.SettlementFull,
		CreatedBy:  "bob",
	}
	require.NoError(t, store.InTx(ctx, func(uow storage.UnitOfWork) error {
		if err := uow.InsertSettlement(ctx, pending); err != nil {
			return err
		}
		return uow.InsertSettlement(ctx, completed)
	}))

	snap, err := store.GroupSnapshot(ctx, group.ID)
	require.NoError(t, err)
	require.Empty(t, snap.Expenses, "archived expenses must not appear")
	require.Len(t, snap.CompletedSettlements, 1)
	require.Equal(t, completed.ID, snap.CompletedSettlements[0].ID)
}

func TestSettlementRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, store, "alice", "bob")

	st := &models.Settlement{
		GroupID:          group.ID,
		FromUserID:       "bob",
		ToUserID:         "alice",
		Amount:           dec(t, "45.50"),
		Currency:         "USD",
		OriginalAmount:   dec(t, "42.00"),
		OriginalCurrency: "EUR",
		Status:           models.SettlementPending,
		Type:             models.SettlementFull,
		Note:             "ski trip",
		CreatedBy:        "bob",
	}
	require.NoError(t, store.InTx(ctx, func(uow storage.UnitOfWork) error {
		return uow.InsertSettlement(ctx, st)
	}))
	require.NotEmpty(t, st.ID)

	got, err := store.GetSettlement(ctx, st.ID)
	require.NoError(t, err)
	require.True(t, got.Amount.Equal(dec(t, "45.50")))
	require.Equal(t, "EUR", got.OriginalCurrency)
	require.True(t, got.OriginalAmount.Equal(dec(t, "42.00")))
	require.Equal(t, models.SettlementPending, got.Status)
	require.Equal(t, "ski trip", got.Note)

	list, err := store.ListSettlementsByGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestReserveShare(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, store, "alice", "bob")

	exp := &models.Expense{
		GroupID:  group.ID,
		Amount:   dec(t, "100"),
		Currency: "USD",
		Shares:   []models.ExpenseShare{{UserID: "bob", Owed: dec(t, "100")}},
		Payments: []models.ExpensePayment{{UserID: "alice", Amount: dec(t, "100")}},
	}
	require.NoError(t, store.CreateExpense(ctx, exp))

	reserve := func(amount string) error {
		return store.InTx(ctx, func(uow storage.UnitOfWork) error {
			return uow.ReserveShare(ctx, exp.ID, "bob", dec(t, amount))
		})
	}

	require.NoError(t, reserve("60"))

	share, err := store.GetShare(ctx, exp.ID, "bob")
	require.NoError(t, err)
	require.True(t, share.SettledAmount.Equal(dec(t, "60")), "settled = %s", share.SettledAmount)
	require.False(t, share.LastSettledAt.IsZero())

	// Over the outstanding 40: rejected, nothing changes.
	err = reserve("50")
	require.True(t, apperr.IsKind(err, apperr.KindValidation), "got %v", err)

	share, err = store.GetShare(ctx, exp.ID, "bob")
	require.NoError(t, err)
	require.True(t, share.SettledAmount.Equal(dec(t, "60")))

	// Exactly the outstanding amount is fine.
	require.NoError(t, reserve("40"))

	// Missing share is not found, not validation.
	err = store.InTx(ctx, func(uow storage.UnitOfWork) error {
		return uow.ReserveShare(ctx, exp.ID, "mallory", dec(t, "1"))
	})
	require.True(t, apperr.IsKind(err, apperr.KindNotFound), "got %v", err)
}

func TestReleaseShare(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, store, "alice", "bob")

	exp := &models.Expense{
		GroupID:  group.ID,
		Amount:   dec(t, "50"),
		Currency: "USD",
		Shares:   []models.ExpenseShare{{UserID: "bob", Owed: dec(t, "50")}},
		Payments: []models.ExpensePayment{{UserID: "alice", Amount: dec(t, "50")}},
	}
	require.NoError(t, store.CreateExpense(ctx, exp))

	require.NoError(t, store.InTx(ctx, func(uow storage.UnitOfWork) error {
		return uow.ReserveShare(ctx, exp.ID, "bob", dec(t, "30"))
	}))
	require.NoError(t, store.InTx(ctx, func(uow storage.UnitOfWork) error {
		return uow.ReleaseShare(ctx, exp.ID, "bob", dec(t, "30"))
	}))

	share, err := store.GetShare(ctx, exp.ID, "bob")
	require.NoError(t, err)
	require.True(t, share.SettledAmount.Abs().LessThan(dec(t, "0.01")), "settled = %s", share.SettledAmount)

	// Releasing below zero is rejected.
	err = store.InTx(ctx, func(uow storage.UnitOfWork) error {
		return uow.ReleaseShare(ctx, exp.ID, "bob", dec(t, "10"))
	})
	require.True(t, apperr.IsKind(err, apperr.KindValidation), "got %v", err)
}

// Concurrent reservations must never push the settled amount past the
// owed amount.
func TestReserveShareConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, store, "alice", "bob")

	exp := &models.Expense{
		GroupID:  group.ID,
		Amount:   dec(t, "100"),
		Currency: "USD",
		Shares:   []models.ExpenseShare{{UserID: "bob", Owed: dec(t, "100")}},
		Payments: []models.ExpensePayment{{UserID: "alice", Amount: dec(t, "100")}},
	}
	require.NoError(t, store.CreateExpense(ctx, exp))

	const workers = 8
	var wg sync.WaitGroup
	succeeded := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.InTx(ctx, func(uow storage.UnitOfWork) error {
				return uow.ReserveShare(ctx, exp.ID, "bob", decimal.NewFromInt(30))
			})
			if err == nil {
				succeeded <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(succeeded)

	wins := 0
	for range succeeded {
		wins++
	}
	require.LessOrEqual(t, wins, 3, "at most 3 reservations of 30 fit into 100")

	share, err := store.GetShare(ctx, exp.ID, "bob")
	require.NoError(t, err)
	require.True(t, share.SettledAmount.LessThanOrEqual(dec(t, "100")),
		"settled %s exceeds owed 100", share.SettledAmount)
}

func TestInTxRollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, store, "alice", "bob")

	exp := &models.Expense{
		GroupID:  group.ID,
		Amount:   dec(t, "100"),
		Currency: "USD",
		Shares:   []models.ExpenseShare{{UserID: "bob", Owed: dec(t, "100")}},
		Payments: []models.ExpensePayment{{UserID: "alice", Amount: dec(t, "100")}},
	}
	require.NoError(t, store.CreateExpense(ctx, exp))

	st := &models.Settlement{
		GroupID:    group.ID,
		FromUserID: "bob",
		ToUserID:   "alice",
		Amount:     dec(t, "150"),
		Currency:   "USD",
		Status:     models.SettlementPending,
		Type:       models.SettlementPartial,
		CreatedBy:  "bob",
	}

	// Reservation exceeds owed: the whole unit of work must roll back,
	// including the settlement insert that came first.
	err := store.InTx(ctx, func(uow storage.UnitOfWork) error {
		if err := uow.InsertSettlement(ctx, st); err != nil {
			return err
		}
		return uow.ReserveShare(ctx, exp.ID, "bob", dec(t, "150"))
	})
	require.Error(t, err)

	_, err = store.GetSettlement(ctx, st.ID)
	require.True(t, apperr.IsKind(err, apperr.KindNotFound), "settlement should have rolled back, got %v", err)

	share, err := store.GetShare(ctx, exp.ID, "bob")
	require.NoError(t, err)
	require.True(t, share.SettledAmount.IsZero())
}

// A writer holding a stale PENDING read must not overwrite a settlement
// another writer already moved to a terminal state.
func TestSettlementWriteRequiresPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	group := seedGroup(t, store, "alice", "bob")

	exp := &models.Expense{
		GroupID:  group.ID,
		Amount:   dec(t, "100"),
		Currency: "USD",
		Shares:   []models.ExpenseShare{{UserID: "bob", Owed: dec(t, "100")}},
		Payments: []models.ExpensePayment{{UserID: "alice", Amount: dec(t, "100")}},
	}
	require.NoError(t, store.CreateExpense(ctx, exp))

	st := &models.Settlement{
		GroupID:        group.ID,
		FromUserID:     "bob",
		ToUserID:       "alice",
		Amount:         dec(t, "40"),
		Currency:       "USD",
		Status:         models.SettlementPending,
		Type:           models.SettlementPartial,
		ShareExpenseID: exp.ID,
		ShareUserID:    "bob",
		PartialAmount:  dec(t, "40"),
		CreatedBy:      "bob",
	}
	require.NoError(t, store.InTx(ctx, func(uow storage.UnitOfWork) error {
		if err := uow.ReserveShare(ctx, exp.ID, "bob", st.PartialAmount); err != nil {
			return err
		}
		return uow.InsertSettlement(ctx, st)
	}))

	// Read taken while the settlement was still PENDING.
	stale, err := store.GetSettlement(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, models.SettlementPending, stale.Status)

	completed := *st
	completed.Status = models.SettlementCompleted
	require.NoError(t, store.InTx(ctx, func(uow storage.UnitOfWork) error {
		return uow.UpdateSettlement(ctx, &completed)
	}))

	// Replaying a cancellation from the stale read must fail and roll
	// back the reservation release with it.
	stale.Status = models.SettlementCancelled
	err = store.InTx(ctx, func(uow storage.UnitOfWork) error {
		if err := uow.ReleaseShare(ctx, stale.ShareExpenseID, stale.ShareUserID, stale.PartialAmount); err != nil {
			return err
		}
		return uow.UpdateSettlement(ctx, stale)
	})
	require.True(t, apperr.IsKind(err, apperr.KindInvalidStateTransition), "got %v", err)

	got, err := store.GetSettlement(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, models.SettlementCompleted, got.Status)

	share, err := store.GetShare(ctx, exp.ID, "bob")
	require.NoError(t, err)
	require.True(t, share.SettledAmount.Equal(dec(t, "40")), "settled = %s", share.SettledAmount)

	// Deleting a terminal settlement fails the same way.
	err = store.InTx(ctx, func(uow storage.UnitOfWork) error {
		return uow.DeleteSettlement(ctx, st.ID)
	})
	require.True(t, apperr.IsKind(err, apperr.KindInvalidStateTransition), "got %v", err)

	// A missing settlement is still reported as such.
	err = store.InTx(ctx, func(uow storage.UnitOfWork) error {
		return uow.DeleteSettlement(ctx, "missing")
	})
	require.True(t, apperr.IsKind(err, apperr.KindNotFound), "got %v", err)
}

func TestRateStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.LastKnownRate(ctx, "USD", "EUR")
	require.NoError(t, err)
	require.False(t, ok)

	r := currency.Rate{From: "USD", To: "EUR", Rate: dec(t, "0.91")}
	require.NoError(t, store.SaveRate(ctx, r))

	got, ok, err := store.LastKnownRate(ctx, "USD", "EUR")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Rate.Equal(dec(t, "0.91")))

	// Upsert replaces the stored rate.
	r.Rate = dec(t, "0.95")
	require.NoError(t, store.SaveRate(ctx, r))
	got, _, err = store.LastKnownRate(ctx, "USD", "EUR")
	require.NoError(t, err)
	require.True(t, got.Rate.Equal(dec(t, "0.95")))
}
