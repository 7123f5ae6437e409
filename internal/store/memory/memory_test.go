package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/store"
)

func TestAtomicRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error {
		return tx.SetStock(ctx, "A", "main-store", 5)
	}))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.DecreaseQuantity(ctx, "A", "main-store", 3))
		require.NoError(t, tx.CreateOrder(ctx, domain.Order{ID: "ord-1", Items: []domain.OrderItem{{ProductID: "A", Quantity: 3}}}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error {
		qty, err := tx.StockLevel(ctx, "A", "main-store")
		require.NoError(t, err)
		assert.Equal(t, 5, qty)
		_, err = tx.GetOrder(ctx, "ord-1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func TestDecreaseQuantityDoesNotClamp(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.Atomic(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.SetStock(ctx, "A", "main-store", 1))
		return tx.DecreaseQuantity(ctx, "A", "main-store", 2)
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestShiftUniquenessIndexes(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	first := domain.Shift{ID: "shf-1", CashierID: "x", StoreID: "main-store", RegisterID: "R", Status: domain.ShiftStatusOpen, OpenedAt: now}
	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error { return tx.CreateShift(ctx, first) }))

	err := s.Atomic(ctx, func(tx store.Tx) error {
		return tx.CreateShift(ctx, domain.Shift{ID: "shf-2", CashierID: "x", StoreID: "main-store", RegisterID: "R2"})
	})
	require.ErrorIs(t, err, domain.ErrDuplicateShift)

	err = s.Atomic(ctx, func(tx store.Tx) error {
		return tx.CreateShift(ctx, domain.Shift{ID: "shf-3", CashierID: "y", StoreID: "main-store", RegisterID: "R"})
	})
	require.ErrorIs(t, err, domain.ErrDuplicateShift)

	closed := first
	closed.Status = domain.ShiftStatusClosed
	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error { return tx.UpdateShift(ctx, closed) }))

	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error {
		_, err := tx.FindActiveShiftByCashier(ctx, "x")
		require.ErrorIs(t, err, store.ErrNotFound)
		return tx.CreateShift(ctx, domain.Shift{ID: "shf-4", CashierID: "y", StoreID: "main-store", RegisterID: "R"})
	}))
}

func TestOrderReadsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	order := domain.Order{
		ID:       "ord-1",
		Items:    []domain.OrderItem{{ID: "itm-1", ProductID: "A", Quantity: 1}},
		Payments: []domain.Payment{{ID: "pay-1", ShiftID: "shf-1", Status: domain.PaymentPaid, Amount: decimal.NewFromInt(10)}},
	}
	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error { return tx.CreateOrder(ctx, order) }))

	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error {
		got, err := tx.GetOrder(ctx, "ord-1")
		require.NoError(t, err)
		got.Payments[0].Status = domain.PaymentCancelled

		again, err := tx.GetOrder(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, again.Payments[0].Status)

		payments, err := tx.ListPaymentsByShift(ctx, "shf-1")
		require.NoError(t, err)
		assert.Len(t, payments, 1)
		return nil
	}))
}

func TestSeededUsersAreHashed(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-pass")
	t.Setenv("SEED_MANAGER_PASSWORD", "manager-pass")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier-pass")
	s := NewSeeded(nil)

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)
	for _, u := range users {
		assert.NotContains(t, u.Password, "pass")
		assert.True(t, u.Active)
	}
}

func TestAuditLogsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error {
		for i := 0; i < 3; i++ {
			if err := tx.CreateAuditLog(ctx, domain.AuditLog{StoreID: "main-store", Action: "a", CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
				return err
			}
		}
		return nil
	}))

	logs, err := s.ListAuditLogs(ctx, "main-store", base, base.Add(time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].CreatedAt.After(logs[1].CreatedAt))
}
