package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/store"
)

func TestShiftUniquenessAgainstPostgres(t *testing.T) {
	databaseURL := os.Getenv("POS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	stamp := time.Now().UnixNano()
	cashier := fmt.Sprintf("it-cashier-%d", stamp)
	register := fmt.Sprintf("it-reg-%d", stamp)
	first := domain.Shift{
		ID:             fmt.Sprintf("shf-it-%d-a", stamp),
		CashierID:      cashier,
		StoreID:        "main-store",
		RegisterID:     register,
		Status:         domain.ShiftStatusOpen,
		OpeningBalance: decimal.NewFromInt(50000),
		OpenedAt:       time.Now().UTC(),
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shifts WHERE cashier_id = $1`, cashier)
	})

	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error { return tx.CreateShift(ctx, first) }))

	second := first
	second.ID = fmt.Sprintf("shf-it-%d-b", stamp)
	second.RegisterID = register + "-other"
	err = s.Atomic(ctx, func(tx store.Tx) error { return tx.CreateShift(ctx, second) })
	require.ErrorIs(t, err, domain.ErrDuplicateShift)

	closed := first
	closed.Status = domain.ShiftStatusClosed
	at := time.Now().UTC()
	closed.ClosedAt = &at
	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error { return tx.UpdateShift(ctx, closed) }))
	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error { return tx.CreateShift(ctx, second) }))

	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error {
		active, err := tx.FindActiveShiftByCashier(ctx, cashier)
		require.NoError(t, err)
		assert.Equal(t, second.ID, active.ID)
		assert.True(t, active.OpeningBalance.Equal(decimal.NewFromInt(50000)))
		return nil
	}))
}

func TestStockDecrementRollsBackWithOrder(t *testing.T) {
	databaseURL := os.Getenv("POS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	sku := fmt.Sprintf("SKU-IT-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_stocks WHERE product_id = $1`, sku)
	})
	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error { return tx.SetStock(ctx, sku, "main-store", 2) }))

	err = s.Atomic(ctx, func(tx store.Tx) error {
		if err := tx.DecreaseQuantity(ctx, sku, "main-store", 1); err != nil {
			return err
		}
		return tx.DecreaseQuantity(ctx, sku, "main-store", 5)
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	require.NoError(t, s.Atomic(ctx, func(tx store.Tx) error {
		qty, err := tx.StockLevel(ctx, sku, "main-store")
		require.NoError(t, err)
		assert.Equal(t, 2, qty)
		return nil
	}))
}
