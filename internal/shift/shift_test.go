package shift

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/domain"
)

var now = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func openTestShift(t *testing.T) domain.Shift {
	t.Helper()
	s, err := Open(OpenParams{ID: "shf-1", CashierID: "x", StoreID: "main-store", RegisterID: "R", OpeningBalance: dec(50000), Now: now})
	require.NoError(t, err)
	return s
}

func TestOpenRejectsActiveConflicts(t *testing.T) {
	first := openTestShift(t)

	_, err := Open(OpenParams{ID: "shf-2", CashierID: "x", RegisterID: "other", Now: now}, &first)
	require.ErrorIs(t, err, domain.ErrDuplicateShift)

	_, err = Open(OpenParams{ID: "shf-3", CashierID: "y", RegisterID: "R", Now: now}, &first)
	require.ErrorIs(t, err, domain.ErrDuplicateShift)

	require.NoError(t, Suspend(&first, now))
	_, err = Open(OpenParams{ID: "shf-4", CashierID: "x", RegisterID: "R2", Now: now}, &first)
	require.ErrorIs(t, err, domain.ErrDuplicateShift)

	first.Status = domain.ShiftStatusClosed
	_, err = Open(OpenParams{ID: "shf-5", CashierID: "x", RegisterID: "R", Now: now}, &first, nil)
	require.NoError(t, err)
}

func TestSaleUpdatesExpectedBalance(t *testing.T) {
	s := openTestShift(t)
	require.NoError(t, AddSale(&s, dec(4248), domain.MethodCash))

	assert.True(t, s.TotalSales.Equal(dec(4248)))
	assert.True(t, s.ExpectedBalance.Equal(dec(54248)))
	assert.True(t, s.ActualBalance.Equal(s.ExpectedBalance))
	assert.Equal(t, 1, s.CashCount)
	assert.Equal(t, 1, s.TotalTransactions)

	require.NoError(t, AddSale(&s, dec(100), domain.MethodBankTransfer))
	assert.True(t, s.OtherSales.Equal(dec(100)))
	require.NoError(t, ReverseSale(&s, dec(100), domain.MethodBankTransfer))
	assert.True(t, s.OtherSales.IsZero())
	assert.Equal(t, 1, s.TotalTransactions)

	require.NoError(t, AddRefund(&s, dec(248)))
	assert.True(t, s.NetSales.Equal(dec(4000)))
	assert.True(t, s.ExpectedBalance.Equal(dec(54000)))
	assert.Empty(t, Verify(s))
}

func TestSuspendResumeAndCloseRules(t *testing.T) {
	s := openTestShift(t)
	require.ErrorIs(t, Resume(&s), domain.ErrInvalidState)
	require.NoError(t, Suspend(&s, now))
	require.NotNil(t, s.SuspendedAt)

	_, err := Close(&s, CloseParams{Now: now})
	require.ErrorIs(t, err, domain.ErrInvalidState)
	require.NotErrorIs(t, err, domain.ErrShiftClosed)

	require.NoError(t, AddRefund(&s, dec(10)))
	require.NoError(t, Resume(&s))
	assert.Nil(t, s.SuspendedAt)
}

func TestCloseRecomputesFromPayments(t *testing.T) {
	s := openTestShift(t)
	require.NoError(t, AddSale(&s, dec(4248), domain.MethodCash))
	require.NoError(t, AddSale(&s, dec(1), domain.MethodCash))

	payments := []domain.Payment{
		{ShiftID: "shf-1", Method: domain.MethodCash, Amount: dec(4248), Status: domain.PaymentPaid},
		{ShiftID: "shf-1", Method: domain.MethodCreditCard, Amount: dec(700), Status: domain.PaymentCancelled},
		{ShiftID: "shf-1", Method: domain.MethodCredit, Amount: dec(5000), Status: domain.PaymentCredit},
		{ShiftID: "shf-other", Method: domain.MethodCash, Amount: dec(999), Status: domain.PaymentPaid},
	}
	actual := dec(54200)
	running, err := Close(&s, CloseParams{ActualBalance: &actual, Notes: " short ", Payments: payments, Now: now})
	require.NoError(t, err)

	assert.True(t, running.Equal(dec(4249)))
	assert.True(t, s.TotalSales.Equal(dec(4248)))
	assert.True(t, s.CreditSales.Equal(dec(5000)))
	assert.Equal(t, 1, s.CreditCount)
	assert.True(t, s.ExpectedBalance.Equal(dec(54248)))
	assert.True(t, s.ClosingBalance.Equal(dec(54200)))
	assert.True(t, s.Discrepancy.Equal(dec(-48)))
	assert.Equal(t, "short", s.Notes)
	assert.Equal(t, domain.ShiftStatusClosed, s.Status)
}

func TestClosedShiftIsFrozen(t *testing.T) {
	s := openTestShift(t)
	_, err := Close(&s, CloseParams{Now: now})
	require.NoError(t, err)
	assert.True(t, s.ClosingBalance.Equal(dec(50000)))
	assert.True(t, s.Discrepancy.IsZero())

	frozen := s
	_, err = Close(&s, CloseParams{Now: now})
	require.ErrorIs(t, err, domain.ErrShiftClosed)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	require.ErrorIs(t, AddSale(&s, dec(1), domain.MethodCash), domain.ErrShiftClosed)
	require.ErrorIs(t, AddRefund(&s, dec(1)), domain.ErrShiftClosed)
	require.ErrorIs(t, AddCashMovement(&s, domain.CashMovementPayIn, dec(1)), domain.ErrShiftClosed)
	require.ErrorIs(t, Suspend(&s, now), domain.ErrShiftClosed)
	assert.Equal(t, frozen, s)
}

func TestExpectedCash(t *testing.T) {
	s := openTestShift(t)
	require.NoError(t, AddSale(&s, dec(1000), domain.MethodCash))
	require.NoError(t, AddSale(&s, dec(500), domain.MethodCreditCard))
	require.NoError(t, AddCashMovement(&s, domain.CashMovementPayIn, dec(200)))
	require.NoError(t, AddCashMovement(&s, domain.CashMovementPayOut, dec(300)))
	require.ErrorIs(t, AddCashMovement(&s, "SKIM", dec(1)), domain.ErrValidation)

	assert.True(t, ExpectedCash(s, dec(100)).Equal(dec(50800)))
}

func TestExpectedBalanceProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("expected balance tracks opening plus sales minus refunds", prop.ForAll(
		func(sales []int64, refunds []int64) bool {
			s, err := Open(OpenParams{ID: "s", CashierID: "c", RegisterID: "r", OpeningBalance: dec(1000), Now: now})
			if err != nil {
				return false
			}
			for _, cents := range sales {
				if AddSale(&s, decimal.New(cents, -2), domain.MethodCash) != nil {
					return false
				}
				if len(Verify(s)) > 0 {
					return false
				}
			}
			for _, cents := range refunds {
				if AddRefund(&s, decimal.New(cents, -2)) != nil {
					return false
				}
				if len(Verify(s)) > 0 {
					return false
				}
			}
			return s.ExpectedBalance.Equal(s.OpeningBalance.Add(s.TotalSales).Sub(s.TotalRefunds))
		},
		gen.SliceOf(gen.Int64Range(1, 10_000_000)),
		gen.SliceOf(gen.Int64Range(0, 1_000_000)),
	))

	properties.TestingRun(t)
}
