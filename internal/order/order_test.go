package order

import (
	"errors"
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

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func sampleOrder(t *testing.T) domain.Order {
	t.Helper()
	o, err := New(Params{
		ID:        "ord-1",
		StoreID:   "main-store",
		CashierID: "cashier",
		Items: []domain.OrderItemRequest{
			{ProductID: "A", Quantity: 2, UnitPrice: dec(1500)},
			{ProductID: "B", Quantity: 1, UnitPrice: dec(600)},
		},
		TaxRate: dec(18),
		Now:     fixedNow,
	})
	require.NoError(t, err)
	return o
}

func TestNewComputesTotals(t *testing.T) {
	o := sampleOrder(t)

	assert.True(t, o.Subtotal.Equal(dec(3600)), "subtotal %s", o.Subtotal)
	assert.True(t, o.TaxAmount.Equal(dec(648)), "tax %s", o.TaxAmount)
	assert.True(t, o.TotalAmount.Equal(dec(4248)), "total %s", o.TotalAmount)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.Equal(t, domain.PaymentStatusUnpaid, o.PaymentStatus)
}

func TestNewRejectsInvalidInput(t *testing.T) {
	cases := map[string]domain.OrderItemRequest{
		"zero quantity":    {ProductID: "A", Quantity: 0, UnitPrice: dec(10)},
		"negative price":   {ProductID: "A", Quantity: 1, UnitPrice: dec(-1)},
		"discount over100": {ProductID: "A", Quantity: 1, UnitPrice: dec(10), DiscountPercentage: dec(101)},
		"discount > line":  {ProductID: "A", Quantity: 1, UnitPrice: dec(10), DiscountAmount: dec(11)},
		"missing product":  {Quantity: 1, UnitPrice: dec(10)},
	}
	for name, item := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(Params{CashierID: "c", Items: []domain.OrderItemRequest{item}, Now: fixedNow})
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	_, err := New(Params{CashierID: "c", Items: []domain.OrderItemRequest{{ProductID: "A", Quantity: 1, UnitPrice: dec(1)}}, TaxRate: dec(120)})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestGlobalDiscountIsCappedAndIncludesLoyalty(t *testing.T) {
	o, err := New(Params{
		CashierID:                "c",
		Items:                    []domain.OrderItemRequest{{ProductID: "A", Quantity: 1, UnitPrice: dec(1000)}},
		GlobalDiscountPercentage: dec(10),
		LoyaltyDiscount:          dec(50),
		TaxRate:                  dec(10),
		Now:                      fixedNow,
	})
	require.NoError(t, err)
	assert.True(t, o.GlobalDiscountAmount.Equal(dec(150)))
	assert.True(t, o.TaxAmount.Equal(dec(85)))
	assert.True(t, o.TotalAmount.Equal(dec(935)))

	o2, err := New(Params{
		CashierID:            "c",
		Items:                []domain.OrderItemRequest{{ProductID: "A", Quantity: 1, UnitPrice: dec(100)}},
		GlobalDiscountAmount: dec(500),
		Now:                  fixedNow,
	})
	require.NoError(t, err)
	assert.True(t, o2.GlobalDiscountAmount.Equal(dec(100)))
	assert.True(t, o2.TotalAmount.IsZero())
	assert.Equal(t, domain.PaymentStatusPaid, o2.PaymentStatus)
}

func TestRecomputeIsIdempotentAndPendingOnly(t *testing.T) {
	o := sampleOrder(t)
	before := o
	require.NoError(t, Recompute(&o))
	require.NoError(t, Recompute(&o))
	assert.True(t, before.TotalAmount.Equal(o.TotalAmount))
	assert.Empty(t, Verify(o))

	o.Status = domain.OrderStatusCompleted
	require.ErrorIs(t, Recompute(&o), domain.ErrInvalidState)
}

func TestPaymentStatusTransitions(t *testing.T) {
	o := sampleOrder(t)

	require.NoError(t, AddPayment(&o, domain.Payment{ID: "p1", Status: domain.PaymentPaid, Amount: dec(1000)}, fixedNow))
	assert.Equal(t, domain.PaymentStatusPartial, o.PaymentStatus)
	assert.True(t, Remaining(o).Equal(dec(3248)))

	require.NoError(t, AddPayment(&o, domain.Payment{ID: "p2", Status: domain.PaymentCredit, Amount: dec(3248), Method: domain.MethodCredit}, fixedNow))
	assert.Equal(t, domain.PaymentStatusCredit, o.PaymentStatus)

	require.NoError(t, AddPayment(&o, domain.Payment{ID: "p3", Status: domain.PaymentPaid, Amount: dec(3248)}, fixedNow))
	assert.Equal(t, domain.PaymentStatusPaid, o.PaymentStatus)

	cancelled, err := RemovePayment(&o, "p3", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCancelled, cancelled.Status)
	assert.Equal(t, domain.PaymentStatusCredit, o.PaymentStatus)

	_, err = RemovePayment(&o, "p3", fixedNow)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = RemovePayment(&o, "missing", fixedNow)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarkCompletedRequiresSettlement(t *testing.T) {
	o := sampleOrder(t)
	require.ErrorIs(t, MarkCompleted(&o, "RCP-1", fixedNow), domain.ErrInvalidState)

	require.NoError(t, AddPayment(&o, domain.Payment{ID: "p1", Status: domain.PaymentPaid, Amount: dec(4248)}, fixedNow))
	require.NoError(t, MarkCompleted(&o, "RCP-1", fixedNow))
	assert.Equal(t, domain.OrderStatusCompleted, o.Status)
	assert.Equal(t, "RCP-1", o.ReceiptNumber)

	err := MarkCompleted(&o, "RCP-2", fixedNow)
	require.True(t, errors.Is(err, domain.ErrInvalidState))
	assert.Equal(t, "RCP-1", o.ReceiptNumber)

	_, err = Cancel(&o, "late", fixedNow)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancelReturnsActivePayments(t *testing.T) {
	o := sampleOrder(t)
	require.NoError(t, AddPayment(&o, domain.Payment{ID: "p1", Status: domain.PaymentPaid, Amount: dec(500)}, fixedNow))
	require.NoError(t, AddPayment(&o, domain.Payment{ID: "p2", Status: domain.PaymentPaid, Amount: dec(200)}, fixedNow))
	_, err := RemovePayment(&o, "p2", fixedNow)
	require.NoError(t, err)

	cancelled, err := Cancel(&o, " customer left ", fixedNow)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "p1", cancelled[0].ID)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	assert.Equal(t, "customer left", o.CancelReason)
	assert.Equal(t, domain.PaymentStatusUnpaid, o.PaymentStatus)

	require.ErrorIs(t, AddPayment(&o, domain.Payment{ID: "p3", Status: domain.PaymentPaid, Amount: dec(1)}, fixedNow), domain.ErrInvalidState)
}

func TestVerifyReportsDrift(t *testing.T) {
	o := sampleOrder(t)
	o.PaymentStatus = domain.PaymentStatusPaid
	o.TotalAmount = dec(1)
	assert.Len(t, Verify(o), 2)
}

func TestOrderProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 150
	properties := gopter.NewProperties(params)

	itemGen := gopter.CombineGens(
		gen.IntRange(1, 20),
		gen.Int64Range(0, 5_000_000),
		gen.Int64Range(0, 100),
	).Map(func(v []interface{}) domain.OrderItemRequest {
		return domain.OrderItemRequest{
			ProductID:          "P",
			Quantity:           v[0].(int),
			UnitPrice:          decimal.New(v[1].(int64), -2),
			DiscountPercentage: decimal.NewFromInt(v[2].(int64)),
		}
	})

	properties.Property("total equals subtotal plus tax minus discount and stays non-negative", prop.ForAll(
		func(items []domain.OrderItemRequest, tax int64, discountCents int64) bool {
			if len(items) == 0 {
				return true
			}
			o, err := New(Params{
				CashierID:            "c",
				Items:                items,
				TaxRate:              decimal.NewFromInt(tax),
				GlobalDiscountAmount: decimal.New(discountCents, -2),
			})
			if err != nil {
				return false
			}
			ok := o.TotalAmount.Equal(o.Subtotal.Add(o.TaxAmount).Sub(o.GlobalDiscountAmount))
			return ok && !o.TotalAmount.IsNegative() && !o.Subtotal.IsNegative() &&
				!o.TaxAmount.IsNegative() && !o.GlobalDiscountAmount.IsNegative()
		},
		gen.SliceOfN(5, itemGen),
		gen.Int64Range(0, 100),
		gen.Int64Range(0, 100_000_000),
	))

	properties.Property("stored payment status equals re-derivation after every mutation", prop.ForAll(
		func(amounts []int64, credits []bool) bool {
			o, err := New(Params{
				CashierID: "c",
				Items:     []domain.OrderItemRequest{{ProductID: "P", Quantity: 1, UnitPrice: dec(10000)}},
			})
			if err != nil {
				return false
			}
			for i, cents := range amounts {
				status := domain.PaymentPaid
				if i < len(credits) && credits[i] {
					status = domain.PaymentCredit
				}
				p := domain.Payment{ID: string(rune('a' + i)), Status: status, Amount: decimal.New(cents, -2)}
				if err := AddPayment(&o, p, fixedNow); err != nil {
					return false
				}
				if o.PaymentStatus != DerivePaymentStatus(o.TotalAmount, o.Payments) {
					return false
				}
			}
			if len(o.Payments) > 0 {
				if _, err := RemovePayment(&o, o.Payments[0].ID, fixedNow); err != nil {
					return false
				}
			}
			return len(Verify(o)) == 0
		},
		gen.SliceOfN(6, gen.Int64Range(1, 600_000)),
		gen.SliceOfN(6, gen.Bool()),
	))

	properties.TestingRun(t)
}
