// Package order implements the order aggregate: line totals, discounts, tax,
// and the status and payment-status state machines.
package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/money"
)

type Params struct {
	ID                       string
	Number                   string
	StoreID                  string
	RegisterID               string
	CashierID                string
	CustomerID               string
	Items                    []domain.OrderItemRequest
	TaxRate                  decimal.Decimal
	GlobalDiscountPercentage decimal.Decimal
	GlobalDiscountAmount     decimal.Decimal
	LoyaltyDiscount          decimal.Decimal
	Now                      time.Time
	NewItemID                func() string
}

// New validates the cart and returns a PENDING order with computed totals.
// A non-zero order starts UNPAID.
func New(p Params) (domain.Order, error) {
	if strings.TrimSpace(p.CashierID) == "" {
		return domain.Order{}, fmt.Errorf("%w: cashier is required", domain.ErrValidation)
	}
	if len(p.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order requires at least one item", domain.ErrValidation)
	}
	if !money.ValidPercentage(p.TaxRate) {
		return domain.Order{}, fmt.Errorf("%w: tax rate must be between 0 and 100", domain.ErrValidation)
	}
	if !money.ValidPercentage(p.GlobalDiscountPercentage) {
		return domain.Order{}, fmt.Errorf("%w: discount percentage must be between 0 and 100", domain.ErrValidation)
	}
	if p.GlobalDiscountAmount.IsNegative() || p.LoyaltyDiscount.IsNegative() {
		return domain.Order{}, fmt.Errorf("%w: discount amount must not be negative", domain.ErrValidation)
	}

	items := make([]domain.OrderItem, 0, len(p.Items))
	for i, req := range p.Items {
		item, err := newItem(req)
		if err != nil {
			return domain.Order{}, fmt.Errorf("item %d: %w", i+1, err)
		}
		if p.NewItemID != nil {
			item.ID = p.NewItemID()
		}
		items = append(items, item)
	}

	o := domain.Order{
		ID:                       p.ID,
		Number:                   p.Number,
		StoreID:                  p.StoreID,
		RegisterID:               p.RegisterID,
		CashierID:                p.CashierID,
		CustomerID:               p.CustomerID,
		Status:                   domain.OrderStatusPending,
		PaymentStatus:            domain.PaymentStatusUnpaid,
		Items:                    items,
		Payments:                 []domain.Payment{},
		TaxRate:                  p.TaxRate,
		GlobalDiscountPercentage: p.GlobalDiscountPercentage,
		LoyaltyDiscountAmount:    money.Round(p.LoyaltyDiscount),
		CreatedAt:                p.Now,
		UpdatedAt:                p.Now,
	}
	subtotal := itemsSubtotal(items)
	if p.GlobalDiscountPercentage.IsPositive() {
		o.GlobalDiscountAmount = money.Percent(subtotal, p.GlobalDiscountPercentage).Add(o.LoyaltyDiscountAmount)
	} else {
		o.GlobalDiscountAmount = money.Round(p.GlobalDiscountAmount).Add(o.LoyaltyDiscountAmount)
	}
	applyTotals(&o)
	o.PaymentStatus = DerivePaymentStatus(o.TotalAmount, o.Payments)
	return o, nil
}

func newItem(req domain.OrderItemRequest) (domain.OrderItem, error) {
	if strings.TrimSpace(req.ProductID) == "" {
		return domain.OrderItem{}, fmt.Errorf("%w: product is required", domain.ErrValidation)
	}
	if req.Quantity <= 0 {
		return domain.OrderItem{}, fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}
	if req.UnitPrice.IsNegative() {
		return domain.OrderItem{}, fmt.Errorf("%w: unit price must not be negative", domain.ErrValidation)
	}
	if !money.ValidPercentage(req.DiscountPercentage) {
		return domain.OrderItem{}, fmt.Errorf("%w: discount percentage must be between 0 and 100", domain.ErrValidation)
	}
	if req.DiscountAmount.IsNegative() {
		return domain.OrderItem{}, fmt.Errorf("%w: discount amount must not be negative", domain.ErrValidation)
	}
	item := domain.OrderItem{
		ProductID:          strings.TrimSpace(req.ProductID),
		Quantity:           req.Quantity,
		UnitPrice:          money.Round(req.UnitPrice),
		DiscountPercentage: req.DiscountPercentage,
		DiscountAmount:     money.Round(req.DiscountAmount),
	}
	line := money.Line(item.UnitPrice, item.Quantity)
	if item.DiscountPercentage.IsPositive() {
		item.DiscountAmount = money.Percent(line, item.DiscountPercentage)
	}
	if item.DiscountAmount.GreaterThan(line) {
		return domain.OrderItem{}, fmt.Errorf("%w: discount exceeds line amount", domain.ErrValidation)
	}
	item.FinalPrice = line.Sub(item.DiscountAmount)
	return item, nil
}

// Recompute re-derives line prices, totals and payment status. It is idempotent.
func Recompute(o *domain.Order) error {
	if o.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, o.ID, o.Status)
	}
	for i := range o.Items {
		item := &o.Items[i]
		line := money.Line(item.UnitPrice, item.Quantity)
		if item.DiscountPercentage.IsPositive() {
			item.DiscountAmount = money.Percent(line, item.DiscountPercentage)
		}
		item.FinalPrice = money.NonNegative(line.Sub(item.DiscountAmount))
	}
	if o.GlobalDiscountPercentage.IsPositive() {
		o.GlobalDiscountAmount = money.Percent(itemsSubtotal(o.Items), o.GlobalDiscountPercentage).Add(o.LoyaltyDiscountAmount)
	}
	applyTotals(o)
	o.PaymentStatus = DerivePaymentStatus(o.TotalAmount, o.Payments)
	return nil
}

func applyTotals(o *domain.Order) {
	o.Subtotal = itemsSubtotal(o.Items)
	o.GlobalDiscountAmount = money.Min(money.NonNegative(o.GlobalDiscountAmount), o.Subtotal)
	taxable := o.Subtotal.Sub(o.GlobalDiscountAmount)
	o.TaxAmount = money.Tax(taxable, o.TaxRate)
	o.TotalAmount = o.Subtotal.Add(o.TaxAmount).Sub(o.GlobalDiscountAmount)
}

func itemsSubtotal(items []domain.OrderItem) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.FinalPrice)
	}
	return subtotal
}

// PaidAmount sums active payments that settle the order immediately (status PAID).
func PaidAmount(payments []domain.Payment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		if p.Status == domain.PaymentPaid {
			sum = sum.Add(p.Amount)
		}
	}
	return sum
}

// DerivePaymentStatus is the single rule mapping active payments to a payment status.
func DerivePaymentStatus(total decimal.Decimal, payments []domain.Payment) string {
	paid := PaidAmount(payments)
	if paid.GreaterThanOrEqual(total) {
		return domain.PaymentStatusPaid
	}
	for _, p := range payments {
		if p.Status == domain.PaymentCredit {
			return domain.PaymentStatusCredit
		}
	}
	if paid.IsZero() {
		return domain.PaymentStatusUnpaid
	}
	return domain.PaymentStatusPartial
}

// Remaining is the total minus immediately settled payments, floored at zero.
func Remaining(o domain.Order) decimal.Decimal {
	return money.NonNegative(o.TotalAmount.Sub(PaidAmount(o.Payments)))
}

func AddPayment(o *domain.Order, p domain.Payment, now time.Time) error {
	if o.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: cannot pay order in status %s", domain.ErrInvalidState, o.Status)
	}
	if !p.IsActive() {
		return fmt.Errorf("%w: payment %s is not active", domain.ErrInvalidState, p.ID)
	}
	o.Payments = append(o.Payments, p)
	o.PaymentStatus = DerivePaymentStatus(o.TotalAmount, o.Payments)
	o.UpdatedAt = now
	return nil
}

// RemovePayment cancels an active payment in place and returns the cancelled record.
func RemovePayment(o *domain.Order, paymentID string, now time.Time) (domain.Payment, error) {
	if o.Status != domain.OrderStatusPending {
		return domain.Payment{}, fmt.Errorf("%w: cannot cancel payments of order in status %s", domain.ErrInvalidState, o.Status)
	}
	for i := range o.Payments {
		p := &o.Payments[i]
		if p.ID != paymentID {
			continue
		}
		if !p.IsActive() {
			return domain.Payment{}, fmt.Errorf("%w: payment %s already cancelled", domain.ErrInvalidState, paymentID)
		}
		p.Status = domain.PaymentCancelled
		at := now
		p.CancelledAt = &at
		o.PaymentStatus = DerivePaymentStatus(o.TotalAmount, o.Payments)
		o.UpdatedAt = now
		return *p, nil
	}
	return domain.Payment{}, fmt.Errorf("%w: payment %s on order %s", domain.ErrNotFound, paymentID, o.ID)
}

// CanComplete reports why a PENDING order may not be completed yet.
func CanComplete(o domain.Order) error {
	if o.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, o.ID, o.Status)
	}
	if o.PaymentStatus != domain.PaymentStatusPaid && o.PaymentStatus != domain.PaymentStatusCredit {
		return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, o.ID, o.PaymentStatus)
	}
	return nil
}

func MarkCompleted(o *domain.Order, receiptNumber string, now time.Time) error {
	if err := CanComplete(*o); err != nil {
		return err
	}
	o.Status = domain.OrderStatusCompleted
	o.ReceiptNumber = receiptNumber
	at := now
	o.CompletedAt = &at
	o.UpdatedAt = now
	return nil
}

// Cancel moves a PENDING order to CANCELLED, cancelling its active payments.
// The cancelled payments are returned so their drawer effects can be reversed.
func Cancel(o *domain.Order, reason string, now time.Time) ([]domain.Payment, error) {
	if o.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, o.ID, o.Status)
	}
	var cancelled []domain.Payment
	for i := range o.Payments {
		p := &o.Payments[i]
		if !p.IsActive() {
			continue
		}
		p.Status = domain.PaymentCancelled
		at := now
		p.CancelledAt = &at
		cancelled = append(cancelled, *p)
	}
	o.Status = domain.OrderStatusCancelled
	o.CancelReason = strings.TrimSpace(reason)
	o.PaymentStatus = DerivePaymentStatus(o.TotalAmount, o.Payments)
	at := now
	o.CancelledAt = &at
	o.UpdatedAt = now
	return cancelled, nil
}

// MarkRefunded flags a completed order whose every unit has been refunded.
func MarkRefunded(o *domain.Order, now time.Time) error {
	if o.Status != domain.OrderStatusCompleted {
		return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, o.ID, o.Status)
	}
	o.Status = domain.OrderStatusRefunded
	o.UpdatedAt = now
	return nil
}

// Verify re-derives totals and payment status without mutating o and reports drift.
func Verify(o domain.Order) []string {
	var drift []string
	subtotal := itemsSubtotal(o.Items)
	if !subtotal.Equal(o.Subtotal) {
		drift = append(drift, fmt.Sprintf("subtotal stored=%s derived=%s", o.Subtotal, subtotal))
	}
	total := o.Subtotal.Add(o.TaxAmount).Sub(o.GlobalDiscountAmount)
	if !total.Equal(o.TotalAmount) {
		drift = append(drift, fmt.Sprintf("total stored=%s derived=%s", o.TotalAmount, total))
	}
	if o.TotalAmount.IsNegative() || o.Subtotal.IsNegative() || o.TaxAmount.IsNegative() || o.GlobalDiscountAmount.IsNegative() {
		drift = append(drift, "negative monetary field")
	}
	status := DerivePaymentStatus(o.TotalAmount, o.Payments)
	if status != o.PaymentStatus {
		drift = append(drift, fmt.Sprintf("payment status stored=%s derived=%s", o.PaymentStatus, status))
	}
	return drift
}

// OrderedQuantities sums ordered units per product.
func OrderedQuantities(o domain.Order) map[string]int {
	out := make(map[string]int, len(o.Items))
	for _, item := range o.Items {
		out[item.ProductID] += item.Quantity
	}
	return out
}
