// Package refund builds refunds against completed orders and drives their
// approval state machine.
package refund

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/money"
)

type BuildParams struct {
	ID          string
	Number      string
	Order       domain.Order
	Items       []domain.RefundItemRequest
	Reason      string
	Method      string
	RequestedBy string
	// Refunded holds units per order line already claimed by earlier refunds.
	Refunded  map[string]int
	Now       time.Time
	NewItemID func() string
}

// Build validates a refund request against the order and returns a PENDING refund.
// With no items it refunds every unit still refundable.
func Build(p BuildParams) (domain.Refund, error) {
	if p.Order.Status != domain.OrderStatusCompleted {
		return domain.Refund{}, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, p.Order.ID, p.Order.Status)
	}
	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		return domain.Refund{}, fmt.Errorf("%w: refund reason is required", domain.ErrValidation)
	}
	if strings.TrimSpace(p.RequestedBy) == "" {
		return domain.Refund{}, fmt.Errorf("%w: requesting actor is required", domain.ErrValidation)
	}

	remaining := make(map[string]int, len(p.Order.Items))
	for _, line := range p.Order.Items {
		remaining[line.ID] = line.Quantity - p.Refunded[line.ID]
	}

	var items []domain.RefundItem
	var err error
	if len(p.Items) == 0 {
		items, err = fullItems(p.Order, remaining)
	} else {
		items, err = requestedItems(p.Order, p.Items, remaining)
	}
	if err != nil {
		return domain.Refund{}, err
	}
	total := decimal.Zero
	for i := range items {
		if p.NewItemID != nil {
			items[i].ID = p.NewItemID()
		}
		total = total.Add(items[i].RefundAmount)
	}

	refundType := domain.RefundTypeFull
	for _, left := range remaining {
		if left > 0 {
			refundType = domain.RefundTypePartial
			break
		}
	}

	method := strings.ToUpper(strings.TrimSpace(p.Method))
	if method == "" {
		method = defaultMethod(p.Order)
	}
	if !domain.IsKnownPaymentMethod(method) {
		return domain.Refund{}, fmt.Errorf("%w: unsupported refund method %q", domain.ErrValidation, method)
	}

	return domain.Refund{
		ID:                p.ID,
		Number:            p.Number,
		OrderID:           p.Order.ID,
		StoreID:           p.Order.StoreID,
		Type:              refundType,
		Status:            domain.RefundStatusPending,
		Method:            method,
		Reason:            reason,
		Items:             items,
		TotalRefundAmount: total,
		RequestedBy:       p.RequestedBy,
		CreatedAt:         p.Now,
	}, nil
}

func fullItems(o domain.Order, remaining map[string]int) ([]domain.RefundItem, error) {
	var items []domain.RefundItem
	for _, line := range o.Items {
		qty := remaining[line.ID]
		if qty <= 0 {
			continue
		}
		items = append(items, takeLine(line, qty, remaining, decimal.Zero, true))
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order %s has nothing left to refund", domain.ErrOverRefund, o.ID)
	}
	return items, nil
}

// requestedItems validates each request against the remaining units of the
// lines it names. A request by product alone draws from that product's lines
// in order.
func requestedItems(o domain.Order, reqs []domain.RefundItemRequest, remaining map[string]int) ([]domain.RefundItem, error) {
	items := make([]domain.RefundItem, 0, len(reqs))
	for _, req := range reqs {
		lines := matchLines(o, req)
		if len(lines) == 0 {
			return nil, fmt.Errorf("%w: item %s%s not on order %s", domain.ErrNotFound, req.OrderItemID, req.ProductID, o.ID)
		}
		if req.Quantity <= 0 {
			return nil, fmt.Errorf("%w: refund quantity must be positive", domain.ErrValidation)
		}
		if req.RestockingFee.IsNegative() {
			return nil, fmt.Errorf("%w: restocking fee must not be negative", domain.ErrValidation)
		}
		available := 0
		for _, line := range lines {
			available += max(remaining[line.ID], 0)
		}
		if req.Quantity > available {
			return nil, fmt.Errorf("%w: item %s%s requested %d, refundable %d",
				domain.ErrOverRefund, req.OrderItemID, req.ProductID, req.Quantity, available)
		}

		returned := true
		if req.IsReturned != nil {
			returned = *req.IsReturned
		}
		fee := money.Round(req.RestockingFee)
		need := req.Quantity
		for _, line := range lines {
			qty := min(need, remaining[line.ID])
			if qty <= 0 {
				continue
			}
			item := takeLine(line, qty, remaining, fee, returned)
			if item.RefundAmount.IsNegative() {
				return nil, fmt.Errorf("%w: restocking fee exceeds refund amount", domain.ErrValidation)
			}
			items = append(items, item)
			fee = decimal.Zero
			need -= qty
			if need == 0 {
				break
			}
		}
	}
	return items, nil
}

// takeLine claims qty units of line and prices them.
func takeLine(line domain.OrderItem, qty int, remaining map[string]int, fee decimal.Decimal, returned bool) domain.RefundItem {
	claimed := line.Quantity - remaining[line.ID]
	remaining[line.ID] -= qty
	return domain.RefundItem{
		OrderItemID:   line.ID,
		ProductID:     line.ProductID,
		Quantity:      qty,
		UnitPrice:     line.UnitPrice,
		RestockingFee: fee,
		RefundAmount:  lineShare(line, claimed, qty).Sub(fee),
		IsReturned:    returned,
	}
}

// lineShare is the part of the line's final price covering units
// [from, from+qty). Shares of successive refunds add up to FinalPrice exactly.
func lineShare(line domain.OrderItem, from int, qty int) decimal.Decimal {
	if line.Quantity <= 0 {
		return decimal.Zero
	}
	units := decimal.NewFromInt(int64(line.Quantity))
	upTo := func(n int) decimal.Decimal {
		return money.Round(line.FinalPrice.Mul(decimal.NewFromInt(int64(n))).Div(units))
	}
	return upTo(from + qty).Sub(upTo(from))
}

func matchLines(o domain.Order, req domain.RefundItemRequest) []domain.OrderItem {
	var out []domain.OrderItem
	for _, line := range o.Items {
		switch {
		case req.OrderItemID != "":
			if line.ID == req.OrderItemID {
				return []domain.OrderItem{line}
			}
		case req.ProductID != "" && line.ProductID == req.ProductID:
			out = append(out, line)
		}
	}
	return out
}

func defaultMethod(o domain.Order) string {
	for _, p := range o.Payments {
		if p.Status == domain.PaymentPaid {
			return p.Method
		}
	}
	return domain.MethodCash
}

// RefundedQuantities sums units per order line across refunds that still count.
func RefundedQuantities(refunds []domain.Refund) map[string]int {
	out := make(map[string]int)
	for _, r := range refunds {
		if !domain.RefundCountsAgainstOrder(r.Status) {
			continue
		}
		for _, item := range r.Items {
			out[item.OrderItemID] += item.Quantity
		}
	}
	return out
}

// FullyRefunded reports whether completed refunds cover every ordered unit.
func FullyRefunded(o domain.Order, refunds []domain.Refund) bool {
	completed := make(map[string]int)
	for _, r := range refunds {
		if r.Status != domain.RefundStatusCompleted {
			continue
		}
		for _, item := range r.Items {
			completed[item.OrderItemID] += item.Quantity
		}
	}
	for _, line := range o.Items {
		if completed[line.ID] < line.Quantity {
			return false
		}
	}
	return true
}

func Approve(r *domain.Refund, actorID string, shiftID string, now time.Time) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	if r.Status != domain.RefundStatusPending {
		return transitionError(r, domain.RefundStatusApproved)
	}
	r.Status = domain.RefundStatusApproved
	r.ApprovedBy = actorID
	if shiftID != "" {
		r.ShiftID = shiftID
	}
	at := now
	r.ApprovedAt = &at
	return nil
}

func Process(r *domain.Refund, actorID string, now time.Time) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	if r.Status != domain.RefundStatusApproved {
		return transitionError(r, domain.RefundStatusProcessing)
	}
	r.Status = domain.RefundStatusProcessing
	r.ProcessedBy = actorID
	at := now
	r.ProcessedAt = &at
	return nil
}

// Complete finishes a refund from PROCESSING, or straight from PENDING or
// APPROVED for in-person refunds.
func Complete(r *domain.Refund, actorID string, now time.Time) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	switch r.Status {
	case domain.RefundStatusPending, domain.RefundStatusApproved, domain.RefundStatusProcessing:
	default:
		return transitionError(r, domain.RefundStatusCompleted)
	}
	if r.ShiftID == "" {
		return fmt.Errorf("%w: refund %s has no shift", domain.ErrNoOpenShift, r.ID)
	}
	r.Status = domain.RefundStatusCompleted
	r.CompletedBy = actorID
	at := now
	r.CompletedAt = &at
	r.ClosedAt = &at
	return nil
}

func Reject(r *domain.Refund, actorID string, reason string, now time.Time) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	if r.Status != domain.RefundStatusPending {
		return transitionError(r, domain.RefundStatusRejected)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: reject reason is required", domain.ErrValidation)
	}
	r.Status = domain.RefundStatusRejected
	r.RejectedBy = actorID
	r.RejectReason = reason
	at := now
	r.ClosedAt = &at
	return nil
}

func Cancel(r *domain.Refund, actorID string, reason string, now time.Time) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	switch r.Status {
	case domain.RefundStatusPending, domain.RefundStatusApproved, domain.RefundStatusProcessing:
	default:
		return transitionError(r, domain.RefundStatusCancelled)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: cancel reason is required", domain.ErrValidation)
	}
	r.Status = domain.RefundStatusCancelled
	r.CancelledBy = actorID
	r.CancelReason = reason
	at := now
	r.ClosedAt = &at
	return nil
}

func requireActor(actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return fmt.Errorf("%w: actor is required", domain.ErrValidation)
	}
	return nil
}

func transitionError(r *domain.Refund, to string) error {
	return fmt.Errorf("%w: refund %s cannot move from %s to %s", domain.ErrInvalidState, r.ID, r.Status, to)
}
