package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/order"
	"kasirledger/backend/internal/payment"
	"kasirledger/backend/internal/shift"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

func orderLockKey(orderID string) string {
	return "order:" + orderID
}

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	for i := range req.Items {
		req.Items[i].ProductID = strings.ToUpper(strings.TrimSpace(req.Items[i].ProductID))
		if req.Items[i].ProductID == "" {
			return domain.Order{}, fmt.Errorf("%w: item %d has no product", domain.ErrValidation, i+1)
		}
	}

	now := s.now()
	params := order.Params{
		StoreID:                  req.StoreID,
		RegisterID:               strings.TrimSpace(req.RegisterID),
		CashierID:                actor.Username,
		CustomerID:               strings.TrimSpace(req.CustomerID),
		Items:                    req.Items,
		TaxRate:                  s.defaultTaxRate,
		GlobalDiscountPercentage: req.GlobalDiscountPercentage,
		GlobalDiscountAmount:     req.GlobalDiscountAmount,
		Now:                      now,
		NewItemID:                func() string { return xid.New("itm") },
	}
	if req.TaxRate != nil {
		params.TaxRate = *req.TaxRate
	}

	draft, err := order.New(params)
	if err != nil {
		return domain.Order{}, err
	}
	if params.CustomerID != "" {
		net := draft.Subtotal.Sub(draft.GlobalDiscountAmount)
		discount, err := s.loyalty.CalculateTierDiscount(ctx, params.CustomerID, net)
		if err != nil {
			return domain.Order{}, fmt.Errorf("loyalty discount: %w", err)
		}
		if discount.IsPositive() {
			params.LoyaltyDiscount = discount
			if draft, err = order.New(params); err != nil {
				return domain.Order{}, err
			}
		}
	}

	number, err := s.numbers.ReceiptNumber(ctx, req.StoreID, domain.DocumentOrder)
	if err != nil {
		return domain.Order{}, err
	}
	draft.ID = xid.New("ord")
	draft.Number = number

	quantities := order.OrderedQuantities(draft)
	products := sortedKeys(quantities)

	err = s.repo.Atomic(ctx, func(tx store.Tx) error {
		for _, productID := range products {
			if err := tx.DecreaseQuantity(ctx, productID, draft.StoreID, quantities[productID]); err != nil {
				return fmt.Errorf("product %s: %w", productID, err)
			}
		}
		if err := tx.CreateOrder(ctx, draft); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, draft.StoreID, "order_create", "order", draft.ID,
			fmt.Sprintf("number=%s,total=%s,items=%d", draft.Number, draft.TotalAmount, len(draft.Items)))
	})
	if err != nil {
		return domain.Order{}, err
	}

	evts := []domain.Event{s.event(domain.EventOrderCreated, draft.StoreID, draft.ID, map[string]string{
		"number": draft.Number,
		"total":  draft.TotalAmount.StringFixed(2),
	})}
	evts = append(evts, s.stockEvents(draft.StoreID, draft.ID, quantities, -1)...)
	s.publish(ctx, evts)

	return draft, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := s.repo.Atomic(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		out = *o
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.reportDrift("order", out.ID, order.Verify(out))
	return out, nil
}

// AttachPayment runs req through the handler chain and records the accepted
// payment on the order and, for settled payments, on the cashier's open shift.
func (s *Service) AttachPayment(ctx context.Context, orderID string, req domain.PaymentRequest) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	var out domain.Order
	var accepted domain.Payment
	err = s.withLocks(ctx, []string{orderLockKey(orderID)}, func() error {
		return s.repo.Atomic(ctx, func(tx store.Tx) error {
			o, err := tx.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			sh, err := activeShift(ctx, tx, actor.Username)
			if err != nil {
				return err
			}

			p, err := s.chain.Accept(req, payment.Target{Order: *o, Shift: sh, Actor: actor})
			if err != nil {
				return err
			}
			now := s.now()
			p.ID = xid.New("pay")
			p.CreatedAt = now
			if err := order.AddPayment(o, p, now); err != nil {
				return err
			}
			if err := tx.UpdateOrder(ctx, *o); err != nil {
				return err
			}

			if p.Status == domain.PaymentPaid {
				if err := shift.AddSale(sh, p.Amount, p.Method); err != nil {
					return err
				}
				if err := tx.UpdateShift(ctx, *sh); err != nil {
					return err
				}
				if err := s.postLedger(ctx, tx, domain.LedgerEntry{
					Type:      domain.LedgerSale,
					Amount:    p.Amount,
					Method:    p.Method,
					OrderID:   o.ID,
					PaymentID: p.ID,
					ShiftID:   sh.ID,
					CashierID: actor.Username,
					StoreID:   o.StoreID,
				}); err != nil {
					return err
				}
			}

			out = *o
			accepted = p
			return s.logAudit(ctx, tx, o.StoreID, "payment_attach", "order", o.ID,
				fmt.Sprintf("payment=%s,method=%s,amount=%s,status=%s", p.ID, p.Method, p.Amount, out.PaymentStatus))
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.publish(ctx, []domain.Event{s.event(domain.EventPaymentReceived, out.StoreID, accepted.ID, map[string]string{
		"order_id":       out.ID,
		"method":         accepted.Method,
		"amount":         accepted.Amount.StringFixed(2),
		"payment_status": out.PaymentStatus,
	})})
	return out, nil
}

// CancelPayment voids one active payment of a PENDING order and reverses its
// drawer effect.
func (s *Service) CancelPayment(ctx context.Context, orderID string, paymentID string, reason string) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	var out domain.Order
	var cancelled domain.Payment
	err = s.withLocks(ctx, []string{orderLockKey(orderID)}, func() error {
		return s.repo.Atomic(ctx, func(tx store.Tx) error {
			o, err := tx.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			now := s.now()
			p, err := order.RemovePayment(o, paymentID, now)
			if err != nil {
				return err
			}
			if err := s.reverseSettled(ctx, tx, *o, []domain.Payment{p}, actor); err != nil {
				return err
			}
			if err := tx.UpdateOrder(ctx, *o); err != nil {
				return err
			}
			out = *o
			cancelled = p
			return s.logAudit(ctx, tx, o.StoreID, "payment_cancel", "order", o.ID,
				fmt.Sprintf("payment=%s,amount=%s,reason=%s", p.ID, p.Amount, strings.TrimSpace(reason)))
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.publish(ctx, []domain.Event{s.paymentCancelledEvent(out, cancelled)})
	return out, nil
}

func (s *Service) CompleteOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Order{}, err
	}

	var out domain.Order
	err := s.withLocks(ctx, []string{orderLockKey(orderID)}, func() error {
		return s.repo.Atomic(ctx, func(tx store.Tx) error {
			o, err := tx.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if err := order.CanComplete(*o); err != nil {
				return err
			}
			docType := domain.DocumentReceipt
			if o.CustomerID != "" {
				docType = domain.DocumentInvoice
			}
			receipt, err := s.numbers.ReceiptNumber(ctx, o.StoreID, docType)
			if err != nil {
				return err
			}
			if err := order.MarkCompleted(o, receipt, s.now()); err != nil {
				return err
			}
			if err := tx.UpdateOrder(ctx, *o); err != nil {
				return err
			}
			out = *o
			return s.logAudit(ctx, tx, o.StoreID, "order_complete", "order", o.ID,
				fmt.Sprintf("receipt=%s,payment_status=%s", receipt, o.PaymentStatus))
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	evts := []domain.Event{s.event(domain.EventOrderCompleted, out.StoreID, out.ID, map[string]string{
		"receipt_number": out.ReceiptNumber,
		"payment_status": out.PaymentStatus,
	})}
	if out.CustomerID != "" {
		evts = append(evts, s.event(domain.EventPurchaseRecorded, out.StoreID, out.ID, map[string]string{
			"customer_id": out.CustomerID,
			"total":       out.TotalAmount.StringFixed(2),
		}))
	}
	s.publish(ctx, evts)
	return out, nil
}

// CancelOrder cancels a PENDING order, voids its active payments and puts
// the reserved stock back.
func (s *Service) CancelOrder(ctx context.Context, orderID string, reason string) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	var out domain.Order
	var voided []domain.Payment
	var quantities map[string]int
	err = s.withLocks(ctx, []string{orderLockKey(orderID)}, func() error {
		return s.repo.Atomic(ctx, func(tx store.Tx) error {
			o, err := tx.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			cancelled, err := order.Cancel(o, reason, s.now())
			if err != nil {
				return err
			}
			if err := s.reverseSettled(ctx, tx, *o, cancelled, actor); err != nil {
				return err
			}
			quantities = order.OrderedQuantities(*o)
			for _, productID := range sortedKeys(quantities) {
				if err := tx.IncreaseQuantity(ctx, productID, o.StoreID, quantities[productID]); err != nil {
					return fmt.Errorf("restock %s: %w", productID, err)
				}
			}
			if err := tx.UpdateOrder(ctx, *o); err != nil {
				return err
			}
			out = *o
			voided = cancelled
			return s.logAudit(ctx, tx, o.StoreID, "order_cancel", "order", o.ID,
				fmt.Sprintf("reason=%s,voided_payments=%d", o.CancelReason, len(cancelled)))
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	evts := []domain.Event{s.event(domain.EventOrderCancelled, out.StoreID, out.ID, map[string]string{
		"reason": out.CancelReason,
	})}
	for _, p := range voided {
		evts = append(evts, s.paymentCancelledEvent(out, p))
	}
	evts = append(evts, s.stockEvents(out.StoreID, out.ID, quantities, 1)...)
	s.publish(ctx, evts)
	return out, nil
}

// reverseSettled takes cancelled payments off the shifts they were booked on
// and posts a SALE_VOID entry for each. Credit payments never touched a
// running total and are skipped. A payment whose shift has closed is voided
// on the actor's open shift instead; the closed shift keeps its frozen totals
// and cash leaves the current drawer as a pay-out.
func (s *Service) reverseSettled(ctx context.Context, tx store.Tx, o domain.Order, cancelled []domain.Payment, actor domain.Actor) error {
	shifts := make(map[string]*domain.Shift)
	load := func(id string) (*domain.Shift, error) {
		if sh, ok := shifts[id]; ok {
			return sh, nil
		}
		sh, err := tx.GetShiftForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		shifts[id] = sh
		return sh, nil
	}

	for _, p := range cancelled {
		if p.Method == domain.MethodCredit || p.ShiftID == "" {
			continue
		}
		sh, err := load(p.ShiftID)
		if err != nil {
			return err
		}
		if sh.Status == domain.ShiftStatusClosed {
			if sh, err = s.voidFromClosedShift(ctx, tx, o, p, actor, load); err != nil {
				return err
			}
		} else if err := shift.ReverseSale(sh, p.Amount, p.Method); err != nil {
			return err
		}
		if err := s.postLedger(ctx, tx, domain.LedgerEntry{
			Type:      domain.LedgerSaleVoid,
			Amount:    p.Amount.Neg(),
			Method:    p.Method,
			OrderID:   o.ID,
			PaymentID: p.ID,
			ShiftID:   sh.ID,
			CashierID: actor.Username,
			StoreID:   o.StoreID,
		}); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(shifts) {
		if shifts[id].Status == domain.ShiftStatusClosed {
			continue
		}
		if err := tx.UpdateShift(ctx, *shifts[id]); err != nil {
			return err
		}
	}
	return nil
}

// voidFromClosedShift returns the actor's open shift the void is booked on.
func (s *Service) voidFromClosedShift(ctx context.Context, tx store.Tx, o domain.Order, p domain.Payment, actor domain.Actor, load func(string) (*domain.Shift, error)) (*domain.Shift, error) {
	active, err := activeShift(ctx, tx, actor.Username)
	if err != nil {
		return nil, err
	}
	if active == nil || active.Status != domain.ShiftStatusOpen {
		return nil, fmt.Errorf("%w: payment %s was settled on closed shift %s", domain.ErrNoOpenShift, p.ID, p.ShiftID)
	}
	current, err := load(active.ID)
	if err != nil {
		return nil, err
	}
	if p.Method != domain.MethodCash {
		return current, nil
	}
	if err := shift.AddCashMovement(current, domain.CashMovementPayOut, p.Amount); err != nil {
		return nil, err
	}
	err = tx.CreateCashMovement(ctx, domain.CashMovement{
		ID:        xid.New("mov"),
		ShiftID:   current.ID,
		Kind:      domain.CashMovementPayOut,
		Amount:    p.Amount,
		Reason:    fmt.Sprintf("void payment %s of order %s settled on closed shift %s", p.ID, o.ID, p.ShiftID),
		ActorID:   actor.Username,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}
	return current, nil
}

func (s *Service) paymentCancelledEvent(o domain.Order, p domain.Payment) domain.Event {
	return s.event(domain.EventPaymentCancelled, o.StoreID, p.ID, map[string]string{
		"order_id":       o.ID,
		"method":         p.Method,
		"amount":         p.Amount.StringFixed(2),
		"payment_status": o.PaymentStatus,
	})
}

func (s *Service) stockEvents(storeID string, sourceID string, quantities map[string]int, sign int) []domain.Event {
	out := make([]domain.Event, 0, len(quantities))
	for _, productID := range sortedKeys(quantities) {
		out = append(out, s.event(domain.EventStockAdjustment, storeID, productID, map[string]string{
			"source": sourceID,
			"delta":  strconv.Itoa(sign * quantities[productID]),
		}))
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
