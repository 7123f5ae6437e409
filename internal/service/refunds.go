package service

import (
	"context"
	"fmt"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/order"
	"kasirledger/backend/internal/refund"
	"kasirledger/backend/internal/shift"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

func refundLockKey(refundID string) string {
	return "refund:" + refundID
}

// CreateRefund requests a refund against a COMPLETED order. Quantities already
// claimed by refunds that are not rejected or cancelled are unavailable.
func (s *Service) CreateRefund(ctx context.Context, req domain.RefundCreateRequest) (domain.Refund, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Refund{}, err
	}

	var out domain.Refund
	err = s.withLocks(ctx, []string{orderLockKey(req.OrderID)}, func() error {
		return s.repo.Atomic(ctx, func(tx store.Tx) error {
			o, err := tx.GetOrderForUpdate(ctx, req.OrderID)
			if err != nil {
				return err
			}
			existing, err := tx.ListRefundsByOrder(ctx, o.ID)
			if err != nil {
				return err
			}
			number, err := s.numbers.RefundNumber(ctx)
			if err != nil {
				return err
			}
			r, err := refund.Build(refund.BuildParams{
				ID:          xid.New("rfd"),
				Number:      number,
				Order:       *o,
				Items:       req.Items,
				Reason:      req.Reason,
				Method:      req.Method,
				RequestedBy: actor.Username,
				Refunded:    refund.RefundedQuantities(existing),
				Now:         s.now(),
				NewItemID:   func() string { return xid.New("rfi") },
			})
			if err != nil {
				return err
			}
			if err := tx.CreateRefund(ctx, r); err != nil {
				return err
			}
			out = r
			return s.logAudit(ctx, tx, r.StoreID, "refund_create", "refund", r.ID,
				fmt.Sprintf("order=%s,type=%s,amount=%s", o.ID, r.Type, r.TotalRefundAmount))
		})
	})
	if err != nil {
		return domain.Refund{}, err
	}
	return out, nil
}

// ApproveRefund needs a manager. The approver's open shift, when there is
// one, becomes the shift the refund is paid out of.
func (s *Service) ApproveRefund(ctx context.Context, refundID string) (domain.Refund, error) {
	actor, err := requireSupervisor(ctx)
	if err != nil {
		return domain.Refund{}, err
	}
	return s.transitionRefund(ctx, refundID, "refund_approve", func(tx store.Tx, r *domain.Refund) error {
		sh, err := activeShift(ctx, tx, actor.Username)
		if err != nil {
			return err
		}
		shiftID := ""
		if sh != nil && sh.Status == domain.ShiftStatusOpen {
			shiftID = sh.ID
		}
		return refund.Approve(r, actor.Username, shiftID, s.now())
	})
}

func (s *Service) ProcessRefund(ctx context.Context, refundID string) (domain.Refund, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Refund{}, err
	}
	return s.transitionRefund(ctx, refundID, "refund_process", func(_ store.Tx, r *domain.Refund) error {
		return refund.Process(r, actor.Username, s.now())
	})
}

func (s *Service) RejectRefund(ctx context.Context, refundID string, reason string) (domain.Refund, error) {
	actor, err := requireSupervisor(ctx)
	if err != nil {
		return domain.Refund{}, err
	}
	return s.transitionRefund(ctx, refundID, "refund_reject", func(_ store.Tx, r *domain.Refund) error {
		return refund.Reject(r, actor.Username, reason, s.now())
	})
}

// CancelRefund may be called by the requester or a manager.
func (s *Service) CancelRefund(ctx context.Context, refundID string, reason string) (domain.Refund, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Refund{}, err
	}
	return s.transitionRefund(ctx, refundID, "refund_cancel", func(_ store.Tx, r *domain.Refund) error {
		if r.RequestedBy != actor.Username && !isSupervisor(actor) {
			return fmt.Errorf("%w: refund %s was requested by another cashier", domain.ErrUnauthorized, r.ID)
		}
		return refund.Cancel(r, actor.Username, reason, s.now())
	})
}

func (s *Service) transitionRefund(ctx context.Context, refundID string, action string, fn func(tx store.Tx, r *domain.Refund) error) (domain.Refund, error) {
	var out domain.Refund
	err := s.withLocks(ctx, []string{refundLockKey(refundID)}, func() error {
		return s.repo.Atomic(ctx, func(tx store.Tx) error {
			r, err := tx.GetRefundForUpdate(ctx, refundID)
			if err != nil {
				return err
			}
			if err := fn(tx, r); err != nil {
				return err
			}
			if err := tx.UpdateRefund(ctx, *r); err != nil {
				return err
			}
			out = *r
			return s.logAudit(ctx, tx, r.StoreID, action, "refund", r.ID, "status="+r.Status)
		})
	})
	if err != nil {
		return domain.Refund{}, err
	}
	return out, nil
}

// CompleteRefund pays a refund out of its shift, posts the ledger entry,
// restocks returned items and marks the order REFUNDED once every unit is
// back. A refund without a shift takes the completing cashier's open shift.
func (s *Service) CompleteRefund(ctx context.Context, refundID string) (domain.Refund, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Refund{}, err
	}

	var out domain.Refund
	var orderRefunded bool
	restocked := make(map[string]int)
	err = s.withLocks(ctx, []string{refundLockKey(refundID)}, func() error {
		return s.repo.Atomic(ctx, func(tx store.Tx) error {
			r, err := tx.GetRefundForUpdate(ctx, refundID)
			if err != nil {
				return err
			}
			o, err := tx.GetOrderForUpdate(ctx, r.OrderID)
			if err != nil {
				return err
			}
			if r.ShiftID == "" {
				sh, err := activeShift(ctx, tx, actor.Username)
				if err != nil {
					return err
				}
				if sh != nil && sh.Status == domain.ShiftStatusOpen {
					r.ShiftID = sh.ID
				}
			}

			now := s.now()
			if err := refund.Complete(r, actor.Username, now); err != nil {
				return err
			}
			sh, err := tx.GetShiftForUpdate(ctx, r.ShiftID)
			if err != nil {
				return err
			}
			if err := shift.AddRefund(sh, r.TotalRefundAmount); err != nil {
				return err
			}
			if err := tx.UpdateShift(ctx, *sh); err != nil {
				return err
			}
			if err := tx.UpdateRefund(ctx, *r); err != nil {
				return err
			}
			if err := s.postLedger(ctx, tx, domain.LedgerEntry{
				Type:      domain.LedgerRefund,
				Amount:    r.TotalRefundAmount.Neg(),
				Method:    r.Method,
				OrderID:   o.ID,
				RefundID:  r.ID,
				ShiftID:   sh.ID,
				CashierID: actor.Username,
				StoreID:   r.StoreID,
			}); err != nil {
				return err
			}

			for _, item := range r.Items {
				if item.IsReturned {
					restocked[item.ProductID] += item.Quantity
				}
			}
			for _, productID := range sortedKeys(restocked) {
				if err := tx.IncreaseQuantity(ctx, productID, r.StoreID, restocked[productID]); err != nil {
					return fmt.Errorf("restock %s: %w", productID, err)
				}
			}

			all, err := tx.ListRefundsByOrder(ctx, o.ID)
			if err != nil {
				return err
			}
			if o.Status == domain.OrderStatusCompleted && refund.FullyRefunded(*o, all) {
				if err := order.MarkRefunded(o, now); err != nil {
					return err
				}
				if err := tx.UpdateOrder(ctx, *o); err != nil {
					return err
				}
				orderRefunded = true
			}

			out = *r
			return s.logAudit(ctx, tx, r.StoreID, "refund_complete", "refund", r.ID,
				fmt.Sprintf("order=%s,shift=%s,amount=%s,method=%s", o.ID, sh.ID, r.TotalRefundAmount, r.Method))
		})
	})
	if err != nil {
		return domain.Refund{}, err
	}

	evts := []domain.Event{s.event(domain.EventRefundCompleted, out.StoreID, out.ID, map[string]string{
		"order_id":       out.OrderID,
		"shift_id":       out.ShiftID,
		"amount":         out.TotalRefundAmount.StringFixed(2),
		"method":         out.Method,
		"order_refunded": fmt.Sprintf("%t", orderRefunded),
	})}
	evts = append(evts, s.stockEvents(out.StoreID, out.ID, restocked, 1)...)
	s.publish(ctx, evts)
	return out, nil
}

func (s *Service) GetRefund(ctx context.Context, refundID string) (domain.Refund, error) {
	var out domain.Refund
	err := s.repo.Atomic(ctx, func(tx store.Tx) error {
		r, err := tx.GetRefund(ctx, refundID)
		if err != nil {
			return err
		}
		out = *r
		return nil
	})
	if err != nil {
		return domain.Refund{}, err
	}
	return out, nil
}
