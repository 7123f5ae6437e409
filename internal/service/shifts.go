package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirledger/backend/internal/cache"
	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/money"
	"kasirledger/backend/internal/shift"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

func shiftLockKey(shiftID string) string {
	return "shift:" + shiftID
}

// OpenShift starts a cash session for the calling cashier. The cashier and
// register locks close the check-then-insert window; the store's uniqueness
// constraint catches anything that slips past them.
func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.Shift, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Shift{}, err
	}
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.RegisterID = strings.TrimSpace(req.RegisterID)
	if req.RegisterID == "" {
		return domain.Shift{}, fmt.Errorf("%w: register_id is required", domain.ErrValidation)
	}

	keys := []string{
		"shift:cashier:" + actor.Username,
		"shift:register:" + req.StoreID + ":" + req.RegisterID,
	}
	var opened domain.Shift
	err = s.withLocks(ctx, keys, func() error {
		return s.repo.Atomic(ctx, func(tx store.Tx) error {
			byCashier, err := tx.FindActiveShiftByCashier(ctx, actor.Username)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			byRegister, err := tx.FindActiveShiftByRegister(ctx, req.StoreID, req.RegisterID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}

			sh, err := shift.Open(shift.OpenParams{
				ID:             xid.New("shf"),
				CashierID:      actor.Username,
				StoreID:        req.StoreID,
				RegisterID:     req.RegisterID,
				OpeningBalance: req.OpeningBalance,
				Now:            s.now(),
			}, byCashier, byRegister)
			if err != nil {
				return err
			}
			if err := tx.CreateShift(ctx, sh); err != nil {
				return err
			}
			opened = sh
			return s.logAudit(ctx, tx, sh.StoreID, "shift_open", "shift", sh.ID,
				fmt.Sprintf("register=%s,opening_balance=%s", sh.RegisterID, sh.OpeningBalance))
		})
	})
	if err != nil {
		return domain.Shift{}, err
	}

	s.publish(ctx, []domain.Event{s.event(domain.EventShiftOpened, opened.StoreID, opened.ID, map[string]string{
		"cashier_id":      opened.CashierID,
		"register_id":     opened.RegisterID,
		"opening_balance": opened.OpeningBalance.StringFixed(2),
	})})
	return opened, nil
}

func (s *Service) SuspendShift(ctx context.Context, shiftID string) (domain.Shift, error) {
	return s.mutateShift(ctx, shiftID, "shift_suspend", func(sh *domain.Shift) error {
		return shift.Suspend(sh, s.now())
	})
}

func (s *Service) ResumeShift(ctx context.Context, shiftID string) (domain.Shift, error) {
	return s.mutateShift(ctx, shiftID, "shift_resume", shift.Resume)
}

func (s *Service) mutateShift(ctx context.Context, shiftID string, action string, fn func(*domain.Shift) error) (domain.Shift, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Shift{}, err
	}

	var out domain.Shift
	err = s.withLocks(ctx, []string{shiftLockKey(shiftID)}, func() error {
		return s.repo.Atomic(ctx, func(tx store.Tx) error {
			sh, err := tx.GetShiftForUpdate(ctx, shiftID)
			if err != nil {
				return err
			}
			if err := requireShiftOwner(actor, *sh); err != nil {
				return err
			}
			if err := fn(sh); err != nil {
				return err
			}
			if err := tx.UpdateShift(ctx, *sh); err != nil {
				return err
			}
			out = *sh
			return s.logAudit(ctx, tx, sh.StoreID, action, "shift", sh.ID, "status="+sh.Status)
		})
	})
	if err != nil {
		return domain.Shift{}, err
	}
	return out, nil
}

// CloseShift recomputes the shift's totals from its payments, freezes the
// balances and reports the discrepancy against the counted cash.
func (s *Service) CloseShift(ctx context.Context, shiftID string, req domain.ShiftCloseRequest) (domain.Shift, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Shift{}, err
	}

	var out domain.Shift
	err = s.withLocks(ctx, []string{shiftLockKey(shiftID)}, func() error {
		return s.repo.Atomic(ctx, func(tx store.Tx) error {
			sh, err := tx.GetShiftForUpdate(ctx, shiftID)
			if err != nil {
				return err
			}
			if err := requireShiftOwner(actor, *sh); err != nil {
				return err
			}
			payments, err := tx.ListPaymentsByShift(ctx, sh.ID)
			if err != nil {
				return err
			}
			running, err := shift.Close(sh, shift.CloseParams{
				ActualBalance: req.ActualBalance,
				Notes:         req.Notes,
				Payments:      payments,
				Now:           s.now(),
			})
			if err != nil {
				return err
			}
			if !running.Equal(sh.TotalSales) {
				s.logger.Error("internal consistency warning",
					zap.String("entity", "shift"),
					zap.String("id", sh.ID),
					zap.String("running_total_sales", running.StringFixed(2)),
					zap.String("recomputed_total_sales", sh.TotalSales.StringFixed(2)))
			}
			if err := tx.UpdateShift(ctx, *sh); err != nil {
				return err
			}
			out = *sh
			return s.logAudit(ctx, tx, sh.StoreID, "shift_close", "shift", sh.ID,
				fmt.Sprintf("expected=%s,closing=%s,discrepancy=%s", sh.ExpectedBalance, sh.ClosingBalance, sh.Discrepancy))
		})
	})
	if err != nil {
		return domain.Shift{}, err
	}

	s.publish(ctx, []domain.Event{s.event(domain.EventShiftClosed, out.StoreID, out.ID, map[string]string{
		"expected_balance": out.ExpectedBalance.StringFixed(2),
		"closing_balance":  out.ClosingBalance.StringFixed(2),
		"discrepancy":      out.Discrepancy.StringFixed(2),
	})})
	return out, nil
}

// GetActiveShift looks up the active shift of a register when registerID is
// given, otherwise the calling cashier's.
func (s *Service) GetActiveShift(ctx context.Context, storeID string, registerID string) (domain.Shift, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	registerID = strings.TrimSpace(registerID)
	var cashierID string
	if registerID == "" {
		actor, err := requireActor(ctx)
		if err != nil {
			return domain.Shift{}, err
		}
		cashierID = actor.Username
	}

	var out domain.Shift
	err := s.repo.Atomic(ctx, func(tx store.Tx) error {
		var sh *domain.Shift
		var err error
		if registerID != "" {
			sh, err = tx.FindActiveShiftByRegister(ctx, storeID, registerID)
		} else {
			sh, err = tx.FindActiveShiftByCashier(ctx, cashierID)
		}
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrNoOpenShift
		}
		if err != nil {
			return err
		}
		out = *sh
		return nil
	})
	if err != nil {
		return domain.Shift{}, err
	}
	s.reportDrift("shift", out.ID, shift.Verify(out))
	return out, nil
}

func (s *Service) GetShift(ctx context.Context, shiftID string) (domain.Shift, error) {
	var out domain.Shift
	err := s.repo.Atomic(ctx, func(tx store.Tx) error {
		sh, err := tx.GetShift(ctx, shiftID)
		if err != nil {
			return err
		}
		out = *sh
		return nil
	})
	if err != nil {
		return domain.Shift{}, err
	}
	s.reportDrift("shift", out.ID, shift.Verify(out))
	return out, nil
}

// ShiftSummary breaks a shift down by payment method and computes the cash
// the drawer should hold. Summaries of closed shifts are cached.
func (s *Service) ShiftSummary(ctx context.Context, shiftID string) (domain.ShiftSummary, error) {
	key := cache.SummaryKey(shiftID)
	if cached, ok, err := s.summaries.Get(ctx, key); err != nil {
		s.logger.Warn("shift summary cache read failed", zap.String("shift_id", shiftID), zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	var out domain.ShiftSummary
	err := s.repo.Atomic(ctx, func(tx store.Tx) error {
		sh, err := tx.GetShift(ctx, shiftID)
		if err != nil {
			return err
		}
		payments, err := tx.ListPaymentsByShift(ctx, shiftID)
		if err != nil {
			return err
		}
		refunds, err := tx.ListRefundsByShift(ctx, shiftID)
		if err != nil {
			return err
		}
		movements, err := tx.ListCashMovements(ctx, shiftID)
		if err != nil {
			return err
		}
		out = buildSummary(*sh, payments, refunds, movements)
		return nil
	})
	if err != nil {
		return domain.ShiftSummary{}, err
	}

	if out.Shift.Status == domain.ShiftStatusClosed {
		if err := s.summaries.Set(ctx, key, &out, s.summaryTTL); err != nil {
			s.logger.Warn("shift summary cache write failed", zap.String("shift_id", shiftID), zap.Error(err))
		}
	}
	return out, nil
}

func buildSummary(sh domain.Shift, payments []domain.Payment, refunds []domain.Refund, movements []domain.CashMovement) domain.ShiftSummary {
	byMethod := make(map[string]domain.MethodTotal)
	for _, p := range payments {
		if !p.IsActive() {
			continue
		}
		total := byMethod[p.Method]
		total.Amount = total.Amount.Add(p.Amount)
		total.Count++
		byMethod[p.Method] = total
	}

	cashRefunds := decimal.Zero
	for _, r := range refunds {
		if r.Status == domain.RefundStatusCompleted && r.Method == domain.MethodCash {
			cashRefunds = cashRefunds.Add(r.TotalRefundAmount)
		}
	}

	if refunds == nil {
		refunds = []domain.Refund{}
	}
	if movements == nil {
		movements = []domain.CashMovement{}
	}
	return domain.ShiftSummary{
		Shift:                sh,
		ByMethod:             byMethod,
		CashRefunds:          cashRefunds,
		ExpectedCashInDrawer: shift.ExpectedCash(sh, cashRefunds),
		Movements:            movements,
		Refunds:              refunds,
	}
}

// RecordCashMovement books a pay-in or pay-out against an OPEN shift.
func (s *Service) RecordCashMovement(ctx context.Context, shiftID string, req domain.CashMovementRequest) (domain.CashMovement, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashMovement{}, err
	}
	req.Kind = strings.ToUpper(strings.TrimSpace(req.Kind))
	req.Reason = strings.TrimSpace(req.Reason)
	req.Amount = money.Round(req.Amount)
	if req.Reason == "" {
		return domain.CashMovement{}, fmt.Errorf("%w: reason is required", domain.ErrValidation)
	}

	var out domain.CashMovement
	err = s.withLocks(ctx, []string{shiftLockKey(shiftID)}, func() error {
		return s.repo.Atomic(ctx, func(tx store.Tx) error {
			sh, err := tx.GetShiftForUpdate(ctx, shiftID)
			if err != nil {
				return err
			}
			if err := requireShiftOwner(actor, *sh); err != nil {
				return err
			}
			if sh.Status == domain.ShiftStatusSuspended {
				return fmt.Errorf("%w: shift %s is suspended", domain.ErrInvalidState, sh.ID)
			}
			if err := shift.AddCashMovement(sh, req.Kind, req.Amount); err != nil {
				return err
			}
			if err := tx.UpdateShift(ctx, *sh); err != nil {
				return err
			}

			movement := domain.CashMovement{
				ID:        xid.New("mov"),
				ShiftID:   sh.ID,
				Kind:      req.Kind,
				Amount:    req.Amount,
				Reason:    req.Reason,
				ActorID:   actor.Username,
				CreatedAt: s.now(),
			}
			if err := tx.CreateCashMovement(ctx, movement); err != nil {
				return err
			}

			entry := domain.LedgerEntry{
				Type:      domain.LedgerPayIn,
				Amount:    movement.Amount,
				Method:    domain.MethodCash,
				ShiftID:   sh.ID,
				CashierID: actor.Username,
				StoreID:   sh.StoreID,
			}
			if movement.Kind == domain.CashMovementPayOut {
				entry.Type = domain.LedgerPayOut
				entry.Amount = movement.Amount.Neg()
			}
			if err := s.postLedger(ctx, tx, entry); err != nil {
				return err
			}
			out = movement
			return s.logAudit(ctx, tx, sh.StoreID, "cash_movement", "shift", sh.ID,
				fmt.Sprintf("kind=%s,amount=%s,reason=%s", movement.Kind, movement.Amount, movement.Reason))
		})
	})
	if err != nil {
		return domain.CashMovement{}, err
	}
	return out, nil
}

func requireShiftOwner(actor domain.Actor, sh domain.Shift) error {
	if actor.Username == sh.CashierID || isSupervisor(actor) {
		return nil
	}
	return fmt.Errorf("%w: shift %s belongs to another cashier", domain.ErrUnauthorized, sh.ID)
}
