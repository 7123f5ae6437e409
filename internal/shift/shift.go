// Package shift manages cash-drawer sessions and their running totals.
package shift

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/money"
)

type OpenParams struct {
	ID             string
	CashierID      string
	StoreID        string
	RegisterID     string
	OpeningBalance decimal.Decimal
	Now            time.Time
}

// IsActive reports whether the shift still blocks its cashier and register.
func IsActive(s domain.Shift) bool {
	return s.Status == domain.ShiftStatusOpen || s.Status == domain.ShiftStatusSuspended
}

// Open starts a shift. Any active shift in conflicts fails with ErrDuplicateShift.
func Open(p OpenParams, conflicts ...*domain.Shift) (domain.Shift, error) {
	if strings.TrimSpace(p.CashierID) == "" || strings.TrimSpace(p.RegisterID) == "" {
		return domain.Shift{}, fmt.Errorf("%w: cashier and register are required", domain.ErrValidation)
	}
	if p.OpeningBalance.IsNegative() {
		return domain.Shift{}, fmt.Errorf("%w: opening balance must not be negative", domain.ErrValidation)
	}
	for _, c := range conflicts {
		if c == nil || !IsActive(*c) {
			continue
		}
		if c.CashierID == p.CashierID {
			return domain.Shift{}, fmt.Errorf("%w: cashier %s already holds shift %s", domain.ErrDuplicateShift, p.CashierID, c.ID)
		}
		return domain.Shift{}, fmt.Errorf("%w: register %s already has shift %s", domain.ErrDuplicateShift, c.RegisterID, c.ID)
	}

	s := domain.Shift{
		ID:             p.ID,
		CashierID:      p.CashierID,
		StoreID:        p.StoreID,
		RegisterID:     p.RegisterID,
		Status:         domain.ShiftStatusOpen,
		OpeningBalance: money.Round(p.OpeningBalance),
		OpenedAt:       p.Now,
	}
	refresh(&s)
	return s, nil
}

func Suspend(s *domain.Shift, now time.Time) error {
	if s.Status != domain.ShiftStatusOpen {
		return stateError(s, "suspend")
	}
	s.Status = domain.ShiftStatusSuspended
	at := now
	s.SuspendedAt = &at
	return nil
}

func Resume(s *domain.Shift) error {
	if s.Status != domain.ShiftStatusSuspended {
		return stateError(s, "resume")
	}
	s.Status = domain.ShiftStatusOpen
	s.SuspendedAt = nil
	return nil
}

func AddSale(s *domain.Shift, amount decimal.Decimal, method string) error {
	if err := mutable(s); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: sale amount must be positive", domain.ErrValidation)
	}
	bucket(s, method, amount, 1)
	s.TotalSales = s.TotalSales.Add(amount)
	s.TotalTransactions++
	refresh(s)
	return nil
}

// ReverseSale undoes a previous AddSale for a cancelled payment.
func ReverseSale(s *domain.Shift, amount decimal.Decimal, method string) error {
	if err := mutable(s); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: reversal amount must be positive", domain.ErrValidation)
	}
	bucket(s, method, amount.Neg(), -1)
	s.TotalSales = s.TotalSales.Sub(amount)
	s.TotalTransactions--
	refresh(s)
	return nil
}

func AddRefund(s *domain.Shift, amount decimal.Decimal) error {
	if err := mutable(s); err != nil {
		return err
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: refund amount must not be negative", domain.ErrValidation)
	}
	s.TotalRefunds = s.TotalRefunds.Add(amount)
	s.RefundCount++
	refresh(s)
	return nil
}

func AddCashMovement(s *domain.Shift, kind string, amount decimal.Decimal) error {
	if err := mutable(s); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: cash movement amount must be positive", domain.ErrValidation)
	}
	switch kind {
	case domain.CashMovementPayIn:
		s.PayIns = s.PayIns.Add(amount)
	case domain.CashMovementPayOut:
		s.PayOuts = s.PayOuts.Add(amount)
	default:
		return fmt.Errorf("%w: unknown cash movement %q", domain.ErrValidation, kind)
	}
	return nil
}

type CloseParams struct {
	ActualBalance *decimal.Decimal
	Notes         string
	// Payments are the payments recorded against the shift; only active ones count.
	Payments []domain.Payment
	Now      time.Time
}

// Close recomputes totals from the shift's payments and freezes the balances.
// It returns the running TotalSales held before recomputation so callers can
// report drift.
func Close(s *domain.Shift, p CloseParams) (decimal.Decimal, error) {
	if s.Status == domain.ShiftStatusClosed {
		return decimal.Zero, fmt.Errorf("%w: shift %s", domain.ErrShiftClosed, s.ID)
	}
	if s.Status != domain.ShiftStatusOpen {
		return decimal.Zero, stateError(s, "close")
	}
	if p.ActualBalance != nil && p.ActualBalance.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: actual balance must not be negative", domain.ErrValidation)
	}

	running := s.TotalSales
	Recompute(s, p.Payments)

	closing := s.ExpectedBalance
	if p.ActualBalance != nil {
		closing = money.Round(*p.ActualBalance)
	}
	s.ActualBalance = closing
	s.ClosingBalance = closing
	s.Discrepancy = closing.Sub(s.ExpectedBalance)
	s.Notes = strings.TrimSpace(p.Notes)
	s.Status = domain.ShiftStatusClosed
	at := p.Now
	s.ClosedAt = &at
	return running, nil
}

// Recompute rebuilds the per-method buckets and sales totals from payments.
func Recompute(s *domain.Shift, payments []domain.Payment) {
	s.CashSales, s.CardSales, s.MobileSales, s.OtherSales, s.CreditSales = decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	s.CashCount, s.CardCount, s.MobileCount, s.OtherCount, s.CreditCount = 0, 0, 0, 0, 0
	s.TotalSales = decimal.Zero
	s.TotalTransactions = 0
	for _, p := range payments {
		if p.ShiftID != s.ID {
			continue
		}
		switch p.Status {
		case domain.PaymentPaid:
			bucket(s, p.Method, p.Amount, 1)
			s.TotalSales = s.TotalSales.Add(p.Amount)
			s.TotalTransactions++
		case domain.PaymentCredit:
			s.CreditSales = s.CreditSales.Add(p.Amount)
			s.CreditCount++
		}
	}
	refresh(s)
}

// ExpectedCash is the physical cash the drawer should hold.
func ExpectedCash(s domain.Shift, cashRefunds decimal.Decimal) decimal.Decimal {
	return s.OpeningBalance.Add(s.CashSales).Sub(cashRefunds).Add(s.PayIns).Sub(s.PayOuts)
}

func bucket(s *domain.Shift, method string, amount decimal.Decimal, count int) {
	switch method {
	case domain.MethodCash:
		s.CashSales = s.CashSales.Add(amount)
		s.CashCount += count
	case domain.MethodCreditCard:
		s.CardSales = s.CardSales.Add(amount)
		s.CardCount += count
	case domain.MethodMobileMoney:
		s.MobileSales = s.MobileSales.Add(amount)
		s.MobileCount += count
	case domain.MethodCredit:
		s.CreditSales = s.CreditSales.Add(amount)
		s.CreditCount += count
	default:
		s.OtherSales = s.OtherSales.Add(amount)
		s.OtherCount += count
	}
}

// refresh keeps the derived balances in step with the running totals.
func refresh(s *domain.Shift) {
	s.NetSales = s.TotalSales.Sub(s.TotalRefunds)
	s.ExpectedBalance = s.OpeningBalance.Add(s.TotalSales).Sub(s.TotalRefunds)
	if s.Status != domain.ShiftStatusClosed {
		s.ActualBalance = s.ExpectedBalance
		s.Discrepancy = decimal.Zero
	}
}

func mutable(s *domain.Shift) error {
	if s.Status == domain.ShiftStatusClosed {
		return fmt.Errorf("%w: shift %s", domain.ErrShiftClosed, s.ID)
	}
	return nil
}

func stateError(s *domain.Shift, op string) error {
	if s.Status == domain.ShiftStatusClosed {
		return fmt.Errorf("%w: cannot %s shift %s", domain.ErrShiftClosed, op, s.ID)
	}
	return fmt.Errorf("%w: cannot %s shift %s in status %s", domain.ErrInvalidState, op, s.ID, s.Status)
}

// Verify checks the balance identities of a shift and reports drift.
func Verify(s domain.Shift) []string {
	var drift []string
	expected := s.OpeningBalance.Add(s.TotalSales).Sub(s.TotalRefunds)
	if !expected.Equal(s.ExpectedBalance) {
		drift = append(drift, fmt.Sprintf("expected balance stored=%s derived=%s", s.ExpectedBalance, expected))
	}
	if !s.NetSales.Equal(s.TotalSales.Sub(s.TotalRefunds)) {
		drift = append(drift, fmt.Sprintf("net sales stored=%s derived=%s", s.NetSales, s.TotalSales.Sub(s.TotalRefunds)))
	}
	if !s.Discrepancy.Equal(s.ActualBalance.Sub(s.ExpectedBalance)) {
		drift = append(drift, "discrepancy does not match actual minus expected")
	}
	return drift
}
