// Package payment decides whether a payment request may be attached to an order.
//
// Handlers are an explicit ordered slice; Chain hands each request to the first
// handler that accepts its method.
package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/money"
	"kasirledger/backend/internal/order"
)

type Settings struct {
	OverpayFactor decimal.Decimal
	MinTolerance  decimal.Decimal
}

func DefaultSettings() Settings {
	return Settings{
		OverpayFactor: decimal.RequireFromString("1.5"),
		MinTolerance:  decimal.RequireFromString("1.00"),
	}
}

// Target bundles what a handler inspects: the order, the cashier's shift (nil
// when none is active) and the requesting actor.
type Target struct {
	Order domain.Order
	Shift *domain.Shift
	Actor domain.Actor
}

type Handler interface {
	Name() string
	Handles(method string) bool
	Validate(req domain.PaymentRequest, target Target) error
	// Status is the record status an accepted payment gets.
	Status() string
}

type Chain struct {
	handlers []Handler
}

func NewChain(handlers ...Handler) *Chain {
	return &Chain{handlers: handlers}
}

// DefaultChain wires cash, card, mobile money, credit and the generic handler, in that order.
func DefaultChain(settings Settings) *Chain {
	return NewChain(
		CashHandler{settings: settings},
		CardHandler{settings: settings},
		MobileMoneyHandler{settings: settings},
		CreditHandler{settings: settings},
		GenericHandler{settings: settings},
	)
}

func (c *Chain) Handlers() []Handler {
	out := make([]Handler, len(c.handlers))
	copy(out, c.handlers)
	return out
}

// Accept runs the request through the first matching handler and returns the
// payment to persist. ID and timestamps are left to the caller.
func (c *Chain) Accept(req domain.PaymentRequest, target Target) (domain.Payment, error) {
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	req.Reference = strings.TrimSpace(req.Reference)
	req.Amount = money.Round(req.Amount)

	for _, h := range c.handlers {
		if !h.Handles(req.Method) {
			continue
		}
		if err := h.Validate(req, target); err != nil {
			return domain.Payment{}, err
		}
		p := domain.Payment{
			OrderID:   target.Order.ID,
			Method:    req.Method,
			Amount:    req.Amount,
			Status:    h.Status(),
			CashierID: target.Actor.Username,
			Reference: req.Reference,
		}
		if target.Shift != nil && target.Shift.Status == domain.ShiftStatusOpen {
			p.ShiftID = target.Shift.ID
		}
		return p, nil
	}
	return domain.Payment{}, fmt.Errorf("%w: unsupported payment method %q", domain.ErrValidation, req.Method)
}

// checkCommon holds the rules every handler applies.
func checkCommon(settings Settings, req domain.PaymentRequest, o domain.Order) error {
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: payment amount must be positive", domain.ErrValidation)
	}
	if o.Status == domain.OrderStatusCancelled || o.Status == domain.OrderStatusCompleted || o.Status == domain.OrderStatusRefunded {
		return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, o.ID, o.Status)
	}
	limit := money.Max(money.Round(order.Remaining(o).Mul(settings.OverpayFactor)), settings.MinTolerance)
	if req.Amount.GreaterThan(limit) {
		return fmt.Errorf("%w: %s exceeds limit %s", domain.ErrAmountExceeded, req.Amount, limit)
	}
	return nil
}

func requireOpenShift(target Target) error {
	if target.Shift == nil {
		return fmt.Errorf("%w for cashier %s", domain.ErrNoOpenShift, target.Actor.Username)
	}
	if target.Shift.Status != domain.ShiftStatusOpen {
		return fmt.Errorf("%w: shift %s is %s", domain.ErrNoOpenShift, target.Shift.ID, target.Shift.Status)
	}
	return nil
}

func requireReference(req domain.PaymentRequest) error {
	if req.Reference == "" {
		return fmt.Errorf("%w: %s payment requires a reference", domain.ErrValidation, req.Method)
	}
	return nil
}
