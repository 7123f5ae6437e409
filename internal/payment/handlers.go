package payment

import (
	"fmt"

	"kasirledger/backend/internal/domain"
)

type CashHandler struct{ settings Settings }

func (CashHandler) Name() string               { return "cash" }
func (CashHandler) Handles(method string) bool { return method == domain.MethodCash }
func (CashHandler) Status() string             { return domain.PaymentPaid }

func (h CashHandler) Validate(req domain.PaymentRequest, target Target) error {
	if err := checkCommon(h.settings, req, target.Order); err != nil {
		return err
	}
	return requireOpenShift(target)
}

type CardHandler struct{ settings Settings }

func (CardHandler) Name() string               { return "card" }
func (CardHandler) Handles(method string) bool { return method == domain.MethodCreditCard }
func (CardHandler) Status() string             { return domain.PaymentPaid }

func (h CardHandler) Validate(req domain.PaymentRequest, target Target) error {
	if err := checkCommon(h.settings, req, target.Order); err != nil {
		return err
	}
	if err := requireOpenShift(target); err != nil {
		return err
	}
	return requireReference(req)
}

type MobileMoneyHandler struct{ settings Settings }

func (MobileMoneyHandler) Name() string               { return "mobile_money" }
func (MobileMoneyHandler) Handles(method string) bool { return method == domain.MethodMobileMoney }
func (MobileMoneyHandler) Status() string             { return domain.PaymentPaid }

func (h MobileMoneyHandler) Validate(req domain.PaymentRequest, target Target) error {
	if err := checkCommon(h.settings, req, target.Order); err != nil {
		return err
	}
	if err := requireOpenShift(target); err != nil {
		return err
	}
	return requireReference(req)
}

// CreditHandler accepts deferred payments. It needs manager capability but no shift.
type CreditHandler struct{ settings Settings }

func (CreditHandler) Name() string               { return "credit" }
func (CreditHandler) Handles(method string) bool { return method == domain.MethodCredit }
func (CreditHandler) Status() string             { return domain.PaymentCredit }

func (h CreditHandler) Validate(req domain.PaymentRequest, target Target) error {
	if err := checkCommon(h.settings, req, target.Order); err != nil {
		return err
	}
	if !target.Actor.CanGrantCredit() {
		return fmt.Errorf("%w: role %q cannot grant credit", domain.ErrUnauthorized, target.Actor.Role)
	}
	return nil
}

// GenericHandler covers bank transfer, check and loyalty points.
type GenericHandler struct{ settings Settings }

func (GenericHandler) Name() string   { return "generic" }
func (GenericHandler) Status() string { return domain.PaymentPaid }

func (GenericHandler) Handles(method string) bool {
	switch method {
	case domain.MethodBankTransfer, domain.MethodCheck, domain.MethodLoyaltyPoints:
		return true
	default:
		return false
	}
}

func (h GenericHandler) Validate(req domain.PaymentRequest, target Target) error {
	if err := checkCommon(h.settings, req, target.Order); err != nil {
		return err
	}
	return requireOpenShift(target)
}
