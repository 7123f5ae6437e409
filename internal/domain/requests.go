package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type OrderCreateRequest struct {
	StoreID                  string             `json:"store_id"`
	RegisterID               string             `json:"register_id"`
	CustomerID               string             `json:"customer_id,omitempty"`
	Items                    []OrderItemRequest `json:"items"`
	TaxRate                  *decimal.Decimal   `json:"tax_rate,omitempty"`
	GlobalDiscountPercentage decimal.Decimal    `json:"global_discount_percentage"`
	GlobalDiscountAmount     decimal.Decimal    `json:"global_discount_amount"`
}

type OrderItemRequest struct {
	ProductID          string          `json:"product_id"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
}

type PaymentRequest struct {
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type ShiftOpenRequest struct {
	StoreID        string          `json:"store_id"`
	RegisterID     string          `json:"register_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type ShiftCloseRequest struct {
	ActualBalance *decimal.Decimal `json:"actual_balance,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

type CashMovementRequest struct {
	Kind   string          `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type RefundCreateRequest struct {
	OrderID string              `json:"order_id"`
	Items   []RefundItemRequest `json:"items,omitempty"`
	Reason  string              `json:"reason"`
	Method  string              `json:"method,omitempty"`
}

type RefundItemRequest struct {
	OrderItemID   string          `json:"order_item_id,omitempty"`
	ProductID     string          `json:"product_id,omitempty"`
	Quantity      int             `json:"quantity"`
	RestockingFee decimal.Decimal `json:"restocking_fee"`
	// IsReturned defaults to true when omitted.
	IsReturned *bool `json:"is_returned,omitempty"`
}

type ShiftSummary struct {
	Shift                Shift                  `json:"shift"`
	ByMethod             map[string]MethodTotal `json:"by_method"`
	CashRefunds          decimal.Decimal        `json:"cash_refunds"`
	ExpectedCashInDrawer decimal.Decimal        `json:"expected_cash_in_drawer"`
	Movements            []CashMovement         `json:"movements"`
	Refunds              []Refund               `json:"refunds"`
}

type MethodTotal struct {
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}
