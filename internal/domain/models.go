package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	Username string
	Role     string
}

const (
	RoleCashier = "cashier"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// CanGrantCredit reports whether the actor may attach deferred (CREDIT) payments.
func (a Actor) CanGrantCredit() bool {
	return a.Role == RoleManager || a.Role == RoleAdmin
}

type Order struct {
	ID                       string          `json:"id"`
	Number                   string          `json:"number"`
	StoreID                  string          `json:"store_id"`
	RegisterID               string          `json:"register_id,omitempty"`
	CashierID                string          `json:"cashier_id"`
	CustomerID               string          `json:"customer_id,omitempty"`
	Status                   string          `json:"status"`
	PaymentStatus            string          `json:"payment_status"`
	Items                    []OrderItem     `json:"items"`
	Payments                 []Payment       `json:"payments"`
	Subtotal                 decimal.Decimal `json:"subtotal"`
	TaxRate                  decimal.Decimal `json:"tax_rate"`
	TaxAmount                decimal.Decimal `json:"tax_amount"`
	GlobalDiscountPercentage decimal.Decimal `json:"global_discount_percentage"`
	GlobalDiscountAmount     decimal.Decimal `json:"global_discount_amount"`
	LoyaltyDiscountAmount    decimal.Decimal `json:"loyalty_discount_amount"`
	TotalAmount              decimal.Decimal `json:"total_amount"`
	ReceiptNumber            string          `json:"receipt_number,omitempty"`
	CancelReason             string          `json:"cancel_reason,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
	CompletedAt              *time.Time      `json:"completed_at,omitempty"`
	CancelledAt              *time.Time      `json:"cancelled_at,omitempty"`
}

type OrderItem struct {
	ID                 string          `json:"id"`
	ProductID          string          `json:"product_id"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	FinalPrice         decimal.Decimal `json:"final_price"`
}

type Payment struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CashierID string          `json:"cashier_id"`
	ShiftID   string          `json:"shift_id,omitempty"`
	Reference string          `json:"reference,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	// CancelledAt is set when the payment was reversed.
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

type Shift struct {
	ID                string          `json:"id"`
	CashierID         string          `json:"cashier_id"`
	StoreID           string          `json:"store_id"`
	RegisterID        string          `json:"register_id"`
	Status            string          `json:"status"`
	OpeningBalance    decimal.Decimal `json:"opening_balance"`
	CashSales         decimal.Decimal `json:"cash_sales"`
	CashCount         int             `json:"cash_count"`
	CardSales         decimal.Decimal `json:"card_sales"`
	CardCount         int             `json:"card_count"`
	MobileSales       decimal.Decimal `json:"mobile_sales"`
	MobileCount       int             `json:"mobile_count"`
	OtherSales        decimal.Decimal `json:"other_sales"`
	OtherCount        int             `json:"other_count"`
	CreditSales       decimal.Decimal `json:"credit_sales"`
	CreditCount       int             `json:"credit_count"`
	TotalSales        decimal.Decimal `json:"total_sales"`
	TotalRefunds      decimal.Decimal `json:"total_refunds"`
	RefundCount       int             `json:"refund_count"`
	NetSales          decimal.Decimal `json:"net_sales"`
	TotalTransactions int             `json:"total_transactions"`
	PayIns            decimal.Decimal `json:"pay_ins"`
	PayOuts           decimal.Decimal `json:"pay_outs"`
	ExpectedBalance   decimal.Decimal `json:"expected_balance"`
	ActualBalance     decimal.Decimal `json:"actual_balance"`
	ClosingBalance    decimal.Decimal `json:"closing_balance"`
	Discrepancy       decimal.Decimal `json:"discrepancy"`
	Notes             string          `json:"notes,omitempty"`
	OpenedAt          time.Time       `json:"opened_at"`
	SuspendedAt       *time.Time      `json:"suspended_at,omitempty"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
}

type CashMovement struct {
	ID        string          `json:"id"`
	ShiftID   string          `json:"shift_id"`
	Kind      string          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	ActorID   string          `json:"actor_id"`
	CreatedAt time.Time       `json:"created_at"`
}

type Refund struct {
	ID                string          `json:"id"`
	Number            string          `json:"number"`
	OrderID           string          `json:"order_id"`
	StoreID           string          `json:"store_id"`
	ShiftID           string          `json:"shift_id,omitempty"`
	Type              string          `json:"type"`
	Status            string          `json:"status"`
	Method            string          `json:"method"`
	Reason            string          `json:"reason"`
	Items             []RefundItem    `json:"items"`
	TotalRefundAmount decimal.Decimal `json:"total_refund_amount"`
	RequestedBy       string          `json:"requested_by"`
	ApprovedBy        string          `json:"approved_by,omitempty"`
	ProcessedBy       string          `json:"processed_by,omitempty"`
	CompletedBy       string          `json:"completed_by,omitempty"`
	RejectedBy        string          `json:"rejected_by,omitempty"`
	CancelledBy       string          `json:"cancelled_by,omitempty"`
	RejectReason      string          `json:"reject_reason,omitempty"`
	CancelReason      string          `json:"cancel_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
}

type RefundItem struct {
	ID            string          `json:"id"`
	OrderItemID   string          `json:"order_item_id"`
	ProductID     string          `json:"product_id"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	RestockingFee decimal.Decimal `json:"restocking_fee"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	IsReturned    bool            `json:"is_returned"`
}

// LedgerEntry is an append-only record of a cash-affecting event.
type LedgerEntry struct {
	ID        string          `json:"id"`
	Number    string          `json:"number"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method,omitempty"`
	OrderID   string          `json:"order_id,omitempty"`
	PaymentID string          `json:"payment_id,omitempty"`
	RefundID  string          `json:"refund_id,omitempty"`
	ShiftID   string          `json:"shift_id,omitempty"`
	CashierID string          `json:"cashier_id"`
	StoreID   string          `json:"store_id"`
	CreatedAt time.Time       `json:"created_at"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	StoreID    string    `json:"store_id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	OrderStatusPending   = "PENDING"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRefunded  = "REFUNDED"
)

const (
	PaymentStatusUnpaid  = "UNPAID"
	PaymentStatusPartial = "PARTIAL"
	PaymentStatusPaid    = "PAID"
	PaymentStatusCredit  = "CREDIT"
)

const (
	MethodCash          = "CASH"
	MethodCreditCard    = "CREDIT_CARD"
	MethodMobileMoney   = "MOBILE_MONEY"
	MethodCredit        = "CREDIT"
	MethodBankTransfer  = "BANK_TRANSFER"
	MethodCheck         = "CHECK"
	MethodLoyaltyPoints = "LOYALTY_POINTS"
)

// Payment record statuses. PaymentPaid and PaymentCredit are "active".
const (
	PaymentPaid      = "PAID"
	PaymentCredit    = "CREDIT"
	PaymentCancelled = "CANCELLED"
)

const (
	ShiftStatusOpen      = "OPEN"
	ShiftStatusSuspended = "SUSPENDED"
	ShiftStatusClosed    = "CLOSED"
)

const (
	CashMovementPayIn  = "PAY_IN"
	CashMovementPayOut = "PAY_OUT"
)

const (
	RefundTypeFull    = "FULL"
	RefundTypePartial = "PARTIAL"
)

const (
	RefundStatusPending    = "PENDING"
	RefundStatusApproved   = "APPROVED"
	RefundStatusProcessing = "PROCESSING"
	RefundStatusCompleted  = "COMPLETED"
	RefundStatusRejected   = "REJECTED"
	RefundStatusCancelled  = "CANCELLED"
)

const (
	LedgerSale     = "SALE"
	LedgerSaleVoid = "SALE_VOID"
	LedgerRefund   = "REFUND"
	LedgerPayIn    = "PAY_IN"
	LedgerPayOut   = "PAY_OUT"
)

const (
	DocumentOrder    = "ORDER"
	DocumentReceipt  = "RECEIPT"
	DocumentInvoice  = "INVOICE"
	DocumentProforma = "PROFORMA"
)

func IsKnownPaymentMethod(method string) bool {
	switch method {
	case MethodCash, MethodCreditCard, MethodMobileMoney, MethodCredit,
		MethodBankTransfer, MethodCheck, MethodLoyaltyPoints:
		return true
	default:
		return false
	}
}

// IsActive reports whether the payment still counts towards its order.
func (p Payment) IsActive() bool {
	return p.Status == PaymentPaid || p.Status == PaymentCredit
}

// RefundCountsAgainstOrder reports whether a refund in this status consumes
// refundable quantity of the original order.
func RefundCountsAgainstOrder(status string) bool {
	switch status {
	case RefundStatusRejected, RefundStatusCancelled:
		return false
	default:
		return true
	}
}
