package store

import (
	"context"
	"fmt"
	"time"

	"kasirledger/backend/internal/domain"
)

var (
	ErrNotFound          = domain.ErrNotFound
	ErrInsufficientStock = domain.ErrInsufficientStock
	ErrDuplicateShift    = domain.ErrDuplicateShift
	ErrConflict          = domain.ErrConflict
	// ErrInvalidTransaction marks input the store itself refuses to persist.
	ErrInvalidTransaction = fmt.Errorf("%w: invalid record", domain.ErrValidation)
)

// Repository is the persistence boundary. Every state change happens inside
// Atomic: either all writes made through tx commit or none do.
type Repository interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type LedgerFilter struct {
	ShiftID  string
	OrderID  string
	RefundID string
}

type Tx interface {
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	// GetOrderForUpdate also locks the order row until the unit of work ends.
	GetOrderForUpdate(ctx context.Context, id string) (*domain.Order, error)
	// UpdateOrder persists the header, inserts new payments and updates
	// changed payment statuses. Items are immutable after creation.
	UpdateOrder(ctx context.Context, order domain.Order) error
	ListPaymentsByShift(ctx context.Context, shiftID string) ([]domain.Payment, error)

	CreateShift(ctx context.Context, shift domain.Shift) error
	GetShift(ctx context.Context, id string) (*domain.Shift, error)
	GetShiftForUpdate(ctx context.Context, id string) (*domain.Shift, error)
	UpdateShift(ctx context.Context, shift domain.Shift) error
	// FindActiveShiftByCashier returns the OPEN or SUSPENDED shift of a cashier.
	FindActiveShiftByCashier(ctx context.Context, cashierID string) (*domain.Shift, error)
	FindActiveShiftByRegister(ctx context.Context, storeID string, registerID string) (*domain.Shift, error)

	CreateRefund(ctx context.Context, refund domain.Refund) error
	GetRefund(ctx context.Context, id string) (*domain.Refund, error)
	GetRefundForUpdate(ctx context.Context, id string) (*domain.Refund, error)
	UpdateRefund(ctx context.Context, refund domain.Refund) error
	ListRefundsByOrder(ctx context.Context, orderID string) ([]domain.Refund, error)
	ListRefundsByShift(ctx context.Context, shiftID string) ([]domain.Refund, error)

	CreateLedgerEntry(ctx context.Context, entry domain.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, filter LedgerFilter) ([]domain.LedgerEntry, error)
	CreateCashMovement(ctx context.Context, movement domain.CashMovement) error
	ListCashMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error)

	// IncreaseQuantity and DecreaseQuantity are the inventory collaborator.
	// DecreaseQuantity fails with ErrInsufficientStock rather than clamping.
	IncreaseQuantity(ctx context.Context, productID string, storeID string, qty int) error
	DecreaseQuantity(ctx context.Context, productID string, storeID string, qty int) error
	StockLevel(ctx context.Context, productID string, storeID string) (int, error)
	SetStock(ctx context.Context, productID string, storeID string, qty int) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}
