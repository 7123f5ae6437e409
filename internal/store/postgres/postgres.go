package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// Atomic runs fn inside one SERIALIZABLE transaction.
func (s *Store) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return mapConflict(err)
	}
	return mapConflict(sqlTx.Commit())
}

type pgTx struct {
	tx *sql.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

const orderColumns = `id, number, store_id, register_id, cashier_id, customer_id, status, payment_status,
	subtotal, tax_rate, tax_amount, global_discount_percentage, global_discount_amount,
	loyalty_discount_amount, total_amount, receipt_number, cancel_reason,
	created_at, updated_at, completed_at, cancelled_at`

func (t *pgTx) CreateOrder(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" || len(order.Items) == 0 {
		return store.ErrInvalidTransaction
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, order.ID, order.Number, order.StoreID, order.RegisterID, order.CashierID, order.CustomerID,
		order.Status, order.PaymentStatus, order.Subtotal, order.TaxRate, order.TaxAmount,
		order.GlobalDiscountPercentage, order.GlobalDiscountAmount, order.LoyaltyDiscountAmount,
		order.TotalAmount, order.ReceiptNumber, order.CancelReason, order.CreatedAt, order.UpdatedAt,
		nullTime(order.CompletedAt), nullTime(order.CancelledAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}

	for i, item := range order.Items {
		if item.ID == "" {
			item.ID = xid.New("itm")
		}
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, position, product_id, quantity, unit_price,
				discount_percentage, discount_amount, final_price
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, item.ID, order.ID, i, item.ProductID, item.Quantity, item.UnitPrice,
			item.DiscountPercentage, item.DiscountAmount, item.FinalPrice)
		if err != nil {
			return err
		}
	}
	return t.upsertPayments(ctx, order)
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return t.loadOrder(ctx, id, "")
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return t.loadOrder(ctx, id, "FOR UPDATE")
}

func (t *pgTx) loadOrder(ctx context.Context, id string, lock string) (*domain.Order, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 `+lock, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	itemRows, err := t.tx.QueryContext(ctx, `
		SELECT id, product_id, quantity, unit_price, discount_percentage, discount_amount, final_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, err
	}
	for itemRows.Next() {
		var item domain.OrderItem
		if err := itemRows.Scan(&item.ID, &item.ProductID, &item.Quantity, &item.UnitPrice,
			&item.DiscountPercentage, &item.DiscountAmount, &item.FinalPrice); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	payments, err := t.queryPayments(ctx, `WHERE order_id = $1 ORDER BY position ASC`, id)
	if err != nil {
		return nil, err
	}
	order.Payments = payments
	return &order, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var completedAt, cancelledAt sql.NullTime
	err := row.Scan(&o.ID, &o.Number, &o.StoreID, &o.RegisterID, &o.CashierID, &o.CustomerID,
		&o.Status, &o.PaymentStatus, &o.Subtotal, &o.TaxRate, &o.TaxAmount,
		&o.GlobalDiscountPercentage, &o.GlobalDiscountAmount, &o.LoyaltyDiscountAmount,
		&o.TotalAmount, &o.ReceiptNumber, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt,
		&completedAt, &cancelledAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	o.CompletedAt = timePtr(completedAt)
	o.CancelledAt = timePtr(cancelledAt)
	o.Items = []domain.OrderItem{}
	o.Payments = []domain.Payment{}
	return o, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, order domain.Order) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, payment_status = $3, subtotal = $4, tax_amount = $5,
			global_discount_amount = $6, total_amount = $7, receipt_number = $8,
			cancel_reason = $9, updated_at = $10, completed_at = $11, cancelled_at = $12
		WHERE id = $1
	`, order.ID, order.Status, order.PaymentStatus, order.Subtotal, order.TaxAmount,
		order.GlobalDiscountAmount, order.TotalAmount, order.ReceiptNumber, order.CancelReason,
		order.UpdatedAt, nullTime(order.CompletedAt), nullTime(order.CancelledAt))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return t.upsertPayments(ctx, order)
}

func (t *pgTx) upsertPayments(ctx context.Context, order domain.Order) error {
	for i, p := range order.Payments {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO payments (
				id, order_id, position, method, amount, status, cashier_id, shift_id,
				reference, created_at, cancelled_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (id)
			DO UPDATE SET status = EXCLUDED.status, cancelled_at = EXCLUDED.cancelled_at
		`, p.ID, order.ID, i, p.Method, p.Amount, p.Status, p.CashierID, nullIfEmpty(p.ShiftID),
			p.Reference, p.CreatedAt, nullTime(p.CancelledAt))
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) ListPaymentsByShift(ctx context.Context, shiftID string) ([]domain.Payment, error) {
	return t.queryPayments(ctx, `WHERE shift_id = $1 ORDER BY created_at ASC, id ASC`, shiftID)
}

func (t *pgTx) queryPayments(ctx context.Context, where string, args ...any) ([]domain.Payment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, order_id, method, amount, status, cashier_id, shift_id, reference, created_at, cancelled_at
		FROM payments `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 8)
	for rows.Next() {
		var p domain.Payment
		var shiftID sql.NullString
		var cancelledAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Method, &p.Amount, &p.Status, &p.CashierID,
			&shiftID, &p.Reference, &p.CreatedAt, &cancelledAt); err != nil {
			return nil, err
		}
		p.ShiftID = shiftID.String
		p.CreatedAt = p.CreatedAt.UTC()
		p.CancelledAt = timePtr(cancelledAt)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

const shiftColumns = `id, cashier_id, store_id, register_id, status, opening_balance,
	cash_sales, cash_count, card_sales, card_count, mobile_sales, mobile_count,
	other_sales, other_count, credit_sales, credit_count, total_sales, total_refunds,
	refund_count, net_sales, total_transactions, pay_ins, pay_outs, expected_balance,
	actual_balance, closing_balance, discrepancy, notes, opened_at, suspended_at, closed_at`

func shiftArgs(s domain.Shift) []any {
	return []any{s.ID, s.CashierID, s.StoreID, s.RegisterID, s.Status, s.OpeningBalance,
		s.CashSales, s.CashCount, s.CardSales, s.CardCount, s.MobileSales, s.MobileCount,
		s.OtherSales, s.OtherCount, s.CreditSales, s.CreditCount, s.TotalSales, s.TotalRefunds,
		s.RefundCount, s.NetSales, s.TotalTransactions, s.PayIns, s.PayOuts, s.ExpectedBalance,
		s.ActualBalance, s.ClosingBalance, s.Discrepancy, s.Notes, s.OpenedAt,
		nullTime(s.SuspendedAt), nullTime(s.ClosedAt)}
}

func scanShift(row rowScanner) (*domain.Shift, error) {
	var s domain.Shift
	var suspendedAt, closedAt sql.NullTime
	err := row.Scan(&s.ID, &s.CashierID, &s.StoreID, &s.RegisterID, &s.Status, &s.OpeningBalance,
		&s.CashSales, &s.CashCount, &s.CardSales, &s.CardCount, &s.MobileSales, &s.MobileCount,
		&s.OtherSales, &s.OtherCount, &s.CreditSales, &s.CreditCount, &s.TotalSales, &s.TotalRefunds,
		&s.RefundCount, &s.NetSales, &s.TotalTransactions, &s.PayIns, &s.PayOuts, &s.ExpectedBalance,
		&s.ActualBalance, &s.ClosingBalance, &s.Discrepancy, &s.Notes, &s.OpenedAt,
		&suspendedAt, &closedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	s.OpenedAt = s.OpenedAt.UTC()
	s.SuspendedAt = timePtr(suspendedAt)
	s.ClosedAt = timePtr(closedAt)
	return &s, nil
}

func (t *pgTx) CreateShift(ctx context.Context, shift domain.Shift) error {
	if strings.TrimSpace(shift.ID) == "" || strings.TrimSpace(shift.CashierID) == "" || strings.TrimSpace(shift.RegisterID) == "" {
		return store.ErrInvalidTransaction
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO shifts (`+shiftColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)
	`, shiftArgs(shift)...)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateShift
		}
		return err
	}
	return nil
}

func (t *pgTx) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	return scanShift(t.tx.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, id))
}

func (t *pgTx) GetShiftForUpdate(ctx context.Context, id string) (*domain.Shift, error) {
	return scanShift(t.tx.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateShift(ctx context.Context, shift domain.Shift) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE shifts
		SET status = $5, opening_balance = $6,
			cash_sales = $7, cash_count = $8, card_sales = $9, card_count = $10,
			mobile_sales = $11, mobile_count = $12, other_sales = $13, other_count = $14,
			credit_sales = $15, credit_count = $16, total_sales = $17, total_refunds = $18,
			refund_count = $19, net_sales = $20, total_transactions = $21, pay_ins = $22,
			pay_outs = $23, expected_balance = $24, actual_balance = $25, closing_balance = $26,
			discrepancy = $27, notes = $28, opened_at = $29, suspended_at = $30, closed_at = $31
		WHERE id = $1 AND cashier_id = $2 AND store_id = $3 AND register_id = $4
	`, shiftArgs(shift)...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) FindActiveShiftByCashier(ctx context.Context, cashierID string) (*domain.Shift, error) {
	return scanShift(t.tx.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE cashier_id = $1 AND status IN ('OPEN', 'SUSPENDED')
		ORDER BY opened_at DESC
		LIMIT 1
	`, cashierID))
}

func (t *pgTx) FindActiveShiftByRegister(ctx context.Context, storeID string, registerID string) (*domain.Shift, error) {
	return scanShift(t.tx.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE store_id = $1 AND register_id = $2 AND status IN ('OPEN', 'SUSPENDED')
		ORDER BY opened_at DESC
		LIMIT 1
	`, storeID, registerID))
}

const refundColumns = `id, number, order_id, store_id, shift_id, refund_type, status, method, reason,
	total_refund_amount, requested_by, approved_by, processed_by, completed_by, rejected_by,
	cancelled_by, reject_reason, cancel_reason, created_at, approved_at, processed_at,
	completed_at, closed_at`

func (t *pgTx) CreateRefund(ctx context.Context, refund domain.Refund) error {
	if strings.TrimSpace(refund.ID) == "" || len(refund.Items) == 0 {
		return store.ErrInvalidTransaction
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO refunds (`+refundColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`, refund.ID, refund.Number, refund.OrderID, refund.StoreID, nullIfEmpty(refund.ShiftID),
		refund.Type, refund.Status, refund.Method, refund.Reason, refund.TotalRefundAmount,
		refund.RequestedBy, refund.ApprovedBy, refund.ProcessedBy, refund.CompletedBy,
		refund.RejectedBy, refund.CancelledBy, refund.RejectReason, refund.CancelReason,
		refund.CreatedAt, nullTime(refund.ApprovedAt), nullTime(refund.ProcessedAt),
		nullTime(refund.CompletedAt), nullTime(refund.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}

	for i, item := range refund.Items {
		if item.ID == "" {
			item.ID = xid.New("rfi")
		}
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO refund_items (
				id, refund_id, position, order_item_id, product_id, quantity,
				unit_price, restocking_fee, refund_amount, is_returned
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, item.ID, refund.ID, i, item.OrderItemID, item.ProductID, item.Quantity,
			item.UnitPrice, item.RestockingFee, item.RefundAmount, item.IsReturned)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) GetRefund(ctx context.Context, id string) (*domain.Refund, error) {
	return t.loadRefund(ctx, id, "")
}

func (t *pgTx) GetRefundForUpdate(ctx context.Context, id string) (*domain.Refund, error) {
	return t.loadRefund(ctx, id, "FOR UPDATE")
}

func (t *pgTx) loadRefund(ctx context.Context, id string, lock string) (*domain.Refund, error) {
	refunds, err := t.queryRefunds(ctx, `WHERE id = $1 `+lock, id)
	if err != nil {
		return nil, err
	}
	if len(refunds) == 0 {
		return nil, store.ErrNotFound
	}
	return &refunds[0], nil
}

func (t *pgTx) UpdateRefund(ctx context.Context, refund domain.Refund) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE refunds
		SET shift_id = $2, status = $3, approved_by = $4, processed_by = $5, completed_by = $6,
			rejected_by = $7, cancelled_by = $8, reject_reason = $9, cancel_reason = $10,
			approved_at = $11, processed_at = $12, completed_at = $13, closed_at = $14
		WHERE id = $1
	`, refund.ID, nullIfEmpty(refund.ShiftID), refund.Status, refund.ApprovedBy, refund.ProcessedBy,
		refund.CompletedBy, refund.RejectedBy, refund.CancelledBy, refund.RejectReason,
		refund.CancelReason, nullTime(refund.ApprovedAt), nullTime(refund.ProcessedAt),
		nullTime(refund.CompletedAt), nullTime(refund.ClosedAt))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) ListRefundsByOrder(ctx context.Context, orderID string) ([]domain.Refund, error) {
	return t.queryRefunds(ctx, `WHERE order_id = $1 ORDER BY created_at ASC, id ASC`, orderID)
}

func (t *pgTx) ListRefundsByShift(ctx context.Context, shiftID string) ([]domain.Refund, error) {
	return t.queryRefunds(ctx, `WHERE shift_id = $1 ORDER BY created_at ASC, id ASC`, shiftID)
}

func (t *pgTx) queryRefunds(ctx context.Context, where string, args ...any) ([]domain.Refund, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+refundColumns+` FROM refunds `+where, args...)
	if err != nil {
		return nil, err
	}
	refunds := make([]domain.Refund, 0, 4)
	for rows.Next() {
		var r domain.Refund
		var shiftID sql.NullString
		var approvedAt, processedAt, completedAt, closedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Number, &r.OrderID, &r.StoreID, &shiftID, &r.Type, &r.Status,
			&r.Method, &r.Reason, &r.TotalRefundAmount, &r.RequestedBy, &r.ApprovedBy,
			&r.ProcessedBy, &r.CompletedBy, &r.RejectedBy, &r.CancelledBy, &r.RejectReason,
			&r.CancelReason, &r.CreatedAt, &approvedAt, &processedAt, &completedAt, &closedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		r.ShiftID = shiftID.String
		r.CreatedAt = r.CreatedAt.UTC()
		r.ApprovedAt = timePtr(approvedAt)
		r.ProcessedAt = timePtr(processedAt)
		r.CompletedAt = timePtr(completedAt)
		r.ClosedAt = timePtr(closedAt)
		refunds = append(refunds, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range refunds {
		items, err := t.refundItems(ctx, refunds[i].ID)
		if err != nil {
			return nil, err
		}
		refunds[i].Items = items
	}
	return refunds, nil
}

func (t *pgTx) refundItems(ctx context.Context, refundID string) ([]domain.RefundItem, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, order_item_id, product_id, quantity, unit_price, restocking_fee, refund_amount, is_returned
		FROM refund_items
		WHERE refund_id = $1
		ORDER BY position ASC
	`, refundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.RefundItem, 0, 4)
	for rows.Next() {
		var item domain.RefundItem
		if err := rows.Scan(&item.ID, &item.OrderItemID, &item.ProductID, &item.Quantity,
			&item.UnitPrice, &item.RestockingFee, &item.RefundAmount, &item.IsReturned); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (t *pgTx) CreateLedgerEntry(ctx context.Context, entry domain.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = xid.New("txn")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			id, number, entry_type, amount, method, order_id, payment_id, refund_id,
			shift_id, cashier_id, store_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, entry.ID, entry.Number, entry.Type, entry.Amount, entry.Method, nullIfEmpty(entry.OrderID),
		nullIfEmpty(entry.PaymentID), nullIfEmpty(entry.RefundID), nullIfEmpty(entry.ShiftID),
		entry.CashierID, entry.StoreID, entry.CreatedAt)
	return err
}

func (t *pgTx) ListLedgerEntries(ctx context.Context, filter store.LedgerFilter) ([]domain.LedgerEntry, error) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)
	for _, f := range []struct {
		column string
		value  string
	}{
		{"shift_id", filter.ShiftID},
		{"order_id", filter.OrderID},
		{"refund_id", filter.RefundID},
	} {
		if f.value == "" {
			continue
		}
		args = append(args, f.value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", f.column, len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, number, entry_type, amount, method, order_id, payment_id, refund_id,
			shift_id, cashier_id, store_id, created_at
		FROM ledger_entries `+where+`
		ORDER BY created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 16)
	for rows.Next() {
		var e domain.LedgerEntry
		var orderID, paymentID, refundID, shiftID sql.NullString
		if err := rows.Scan(&e.ID, &e.Number, &e.Type, &e.Amount, &e.Method, &orderID, &paymentID,
			&refundID, &shiftID, &e.CashierID, &e.StoreID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OrderID = orderID.String
		e.PaymentID = paymentID.String
		e.RefundID = refundID.String
		e.ShiftID = shiftID.String
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *pgTx) CreateCashMovement(ctx context.Context, movement domain.CashMovement) error {
	if strings.TrimSpace(movement.ShiftID) == "" {
		return store.ErrInvalidTransaction
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cash_movements (id, shift_id, kind, amount, reason, actor_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, movement.ID, movement.ShiftID, movement.Kind, movement.Amount, movement.Reason, movement.ActorID, movement.CreatedAt)
	return err
}

func (t *pgTx) ListCashMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, shift_id, kind, amount, reason, actor_id, created_at
		FROM cash_movements
		WHERE shift_id = $1
		ORDER BY created_at ASC, id ASC
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, 8)
	for rows.Next() {
		var m domain.CashMovement
		if err := rows.Scan(&m.ID, &m.ShiftID, &m.Kind, &m.Amount, &m.Reason, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (t *pgTx) IncreaseQuantity(ctx context.Context, productID string, storeID string, qty int) error {
	if qty <= 0 || productID == "" {
		return store.ErrInvalidTransaction
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_stocks (store_id, product_id, qty, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (store_id, product_id)
		DO UPDATE SET qty = inventory_stocks.qty + EXCLUDED.qty, updated_at = now()
	`, storeID, productID, qty)
	return err
}

func (t *pgTx) DecreaseQuantity(ctx context.Context, productID string, storeID string, qty int) error {
	if qty <= 0 || productID == "" {
		return store.ErrInvalidTransaction
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_stocks
		SET qty = qty - $3, updated_at = now()
		WHERE store_id = $1 AND product_id = $2 AND qty >= $3
	`, storeID, productID, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrInsufficientStock
	}
	return nil
}

func (t *pgTx) StockLevel(ctx context.Context, productID string, storeID string) (int, error) {
	var qty int
	err := t.tx.QueryRowContext(ctx, `
		SELECT qty FROM inventory_stocks WHERE store_id = $1 AND product_id = $2
	`, storeID, productID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return qty, err
}

func (t *pgTx) SetStock(ctx context.Context, productID string, storeID string, qty int) error {
	if qty < 0 || productID == "" {
		return store.ErrInvalidTransaction
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_stocks (store_id, product_id, qty, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (store_id, product_id)
		DO UPDATE SET qty = EXCLUDED.qty, updated_at = now()
	`, storeID, productID, qty)
	return err
}

func (t *pgTx) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorID, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// mapConflict marks serialization failures and deadlocks as retryable.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	at := val.Time.UTC()
	return &at
}
