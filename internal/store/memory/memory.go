package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

// Store keeps all state in process. Atomic runs each unit of work against a
// copy of the state and swaps it in only when the unit succeeds.
type Store struct {
	mu              sync.RWMutex
	st              state
	usersByUsername map[string]domain.UserAccount
}

type state struct {
	orders           map[string]domain.Order
	shifts           map[string]domain.Shift
	activeByCashier  map[string]string
	activeByRegister map[string]string
	refunds          map[string]domain.Refund
	ledger           []domain.LedgerEntry
	movements        []domain.CashMovement
	inventory        map[string]map[string]int
	auditLogs        []domain.AuditLog
}

func New() *Store {
	return &Store{
		st: state{
			orders:           make(map[string]domain.Order),
			shifts:           make(map[string]domain.Shift),
			activeByCashier:  make(map[string]string),
			activeByRegister: make(map[string]string),
			refunds:          make(map[string]domain.Refund),
			ledger:           make([]domain.LedgerEntry, 0, 64),
			movements:        make([]domain.CashMovement, 0, 16),
			inventory:        make(map[string]map[string]int),
			auditLogs:        make([]domain.AuditLog, 0, 128),
		},
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo users and stock for dev mode.
// Credentials come from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD; unset values fall back to dev defaults with a warning.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	s.usersByUsername = seedUsers(logger.Named("memory-store"))
	s.st.inventory["main-store"] = map[string]int{
		"SKU-MIE-01":   120,
		"SKU-TELUR-01": 120,
		"SKU-SUSU-01":  120,
		"SKU-ROTI-01":  120,
		"SKU-KOPI-01":  120,
		"SKU-GULA-01":  120,
	}
	return s
}

func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	seeds := []struct {
		username string
		envKey   string
		fallback string
		role     string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", domain.RoleAdmin},
		{"manager", "SEED_MANAGER_PASSWORD", "manager123", domain.RoleManager},
		{"cashier", "SEED_CASHIER_PASSWORD", "cashier123", domain.RoleCashier},
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range seeds {
		password := os.Getenv(u.envKey)
		if password == "" {
			logger.Warn("using default dev credentials", zap.String("username", u.username), zap.String("override", u.envKey))
			password = u.fallback
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			logger.Error("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
			continue
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func (s *Store) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&memTx{st: &work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (st state) clone() state {
	out := state{
		orders:           make(map[string]domain.Order, len(st.orders)),
		shifts:           make(map[string]domain.Shift, len(st.shifts)),
		activeByCashier:  make(map[string]string, len(st.activeByCashier)),
		activeByRegister: make(map[string]string, len(st.activeByRegister)),
		refunds:          make(map[string]domain.Refund, len(st.refunds)),
		ledger:           slices.Clone(st.ledger),
		movements:        slices.Clone(st.movements),
		inventory:        make(map[string]map[string]int, len(st.inventory)),
		auditLogs:        slices.Clone(st.auditLogs),
	}
	// Stored values are never mutated in place, so copying the maps is enough.
	for k, v := range st.orders {
		out.orders[k] = v
	}
	for k, v := range st.shifts {
		out.shifts[k] = v
	}
	for k, v := range st.activeByCashier {
		out.activeByCashier[k] = v
	}
	for k, v := range st.activeByRegister {
		out.activeByRegister[k] = v
	}
	for k, v := range st.refunds {
		out.refunds[k] = v
	}
	for storeID, stock := range st.inventory {
		copied := make(map[string]int, len(stock))
		for k, v := range stock {
			copied[k] = v
		}
		out.inventory[storeID] = copied
	}
	return out
}

type memTx struct {
	st *state
}

func (t *memTx) CreateOrder(_ context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" || len(order.Items) == 0 {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.st.orders[order.ID]; exists {
		return store.ErrInvalidTransaction
	}
	t.st.orders[order.ID] = cloneOrder(order)
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	order, ok := t.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := cloneOrder(order)
	return &copied, nil
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *memTx) UpdateOrder(_ context.Context, order domain.Order) error {
	existing, ok := t.st.orders[order.ID]
	if !ok {
		return store.ErrNotFound
	}
	order.Items = existing.Items
	t.st.orders[order.ID] = cloneOrder(order)
	return nil
}

func (t *memTx) ListPaymentsByShift(_ context.Context, shiftID string) ([]domain.Payment, error) {
	result := make([]domain.Payment, 0, 32)
	for _, order := range t.st.orders {
		for _, p := range order.Payments {
			if p.ShiftID == shiftID {
				result = append(result, p)
			}
		}
	}
	slices.SortFunc(result, func(a, b domain.Payment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (t *memTx) CreateShift(_ context.Context, shift domain.Shift) error {
	if strings.TrimSpace(shift.ID) == "" || strings.TrimSpace(shift.CashierID) == "" || strings.TrimSpace(shift.RegisterID) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.st.activeByCashier[shift.CashierID]; exists {
		return store.ErrDuplicateShift
	}
	key := registerKey(shift.StoreID, shift.RegisterID)
	if _, exists := t.st.activeByRegister[key]; exists {
		return store.ErrDuplicateShift
	}
	t.st.shifts[shift.ID] = shift
	t.st.activeByCashier[shift.CashierID] = shift.ID
	t.st.activeByRegister[key] = shift.ID
	return nil
}

func (t *memTx) GetShift(_ context.Context, id string) (*domain.Shift, error) {
	shift, ok := t.st.shifts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shift, nil
}

func (t *memTx) GetShiftForUpdate(ctx context.Context, id string) (*domain.Shift, error) {
	return t.GetShift(ctx, id)
}

func (t *memTx) UpdateShift(_ context.Context, shift domain.Shift) error {
	if _, ok := t.st.shifts[shift.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.shifts[shift.ID] = shift
	if shift.Status == domain.ShiftStatusClosed {
		if t.st.activeByCashier[shift.CashierID] == shift.ID {
			delete(t.st.activeByCashier, shift.CashierID)
		}
		key := registerKey(shift.StoreID, shift.RegisterID)
		if t.st.activeByRegister[key] == shift.ID {
			delete(t.st.activeByRegister, key)
		}
	}
	return nil
}

func (t *memTx) FindActiveShiftByCashier(ctx context.Context, cashierID string) (*domain.Shift, error) {
	id, ok := t.st.activeByCashier[cashierID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.GetShift(ctx, id)
}

func (t *memTx) FindActiveShiftByRegister(ctx context.Context, storeID string, registerID string) (*domain.Shift, error) {
	id, ok := t.st.activeByRegister[registerKey(storeID, registerID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.GetShift(ctx, id)
}

func (t *memTx) CreateRefund(_ context.Context, refund domain.Refund) error {
	if strings.TrimSpace(refund.ID) == "" || len(refund.Items) == 0 {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.st.refunds[refund.ID]; exists {
		return store.ErrInvalidTransaction
	}
	t.st.refunds[refund.ID] = cloneRefund(refund)
	return nil
}

func (t *memTx) GetRefund(_ context.Context, id string) (*domain.Refund, error) {
	refund, ok := t.st.refunds[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := cloneRefund(refund)
	return &copied, nil
}

func (t *memTx) GetRefundForUpdate(ctx context.Context, id string) (*domain.Refund, error) {
	return t.GetRefund(ctx, id)
}

func (t *memTx) UpdateRefund(_ context.Context, refund domain.Refund) error {
	existing, ok := t.st.refunds[refund.ID]
	if !ok {
		return store.ErrNotFound
	}
	refund.Items = existing.Items
	t.st.refunds[refund.ID] = cloneRefund(refund)
	return nil
}

func (t *memTx) ListRefundsByOrder(_ context.Context, orderID string) ([]domain.Refund, error) {
	return t.listRefunds(func(r domain.Refund) bool { return r.OrderID == orderID }), nil
}

func (t *memTx) ListRefundsByShift(_ context.Context, shiftID string) ([]domain.Refund, error) {
	return t.listRefunds(func(r domain.Refund) bool { return r.ShiftID == shiftID }), nil
}

func (t *memTx) listRefunds(match func(domain.Refund) bool) []domain.Refund {
	result := make([]domain.Refund, 0, 8)
	for _, r := range t.st.refunds {
		if match(r) {
			result = append(result, cloneRefund(r))
		}
	}
	slices.SortFunc(result, func(a, b domain.Refund) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

func (t *memTx) CreateLedgerEntry(_ context.Context, entry domain.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = xid.New("txn")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	t.st.ledger = append(t.st.ledger, entry)
	return nil
}

func (t *memTx) ListLedgerEntries(_ context.Context, filter store.LedgerFilter) ([]domain.LedgerEntry, error) {
	result := make([]domain.LedgerEntry, 0, 16)
	for _, entry := range t.st.ledger {
		if filter.ShiftID != "" && entry.ShiftID != filter.ShiftID {
			continue
		}
		if filter.OrderID != "" && entry.OrderID != filter.OrderID {
			continue
		}
		if filter.RefundID != "" && entry.RefundID != filter.RefundID {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (t *memTx) CreateCashMovement(_ context.Context, movement domain.CashMovement) error {
	if strings.TrimSpace(movement.ShiftID) == "" {
		return store.ErrInvalidTransaction
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	t.st.movements = append(t.st.movements, movement)
	return nil
}

func (t *memTx) ListCashMovements(_ context.Context, shiftID string) ([]domain.CashMovement, error) {
	result := make([]domain.CashMovement, 0, 8)
	for _, m := range t.st.movements {
		if m.ShiftID == shiftID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (t *memTx) IncreaseQuantity(_ context.Context, productID string, storeID string, qty int) error {
	if qty <= 0 || productID == "" {
		return store.ErrInvalidTransaction
	}
	stock := t.storeStock(storeID)
	stock[productID] += qty
	return nil
}

func (t *memTx) DecreaseQuantity(_ context.Context, productID string, storeID string, qty int) error {
	if qty <= 0 || productID == "" {
		return store.ErrInvalidTransaction
	}
	stock := t.storeStock(storeID)
	if stock[productID] < qty {
		return store.ErrInsufficientStock
	}
	stock[productID] -= qty
	return nil
}

func (t *memTx) StockLevel(_ context.Context, productID string, storeID string) (int, error) {
	return t.st.inventory[storeID][productID], nil
}

func (t *memTx) SetStock(_ context.Context, productID string, storeID string, qty int) error {
	if qty < 0 || productID == "" {
		return store.ErrInvalidTransaction
	}
	t.storeStock(storeID)[productID] = qty
	return nil
}

func (t *memTx) storeStock(storeID string) map[string]int {
	stock, ok := t.st.inventory[storeID]
	if !ok {
		stock = make(map[string]int)
		t.st.inventory[storeID] = stock
	}
	return stock
}

func (t *memTx) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	t.st.auditLogs = append(t.st.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.st.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func registerKey(storeID string, registerID string) string {
	return storeID + "|" + registerID
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = slices.Clone(src.Items)
	dst.Payments = slices.Clone(src.Payments)
	if dst.Payments == nil {
		dst.Payments = []domain.Payment{}
	}
	return dst
}

func cloneRefund(src domain.Refund) domain.Refund {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}
