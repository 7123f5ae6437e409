// Package service coordinates orders, payments, shifts and refunds. Every
// public operation runs as one unit of work against the repository and
// publishes its domain events only after that unit commits.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirledger/backend/internal/cache"
	"kasirledger/backend/internal/docnum"
	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/events"
	"kasirledger/backend/internal/lock"
	"kasirledger/backend/internal/loyalty"
	"kasirledger/backend/internal/payment"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultStoreID string
	DefaultTaxRate decimal.Decimal
	Payments       payment.Settings
	Locker         lock.Locker
	Numbers        *docnum.Generator
	Events         events.Sink
	Loyalty        loyalty.Calculator
	Summaries      cache.SummaryCache
	SummaryTTL     time.Duration
	Logger         *zap.Logger
}

type Service struct {
	repo           store.Repository
	chain          *payment.Chain
	locker         lock.Locker
	numbers        *docnum.Generator
	sink           events.Sink
	loyalty        loyalty.Calculator
	summaries      cache.SummaryCache
	summaryTTL     time.Duration
	logger         *zap.Logger
	defaultStoreID string
	defaultTaxRate decimal.Decimal
	now            func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.DefaultStoreID == "" {
		opts.DefaultStoreID = "main-store"
	}
	if opts.Payments.OverpayFactor.IsZero() {
		opts.Payments = payment.DefaultSettings()
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.Numbers == nil {
		opts.Numbers = docnum.NewGenerator(docnum.NewMemorySequence())
	}
	if opts.Events == nil {
		opts.Events = events.Noop{}
	}
	if opts.Loyalty == nil {
		opts.Loyalty = loyalty.NoDiscount{}
	}
	if opts.Summaries == nil {
		opts.Summaries = cache.NoopSummaryCache{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Service{
		repo:           repo,
		chain:          payment.DefaultChain(opts.Payments),
		locker:         opts.Locker,
		numbers:        opts.Numbers,
		sink:           opts.Events,
		loyalty:        opts.Loyalty,
		summaries:      opts.Summaries,
		summaryTTL:     opts.SummaryTTL,
		logger:         opts.Logger.Named("service"),
		defaultStoreID: opts.DefaultStoreID,
		defaultTaxRate: opts.DefaultTaxRate,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrValidation)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		return domain.Actor{}, fmt.Errorf("%w: actor required", domain.ErrUnauthorized)
	}
	return actor, nil
}

func isSupervisor(actor domain.Actor) bool {
	return actor.Role == domain.RoleManager || actor.Role == domain.RoleAdmin
}

func requireSupervisor(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !isSupervisor(actor) {
		return domain.Actor{}, fmt.Errorf("%w: manager role required", domain.ErrUnauthorized)
	}
	return actor, nil
}

// withLocks holds the keyed locks for the duration of fn.
func (s *Service) withLocks(ctx context.Context, keys []string, fn func() error) error {
	release, err := lock.AcquireAll(ctx, s.locker, keys...)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// activeShift returns the cashier's OPEN or SUSPENDED shift, or nil.
func activeShift(ctx context.Context, tx store.Tx, cashierID string) (*domain.Shift, error) {
	found, err := tx.FindActiveShiftByCashier(ctx, cashierID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tx.GetShiftForUpdate(ctx, found.ID)
}

func (s *Service) logAudit(ctx context.Context, tx store.Tx, storeID string, action string, entityType string, entityID string, detail string) error {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := tx.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		StoreID:    storeID,
		ActorID:    actor.Username,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now(),
	}); err != nil {
		return fmt.Errorf("audit %s %s/%s: %w", action, entityType, entityID, err)
	}
	return nil
}

func (s *Service) postLedger(ctx context.Context, tx store.Tx, entry domain.LedgerEntry) error {
	number, err := s.numbers.TransactionNumber(ctx)
	if err != nil {
		return err
	}
	entry.ID = xid.New("txn")
	entry.Number = number
	entry.CreatedAt = s.now()
	return tx.CreateLedgerEntry(ctx, entry)
}

func (s *Service) event(eventType string, storeID string, entityID string, attrs map[string]string) domain.Event {
	return domain.Event{
		ID:         xid.New("evt"),
		Type:       eventType,
		StoreID:    storeID,
		EntityID:   entityID,
		Attributes: attrs,
		OccurredAt: s.now(),
	}
}

// publish delivers committed events. Failures are logged and never undo the
// operation.
func (s *Service) publish(ctx context.Context, evts []domain.Event) {
	for _, evt := range evts {
		if err := s.sink.Publish(ctx, evt); err != nil {
			s.logger.Warn("publish event failed",
				zap.String("type", evt.Type),
				zap.String("entity_id", evt.EntityID),
				zap.Error(err))
		}
	}
}

func (s *Service) reportDrift(kind string, id string, drift []string) {
	if len(drift) == 0 {
		return
	}
	s.logger.Error("internal consistency warning",
		zap.String("entity", kind),
		zap.String("id", id),
		zap.Strings("drift", drift))
}
