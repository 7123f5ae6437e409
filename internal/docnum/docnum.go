package docnum

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirledger/backend/internal/domain"
)

// Sequence hands out monotonically increasing values per key.
type Sequence interface {
	Next(ctx context.Context, key string) (int64, error)
}

// Generator formats human-readable document numbers such as
// RCP-MAIN-20260101-000042. Sequences restart every UTC day.
type Generator struct {
	seq Sequence
	now func() time.Time
}

func NewGenerator(seq Sequence) *Generator {
	return &Generator{seq: seq, now: func() time.Time { return time.Now().UTC() }}
}

func prefixFor(docType string) (string, error) {
	switch docType {
	case domain.DocumentOrder:
		return "ORD", nil
	case domain.DocumentReceipt:
		return "RCP", nil
	case domain.DocumentInvoice:
		return "INV", nil
	case domain.DocumentProforma:
		return "PRO", nil
	default:
		return "", fmt.Errorf("%w: unknown document type %q", domain.ErrValidation, docType)
	}
}

func (g *Generator) ReceiptNumber(ctx context.Context, storeID string, docType string) (string, error) {
	prefix, err := prefixFor(docType)
	if err != nil {
		return "", err
	}
	return g.format(ctx, prefix, storeCode(storeID))
}

func (g *Generator) RefundNumber(ctx context.Context) (string, error) {
	return g.format(ctx, "RFD", "")
}

func (g *Generator) TransactionNumber(ctx context.Context) (string, error) {
	return g.format(ctx, "TXN", "")
}

func (g *Generator) format(ctx context.Context, prefix string, scope string) (string, error) {
	day := g.now().Format("20060102")
	parts := []string{prefix}
	if scope != "" {
		parts = append(parts, scope)
	}
	parts = append(parts, day)
	key := strings.Join(parts, ":")

	n, err := g.seq.Next(ctx, key)
	if err != nil {
		return "", fmt.Errorf("next %s number: %w", prefix, err)
	}
	return strings.Join(parts, "-") + fmt.Sprintf("-%06d", n), nil
}

func storeCode(storeID string) string {
	code := strings.ToUpper(strings.TrimSpace(storeID))
	code = strings.TrimSuffix(code, "-STORE")
	code = strings.ReplaceAll(code, "-", "")
	if code == "" {
		return "STORE"
	}
	return code
}

type MemorySequence struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemorySequence() *MemorySequence {
	return &MemorySequence{values: make(map[string]int64)}
}

func (m *MemorySequence) Next(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key]++
	return m.values[key], nil
}

// RedisSequence backs sequences with INCR so numbers stay unique across
// processes. Keys expire two days after their first use.
type RedisSequence struct {
	client *redis.Client
	prefix string
}

func NewRedisSequence(client *redis.Client) *RedisSequence {
	return &RedisSequence{client: client, prefix: "pos:seq:"}
}

func (r *RedisSequence) Next(ctx context.Context, key string) (int64, error) {
	fullKey := r.prefix + key
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
