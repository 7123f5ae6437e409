package cache

import (
	"context"
	"sync"
	"time"

	"kasirledger/backend/internal/domain"
)

// SummaryCache stores summaries of CLOSED shifts, which never change again.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.ShiftSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.ShiftSummary, ttl time.Duration) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.ShiftSummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.ShiftSummary, _ time.Duration) error {
	return nil
}

type memoryItem struct {
	value     domain.ShiftSummary
	expiresAt time.Time
}

type MemorySummaryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemorySummaryCache() *MemorySummaryCache {
	return &MemorySummaryCache{items: make(map[string]memoryItem), now: time.Now}
}

func (c *MemorySummaryCache) Get(_ context.Context, key string) (*domain.ShiftSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if !item.expiresAt.IsZero() && c.now().After(item.expiresAt) {
		delete(c.items, key)
		return nil, false, nil
	}
	value := item.value
	return &value, true, nil
}

func (c *MemorySummaryCache) Set(_ context.Context, key string, value *domain.ShiftSummary, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	item := memoryItem{value: *value}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}
	c.items[key] = item
	return nil
}

func SummaryKey(shiftID string) string {
	return "pos:shift-summary:" + shiftID
}
