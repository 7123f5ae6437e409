package loyalty

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/money"
)

// Calculator returns the loyalty discount for a customer on a net amount.
// The result is never negative and never exceeds net.
type Calculator interface {
	CalculateTierDiscount(ctx context.Context, customerID string, net decimal.Decimal) (decimal.Decimal, error)
}

type NoDiscount struct{}

func (NoDiscount) CalculateTierDiscount(context.Context, string, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type Tier struct {
	Name       string
	Percentage decimal.Decimal
	// MinSpend is the net amount below which the tier does not apply.
	MinSpend decimal.Decimal
}

func DefaultTiers() map[string]Tier {
	return map[string]Tier{
		"SILVER":   {Name: "SILVER", Percentage: decimal.NewFromInt(2)},
		"GOLD":     {Name: "GOLD", Percentage: decimal.NewFromInt(5), MinSpend: decimal.NewFromInt(10000)},
		"PLATINUM": {Name: "PLATINUM", Percentage: decimal.NewFromInt(10), MinSpend: decimal.NewFromInt(10000)},
	}
}

// TierTable maps customers to tiers held in memory.
type TierTable struct {
	mu      sync.RWMutex
	tiers   map[string]Tier
	members map[string]string
}

func NewTierTable(tiers map[string]Tier) *TierTable {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	return &TierTable{tiers: tiers, members: make(map[string]string)}
}

func (t *TierTable) Enroll(customerID string, tier string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members[strings.TrimSpace(customerID)] = strings.ToUpper(strings.TrimSpace(tier))
}

func (t *TierTable) CalculateTierDiscount(_ context.Context, customerID string, net decimal.Decimal) (decimal.Decimal, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" || !net.IsPositive() {
		return decimal.Zero, nil
	}

	t.mu.RLock()
	tierName, ok := t.members[customerID]
	tier, known := t.tiers[tierName]
	t.mu.RUnlock()
	if !ok || !known || net.LessThan(tier.MinSpend) {
		return decimal.Zero, nil
	}
	return money.Min(money.Percent(net, tier.Percentage), net), nil
}
