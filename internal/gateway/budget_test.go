package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingCost(t *testing.T) {
	t.Parallel()

	p := PricingFor("gpt-4o-mini")
	assert.InDelta(t, 0.15+0.60, p.Cost(Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}), 1e-9)
	assert.Equal(t, p, PricingFor("unknown-model"))
}

func TestBudgetRequestRate(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBudget(BudgetConfig{RequestsPerMinute: 2}, nil)
	b.SetClock(clock.Now)

	require.NoError(t, b.Reserve())
	require.NoError(t, b.Reserve())
	assert.ErrorIs(t, b.Reserve(), ErrBudgetExceeded)

	clock.Advance(31 * time.Second)
	assert.NoError(t, b.Reserve())
	assert.Equal(t, uint64(1), b.Stats().Rejected)
}

func TestBudgetDailySpend(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBudget(BudgetConfig{
		DailyUSD:   1,
		MonthlyUSD: 100,
		Pricing:    Pricing{InputPerMillion: 1, OutputPerMillion: 1},
	}, nil)
	b.SetClock(clock.Now)

	require.NoError(t, b.Reserve())
	cost := b.Record(Usage{InputTokens: 600_000, OutputTokens: 400_000})
	assert.InDelta(t, 1.0, cost, 1e-9)
	assert.ErrorIs(t, b.Reserve(), ErrBudgetExceeded)

	clock.Advance(24 * time.Hour)
	assert.NoError(t, b.Reserve(), "daily spend resets on a new day")
	stats := b.Stats()
	assert.Zero(t, stats.DailyUSD)
	assert.InDelta(t, 1.0, stats.MonthlyUSD, 1e-9)
}

func TestBudgetMonthlySpend(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBudget(BudgetConfig{
		DailyUSD:   10,
		MonthlyUSD: 2,
		Pricing:    Pricing{InputPerMillion: 1},
	}, nil)
	b.SetClock(clock.Now)

	b.Record(Usage{InputTokens: 1_500_000})
	clock.Advance(24 * time.Hour)
	b.Record(Usage{InputTokens: 600_000})
	clock.Advance(24 * time.Hour)

	assert.ErrorIs(t, b.Reserve(), ErrBudgetExceeded)
}

func TestBudgetUnlimited(t *testing.T) {
	t.Parallel()

	b := NewBudget(BudgetConfig{}, nil)
	for i := 0; i < 100; i++ {
		require.NoError(t, b.Reserve())
	}
}
