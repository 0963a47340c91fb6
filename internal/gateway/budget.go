package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ashureev/kaya/internal/metrics"
)

// ErrBudgetExceeded is returned when the request rate or the spend limit
// does not allow another external call.
var ErrBudgetExceeded = errors.New("llm budget exceeded")

// Pricing is the price in USD per one million tokens.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Cost returns the USD price of u.
func (p Pricing) Cost(u Usage) float64 {
	return float64(u.InputTokens)*p.InputPerMillion/1e6 +
		float64(u.OutputTokens)*p.OutputPerMillion/1e6
}

// ModelPricing lists known model prices.
var ModelPricing = map[string]Pricing{
	"gpt-4o-mini":      {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4o":           {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gemini-2.0-flash": {InputPerMillion: 0.10, OutputPerMillion: 0.40},
}

// PricingFor returns the price table for model, falling back to gpt-4o-mini.
func PricingFor(model string) Pricing {
	if p, ok := ModelPricing[model]; ok {
		return p
	}
	return ModelPricing["gpt-4o-mini"]
}

const defaultWarnRatio = 0.8

// BudgetConfig configures the budget guard. Zero limits disable the
// corresponding check.
type BudgetConfig struct {
	RequestsPerMinute int
	DailyUSD          float64
	MonthlyUSD        float64
	WarnRatio         float64
	Pricing           Pricing
}

// Budget enforces a request rate and a daily and monthly spend limit.
type Budget struct {
	config  BudgetConfig
	limiter *rate.Limiter
	now     func() time.Time
	logger  *slog.Logger

	mu          sync.Mutex
	day         string
	month       string
	daily       float64
	monthly     float64
	total       float64
	warnedDay   bool
	warnedMonth bool
	rejected    uint64
}

// BudgetStats is a point-in-time view of spend.
type BudgetStats struct {
	DailyUSD        float64 `json:"daily_usd"`
	MonthlyUSD      float64 `json:"monthly_usd"`
	TotalUSD        float64 `json:"total_usd"`
	DailyLimitUSD   float64 `json:"daily_limit_usd"`
	MonthlyLimitUSD float64 `json:"monthly_limit_usd"`
	Rejected        uint64  `json:"rejected"`
}

// NewBudget creates a budget guard.
func NewBudget(config BudgetConfig, logger *slog.Logger) *Budget {
	if config.WarnRatio <= 0 || config.WarnRatio >= 1 {
		config.WarnRatio = defaultWarnRatio
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	burst := 0
	if config.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(config.RequestsPerMinute))
		burst = config.RequestsPerMinute
	}
	return &Budget{
		config:  config,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
		logger:  logger,
	}
}

// SetClock replaces the time source. Tests only.
func (b *Budget) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// Reserve admits one external call or returns ErrBudgetExceeded.
func (b *Budget) Reserve() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.rollover(now)

	if b.config.DailyUSD > 0 && b.daily >= b.config.DailyUSD {
		b.rejected++
		return fmt.Errorf("%w: daily spend %.4f of %.2f USD", ErrBudgetExceeded, b.daily, b.config.DailyUSD)
	}
	if b.config.MonthlyUSD > 0 && b.monthly >= b.config.MonthlyUSD {
		b.rejected++
		return fmt.Errorf("%w: monthly spend %.4f of %.2f USD", ErrBudgetExceeded, b.monthly, b.config.MonthlyUSD)
	}
	if !b.limiter.AllowN(now, 1) {
		b.rejected++
		return fmt.Errorf("%w: request rate", ErrBudgetExceeded)
	}
	return nil
}

// Record adds the cost of u and returns it.
func (b *Budget) Record(u Usage) float64 {
	cost := b.config.Pricing.Cost(u)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover(b.now())
	b.daily += cost
	b.monthly += cost
	b.total += cost

	metrics.LLMTokens.WithLabelValues("input").Add(float64(u.InputTokens))
	metrics.LLMTokens.WithLabelValues("output").Add(float64(u.OutputTokens))
	metrics.LLMCostUSD.Add(cost)

	if lim := b.config.DailyUSD; lim > 0 && !b.warnedDay && b.daily >= lim*b.config.WarnRatio {
		b.warnedDay = true
		b.logger.Warn("Daily LLM budget nearly used", "spent_usd", b.daily, "limit_usd", lim)
	}
	if lim := b.config.MonthlyUSD; lim > 0 && !b.warnedMonth && b.monthly >= lim*b.config.WarnRatio {
		b.warnedMonth = true
		b.logger.Warn("Monthly LLM budget nearly used", "spent_usd", b.monthly, "limit_usd", lim)
	}
	return cost
}

// Stats returns current spend.
func (b *Budget) Stats() BudgetStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover(b.now())
	return BudgetStats{
		DailyUSD:        b.daily,
		MonthlyUSD:      b.monthly,
		TotalUSD:        b.total,
		DailyLimitUSD:   b.config.DailyUSD,
		MonthlyLimitUSD: b.config.MonthlyUSD,
		Rejected:        b.rejected,
	}
}

// rollover resets period counters; mu must be held.
func (b *Budget) rollover(now time.Time) {
	day := now.Format("2006-01-02")
	month := now.Format("2006-01")
	if day != b.day {
		b.day = day
		b.daily = 0
		b.warnedDay = false
	}
	if month != b.month {
		b.month = month
		b.monthly = 0
		b.warnedMonth = false
	}
}
