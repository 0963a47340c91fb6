// Package gateway wraps the external generative model call with a response
// cache, a budget guard and a circuit breaker. Generate never fails; every
// problem degrades to the caller's fallback text.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ashureev/kaya/internal/metrics"
	"github.com/ashureev/kaya/internal/ttlcache"
)

var tracer = otel.Tracer("github.com/ashureev/kaya/internal/gateway")

// ErrBreakerOpen is returned internally when the circuit short-circuits a call.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Reasons reported on fallback results.
const (
	ReasonDisabled       = "disabled"
	ReasonBreakerOpen    = "breaker_open"
	ReasonBudgetExceeded = "budget_exceeded"
	ReasonError          = "error"
)

// Config is the generation config. It is part of the cache key.
type Config struct {
	MaxTokens       int
	Temperature     float64
	Timeout         time.Duration
	CacheTTL        time.Duration
	CacheMaxEntries int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:       500,
		Temperature:     0.7,
		Timeout:         8 * time.Second,
		CacheTTL:        5 * time.Minute,
		CacheMaxEntries: 1000,
	}
}

// Result is the outcome of Generate.
type Result struct {
	Text   string `json:"text"`
	ViaLLM bool   `json:"via_llm"`
	Cached bool   `json:"cached"`
	Reason string `json:"reason,omitempty"`
}

// Status is a point-in-time view of the gateway.
type Status struct {
	Enabled   bool           `json:"enabled"`
	Provider  string         `json:"provider,omitempty"`
	Model     string         `json:"model,omitempty"`
	Requests  uint64         `json:"requests"`
	ViaLLM    uint64         `json:"via_llm"`
	Fallbacks uint64         `json:"fallbacks"`
	Breaker   BreakerStats   `json:"breaker"`
	Budget    BudgetStats    `json:"budget"`
	Cache     ttlcache.Stats `json:"cache"`
}

// Gateway is safe for concurrent use.
type Gateway struct {
	transport Transport
	cfg       Config
	cache     *ttlcache.Cache[string, string]
	l2        SecondLevel
	breaker   *CircuitBreaker
	budget    *Budget
	group     singleflight.Group
	logger    *slog.Logger

	requests  atomic.Uint64
	viaLLM    atomic.Uint64
	fallbacks atomic.Uint64
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithSecondLevel adds a shared response cache.
func WithSecondLevel(l2 SecondLevel) Option {
	return func(g *Gateway) { g.l2 = l2 }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *CircuitBreaker) Option {
	return func(g *Gateway) { g.breaker = b }
}

// WithBudget replaces the default (unlimited) budget.
func WithBudget(b *Budget) Option {
	return func(g *Gateway) { g.budget = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a gateway. A nil transport disables generation and every call
// returns the fallback.
func New(transport Transport, cfg Config, opts ...Option) *Gateway {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = def.CacheMaxEntries
	}

	g := &Gateway{
		transport: transport,
		cfg:       cfg,
		cache:     ttlcache.New[string, string](cfg.CacheTTL, cfg.CacheMaxEntries),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.breaker == nil {
		g.breaker = NewCircuitBreaker(BreakerConfig{})
	}
	if g.budget == nil {
		g.budget = NewBudget(BudgetConfig{}, g.logger)
	}
	return g
}

// Cache exposes the in-process response cache for sweeping.
func (g *Gateway) Cache() *ttlcache.Cache[string, string] { return g.cache }

// Enabled reports whether a transport is configured.
func (g *Gateway) Enabled() bool { return g.transport != nil }

// Generate returns a model answer for p, or fallback when generation is
// disabled, short-circuited, over budget or failing.
func (g *Gateway) Generate(ctx context.Context, p Prompt, fallback string) Result {
	g.requests.Add(1)

	ctx, span := tracer.Start(ctx, "gateway.Generate",
		trace.WithAttributes(
			attribute.String("kaya.agent", p.Agent),
			attribute.Int("kaya.records", len(p.Records)),
		))
	defer span.End()

	if g.transport == nil {
		metrics.LLMRequests.WithLabelValues(ReasonDisabled).Inc()
		return g.fallback(span, fallback, ReasonDisabled)
	}

	key := p.CacheKey(g.transport.Name(), g.transport.Model(), g.cfg.MaxTokens, g.cfg.Temperature)
	if text, ok := g.cache.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("l1", "hit").Inc()
		span.SetAttributes(attribute.String("kaya.cache", "l1"))
		g.viaLLM.Add(1)
		return Result{Text: text, ViaLLM: true, Cached: true}
	}
	metrics.CacheLookups.WithLabelValues("l1", "miss").Inc()

	if g.l2 != nil {
		text, ok, err := g.l2.Get(ctx, key)
		switch {
		case err != nil:
			g.logger.Warn("Response cache lookup failed", "tier", "l2", "error", err)
		case ok:
			metrics.CacheLookups.WithLabelValues("l2", "hit").Inc()
			span.SetAttributes(attribute.String("kaya.cache", "l2"))
			g.cache.Set(key, text)
			g.viaLLM.Add(1)
			return Result{Text: text, ViaLLM: true, Cached: true}
		default:
			metrics.CacheLookups.WithLabelValues("l2", "miss").Inc()
		}
	}

	v, _, shared := g.group.Do(key, func() (any, error) {
		text, err := g.call(ctx, key, p)
		return callResult{text: text, err: err}, nil
	})
	res := v.(callResult)
	span.SetAttributes(attribute.Bool("kaya.shared", shared))

	if res.err != nil {
		reason := ReasonError
		switch {
		case errors.Is(res.err, ErrBreakerOpen):
			reason = ReasonBreakerOpen
		case errors.Is(res.err, ErrBudgetExceeded):
			reason = ReasonBudgetExceeded
		}
		span.RecordError(res.err)
		return g.fallback(span, fallback, reason)
	}

	g.viaLLM.Add(1)
	return Result{Text: res.text, ViaLLM: true}
}

type callResult struct {
	text string
	err  error
}

func (g *Gateway) call(ctx context.Context, key string, p Prompt) (string, error) {
	defer metrics.BreakerState.Set(float64(g.breaker.State()))

	// Short-circuited calls must not consume request budget.
	if !g.breaker.Allow() {
		metrics.LLMRequests.WithLabelValues(ReasonBreakerOpen).Inc()
		g.logger.Debug("LLM call short-circuited", "breaker", g.breaker.State().String())
		return "", ErrBreakerOpen
	}
	if err := g.budget.Reserve(); err != nil {
		metrics.LLMRequests.WithLabelValues(ReasonBudgetExceeded).Inc()
		g.logger.Warn("LLM call skipped", "reason", err)
		return "", err
	}

	// Shared by singleflight waiters, so one caller going away must not
	// cancel the call for the others.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	comp, err := g.transport.Complete(cctx, Request{
		System:      p.System(),
		Messages:    p.Messages(),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	metrics.LLMLatency.WithLabelValues(g.transport.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		g.breaker.RecordFailure()
		metrics.LLMRequests.WithLabelValues(ReasonError).Inc()
		g.logger.Warn("LLM call failed",
			"provider", g.transport.Name(),
			"error", err,
			"breaker", g.breaker.State().String())
		return "", err
	}
	g.breaker.RecordSuccess()
	metrics.LLMRequests.WithLabelValues("ok").Inc()

	cost := g.budget.Record(comp.Usage)
	text := PostProcess(comp.Text)
	g.cache.Set(key, text)
	if g.l2 != nil {
		if err := g.l2.Set(cctx, key, text, g.cfg.CacheTTL); err != nil {
			g.logger.Warn("Response cache write failed", "tier", "l2", "error", err)
		}
	}

	g.logger.Debug("LLM call succeeded",
		"provider", g.transport.Name(),
		"input_tokens", comp.Usage.InputTokens,
		"output_tokens", comp.Usage.OutputTokens,
		"cost_usd", cost,
		"duration", time.Since(start))
	return text, nil
}

func (g *Gateway) fallback(span trace.Span, text, reason string) Result {
	g.fallbacks.Add(1)
	span.SetAttributes(attribute.String("kaya.fallback", reason))
	if reason == ReasonError {
		span.SetStatus(codes.Error, reason)
	}
	return Result{Text: text, Reason: reason}
}

// Status returns gateway statistics.
func (g *Gateway) Status() Status {
	s := Status{
		Enabled:   g.transport != nil,
		Requests:  g.requests.Load(),
		ViaLLM:    g.viaLLM.Load(),
		Fallbacks: g.fallbacks.Load(),
		Breaker:   g.breaker.Stats(),
		Budget:    g.budget.Stats(),
		Cache:     g.cache.Stats(),
	}
	if g.transport != nil {
		s.Provider = g.transport.Name()
		s.Model = g.transport.Model()
	}
	return s
}
