// Package router selects the agent that answers an utterance and builds the
// grounded candidate answer from that agent's dataset.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ashureev/kaya/internal/classifier"
	"github.com/ashureev/kaya/internal/fuzzy"
	"github.com/ashureev/kaya/internal/knowledge"
	"github.com/ashureev/kaya/internal/metrics"
	"github.com/ashureev/kaya/internal/ttlcache"
)

// MaxRecords caps the records used for one answer.
const MaxRecords = 5

const (
	baseConfidence  = 0.5
	perRecordBonus  = 0.1
	maxRecordBonus  = 0.3
	exactMatchBonus = 0.2

	defaultCacheTTL = 5 * time.Minute
	defaultCacheMax = 1000
)

// Datasets is the read side of the knowledge cache.
type Datasets interface {
	Get(agent string) (*knowledge.Dataset, bool)
}

// Subscriber publishes dataset reload events.
type Subscriber interface {
	Subscribe() (<-chan knowledge.Event, func())
}

// SessionView is the session context the router reads.
type SessionView interface {
	LastAgent() string
}

// Decision is the outcome of routing one utterance.
type Decision struct {
	Agent      string             `json:"agent"`
	Rule       string             `json:"rule"`
	Answer     string             `json:"answer"`
	Records    []knowledge.Record `json:"records,omitempty"`
	Confidence float64            `json:"confidence"`
	Grounded   bool               `json:"grounded"`
}

// Options configures a Router.
type Options struct {
	CacheTTL time.Duration
	CacheMax int
	Logger   *slog.Logger
}

type cacheKey struct {
	agent, query, intent string
}

type filtered struct {
	records    []knowledge.Record
	confidence float64
}

// Router is safe for concurrent use.
type Router struct {
	rules    []rule
	datasets Datasets
	derived  *ttlcache.Cache[cacheKey, filtered]
	gen      atomic.Uint64
	logger   *slog.Logger
}

// New creates a router over the given datasets.
func New(datasets Datasets, opts Options) *Router {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.CacheMax <= 0 {
		opts.CacheMax = defaultCacheMax
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		rules:    defaultRules(),
		datasets: datasets,
		derived:  ttlcache.New[cacheKey, filtered](opts.CacheTTL, opts.CacheMax),
		logger:   opts.Logger,
	}
}

// Watch purges derived results whenever sub publishes a reload event. It
// returns when ctx is done or the subscription channel closes.
func (r *Router) Watch(ctx context.Context, sub Subscriber) {
	events, cancel := sub.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				r.Purge()
				r.logger.Info("Router cache purged after dataset reload", "changed", ev.Changed)
			}
		}
	}()
}

// Purge drops every derived result.
func (r *Router) Purge() {
	r.gen.Add(1)
	r.derived.Purge()
}

// CacheStats exposes derived cache counters.
func (r *Router) CacheStats() ttlcache.Stats {
	return r.derived.Stats()
}

// Select evaluates the rule chain only.
func (r *Router) Select(query string, class classifier.Result, sess SessionView) (agent, ruleName string) {
	in := input{text: fuzzy.NewText(query), class: class}
	if sess != nil {
		in.lastAgent = sess.LastAgent()
	}
	for _, rl := range r.rules {
		if a, ok := rl.match(in); ok {
			return a, rl.name()
		}
	}
	return knowledge.DefaultAgent, RuleFallback
}

// Route selects the agent and builds the candidate answer. sess may be nil.
func (r *Router) Route(query string, class classifier.Result, sess SessionView) Decision {
	agent, ruleName := r.Select(query, class, sess)
	metrics.RouteDecisions.WithLabelValues(ruleName, agent).Inc()

	f := r.records(agent, query, class.Intent.Value)
	d := Decision{
		Agent:      agent,
		Rule:       ruleName,
		Records:    f.records,
		Confidence: f.confidence,
		Grounded:   len(f.records) > 0,
	}
	if d.Grounded {
		d.Answer = CandidateAnswer(f.records, class.Intent.Value, class.Persona.Value)
	} else {
		d.Answer = NoInformation
	}
	return d
}

func (r *Router) records(agent, query, intent string) filtered {
	key := cacheKey{agent: agent, query: fuzzy.Normalize(query), intent: intent}
	gen := r.gen.Load()
	if f, ok := r.derived.Get(key); ok {
		return f
	}

	var f filtered
	if ds, ok := r.datasets.Get(agent); ok {
		f = filter(ds.Records, key.query, intent)
	}
	// A reload between lookup and store would leave a stale entry behind.
	if r.gen.Load() == gen {
		r.derived.Set(key, f)
	}
	return f
}

// filter keeps records relevant to query or intent that pass the quality
// bar, capped at MaxRecords, and computes the answer confidence.
func filter(records []knowledge.Record, query, intent string) filtered {
	q := fuzzy.Normalize(query)
	in := fuzzy.Normalize(intent)

	var out []knowledge.Record
	exact := false
	for _, rec := range records {
		if len(out) == MaxRecords {
			break
		}
		if !relevant(rec, q, in) || !rec.Usable() {
			continue
		}
		out = append(out, rec)
		if q != "" && (strings.Contains(fuzzy.Normalize(rec.Title), q) || strings.Contains(fuzzy.Normalize(rec.Content), q)) {
			exact = true
		}
	}
	return filtered{records: out, confidence: confidence(len(out), exact)}
}

func relevant(rec knowledge.Record, q, intent string) bool {
	if q != "" {
		if strings.Contains(fuzzy.Normalize(rec.Title), q) || strings.Contains(fuzzy.Normalize(rec.Content), q) {
			return true
		}
		for _, k := range rec.Keywords {
			if strings.Contains(fuzzy.Normalize(k), q) {
				return true
			}
		}
	}
	return intent != "" && rec.Category != "" && strings.Contains(fuzzy.Normalize(rec.Category), intent)
}

func confidence(n int, exact bool) float64 {
	if n == 0 {
		return 0
	}
	c := baseConfidence + min(perRecordBonus*float64(n), maxRecordBonus)
	if exact {
		c += exactMatchBonus
	}
	return max(0, min(1, c))
}
