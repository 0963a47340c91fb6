// Package dispatcher runs one utterance through classification, session
// context, routing and generation.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/kaya/internal/classifier"
	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/gateway"
	"github.com/ashureev/kaya/internal/metrics"
	"github.com/ashureev/kaya/internal/outputguard"
	"github.com/ashureev/kaya/internal/router"
	"github.com/ashureev/kaya/internal/session"
)

// Apology is returned when handling an utterance panics.
const Apology = "Entschuldigung, es ist ein Fehler aufgetreten. Bitte versuchen Sie es erneut."

// Response sources reported in metrics.
const (
	SourceTemplate = "template"
	SourceLLM      = "llm"
	SourceError    = "error"
)

// FallbackUngrounded marks answers where generation was skipped for lack of
// usable records.
const FallbackUngrounded = "ungrounded"

// Classifier scores an utterance.
type Classifier interface {
	ClassifyWithLanguage(text, declared string) classifier.Result
}

// Router selects the agent and candidate answer.
type Router interface {
	Route(query string, class classifier.Result, sess router.SessionView) router.Decision
}

// Generator optionally upgrades the candidate answer.
type Generator interface {
	Generate(ctx context.Context, p gateway.Prompt, fallback string) gateway.Result
}

// Response is what the caller of Handle receives.
type Response struct {
	Text           string            `json:"text"`
	SessionID      string            `json:"session_id"`
	Agent          string            `json:"agent"`
	Rule           string            `json:"rule,omitempty"`
	Summary        string            `json:"classification_summary"`
	Classification classifier.Result `json:"classification"`
	Confidence     float64           `json:"confidence"`
	ViaLLM         bool              `json:"via_llm"`
	Cached         bool              `json:"cached,omitempty"`
	Fallback       string            `json:"fallback_reason,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	ErrorCode      string            `json:"error_code,omitempty"`
}

// Options configures a Dispatcher.
type Options struct {
	// RequireGrounding skips generation when the router found no usable
	// records, so the model never answers without source material.
	RequireGrounding bool
	// Guard restyles generated answers. Defaults to outputguard.DefaultConfig.
	Guard  *outputguard.Guard
	Logger *slog.Logger
	Now    func() time.Time
}

// Dispatcher is safe for concurrent use with distinct or identical session
// ids.
type Dispatcher struct {
	classifier Classifier
	sessions   *session.Store
	router     Router
	generator  Generator
	grounding  bool
	guard      *outputguard.Guard
	logger     *slog.Logger
	now        func() time.Time
}

// New wires a dispatcher. generator may be nil, in which case every answer
// is the router's candidate.
func New(c Classifier, sessions *session.Store, r Router, g Generator, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Guard == nil {
		opts.Guard = outputguard.New(outputguard.DefaultConfig())
	}
	return &Dispatcher{
		classifier: c,
		sessions:   sessions,
		router:     r,
		generator:  g,
		grounding:  opts.RequireGrounding,
		guard:      opts.Guard,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Handle answers text for sessionID. An empty sessionID starts a new session
// whose id is returned in the response.
func (d *Dispatcher) Handle(ctx context.Context, text, sessionID string) Response {
	return d.HandleUtterance(ctx, domain.NewUtterance(text, sessionID, "", d.now()))
}

// HandleUtterance is Handle with a caller-declared language. It never fails;
// a panic anywhere below is turned into the apology text with an error code.
func (d *Dispatcher) HandleUtterance(ctx context.Context, u domain.Utterance) (resp Response) {
	start := time.Now()
	if u.SessionID == "" {
		u.SessionID = uuid.NewString()
	}

	defer func() {
		if rec := recover(); rec != nil {
			code := uuid.NewString()
			metrics.DispatchPanics.Inc()
			metrics.DispatchTotal.WithLabelValues("", SourceError).Inc()
			d.logger.Error("Dispatch panicked",
				"error_code", code,
				"session_id", u.SessionID,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()))
			resp = Response{
				Text:      Apology,
				SessionID: u.SessionID,
				Timestamp: d.now(),
				ErrorCode: code,
			}
		}
		metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	}()

	sess := d.sessions.GetOrCreate(u.SessionID)
	metrics.ActiveSessions.Set(float64(d.sessions.Len()))

	class := d.classifier.ClassifyWithLanguage(u.Text, u.Language)
	decision := d.router.Route(u.Text, class, sess)

	resp = Response{
		Text:           decision.Answer,
		SessionID:      u.SessionID,
		Agent:          decision.Agent,
		Rule:           decision.Rule,
		Summary:        class.Summary(),
		Classification: class,
		Confidence:     decision.Confidence,
	}

	switch {
	case d.generator == nil:
		resp.Fallback = gateway.ReasonDisabled
	case d.grounding && !decision.Grounded:
		resp.Fallback = FallbackUngrounded
	default:
		res := d.generator.Generate(ctx, gateway.Prompt{
			Query:    u.Text,
			Agent:    decision.Agent,
			Persona:  class.Persona.Value,
			Emotion:  class.Emotion.Value,
			Urgency:  class.Urgency.Value,
			Language: class.Language,
			Records:  decision.Records,
			History:  exchanges(sess.History()),
		}, decision.Answer)
		resp.Text = res.Text
		if res.ViaLLM {
			resp.Text = sess.Restyle(d.guard, res.Text)
		}
		resp.ViaLLM = res.ViaLLM
		resp.Cached = res.Cached
		resp.Fallback = res.Reason
	}
	resp.Timestamp = d.now()

	if err := d.sessions.AppendTurn(u.SessionID, session.Turn{
		Utterance:      u,
		Response:       resp.Text,
		Agent:          resp.Agent,
		Classification: class,
		ViaLLM:         resp.ViaLLM,
		At:             resp.Timestamp,
	}); err != nil {
		// The session was evicted or ended while this request was in flight.
		d.logger.Warn("Turn not recorded", "session_id", u.SessionID, "error", err)
	}

	source := SourceTemplate
	if resp.ViaLLM {
		source = SourceLLM
	}
	metrics.DispatchTotal.WithLabelValues(resp.Agent, source).Inc()
	d.logger.Debug("Utterance dispatched",
		"session_id", u.SessionID,
		"agent", resp.Agent,
		"rule", resp.Rule,
		"classification", resp.Summary,
		"via_llm", resp.ViaLLM,
		"fallback", resp.Fallback,
		"duration", time.Since(start))
	return resp
}

func exchanges(history []session.Turn) []gateway.Exchange {
	out := make([]gateway.Exchange, 0, len(history))
	for _, t := range history {
		out = append(out, gateway.Exchange{User: t.Text, Assistant: t.Response})
	}
	return out
}
