// Package session keeps bounded per-session conversational context in memory.
package session

import (
	"container/list"
	"sync"
	"time"

	"github.com/ashureev/kaya/internal/classifier"
	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/outputguard"
)

// MaxHistory is the number of turns kept per session.
const MaxHistory = 5

// Turn is one completed exchange.
type Turn struct {
	Utterance      domain.Utterance  `json:"-"`
	Text           string            `json:"utterance"`
	Response       string            `json:"response"`
	Agent          string            `json:"agent"`
	Classification classifier.Result `json:"classification"`
	ViaLLM         bool              `json:"via_llm"`
	At             time.Time         `json:"at"`
}

// Session is the mutable context of one conversation. All accessors are safe
// for concurrent use.
type Session struct {
	mu           sync.Mutex
	id           string
	createdAt    time.Time
	lastActivity time.Time
	lastAgent    string
	lastPersona  string
	history      []Turn
	style        outputguard.State

	elem *list.Element // guarded by Store.mu
}

func newSession(id string, now time.Time) *Session {
	return &Session{id: id, createdAt: now, lastActivity: now}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActivity returns the time of the most recent access.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// LastAgent returns the agent that answered the previous turn, if any.
func (s *Session) LastAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAgent
}

// LastPersona returns the persona detected on the previous turn, if any.
func (s *Session) LastPersona() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPersona
}

// History returns a copy of the retained turns, oldest first.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Snapshot returns a read-only export of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]Turn, len(s.history))
	copy(h, s.history)
	return Snapshot{
		ID:           s.id,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		LastAgent:    s.lastAgent,
		LastPersona:  s.lastPersona,
		History:      h,
	}
}

// Restyle applies g to a generated answer using the footers and closers this
// session has already seen.
func (s *Session) Restyle(g *outputguard.Guard, raw string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return g.Apply(raw, &s.style)
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

func (s *Session) append(t Turn, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, t)
	if n := len(s.history); n > MaxHistory {
		s.history = append([]Turn(nil), s.history[n-MaxHistory:]...)
	}
	s.lastActivity = now
	if t.Agent != "" {
		s.lastAgent = t.Agent
	}
	if p := t.Classification.Persona.Value; p != "" && p != classifier.DefaultPersona {
		s.lastPersona = p
	}
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// Snapshot is an immutable copy of a session.
type Snapshot struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	LastAgent    string    `json:"last_agent,omitempty"`
	LastPersona  string    `json:"last_persona,omitempty"`
	History      []Turn    `json:"history"`
}

// Archive converts the snapshot into its persisted form.
func (s Snapshot) Archive(reason string, at time.Time) domain.ArchivedSession {
	turns := make([]domain.StoredTurn, 0, len(s.History))
	for _, t := range s.History {
		turns = append(turns, domain.StoredTurn{
			Utterance: t.Text,
			Response:  t.Response,
			Agent:     t.Agent,
			Intent:    t.Classification.Intent.Value,
			Persona:   t.Classification.Persona.Value,
			Emotion:   t.Classification.Emotion.Value,
			Urgency:   t.Classification.Urgency.Value,
			ViaLLM:    t.ViaLLM,
			At:        t.At,
		})
	}
	return domain.ArchivedSession{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		LastAgent:    s.LastAgent,
		LastPersona:  s.LastPersona,
		Turns:        turns,
		ArchivedAt:   at,
		Reason:       reason,
	}
}

// FromArchive rebuilds a snapshot from an archived session. Classification
// confidences are not persisted and come back as zero.
func FromArchive(a domain.ArchivedSession) Snapshot {
	h := make([]Turn, 0, len(a.Turns))
	for _, t := range a.Turns {
		h = append(h, Turn{
			Text:     t.Utterance,
			Response: t.Response,
			Agent:    t.Agent,
			Classification: classifier.Result{
				Intent:  classifier.Label{Value: t.Intent},
				Persona: classifier.Label{Value: t.Persona},
				Emotion: classifier.Label{Value: t.Emotion},
				Urgency: classifier.Label{Value: t.Urgency},
			},
			ViaLLM: t.ViaLLM,
			At:     t.At,
		})
	}
	return Snapshot{
		ID:           a.ID,
		CreatedAt:    a.CreatedAt,
		LastActivity: a.LastActivity,
		LastAgent:    a.LastAgent,
		LastPersona:  a.LastPersona,
		History:      h,
	}
}
