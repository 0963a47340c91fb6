package session

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/metrics"
)

// ErrSessionNotFound is returned for operations on unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Defaults used when Options leaves a field zero.
const (
	DefaultIdleTimeout   = time.Hour
	DefaultSweepInterval = 5 * time.Minute
	DefaultMaxSessions   = 10000
)

// EvictFunc receives sessions removed from the store together with the
// reason (one of the domain.ArchiveReason constants).
type EvictFunc func(snap Snapshot, reason string)

// Options configures a Store.
type Options struct {
	IdleTimeout time.Duration
	MaxSessions int
	OnEvict     EvictFunc
	Now         func() time.Time
	Logger      *slog.Logger
}

// Store holds live sessions. The list is ordered by last activity, least
// recent at the front.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    *list.List

	idle    time.Duration
	max     int
	onEvict EvictFunc
	now     func() time.Time
	logger  *slog.Logger
}

// NewStore creates an empty session store.
func NewStore(opts Options) *Store {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*Session),
		order:    list.New(),
		idle:     opts.IdleTimeout,
		max:      opts.MaxSessions,
		onEvict:  opts.OnEvict,
		now:      opts.Now,
		logger:   opts.Logger,
	}
}

type eviction struct {
	snap   Snapshot
	reason string
}

// GetOrCreate returns the session for id, creating it if needed. Repeated
// calls with the same id return the same pointer while the session lives.
func (st *Store) GetOrCreate(id string) *Session {
	now := st.now()

	st.mu.Lock()
	if s, ok := st.sessions[id]; ok {
		s.touch(now)
		st.order.MoveToBack(s.elem)
		st.mu.Unlock()
		return s
	}

	s := newSession(id, now)
	s.elem = st.order.PushBack(s)
	st.sessions[id] = s

	var evicted []eviction
	for st.order.Len() > st.max {
		oldest := st.order.Front().Value.(*Session)
		st.removeLocked(oldest)
		evicted = append(evicted, eviction{oldest.Snapshot(), domain.ArchiveReasonCapacity})
	}
	st.mu.Unlock()

	st.notify(evicted)
	return s
}

// Get returns the live session for id without touching it.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	return s, ok
}

// AppendTurn records a completed turn, keeping the most recent MaxHistory.
func (st *Store) AppendTurn(id string, t Turn) error {
	now := st.now()

	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if t.At.IsZero() {
		t.At = now
	}
	if t.Text == "" {
		t.Text = t.Utterance.Text
	}
	s.append(t, now)
	st.order.MoveToBack(s.elem)
	return nil
}

// SweepExpired removes sessions idle for longer than the idle timeout and
// returns how many were removed.
func (st *Store) SweepExpired(now time.Time) int {
	var evicted []eviction

	st.mu.Lock()
	for e := st.order.Front(); e != nil; {
		next := e.Next()
		s := e.Value.(*Session)
		if s.idleSince(now) > st.idle {
			st.removeLocked(s)
			evicted = append(evicted, eviction{s.Snapshot(), domain.ArchiveReasonIdle})
		}
		e = next
	}
	st.mu.Unlock()

	st.notify(evicted)
	return len(evicted)
}

// End removes a session explicitly.
func (st *Store) End(id string) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if !ok {
		st.mu.Unlock()
		return ErrSessionNotFound
	}
	st.removeLocked(s)
	st.mu.Unlock()

	st.notify([]eviction{{s.Snapshot(), domain.ArchiveReasonEnded}})
	return nil
}

// Snapshot exports a live session.
func (st *Store) Snapshot(id string) (Snapshot, bool) {
	s, ok := st.Get(id)
	if !ok {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Snapshots exports every live session, least recently active first.
func (st *Store) Snapshots() []Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Snapshot, 0, st.order.Len())
	for e := st.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Session).Snapshot())
	}
	return out
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

func (st *Store) removeLocked(s *Session) {
	st.order.Remove(s.elem)
	delete(st.sessions, s.id)
}

func (st *Store) notify(evicted []eviction) {
	for _, ev := range evicted {
		metrics.SessionEvictions.WithLabelValues(ev.reason).Inc()
		if st.onEvict != nil {
			st.onEvict(ev.snap, ev.reason)
		}
	}
	if len(evicted) > 0 {
		metrics.ActiveSessions.Set(float64(st.Len()))
	}
}

// StartSweeper runs a background goroutine that periodically removes idle
// sessions until ctx is cancelled.
func (st *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		st.logger.Info("Session sweeper started", "interval", interval, "idle_timeout", st.idle)

		for {
			select {
			case <-ticker.C:
				if n := st.SweepExpired(st.now()); n > 0 {
					st.logger.Info("Session sweeper removed idle sessions", "count", n, "remaining", st.Len())
				}
			case <-ctx.Done():
				st.logger.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
