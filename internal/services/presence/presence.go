// Package presence tracks which users currently hold a live connection.
//
// A Registry is owned by the application: it is populated when a client
// connects or sends a heartbeat, shrinks on explicit disconnect, and is swept
// of idle connections by Run until its context is cancelled.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"judgeauth/internal/domain/models"
	"judgeauth/internal/lib/metrics"
)

const DefaultTimeout = 2 * time.Minute

// Member is the public view of an online user.
type Member struct {
	UserID      int64
	Username    string
	DisplayName string
	Role        models.Role
	Rating      int
}

type entry struct {
	member      Member
	connectedAt time.Time
	lastSeen    time.Time
}

type Registry struct {
	log     *slog.Logger
	timeout time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	conns map[string]entry
}

type Option func(*Registry)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New returns an empty registry. Connections idle for longer than timeout
// are dropped by EvictExpired.
func New(log *slog.Logger, timeout time.Duration, opts ...Option) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	r := &Registry{
		log:     log,
		timeout: timeout,
		now:     time.Now,
		conns:   make(map[string]entry),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Connect registers connID for the token holder or refreshes its last-seen
// time if it is already known.
func (r *Registry) Connect(connID string, claims models.AccessClaims) {
	now := r.now()

	r.mu.Lock()
	e, ok := r.conns[connID]
	if !ok {
		e.connectedAt = now
	}
	e.member = Member{
		UserID:      claims.UserID,
		Username:    claims.Username,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
		Rating:      claims.Rating,
	}
	e.lastSeen = now
	r.conns[connID] = e
	r.mu.Unlock()

	if !ok {
		r.log.Debug("connection registered",
			slog.String("conn", connID),
			slog.Int64("uid", claims.UserID),
		)
		r.report()
	}
}

// Disconnect forgets connID. It reports whether the connection was known.
func (r *Registry) Disconnect(connID string) bool {
	r.mu.Lock()
	_, ok := r.conns[connID]
	delete(r.conns, connID)
	r.mu.Unlock()

	if ok {
		r.report()
	}

	return ok
}

// Online returns one Member per distinct user, in the order users first
// connected.
func (r *Registry) Online() []Member {
	r.mu.Lock()
	entries := make([]entry, 0, len(r.conns))
	for _, e := range r.conns {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].connectedAt.Equal(entries[j].connectedAt) {
			return entries[i].connectedAt.Before(entries[j].connectedAt)
		}
		return entries[i].member.UserID < entries[j].member.UserID
	})

	seen := make(map[int64]struct{}, len(entries))
	members := make([]Member, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.member.UserID]; dup {
			continue
		}
		seen[e.member.UserID] = struct{}{}
		members = append(members, e.member)
	}

	return members
}

// EvictExpired drops connections not seen within the timeout and returns how
// many were removed.
func (r *Registry) EvictExpired() int {
	deadline := r.now().Add(-r.timeout)

	r.mu.Lock()
	evicted := 0
	for id, e := range r.conns {
		if e.lastSeen.Before(deadline) {
			delete(r.conns, id)
			evicted++
		}
	}
	r.mu.Unlock()

	if evicted > 0 {
		r.report()
	}

	return evicted
}

// Run sweeps idle connections every interval until ctx is done. All entries
// are dropped on return.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	const op = "presence.Run"

	log := r.log.With(slog.String("op", op))

	if interval <= 0 {
		interval = r.timeout / 2
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			clear(r.conns)
			r.mu.Unlock()
			r.report()
			log.Info("presence registry stopped")
			return
		case <-ticker.C:
			if n := r.EvictExpired(); n > 0 {
				log.Debug("evicted idle connections", slog.Int("count", n))
			}
		}
	}
}

func (r *Registry) report() {
	r.metrics.OnlineUsers(len(r.Online()))
}
