// internal/handlers/poll_sessions.go
package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/lobby"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
)

type pollSession struct {
	conn     *lobby.Connection
	lastSeen time.Time
}

// PollSessions holds one poll-mode connection per user. The lobby writes notices into
// it like any other connection; each poll request drains them into the response.
type PollSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*pollSession
	// seated reports whether a user still holds a seat; their session may be the
	// connection the lobby writes to, so Reap keeps it.
	seated func(uuid.UUID) bool
}

// NewPollSessions returns an empty set. seated may be nil.
func NewPollSessions(seated func(uuid.UUID) bool) *PollSessions {
	return &PollSessions{sessions: make(map[uuid.UUID]*pollSession), seated: seated}
}

// Conn returns the user's poll connection, creating it on first use.
func (p *PollSessions) Conn(user models.User) *lobby.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[user.ID]
	if !ok {
		s = &pollSession{conn: lobby.NewConnection(user, lobby.TransportPoll)}
		p.sessions[user.ID] = s
	}
	s.lastSeen = time.Now()
	return s.conn
}

// Drain returns the notices queued for the user since the previous poll.
func (p *PollSessions) Drain(userID uuid.UUID) []models.Event {
	p.mu.Lock()
	s, ok := p.sessions[userID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return s.conn.Drain()
}

// Reap drops sessions not seen for idle whose user is no longer seated.
func (p *PollSessions) Reap(idle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-idle)
	n := 0
	for id, s := range p.sessions {
		if s.lastSeen.Before(cutoff) && (p.seated == nil || !p.seated(id)) {
			delete(p.sessions, id)
			n++
		}
	}
	return n
}

// RunReaper calls Reap every period until ctx is done.
func (p *PollSessions) RunReaper(ctx context.Context, every, idle time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Reap(idle)
		}
	}
}
