package handlers

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/lobby"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollSessionsReuseAndDrain(t *testing.T) {
	p := NewPollSessions(nil)
	u := models.User{ID: uuid.New(), Username: "alice"}

	conn := p.Conn(u)
	assert.Equal(t, lobby.TransportPoll, conn.Transport)
	assert.Same(t, conn, p.Conn(u))

	conn.Write(models.Event{Type: models.EventLobbyUpdated, Version: 1})
	conn.Write(models.Event{Type: models.EventLobbyUpdated, Version: 2})

	evs := p.Drain(u.ID)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(1), evs[0].Version)
	assert.Empty(t, p.Drain(u.ID))
	assert.Nil(t, p.Drain(uuid.New()))
}

func TestPollSessionsReap(t *testing.T) {
	p := NewPollSessions(nil)
	stale := models.User{ID: uuid.New()}
	fresh := models.User{ID: uuid.New()}

	old := p.Conn(stale)
	p.mu.Lock()
	p.sessions[stale.ID].lastSeen = time.Now().Add(-time.Hour)
	p.mu.Unlock()
	p.Conn(fresh)

	assert.Equal(t, 1, p.Reap(time.Minute))
	assert.NotSame(t, old, p.Conn(stale), "a reaped user gets a new connection")
}

func TestPollSessionsReapKeepsSeatedUsers(t *testing.T) {
	seatedUser := models.User{ID: uuid.New()}
	gone := models.User{ID: uuid.New()}
	p := NewPollSessions(func(id uuid.UUID) bool { return id == seatedUser.ID })

	kept := p.Conn(seatedUser)
	p.Conn(gone)
	p.mu.Lock()
	for _, s := range p.sessions {
		s.lastSeen = time.Now().Add(-time.Hour)
	}
	p.mu.Unlock()

	assert.Equal(t, 1, p.Reap(time.Minute))
	assert.Same(t, kept, p.Conn(seatedUser), "the lobby still writes to this connection")
}
