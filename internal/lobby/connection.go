// internal/lobby/connection.go
package lobby

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/sirupsen/logrus"
)

// Transport tags how a connection's events reach the client.
type Transport string

const (
	// TransportPush connections are drained continuously by a websocket write pump.
	TransportPush Transport = "push"
	// TransportPoll connections are drained on each poll request.
	TransportPoll Transport = "poll"
)

// DefaultOutBuffer is the OutChan capacity for new connections.
const DefaultOutBuffer = 64

// Connection is a single client's delivery channel into a lobby. A lobby only ever
// writes to it from its actor goroutine; the transport only ever reads from it.
type Connection struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Username  string
	Transport Transport
	OutChan   chan models.Event
}

// NewConnection creates a connection with a fresh ID.
func NewConnection(user models.User, transport Transport) *Connection {
	return &Connection{
		ID:        uuid.New(),
		UserID:    user.ID,
		Username:  user.Username,
		Transport: transport,
		OutChan:   make(chan models.Event, DefaultOutBuffer),
	}
}

// Write pushes an event onto OutChan without blocking. When the buffer is full the
// oldest queued event is dropped; snapshots are versioned so the newest one supersedes it.
func (conn *Connection) Write(ev models.Event) {
	select {
	case conn.OutChan <- ev:
		return
	default:
	}

	select {
	case dropped := <-conn.OutChan:
		logrus.WithFields(logrus.Fields{
			"user_id":   conn.UserID,
			"transport": conn.Transport,
			"dropped":   dropped.Type,
		}).Warn("connection buffer full, dropped oldest event")
	default:
	}

	select {
	case conn.OutChan <- ev:
	default:
		logrus.WithFields(logrus.Fields{
			"user_id": conn.UserID,
			"type":    ev.Type,
		}).Warn("connection buffer full, dropped event")
	}
}

// Drain returns every queued event without blocking. Used by the poll surface.
func (conn *Connection) Drain() []models.Event {
	var events []models.Event
	for {
		select {
		case ev := <-conn.OutChan:
			events = append(events, ev)
		default:
			return events
		}
	}
}
