// internal/models/event.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a server-to-client message.
type EventType string

const (
	EventLobbyUpdated      EventType = "lobby:updated"
	EventPlayerJoined      EventType = "player:joined"
	EventPlayerLeft        EventType = "player:left"
	EventKicked            EventType = "kicked"
	EventGameStarting      EventType = "game:starting"
	EventClosed            EventType = "closed"
	EventInactivityWarning EventType = "inactivity:warning"
	EventSwapRequested     EventType = "swap:requested"
	EventSwapSent          EventType = "swap:sent"
	EventSwapDeclined      EventType = "swap:declined"
	EventHostPromoted      EventType = "host:promoted"
	EventHostChanged       EventType = "host:changed"
	EventError             EventType = "error"
	EventAck               EventType = "ack"
)

// Event is a broadcast or targeted notice produced by a lobby.
type Event struct {
	Type          EventType `json:"type"`
	LobbyID       uuid.UUID `json:"lobby_id"`
	Version       uint64    `json:"version,omitempty"`
	Snapshot      *Snapshot `json:"snapshot,omitempty"`
	UserID        uuid.UUID `json:"user_id,omitempty"`
	DisplayName   string    `json:"display_name,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	MatchID       string    `json:"match_id,omitempty"`
	Handoff       *Handoff  `json:"handoff,omitempty"`
	TimeRemaining int       `json:"time_remaining,omitempty"` // seconds
}

// SeatAssignment maps one seat to its player in the match handoff.
type SeatAssignment struct {
	Seat        int       `json:"seat"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
}

// Handoff is the match handoff token: issued at most once per lobby and handed to
// each client so it can join the downstream match.
type Handoff struct {
	TokenID  uuid.UUID        `json:"token_id"`
	LobbyID  uuid.UUID        `json:"lobby_id"`
	MatchID  string           `json:"match_id"`
	Seats    []SeatAssignment `json:"seats"`
	Settings Settings         `json:"settings"`
	IssuedAt time.Time        `json:"issued_at"`
	// Token is the signed form the match engine verifies.
	Token string `json:"token,omitempty"`
}
