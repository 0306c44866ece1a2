// internal/models/lobby.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxSeats is fixed: a lobby always seats exactly two players.
const MaxSeats = 2

// Visibility controls whether a lobby shows up in the public listing.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// State is the stored lobby state. Empty and abandoned are derived from seat occupancy
// and reported as flags on the Snapshot instead.
type State string

const (
	StateWaiting  State = "waiting"
	StateReady    State = "ready"
	StateStarting State = "starting"
	StateClosed   State = "closed"
)

// Open reports whether the lobby still accepts membership changes.
func (s State) Open() bool {
	return s == StateWaiting || s == StateReady
}

// ConnState is the liveness of a seated player's transport.
type ConnState string

const (
	Connected    ConnState = "connected"
	Disconnected ConnState = "disconnected"
)

// Settings are the game settings carried into the match handoff.
type Settings struct {
	Mode              string `json:"mode"`
	StartingResources int    `json:"starting_resources"`
	MaxTurns          int    `json:"max_turns"`
}

// DefaultSettings mirrors what a lobby gets when the creator sends no settings.
func DefaultSettings() Settings {
	return Settings{
		Mode:              "head_to_head",
		StartingResources: 20,
		MaxTurns:          30,
	}
}

// Slot is one occupied seat.
type Slot struct {
	Seat          int       `json:"seat"`
	UserID        uuid.UUID `json:"user_id"`
	DisplayName   string    `json:"display_name"`
	ConnectionID  uuid.UUID `json:"connection_id"`
	Connection    ConnState `json:"connection"`
	JoinedAt      time.Time `json:"joined_at"`
	Ready         bool      `json:"ready"`
	IsHost        bool      `json:"is_host"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// SwapState is the pending seat swap, if any.
type SwapState struct {
	RequesterID uuid.UUID          `json:"requester_id"`
	RequestedAt time.Time          `json:"requested_at"`
	Accepted    map[uuid.UUID]bool `json:"accepted"`
}

// Snapshot is an immutable, versioned view of a lobby. Clients replace their local
// state with the newest snapshot they receive; they never merge partial updates.
type Snapshot struct {
	LobbyID      uuid.UUID  `json:"lobby_id"`
	Version      uint64     `json:"version"`
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	Visibility   Visibility `json:"visibility"`
	MaxSeats     int        `json:"max_seats"`
	State        State      `json:"state"`
	Empty        bool       `json:"empty"`
	Abandoned    bool       `json:"abandoned"`
	HostID       uuid.UUID  `json:"host_id"`
	CreatorID    uuid.UUID  `json:"creator_id"`
	Settings     Settings   `json:"settings"`
	Seats        []Slot     `json:"seats"`
	Swap         *SwapState `json:"swap,omitempty"`
	MatchID      string     `json:"match_id,omitempty"`
	ChatChannel  string     `json:"chat_channel"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
}

// SeatOf returns the slot occupied by userID.
func (s Snapshot) SeatOf(userID uuid.UUID) (Slot, bool) {
	for _, slot := range s.Seats {
		if slot.UserID == userID {
			return slot, true
		}
	}
	return Slot{}, false
}

// Host returns the slot holding the host flag.
func (s Snapshot) Host() (Slot, bool) {
	for _, slot := range s.Seats {
		if slot.IsHost {
			return slot, true
		}
	}
	return Slot{}, false
}

// Summary is the public listing entry for a lobby.
type Summary struct {
	LobbyID   uuid.UUID `json:"lobby_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Occupants int       `json:"occupants"`
	MaxSeats  int       `json:"max_seats"`
	HostName  string    `json:"host_name"`
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary condenses the snapshot for lobbies:list.
func (s Snapshot) Summary() Summary {
	sum := Summary{
		LobbyID:   s.LobbyID,
		Code:      s.Code,
		Name:      s.Name,
		State:     s.State,
		Occupants: len(s.Seats),
		MaxSeats:  s.MaxSeats,
		Settings:  s.Settings,
		CreatedAt: s.CreatedAt,
	}
	if host, ok := s.Host(); ok {
		sum.HostName = host.DisplayName
	}
	return sum
}
