// internal/models/command.go
package models

import "github.com/google/uuid"

// Command names. Both transports accept the same set.
const (
	CmdCreate      = "create"
	CmdJoin        = "join"
	CmdLeave       = "leave"
	CmdGet         = "get"
	CmdKick        = "kick"
	CmdReady       = "ready"
	CmdReadyToggle = "ready:toggle"
	CmdSwapRequest = "swap:request"
	CmdSwapAccept  = "swap:accept"
	CmdSwapDecline = "swap:decline"
	CmdStart       = "start"
	CmdHeartbeat   = "heartbeat"
	CmdListLobbies = "lobbies:list"
)

// Command is one client request. Fields not used by a command are ignored.
type Command struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	LobbyID   uuid.UUID `json:"lobby_id,omitempty"`
	Code      string    `json:"code,omitempty"`
	UserID    uuid.UUID `json:"user_id,omitempty"` // kick target
	IsReady   *bool     `json:"is_ready,omitempty"`

	// create
	Name       string     `json:"name,omitempty"`
	Visibility Visibility `json:"visibility,omitempty"`
	Settings   *Settings  `json:"settings,omitempty"`
}

// Result is the success payload of a command.
type Result struct {
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Seat     *int      `json:"seat,omitempty"`
	Lobbies  []Summary `json:"lobbies,omitempty"`
	Handoff  *Handoff  `json:"handoff,omitempty"`
	// Events holds notices queued for a polling client since its previous request.
	Events []Event `json:"events,omitempty"`
}

// Ack is the single acknowledgement a command receives. On the push channel it is
// framed with type "ack" or "error"; the poll surface returns it as the response body.
type Ack struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Command   string    `json:"command,omitempty"`
	OK        bool      `json:"ok"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Result
}
