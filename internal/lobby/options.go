// internal/lobby/options.go
package lobby

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/sirupsen/logrus"
)

// MatchRequest is what the match engine receives when a lobby starts.
type MatchRequest struct {
	LobbyID  uuid.UUID               `json:"lobby_id"`
	Seats    []models.SeatAssignment `json:"seats"`
	Settings models.Settings         `json:"settings"`
}

// MatchEngine creates the downstream match. It is called at most once per lobby for a
// successful start; implementations should treat LobbyID as an idempotency key.
type MatchEngine interface {
	CreateMatch(ctx context.Context, req MatchRequest) (matchID string, err error)
}

// SnapshotPublisher mirrors snapshots into an external store. Publish is called from
// the actor goroutine and must not block.
type SnapshotPublisher interface {
	Publish(snap models.Snapshot)
	Forget(lobbyID uuid.UUID)
}

// HandoffSigner produces the signed bearer form of a handoff token.
type HandoffSigner func(h models.Handoff) (string, error)

// Options configures every lobby created by a Registry.
type Options struct {
	HeartbeatInterval       time.Duration
	HeartbeatGraceIntervals int
	HostGrace               time.Duration
	InactivityWindow        time.Duration
	InactivityCountdown     time.Duration
	SwapTimeout             time.Duration
	EmptyGrace              time.Duration
	HandoffLinger           time.Duration
	StartTimeout            time.Duration

	Engine    MatchEngine
	Publisher SnapshotPublisher
	Signer    HandoffSigner
	Logger    logrus.FieldLogger
}

// DefaultOptions returns the recommended protocol timings.
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval:       30 * time.Second,
		HeartbeatGraceIntervals: 2,
		HostGrace:               10 * time.Second,
		InactivityWindow:        2 * time.Minute,
		InactivityCountdown:     60 * time.Second,
		SwapTimeout:             30 * time.Second,
		EmptyGrace:              30 * time.Second,
		HandoffLinger:           30 * time.Second,
		StartTimeout:            10 * time.Second,
	}
}

// withDefaults fills every zero field from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.HeartbeatGraceIntervals <= 0 {
		o.HeartbeatGraceIntervals = d.HeartbeatGraceIntervals
	}
	if o.HostGrace <= 0 {
		o.HostGrace = d.HostGrace
	}
	if o.InactivityWindow <= 0 {
		o.InactivityWindow = d.InactivityWindow
	}
	if o.InactivityCountdown <= 0 {
		o.InactivityCountdown = d.InactivityCountdown
	}
	if o.SwapTimeout <= 0 {
		o.SwapTimeout = d.SwapTimeout
	}
	if o.EmptyGrace <= 0 {
		o.EmptyGrace = d.EmptyGrace
	}
	if o.HandoffLinger <= 0 {
		o.HandoffLinger = d.HandoffLinger
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = d.StartTimeout
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// heartbeatGrace is how long a slot may stay silent before it is marked disconnected.
func (o Options) heartbeatGrace() time.Duration {
	return o.HeartbeatInterval * time.Duration(o.HeartbeatGraceIntervals)
}

// sweepInterval is the presence monitor's tick.
func (o Options) sweepInterval() time.Duration {
	return o.HeartbeatInterval / 2
}
