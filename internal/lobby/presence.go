// internal/lobby/presence.go
package lobby

import (
	"math"
	"time"

	"github.com/jason-s-yu/cambia-lobby/internal/models"
)

// actorTimer is a timer whose callback runs on the actor goroutine. Every arm or
// cancel bumps the generation, so a callback that was already queued when the timer
// was superseded becomes a no-op.
type actorTimer struct {
	t      *time.Timer
	gen    uint64
	active bool
}

func (at *actorTimer) cancel() {
	at.gen++
	at.active = false
	if at.t != nil {
		at.t.Stop()
		at.t = nil
	}
}

// arm (re)schedules fn after d. Must be called on the actor goroutine.
func (l *Lobby) arm(at *actorTimer, d time.Duration, fn func()) {
	at.cancel()
	at.active = true
	gen := at.gen
	at.t = time.AfterFunc(d, func() {
		l.post(func() {
			if at.gen != gen {
				return
			}
			at.active = false
			fn()
		})
	})
}

// touch records liveness for m and lobby activity. Returns true when m was marked
// disconnected by the monitor and is now connected again.
func (l *Lobby) touch(m *member) bool {
	now := time.Now()
	m.slot.LastHeartbeat = now
	l.activity(now)
	if m.slot.Connection == models.Disconnected && m.conn != nil {
		m.slot.Connection = models.Connected
		l.checkHostAbsence()
		return true
	}
	return false
}

// activity resets the inactivity window and withdraws a pending warning.
func (l *Lobby) activity(now time.Time) {
	l.lastActivity = now
	if l.warned {
		l.warned = false
		l.countdownTimer.cancel()
	}
	l.armInactivity()
}

func (l *Lobby) armInactivity() {
	if !l.state.Open() {
		return
	}
	l.arm(&l.inactivityTimer, l.opts.InactivityWindow, l.onInactive)
}

func (l *Lobby) onInactive() {
	if !l.state.Open() || l.warned {
		return
	}
	l.warned = true
	l.log.Infof("No activity for %s, warning members", l.opts.InactivityWindow)
	l.broadcast(models.Event{
		Type:          models.EventInactivityWarning,
		TimeRemaining: int(math.Ceil(l.opts.InactivityCountdown.Seconds())),
		Reason:        "inactivity",
	})
	l.arm(&l.countdownTimer, l.opts.InactivityCountdown, func() {
		l.shutdown("inactivity")
	})
}

// sweep is the heartbeat monitor tick: slots silent past the grace window are marked
// disconnected but keep their seat.
func (l *Lobby) sweep(now time.Time) {
	if l.state == models.StateClosed {
		return
	}
	grace := l.opts.heartbeatGrace()
	changed := false
	for _, m := range l.seats {
		if m == nil || m.slot.Connection != models.Connected {
			continue
		}
		if now.Sub(m.slot.LastHeartbeat) > grace {
			l.log.Infof("User %s missed heartbeats for %s, marking disconnected", m.slot.UserID, grace)
			l.markDisconnected(m, false)
			changed = true
		}
	}
	if changed {
		l.recomputeState()
		l.commit()
	}
}

// markDisconnected flags m as disconnected without vacating the seat. When detach is
// set the connection is dropped as well, because the transport behind it is gone.
func (l *Lobby) markDisconnected(m *member, detach bool) {
	m.slot.Connection = models.Disconnected
	if detach {
		m.conn = nil
	}
	if l.swap != nil && l.swap.involves(m) {
		l.endSwap(m, "disconnected")
	}
	l.checkHostAbsence()
}

// checkHostAbsence arms or cancels the host grace timer based on the host's connection.
func (l *Lobby) checkHostAbsence() {
	h := l.host
	if h == nil || h.slot.Connection == models.Connected || !l.state.Open() {
		l.hostGraceTimer.cancel()
		return
	}
	if l.hostGraceTimer.active {
		return
	}
	l.arm(&l.hostGraceTimer, l.opts.HostGrace, l.resolveHostAbsence)
}

// resolveHostAbsence runs once the host grace has elapsed: promote the other occupant
// if it is connected, otherwise nobody is left to start the game and the lobby closes.
func (l *Lobby) resolveHostAbsence() {
	h := l.host
	if h == nil || h.slot.Connection == models.Connected || !l.state.Open() {
		return
	}
	if o := l.other(h); o != nil && o.slot.Connection == models.Connected {
		l.migrateHost(o, "host disconnected")
		return
	}
	l.shutdown("host_disconnected")
}

// migrateHost promotes m in a single mutation and notifies the new host distinctly.
func (l *Lobby) migrateHost(m *member, reason string) {
	prev := l.host
	l.setHost(m)
	l.recomputeState()
	l.commit()
	if prev == m {
		return
	}
	l.log.Infof("Host migrated to %s: %s", m.slot.UserID, reason)
	l.notify(m, models.Event{Type: models.EventHostPromoted, UserID: m.slot.UserID, DisplayName: m.slot.DisplayName, Reason: reason})
	l.notifyOthers(m, models.Event{Type: models.EventHostChanged, UserID: m.slot.UserID, DisplayName: m.slot.DisplayName, Reason: reason})
}
