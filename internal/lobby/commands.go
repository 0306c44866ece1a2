// internal/lobby/commands.go
package lobby

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
)

// JoinResult is the seat a join resolved to.
type JoinResult struct {
	Seat     int
	Snapshot models.Snapshot
}

// Join seats user in the lowest free seat; the first occupant becomes host in seat 0.
// Joining again while already seated is safe: the current seat is returned and conn
// replaces whatever connection the seat had, which is how a client reconnects or
// switches transports.
func (l *Lobby) Join(ctx context.Context, user models.User, conn *Connection) (JoinResult, error) {
	return call(ctx, l, func() (JoinResult, error) {
		if m := l.memberOf(user.ID); m != nil {
			return l.rejoin(m, conn), nil
		}
		if !l.state.Open() {
			return JoinResult{}, l.closedError()
		}
		seat := l.freeSeat()
		if seat < 0 {
			return JoinResult{}, newError(KindLobbyFull, "lobby %s is full", l.ID)
		}
		if l.reg != nil && !l.reg.claim(user.ID, l.ID) {
			return JoinResult{}, newError(KindAlreadyInLobby, "user %s is already seated in another lobby", user.ID)
		}

		m := &member{slot: models.Slot{
			Seat:        seat,
			UserID:      user.ID,
			DisplayName: user.Username,
			Connection:  models.Connected,
		}}
		m.slot.JoinedAt = time.Now()
		m.slot.LastHeartbeat = m.slot.JoinedAt
		if conn != nil {
			m.conn = conn
			m.slot.ConnectionID = conn.ID
		}
		l.seats[seat] = m
		if l.host == nil {
			l.setHost(m)
		}
		l.emptyTimer.cancel()
		l.touch(m)
		l.recomputeState()
		snap := l.commit()

		l.log.Infof("User %s (%s) joined seat %d", user.ID, user.Username, seat)
		l.notifyOthers(m, models.Event{Type: models.EventPlayerJoined, UserID: user.ID, DisplayName: user.Username})
		return JoinResult{Seat: m.slot.Seat, Snapshot: snap}, nil
	})
}

// rejoin handles a join from a user that already holds a seat.
func (l *Lobby) rejoin(m *member, conn *Connection) JoinResult {
	changed := false
	if conn != nil && m.conn != conn {
		m.conn = conn
		m.slot.ConnectionID = conn.ID
		changed = true
	}
	if m.slot.Connection == models.Disconnected && m.conn != nil {
		m.slot.Connection = models.Connected
		changed = true
	}
	l.touch(m)
	l.checkHostAbsence()
	if changed {
		l.log.Infof("User %s re-attached on connection %s", m.slot.UserID, m.slot.ConnectionID)
		snap := l.commit()
		if l.handoff != nil {
			// the previous transport may have gone away before game:starting arrived
			l.notify(m, models.Event{Type: models.EventGameStarting, Version: snap.Version, MatchID: l.handoff.MatchID, Snapshot: &snap, Handoff: l.handoff})
		}
		return JoinResult{Seat: m.slot.Seat, Snapshot: snap}
	}
	return JoinResult{Seat: m.slot.Seat, Snapshot: l.Snapshot()}
}

// Leave vacates the user's seat. A departing host hands the lobby to the remaining
// occupant; the last occupant leaving closes the lobby.
func (l *Lobby) Leave(ctx context.Context, userID uuid.UUID) (models.Snapshot, error) {
	return call(ctx, l, func() (models.Snapshot, error) {
		m := l.memberOf(userID)
		if m == nil {
			return models.Snapshot{}, newError(KindNoSuchPlayer, "user %s is not in this lobby", userID)
		}
		if !l.state.Open() {
			return models.Snapshot{}, l.closedError()
		}
		l.vacate(m, "left", false)
		return l.Snapshot(), nil
	})
}

// Kick removes target on behalf of the host. The target is told it was kicked rather
// than receiving an ordinary leave notice.
func (l *Lobby) Kick(ctx context.Context, requesterID, targetID uuid.UUID) (models.Snapshot, error) {
	return call(ctx, l, func() (models.Snapshot, error) {
		r := l.memberOf(requesterID)
		if r == nil || r != l.host {
			return models.Snapshot{}, newError(KindNotHost, "only the host can kick")
		}
		if !l.state.Open() {
			return models.Snapshot{}, l.closedError()
		}
		l.touch(r)
		t := l.memberOf(targetID)
		if t == nil {
			return models.Snapshot{}, newError(KindNoSuchPlayer, "user %s is not in this lobby", targetID)
		}
		if t == r {
			return models.Snapshot{}, newError(KindInvalidRequest, "host cannot kick themselves")
		}
		l.vacate(t, "kicked by host", true)
		return l.Snapshot(), nil
	})
}

// vacate removes m from its seat and publishes the result.
func (l *Lobby) vacate(m *member, reason string, kicked bool) {
	if l.swap != nil && l.swap.involves(m) {
		l.endSwap(m, reason)
	}
	l.seats[m.slot.Seat] = nil
	if l.reg != nil {
		l.reg.release(m.slot.UserID, l.ID)
	}
	if kicked {
		l.notify(m, models.Event{Type: models.EventKicked, UserID: m.slot.UserID, Reason: reason})
	}
	l.log.Infof("User %s vacated seat %d (%s)", m.slot.UserID, m.slot.Seat, reason)

	wasHost := m == l.host
	if l.occupancy() == 0 {
		l.host = nil
		l.shutdown("empty")
		// m is already unseated, so the shutdown broadcast skipped it
		snap := l.Snapshot()
		l.notify(m, models.Event{Type: models.EventClosed, Version: snap.Version, Reason: "empty", Snapshot: &snap})
		return
	}

	l.activity(time.Now())
	var promoted *member
	if wasHost {
		promoted = l.other(m)
		l.host = nil
		l.setHost(promoted)
	}
	l.recomputeState()
	l.commit()
	l.notifyOthers(m, models.Event{Type: models.EventPlayerLeft, UserID: m.slot.UserID, DisplayName: m.slot.DisplayName, Reason: reason})
	if promoted != nil {
		l.notify(promoted, models.Event{Type: models.EventHostPromoted, UserID: promoted.slot.UserID, DisplayName: promoted.slot.DisplayName, Reason: "host left"})
		l.checkHostAbsence()
	}
}

// SetReady sets the non-host's ready flag. The host is always ready, so a host call
// is a no-op that returns the current snapshot.
func (l *Lobby) SetReady(ctx context.Context, userID uuid.UUID, ready bool) (models.Snapshot, error) {
	return call(ctx, l, func() (models.Snapshot, error) {
		return l.applyReady(userID, func(bool) bool { return ready })
	})
}

// ToggleReady flips the non-host's ready flag.
func (l *Lobby) ToggleReady(ctx context.Context, userID uuid.UUID) (models.Snapshot, error) {
	return call(ctx, l, func() (models.Snapshot, error) {
		return l.applyReady(userID, func(cur bool) bool { return !cur })
	})
}

func (l *Lobby) applyReady(userID uuid.UUID, next func(bool) bool) (models.Snapshot, error) {
	m := l.memberOf(userID)
	if m == nil {
		return models.Snapshot{}, newError(KindNoSuchPlayer, "user %s is not in this lobby", userID)
	}
	if !l.state.Open() {
		return models.Snapshot{}, l.closedError()
	}
	reconnected := l.touch(m)
	if m == l.host {
		if reconnected {
			return l.commit(), nil
		}
		return l.Snapshot(), nil
	}
	ready := next(m.slot.Ready)
	if ready == m.slot.Ready && !reconnected {
		return l.Snapshot(), nil
	}
	m.slot.Ready = ready
	l.recomputeState()
	return l.commit(), nil
}

// Heartbeat refreshes the user's liveness and the lobby's activity. It only produces a
// snapshot when it brings a slot back from disconnected.
func (l *Lobby) Heartbeat(ctx context.Context, userID uuid.UUID) error {
	_, err := call(ctx, l, func() (struct{}, error) {
		m := l.memberOf(userID)
		if m == nil {
			return struct{}{}, newError(KindNoSuchPlayer, "user %s is not in this lobby", userID)
		}
		if l.touch(m) {
			l.recomputeState()
			l.commit()
		}
		return struct{}{}, nil
	})
	return err
}

// Disconnect is queued by a transport whose connection went away. The seat is kept so
// the user can reconnect; a stale connID (already replaced by a newer join) is ignored.
// It does not wait for the actor.
func (l *Lobby) Disconnect(userID, connID uuid.UUID) {
	go l.post(func() {
		m := l.memberOf(userID)
		if m == nil || m.conn == nil || m.conn.ID != connID {
			return
		}
		l.log.Infof("User %s connection %s closed", userID, connID)
		l.markDisconnected(m, true)
		l.recomputeState()
		l.commit()
	})
}

// Close shuts the lobby down with reason and removes it from the registry.
func (l *Lobby) Close(ctx context.Context, reason string) error {
	_, err := call(ctx, l, func() (struct{}, error) {
		l.shutdown(reason)
		return struct{}{}, nil
	})
	return err
}
