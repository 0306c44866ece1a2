// internal/lobby/swap.go
package lobby

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
)

// swapNegotiation is the pending seat swap. It lives only between swap:request and
// accept, decline, disconnect/leave of either party, start, or timeout.
type swapNegotiation struct {
	requester   *member
	counterpart *member
	requestedAt time.Time
	accepted    map[uuid.UUID]bool
}

func (s *swapNegotiation) involves(m *member) bool {
	return s.requester == m || s.counterpart == m
}

func (s *swapNegotiation) state() *models.SwapState {
	accepted := make(map[uuid.UUID]bool, len(s.accepted))
	for k, v := range s.accepted {
		accepted[k] = v
	}
	return &models.SwapState{
		RequesterID: s.requester.slot.UserID,
		RequestedAt: s.requestedAt,
		Accepted:    accepted,
	}
}

// RequestSwap opens a swap negotiation with the other occupant. A second request from
// the same user re-echoes swap:sent. A competing request from the counterpart loses to
// the one already recorded and is answered with the current snapshot.
func (l *Lobby) RequestSwap(ctx context.Context, userID uuid.UUID) (models.Snapshot, error) {
	return call(ctx, l, func() (models.Snapshot, error) {
		m := l.memberOf(userID)
		if m == nil {
			return models.Snapshot{}, newError(KindNoSuchPlayer, "user %s is not in this lobby", userID)
		}
		if !l.state.Open() {
			return models.Snapshot{}, l.closedError()
		}
		reconnected := l.touch(m)

		if l.swap != nil {
			if l.swap.requester == m {
				l.notify(m, models.Event{Type: models.EventSwapSent, UserID: l.swap.counterpart.slot.UserID, DisplayName: l.swap.counterpart.slot.DisplayName})
			}
			if reconnected {
				return l.commit(), nil
			}
			return l.Snapshot(), nil
		}

		o := l.other(m)
		if o == nil {
			return models.Snapshot{}, newError(KindNoSuchPlayer, "no other player to swap with")
		}
		l.swap = &swapNegotiation{
			requester:   m,
			counterpart: o,
			requestedAt: time.Now(),
			accepted:    map[uuid.UUID]bool{m.slot.UserID: true, o.slot.UserID: false},
		}
		l.arm(&l.swapTimer, l.opts.SwapTimeout, func() {
			if l.swap != nil {
				l.endSwap(nil, "timeout")
				l.commit()
			}
		})
		snap := l.commit()
		l.notify(o, models.Event{Type: models.EventSwapRequested, UserID: m.slot.UserID, DisplayName: m.slot.DisplayName})
		l.notify(m, models.Event{Type: models.EventSwapSent, UserID: o.slot.UserID, DisplayName: o.slot.DisplayName})
		return snap, nil
	})
}

// AcceptSwap completes the pending negotiation. Both seats, and the host flag with
// seat 0, are exchanged in one mutation that produces exactly one new snapshot.
func (l *Lobby) AcceptSwap(ctx context.Context, userID uuid.UUID) (models.Snapshot, error) {
	return call(ctx, l, func() (models.Snapshot, error) {
		m := l.memberOf(userID)
		if m == nil {
			return models.Snapshot{}, newError(KindNoSuchPlayer, "user %s is not in this lobby", userID)
		}
		if !l.state.Open() {
			return models.Snapshot{}, l.closedError()
		}
		l.touch(m)
		if l.swap == nil {
			return models.Snapshot{}, newError(KindTimeout, "no pending swap")
		}
		if l.swap.requester == m {
			return models.Snapshot{}, newError(KindInvalidRequest, "cannot accept your own swap request")
		}

		l.swap.accepted[m.slot.UserID] = true
		l.swapTimer.cancel()

		a, b := l.seats[0], l.seats[1]
		l.seats[0], l.seats[1] = b, a
		a.slot.Seat, b.slot.Seat = 1, 0
		prevHost := l.host
		l.setHost(b)
		l.swap = nil
		l.recomputeState()
		snap := l.commit()

		l.log.Infof("Seats swapped: %s now host", b.slot.UserID)
		if prevHost != b {
			l.notify(b, models.Event{Type: models.EventHostPromoted, UserID: b.slot.UserID, DisplayName: b.slot.DisplayName, Reason: "swap"})
			l.notifyOthers(b, models.Event{Type: models.EventHostChanged, UserID: b.slot.UserID, DisplayName: b.slot.DisplayName, Reason: "swap"})
		}
		return snap, nil
	})
}

// DeclineSwap discards the pending negotiation. Either party may decline; the
// requester declining is how a request is cancelled.
func (l *Lobby) DeclineSwap(ctx context.Context, userID uuid.UUID) (models.Snapshot, error) {
	return call(ctx, l, func() (models.Snapshot, error) {
		m := l.memberOf(userID)
		if m == nil {
			return models.Snapshot{}, newError(KindNoSuchPlayer, "user %s is not in this lobby", userID)
		}
		l.touch(m)
		if l.swap == nil {
			return models.Snapshot{}, newError(KindTimeout, "no pending swap")
		}
		reason := "declined"
		if l.swap.requester == m {
			reason = "cancelled"
		}
		l.endSwap(m, reason)
		return l.commit(), nil
	})
}

// endSwap discards the pending negotiation and tells both parties. The caller commits.
func (l *Lobby) endSwap(by *member, reason string) {
	s := l.swap
	if s == nil {
		return
	}
	l.clearSwap()
	ev := models.Event{Type: models.EventSwapDeclined, Reason: reason}
	if by != nil {
		ev.UserID = by.slot.UserID
		ev.DisplayName = by.slot.DisplayName
	}
	l.notify(s.requester, ev)
	l.notify(s.counterpart, ev)
}

func (l *Lobby) clearSwap() {
	l.swap = nil
	l.swapTimer.cancel()
}
