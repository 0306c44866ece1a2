// internal/lobby/start.go
package lobby

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
)

type startOutcome struct {
	handoff models.Handoff
	err     error
}

// startAttempt tracks the in-flight match engine call. Starts that arrive while it is
// pending wait for the same outcome instead of creating a second match.
type startAttempt struct {
	waiters []chan startOutcome
}

func (a *startAttempt) reply(o startOutcome) {
	for _, w := range a.waiters {
		w <- o
	}
	a.waiters = nil
}

// Start hands the lobby to the match engine. It requires the host and a ready lobby.
// The handoff token is issued once: calling Start again, whether concurrently or after
// success, returns the same token.
func (l *Lobby) Start(ctx context.Context, requesterID uuid.UUID) (models.Handoff, error) {
	reply := make(chan startOutcome, 1)
	if err := l.submit(ctx, func() { l.handleStart(requesterID, reply) }); err != nil {
		return models.Handoff{}, err
	}
	select {
	case o := <-reply:
		return o.handoff, o.err
	case <-l.done:
		select {
		case o := <-reply:
			return o.handoff, o.err
		default:
			return models.Handoff{}, l.closedError()
		}
	case <-ctx.Done():
		return models.Handoff{}, &Error{Kind: KindTransient, Msg: ctx.Err().Error()}
	}
}

func (l *Lobby) handleStart(requesterID uuid.UUID, reply chan startOutcome) {
	m := l.memberOf(requesterID)
	if m == nil || m != l.host {
		reply <- startOutcome{err: newError(KindNotHost, "only the host can start")}
		return
	}
	if l.handoff != nil {
		reply <- startOutcome{handoff: *l.handoff}
		return
	}
	if l.state == models.StateClosed {
		reply <- startOutcome{err: l.closedError()}
		return
	}
	l.touch(m)
	if l.start != nil {
		l.start.waiters = append(l.start.waiters, reply)
		return
	}
	if l.state != models.StateReady {
		reply <- startOutcome{err: newError(KindNotReady, "all players must be ready")}
		return
	}

	if l.swap != nil {
		l.endSwap(nil, "starting")
	}
	l.start = &startAttempt{waiters: []chan startOutcome{reply}}
	l.state = models.StateStarting

	req := MatchRequest{
		LobbyID:  l.ID,
		Seats:    l.seatAssignments(),
		Settings: l.settings,
	}
	engine := l.opts.Engine
	if engine == nil {
		l.finishStart(req, "", fmt.Errorf("no match engine configured"))
		return
	}
	l.log.Infof("Starting lobby, requesting match from engine")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.opts.StartTimeout)
		defer cancel()
		matchID, err := engine.CreateMatch(ctx, req)
		l.post(func() { l.finishStart(req, matchID, err) })
	}()
}

func (l *Lobby) seatAssignments() []models.SeatAssignment {
	seats := make([]models.SeatAssignment, 0, models.MaxSeats)
	for _, m := range l.seats {
		if m == nil {
			continue
		}
		seats = append(seats, models.SeatAssignment{
			Seat:        m.slot.Seat,
			UserID:      m.slot.UserID,
			DisplayName: m.slot.DisplayName,
		})
	}
	return seats
}

// finishStart applies the match engine's answer on the actor goroutine.
func (l *Lobby) finishStart(req MatchRequest, matchID string, err error) {
	attempt := l.start
	if attempt == nil || l.state == models.StateClosed {
		return
	}
	l.start = nil

	if err != nil {
		l.log.Warnf("Match engine failed, lobby stays open: %v", err)
		l.state = models.StateWaiting
		l.recomputeState()
		l.commit()
		attempt.reply(startOutcome{err: &Error{Kind: KindTransient, Msg: fmt.Sprintf("match engine: %v", err)}})
		return
	}

	h := models.Handoff{
		TokenID:  uuid.New(),
		LobbyID:  l.ID,
		MatchID:  matchID,
		Seats:    req.Seats,
		Settings: req.Settings,
		IssuedAt: time.Now(),
	}
	if l.opts.Signer != nil {
		token, err := l.opts.Signer(h)
		if err != nil {
			l.log.Warnf("Failed to sign handoff token: %v", err)
		} else {
			h.Token = token
		}
	}
	l.handoff = &h

	// presence no longer matters once the match owns the players
	l.inactivityTimer.cancel()
	l.countdownTimer.cancel()
	l.hostGraceTimer.cancel()
	l.warned = false

	snap := l.commit()
	l.broadcast(models.Event{
		Type:     models.EventGameStarting,
		Version:  snap.Version,
		MatchID:  matchID,
		Snapshot: &snap,
		Handoff:  &h,
	})
	l.log.Infof("Lobby handed off to match %s", matchID)
	attempt.reply(startOutcome{handoff: h})

	l.arm(&l.lingerTimer, l.opts.HandoffLinger, func() {
		l.shutdown("started")
	})
}
