// internal/lobby/lobby.go
package lobby

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/sirupsen/logrus"
)

// member is one occupied seat plus the connection its events are delivered to.
type member struct {
	slot models.Slot
	conn *Connection
}

func (m *member) write(ev models.Event) {
	if m.conn != nil {
		m.conn.Write(ev)
	}
}

// Lobby is the actor for a single two-seat lobby. One goroutine consumes the inbox
// and is the only code that touches the fields below the "actor-owned" marker, so
// every command against a lobby is totally ordered. Readers that only need the
// current view use Snapshot, which is published atomically after each mutation.
type Lobby struct {
	ID         uuid.UUID
	Code       string
	CreatedAt  time.Time
	Visibility models.Visibility

	opts Options
	log  *logrus.Entry
	reg  *Registry

	inbox   chan func()
	done    chan struct{}
	current atomic.Pointer[models.Snapshot]

	// actor-owned
	name         string
	settings     models.Settings
	creatorID    uuid.UUID
	lastActivity time.Time
	state        models.State
	seats        [models.MaxSeats]*member
	host         *member
	version      uint64
	closeReason  string

	swap    *swapNegotiation
	start   *startAttempt
	handoff *models.Handoff

	swapTimer       actorTimer
	inactivityTimer actorTimer
	countdownTimer  actorTimer
	hostGraceTimer  actorTimer
	emptyTimer      actorTimer
	lingerTimer     actorTimer
	warned          bool
}

func newLobby(reg *Registry, opts Options, code, name string, visibility models.Visibility, settings models.Settings, creatorID uuid.UUID) *Lobby {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	now := time.Now()
	l := &Lobby{
		ID:           id,
		Code:         code,
		CreatedAt:    now,
		Visibility:   visibility,
		opts:         opts,
		reg:          reg,
		inbox:        make(chan func(), 64),
		done:         make(chan struct{}),
		name:         name,
		settings:     settings,
		creatorID:    creatorID,
		lastActivity: now,
		state:        models.StateWaiting,
	}
	l.log = opts.Logger.WithFields(logrus.Fields{"lobby_id": id, "code": code})

	// Nothing else can see the lobby yet, so arming timers and publishing the first
	// snapshot here does not race with the actor goroutine.
	l.arm(&l.emptyTimer, opts.EmptyGrace, l.closeIfEmpty)
	l.armInactivity()
	l.commit()

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	ticker := time.NewTicker(l.opts.sweepInterval())
	defer ticker.Stop()
	// done closes only after the command that shut the lobby down has replied
	defer close(l.done)

	for {
		select {
		case fn := <-l.inbox:
			fn()
		case now := <-ticker.C:
			l.sweep(now)
		}
		if l.state == models.StateClosed {
			return
		}
	}
}

// Snapshot returns the most recently published view. It never blocks on the actor.
func (l *Lobby) Snapshot() models.Snapshot {
	return *l.current.Load()
}

// Done is closed once the lobby has shut down.
func (l *Lobby) Done() <-chan struct{} {
	return l.done
}

func (l *Lobby) closedError() error {
	return newError(KindLobbyClosed, "lobby %s is closed", l.ID)
}

// submit queues fn on the actor. The command is applied even if ctx is cancelled
// after it was queued.
func (l *Lobby) submit(ctx context.Context, fn func()) error {
	select {
	case <-l.done:
		return l.closedError()
	default:
	}
	select {
	case l.inbox <- fn:
		return nil
	case <-l.done:
		return l.closedError()
	case <-ctx.Done():
		return &Error{Kind: KindTransient, Msg: ctx.Err().Error()}
	}
}

// post queues fn from a goroutine that is not waiting on a reply (timers, the match
// engine call). It must never be called from the actor goroutine itself.
func (l *Lobby) post(fn func()) {
	_ = l.submit(context.Background(), fn)
}

// call runs fn on the actor and waits for its result.
func call[T any](ctx context.Context, l *Lobby, fn func() (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	var zero T
	ch := make(chan outcome, 1)
	if err := l.submit(ctx, func() {
		v, err := fn()
		ch <- outcome{v, err}
	}); err != nil {
		return zero, err
	}

	select {
	case o := <-ch:
		return o.val, o.err
	case <-l.done:
		// the command that closed the lobby may have answered first
		select {
		case o := <-ch:
			return o.val, o.err
		default:
			return zero, l.closedError()
		}
	case <-ctx.Done():
		return zero, &Error{Kind: KindTransient, Msg: ctx.Err().Error()}
	}
}

// --- actor helpers; everything below runs on the actor goroutine ---

func (l *Lobby) memberOf(userID uuid.UUID) *member {
	for _, m := range l.seats {
		if m != nil && m.slot.UserID == userID {
			return m
		}
	}
	return nil
}

// other returns the occupant that is not m, if any.
func (l *Lobby) other(m *member) *member {
	for _, o := range l.seats {
		if o != nil && o != m {
			return o
		}
	}
	return nil
}

func (l *Lobby) occupancy() int {
	n := 0
	for _, m := range l.seats {
		if m != nil {
			n++
		}
	}
	return n
}

func (l *Lobby) freeSeat() int {
	for i, m := range l.seats {
		if m == nil {
			return i
		}
	}
	return -1
}

// setHost makes m the host and seats it at index 0. The previous seat-0 occupant, if
// any, moves to seat 1 in the same mutation, and the non-host's ready flag is reset.
func (l *Lobby) setHost(m *member) {
	if m.slot.Seat != 0 {
		prev := l.seats[0]
		l.seats[m.slot.Seat] = prev
		if prev != nil {
			prev.slot.Seat = m.slot.Seat
		}
		l.seats[0] = m
		m.slot.Seat = 0
	}
	changed := l.host != m
	l.host = m
	m.slot.Ready = true
	if o := l.other(m); o != nil && changed {
		o.slot.Ready = false
	}
}

func (l *Lobby) recomputeState() {
	if !l.state.Open() {
		return
	}
	if l.occupancy() == models.MaxSeats && l.nonHostReady() {
		l.state = models.StateReady
	} else {
		l.state = models.StateWaiting
	}
}

func (l *Lobby) nonHostReady() bool {
	for _, m := range l.seats {
		if m == nil || m == l.host {
			continue
		}
		if !m.slot.Ready {
			return false
		}
	}
	return true
}

func (l *Lobby) buildSnapshot() models.Snapshot {
	snap := models.Snapshot{
		LobbyID:      l.ID,
		Version:      l.version,
		Code:         l.Code,
		Name:         l.name,
		Visibility:   l.Visibility,
		MaxSeats:     models.MaxSeats,
		State:        l.state,
		CreatorID:    l.creatorID,
		Settings:     l.settings,
		Seats:        make([]models.Slot, 0, models.MaxSeats),
		ChatChannel:  "lobby:" + l.ID.String(),
		CreatedAt:    l.CreatedAt,
		LastActivity: l.lastActivity,
	}
	for _, m := range l.seats {
		if m == nil {
			continue
		}
		slot := m.slot
		slot.IsHost = m == l.host
		if slot.IsHost {
			slot.Ready = true
		}
		snap.Seats = append(snap.Seats, slot)
	}
	snap.Empty = len(snap.Seats) == 0
	if l.host != nil {
		snap.HostID = l.host.slot.UserID
		if o := l.other(l.host); o != nil {
			snap.Abandoned = l.host.slot.Connection == models.Disconnected && o.slot.Connection == models.Connected
		}
	}
	if l.swap != nil {
		snap.Swap = l.swap.state()
	}
	if l.handoff != nil {
		snap.MatchID = l.handoff.MatchID
	}
	return snap
}

// commit publishes a new snapshot version and sends it to every member.
func (l *Lobby) commit() models.Snapshot {
	l.version++
	snap := l.buildSnapshot()
	l.current.Store(&snap)
	if l.opts.Publisher != nil {
		l.opts.Publisher.Publish(snap)
	}
	l.broadcast(models.Event{Type: models.EventLobbyUpdated, Version: snap.Version, Snapshot: &snap})
	return snap
}

func (l *Lobby) broadcast(ev models.Event) {
	ev.LobbyID = l.ID
	for _, m := range l.seats {
		if m != nil {
			m.write(ev)
		}
	}
}

func (l *Lobby) notifyOthers(except *member, ev models.Event) {
	ev.LobbyID = l.ID
	for _, m := range l.seats {
		if m != nil && m != except {
			m.write(ev)
		}
	}
}

func (l *Lobby) notify(m *member, ev models.Event) {
	if m == nil {
		return
	}
	ev.LobbyID = l.ID
	m.write(ev)
}

// shutdown moves the lobby to closed, tells every member why, and unregisters it.
func (l *Lobby) shutdown(reason string) {
	if l.state == models.StateClosed {
		return
	}
	l.log.Infof("Closing lobby: %s", reason)

	l.clearSwap()
	l.swapTimer.cancel()
	l.inactivityTimer.cancel()
	l.countdownTimer.cancel()
	l.hostGraceTimer.cancel()
	l.emptyTimer.cancel()
	l.lingerTimer.cancel()

	if l.start != nil {
		l.start.reply(startOutcome{err: l.closedError()})
		l.start = nil
	}

	l.state = models.StateClosed
	l.closeReason = reason
	l.version++
	snap := l.buildSnapshot()
	l.current.Store(&snap)
	l.broadcast(models.Event{Type: models.EventClosed, Version: snap.Version, Reason: reason, Snapshot: &snap})

	for _, m := range l.seats {
		if m != nil && l.reg != nil {
			l.reg.release(m.slot.UserID, l.ID)
		}
	}
	if l.opts.Publisher != nil {
		l.opts.Publisher.Forget(l.ID)
	}
	if l.reg != nil {
		l.reg.unregister(l)
	}
}

func (l *Lobby) closeIfEmpty() {
	if l.occupancy() == 0 {
		l.shutdown("empty")
	}
}
