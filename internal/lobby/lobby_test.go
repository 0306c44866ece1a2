// internal/lobby/lobby_test.go
package lobby

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects everything a lobby writes to one connection.
type recorder struct {
	conn *Connection

	mu     sync.Mutex
	events []models.Event
}

func newRecorder(t *testing.T, user models.User) *recorder {
	t.Helper()
	r := &recorder{conn: NewConnection(user, TransportPush)}
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case ev := <-r.conn.OutChan:
				r.mu.Lock()
				r.events = append(r.events, ev)
				r.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
	t.Cleanup(func() { close(stop) })
	return r
}

func (r *recorder) ofType(typ models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor blocks until an event of typ has been recorded and returns the first one.
func (r *recorder) waitFor(t *testing.T, typ models.EventType) models.Event {
	t.Helper()
	var found models.Event
	require.Eventually(t, func() bool {
		evs := r.ofType(typ)
		if len(evs) == 0 {
			return false
		}
		found = evs[0]
		return true
	}, 2*time.Second, 5*time.Millisecond, "no %s event received", typ)
	return found
}

// fakeEngine counts CreateMatch calls and can be told to fail or stall.
type fakeEngine struct {
	calls atomic.Int32
	delay time.Duration
	fail  atomic.Bool
}

func (e *fakeEngine) CreateMatch(ctx context.Context, req MatchRequest) (string, error) {
	e.calls.Add(1)
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if e.fail.Load() {
		return "", errors.New("engine unavailable")
	}
	return "match-" + req.LobbyID.String(), nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// testOptions disables every timer by default; tests shorten the one they exercise.
func testOptions() Options {
	return Options{
		HeartbeatInterval:   time.Hour,
		HostGrace:           time.Hour,
		InactivityWindow:    time.Hour,
		InactivityCountdown: time.Hour,
		SwapTimeout:         time.Hour,
		EmptyGrace:          time.Hour,
		HandoffLinger:       time.Hour,
		StartTimeout:        2 * time.Second,
		Engine:              &fakeEngine{},
		Logger:              quietLogger(),
	}
}

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	reg := NewRegistry(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		reg.Close(ctx)
	})
	return reg
}

func newUser(name string) models.User {
	return models.User{ID: uuid.New(), Username: name}
}

type testLobby struct {
	reg   *Registry
	lobby *Lobby
	host  models.User
	guest models.User
	hrec  *recorder
	grec  *recorder
}

// setupLobby creates a public lobby with the host seated and, if withGuest, a second
// (not yet ready) player.
func setupLobby(t *testing.T, opts Options, withGuest bool) *testLobby {
	t.Helper()
	ctx := context.Background()
	tl := &testLobby{reg: newTestRegistry(t, opts), host: newUser("alice"), guest: newUser("bob")}

	l, err := tl.reg.Create("friendly", models.VisibilityPublic, models.Settings{}, tl.host.ID)
	require.NoError(t, err)
	tl.lobby = l

	tl.hrec = newRecorder(t, tl.host)
	res, err := l.Join(ctx, tl.host, tl.hrec.conn)
	require.NoError(t, err)
	require.Equal(t, 0, res.Seat)

	if withGuest {
		tl.grec = newRecorder(t, tl.guest)
		res, err = l.Join(ctx, tl.guest, tl.grec.conn)
		require.NoError(t, err)
		require.Equal(t, 1, res.Seat)
	}
	return tl
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err), "unexpected error: %v", err)
}

// assertWellFormed checks the structural rules every published snapshot must satisfy.
func assertWellFormed(t *testing.T, snap models.Snapshot) {
	t.Helper()
	assert.LessOrEqual(t, len(snap.Seats), models.MaxSeats)
	hosts := 0
	seen := map[int]bool{}
	for _, s := range snap.Seats {
		assert.False(t, seen[s.Seat], "seat %d occupied twice in version %d", s.Seat, snap.Version)
		seen[s.Seat] = true
		if s.IsHost {
			hosts++
			assert.Equal(t, 0, s.Seat, "host must sit in seat 0")
			assert.True(t, s.Ready, "host is always ready")
		}
	}
	if len(snap.Seats) > 0 {
		assert.Equal(t, 1, hosts, "exactly one host in version %d", snap.Version)
	}
}

func TestJoinAssignsSeatsAndHost(t *testing.T) {
	tl := setupLobby(t, testOptions(), true)

	snap := tl.lobby.Snapshot()
	assertWellFormed(t, snap)
	assert.Equal(t, tl.host.ID, snap.HostID)
	assert.Len(t, snap.Seats, 2)
	assert.Equal(t, models.StateWaiting, snap.State)

	guest, ok := snap.SeatOf(tl.guest.ID)
	require.True(t, ok)
	assert.Equal(t, 1, guest.Seat)
	assert.False(t, guest.IsHost)
	assert.False(t, guest.Ready)

	joined := tl.hrec.waitFor(t, models.EventPlayerJoined)
	assert.Equal(t, tl.guest.ID, joined.UserID)
	assert.Equal(t, "bob", joined.DisplayName)

	third := newUser("carol")
	_, err := tl.lobby.Join(context.Background(), third, nil)
	requireKind(t, err, KindLobbyFull)
	assert.True(t, errors.Is(err, ErrLobbyFull))
	assert.Len(t, tl.lobby.Snapshot().Seats, 2)
}

func TestJoinIsIdempotent(t *testing.T) {
	tl := setupLobby(t, testOptions(), true)
	ctx := context.Background()

	// the guest comes back on a new transport; the seat is kept
	rec := newRecorder(t, tl.guest)
	res, err := tl.lobby.Join(ctx, tl.guest, rec.conn)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Seat)
	assert.Len(t, res.Snapshot.Seats, 2)

	slot, ok := res.Snapshot.SeatOf(tl.guest.ID)
	require.True(t, ok)
	assert.Equal(t, rec.conn.ID, slot.ConnectionID)

	// same connection again changes nothing
	before := tl.lobby.Snapshot().Version
	res, err = tl.lobby.Join(ctx, tl.guest, rec.conn)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Seat)
	assert.Equal(t, before, tl.lobby.Snapshot().Version)
}

func TestJoinAlreadyInAnotherLobby(t *testing.T) {
	tl := setupLobby(t, testOptions(), false)
	ctx := context.Background()

	other, err := tl.reg.Create("other", models.VisibilityPrivate, models.Settings{}, tl.guest.ID)
	require.NoError(t, err)

	_, err = other.Join(ctx, tl.host, nil)
	requireKind(t, err, KindAlreadyInLobby)

	id, ok := tl.reg.LobbyOf(tl.host.ID)
	require.True(t, ok)
	assert.Equal(t, tl.lobby.ID, id)

	// after leaving the first lobby the seat claim is released
	_, err = tl.lobby.Leave(ctx, tl.host.ID)
	require.NoError(t, err)
	_, err = other.Join(ctx, tl.host, nil)
	require.NoError(t, err)
}

func TestReadyThenStart(t *testing.T) {
	opts := testOptions()
	engine := &fakeEngine{}
	opts.Engine = engine
	tl := setupLobby(t, opts, true)
	ctx := context.Background()

	_, err := tl.lobby.Start(ctx, tl.host.ID)
	requireKind(t, err, KindNotReady)

	_, err = tl.lobby.Start(ctx, tl.guest.ID)
	requireKind(t, err, KindNotHost)

	snap, err := tl.lobby.SetReady(ctx, tl.guest.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, snap.State)

	h, err := tl.lobby.Start(ctx, tl.host.ID)
	require.NoError(t, err)
	assert.Equal(t, "match-"+tl.lobby.ID.String(), h.MatchID)
	assert.Equal(t, tl.lobby.ID, h.LobbyID)
	require.Len(t, h.Seats, 2)
	assert.Equal(t, tl.host.ID, h.Seats[0].UserID)
	assert.Equal(t, tl.guest.ID, h.Seats[1].UserID)
	assert.Equal(t, models.DefaultSettings(), h.Settings)

	for _, rec := range []*recorder{tl.hrec, tl.grec} {
		ev := rec.waitFor(t, models.EventGameStarting)
		assert.Equal(t, h.MatchID, ev.MatchID)
		require.NotNil(t, ev.Handoff)
		assert.Equal(t, h.TokenID, ev.Handoff.TokenID)
	}

	again, err := tl.lobby.Start(ctx, tl.host.ID)
	require.NoError(t, err)
	assert.Equal(t, h.TokenID, again.TokenID)
	assert.EqualValues(t, 1, engine.calls.Load())

	snap = tl.lobby.Snapshot()
	assert.Equal(t, models.StateStarting, snap.State)
	assert.Equal(t, h.MatchID, snap.MatchID)

	// membership is frozen once starting
	_, err = tl.lobby.Leave(ctx, tl.guest.ID)
	requireKind(t, err, KindLobbyClosed)
	_, err = tl.lobby.Join(ctx, newUser("late"), nil)
	requireKind(t, err, KindLobbyClosed)
}

func TestConcurrentStartCreatesOneMatch(t *testing.T) {
	opts := testOptions()
	engine := &fakeEngine{delay: 50 * time.Millisecond}
	opts.Engine = engine
	tl := setupLobby(t, opts, true)
	ctx := context.Background()

	_, err := tl.lobby.SetReady(ctx, tl.guest.ID, true)
	require.NoError(t, err)

	const n = 8
	tokens := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := tl.lobby.Start(ctx, tl.host.ID)
			if assert.NoError(t, err) {
				tokens[i] = h.TokenID
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, engine.calls.Load())
	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
	tl.grec.waitFor(t, models.EventGameStarting)
	assert.Len(t, tl.grec.ofType(models.EventGameStarting), 1)
}

func TestStartEngineFailureKeepsLobbyOpen(t *testing.T) {
	opts := testOptions()
	engine := &fakeEngine{}
	engine.fail.Store(true)
	opts.Engine = engine
	tl := setupLobby(t, opts, true)
	ctx := context.Background()

	_, err := tl.lobby.SetReady(ctx, tl.guest.ID, true)
	require.NoError(t, err)

	_, err = tl.lobby.Start(ctx, tl.host.ID)
	requireKind(t, err, KindTransient)
	assert.Equal(t, models.StateReady, tl.lobby.Snapshot().State)
	assert.Empty(t, tl.grec.ofType(models.EventGameStarting))

	engine.fail.Store(false)
	h, err := tl.lobby.Start(ctx, tl.host.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, h.MatchID)
	assert.EqualValues(t, 2, engine.calls.Load())
}

func TestFailedStartPublishesDroppedSwap(t *testing.T) {
	opts := testOptions()
	engine := &fakeEngine{}
	engine.fail.Store(true)
	opts.Engine = engine
	tl := setupLobby(t, opts, true)
	ctx := context.Background()

	_, err := tl.lobby.SetReady(ctx, tl.guest.ID, true)
	require.NoError(t, err)
	before, err := tl.lobby.RequestSwap(ctx, tl.guest.ID)
	require.NoError(t, err)
	require.NotNil(t, before.Swap)

	_, err = tl.lobby.Start(ctx, tl.host.ID)
	requireKind(t, err, KindTransient)

	snap := tl.lobby.Snapshot()
	assert.Nil(t, snap.Swap, "the start attempt ended the swap")
	assert.Greater(t, snap.Version, before.Version)
	assert.Equal(t, models.StateReady, snap.State)

	_, err = tl.lobby.AcceptSwap(ctx, tl.host.ID)
	requireKind(t, err, KindTimeout)
}

func TestStartWithoutEngineIsTransient(t *testing.T) {
	opts := testOptions()
	opts.Engine = nil
	tl := setupLobby(t, opts, true)
	ctx := context.Background()

	_, err := tl.lobby.SetReady(ctx, tl.guest.ID, true)
	require.NoError(t, err)
	_, err = tl.lobby.Start(ctx, tl.host.ID)
	requireKind(t, err, KindTransient)
	assert.Equal(t, models.StateReady, tl.lobby.Snapshot().State)
}

func TestStartSignsHandoff(t *testing.T) {
	opts := testOptions()
	opts.Signer = func(h models.Handoff) (string, error) {
		return "signed:" + h.TokenID.String(), nil
	}
	tl := setupLobby(t, opts, true)
	ctx := context.Background()

	_, err := tl.lobby.SetReady(ctx, tl.guest.ID, true)
	require.NoError(t, err)
	h, err := tl.lobby.Start(ctx, tl.host.ID)
	require.NoError(t, err)
	assert.Equal(t, "signed:"+h.TokenID.String(), h.Token)
}

func TestStartedLobbyClosesAfterLinger(t *testing.T) {
	opts := testOptions()
	opts.HandoffLinger = 50 * time.Millisecond
	tl := setupLobby(t, opts, true)
	ctx := context.Background()

	_, err := tl.lobby.SetReady(ctx, tl.guest.ID, true)
	require.NoError(t, err)
	_, err = tl.lobby.Start(ctx, tl.host.ID)
	require.NoError(t, err)

	closed := tl.grec.waitFor(t, models.EventClosed)
	assert.Equal(t, "started", closed.Reason)

	_, err = tl.reg.Get(tl.lobby.ID)
	requireKind(t, err, KindNotFound)
	_, ok := tl.reg.LobbyOf(tl.guest.ID)
	assert.False(t, ok)
}

func TestToggleReady(t *testing.T) {
	tl := setupLobby(t, testOptions(), true)
	ctx := context.Background()

	snap, err := tl.lobby.ToggleReady(ctx, tl.guest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, snap.State)

	snap, err = tl.lobby.ToggleReady(ctx, tl.guest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateWaiting, snap.State)

	// the host cannot un-ready
	before := tl.lobby.Snapshot().Version
	snap, err = tl.lobby.SetReady(ctx, tl.host.ID, false)
	require.NoError(t, err)
	host, _ := snap.Host()
	assert.True(t, host.Ready)
	assert.Equal(t, before, snap.Version)

	_, err = tl.lobby.ToggleReady(ctx, uuid.New())
	requireKind(t, err, KindNoSuchPlayer)
}

func TestReadyRequiresSecondPlayer(t *testing.T) {
	tl := setupLobby(t, testOptions(), false)
	_, err := tl.lobby.Start(context.Background(), tl.host.ID)
	requireKind(t, err, KindNotReady)
}

func TestHostLeaveMigratesHost(t *testing.T) {
	tl := setupLobby(t, testOptions(), true)
	ctx := context.Background()

	_, err := tl.lobby.SetReady(ctx, tl.guest.ID, true)
	require.NoError(t, err)

	snap, err := tl.lobby.Leave(ctx, tl.host.ID)
	require.NoError(t, err)
	assertWellFormed(t, snap)
	assert.Equal(t, tl.guest.ID, snap.HostID)
	require.Len(t, snap.Seats, 1)
	assert.Equal(t, 0, snap.Seats[0].Seat)
	assert.Equal(t, models.StateWaiting, snap.State)

	promoted := tl.grec.waitFor(t, models.EventHostPromoted)
	assert.Equal(t, tl.guest.ID, promoted.UserID)
	left := tl.grec.waitFor(t, models.EventPlayerLeft)
	assert.Equal(t, tl.host.ID, left.UserID)

	// the former host may come back as the non-host
	res, err := tl.lobby.Join(ctx, tl.host, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Seat)
	assert.Equal(t, tl.guest.ID, res.Snapshot.HostID)
}

func TestLastLeaveClosesLobby(t *testing.T) {
	tl := setupLobby(t, testOptions(), false)
	ctx := context.Background()

	_, err := tl.lobby.Leave(ctx, tl.host.ID)
	require.NoError(t, err)

	closed := tl.hrec.waitFor(t, models.EventClosed)
	assert.Equal(t, "empty", closed.Reason)
	require.NotNil(t, closed.Snapshot)
	assert.Equal(t, models.StateClosed, closed.Snapshot.State)

	<-tl.lobby.Done()
	_, err = tl.reg.Get(tl.lobby.ID)
	requireKind(t, err, KindNotFound)
	_, err = tl.reg.GetByCode(tl.lobby.Code)
	requireKind(t, err, KindNotFound)

	_, err = tl.lobby.Join(ctx, tl.guest, nil)
	requireKind(t, err, KindLobbyClosed)
	assert.Equal(t, models.StateClosed, tl.lobby.Snapshot().State)
}

func TestLeaveUnknownUser(t *testing.T) {
	tl := setupLobby(t, testOptions(), false)
	_, err := tl.lobby.Leave(context.Background(), uuid.New())
	requireKind(t, err, KindNoSuchPlayer)
}

func TestKick(t *testing.T) {
	tl := setupLobby(t, testOptions(), true)
	ctx := context.Background()

	_, err := tl.lobby.Kick(ctx, tl.guest.ID, tl.host.ID)
	requireKind(t, err, KindNotHost)

	_, err = tl.lobby.Kick(ctx, tl.host.ID, tl.host.ID)
	requireKind(t, err, KindInvalidRequest)

	_, err = tl.lobby.Kick(ctx, tl.host.ID, uuid.New())
	requireKind(t, err, KindNoSuchPlayer)

	snap, err := tl.lobby.Kick(ctx, tl.host.ID, tl.guest.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Seats, 1)

	kicked := tl.grec.waitFor(t, models.EventKicked)
	assert.Equal(t, tl.guest.ID, kicked.UserID)
	left := tl.hrec.waitFor(t, models.EventPlayerLeft)
	assert.Equal(t, "kicked by host", left.Reason)
	assert.Empty(t, tl.grec.ofType(models.EventPlayerLeft))

	_, ok := tl.reg.LobbyOf(tl.guest.ID)
	assert.False(t, ok)
}

func TestSnapshotsAreVersionedAndWellFormed(t *testing.T) {
	tl := setupLobby(t, testOptions(), true)
	ctx := context.Background()

	_, err := tl.lobby.ToggleReady(ctx, tl.guest.ID)
	require.NoError(t, err)
	_, err = tl.lobby.Leave(ctx, tl.host.ID)
	require.NoError(t, err)
	tl.grec.waitFor(t, models.EventHostPromoted)

	updates := tl.grec.ofType(models.EventLobbyUpdated)
	require.NotEmpty(t, updates)
	var last uint64
	for _, ev := range updates {
		require.NotNil(t, ev.Snapshot)
		assert.Greater(t, ev.Snapshot.Version, last)
		last = ev.Snapshot.Version
		assertWellFormed(t, *ev.Snapshot)
	}
}

func TestEmptyLobbyClosesAfterGrace(t *testing.T) {
	opts := testOptions()
	opts.EmptyGrace = 30 * time.Millisecond
	reg := newTestRegistry(t, opts)

	l, err := reg.Create("", models.VisibilityPublic, models.Settings{}, uuid.New())
	require.NoError(t, err)

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("empty lobby was not collected")
	}
	_, err = reg.Get(l.ID)
	requireKind(t, err, KindNotFound)
}

func TestCloseReleasesWaiters(t *testing.T) {
	tl := setupLobby(t, testOptions(), true)
	ctx := context.Background()

	require.NoError(t, tl.lobby.Close(ctx, "shutdown"))
	closed := tl.grec.waitFor(t, models.EventClosed)
	assert.Equal(t, "shutdown", closed.Reason)

	err := tl.lobby.Heartbeat(ctx, tl.guest.ID)
	requireKind(t, err, KindLobbyClosed)
	requireKind(t, tl.lobby.Close(ctx, "again"), KindLobbyClosed)
}
