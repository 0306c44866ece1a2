// Package client connects to the lobby service. It prefers the push transport and
// falls back to polling when a websocket cannot be established.
package client

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/lobby"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Transport tags which channel a Client is using.
type Transport string

const (
	TransportPush Transport = "push"
	TransportPoll Transport = "poll"
)

// ErrUnreachable wraps every transport failure. Lobby rejections are returned as
// *lobby.Error instead and never match it.
var ErrUnreachable = errors.New("lobby server unreachable")

const (
	defaultPollInterval      = time.Second
	defaultHeartbeatInterval = 15 * time.Second
	eventBuffer              = 64
	maxAttempts              = 3
)

// Options configures a Client.
type Options struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL           string
	Token             string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	// DisablePush skips the websocket attempt.
	DisablePush bool
	Logger      logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	return o
}

type transport interface {
	kind() Transport
	send(ctx context.Context, cmd models.Command) (models.Ack, error)
	close() error
}

// Client holds one user's view of the lobby they are in. Local state only moves
// forward: a snapshot replaces it only when its version is higher.
type Client struct {
	opts   Options
	log    logrus.FieldLogger
	events chan models.Event
	seq    atomic.Uint64

	cancel context.CancelFunc
	group  *errgroup.Group

	// switchMu serialises transport fallbacks.
	switchMu sync.Mutex

	mu      sync.RWMutex
	tr      transport
	snap    *models.Snapshot
	handoff *models.Handoff
}

// Dial connects to the server, trying push first. It returns ErrUnreachable only when
// neither transport works.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	if _, err := url.Parse(opts.BaseURL); err != nil || opts.BaseURL == "" {
		return nil, errors.New("client: invalid base URL")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	group, runCtx := errgroup.WithContext(runCtx)
	c := &Client{
		opts:   opts,
		log:    opts.Logger.WithField("component", "lobby-client"),
		events: make(chan models.Event, eventBuffer),
		cancel: cancel,
		group:  group,
	}

	if !opts.DisablePush {
		p, err := dialPush(ctx, opts, c.handleEvent)
		if err == nil {
			c.tr = p
			group.Go(func() error { return p.run(runCtx) })
		} else {
			c.log.Debugf("push transport unavailable, falling back to poll: %v", err)
		}
	}
	if c.tr == nil {
		p, err := dialPoll(ctx, opts)
		if err != nil {
			cancel()
			return nil, err
		}
		c.tr = p
	}

	group.Go(func() error { return c.pollLoop(runCtx) })
	group.Go(func() error { return c.heartbeatLoop(runCtx) })
	c.log.Infof("connected to %s over %s", opts.BaseURL, c.tr.kind())
	return c, nil
}

// Close stops the background loops and closes the transport.
func (c *Client) Close() error {
	c.cancel()
	c.mu.RLock()
	tr := c.tr
	c.mu.RUnlock()
	err := tr.close()
	if werr := c.group.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}

// Transport reports the transport currently in use.
func (c *Client) Transport() Transport {
	return c.transport().kind()
}

func (c *Client) transport() transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tr
}

// Events delivers every notice the client receives. Notices are dropped when the
// channel is full; Snapshot always reflects the newest state regardless.
func (c *Client) Events() <-chan models.Event {
	return c.events
}

// Snapshot returns the newest snapshot of the current lobby.
func (c *Client) Snapshot() (models.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return models.Snapshot{}, false
	}
	return *c.snap, true
}

// Handoff returns the match handoff once the lobby has started.
func (c *Client) Handoff() (models.Handoff, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.handoff == nil {
		return models.Handoff{}, false
	}
	return *c.handoff, true
}

func (c *Client) lobbyID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return uuid.Nil
	}
	return c.snap.LobbyID
}

// do sends one command and folds the reply into local state. When the push socket
// has died the client switches to poll and sends the command once more.
func (c *Client) do(ctx context.Context, cmd models.Command) (models.Result, error) {
	if cmd.RequestID == "" {
		cmd.RequestID = c.nextRequestID()
	}
	tr := c.transport()
	res, err := c.exchange(ctx, tr, cmd)
	if err == nil || !errors.Is(err, ErrUnreachable) || tr.kind() != TransportPush {
		return res, err
	}
	c.log.Warnf("%s failed over push: %v", cmd.Type, err)
	if ferr := c.fallback(ctx, tr); ferr != nil {
		return models.Result{}, ferr
	}
	return c.exchange(ctx, c.transport(), cmd)
}

func (c *Client) nextRequestID() string {
	return strconv.FormatUint(c.seq.Add(1), 10)
}

func (c *Client) exchange(ctx context.Context, tr transport, cmd models.Command) (models.Result, error) {
	ack, err := tr.send(ctx, cmd)
	if err != nil {
		return models.Result{}, err
	}
	for _, ev := range ack.Events {
		c.handleEvent(ev)
	}
	if !ack.OK {
		return ack.Result, rejection(ack)
	}

	if ack.Snapshot != nil {
		adopt := cmd.Type == models.CmdCreate || cmd.Type == models.CmdJoin
		c.apply(*ack.Snapshot, adopt)
	}
	if ack.Handoff != nil {
		c.setHandoff(*ack.Handoff)
	}
	if cmd.Type == models.CmdLeave {
		c.reset()
	}
	return ack.Result, nil
}

// rejection rebuilds the server's *lobby.Error from an error ack.
func rejection(ack models.Ack) error {
	msg := strings.TrimPrefix(ack.Message, ack.Code)
	msg = strings.TrimPrefix(msg, ": ")
	return &lobby.Error{Kind: lobby.Kind(ack.Code), Msg: msg}
}

// retrying repeats a command the server applies idempotently, backing off between
// attempts while the server is unreachable.
func (c *Client) retrying(ctx context.Context, cmd models.Command) (models.Result, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res, err := c.do(ctx, cmd)
		if err == nil || !errors.Is(err, ErrUnreachable) {
			return res, err
		}
		lastErr = err
		c.log.Warnf("%s failed (attempt %d): %v", cmd.Type, attempt+1, err)

		select {
		case <-ctx.Done():
			return models.Result{}, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return models.Result{}, lastErr
}

// fallback replaces the failed push transport with poll. The server detaches a dead
// socket from its seat, so the poll connection re-joins the current lobby to take the
// seat over. A caller that lost the race to another fallback finds the switch done.
func (c *Client) fallback(ctx context.Context, failed transport) error {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	if c.transport() != failed {
		return nil
	}

	p, err := dialPoll(ctx, c.opts)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tr = p
	c.mu.Unlock()
	_ = failed.close()
	c.log.Infof("switched to poll transport")

	if id := c.lobbyID(); id != uuid.Nil && c.active() {
		join := models.Command{Type: models.CmdJoin, LobbyID: id, RequestID: c.nextRequestID()}
		if _, err := c.exchange(ctx, p, join); err != nil {
			c.log.Warnf("could not re-attach to lobby %s over poll: %v", id, err)
		}
	}
	return nil
}

// apply replaces local state with snap if it is newer. adopt allows switching to a
// different lobby, which only create and join do.
func (c *Client) apply(snap models.Snapshot, adopt bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.snap == nil || c.snap.LobbyID != snap.LobbyID:
		if !adopt {
			return
		}
		c.handoff = nil
	case snap.Version <= c.snap.Version:
		return
	}
	c.snap = &snap
}

func (c *Client) setHandoff(h models.Handoff) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap != nil && c.snap.LobbyID == h.LobbyID {
		c.handoff = &h
	}
}

func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = nil
	c.handoff = nil
}

func (c *Client) handleEvent(ev models.Event) {
	if ev.Snapshot != nil {
		c.apply(*ev.Snapshot, false)
	}
	switch ev.Type {
	case models.EventGameStarting:
		if ev.Handoff != nil {
			c.setHandoff(*ev.Handoff)
		}
	case models.EventKicked:
		if ev.LobbyID == c.lobbyID() {
			c.reset()
		}
	}

	select {
	case c.events <- ev:
	default:
		c.log.Debugf("event buffer full, dropped %s", ev.Type)
	}
}

// active reports whether the client sits in a lobby that can still change.
func (c *Client) active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap != nil && c.snap.State != models.StateClosed
}

// pollLoop refreshes the lobby while on the poll transport; each get also drains the
// notices queued for this user.
func (c *Client) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if c.Transport() != TransportPoll || !c.active() {
				continue
			}
			if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.log.Debugf("poll failed: %v", err)
			}
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !c.active() {
				continue
			}
			if err := c.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				c.log.Debugf("heartbeat failed: %v", err)
			}
		}
	}
}
