package client

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
)

// Create opens a lobby and seats the caller as host.
func (c *Client) Create(ctx context.Context, name string, visibility models.Visibility, settings *models.Settings) (models.Snapshot, error) {
	res, err := c.do(ctx, models.Command{Type: models.CmdCreate, Name: name, Visibility: visibility, Settings: settings})
	return snapshotOf(res, err)
}

// Join takes a seat in the lobby with id. Safe to retry.
func (c *Client) Join(ctx context.Context, lobbyID uuid.UUID) (models.Snapshot, error) {
	res, err := c.retrying(ctx, models.Command{Type: models.CmdJoin, LobbyID: lobbyID})
	return snapshotOf(res, err)
}

// JoinCode takes a seat in the lobby with the given join code. Safe to retry.
func (c *Client) JoinCode(ctx context.Context, code string) (models.Snapshot, error) {
	res, err := c.retrying(ctx, models.Command{Type: models.CmdJoin, Code: code})
	return snapshotOf(res, err)
}

func (c *Client) Leave(ctx context.Context) error {
	_, err := c.do(ctx, c.command(models.CmdLeave))
	return err
}

// Refresh fetches the current snapshot.
func (c *Client) Refresh(ctx context.Context) (models.Snapshot, error) {
	res, err := c.do(ctx, c.command(models.CmdGet))
	return snapshotOf(res, err)
}

// List returns the public lobbies that still accept players.
func (c *Client) List(ctx context.Context) ([]models.Summary, error) {
	res, err := c.do(ctx, models.Command{Type: models.CmdListLobbies})
	return res.Lobbies, err
}

func (c *Client) SetReady(ctx context.Context, ready bool) (models.Snapshot, error) {
	cmd := c.command(models.CmdReady)
	cmd.IsReady = &ready
	return snapshotOf(c.do(ctx, cmd))
}

func (c *Client) ToggleReady(ctx context.Context) (models.Snapshot, error) {
	return snapshotOf(c.do(ctx, c.command(models.CmdReadyToggle)))
}

func (c *Client) RequestSwap(ctx context.Context) (models.Snapshot, error) {
	return snapshotOf(c.do(ctx, c.command(models.CmdSwapRequest)))
}

func (c *Client) AcceptSwap(ctx context.Context) (models.Snapshot, error) {
	return snapshotOf(c.do(ctx, c.command(models.CmdSwapAccept)))
}

// DeclineSwap declines the counterpart's request, or cancels the caller's own.
func (c *Client) DeclineSwap(ctx context.Context) (models.Snapshot, error) {
	return snapshotOf(c.do(ctx, c.command(models.CmdSwapDecline)))
}

func (c *Client) Kick(ctx context.Context, userID uuid.UUID) (models.Snapshot, error) {
	cmd := c.command(models.CmdKick)
	cmd.UserID = userID
	return snapshotOf(c.do(ctx, cmd))
}

// Start asks the server to hand the lobby off to a match. Every call for the same
// lobby returns the same handoff, so it is safe to retry.
func (c *Client) Start(ctx context.Context) (models.Handoff, error) {
	res, err := c.retrying(ctx, c.command(models.CmdStart))
	if err != nil {
		return models.Handoff{}, err
	}
	if res.Handoff == nil {
		return models.Handoff{}, errors.New("client: start acknowledged without a handoff")
	}
	return *res.Handoff, nil
}

func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.do(ctx, c.command(models.CmdHeartbeat))
	return err
}

// command targets the current lobby; with none, the server resolves the caller's seat.
func (c *Client) command(typ string) models.Command {
	return models.Command{Type: typ, LobbyID: c.lobbyID()}
}

func snapshotOf(res models.Result, err error) (models.Snapshot, error) {
	if err != nil {
		return models.Snapshot{}, err
	}
	if res.Snapshot == nil {
		return models.Snapshot{}, nil
	}
	return *res.Snapshot, nil
}
