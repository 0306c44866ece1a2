// internal/handlers/lobby_server.go
package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/auth"
	"github.com/jason-s-yu/cambia-lobby/internal/cache"
	"github.com/jason-s-yu/cambia-lobby/internal/lobby"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/sirupsen/logrus"
)

// LobbyServer is shared by the push and poll transports. Both decode a models.Command,
// authenticate the caller, and hand the command to Dispatch, so a lobby sees the same
// transitions whichever transport a client uses.
type LobbyServer struct {
	Registry *lobby.Registry
	Auth     *auth.Authenticator
	// Store is optional; when set, get reads through it.
	Store  cache.SnapshotStore
	Polls  *PollSessions
	Logger logrus.FieldLogger
	// AllowedOrigins for CORS; empty accepts any http(s) origin.
	AllowedOrigins []string
}

// NewLobbyServer wires a server around reg.
func NewLobbyServer(reg *lobby.Registry, authn *auth.Authenticator, store cache.SnapshotStore, logger logrus.FieldLogger) *LobbyServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	seated := func(id uuid.UUID) bool {
		_, ok := reg.LobbyOf(id)
		return ok
	}
	return &LobbyServer{
		Registry: reg,
		Auth:     authn,
		Store:    store,
		Polls:    NewPollSessions(seated),
		Logger:   logger,
	}
}

// Dispatch applies cmd on behalf of user. conn is the connection a join attaches to
// the seat; it is the socket's connection in push mode and the poll session otherwise.
func (s *LobbyServer) Dispatch(ctx context.Context, user models.User, conn *lobby.Connection, cmd models.Command) (models.Result, error) {
	switch cmd.Type {
	case models.CmdCreate:
		return s.create(ctx, user, conn, cmd)
	case models.CmdListLobbies:
		lobbies := []models.Summary{}
		for sum := range s.Registry.ListPublic() {
			lobbies = append(lobbies, sum)
		}
		return models.Result{Lobbies: lobbies}, nil
	case models.CmdGet:
		return s.get(ctx, user, cmd)
	case "":
		return models.Result{}, invalid("missing command type")
	}

	l, err := s.resolve(user, cmd)
	if err != nil {
		return models.Result{}, err
	}

	switch cmd.Type {
	case models.CmdJoin:
		res, err := l.Join(ctx, user, conn)
		if err != nil {
			return models.Result{}, err
		}
		return models.Result{Snapshot: &res.Snapshot, Seat: &res.Seat}, nil
	case models.CmdLeave:
		return snapshotResult(l.Leave(ctx, user.ID))
	case models.CmdKick:
		if cmd.UserID == uuid.Nil {
			return models.Result{}, invalid("kick requires user_id")
		}
		return snapshotResult(l.Kick(ctx, user.ID, cmd.UserID))
	case models.CmdReady:
		if cmd.IsReady == nil {
			return models.Result{}, invalid("ready requires is_ready")
		}
		return snapshotResult(l.SetReady(ctx, user.ID, *cmd.IsReady))
	case models.CmdReadyToggle:
		return snapshotResult(l.ToggleReady(ctx, user.ID))
	case models.CmdSwapRequest:
		return snapshotResult(l.RequestSwap(ctx, user.ID))
	case models.CmdSwapAccept:
		return snapshotResult(l.AcceptSwap(ctx, user.ID))
	case models.CmdSwapDecline:
		return snapshotResult(l.DeclineSwap(ctx, user.ID))
	case models.CmdStart:
		h, err := l.Start(ctx, user.ID)
		if err != nil {
			return models.Result{}, err
		}
		snap := l.Snapshot()
		return models.Result{Handoff: &h, Snapshot: &snap}, nil
	case models.CmdHeartbeat:
		return models.Result{}, l.Heartbeat(ctx, user.ID)
	default:
		return models.Result{}, invalid(fmt.Sprintf("unknown command %q", cmd.Type))
	}
}

func snapshotResult(snap models.Snapshot, err error) (models.Result, error) {
	if err != nil {
		return models.Result{}, err
	}
	return models.Result{Snapshot: &snap}, nil
}

// create opens a lobby and seats its creator. A user already seated elsewhere is
// rejected up front so no empty lobby is left behind.
func (s *LobbyServer) create(ctx context.Context, user models.User, conn *lobby.Connection, cmd models.Command) (models.Result, error) {
	if _, seated := s.Registry.LobbyOf(user.ID); seated {
		return models.Result{}, &lobby.Error{Kind: lobby.KindAlreadyInLobby, Msg: "leave your current lobby first"}
	}
	settings := models.Settings{}
	if cmd.Settings != nil {
		settings = *cmd.Settings
	}
	l, err := s.Registry.Create(cmd.Name, cmd.Visibility, settings, user.ID)
	if err != nil {
		return models.Result{}, err
	}
	res, err := l.Join(ctx, user, conn)
	if err != nil {
		_ = s.Registry.Remove(l.ID)
		return models.Result{}, err
	}
	s.Logger.Infof("User %s created lobby %s (%s)", user.ID, l.ID, l.Code)
	return models.Result{Snapshot: &res.Snapshot, Seat: &res.Seat}, nil
}

// get returns the newest snapshot known for the lobby: the mirrored copy when the
// store holds one at least as new as the actor's, otherwise the actor's own.
func (s *LobbyServer) get(ctx context.Context, user models.User, cmd models.Command) (models.Result, error) {
	l, err := s.resolve(user, cmd)
	if err != nil {
		if lobby.KindOf(err) == lobby.KindNotFound && cmd.LobbyID != uuid.Nil {
			if stored := s.stored(ctx, cmd.LobbyID); stored != nil {
				return models.Result{Snapshot: stored}, nil
			}
		}
		return models.Result{}, err
	}
	snap := l.Snapshot()
	if stored := s.stored(ctx, l.ID); stored != nil && stored.Version >= snap.Version {
		snap = *stored
	}
	return models.Result{Snapshot: &snap}, nil
}

func (s *LobbyServer) stored(ctx context.Context, id uuid.UUID) *models.Snapshot {
	if s.Store == nil {
		return nil
	}
	snap, err := s.Store.Get(ctx, id)
	if err != nil {
		s.Logger.Debugf("snapshot store read for %s failed: %v", id, err)
		return nil
	}
	return snap
}

// resolve finds the lobby a command targets: by id, then by code, then the lobby the
// user is seated in.
func (s *LobbyServer) resolve(user models.User, cmd models.Command) (*lobby.Lobby, error) {
	switch {
	case cmd.LobbyID != uuid.Nil:
		return s.Registry.Get(cmd.LobbyID)
	case cmd.Code != "":
		if !lobby.ValidCode(cmd.Code) {
			return nil, invalid("malformed lobby code")
		}
		return s.Registry.GetByCode(cmd.Code)
	}
	if id, ok := s.Registry.LobbyOf(user.ID); ok {
		return s.Registry.Get(id)
	}
	return nil, invalid("lobby_id or code required")
}
