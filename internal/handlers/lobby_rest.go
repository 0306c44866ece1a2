// internal/handlers/lobby_rest.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/lobby"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
)

type ctxKey int

const userKey ctxKey = iota

// Routes returns the poll surface, meant to be mounted under /v1. Every route maps to
// one command; responses are models.Ack bodies that also carry the notices queued
// for the caller since their previous request.
func (s *LobbyServer) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.authenticate)

	r.Get("/lobbies", s.handleCommand(models.CmdListLobbies))
	r.Post("/lobbies", s.handleCommand(models.CmdCreate))
	r.Post("/lobbies/join", s.handleCommand(models.CmdJoin))
	r.Post("/commands", s.handleCommand(""))

	r.Route("/lobbies/{lobbyID}", func(r chi.Router) {
		r.Get("/", s.handleCommand(models.CmdGet))
		r.Post("/join", s.handleCommand(models.CmdJoin))
		r.Post("/leave", s.handleCommand(models.CmdLeave))
		r.Post("/kick", s.handleCommand(models.CmdKick))
		r.Post("/ready", s.handleCommand(models.CmdReady))
		r.Post("/ready/toggle", s.handleCommand(models.CmdReadyToggle))
		r.Post("/swap/request", s.handleCommand(models.CmdSwapRequest))
		r.Post("/swap/accept", s.handleCommand(models.CmdSwapAccept))
		r.Post("/swap/decline", s.handleCommand(models.CmdSwapDecline))
		r.Post("/start", s.handleCommand(models.CmdStart))
		r.Post("/heartbeat", s.handleCommand(models.CmdHeartbeat))
	})
	return r
}

// authenticate resolves the bearer credential on every poll request.
func (s *LobbyServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.Auth.AuthenticateRequest(r)
		if err != nil {
			s.Logger.Debugf("poll request rejected: %v", err)
			err = &lobby.Error{Kind: lobby.KindUnauthorized, Msg: "invalid or missing auth token"}
			writeJSON(w, http.StatusUnauthorized, newAck(models.Command{}, models.Result{}, err))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func userFrom(ctx context.Context) models.User {
	u, _ := ctx.Value(userKey).(models.User)
	return u
}

// handleCommand decodes the optional JSON body as a models.Command, overrides its type
// (unless typ is empty) and lobby id from the route, and dispatches it through the
// caller's poll session.
func (s *LobbyServer) handleCommand(typ string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r.Context())

		var cmd models.Command
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil && !errors.Is(err, io.EOF) {
				s.respond(w, user, cmd, models.Result{}, invalid("invalid JSON body"))
				return
			}
		}
		if typ != "" {
			cmd.Type = typ
		}
		if id := chi.URLParam(r, "lobbyID"); id != "" {
			parsed, err := uuid.Parse(id)
			if err != nil {
				s.respond(w, user, cmd, models.Result{}, invalid("invalid lobby id"))
				return
			}
			cmd.LobbyID = parsed
		}
		if code := r.URL.Query().Get("code"); code != "" && cmd.Code == "" {
			cmd.Code = code
		}

		conn := s.Polls.Conn(user)
		res, err := s.Dispatch(r.Context(), user, conn, cmd)
		s.respond(w, user, cmd, res, err)
	}
}

// respond drains the caller's queued notices into the body, on failure too, so a
// client polling a lobby that just closed still learns why.
func (s *LobbyServer) respond(w http.ResponseWriter, user models.User, cmd models.Command, res models.Result, err error) {
	res.Events = s.Polls.Drain(user.ID)
	status := http.StatusOK
	if err != nil {
		status = lobby.StatusCode(lobby.KindOf(err))
	} else if cmd.Type == models.CmdCreate {
		status = http.StatusCreated
	}
	writeJSON(w, status, newAck(cmd, res, err))
}

// HealthHandler reports liveness and the number of open lobbies.
func (s *LobbyServer) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"lobbies": s.Registry.Len(),
	})
}
