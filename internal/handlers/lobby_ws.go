// internal/handlers/lobby_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/lobby"
	"github.com/jason-s-yu/cambia-lobby/internal/middleware"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// wsSession is one push-mode socket. Commands are applied in the order they are read;
// acks and lobby notices share the write pump.
type wsSession struct {
	server *LobbyServer
	user   models.User
	conn   *lobby.Connection
	log    *logrus.Entry
	acks   chan models.Ack

	mu     sync.Mutex
	joined map[uuid.UUID]struct{}
}

// LobbyWSHandler serves the push transport. The socket must speak the "lobby"
// subprotocol and carry a bearer token (header, cookie or ?token=). An optional
// ?lobby_id= or ?code= joins that lobby straight away.
func (s *LobbyServer) LobbyWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"lobby"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			s.Logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "lobby" {
			c.Close(BadSubprotocolError, "client must speak the lobby subprotocol")
			return
		}

		user, err := s.Auth.AuthenticateRequest(r)
		if err != nil {
			s.Logger.Warnf("lobby websocket authentication failed: %v", err)
			c.Close(InvalidAuthTokenError, "invalid auth token")
			return
		}
		middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, r.URL.Path, user.ID.String())

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		conn := lobby.NewConnection(user, lobby.TransportPush)
		sess := &wsSession{
			server: s,
			user:   user,
			conn:   conn,
			log:    s.Logger.WithFields(logrus.Fields{"user_id": user.ID, "conn_id": conn.ID}),
			acks:   make(chan models.Ack, 16),
			joined: make(map[uuid.UUID]struct{}),
		}

		go sess.writePump(ctx, cancel, c)

		if cmd, ok, err := joinFromQuery(r); ok {
			if err == nil {
				err = sess.autoJoin(ctx, c, cmd)
			}
			if err != nil {
				code := websocket.StatusCode(LobbyRejectedError)
				switch lobby.KindOf(err) {
				case lobby.KindNotFound, lobby.KindLobbyClosed, lobby.KindInvalidRequest:
					code = InvalidLobbyIDError
				}
				c.Close(code, string(lobby.KindOf(err)))
				return
			}
		}

		err = sess.readPump(ctx, c)
		cancel()
		sess.detach()
		middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, user.ID.String(), err)
	}
}

func joinFromQuery(r *http.Request) (models.Command, bool, error) {
	q := r.URL.Query()
	cmd := models.Command{Type: models.CmdJoin, Code: q.Get("code")}
	if id := q.Get("lobby_id"); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return cmd, true, invalid("invalid lobby_id")
		}
		cmd.LobbyID = parsed
	}
	return cmd, cmd.LobbyID != uuid.Nil || cmd.Code != "", nil
}

// autoJoin applies the join named in the URL. A rejection is written synchronously so
// the client sees the error frame before the close.
func (sess *wsSession) autoJoin(ctx context.Context, c *websocket.Conn, cmd models.Command) error {
	res, err := sess.server.Dispatch(ctx, sess.user, sess.conn, cmd)
	if err != nil {
		data, _ := json.Marshal(newAck(cmd, models.Result{}, err))
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		_ = c.Write(writeCtx, websocket.MessageText, data)
		cancel()
		return err
	}
	sess.track(res)
	sess.reply(ctx, newAck(cmd, res, nil))
	return nil
}

func (sess *wsSession) track(res models.Result) {
	if res.Snapshot == nil || res.Seat == nil {
		return
	}
	sess.mu.Lock()
	sess.joined[res.Snapshot.LobbyID] = struct{}{}
	sess.mu.Unlock()
}

// handle dispatches one command and queues its ack.
func (sess *wsSession) handle(ctx context.Context, cmd models.Command) {
	res, err := sess.server.Dispatch(ctx, sess.user, sess.conn, cmd)
	if err == nil {
		sess.track(res)
	} else {
		sess.log.Debugf("command %s failed: %v", cmd.Type, err)
	}
	sess.reply(ctx, newAck(cmd, res, err))
}

func (sess *wsSession) reply(ctx context.Context, ack models.Ack) {
	select {
	case sess.acks <- ack:
	case <-ctx.Done():
	}
}

// detach queues a Disconnect for every lobby this socket joined. A lobby ignores it if
// the seat has since moved to another connection.
func (sess *wsSession) detach() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for id := range sess.joined {
		if l, err := sess.server.Registry.Get(id); err == nil {
			l.Disconnect(sess.user.ID, sess.conn.ID)
		}
	}
}

// readPump reads command frames until the socket closes.
func (sess *wsSession) readPump(ctx context.Context, c *websocket.Conn) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			sess.log.Warnf("Received non-text message type %d. Ignoring.", typ)
			continue
		}

		var cmd models.Command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			sess.reply(ctx, newAck(models.Command{}, models.Result{}, invalid("invalid JSON format")))
			continue
		}
		sess.handle(ctx, cmd)
	}
}

// writePump sends acks and lobby notices, and pings the client periodically. When it
// gives up on the socket it cancels the session so readPump stops too.
func (sess *wsSession) writePump(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cancel()

	for {
		var payload interface{}
		select {
		case <-ctx.Done():
			return
		case ack := <-sess.acks:
			payload = ack
		case ev := <-sess.conn.OutChan:
			payload = ev
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			pingCancel()
			if err != nil {
				sess.log.Warnf("Failed to send ping: %v. Assuming disconnect.", err)
				return
			}
			continue
		}

		data, err := json.Marshal(payload)
		if err != nil {
			sess.log.Warnf("Failed to marshal outgoing frame: %v", err)
			continue
		}
		writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
		err = c.Write(writeCtx, websocket.MessageText, data)
		writeCancel()
		if err != nil {
			sess.log.Warnf("Failed to write to websocket: %v", err)
			return
		}
	}
}
