package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/lobby"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestWritePumpFailureEndsSession(t *testing.T) {
	accepted := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		accepted <- c
	}))
	defer ts.Close()

	client, _, err := websocket.Dial(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer client.CloseNow()

	var c *websocket.Conn
	select {
	case c = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the socket")
	}
	require.NoError(t, c.CloseNow())

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	user := models.User{ID: uuid.New(), Username: "alice"}
	sess := &wsSession{
		user:   user,
		conn:   lobby.NewConnection(user, lobby.TransportPush),
		log:    logrus.NewEntry(logger),
		acks:   make(chan models.Ack, 1),
		joined: make(map[uuid.UUID]struct{}),
	}
	sess.acks <- models.Ack{Type: "ack", RequestID: "1"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.writePump(ctx, cancel, c)

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("a failed write did not cancel the session")
	}

	// readers blocked on the session give up instead of waiting on a full ack queue
	sess.reply(ctx, models.Ack{Type: "ack", RequestID: "2"})
}
