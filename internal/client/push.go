package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
)

const subprotocol = "lobby"

// pushTransport sends commands over a websocket and matches acks to them by request id.
// Everything else read from the socket is a lobby notice.
type pushTransport struct {
	conn    *websocket.Conn
	onEvent func(models.Event)

	mu      sync.Mutex
	pending map[string]chan models.Ack
	done    chan struct{}
	err     error
}

func dialPush(ctx context.Context, opts Options, onEvent func(models.Event)) (*pushTransport, error) {
	u := "ws" + strings.TrimPrefix(opts.BaseURL, "http") + "/lobby/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+opts.Token)

	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   header,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, u, err)
	}
	if conn.Subprotocol() != subprotocol {
		conn.Close(websocket.StatusPolicyViolation, "lobby subprotocol required")
		return nil, fmt.Errorf("%w: server did not negotiate the %s subprotocol", ErrUnreachable, subprotocol)
	}
	return &pushTransport{
		conn:    conn,
		onEvent: onEvent,
		pending: make(map[string]chan models.Ack),
		done:    make(chan struct{}),
	}, nil
}

func (p *pushTransport) kind() Transport { return TransportPush }

// run reads frames until the socket fails. Pending commands then fail with ErrUnreachable.
func (p *pushTransport) run(ctx context.Context) error {
	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			p.fail(err)
			return nil
		}

		var head struct {
			Type models.EventType `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			continue
		}
		if head.Type == models.EventAck || head.Type == models.EventError {
			var ack models.Ack
			if err := json.Unmarshal(data, &ack); err == nil {
				p.resolve(ack)
			}
			continue
		}
		var ev models.Event
		if err := json.Unmarshal(data, &ev); err == nil {
			p.onEvent(ev)
		}
	}
}

func (p *pushTransport) resolve(ack models.Ack) {
	p.mu.Lock()
	ch, ok := p.pending[ack.RequestID]
	delete(p.pending, ack.RequestID)
	p.mu.Unlock()
	if ok {
		ch <- ack
	}
}

func (p *pushTransport) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return
	default:
	}
	p.err = err
	close(p.done)
}

func (p *pushTransport) send(ctx context.Context, cmd models.Command) (models.Ack, error) {
	select {
	case <-p.done:
		return models.Ack{}, fmt.Errorf("%w: %v", ErrUnreachable, p.err)
	default:
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return models.Ack{}, err
	}
	ch := make(chan models.Ack, 1)
	p.mu.Lock()
	p.pending[cmd.RequestID] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, cmd.RequestID)
		p.mu.Unlock()
	}()

	if err := p.conn.Write(ctx, websocket.MessageText, data); err != nil {
		if ctx.Err() != nil {
			return models.Ack{}, ctx.Err()
		}
		p.fail(err)
		return models.Ack{}, fmt.Errorf("%w: write: %v", ErrUnreachable, err)
	}

	select {
	case ack := <-ch:
		return ack, nil
	case <-p.done:
		return models.Ack{}, fmt.Errorf("%w: %v", ErrUnreachable, p.err)
	case <-ctx.Done():
		return models.Ack{}, ctx.Err()
	}
}

func (p *pushTransport) close() error {
	p.fail(context.Canceled)
	// the read loop may already have torn the socket down
	_ = p.conn.Close(websocket.StatusNormalClosure, "")
	return nil
}
