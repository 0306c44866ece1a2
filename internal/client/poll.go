package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jason-s-yu/cambia-lobby/internal/models"
)

const requestTimeout = 10 * time.Second

// pollTransport posts every command to /v1/commands. Notices queued by the server
// come back in the body of each response.
type pollTransport struct {
	base  string
	token string
	http  *http.Client
}

// dialPoll checks the server answers /health before committing to poll mode.
func dialPoll(ctx context.Context, opts Options) (*pollTransport, error) {
	p := &pollTransport{
		base:  opts.BaseURL,
		token: opts.Token,
		http:  &http.Client{Timeout: requestTimeout},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: health check returned %s", ErrUnreachable, resp.Status)
	}
	return p, nil
}

func (p *pollTransport) kind() Transport { return TransportPoll }

func (p *pollTransport) send(ctx context.Context, cmd models.Command) (models.Ack, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return models.Ack{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/v1/commands", bytes.NewReader(body))
	if err != nil {
		return models.Ack{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.Ack{}, ctx.Err()
		}
		return models.Ack{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	var ack models.Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil || ack.Type == "" {
		return models.Ack{}, fmt.Errorf("%w: unexpected response %s", ErrUnreachable, resp.Status)
	}
	return ack, nil
}

func (p *pollTransport) close() error {
	p.http.CloseIdleConnections()
	return nil
}
