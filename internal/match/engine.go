// internal/match/engine.go
package match

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/lobby"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list the match service consumes.
var DefaultQueueName = "lobby_handoffs"

// Record is what gets pushed to the handoff queue.
type Record struct {
	MatchID   string             `json:"match_id"`
	LobbyID   uuid.UUID          `json:"lobby_id"`
	Request   lobby.MatchRequest `json:"request"`
	CreatedAt int64              `json:"created_at"`
}

// QueueEngine hands matches to an external match service through a Redis list. The
// lobby ID is the idempotency key: a second CreateMatch for the same lobby returns the
// match created by the first.
type QueueEngine struct {
	client *redis.Client
	queue  string
	keyTTL time.Duration
	log    logrus.FieldLogger
}

// NewQueueEngine returns an engine pushing to queue (DefaultQueueName when empty).
func NewQueueEngine(client *redis.Client, queue string, logger logrus.FieldLogger) *QueueEngine {
	if queue == "" {
		queue = DefaultQueueName
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &QueueEngine{client: client, queue: queue, keyTTL: 24 * time.Hour, log: logger}
}

func (e *QueueEngine) key(lobbyID uuid.UUID) string {
	return fmt.Sprintf("handoff:%s", lobbyID)
}

// CreateMatch implements lobby.MatchEngine.
func (e *QueueEngine) CreateMatch(ctx context.Context, req lobby.MatchRequest) (string, error) {
	matchID := uuid.NewString()
	key := e.key(req.LobbyID)

	ok, err := e.client.SetNX(ctx, key, matchID, e.keyTTL).Result()
	if err != nil {
		return "", fmt.Errorf("failed to reserve handoff key: %w", err)
	}
	if !ok {
		existing, err := e.client.Get(ctx, key).Result()
		if err != nil {
			return "", fmt.Errorf("failed to read handoff key: %w", err)
		}
		e.log.Infof("Lobby %s already handed off as match %s", req.LobbyID, existing)
		return existing, nil
	}

	data, err := json.Marshal(Record{
		MatchID:   matchID,
		LobbyID:   req.LobbyID,
		Request:   req,
		CreatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		_ = e.client.Del(ctx, key).Err()
		return "", fmt.Errorf("failed to marshal handoff record: %w", err)
	}
	if err := e.client.RPush(ctx, e.queue, data).Err(); err != nil {
		// release the key so a retry can try again
		_ = e.client.Del(context.Background(), key).Err()
		return "", fmt.Errorf("failed to RPush to Redis list '%s': %w", e.queue, err)
	}
	e.log.Infof("Queued match %s for lobby %s", matchID, req.LobbyID)
	return matchID, nil
}

// LocalEngine creates match IDs in process. It is the default when Redis is not
// configured and keeps every request it has seen.
type LocalEngine struct {
	mu      sync.Mutex
	matches map[uuid.UUID]string
	reqs    []lobby.MatchRequest
}

// NewLocalEngine returns an empty LocalEngine.
func NewLocalEngine() *LocalEngine {
	return &LocalEngine{matches: make(map[uuid.UUID]string)}
}

// CreateMatch implements lobby.MatchEngine.
func (e *LocalEngine) CreateMatch(ctx context.Context, req lobby.MatchRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.matches[req.LobbyID]; ok {
		return id, nil
	}
	id := uuid.NewString()
	e.matches[req.LobbyID] = id
	e.reqs = append(e.reqs, req)
	return id, nil
}

// Requests returns a copy of every distinct request the engine accepted.
func (e *LocalEngine) Requests() []lobby.MatchRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]lobby.MatchRequest(nil), e.reqs...)
}
