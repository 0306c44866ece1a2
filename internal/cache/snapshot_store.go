// internal/cache/snapshot_store.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultSnapshotTTL bounds how long a mirrored snapshot outlives its last update.
const DefaultSnapshotTTL = 10 * time.Minute

// SnapshotStore keeps the latest snapshot of each lobby outside the actor.
type SnapshotStore interface {
	Put(ctx context.Context, snap models.Snapshot) error
	// Get returns nil, nil when nothing is stored for the lobby.
	Get(ctx context.Context, lobbyID uuid.UUID) (*models.Snapshot, error)
	Delete(ctx context.Context, lobbyID uuid.UUID) error
}

type redisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSnapshotStore stores snapshots as JSON under lobby:<id>:snapshot.
func NewRedisSnapshotStore(client *redis.Client, ttl time.Duration) SnapshotStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &redisSnapshotStore{client: client, ttl: ttl}
}

func (c *redisSnapshotStore) key(id uuid.UUID) string {
	return fmt.Sprintf("lobby:%s:snapshot", id)
}

func (c *redisSnapshotStore) Put(ctx context.Context, snap models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return c.client.Set(ctx, c.key(snap.LobbyID), data, c.ttl).Err()
}

func (c *redisSnapshotStore) Get(ctx context.Context, lobbyID uuid.UUID) (*models.Snapshot, error) {
	data, err := c.client.Get(ctx, c.key(lobbyID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (c *redisSnapshotStore) Delete(ctx context.Context, lobbyID uuid.UUID) error {
	return c.client.Del(ctx, c.key(lobbyID)).Err()
}

type memoryEntry struct {
	snap    models.Snapshot
	expires time.Time
}

// MemorySnapshotStore is the in-process store used when Redis is not configured.
type MemorySnapshotStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[uuid.UUID]memoryEntry
}

// NewMemorySnapshotStore returns an empty store with the given TTL.
func NewMemorySnapshotStore(ttl time.Duration) *MemorySnapshotStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &MemorySnapshotStore{ttl: ttl, entries: make(map[uuid.UUID]memoryEntry)}
}

func (s *MemorySnapshotStore) Put(_ context.Context, snap models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[snap.LobbyID] = memoryEntry{snap: snap, expires: time.Now().Add(s.ttl)}
	return nil
}

func (s *MemorySnapshotStore) Get(_ context.Context, lobbyID uuid.UUID) (*models.Snapshot, error) {
	s.mu.RLock()
	e, ok := s.entries[lobbyID]
	s.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, nil
	}
	snap := e.snap
	return &snap, nil
}

func (s *MemorySnapshotStore) Delete(_ context.Context, lobbyID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, lobbyID)
	return nil
}
