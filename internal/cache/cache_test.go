package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(id uuid.UUID, version uint64) models.Snapshot {
	return models.Snapshot{LobbyID: id, Version: version, Code: "ABC123", State: models.StateWaiting}
}

func TestMemorySnapshotStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySnapshotStore(50 * time.Millisecond)
	id := uuid.New()

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Put(ctx, snapshot(id, 3)))
	got, err = s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 3, got.Version)

	time.Sleep(80 * time.Millisecond)
	got, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got, "entry should expire")

	require.NoError(t, s.Put(ctx, snapshot(id, 4)))
	require.NoError(t, s.Delete(ctx, id))
	got, _ = s.Get(ctx, id)
	assert.Nil(t, got)
}

func TestMirrorWritesNewestVersion(t *testing.T) {
	store := NewMemorySnapshotStore(time.Minute)
	m := NewMirror(store, nil)
	id := uuid.New()

	// queued before the worker starts, so they coalesce
	m.Publish(snapshot(id, 1))
	m.Publish(snapshot(id, 3))
	m.Publish(snapshot(id, 2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, _ := store.Get(context.Background(), id)
		return got != nil && got.Version == 3
	}, time.Second, 5*time.Millisecond)

	m.Forget(id)
	require.Eventually(t, func() bool {
		got, _ := store.Get(context.Background(), id)
		return got == nil
	}, time.Second, 5*time.Millisecond)

	// pending work is flushed on shutdown
	other := uuid.New()
	cancel()
	m.Publish(snapshot(other, 1))
	<-done
	m.flush(context.Background())
	got, _ := store.Get(context.Background(), other)
	require.NotNil(t, got)
}

func TestRedisSnapshotStore(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	s := NewRedisSnapshotStore(rdb, time.Minute)
	id := uuid.New()
	defer s.Delete(ctx, id)

	require.NoError(t, s.Put(ctx, snapshot(id, 7)))
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 7, got.Version)
	assert.Equal(t, "ABC123", got.Code)

	ttl, err := rdb.TTL(ctx, "lobby:"+id.String()+":snapshot").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, s.Delete(ctx, id))
	got, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}
