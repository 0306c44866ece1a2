package match

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/lobby"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request() lobby.MatchRequest {
	return lobby.MatchRequest{
		LobbyID: uuid.New(),
		Seats: []models.SeatAssignment{
			{Seat: 0, UserID: uuid.New(), DisplayName: "alice"},
			{Seat: 1, UserID: uuid.New(), DisplayName: "bob"},
		},
		Settings: models.DefaultSettings(),
	}
}

func TestLocalEngineIsIdempotentPerLobby(t *testing.T) {
	e := NewLocalEngine()
	ctx := context.Background()
	req := request()

	first, err := e.CreateMatch(ctx, req)
	require.NoError(t, err)
	again, err := e.CreateMatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	other, err := e.CreateMatch(ctx, request())
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
	assert.Len(t, e.Requests(), 2)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.CreateMatch(cancelled, request())
	assert.Error(t, err)
}

func TestQueueEngine(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	queue := "test_handoffs_" + uuid.NewString()
	defer rdb.Del(ctx, queue)
	e := NewQueueEngine(rdb, queue, nil)
	req := request()
	defer rdb.Del(ctx, e.key(req.LobbyID))

	matchID, err := e.CreateMatch(ctx, req)
	require.NoError(t, err)
	again, err := e.CreateMatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, matchID, again)

	items, err := rdb.LRange(ctx, queue, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, items, 1)

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(items[0]), &rec))
	assert.Equal(t, matchID, rec.MatchID)
	assert.Equal(t, req.LobbyID, rec.LobbyID)
	assert.Equal(t, req.Seats, rec.Request.Seats)
}
