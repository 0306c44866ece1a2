// internal/cache/mirror.go
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/sirupsen/logrus"
)

// Mirror copies lobby snapshots into a SnapshotStore from a single background worker.
// Publish and Forget never block the lobby that calls them: pending writes are
// coalesced per lobby so only the newest version is ever written.
type Mirror struct {
	store   SnapshotStore
	log     logrus.FieldLogger
	timeout time.Duration

	mu      sync.Mutex
	pending map[uuid.UUID]*models.Snapshot // nil means delete
	wake    chan struct{}
}

// NewMirror creates a mirror in front of store. Call Run to start writing.
func NewMirror(store SnapshotStore, logger logrus.FieldLogger) *Mirror {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Mirror{
		store:   store,
		log:     logger,
		timeout: 2 * time.Second,
		pending: make(map[uuid.UUID]*models.Snapshot),
		wake:    make(chan struct{}, 1),
	}
}

// Store returns the store the mirror writes to.
func (m *Mirror) Store() SnapshotStore {
	return m.store
}

// Publish queues snap, replacing any older pending version for the same lobby.
func (m *Mirror) Publish(snap models.Snapshot) {
	m.mu.Lock()
	if cur, ok := m.pending[snap.LobbyID]; ok && cur != nil && cur.Version >= snap.Version {
		m.mu.Unlock()
		return
	}
	m.pending[snap.LobbyID] = &snap
	m.mu.Unlock()
	m.signal()
}

// Forget queues removal of the lobby's snapshot.
func (m *Mirror) Forget(lobbyID uuid.UUID) {
	m.mu.Lock()
	m.pending[lobbyID] = nil
	m.mu.Unlock()
	m.signal()
}

func (m *Mirror) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run writes pending changes until ctx is done, then flushes once more.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			m.flush(context.Background())
			return nil
		case <-m.wake:
			m.flush(ctx)
		}
	}
}

func (m *Mirror) flush(parent context.Context) {
	m.mu.Lock()
	batch := m.pending
	m.pending = make(map[uuid.UUID]*models.Snapshot, len(batch))
	m.mu.Unlock()

	for id, snap := range batch {
		ctx, cancel := context.WithTimeout(parent, m.timeout)
		var err error
		if snap == nil {
			err = m.store.Delete(ctx, id)
		} else {
			err = m.store.Put(ctx, *snap)
		}
		cancel()
		if err != nil {
			m.log.Warnf("snapshot mirror: lobby %s: %v", id, err)
		}
	}
}
