// internal/lobby/registry.go
package lobby

import (
	"context"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	maxNameLength    = 64
	maxCodeAttempts  = 32
	maxStartingValue = 1_000_000
)

// Registry holds every open lobby, keyed by ID and by join code. It never waits on a
// lobby actor: listings read each lobby's published snapshot.
type Registry struct {
	opts    Options
	log     logrus.FieldLogger
	newCode func() (string, error)

	mu      sync.RWMutex
	lobbies map[uuid.UUID]*Lobby
	codes   map[string]*Lobby
	seated  map[uuid.UUID]uuid.UUID // userID -> lobbyID
}

// NewRegistry creates an empty registry whose lobbies use opts.
func NewRegistry(opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		opts:    opts,
		log:     opts.Logger,
		newCode: GenerateCode,
		lobbies: make(map[uuid.UUID]*Lobby),
		codes:   make(map[string]*Lobby),
		seated:  make(map[uuid.UUID]uuid.UUID),
	}
}

// Create opens a new lobby. The creator is recorded but not seated; the caller joins
// them afterwards so the seat goes through the same path as every other join.
func (r *Registry) Create(name string, visibility models.Visibility, settings models.Settings, creatorID uuid.UUID) (*Lobby, error) {
	if visibility == "" {
		visibility = models.VisibilityPrivate
	}
	if !visibility.Valid() {
		return nil, newError(KindInvalidRequest, "invalid visibility %q", visibility)
	}
	name = strings.TrimSpace(name)
	if len(name) > maxNameLength {
		return nil, newError(KindInvalidRequest, "name longer than %d characters", maxNameLength)
	}
	settings, err := normalizeSettings(settings)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.uniqueCodeLocked()
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "Lobby " + code
	}
	l := newLobby(r, r.opts, code, name, visibility, settings, creatorID)
	r.lobbies[l.ID] = l
	r.codes[code] = l
	r.log.Infof("Registry: added lobby %s (%s, %s)", l.ID, code, visibility)
	return l, nil
}

// uniqueCodeLocked draws codes until one is free among open lobbies. Collisions are
// retried here and never reach the caller.
func (r *Registry) uniqueCodeLocked() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := r.newCode()
		if err != nil {
			return "", &Error{Kind: KindTransient, Msg: "generate join code: " + err.Error()}
		}
		code = NormalizeCode(code)
		if _, taken := r.codes[code]; !taken {
			return code, nil
		}
		r.log.Debugf("Registry: join code collision on %s, regenerating", code)
	}
	return "", newError(KindTransient, "no free join code after %d attempts", maxCodeAttempts)
}

func normalizeSettings(s models.Settings) (models.Settings, error) {
	d := models.DefaultSettings()
	if s.Mode == "" {
		s.Mode = d.Mode
	}
	if s.StartingResources == 0 {
		s.StartingResources = d.StartingResources
	}
	if s.MaxTurns == 0 {
		s.MaxTurns = d.MaxTurns
	}
	if s.StartingResources < 0 || s.StartingResources > maxStartingValue {
		return s, newError(KindInvalidRequest, "starting_resources out of range")
	}
	if s.MaxTurns < 0 {
		return s, newError(KindInvalidRequest, "max_turns must not be negative")
	}
	return s, nil
}

// Get returns the open lobby with id.
func (r *Registry) Get(id uuid.UUID) (*Lobby, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lobbies[id]
	if !ok {
		return nil, newError(KindNotFound, "lobby %s not found", id)
	}
	return l, nil
}

// GetByCode returns the open lobby with the given join code, in any letter case.
func (r *Registry) GetByCode(code string) (*Lobby, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.codes[NormalizeCode(code)]
	if !ok {
		return nil, newError(KindNotFound, "no open lobby with code %q", code)
	}
	return l, nil
}

// ListPublic yields a summary of every public lobby that still accepts players. Each
// range over the sequence takes a fresh view of the registry; nothing is retained
// between passes.
func (r *Registry) ListPublic() iter.Seq[models.Summary] {
	return func(yield func(models.Summary) bool) {
		r.mu.RLock()
		lobbies := make([]*Lobby, 0, len(r.lobbies))
		for _, l := range r.lobbies {
			if l.Visibility == models.VisibilityPublic {
				lobbies = append(lobbies, l)
			}
		}
		r.mu.RUnlock()

		sort.Slice(lobbies, func(i, j int) bool {
			return lobbies[i].CreatedAt.Before(lobbies[j].CreatedAt)
		})
		for _, l := range lobbies {
			snap := l.Snapshot()
			if !snap.State.Open() {
				continue
			}
			if !yield(snap.Summary()) {
				return
			}
		}
	}
}

// Remove unregisters the lobby and closes it if it is still running.
func (r *Registry) Remove(id uuid.UUID) error {
	r.mu.Lock()
	l, ok := r.lobbies[id]
	if ok {
		r.removeLocked(l)
	}
	r.mu.Unlock()
	if !ok {
		return newError(KindNotFound, "lobby %s not found", id)
	}
	go func() {
		_ = l.Close(context.Background(), "removed")
	}()
	return nil
}

// LobbyOf returns the lobby the user is seated in, if any.
func (r *Registry) LobbyOf(userID uuid.UUID) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.seated[userID]
	return id, ok
}

// Len returns the number of open lobbies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lobbies)
}

// Close shuts down every lobby, e.g. on server exit.
func (r *Registry) Close(ctx context.Context) {
	r.mu.RLock()
	lobbies := make([]*Lobby, 0, len(r.lobbies))
	for _, l := range r.lobbies {
		lobbies = append(lobbies, l)
	}
	r.mu.RUnlock()

	for _, l := range lobbies {
		if err := l.Close(ctx, "shutdown"); err != nil {
			r.log.Debugf("Registry: closing lobby %s: %v", l.ID, err)
		}
	}
}

// RunJanitor periodically drops entries whose actor has already terminated. Lobbies
// unregister themselves when they close; this catches anything that slipped through.
func (r *Registry) RunJanitor(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.sweep(); n > 0 {
				r.log.Infof("Registry: janitor removed %d stale lobbies", n)
			}
		}
	}
}

func (r *Registry) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.lobbies {
		select {
		case <-l.done:
			r.removeLocked(l)
			n++
		default:
		}
	}
	return n
}

// --- hooks called from lobby actors; they only take the registry lock ---

// claim records that userID is seated in lobbyID. It fails if the user already holds
// a seat in a different lobby.
func (r *Registry) claim(userID, lobbyID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.seated[userID]; ok && cur != lobbyID {
		if _, open := r.lobbies[cur]; open {
			return false
		}
	}
	r.seated[userID] = lobbyID
	return true
}

func (r *Registry) release(userID, lobbyID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.seated[userID]; ok && cur == lobbyID {
		delete(r.seated, userID)
	}
}

func (r *Registry) unregister(l *Lobby) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.lobbies[l.ID]; ok && cur == l {
		r.removeLocked(l)
		r.log.Infof("Registry: deleted lobby %s", l.ID)
	}
}

func (r *Registry) removeLocked(l *Lobby) {
	delete(r.lobbies, l.ID)
	if cur, ok := r.codes[l.Code]; ok && cur == l {
		delete(r.codes, l.Code)
	}
	for userID, lobbyID := range r.seated {
		if lobbyID == l.ID {
			delete(r.seated, userID)
		}
	}
}
