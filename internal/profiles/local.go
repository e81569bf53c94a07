package profiles

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"groupchat-service/internal/models"
)

type localEntry struct {
	profile models.Profile
	expires time.Time
}

type localStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]localEntry
	now     func() time.Time
}

func newLocalStore() *localStore {
	return &localStore{entries: make(map[uuid.UUID]localEntry), now: time.Now}
}

func (s *localStore) get(id uuid.UUID) (models.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok || s.now().After(e.expires) {
		return models.Profile{}, false
	}
	return e.profile, true
}

func (s *localStore) set(p models.Profile, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[p.UserID] = localEntry{profile: p, expires: s.now().Add(ttl)}
}

func (s *localStore) delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}
