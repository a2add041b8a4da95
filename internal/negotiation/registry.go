package negotiation

import (
	"sort"
	"sync"
	"sync/atomic"
)

type sessionEntry struct {
	// mu serializes operations on one session; readers use cur and never block.
	mu  sync.Mutex
	cur atomic.Pointer[Session]
	// refs counts holders and waiters of mu; guarded by SessionStore.mu.
	refs int
}

// SessionStore holds live sessions keyed by quote ID. Operations on one ID are
// serialized; distinct IDs proceed concurrently. An entry that never received a
// session is dropped once its last holder unlocks.
type SessionStore struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
}

func NewSessionStore() *SessionStore {
	return &SessionStore{entries: make(map[string]*sessionEntry)}
}

func (s *SessionStore) acquire(id string) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = &sessionEntry{}
		s.entries[id] = e
	}
	e.refs++
	return e
}

func (s *SessionStore) release(id string, e *sessionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 && e.cur.Load() == nil {
		delete(s.entries, id)
	}
}

// lock acquires exclusive access to id and returns the committed session (nil
// if none) and a commit function that swaps in a new session.
func (s *SessionStore) lock(id string) (cur *Session, commit func(*Session), unlock func()) {
	e := s.acquire(id)
	e.mu.Lock()
	return e.cur.Load(), func(next *Session) { e.cur.Store(next) }, func() {
		e.mu.Unlock()
		s.release(id, e)
	}
}

func (s *SessionStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Get returns the last committed session for id.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	cur := e.cur.Load()
	return cur, cur != nil
}

// IDs returns the sorted IDs of sessions that satisfy keep.
func (s *SessionStore) IDs(keep func(*Session) bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id, e := range s.entries {
		if cur := e.cur.Load(); cur != nil && (keep == nil || keep(cur)) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
