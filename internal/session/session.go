// Package session tracks one participant's state across requests.
package session

import (
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/pickclaims/internal/ordering"
)

// Session is the explicit per-participant context. UserID is assigned once
// at creation and never changes; ParticipantID is typed by the participant
// and shared across both conditions.
type Session struct {
	ID            string
	UserID        string
	ParticipantID string

	views    map[ordering.Condition]*ordering.View
	tokens   map[ordering.Condition]string
	flags    map[ordering.Condition]map[string]bool
	lastSeen time.Time
}

func newSession(now time.Time) *Session {
	return &Session{
		ID:       uuid.NewString(),
		UserID:   uuid.NewString(),
		views:    make(map[ordering.Condition]*ordering.View),
		tokens:   make(map[ordering.Condition]string),
		flags:    make(map[ordering.Condition]map[string]bool),
		lastSeen: now,
	}
}

// View returns the view last shown for c, or nil.
func (s *Session) View(c ordering.Condition) *ordering.View {
	return s.views[c]
}

// SetView records the view shown for c, gives it a fresh token and
// clears its flags.
func (s *Session) SetView(v *ordering.View) {
	s.views[v.Condition] = v
	s.tokens[v.Condition] = uuid.NewString()
	delete(s.flags, v.Condition)
}

// ViewToken identifies the view currently stored for c. A page carries it
// back on submit so an order replaced by a later page load is detected.
func (s *Session) ViewToken(c ordering.Condition) string {
	return s.tokens[c]
}

// Flags returns a copy of the checked post IDs for c.
func (s *Session) Flags(c ordering.Condition) map[string]bool {
	return maps.Clone(s.flags[c])
}

// SetFlags replaces the checked post IDs for c.
func (s *Session) SetFlags(c ordering.Condition, checked map[string]bool) {
	s.flags[c] = maps.Clone(checked)
}

// Store holds live sessions in memory, keyed by session ID.
type Store struct {
	ttl        time.Duration
	cookieName string
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates a store that forgets sessions idle longer than ttl.
// A zero ttl keeps sessions for the life of the process.
func NewStore(ttl time.Duration, cookieName string) *Store {
	if cookieName == "" {
		cookieName = "pickclaims_session"
	}
	return &Store{
		ttl:        ttl,
		cookieName: cookieName,
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
}

// Create starts a new session with a fresh user ID.
func (st *Store) Create() *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.sweepLocked()
	s := newSession(st.now())
	st.sessions[s.ID] = s
	return s
}

// Get returns the live session for id.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.sweepLocked()
	s, ok := st.sessions[id]
	if ok {
		s.lastSeen = st.now()
	}
	return s, ok
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Do runs fn with exclusive access to the session's mutable state.
func (st *Store) Do(s *Session, fn func(*Session)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(s)
}

// Lookup returns the session named by the request cookie, if still live.
func (st *Store) Lookup(r *http.Request) (*Session, bool) {
	c, err := r.Cookie(st.cookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}
	return st.Get(c.Value)
}

// Ensure returns the request's session, creating one and setting the
// cookie when there is none.
func (st *Store) Ensure(w http.ResponseWriter, r *http.Request) *Session {
	if s, ok := st.Lookup(r); ok {
		return s
	}
	s := st.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     st.cookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s
}

func (st *Store) sweepLocked() {
	if st.ttl <= 0 {
		return
	}
	cutoff := st.now().Add(-st.ttl)
	for id, s := range st.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(st.sessions, id)
		}
	}
}
