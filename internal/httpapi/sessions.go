package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"sessiondb/internal/session"
)

// CookieName carries the session identifier.
const CookieName = "sessiondb_sid"

// SessionStore keeps one key/value store per cookie session. Entries expire
// after ttl without a request; onExpire then runs in its own goroutine.
type SessionStore struct {
	cache *expirable.LRU[string, *session.MapStore]
	ttl   time.Duration
}

func NewSessionStore(size int, ttl time.Duration, onExpire func(session.SessionContext)) *SessionStore {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	var evict expirable.EvictCallback[string, *session.MapStore]
	if onExpire != nil {
		evict = func(id string, store *session.MapStore) {
			go onExpire(session.SessionContext{ID: id, Store: store})
		}
	}
	return &SessionStore{cache: expirable.NewLRU[string, *session.MapStore](size, evict, ttl), ttl: ttl}
}

// Resolve returns the caller's session, starting a new one (and setting the
// cookie) when the request has none or it expired. Each call renews the TTL.
func (s *SessionStore) Resolve(w http.ResponseWriter, r *http.Request) session.SessionContext {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		if store, ok := s.cache.Get(c.Value); ok {
			s.cache.Add(c.Value, store)
			return session.SessionContext{ID: c.Value, Store: store}
		}
	}
	id := uuid.NewString()
	store := session.NewMapStore()
	s.cache.Add(id, store)
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.ttl.Seconds()),
	})
	return session.SessionContext{ID: id, Store: store}
}

// Peek returns the caller's session without creating one.
func (s *SessionStore) Peek(r *http.Request) (session.SessionContext, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return session.SessionContext{}, false
	}
	store, ok := s.cache.Get(c.Value)
	if !ok {
		return session.SessionContext{}, false
	}
	return session.SessionContext{ID: c.Value, Store: store}, true
}

func (s *SessionStore) Len() int {
	return s.cache.Len()
}
