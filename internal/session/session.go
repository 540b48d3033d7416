// Package session binds database connections to caller sessions.
//
// A Registry owns every registered connection. The caller's session store holds
// only the record id under StoreKey; the record itself is reachable solely
// through that id and the owning session identifier.
package session

import (
	"fmt"
	"sync"
	"time"

	"sessiondb/internal/driver"
)

// StoreKey is the session store key holding the registered record id.
const StoreKey = "dbConnectionId"

// SessionStore is the caller's session-scoped key/value storage.
type SessionStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string)
}

// SessionContext identifies the calling session and gives access to its store.
type SessionContext struct {
	ID    string
	Store SessionStore
}

type TxState int

const (
	TxIdle TxState = iota
	TxActive
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	default:
		return "idle"
	}
}

func (s TxState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TxState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle", "":
		*s = TxIdle
	case "active":
		*s = TxActive
	case "committed":
		*s = TxCommitted
	case "rolled_back":
		*s = TxRolledBack
	default:
		return fmt.Errorf("unknown transaction state %q", b)
	}
	return nil
}

// Record is a point-in-time copy of a registered connection. Changing it does
// not affect the registry; use Registry.Update.
type Record struct {
	ID          string
	SessionID   string
	Handle      driver.Conn
	ReferenceNo string
	Timestamp   string
	TxState     TxState
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// RecordUpdate lists the fields to merge; nil fields are left unchanged.
type RecordUpdate struct {
	ReferenceNo *string
	Timestamp   *string
	TxState     *TxState
	History     *HistoryEntry
}

// MapStore is an in-memory SessionStore.
type MapStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMapStore() *MapStore {
	return &MapStore{values: make(map[string]string)}
}

func (m *MapStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MapStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MapStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}
