package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"sessiondb/internal/dberr"
	"sessiondb/internal/driver"
	"sessiondb/internal/telemetry"
	"sessiondb/pkg/logger"
)

const DefaultEvictionWindow = 60 * time.Second

// EvictReason says why a record left the registry.
type EvictReason string

const (
	ReasonRelease  EvictReason = "release"
	ReasonTimeout  EvictReason = "timeout"
	ReasonReplaced EvictReason = "replaced"
	ReasonAdmin    EvictReason = "admin"
	ReasonShutdown EvictReason = "shutdown"
)

type record struct {
	id          string
	sessionID   string
	handle      driver.Conn
	referenceNo string
	timestamp   string
	txState     TxState
	createdAt   time.Time
	expiresAt   time.Time
	expiry      *time.Timer
	history     []HistoryEntry
}

func (rec *record) view() Record {
	return Record{
		ID:          rec.id,
		SessionID:   rec.sessionID,
		Handle:      rec.handle,
		ReferenceNo: rec.referenceNo,
		Timestamp:   rec.timestamp,
		TxState:     rec.txState,
		CreatedAt:   rec.createdAt,
		ExpiresAt:   rec.expiresAt,
	}
}

// Registry maps record ids to live connections. All map access holds mu; the
// session store is also read and written under mu, so a store must not call
// back into the registry.
type Registry struct {
	mu      sync.Mutex
	records map[string]*record

	window         time.Duration
	releaseTimeout time.Duration
	onEvict        func(Record, EvictReason)
	now            func() time.Time
}

type Option func(*Registry)

// WithEvictionWindow sets the fixed lifetime of a registration. It is not renewed by activity.
func WithEvictionWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithOnEvict is called after a record is removed, outside the registry lock.
func WithOnEvict(fn func(Record, EvictReason)) Option {
	return func(r *Registry) {
		r.onEvict = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		records:        make(map[string]*record),
		window:         DefaultEvictionWindow,
		releaseTimeout: 10 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func checkContext(op string, sc SessionContext) error {
	if sc.Store == nil {
		return dberr.ConnNotInit(op, "session store not initialized")
	}
	if sc.ID == "" {
		return dberr.ConnNotInit(op, "session identifier is empty")
	}
	return nil
}

// resolveLocked follows the session store to the record. A stored id that
// points at a missing record, or at a record owned by another session, is a miss.
func (r *Registry) resolveLocked(sc SessionContext) (*record, bool) {
	id, ok := sc.Store.Get(StoreKey)
	if !ok || id == "" {
		return nil, false
	}
	rec, ok := r.records[id]
	if !ok || rec.sessionID != sc.ID {
		return nil, false
	}
	return rec, true
}

// Register binds handle to the session and arms its eviction timer. A record
// already owned by the session is released first.
func (r *Registry) Register(ctx context.Context, sc SessionContext, handle driver.Conn) (string, error) {
	if err := checkContext("register", sc); err != nil {
		return "", err
	}
	if handle == nil {
		return "", dberr.New(dberr.KindDriver, "register", "nil connection handle")
	}
	id := handle.ID()

	r.mu.Lock()
	if other, exists := r.records[id]; exists && other.sessionID != sc.ID {
		r.mu.Unlock()
		return "", dberr.New(dberr.KindConnectionState, "register", "connection %s is already registered to another session", id)
	}
	prior, hadPrior := r.resolveLocked(sc)
	if err := sc.Store.Set(StoreKey, id); err != nil {
		r.mu.Unlock()
		return "", dberr.Wrap(dberr.CodeDB, "register", err)
	}
	if hadPrior {
		r.detachLocked(prior)
	}

	now := r.now()
	rec := &record{
		id:        id,
		sessionID: sc.ID,
		handle:    handle,
		createdAt: now,
		expiresAt: now.Add(r.window),
	}
	r.records[id] = rec
	rec.expiry = time.AfterFunc(r.window, func() { r.expire(rec) })
	r.mu.Unlock()

	telemetry.RegistrationsTotal.Inc()
	telemetry.ActiveConnections.Inc()
	logger.Z().Debug().Str("session", sc.ID).Str("record", id).Dur("window", r.window).Msg("connection registered")

	if hadPrior {
		if prior.handle == handle {
			telemetry.ActiveConnections.Dec()
		} else {
			_ = r.finish(ctx, prior, ReasonReplaced)
		}
	}
	return id, nil
}

// Lookup returns a copy of the session's record, or CONN_NOT_INIT.
func (r *Registry) Lookup(sc SessionContext) (Record, error) {
	if err := checkContext("lookup", sc); err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.resolveLocked(sc)
	if !ok {
		return Record{}, dberr.ConnNotInit("lookup", "no connection registered for session")
	}
	return rec.view(), nil
}

// Bind returns rec's handle guarded by the registration: once rec is released,
// evicted or replaced, every call fails with CONN_NOT_INIT instead of reaching
// the connection.
func (r *Registry) Bind(sc SessionContext, rec Record) driver.Conn {
	return &boundConn{Conn: rec.Handle, registry: r, sc: sc, id: rec.ID}
}

// live reports whether id is still registered to sc with handle.
func (r *Registry) live(sc SessionContext, id string, handle driver.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.resolveLocked(sc)
	return ok && rec.id == id && rec.handle == handle
}

type boundConn struct {
	driver.Conn
	registry *Registry
	sc       SessionContext
	id       string
}

func (b *boundConn) check(op string) error {
	if !b.registry.live(b.sc, b.id, b.Conn) {
		return dberr.ConnNotInit(op, "connection %s is no longer registered for session", b.id)
	}
	return nil
}

func (b *boundConn) Exec(ctx context.Context, sql string, args ...any) (driver.Result, error) {
	if err := b.check("exec"); err != nil {
		return driver.Result{}, err
	}
	return b.Conn.Exec(ctx, sql, args...)
}

func (b *boundConn) Begin(ctx context.Context) error {
	if err := b.check("begin"); err != nil {
		return err
	}
	return b.Conn.Begin(ctx)
}

func (b *boundConn) Commit(ctx context.Context) error {
	if err := b.check("commit"); err != nil {
		return err
	}
	return b.Conn.Commit(ctx)
}

// Release goes through the registry so the handle is returned to its pool once.
func (b *boundConn) Release(ctx context.Context) error {
	if b.check("release") != nil {
		return nil
	}
	if err := b.registry.Release(ctx, b.sc); err != nil && !dberr.IsConnNotInit(err) {
		return err
	}
	return nil
}

// Update merges the non-nil fields of u into the session's record.
func (r *Registry) Update(sc SessionContext, u RecordUpdate) error {
	if err := checkContext("update", sc); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.resolveLocked(sc)
	if !ok {
		return dberr.ConnNotInit("update", "no connection registered for session")
	}
	if u.ReferenceNo != nil {
		rec.referenceNo = *u.ReferenceNo
	}
	if u.Timestamp != nil {
		rec.timestamp = *u.Timestamp
	}
	if u.TxState != nil {
		rec.txState = *u.TxState
	}
	if u.History != nil {
		appendHistory(rec, *u.History)
	}
	return nil
}

// Release stops the eviction timer, forgets the record, clears the session
// store and returns the handle to its pool. It reports CONN_NOT_INIT when
// nothing is registered so callers can tell "already released" apart.
func (r *Registry) Release(ctx context.Context, sc SessionContext) error {
	if err := checkContext("release", sc); err != nil {
		return err
	}
	r.mu.Lock()
	rec, ok := r.resolveLocked(sc)
	sc.Store.Delete(StoreKey)
	if !ok {
		r.mu.Unlock()
		return dberr.ConnNotInit("release", "no connection registered for session")
	}
	r.detachLocked(rec)
	r.mu.Unlock()

	return r.finish(ctx, rec, ReasonRelease)
}

// Evict removes a record by id regardless of owner (admin close).
func (r *Registry) Evict(ctx context.Context, recordID string) error {
	r.mu.Lock()
	rec, ok := r.records[recordID]
	if !ok {
		r.mu.Unlock()
		return dberr.ConnNotInit("evict", "no connection registered with id %s", recordID)
	}
	r.detachLocked(rec)
	r.mu.Unlock()
	return r.finish(ctx, rec, ReasonAdmin)
}

// ClearHistory drops the query history of a record.
func (r *Registry) ClearHistory(recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[recordID]
	if !ok {
		return dberr.ConnNotInit("clear_history", "no connection registered with id %s", recordID)
	}
	rec.history = nil
	return nil
}

// Close releases every record. Used at shutdown.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	for _, rec := range recs {
		r.detachLocked(rec)
	}
	r.mu.Unlock()

	var errs []error
	for _, rec := range recs {
		if err := r.finish(ctx, rec, ReasonShutdown); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Info is the admin view of a registered connection.
type Info struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	ReferenceNo   string         `json:"reference_no,omitempty"`
	Timestamp     string         `json:"timestamp,omitempty"`
	TxState       TxState        `json:"tx_state"`
	InTransaction bool           `json:"in_transaction"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	LastQuery     string         `json:"last_query,omitempty"`
	History       []HistoryEntry `json:"history,omitempty"`
}

// Sessions returns every registered connection, oldest first.
func (r *Registry) Sessions() []Info {
	type item struct {
		info   Info
		handle driver.Conn
	}
	r.mu.Lock()
	items := make([]item, 0, len(r.records))
	for _, rec := range r.records {
		info := Info{
			ID:          rec.id,
			SessionID:   rec.sessionID,
			ReferenceNo: rec.referenceNo,
			Timestamp:   rec.timestamp,
			TxState:     rec.txState,
			CreatedAt:   rec.createdAt,
			ExpiresAt:   rec.expiresAt,
			History:     copyHistory(rec),
		}
		if n := len(info.History); n > 0 {
			info.LastQuery = info.History[n-1].Query
		}
		items = append(items, item{info: info, handle: rec.handle})
	}
	r.mu.Unlock()

	// the handle takes its own lock; never hold mu while waiting on it
	out := make([]Info, len(items))
	for i, it := range items {
		it.info.InTransaction = it.handle.InTransaction()
		out[i] = it.info
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// detachLocked removes rec from the map and stops its timer. Caller must hold mu.
func (r *Registry) detachLocked(rec *record) {
	if rec.expiry != nil {
		rec.expiry.Stop()
	}
	if r.records[rec.id] == rec {
		delete(r.records, rec.id)
	}
}

// expire is the eviction timer callback. It is a no-op when rec was already
// released or replaced.
func (r *Registry) expire(rec *record) {
	r.mu.Lock()
	if r.records[rec.id] != rec {
		r.mu.Unlock()
		return
	}
	delete(r.records, rec.id)
	r.mu.Unlock()

	logger.Z().Info().Str("session", rec.sessionID).Str("record", rec.id).Msg("connection evicted after eviction window")
	ctx, cancel := context.WithTimeout(context.Background(), r.releaseTimeout)
	defer cancel()
	_ = r.finish(ctx, rec, ReasonTimeout)
}

// finish returns the detached record's handle to the pool and reports the eviction.
func (r *Registry) finish(ctx context.Context, rec *record, reason EvictReason) error {
	err := rec.handle.Release(ctx)
	telemetry.EvictionsTotal.With(string(reason)).Inc()
	telemetry.ActiveConnections.Dec()
	if err != nil {
		logger.Z().Warn().Err(err).Str("record", rec.id).Str("reason", string(reason)).Msg("failed to release connection")
	}
	if r.onEvict != nil {
		r.onEvict(rec.view(), reason)
	}
	return dberr.Wrap(dberr.CodeDB, "release", err)
}
