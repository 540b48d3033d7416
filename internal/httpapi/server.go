// Package httpapi exposes the session database over HTTP. A cookie identifies
// the session; every request for that cookie reaches the same connection.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sessiondb/internal/session"
	"sessiondb/internal/telemetry"
	"sessiondb/internal/txn"
	"sessiondb/pkg/logger"
)

const shutdownTimeout = 3 * time.Second

type API struct {
	svc         Service
	sessions    *SessionStore
	refNo       func() string
	maxSessions int
	sessionTTL  time.Duration
}

type Option func(*API)

func WithSessionStore(s *SessionStore) Option {
	return func(a *API) {
		if s != nil {
			a.sessions = s
		}
	}
}

// WithSessionLimits sizes the default cookie session store.
func WithSessionLimits(maxSessions int, ttl time.Duration) Option {
	return func(a *API) {
		a.maxSessions = maxSessions
		a.sessionTTL = ttl
	}
}

func WithRefNoGenerator(fn func() string) Option {
	return func(a *API) {
		if fn != nil {
			a.refNo = fn
		}
	}
}

// NewAPI builds the API. Without WithSessionStore, expired cookie sessions
// release their connection through svc.
func NewAPI(svc Service, opts ...Option) *API {
	a := &API{svc: svc, refNo: txn.GenerateRefNo}
	for _, opt := range opts {
		opt(a)
	}
	if a.sessions == nil {
		a.sessions = NewSessionStore(a.maxSessions, a.sessionTTL, a.releaseExpired)
	}
	return a
}

func (a *API) releaseExpired(sc session.SessionContext) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.svc.ReleaseConnection(ctx, sc); err != nil {
		logger.Warn("failed to release connection of expired session %s: %v", sc.ID, err)
	}
}

// Router returns the chi router with every endpoint mounted.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/connection", a.handleAcquire)
		r.Delete("/connection", a.handleRelease)
		r.Post("/query", a.handleQuery)
		r.Get("/refno", a.handleRefNo)

		r.Route("/transaction", func(r chi.Router) {
			r.Get("/", a.handleTxRetrieve)
			r.Post("/init", a.handleTxInit)
			r.Post("/query", a.handleTxQuery)
			r.Post("/commit", a.handleTxCommit)
			r.Post("/rollback", a.handleTxRollback)
		})
	})

	r.Get("/api/config", handleConfigGet)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", a.handleSessions)
		r.Post("/close", a.handleSessionsClose)
		r.Post("/clear-history", a.handleSessionsClearHistory)
	})

	if h := telemetry.MetricsHandler(); h != nil {
		r.Handle("/metrics", h)
	}
	r.Get("/healthz", a.handleHealth)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !logger.WouldLog(logger.DEBUG) {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Z().Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// Start serves handler on host:port in the background. stop shuts it down
// and may be called more than once.
func Start(handler http.Handler, host string, port int) (stop func(), err error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("http listen: %w", err)
	}
	httpServer := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	var once sync.Once
	stop = func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = httpServer.Shutdown(ctx)
			_ = listener.Close()
		})
	}
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("[HTTP] Server error: %v", err)
		}
	}()
	logger.Info("sessiondb API listening on http://%s", listener.Addr())
	return stop, nil
}
