package query

import (
	"context"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"golang.org/x/sync/errgroup"

	"sessiondb/internal/dberr"
	"sessiondb/internal/driver"
	"sessiondb/internal/retry"
	"sessiondb/internal/telemetry"
	"sessiondb/pkg/logger"
)

// DefaultMaxRetries is the contention retry budget of one Execute call.
const DefaultMaxRetries = 3

// Statement describes one executed statement attempt.
type Statement struct {
	Index   int
	SQL     string
	Args    []any
	At      time.Time
	Elapsed time.Duration
	Err     error
}

var dumpConfig = spew.ConfigState{Indent: "  ", MaxDepth: 5, DisablePointerAddresses: true, SortKeys: true}

type Executor struct {
	maxRetries int
	retryOpts  []retry.Option
	log        *logger.Logger
}

type Option func(*Executor)

func WithMaxRetries(n int) Option {
	return func(e *Executor) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithRetryOptions passes options through to retry.Run (backoff cap, base delay, sleep hook).
func WithRetryOptions(opts ...retry.Option) Option {
	return func(e *Executor) {
		e.retryOpts = append(e.retryOpts, opts...)
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(e *Executor) {
		e.log = l
	}
}

func NewExecutor(opts ...Option) *Executor {
	e := &Executor{maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.GetDefaultLogger()
	}
	return e
}

// Validate checks req without touching any connection.
func Validate(req Request) error {
	if len(req.sqls) == 0 {
		return dberr.Configuration("query", "no statements to execute")
	}
	if req.batch && len(req.params) != 0 && len(req.params) != len(req.sqls) {
		return dberr.Configuration("query", "batch has %d statements but %d parameter lists", len(req.sqls), len(req.params))
	}
	return nil
}

// Execute runs req on handle. A contention error on any statement restarts the
// whole request from its first statement, up to the retry budget.
func (e *Executor) Execute(ctx context.Context, handle driver.Conn, req Request, opts Options) (Outcome, error) {
	if err := Validate(req); err != nil {
		return Outcome{}, err
	}
	if handle == nil {
		return Outcome{}, dberr.ConnNotInit("query", "no connection handle")
	}

	mode := req.mode(opts)
	start := time.Now()
	retryOpts := append([]retry.Option{retry.WithLogger(e.log.With("conn", handle.ID()))}, e.retryOpts...)
	results, err := retry.Run(ctx, e.maxRetries, func(ctx context.Context) ([]driver.Result, error) {
		if mode == ModeParallel {
			return e.runParallel(ctx, handle, req, opts)
		}
		return e.runSequential(ctx, handle, req, opts)
	}, retryOpts...)

	telemetry.StatementsTotal.With(string(mode), telemetry.Result(err)).Inc()
	telemetry.StatementDurationSeconds.With(string(mode)).Observe(time.Since(start).Seconds())
	if err != nil {
		e.log.Z().Debug().Err(err).Str("mode", string(mode)).Int("statements", req.Len()).Msg("query failed")
		return Outcome{}, dberr.Wrap(dberr.CodeDB, "query", err)
	}

	if e.log.WouldLog(logger.DEBUG) {
		e.log.Debug("[%s] %s %d statement(s) in %s:\n%s", handle.ID(), mode, req.Len(), time.Since(start), dumpConfig.Sdump(results))
	}
	if req.batch {
		return batchOutcome(results), nil
	}
	return singleOutcome(results[0]), nil
}

func (e *Executor) runSequential(ctx context.Context, handle driver.Conn, req Request, opts Options) ([]driver.Result, error) {
	results := make([]driver.Result, len(req.sqls))
	for i, sql := range req.sqls {
		res, err := execOne(ctx, handle, i, sql, req.Args(i), opts)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// runParallel dispatches every statement at once; the handle serializes them
// on the wire in whatever order they arrive.
func (e *Executor) runParallel(ctx context.Context, handle driver.Conn, req Request, opts Options) ([]driver.Result, error) {
	results := make([]driver.Result, len(req.sqls))
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var contention error
	for i, sql := range req.sqls {
		g.Go(func() error {
			res, err := execOne(gctx, handle, i, sql, req.Args(i), opts)
			if err != nil {
				if dberr.IsContention(err) {
					mu.Lock()
					if contention == nil {
						contention = err
					}
					mu.Unlock()
				}
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// siblings cancelled by the first failure must not hide a retryable one
		if contention != nil {
			return nil, contention
		}
		return nil, err
	}
	return results, nil
}

func execOne(ctx context.Context, handle driver.Conn, i int, sql string, args []any, opts Options) (driver.Result, error) {
	at := time.Now()
	res, err := handle.Exec(ctx, sql, args...)
	if opts.OnStatement != nil {
		opts.OnStatement(Statement{Index: i, SQL: sql, Args: args, At: at, Elapsed: time.Since(at), Err: err})
	}
	return res, err
}
