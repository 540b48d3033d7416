package telemetry

// StatementBuckets covers single statements from sub-millisecond reads to slow writes.
var StatementBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Registry metrics
var (
	// RegistrationsTotal counts connections bound to a session
	RegistrationsTotal Counter = NoopStat{}

	// EvictionsTotal counts record removals by reason (release, timeout, replaced, admin, shutdown)
	EvictionsTotal CounterVec = noopCounterVec{}

	// ActiveConnections tracks records currently held by the registry
	ActiveConnections Gauge = NoopStat{}
)

// Retry metrics
var (
	// RetriesTotal counts retried attempts by condition (deadlock, lock_wait_timeout)
	RetriesTotal CounterVec = noopCounterVec{}

	// RetryExhaustedTotal counts operations that failed after the retry budget ran out
	RetryExhaustedTotal Counter = NoopStat{}
)

// Statement metrics
var (
	// StatementsTotal counts executed requests by mode (single, sequential, parallel) and result
	StatementsTotal CounterVec = noopCounterVec{}

	// StatementDurationSeconds measures a whole Execute call including retries
	StatementDurationSeconds HistogramVec = noopHistogramVec{}

	// TransactionsTotal counts transaction events (begin, commit, rollback) by result
	TransactionsTotal CounterVec = noopCounterVec{}
)

func registerMetrics() {
	RegistrationsTotal = newCounter("registrations_total", "Connections registered to a session")
	EvictionsTotal = newCounterVec("evictions_total", "Registry records removed, by reason", "reason")
	ActiveConnections = newGauge("active_connections", "Connections currently registered")

	RetriesTotal = newCounterVec("retries_total", "Retried attempts after a contention error", "condition")
	RetryExhaustedTotal = newCounter("retry_exhausted_total", "Operations that exhausted the retry budget")

	StatementsTotal = newCounterVec("statements_total", "Executed query requests", "mode", "result")
	StatementDurationSeconds = newHistogramVec("statement_duration_seconds", "Query request latency including retries", StatementBuckets, "mode")
	TransactionsTotal = newCounterVec("transactions_total", "Transaction events", "event", "result")
}

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
