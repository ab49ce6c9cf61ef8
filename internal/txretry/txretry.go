package txretry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/apperr"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/logger"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/metrics"
)

// ErrorKind classifies a failed transaction attempt. Only transient kinds
// are retried; KindOther covers business-level constraint violations and
// propagates immediately.
type ErrorKind string

const (
	KindDeadlock      ErrorKind = "deadlock"
	KindSerialization ErrorKind = "serialization_failure"
	KindLockTimeout   ErrorKind = "lock_timeout"
	KindStorageBusy   ErrorKind = "storage_busy"
	KindOther         ErrorKind = "other"
)

func (k ErrorKind) Retryable() bool {
	return k != KindOther
}

// Classify maps a Postgres SQLSTATE onto an ErrorKind.
//
//	40P01  deadlock_detected
//	40001  serialization_failure
//	55P03  lock_not_available (lock_timeout fired)
//	57014  query_canceled (statement_timeout while waiting)
//	53xxx  insufficient_resources
func Classify(err error) ErrorKind {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return KindOther
	}
	switch pgErr.Code {
	case "40P01":
		return KindDeadlock
	case "40001":
		return KindSerialization
	case "55P03", "57014":
		return KindLockTimeout
	}
	if len(pgErr.Code) == 5 && pgErr.Code[:2] == "53" {
		return KindStorageBusy
	}
	return KindOther
}

// Beginner is satisfied by *pgxpool.Pool; tests substitute a fake.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Options struct {
	IsoLevel         pgx.TxIsoLevel
	MaxRetries       int
	BaseDelay        time.Duration
	StatementTimeout time.Duration
	LockTimeout      time.Duration
	Name             string
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = 50 * time.Millisecond
	}
	if o.Name == "" {
		o.Name = "transaction"
	}
	return o
}

// Runner executes units of work inside a transaction at a requested
// isolation level and retries transient failures with kind-specific backoff.
type Runner struct {
	db      Beginner
	log     *logger.Logger
	collect *metrics.Collector

	// sleep and jitter are swappable for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

func NewRunner(db Beginner, log *logger.Logger, collect *metrics.Collector) *Runner {
	return &Runner{
		db:      db,
		log:     log,
		collect: collect,
		sleep:   sleepCtx,
		jitter:  func(max time.Duration) time.Duration { return time.Duration(rand.Int63n(int64(max))) },
	}
}

var supportedIsoLevels = map[pgx.TxIsoLevel]bool{
	pgx.ReadCommitted:  true,
	pgx.RepeatableRead: true,
	pgx.Serializable:   true,
}

// Run executes fn inside a transaction. fn must confine all database work to
// the supplied pgx.Tx and must not perform network I/O: the row locks it
// takes are held until commit.
func (r *Runner) Run(ctx context.Context, opts Options, fn func(ctx context.Context, tx pgx.Tx) error) error {
	opts = opts.withDefaults()

	iso := opts.IsoLevel
	if iso != "" && !supportedIsoLevels[iso] {
		r.log.Warn("unsupported isolation level, falling back to read committed",
			"operation", opts.Name, "requested", string(iso))
		iso = pgx.ReadCommitted
	}

	start := time.Now()
	var lastErr error
	var lastKind ErrorKind

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		err := r.runOnce(ctx, iso, opts, fn)
		if err == nil {
			r.collect.IncrementCounter("tx_success", map[string]string{"operation": opts.Name})
			r.collect.ObserveDuration("tx_duration", time.Since(start), map[string]string{"operation": opts.Name})
			if attempt > 1 {
				r.log.Info("transaction succeeded after retry",
					"operation", opts.Name, "attempt", attempt, "elapsed", time.Since(start))
			}
			return nil
		}

		kind := Classify(err)
		if !kind.Retryable() {
			return err
		}
		lastErr, lastKind = err, kind

		r.collect.IncrementCounter("tx_retry", map[string]string{"operation": opts.Name, "kind": string(kind)})
		r.log.Warn("transient transaction failure",
			"operation", opts.Name, "attempt", attempt, "kind", string(kind), "error", err)

		if attempt == opts.MaxRetries {
			break
		}
		if err := r.sleep(ctx, r.delayFor(kind, attempt, opts.BaseDelay)); err != nil {
			return err
		}
	}

	r.collect.IncrementCounter("tx_failure", map[string]string{"operation": opts.Name, "kind": string(lastKind)})
	r.log.Error("transaction failed after retries",
		"operation", opts.Name, "attempts", opts.MaxRetries, "kind", string(lastKind), "error", lastErr)
	return apperr.OperationFailed(opts.MaxRetries, lastErr)
}

func (r *Runner) runOnce(ctx context.Context, iso pgx.TxIsoLevel, opts Options, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if opts.StatementTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", opts.StatementTimeout.Milliseconds())); err != nil {
			return err
		}
	}
	if opts.LockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", opts.LockTimeout.Milliseconds())); err != nil {
			return err
		}
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// delayFor picks the backoff shape by failure kind. Deadlocks resolve as soon
// as the loser aborts, so they retry almost immediately; lock timeouts wait
// the longest because the blocking writer still holds the lock.
func (r *Runner) delayFor(kind ErrorKind, attempt int, base time.Duration) time.Duration {
	switch kind {
	case KindDeadlock:
		return 10*time.Millisecond + r.jitter(40*time.Millisecond)
	case KindSerialization:
		return base*time.Duration(1<<(attempt-1)) + r.jitter(base)
	case KindLockTimeout:
		return base*time.Duration(1<<attempt) + r.jitter(2*base)
	case KindStorageBusy:
		return 5*time.Millisecond + r.jitter(20*time.Millisecond)
	}
	return base
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
