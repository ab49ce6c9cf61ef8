package idempotency

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/apperr"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/logger"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/txretry"
)

// Store is the distributed lock/result collaborator, implemented by
// cache.RedisCache.
type Store interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
	GetResult(ctx context.Context, key string) ([]byte, bool, error)
	PutResult(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Options struct {
	// LockTTL must exceed the longest expected run of the operation.
	LockTTL time.Duration
	// ResultTTL must exceed any plausible client retry window.
	ResultTTL time.Duration
	Name      string
}

func (o Options) withDefaults() Options {
	if o.LockTTL == 0 {
		o.LockTTL = 60 * time.Second
	}
	if o.ResultTTL == 0 {
		o.ResultTTL = 24 * time.Hour
	}
	if o.Name == "" {
		o.Name = "operation"
	}
	return o
}

// Guard executes a keyed operation at most once; concurrent and repeated
// callers all observe the first execution's result.
type Guard struct {
	store Store
	log   *logger.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewGuard(store Store, log *logger.Logger) *Guard {
	return &Guard{
		store: store,
		log:   log,
		sleep: sleepCtx,
		now:   time.Now,
	}
}

// Execute returns the stored result for key if one exists, otherwise runs op
// under a distributed lock and stores its result. executed reports whether
// op ran in this call.
func (g *Guard) Execute(ctx context.Context, key string, opts Options, op func(ctx context.Context) ([]byte, error)) (result []byte, executed bool, err error) {
	opts = opts.withDefaults()

	if res, ok, err := g.store.GetResult(ctx, key); err != nil {
		return nil, false, err
	} else if ok {
		return res, false, nil
	}

	token, acquired, err := g.store.AcquireLock(ctx, key, opts.LockTTL)
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return g.awaitResult(ctx, key, opts)
	}

	defer func() {
		if relErr := g.store.ReleaseLock(ctx, key, token); relErr != nil {
			g.log.Warn("failed to release idempotency lock", "operation", opts.Name, "key", key, "error", relErr)
		}
	}()

	// Double-check under the lock: the first caller may have stored the
	// result between our lookup and the acquire.
	if res, ok, err := g.store.GetResult(ctx, key); err != nil {
		return nil, false, err
	} else if ok {
		return res, false, nil
	}

	res, err := op(ctx)
	if err != nil {
		return nil, true, err
	}
	if err := g.store.PutResult(ctx, key, res, opts.ResultTTL); err != nil {
		return nil, true, err
	}
	return res, true, nil
}

// awaitResult polls for the winner's stored result with exponential backoff
// until the lock TTL elapses, then reports the in-flight execution to the
// caller as a retry-later error.
func (g *Guard) awaitResult(ctx context.Context, key string, opts Options) ([]byte, bool, error) {
	deadline := g.now().Add(opts.LockTTL)
	delay := 100 * time.Millisecond

	for g.now().Before(deadline) {
		if err := g.sleep(ctx, delay); err != nil {
			return nil, false, err
		}
		if res, ok, err := g.store.GetResult(ctx, key); err != nil {
			return nil, false, err
		} else if ok {
			return res, false, nil
		}
		delay *= 2
		if delay > time.Second {
			delay = time.Second
		}
	}

	g.log.Warn("timed out waiting for concurrent execution", "operation", opts.Name, "key", key)
	return nil, false, apperr.RequestInFlight(key)
}

// TxRunner is satisfied by *txretry.Runner.
type TxRunner interface {
	Run(ctx context.Context, opts txretry.Options, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// ExecuteInTx runs the guarded operation inside the transaction retry engine
// at the requested isolation level.
func (g *Guard) ExecuteInTx(ctx context.Context, key string, opts Options, runner TxRunner, txOpts txretry.Options, op func(ctx context.Context, tx pgx.Tx) ([]byte, error)) ([]byte, bool, error) {
	return g.Execute(ctx, key, opts, func(ctx context.Context) ([]byte, error) {
		var res []byte
		err := runner.Run(ctx, txOpts, func(ctx context.Context, tx pgx.Tx) error {
			var opErr error
			res, opErr = op(ctx, tx)
			return opErr
		})
		return res, err
	})
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
