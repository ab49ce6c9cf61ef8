package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/apperr"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/logger"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/txretry"
)

type memStore struct {
	mu      sync.Mutex
	locks   map[string]string
	results map[string][]byte

	failAcquire bool
}

func newMemStore() *memStore {
	return &memStore{locks: make(map[string]string), results: make(map[string][]byte)}
}

func (s *memStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAcquire {
		return "", false, nil
	}
	if _, held := s.locks[key]; held {
		return "", false, nil
	}
	s.locks[key] = key + "-token"
	return s.locks[key], true, nil
}

func (s *memStore) ReleaseLock(ctx context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[key] == token {
		delete(s.locks, key)
	}
	return nil
}

func (s *memStore) GetResult(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[key]
	return res, ok, nil
}

func (s *memStore) PutResult(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[key] = value
	return nil
}

func (s *memStore) locked(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.locks[key]
	return held
}

func newTestGuard(store Store) *Guard {
	g := NewGuard(store, logger.Discard())
	g.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return g
}

func TestGuard_ExecutesOnceAndStoresResult(t *testing.T) {
	store := newMemStore()
	g := newTestGuard(store)

	calls := 0
	op := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`{"ok":true}`), nil
	}

	res, executed, err := g.Execute(context.Background(), "cancel:42", Options{}, op)
	require.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, []byte(`{"ok":true}`), res)

	res, executed, err = g.Execute(context.Background(), "cancel:42", Options{}, op)
	require.NoError(t, err)
	assert.False(t, executed)
	assert.Equal(t, []byte(`{"ok":true}`), res)
	assert.Equal(t, 1, calls)
}

func TestGuard_ReleasesLockOnFailure(t *testing.T) {
	store := newMemStore()
	g := newTestGuard(store)

	_, executed, err := g.Execute(context.Background(), "cancel:42", Options{}, func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("boom")
	})

	require.Error(t, err)
	assert.True(t, executed)
	assert.False(t, store.locked("cancel:42"))

	// a failed execution stores nothing, so a retry runs the operation again
	res, executed, err := g.Execute(context.Background(), "cancel:42", Options{}, func(ctx context.Context) ([]byte, error) {
		return []byte("second"), nil
	})
	require.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, []byte("second"), res)
}

func TestGuard_WaiterObservesWinnerResult(t *testing.T) {
	store := newMemStore()
	g := newTestGuard(store)
	store.failAcquire = true

	// winner stores the result after two polls
	polls := 0
	g.sleep = func(ctx context.Context, d time.Duration) error {
		polls++
		if polls == 2 {
			_ = store.PutResult(ctx, "cancel:42", []byte("winner"), time.Hour)
		}
		return nil
	}

	res, executed, err := g.Execute(context.Background(), "cancel:42", Options{LockTTL: 10 * time.Second}, func(ctx context.Context) ([]byte, error) {
		t.Fatal("loser must not execute")
		return nil, nil
	})

	require.NoError(t, err)
	assert.False(t, executed)
	assert.Equal(t, []byte("winner"), res)
}

func TestGuard_WaitTimeoutSurfacesInFlight(t *testing.T) {
	store := newMemStore()
	g := newTestGuard(store)
	store.failAcquire = true

	now := time.Now()
	g.now = func() time.Time {
		now = now.Add(20 * time.Second)
		return now
	}

	_, _, err := g.Execute(context.Background(), "cancel:42", Options{LockTTL: 30 * time.Second}, func(ctx context.Context) ([]byte, error) {
		return nil, nil
	})

	require.Error(t, err)
	assert.Equal(t, apperr.CodeRequestInFlight, apperr.CodeOf(err))
}

func TestGuard_DoubleCheckAfterAcquire(t *testing.T) {
	store := newMemStore()
	g := newTestGuard(store)

	// result appears between first lookup and lock acquisition
	require.NoError(t, store.PutResult(context.Background(), "cancel:42", []byte("prior"), time.Hour))

	res, executed, err := g.Execute(context.Background(), "cancel:42", Options{}, func(ctx context.Context) ([]byte, error) {
		t.Fatal("operation must not run when a result exists")
		return nil, nil
	})

	require.NoError(t, err)
	assert.False(t, executed)
	assert.Equal(t, []byte("prior"), res)
}

type recordingRunner struct {
	runs int
}

func (r *recordingRunner) Run(ctx context.Context, opts txretry.Options, fn func(ctx context.Context, tx pgx.Tx) error) error {
	r.runs++
	return fn(ctx, nil)
}

func TestGuard_ExecuteInTx(t *testing.T) {
	store := newMemStore()
	g := newTestGuard(store)
	runner := &recordingRunner{}

	op := func(ctx context.Context, tx pgx.Tx) ([]byte, error) {
		return []byte("committed"), nil
	}

	res, executed, err := g.ExecuteInTx(context.Background(), "cancel:42", Options{}, runner, txretry.Options{Name: "cancel"}, op)
	require.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, []byte("committed"), res)
	assert.Equal(t, 1, runner.runs)

	// replay serves the stored result without opening a transaction
	res, executed, err = g.ExecuteInTx(context.Background(), "cancel:42", Options{}, runner, txretry.Options{Name: "cancel"}, op)
	require.NoError(t, err)
	assert.False(t, executed)
	assert.Equal(t, []byte("committed"), res)
	assert.Equal(t, 1, runner.runs)
}

func TestGuard_ConcurrentCallersExecuteOnce(t *testing.T) {
	store := newMemStore()

	var calls int
	var mu sync.Mutex
	op := func(ctx context.Context) ([]byte, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return []byte("done"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g := NewGuard(store, logger.Discard())
			res, _, err := g.Execute(context.Background(), "cancel:42", Options{LockTTL: 5 * time.Second}, op)
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	for _, res := range results {
		assert.Equal(t, []byte("done"), res)
	}
}
