package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-selfheal/internal/cache"
	"github.com/miradorstack/mirador-selfheal/internal/models"
	"github.com/miradorstack/mirador-selfheal/internal/utils"
)

func TestConcurrentTriggersShareOneRun(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	run := func(context.Context) models.RunSummary {
		calls.Add(1)
		<-release
		return models.RunSummary{RunID: "shared", Status: models.RunHealthy}
	}
	r := NewRunner(context.Background(), run, nil, time.Minute, utils.DiscardLogger())

	var wg sync.WaitGroup
	results := make([]models.RunSummary, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summary, err := r.Trigger(context.Background())
			assert.NoError(t, err)
			results[i] = summary
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, summary := range results {
		assert.Equal(t, "shared", summary.RunID)
	}
}

func TestTriggerHonoursDistributedLock(t *testing.T) {
	lock := cache.NewMemoryProvider()
	ok, err := lock.SetNX(context.Background(), LockKey, []byte("other-node"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	r := NewRunner(context.Background(), func(context.Context) models.RunSummary {
		called = true
		return models.RunSummary{}
	}, lock, time.Minute, utils.DiscardLogger())

	_, err = r.Trigger(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.False(t, called)
}

func TestTriggerReleasesLockAfterRun(t *testing.T) {
	lock := cache.NewMemoryProvider()
	var held bool
	r := NewRunner(context.Background(), func(ctx context.Context) models.RunSummary {
		_, err := lock.Get(ctx, LockKey)
		held = err == nil
		return models.RunSummary{RunID: "r1"}
	}, lock, time.Minute, utils.DiscardLogger())

	summary, err := r.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r1", summary.RunID)
	assert.True(t, held, "lock must be held while running")

	_, err = lock.Get(context.Background(), LockKey)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestTriggerLeavesLockTakenOverByAnotherOwner(t *testing.T) {
	lock := cache.NewMemoryProvider()
	r := NewRunner(context.Background(), func(ctx context.Context) models.RunSummary {
		// The TTL lapsed mid-run and another node acquired the lock.
		assert.NoError(t, lock.Del(ctx, LockKey))
		ok, err := lock.SetNX(ctx, LockKey, []byte("other-node"), time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		return models.RunSummary{RunID: "r1"}
	}, lock, time.Minute, utils.DiscardLogger())

	_, err := r.Trigger(context.Background())
	require.NoError(t, err)

	holder, err := lock.Get(context.Background(), LockKey)
	require.NoError(t, err)
	assert.Equal(t, "other-node", string(holder))
}

type failingLocker struct{}

func (failingLocker) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingLocker) Get(context.Context, string) ([]byte, error) { return nil, cache.ErrCacheMiss }

func (failingLocker) Del(context.Context, string) error { return nil }

func TestTriggerSurfacesLockErrors(t *testing.T) {
	r := NewRunner(context.Background(), func(context.Context) models.RunSummary {
		assert.Fail(t, "run must not start without the lock")
		return models.RunSummary{}
	}, failingLocker{}, time.Minute, utils.DiscardLogger())

	_, err := r.Trigger(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire run lock")
	assert.False(t, errors.Is(err, ErrRunInProgress))
}

func TestCallerCancellationDoesNotAbortRun(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	r := NewRunner(context.Background(), func(ctx context.Context) models.RunSummary {
		<-release
		close(finished)
		return models.RunSummary{}
	}, nil, time.Minute, utils.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Trigger(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		require.FailNow(t, "run did not complete after caller gave up")
	}
}

func TestEveryRunsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	r := NewRunner(context.Background(), func(context.Context) models.RunSummary {
		calls.Add(1)
		return models.RunSummary{Status: models.RunHealthy}
	}, nil, time.Minute, utils.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Every(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "Every did not return after cancel")
	}
}
