package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtrader/internal/core"
	apperrors "qtrader/pkg/errors"
)

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, fields ...interface{})               {}
func (l *noopLogger) Info(msg string, fields ...interface{})                {}
func (l *noopLogger) Warn(msg string, fields ...interface{})                {}
func (l *noopLogger) Error(msg string, fields ...interface{})               {}
func (l *noopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *noopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *noopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func TestWorkerPool_SubmitRunsTasks(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "TestPool",
		MaxWorkers:  4,
		MaxCapacity: 100,
	}, &noopLogger{})

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&counter, 1)
		}))
	}
	wg.Wait()
	pool.Stop()

	assert.Equal(t, int64(50), atomic.LoadInt64(&counter))
}

func TestWorkerPool_NonBlockingShedsWhenFull(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "TinyPool",
		MaxWorkers:  1,
		MaxCapacity: 1,
		NonBlocking: true,
	}, &noopLogger{})
	defer pool.Stop()

	release := make(chan struct{})
	blocker := func() { <-release }

	// Occupy the single worker, then fill the single queue slot
	require.NoError(t, pool.Submit(blocker))
	var sawFull bool
	for i := 0; i < 10; i++ {
		if err := pool.Submit(blocker); err != nil {
			assert.ErrorIs(t, err, apperrors.ErrQueueFull)
			sawFull = true
			break
		}
	}
	close(release)
	assert.True(t, sawFull, "expected a full-pool rejection")
}

func TestWorkerPool_SubmitAndWait(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "WaitPool", MaxWorkers: 2, MaxCapacity: 10}, &noopLogger{})
	defer pool.Stop()

	done := false
	pool.SubmitAndWait(func() {
		time.Sleep(10 * time.Millisecond)
		done = true
	})
	assert.True(t, done)

	stats := pool.Stats()
	assert.NotNil(t, stats["submitted_tasks"])
}

func BenchmarkWorkerPool_Submit(b *testing.B) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "BenchmarkPool",
		MaxWorkers:  10,
		MaxCapacity: 1000,
	}, &noopLogger{})
	defer pool.Stop()

	var counter int64
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pool.Submit(func() {
			atomic.AddInt64(&counter, 1)
		})
	}
}
