package accounting_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/serroba/shortlink/internal/accounting"
	"github.com/serroba/shortlink/internal/shortener"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockIncrementer struct {
	mu       sync.Mutex
	clicks   map[shortener.Code]int64
	last     map[shortener.Code]time.Time
	calls    int
	failures map[shortener.Code]error
	// lateFailures apply the increment and then report the error.
	lateFailures map[shortener.Code]error
	// block, when set, is closed by the test to release IncrementClicks.
	block   chan struct{}
	entered chan struct{}
}

func newMockIncrementer() *mockIncrementer {
	return &mockIncrementer{
		clicks:   make(map[shortener.Code]int64),
		last:     make(map[shortener.Code]time.Time),
		failures:     make(map[shortener.Code]error),
		lateFailures: make(map[shortener.Code]error),
	}
}

func (m *mockIncrementer) IncrementClicks(_ context.Context, code shortener.Code, count int64, at time.Time) error {
	if m.block != nil {
		select {
		case m.entered <- struct{}{}:
		default:
		}

		<-m.block
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++

	if err, ok := m.failures[code]; ok {
		delete(m.failures, code)

		return err
	}

	m.clicks[code] += count
	if at.After(m.last[code]) {
		m.last[code] = at
	}

	if err, ok := m.lateFailures[code]; ok {
		delete(m.lateFailures, code)

		return err
	}

	return nil
}

func (m *mockIncrementer) count(code shortener.Code) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.clicks[code]
}

func (m *mockIncrementer) lastAt(code shortener.Code) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.last[code]
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}

	return 0
}

func newAccountant(t *testing.T, store accounting.Incrementer, cfg accounting.Config, hooks ...accounting.FlushHook) *accounting.Accountant {
	t.Helper()

	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Hour
	}

	a := accounting.New(store, cfg, zap.NewNop(), nil, hooks...)
	t.Cleanup(func() { _ = a.Shutdown() })

	return a
}

func TestAccountant_ConcurrentRecordsAreCountedExactly(t *testing.T) {
	store := newMockIncrementer()
	a := newAccountant(t, store, accounting.Config{QueueSize: 100_000})

	const (
		workers   = 50
		perWorker = 200
	)

	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range perWorker {
				a.Record("abc123", time.Now())
			}
		}()
	}

	wg.Wait()
	require.NoError(t, a.Flush(context.Background()))

	assert.Equal(t, int64(0), a.Dropped())
	assert.Equal(t, int64(workers*perWorker), store.count("abc123"))
}

func TestAccountant_MergesPerCode(t *testing.T) {
	store := newMockIncrementer()

	var applied []accounting.Delta

	a := newAccountant(t, store, accounting.Config{}, func(_ context.Context, d []accounting.Delta) {
		applied = append(applied, d...)
	})

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	a.Record("abc123", base.Add(2*time.Second))
	a.Record("abc123", base)
	a.Record("xyz789", base.Add(time.Second))

	require.NoError(t, a.Flush(context.Background()))

	assert.Equal(t, int64(2), store.count("abc123"))
	assert.Equal(t, int64(1), store.count("xyz789"))
	assert.Equal(t, base.Add(2*time.Second), store.lastAt("abc123"), "latest timestamp wins")
	assert.Equal(t, 2, store.calls, "one increment per code")
	assert.ElementsMatch(t, []accounting.Delta{
		{Code: "abc123", Count: 2, LastAccessedAt: base.Add(2 * time.Second)},
		{Code: "xyz789", Count: 1, LastAccessedAt: base.Add(time.Second)},
	}, applied)
}

func TestAccountant_FlushesOnBatchSize(t *testing.T) {
	store := newMockIncrementer()
	a := newAccountant(t, store, accounting.Config{BatchSize: 5})

	for range 5 {
		a.Record("abc123", time.Now())
	}

	assert.Eventually(t, func() bool { return store.count("abc123") == 5 }, time.Second, 5*time.Millisecond)
}

func TestAccountant_FlushesOnInterval(t *testing.T) {
	store := newMockIncrementer()
	a := newAccountant(t, store, accounting.Config{FlushInterval: 10 * time.Millisecond})

	a.Record("abc123", time.Now())

	assert.Eventually(t, func() bool { return store.count("abc123") == 1 }, time.Second, 5*time.Millisecond)
}

func TestAccountant_DropsWhenQueueIsFull(t *testing.T) {
	store := newMockIncrementer()
	store.block = make(chan struct{})
	store.entered = make(chan struct{}, 1)

	reg := prometheus.NewRegistry()
	a := accounting.New(store, accounting.Config{QueueSize: 2, BatchSize: 1, FlushInterval: time.Hour},
		zap.NewNop(), accounting.NewMetrics(reg))

	// first click is pulled off the queue and blocks the worker in the store
	a.Record("abc123", time.Now())
	<-store.entered

	for range 5 {
		a.Record("abc123", time.Now())
	}

	assert.Equal(t, int64(3), a.Dropped())
	assert.InDelta(t, 3, counterValue(t, reg, "shortlink_clicks_dropped_total"), 0)

	close(store.block)
	require.NoError(t, a.Shutdown())

	assert.Equal(t, int64(3), store.count("abc123"))
}

func TestAccountant_NotFoundDiscardsDelta(t *testing.T) {
	store := newMockIncrementer()
	store.failures["gone01"] = shortener.ErrNotFound
	a := newAccountant(t, store, accounting.Config{})

	a.Record("gone01", time.Now())
	require.NoError(t, a.Flush(context.Background()))
	require.NoError(t, a.Flush(context.Background()))

	assert.Equal(t, int64(0), store.count("gone01"))
	assert.Equal(t, 1, store.calls)
}

func TestAccountant_RetriesTransientFailures(t *testing.T) {
	store := newMockIncrementer()
	store.failures["abc123"] = errors.New("connection reset")
	a := newAccountant(t, store, accounting.Config{})

	a.Record("abc123", time.Now())
	require.NoError(t, a.Flush(context.Background()))
	assert.Equal(t, int64(0), store.count("abc123"))

	a.Record("abc123", time.Now())
	require.NoError(t, a.Flush(context.Background()))

	assert.Equal(t, int64(2), store.count("abc123"), "failed delta is merged into the next batch")
}

func TestAccountant_TimedOutIncrementIsRetriedAndReported(t *testing.T) {
	store := newMockIncrementer()
	store.lateFailures["abc123"] = context.DeadlineExceeded

	core, logs := observer.New(zap.WarnLevel)
	reg := prometheus.NewRegistry()
	a := accounting.New(store, accounting.Config{FlushInterval: time.Hour}, zap.New(core), accounting.NewMetrics(reg))
	t.Cleanup(func() { _ = a.Shutdown() })

	a.Record("abc123", time.Now())
	require.NoError(t, a.Flush(context.Background()))
	require.NoError(t, a.Flush(context.Background()))

	assert.Equal(t, int64(2), store.count("abc123"), "a committed but timed out increment is applied again")
	assert.InDelta(t, 1, counterValue(t, reg, "shortlink_clicks_flush_timeouts_total"), 0)
	assert.Equal(t, 1, logs.FilterMessage("click flush timed out with unknown outcome, will retry").Len())
}

func TestAccountant_Shutdown(t *testing.T) {
	t.Run("flushes pending clicks", func(t *testing.T) {
		store := newMockIncrementer()
		a := accounting.New(store, accounting.Config{FlushInterval: time.Hour}, zap.NewNop(), nil)

		for range 10 {
			a.Record("abc123", time.Now())
		}

		require.NoError(t, a.Shutdown())
		assert.Equal(t, int64(10), store.count("abc123"))
	})

	t.Run("records after shutdown are dropped", func(t *testing.T) {
		store := newMockIncrementer()
		a := accounting.New(store, accounting.Config{}, zap.NewNop(), nil)
		require.NoError(t, a.Shutdown())

		a.Record("abc123", time.Now())

		assert.Equal(t, int64(1), a.Dropped())
		assert.ErrorIs(t, a.Flush(context.Background()), accounting.ErrClosed)
	})

	t.Run("is idempotent", func(t *testing.T) {
		a := accounting.New(newMockIncrementer(), accounting.Config{}, zap.NewNop(), nil)

		require.NoError(t, a.Shutdown())
		require.NoError(t, a.Shutdown())
	})
}
