// Package accounting records link resolutions without blocking the redirect
// path and persists them to the link store in merged batches.
package accounting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/serroba/shortlink/internal/shortener"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Flush once the accountant has shut down.
var ErrClosed = errors.New("accountant closed")

const (
	defaultQueueSize     = 10_000
	defaultBatchSize     = 1000
	defaultFlushInterval = time.Second
	defaultConcurrency   = 8
	defaultFlushTimeout  = 5 * time.Second
)

// Config tunes the accountant. Zero values fall back to defaults.
type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	// Concurrency bounds parallel store increments within one flush.
	Concurrency int
	// FlushTimeout bounds a single flush against the store.
	FlushTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}

	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}

	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}

	if c.FlushTimeout <= 0 {
		c.FlushTimeout = defaultFlushTimeout
	}

	return c
}

// Incrementer is the part of the link store the accountant writes to.
type Incrementer interface {
	IncrementClicks(ctx context.Context, code shortener.Code, count int64, lastAccessedAt time.Time) error
}

// Delta is the merged effect of one or more clicks on a single code.
type Delta struct {
	Code           shortener.Code
	Count          int64
	LastAccessedAt time.Time
}

func (d *Delta) merge(count int64, at time.Time) {
	d.Count += count
	if at.After(d.LastAccessedAt) {
		d.LastAccessedAt = at
	}
}

// FlushHook observes the deltas that were persisted by a flush.
type FlushHook func(ctx context.Context, applied []Delta)

type click struct {
	code shortener.Code
	at   time.Time
}

// Accountant buffers click events in a bounded queue and flushes them from a
// single background worker.
type Accountant struct {
	store   Incrementer
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
	hooks   []FlushHook

	events   chan click
	flushReq chan chan struct{}
	done     chan struct{}

	// mu guards closed against concurrent sends on events.
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// New starts an accountant writing to store.
func New(store Incrementer, cfg Config, logger *zap.Logger, metrics *Metrics, hooks ...FlushHook) *Accountant {
	cfg = cfg.withDefaults()

	a := &Accountant{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		hooks:    hooks,
		events:   make(chan click, cfg.QueueSize),
		flushReq: make(chan chan struct{}),
		done:     make(chan struct{}),
	}

	go a.run()

	return a
}

// Record queues a click for code. It never blocks: when the queue is full or
// the accountant is closed the click is dropped and counted.
func (a *Accountant) Record(code shortener.Code, at time.Time) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.drop()

		return
	}

	select {
	case a.events <- click{code: code, at: at}:
		a.metrics.record()
	default:
		a.drop()
	}
}

func (a *Accountant) drop() {
	a.dropped.Add(1)
	a.metrics.drop()
}

// Dropped returns how many clicks were discarded since start.
func (a *Accountant) Dropped() int64 {
	return a.dropped.Load()
}

// Flush persists everything recorded before the call.
func (a *Accountant) Flush(ctx context.Context) error {
	reply := make(chan struct{})

	select {
	case a.flushReq <- reply:
	case <-a.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue and waits for the final flush.
func (a *Accountant) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown implements do.Shutdownable.
func (a *Accountant) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.FlushTimeout+time.Second)
	defer cancel()

	return a.Stop(ctx)
}

func (a *Accountant) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make(map[shortener.Code]*Delta)
	buffered := 0

	add := func(c click) {
		d, ok := pending[c.code]
		if !ok {
			d = &Delta{Code: c.code}
			pending[c.code] = d
		}

		d.merge(1, c.at)
		buffered++
	}

	flush := func() {
		pending = a.flush(pending)
		buffered = 0
	}

	for {
		select {
		case c, ok := <-a.events:
			if !ok {
				a.final(pending)

				return
			}

			add(c)

			if buffered >= a.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case reply := <-a.flushReq:
			a.drain(add)
			flush()
			close(reply)
		}
	}
}

// drain moves whatever is already queued into the pending batch.
func (a *Accountant) drain(add func(click)) {
	for {
		select {
		case c, ok := <-a.events:
			if !ok {
				return
			}

			add(c)
		default:
			return
		}
	}
}

func (a *Accountant) final(pending map[shortener.Code]*Delta) {
	remaining := a.flush(pending)

	var lost int64
	for _, d := range remaining {
		lost += d.Count
	}

	if lost > 0 {
		a.logger.Error("clicks lost on shutdown",
			zap.Int("codes", len(remaining)),
			zap.Int64("clicks", lost),
		)
	}
}

// flush applies pending deltas and returns the ones that must be retried.
func (a *Accountant) flush(pending map[shortener.Code]*Delta) map[shortener.Code]*Delta {
	if len(pending) == 0 {
		return pending
	}

	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.FlushTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		applied = make([]Delta, 0, len(pending))
		retry     = make(map[shortener.Code]*Delta)
		clicks    int64
		uncertain int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	for code, d := range pending {
		g.Go(func() error {
			err := a.store.IncrementClicks(gctx, code, d.Count, d.LastAccessedAt)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				applied = append(applied, *d)
				clicks += d.Count
			case errors.Is(err, shortener.ErrNotFound):
				a.logger.Debug("discarding clicks for removed link",
					zap.String("code", string(code)),
					zap.Int64("clicks", d.Count),
				)
			case errors.Is(err, context.DeadlineExceeded):
				// the update may have committed before the deadline; a retry
				// can count these clicks twice
				a.logger.Warn("click flush timed out with unknown outcome, will retry",
					zap.String("code", string(code)),
					zap.Int64("clicks", d.Count),
					zap.Error(err),
				)

				retry[code] = d
				uncertain++
			default:
				a.logger.Warn("click flush failed, will retry",
					zap.String("code", string(code)),
					zap.Int64("clicks", d.Count),
					zap.Error(err),
				)

				retry[code] = d
			}

			return nil
		})
	}

	_ = g.Wait()

	a.metrics.flushed(clicks, len(retry), uncertain, time.Since(start).Seconds())

	if len(applied) > 0 {
		for _, hook := range a.hooks {
			hook(ctx, applied)
		}
	}

	return retry
}
