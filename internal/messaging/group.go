package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Runnable is a component with a start/stop lifecycle.
type Runnable interface {
	Start(ctx context.Context) error
	Shutdown() error
}

// ConsumerGroup runs the consumers reading from one subscriber. The
// subscriber is closed after the last consumer stops.
type ConsumerGroup struct {
	subscriber message.Subscriber
	logger     *zap.Logger

	mu        sync.Mutex
	consumers []Runnable
	running   int
	closed    bool
}

func NewConsumerGroup(subscriber message.Subscriber, logger *zap.Logger) *ConsumerGroup {
	return &ConsumerGroup{
		subscriber: subscriber,
		logger:     logger,
	}
}

// Add registers a consumer. It must be called before Start.
func (g *ConsumerGroup) Add(consumer Runnable) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consumers = append(g.consumers, consumer)
}

// Start starts consumers in order. On failure the ones already running are
// stopped again and the group can be started anew.
func (g *ConsumerGroup) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return errors.New("consumer group is shut down")
	}

	for g.running < len(g.consumers) {
		if err := g.consumers[g.running].Start(ctx); err != nil {
			failed := g.running
			_ = g.stopRunning()

			return fmt.Errorf("start consumer %d: %w", failed, err)
		}

		g.running++
	}

	g.logger.Info("consumers started", zap.Int("count", g.running))

	return nil
}

// Shutdown stops running consumers newest first, then closes the subscriber.
// Calls after the first return nil.
func (g *ConsumerGroup) Shutdown() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}

	g.closed = true
	g.logger.Info("stopping consumers", zap.Int("count", g.running))

	err := g.stopRunning()

	if cerr := g.subscriber.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close subscriber: %w", cerr))
	}

	return err
}

func (g *ConsumerGroup) stopRunning() error {
	var errs []error

	for ; g.running > 0; g.running-- {
		if err := g.consumers[g.running-1].Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
