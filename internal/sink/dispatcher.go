// Package sink runs fire-and-forget writes to the detection collaborators.
package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smartshieldai-idps/ddosguard/internal/models"
	"github.com/smartshieldai-idps/ddosguard/internal/monitoring"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatcher closed")

// ErrBusy is returned by Submit when every worker slot is taken.
var ErrBusy = errors.New("dispatcher busy")

// Sink stores a detection record somewhere.
type Sink interface {
	Name() string
	Append(ctx context.Context, log *models.DetectionLog) error
}

// Task is one background write.
type Task func(ctx context.Context) error

// Dispatcher runs tasks in the background with a bounded number in flight.
// Failures are logged and counted, never returned to the request.
type Dispatcher struct {
	slots   chan struct{}
	timeout time.Duration
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. maxInFlight bounds concurrent tasks and
// timeout bounds each one. metrics may be nil.
func NewDispatcher(maxInFlight int, timeout time.Duration, logger *zap.Logger, metrics *monitoring.Metrics) *Dispatcher {
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		slots:   make(chan struct{}, maxInFlight),
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Submit schedules task under name. It never blocks; when all slots are busy
// the task is dropped.
func (d *Dispatcher) Submit(name string, task Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.slots <- struct{}{}:
	default:
		d.logger.Warn("background write dropped", zap.String("sink", name))
		d.metrics.SinkFailed(name)
		return ErrBusy
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background write panicked", zap.String("sink", name), zap.Any("panic", r))
				d.metrics.SinkFailed(name)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := task(ctx); err != nil {
			d.logger.Warn("background write failed", zap.String("sink", name), zap.Error(err))
			d.metrics.SinkFailed(name)
		}
	}()
	return nil
}

// Fanout submits log to every sink.
func (d *Dispatcher) Fanout(log *models.DetectionLog, sinks ...Sink) {
	for _, s := range sinks {
		s := s
		_ = d.Submit(s.Name(), func(ctx context.Context) error {
			return s.Append(ctx, log)
		})
	}
}

// Close stops accepting tasks and waits for running ones until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
