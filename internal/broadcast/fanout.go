package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultPublishTimeout = 5 * time.Second

// Notifier is the fire-and-forget publishing contract used by membership
// operations. Publish never blocks and never reports failure.
type Notifier interface {
	Publish(destination Destination, event Event)
}

// FanoutConfig configures a Fanout.
type FanoutConfig struct {
	Transport Transport
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Fanout delivers each event on its own goroutine. Failures are logged and
// the event is lost; nothing is retried.
type Fanout struct {
	transport Transport
	timeout   time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

// NewFanout constructs a Fanout over transport.
func NewFanout(cfg FanoutConfig) (*Fanout, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("broadcast: transport required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{transport: cfg.Transport, timeout: timeout, logger: logger}, nil
}

// Publish schedules delivery of event to destination and returns immediately.
func (f *Fanout) Publish(destination Destination, event Event) {
	if event == nil || destination.Stream() == "" {
		return
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		f.logger.Warn("broadcast dropped after shutdown",
			zap.String("stream", destination.Stream()),
			zap.String("event", event.EventName()))
		return
	}
	f.inFlight.Add(1)
	f.mu.Unlock()
	go func() {
		defer f.inFlight.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				f.logger.Error("broadcast panicked",
					zap.String("stream", destination.Stream()),
					zap.String("event", event.EventName()),
					zap.Any("panic", recovered))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		if err := publishTo(ctx, f.transport, destination, event); err != nil {
			f.logger.Warn("broadcast delivery failed",
				zap.String("stream", destination.Stream()),
				zap.String("event", event.EventName()),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every scheduled publish has finished.
func (f *Fanout) Wait() {
	f.inFlight.Wait()
}

// Close stops accepting publishes and waits for the scheduled ones. Later
// publishes are dropped and logged. Close is safe to call more than once.
func (f *Fanout) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.inFlight.Wait()
}
