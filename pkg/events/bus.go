// pkg/events/bus.go
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Sink receives lifecycle events. Sinks are invoked off the control loop's
// goroutines; a slow sink delays other sinks but never the controller.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Bus fans lifecycle events out to the configured sinks through a buffered
// channel. Emit never blocks: when the buffer is full the event is dropped
// and counted.
type Bus struct {
	ch       chan Event
	sinks    []Sink
	logger   *zap.Logger
	dropped  atomic.Int64
	dropHook atomic.Value // func()
	wg       sync.WaitGroup

	closeOnce sync.Once
}

func NewBus(bufferSize int, logger *zap.Logger, sinks ...Sink) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	b := &Bus{
		ch:     make(chan Event, bufferSize),
		sinks:  sinks,
		logger: logger,
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// SetDropHook registers a callback invoked once per dropped event, on top
// of the internal counter.
func (b *Bus) SetDropHook(fn func()) {
	b.dropHook.Store(fn)
}

// Emit queues an event for delivery. The timestamp is filled in when unset.
func (b *Bus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case b.ch <- evt:
	default:
		b.dropped.Add(1)
		if fn, ok := b.dropHook.Load().(func()); ok && fn != nil {
			fn()
		}
		b.logger.Warn("event dropped, bus buffer full",
			zap.String("type", evt.Type),
			zap.String("key", evt.Key()))
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) run() {
	defer b.wg.Done()
	for evt := range b.ch {
		for _, sink := range b.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			if err := sink.Publish(ctx, evt); err != nil {
				b.logger.Error("event sink publish failed",
					zap.String("type", evt.Type),
					zap.Error(err))
			}
			cancel()
		}
	}
}

// Close drains queued events, then closes the sinks.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.ch)
		b.wg.Wait()
		for _, sink := range b.sinks {
			if cerr := sink.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
