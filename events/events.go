// Package events carries signal and alert notifications to external
// subscribers through a bounded in-process bus.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/pkg/logger"
)

const (
	TopicSignal        = "trading.signal"
	TopicAlert         = "risk.alert"
	TopicAlertResolved = "risk.alert.resolved"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

type Event struct {
	Topic   string          `json:"topic"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// New encodes v as the payload of an event.
func New(topic, key string, v any, at time.Time) (Event, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	return Event{Topic: topic, Key: key, Payload: b, At: at}, nil
}

// Publisher delivers an event to one destination.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Bus is a bounded, non-blocking queue fanned out to sinks by Run. A full
// queue drops the event rather than stall the caller.
type Bus struct {
	ch      chan Event
	mu      sync.RWMutex
	closed  bool
	sinks   []Publisher
	dropped atomic.Int64
	log     *zap.Logger
}

func NewBus(capacity int, log *zap.Logger, sinks ...Publisher) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bus{ch: make(chan Event, capacity), sinks: sinks, log: logger.OrNop(log)}
}

// Publish enqueues e without blocking.
func (b *Bus) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrQueueClosed
	}
	select {
	case b.ch <- e:
		return nil
	default:
		b.dropped.Add(1)
		b.log.Warn("event dropped", zap.String("topic", e.Topic), zap.String("key", e.Key))
		return ErrQueueFull
	}
}

// Dropped counts events refused because the queue was full.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close stops accepting events. Run drains what is queued and returns.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}

// Run delivers events to every sink until ctx is done or the bus is closed
// and drained. A failing sink is logged and does not block the others.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-b.ch:
			if !ok {
				return
			}
			for _, s := range b.sinks {
				if err := s.Publish(ctx, e); err != nil {
					b.log.Error("event sink failed", zap.String("topic", e.Topic), zap.Error(err))
				}
			}
		}
	}
}
