package memory

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/tenderflow/pkg/domain"
	"github.com/aescanero/tenderflow/pkg/ports"
)

// DefaultBufferSize is the per-subscription queue length.
const DefaultBufferSize = 256

// ErrClosed is returned after Close.
var ErrClosed = errors.New("event bus closed")

// InMemoryEventBus implements EventBus with in-process subscriptions. Each
// subscription receives events in publish order on its own goroutine.
type InMemoryEventBus struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[string]map[uint64]*subscription
	nextID      uint64
	closed      bool
	wg          sync.WaitGroup
}

type subscription struct {
	id      uint64
	topic   string
	handler ports.EventHandler
	ch      chan domain.Event
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{
		logger:      logger,
		bufferSize:  DefaultBufferSize,
		subscribers: make(map[string]map[uint64]*subscription),
	}
}

// Publish queues an event for every current subscriber of topic. A
// subscriber whose queue is full misses the event.
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrClosed
	}
	for _, sub := range e.subscribers[topic] {
		select {
		case sub.ch <- event:
		default:
			e.logger.Warn("subscriber queue full, dropping event",
				zap.String("topic", topic),
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)))
		}
	}
	return nil
}

// Subscribe delivers events on topic to handler until ctx is done or the bus
// is closed.
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.nextID++
	sub := &subscription{
		id:      e.nextID,
		topic:   topic,
		handler: handler,
		ch:      make(chan domain.Event, e.bufferSize),
	}
	if e.subscribers[topic] == nil {
		e.subscribers[topic] = make(map[uint64]*subscription)
	}
	e.subscribers[topic][sub.id] = sub
	e.wg.Add(1)
	e.mu.Unlock()

	go e.deliver(ctx, sub)
	return nil
}

func (e *InMemoryEventBus) deliver(ctx context.Context, sub *subscription) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			e.unsubscribe(sub)
			return
		case event, ok := <-sub.ch:
			if !ok {
				return
			}
			if err := sub.handler(ctx, event); err != nil {
				e.logger.Debug("event handler error",
					zap.String("topic", sub.topic),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}
	}
}

// SubscriberCount returns the number of live subscriptions on topic.
func (e *InMemoryEventBus) SubscriberCount(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

// Close stops every subscription and waits for in-flight handlers.
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for topic, subs := range e.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
		delete(e.subscribers, topic)
	}
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

func (e *InMemoryEventBus) unsubscribe(sub *subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[sub.topic]
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	close(sub.ch)
	if len(subs) == 0 {
		delete(e.subscribers, sub.topic)
	}
}
