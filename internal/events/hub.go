package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Observer receives events. Implementations must not block.
type Observer interface {
	OnEvent(Message)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Message)

// OnEvent calls f.
func (f ObserverFunc) OnEvent(m Message) { f(m) }

// Hub delivers each published event to every subscriber, synchronously and
// in publish order.
type Hub struct {
	mu        sync.RWMutex
	observers map[uint64]Observer
	nextID    uint64
	published atomic.Uint64
	now       func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		observers: make(map[uint64]Observer),
		now:       time.Now,
	}
}

// Subscribe registers o and returns a function that removes it.
func (h *Hub) Subscribe(o Observer) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.observers[id] = o
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.observers, id)
			h.mu.Unlock()
		})
	}
}

// Publish stamps e and fans it out.
func (h *Hub) Publish(e Event) {
	msg := NewMessage(e, h.now())
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, o := range h.observers {
		o.OnEvent(msg)
	}
}

// Subscribers returns the number of registered observers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Published returns the number of events published so far.
func (h *Hub) Published() uint64 {
	return h.published.Load()
}

// ChannelObserver buffers events for a slow consumer. When the buffer is
// full new events are dropped and counted.
type ChannelObserver struct {
	C       chan Message
	dropped atomic.Uint64
}

// NewChannelObserver creates an observer with the given buffer size.
func NewChannelObserver(size int) *ChannelObserver {
	if size <= 0 {
		size = 1
	}
	return &ChannelObserver{C: make(chan Message, size)}
}

// OnEvent enqueues m without blocking.
func (c *ChannelObserver) OnEvent(m Message) {
	select {
	case c.C <- m:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns how many events did not fit in the buffer.
func (c *ChannelObserver) Dropped() uint64 {
	return c.dropped.Load()
}
