// Package eventbus provides an in-process pub/sub bus for notifications.
// The recorder publishes after the store write; subscribers process them
// asynchronously in a single consumer goroutine.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentroll/internal/types"
)

// Handler processes a notification. Implementations must be safe for
// concurrent calls from different goroutines.
type Handler interface {
	HandleNotification(ctx context.Context, n types.Notification) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, n types.Notification) error

func (f HandlerFunc) HandleNotification(ctx context.Context, n types.Notification) error {
	return f(ctx, n)
}

// Bus is a simple in-process bus. Notifications are published to a buffered
// channel and dispatched to all subscribers in a single consumer goroutine,
// which serialises processing and keeps SQLite writes single-threaded.
type Bus struct {
	mu          sync.RWMutex
	subscribers []namedHandler
	events      chan types.Notification
	done        chan struct{}
	closed      bool
	lastID      uint64
	log         zerolog.Logger
}

type namedHandler struct {
	id      uint64
	name    string
	handler Handler
}

// New creates a new Bus with the given channel buffer size.
func New(bufSize int, log zerolog.Logger) *Bus {
	if bufSize < 1 {
		bufSize = 256
	}
	return &Bus{
		events: make(chan types.Notification, bufSize),
		done:   make(chan struct{}),
		log:    log.With().Str("component", "eventbus").Logger(),
	}
}

// Subscribe registers a named handler and returns a function removing it.
func (b *Bus) Subscribe(name string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastID++
	id := b.lastID
	b.subscribers = append(b.subscribers, namedHandler{id: id, name: name, handler: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subscribers {
			if s.id == id {
				b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Publish sends a notification to the bus. Non-blocking: if the buffer is
// full, or the bus is stopped, the notification is dropped and a warning is
// logged.
func (b *Bus) Publish(_ context.Context, n types.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.log.Warn().Str("type", n.Type).Str("notification_id", n.ID).Msg("bus stopped, dropping notification")
		return
	}
	select {
	case b.events <- n:
	default:
		b.log.Warn().Str("type", n.Type).Str("notification_id", n.ID).Msg("buffer full, dropping notification")
	}
}

// Start begins the consumer goroutine. It processes notifications until the
// context is cancelled or Stop is called.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		for {
			select {
			case n, ok := <-b.events:
				if !ok {
					return
				}
				b.dispatch(ctx, n)
			case <-ctx.Done():
				// Drain remaining notifications before exiting.
				for {
					select {
					case n, ok := <-b.events:
						if !ok {
							return
						}
						b.dispatch(context.WithoutCancel(ctx), n)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop closes the bus and waits for the consumer goroutine to drain it.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	b.mu.Unlock()
	<-b.done
}

func (b *Bus) dispatch(ctx context.Context, n types.Notification) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler.HandleNotification(ctx, n); err != nil {
			b.log.Error().Err(err).Str("handler", s.name).Str("type", n.Type).Msg("handler error")
		}
	}
}
