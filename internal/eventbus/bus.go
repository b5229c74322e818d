// Package eventbus provides the replayable session event stream shared by
// all agents of a session.
package eventbus

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("event bus is closed")

// Bus appends every message to an in-memory history and fans it out to all
// subscribers. Each subscriber has its own unbounded queue drained by a
// pump goroutine, so a stalled subscriber never blocks Publish.
type Bus struct {
	mutex       sync.Mutex
	history     []Message
	subscribers map[string]*subscriber
	closed      bool

	bufferSize int
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures the bus.
type Option func(*Bus)

// WithBufferSize sets the buffer of each subscription channel.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		b.bufferSize = size
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		b.now = now
	}
}

// New creates an empty bus.
func New(options ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[string]*subscriber),
		bufferSize:  16,
		now:         time.Now,
	}
	for _, option := range options {
		option(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return b
}

// Subscription is one consumer of the bus.
type Subscription struct {
	ID string
	// C yields the full history, then live messages. It is closed after
	// Unsubscribe, or after Close once every queued message was delivered.
	C <-chan Message
}

// Subscribe returns a subscription that first replays the history in
// original order and then receives every new message.
func (b *Bus) Subscribe() *Subscription {
	s := newSubscriber(b.bufferSize)
	id := uuid.New().String()

	b.mutex.Lock()
	s.queue = append(s.queue, b.history...)
	if b.closed {
		s.finish()
	} else {
		b.subscribers[id] = s
	}
	replay := len(s.queue)
	b.mutex.Unlock()

	go s.pump()
	b.logger.Debug("subscriber added", "subscription", id, "replayed", replay)
	return &Subscription{ID: id, C: s.out}
}

// Unsubscribe stops delivery to a subscription and closes its channel.
// Undelivered messages are dropped for that subscriber only.
func (b *Bus) Unsubscribe(id string) {
	b.mutex.Lock()
	s, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mutex.Unlock()
	if ok {
		s.stop()
	}
}

// Publish stamps msg with an id and timestamp when missing, appends it to
// the history and queues it for every subscriber.
func (b *Bus) Publish(msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.now()
	}
	if msg.Payload == nil {
		msg.Payload = map[string]any{}
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.history = append(b.history, msg)
	for _, s := range b.subscribers {
		s.push(msg)
	}
	return nil
}

// History returns a snapshot of all messages, optionally filtered by type.
func (b *Bus) History(types ...EventType) []Message {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if len(types) == 0 {
		return append([]Message(nil), b.history...)
	}
	want := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		want[t] = struct{}{}
	}
	var out []Message
	for _, m := range b.history {
		if _, ok := want[m.Type]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the number of published messages.
func (b *Bus) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.history)
}

// Counts returns the number of messages per type.
func (b *Bus) Counts() map[EventType]int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	counts := make(map[EventType]int)
	for _, m := range b.history {
		counts[m.Type]++
	}
	return counts
}

// Close rejects further publishes. Subscribers receive what is already
// queued and then see their channel closed.
func (b *Bus) Close() error {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[string]*subscriber)
	b.mutex.Unlock()

	for _, s := range subs {
		s.finish()
	}
	return nil
}

type subscriber struct {
	mu       sync.Mutex
	queue    []Message
	finished bool

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	out    chan Message
}

func newSubscriber(buffer int) *subscriber {
	return &subscriber{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Message, buffer),
	}
}

func (s *subscriber) push(msg Message) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	s.wake()
}

func (s *subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// finish lets the pump drain the queue and then close out.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.wake()
}

// stop closes out without draining.
func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		msg := s.queue[0]
		s.queue[0] = Message{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- msg:
		case <-s.done:
			return
		}
	}
}
