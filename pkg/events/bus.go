// Package events implements the in-process publish/subscribe fan-out of
// push events to change-stream subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Change describes one ref update extracted from a receive-pack report.
type Change struct {
	// Type is "head" for refs/heads/* updates and "tag" for refs/tags/*.
	Type string `json:"type"`

	// Ref is the short ref name, without the refs/heads/ or refs/tags/
	// prefix.
	Ref string `json:"ref"`

	Before string `json:"before"`
	After  string `json:"after"`
}

// PushEvent is published after a successful receive-pack run.
type PushEvent struct {
	Repo    string   `json:"repo"`
	Changes []Change `json:"changes"`
}

// Message is what subscribers receive. Exactly one of the payload fields
// is populated, selected by Type: "initial" carries Branches, "push"
// carries Changes, "keepalive" carries neither.
type Message struct {
	Type     string            `json:"type"`
	Branches map[string]string `json:"branches,omitempty"`
	Changes  []Change          `json:"changes,omitempty"`
}

const (
	MessageInitial   = "initial"
	MessagePush      = "push"
	MessageKeepalive = "keepalive"
)

// KeepaliveInterval is how often idle subscribers receive a keepalive.
const KeepaliveInterval = 30 * time.Second

// Bus fans push events out to subscribers. Publication happens from the
// Git HTTP path only; subscribers are long-lived HTTP responses.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	logger      *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[*Subscription]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a subscriber for events on the given producer and
// returns its subscription. The initial snapshot is enqueued before any
// subsequent push can be observed, so subscribers never miss the state
// they started from. Callers must Close the subscription when the
// transport goes away.
func (b *Bus) Subscribe(producerID string, initialBranches map[string]string) *Subscription {
	if initialBranches == nil {
		initialBranches = map[string]string{}
	}
	if _, ok := initialBranches["master"]; !ok {
		initialBranches["master"] = "0000000000000000000000000000000000000000"
	}

	s := &Subscription{
		bus:        b,
		producerID: producerID,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	s.enqueue(Message{Type: MessageInitial, Branches: initialBranches})

	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()

	s.keepalive = time.AfterFunc(KeepaliveInterval, s.keepaliveTick)
	return s
}

// Publish delivers the event to every subscriber of the matching
// producer, in registration-independent but per-subscriber FIFO order.
func (b *Bus) Publish(ev PushEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for s := range b.subscribers {
		if s.producerID != ev.Repo {
			continue
		}
		s.enqueue(Message{Type: MessagePush, Changes: ev.Changes})
		delivered++
	}
	b.logger.Debug("published push event", "repo", ev.Repo, "changes", len(ev.Changes), "subscribers", delivered)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
}

// Subscription is one subscriber's unbounded FIFO queue of messages.
type Subscription struct {
	bus        *Bus
	producerID string

	mu    sync.Mutex
	queue []Message

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	keepalive *time.Timer
}

// Next blocks until a message is available or the subscription is
// closed. The second result is false once the subscription is closed and
// the queue is drained.
func (s *Subscription) Next() (Message, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return msg, true
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
			return Message{}, false
		}
	}
}

// Close deregisters the subscription and cancels its keepalive timer.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.keepalive.Stop()
		s.bus.remove(s)
		close(s.done)
	})
}

func (s *Subscription) enqueue(msg Message) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) keepaliveTick() {
	select {
	case <-s.done:
		return
	default:
	}
	s.enqueue(Message{Type: MessageKeepalive})
	s.keepalive.Reset(KeepaliveInterval)
}
