package livechat

import (
	"log"
	"sync"

	"github.com/ihubtech/livechat-server/internal/model/livechat"
)

// streamBuffer bounds how many undelivered events a subscriber may hold.
// A full buffer means the transport stopped draining; the subscriber is
// dropped rather than blocking the broadcast loop.
const streamBuffer = 16

// Stream is one subscriber's server-push handle. The owning connection
// reads Events until it ends, then calls Close to deregister.
type Stream struct {
	b       *Broadcaster
	key     string
	admin   bool
	ch      chan livechat.Event
	done    chan struct{}
	closeMu sync.Once
}

// Events returns the ordered event feed for this subscriber.
func (s *Stream) Events() <-chan livechat.Event { return s.ch }

// Done is closed once the stream is deregistered.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Close deregisters the stream. Safe to call more than once. The Once only
// guards the channel close; deregistration happens outside it so a broadcast
// holding the registry lock can fire the Once without waiting on this
// goroutine, and vice versa.
func (s *Stream) Close() {
	s.closeMu.Do(func() { close(s.done) })
	s.b.remove(s)
}

func (s *Stream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Broadcaster fans events out to per-session visitor streams and to the
// global admin-dashboard stream set. Dead or stalled subscribers are pruned
// opportunistically on push; pruning is routine cleanup, never an error.
type Broadcaster struct {
	mu       sync.Mutex
	visitors map[string][]*Stream
	admins   []*Stream
}

// NewBroadcaster bootstraps an empty subscriber registry.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{visitors: make(map[string][]*Stream)}
}

// Subscribe registers a visitor stream for the session. Multiple tabs may
// subscribe to the same session concurrently.
func (b *Broadcaster) Subscribe(sessionID string) *Stream {
	stream := &Stream{
		b:    b,
		key:  sessionID,
		ch:   make(chan livechat.Event, streamBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.visitors[sessionID] = append(b.visitors[sessionID], stream)
	b.mu.Unlock()
	return stream
}

// SubscribeAdmin registers a dashboard stream.
func (b *Broadcaster) SubscribeAdmin() *Stream {
	stream := &Stream{
		b:     b,
		admin: true,
		ch:    make(chan livechat.Event, streamBuffer),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	b.admins = append(b.admins, stream)
	b.mu.Unlock()
	return stream
}

// Push delivers event to every live visitor stream of the session. A
// subscriber that cannot accept the write is removed silently.
func (b *Broadcaster) Push(sessionID string, event livechat.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.visitors[sessionID]
	live := subs[:0]
	for _, sub := range subs {
		if deliver(sub, event) {
			live = append(live, sub)
		} else {
			sub.closeMu.Do(func() { close(sub.done) })
			log.Printf("[sse] dropping dead visitor stream session=%s", sessionID)
		}
	}

	if len(live) == 0 {
		delete(b.visitors, sessionID)
		return
	}
	b.visitors[sessionID] = live
}

// NotifyAdmins sweeps closed dashboard streams, then delivers event to the
// survivors. The sweep bounds growth from abandoned dashboards.
func (b *Broadcaster) NotifyAdmins(event livechat.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	live := b.admins[:0]
	for _, sub := range b.admins {
		if sub.closed() {
			continue
		}
		if deliver(sub, event) {
			live = append(live, sub)
		} else {
			sub.closeMu.Do(func() { close(sub.done) })
			log.Printf("[sse] dropping stalled admin stream")
		}
	}
	b.admins = live
}

// DropSession closes and removes every visitor stream of the session. Used
// when the session itself is deleted; no further event can reach it.
func (b *Broadcaster) DropSession(sessionID string) {
	b.mu.Lock()
	subs := b.visitors[sessionID]
	delete(b.visitors, sessionID)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.closeMu.Do(func() { close(sub.done) })
	}
}

// AdminCount reports the number of registered dashboard streams.
func (b *Broadcaster) AdminCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.admins)
}

// SessionStreamCount reports how many sessions have at least one open
// visitor stream.
func (b *Broadcaster) SessionStreamCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.visitors)
}

func (b *Broadcaster) remove(stream *Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if stream.admin {
		b.admins = removeStream(b.admins, stream)
		return
	}

	subs := removeStream(b.visitors[stream.key], stream)
	if len(subs) == 0 {
		delete(b.visitors, stream.key)
		return
	}
	b.visitors[stream.key] = subs
}

func removeStream(subs []*Stream, target *Stream) []*Stream {
	for i, sub := range subs {
		if sub == target {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// deliver attempts a non-blocking write. False means the subscriber is gone
// or its buffer is full.
func deliver(sub *Stream, event livechat.Event) bool {
	select {
	case <-sub.done:
		return false
	case sub.ch <- event:
		return true
	default:
		return false
	}
}
