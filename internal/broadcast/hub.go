package broadcast

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
)

const DefaultBuffer = 64

// Hub fans committed events out to live subscribers. Delivery is
// at most once: a subscriber whose buffer is full loses the event
// rather than stalling the mutation path, and there is no replay for
// late subscribers. Publishes from the same goroutine reach each
// subscriber in order.
type Hub struct {
	log    zerolog.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

func NewHub(buffer int, log zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		log:    log,
		buffer: buffer,
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscription is one registered listener. Events() yields events
// matching the scope until Close is called or the hub shuts down;
// the channel is closed afterwards.
type Subscription struct {
	id    uint64
	scope Scope
	ch    chan domain.Event
	hub   *Hub
	once  sync.Once
}

func (s *Subscription) Events() <-chan domain.Event { return s.ch }

func (s *Subscription) Scope() Scope { return s.scope }

// Close unregisters the subscription and closes its channel. Safe to
// call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s.id)
	s.once.Do(func() { close(s.ch) })
}

func (h *Hub) Subscribe(scope Scope) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub := &Subscription{scope: scope, ch: make(chan domain.Event), hub: h}
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}

	h.nextID++
	sub := &Subscription{
		id:    h.nextID,
		scope: scope,
		ch:    make(chan domain.Event, h.buffer),
		hub:   h,
	}
	h.subs[sub.id] = sub
	return sub
}

// Publish delivers the event to every subscription whose scope matches.
// Never blocks: slow subscribers drop the event.
func (h *Hub) Publish(evt domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.scope.Matches(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			h.log.Warn().
				Str("scope", sub.scope.String()).
				Str("event", string(evt.Kind())).
				Msg("subscriber buffer full, dropping event")
		}
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Close drops all subscriptions and closes their channels. Subsequent
// Subscribe calls return already-closed subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[uint64]*Subscription)
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.ch) })
	}
}
