// Package session holds the observed identity session for one browser and
// notifies subscribers when it changes.
package session

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/shindakun/supalogin/internal/identity"
)

// Event names a session transition, matching the identity service's names
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Callback receives a session transition. session is nil after sign-out.
type Callback func(event Event, session *identity.Session)

// Holder is the single owner of a browser's session. Observers subscribe
// and each holds its own Subscription handle.
type Holder struct {
	mu      sync.Mutex
	current *identity.Session
	version uint64
	nextID  uint64
	subs    map[uint64]*subscriber
}

// NewHolder creates a holder seeded with initial, which may be nil
func NewHolder(initial *identity.Session) *Holder {
	return &Holder{
		current: initial,
		subs:    make(map[uint64]*subscriber),
	}
}

// subscriber serializes deliveries to one callback. Every delivery carries
// the holder version it was taken at, and one older than what the callback
// already saw is dropped, so an observer always ends on the newest session.
type subscriber struct {
	cb      Callback
	removed atomic.Bool

	mu        sync.Mutex
	delivered bool
	seen      uint64
}

func (s *subscriber) deliver(version uint64, event Event, session *identity.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed.Load() || (s.delivered && version <= s.seen) {
		return
	}
	s.delivered = true
	s.seen = version
	s.cb(event, session)
}

// Subscription is the handle returned by Subscribe
type Subscription struct {
	once   sync.Once
	holder *Holder
	id     uint64
	sub    *subscriber
}

// Unsubscribe stops further callbacks. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.sub.removed.Store(true)
		s.holder.mu.Lock()
		delete(s.holder.subs, s.id)
		s.holder.mu.Unlock()
	})
}

// Subscribe registers cb and immediately delivers the current session as
// EventInitialSession. If a Set races the registration, cb sees that Set
// and the stale initial session is skipped. Callbacks must not call Set on
// the holder that is notifying them.
func (h *Holder) Subscribe(cb Callback) *Subscription {
	sub := &subscriber{cb: cb}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	version, current := h.version, h.current
	h.mu.Unlock()

	sub.deliver(version, EventInitialSession, current)

	return &Subscription{holder: h, id: id, sub: sub}
}

// Current returns the observed session, or nil when signed out
func (h *Holder) Current() *identity.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Set replaces the session and notifies subscribers
func (h *Holder) Set(event Event, session *identity.Session) {
	h.mu.Lock()
	h.version++
	version := h.version
	h.current = session
	subs := h.snapshot()
	h.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(version, event, session)
	}
}

// Clear drops the session and emits EventSignedOut
func (h *Holder) Clear() {
	h.Set(EventSignedOut, nil)
}

// Subscribers returns the number of live subscriptions
func (h *Holder) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// snapshot copies the subscribers in subscription order; callers hold mu
func (h *Holder) snapshot() []*subscriber {
	ids := make([]uint64, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	subs := make([]*subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, h.subs[id])
	}
	return subs
}
