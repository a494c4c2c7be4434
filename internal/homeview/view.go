// Package homeview is the home page's observer of the browser session. A
// View subscribes when mounted and reflects signed-in or signed-out until
// it is unmounted.
package homeview

import (
	"sync"

	"github.com/shindakun/supalogin/internal/identity"
	"github.com/shindakun/supalogin/internal/session"
)

// Observable is anything that reports session changes
type Observable interface {
	OnAuthStateChange(cb session.Callback) *session.Subscription
}

// State is what the home page renders
type State struct {
	SignedIn bool
	Email    string
}

func stateOf(s *identity.Session) State {
	if s == nil {
		return State{}
	}
	return State{SignedIn: true, Email: s.User.Email}
}

// View holds the observed state for one mount
type View struct {
	mu      sync.Mutex
	state   State
	sub     *session.Subscription
	changes chan State
	closed  bool
	onClose func()
}

// Mount subscribes to src. The current session is observed before Mount
// returns. onClose, if set, runs once on Unmount.
func Mount(src Observable, onClose func()) *View {
	v := &View{
		changes: make(chan State, 1),
		onClose: onClose,
	}
	v.sub = src.OnAuthStateChange(v.observe)
	return v
}

// observe records the latest state; it never blocks the notifier
func (v *View) observe(_ session.Event, s *identity.Session) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.state = stateOf(s)

	// keep only the newest undelivered state
	select {
	case <-v.changes:
	default:
	}
	v.changes <- v.state
}

// State returns the latest observed state
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Changes delivers observed states, keeping only the newest undelivered
// one. It is closed on Unmount.
func (v *View) Changes() <-chan State {
	return v.changes
}

// Unmount releases the subscription. No state updates happen afterwards.
func (v *View) Unmount() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	close(v.changes)
	v.mu.Unlock()

	v.sub.Unsubscribe()
	if v.onClose != nil {
		v.onClose()
	}
}
