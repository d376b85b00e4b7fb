package webrtc

import "sync"

// closeNotifier runs registered listeners once when its owner closes.
// Listeners added after close run immediately.
type closeNotifier struct {
	mu        sync.Mutex
	closed    bool
	listeners []func()
}

func (n *closeNotifier) OnClose(fn func()) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		fn()
		return
	}
	n.listeners = append(n.listeners, fn)
	n.mu.Unlock()
}

func (n *closeNotifier) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// markClosed reports whether this call performed the transition.
func (n *closeNotifier) markClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	n.closed = true
	return true
}

func (n *closeNotifier) notify() {
	n.mu.Lock()
	fns := n.listeners
	n.listeners = nil
	n.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
