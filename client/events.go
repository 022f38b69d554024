package client

import "sync"

// eventHooks fans lifecycle notifications out to registered listeners.
// Registration is expected before the first request; the error hooks double
// as the sink for escalated fire-and-forget write failures, which have no
// callback to report on.
type eventHooks struct {
	mu         sync.RWMutex
	connect    []func()
	ready      []func()
	errs       []func(error)
	disconnect []func(error)
}

func (h *eventHooks) onConnect(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connect = append(h.connect, fn)
}

func (h *eventHooks) onReady(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = append(h.ready, fn)
}

func (h *eventHooks) onError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, fn)
}

func (h *eventHooks) onDisconnect(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnect = append(h.disconnect, fn)
}

func (h *eventHooks) emitConnect() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.connect {
		fn()
	}
}

func (h *eventHooks) emitReady() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.ready {
		fn()
	}
}

func (h *eventHooks) emitError(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.errs {
		fn(err)
	}
}

func (h *eventHooks) emitDisconnect(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.disconnect {
		fn(err)
	}
}
