package client

import (
	"sync/atomic"
	"time"

	"github.com/diegose/limitd-go/common"
	"github.com/puzpuzpuz/xsync/v3"
)

// Completion is the callback every operation delivers its outcome on.
// Exactly one of result and err is non-nil. Completions are invoked from the
// client's internal goroutines and must not block.
type Completion func(result *Result, err error)

// Result is the translated outcome of a successful operation.
type Result struct {
	// Reserve and Wait
	Conformant bool  // whether the request was granted within the bucket's limit
	Delayed    bool  // true when a Wait was queued rather than satisfied immediately
	Remaining  int   // tokens left in the bucket
	ResetAt    int64 // epoch seconds at which the bucket refills
	Limit      int   // configured bucket size

	// Status
	Instances []common.BucketStatus
}

// pendingRequest tracks a single outstanding request from submission until
// resolution. It is owned by the registry; resolution happens exactly once.
type pendingRequest struct {
	id           uint64
	method       common.Method
	deadline     time.Time
	skipResponse bool // resolved on write, exempt from the expiry sweep
	done         Completion
}

// registry assigns correlation ids and holds the outstanding requests of one
// connection. Ids grow monotonically for the lifetime of the client and are
// never reset on reconnect, so an id is unambiguous while pending.
type registry struct {
	nextID  atomic.Uint64
	pending *xsync.MapOf[uint64, *pendingRequest]
}

func newRegistry() *registry {
	return &registry{
		pending: xsync.NewMapOf[uint64, *pendingRequest](),
	}
}

// add registers a new pending request and assigns its correlation id.
// Fire-and-forget requests get an id too, for uniform framing.
func (r *registry) add(method common.Method, deadline time.Time, skipResponse bool, done Completion) *pendingRequest {
	p := &pendingRequest{
		id:           r.nextID.Add(1),
		method:       method,
		deadline:     deadline,
		skipResponse: skipResponse,
		done:         done,
	}
	r.pending.Store(p.id, p)
	return p
}

// remove takes a pending request out of the registry. The boolean is false
// when the id is unknown, which happens for late or duplicate responses and
// is not an error.
func (r *registry) remove(id uint64) (*pendingRequest, bool) {
	return r.pending.LoadAndDelete(id)
}

// resolve completes the request for the given id. Unknown ids are silently
// discarded since duplicate network delivery is possible. Returns whether a
// pending request was found.
func (r *registry) resolve(id uint64, result *Result, err error) bool {
	p, ok := r.remove(id)
	if !ok {
		return false
	}
	if p.done != nil {
		p.done(result, err)
	}
	return true
}

// expire resolves every request whose deadline has passed with a timeout
// error, independent of connection health. Fire-and-forget requests are
// exempt since they are resolved by the write, not by a response. Returns
// the number of expired requests.
func (r *registry) expire(now time.Time) int {
	var expired []*pendingRequest
	r.pending.Range(func(id uint64, p *pendingRequest) bool {
		if !p.skipResponse && now.After(p.deadline) {
			expired = append(expired, p)
		}
		return true
	})

	n := 0
	for _, p := range expired {
		// LoadAndDelete guards against a response racing the sweep
		if _, ok := r.remove(p.id); !ok {
			continue
		}
		n++
		if p.done != nil {
			p.done(nil, common.NewTimeoutError(p.method))
		}
	}
	return n
}

// drain resolves every outstanding request with the given error. Used once
// per disconnect event so no callback leaks. Returns the number of drained
// requests.
func (r *registry) drain(err error) int {
	n := 0
	r.pending.Range(func(id uint64, _ *pendingRequest) bool {
		if p, ok := r.remove(id); ok {
			n++
			if p.done != nil {
				p.done(nil, err)
			}
		}
		return true
	})
	return n
}

// size returns the number of outstanding requests
func (r *registry) size() int {
	return r.pending.Size()
}
