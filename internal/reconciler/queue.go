package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/edvin/revive/internal/model"
)

// Request asks for a device to be converged to Desired.
type Request struct {
	ID         string
	MAC        string
	Desired    model.CompiledRuleSet
	Reason     string
	EnqueuedAt time.Time
}

// Queue holds at most one pending request per device. A newer request for a
// device replaces the waiting one in place, keeping its position. A device
// is handed to at most one worker at a time.
type Queue struct {
	mu       sync.Mutex
	pending  map[string]Request
	order    []string
	inflight map[string]bool
	ready    chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		pending:  make(map[string]Request),
		inflight: make(map[string]bool),
		ready:    make(chan struct{}, 1),
	}
}

// Enqueue adds req and reports whether it superseded a waiting request.
// It never blocks.
func (q *Queue) Enqueue(req Request) bool {
	q.mu.Lock()
	_, coalesced := q.pending[req.MAC]
	q.pending[req.MAC] = req
	if !coalesced {
		q.order = append(q.order, req.MAC)
	}
	depth := len(q.pending)
	q.mu.Unlock()

	queueDepth.Set(float64(depth))
	if coalesced {
		coalescedTotal.Inc()
	}
	q.signal()
	return coalesced
}

// Next blocks until a request for a device that is not already being worked
// on is available, and marks that device in flight. Callers must call Done.
func (q *Queue) Next(ctx context.Context) (Request, error) {
	for {
		if req, ok := q.take(); ok {
			return req, nil
		}
		select {
		case <-ctx.Done():
			return Request{}, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *Queue) take() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, mac := range q.order {
		if q.inflight[mac] {
			continue
		}
		req := q.pending[mac]
		delete(q.pending, mac)
		q.order = append(q.order[:i:i], q.order[i+1:]...)
		q.inflight[mac] = true
		queueDepth.Set(float64(len(q.pending)))

		if q.hasReadyLocked() {
			q.signal()
		}
		return req, true
	}
	return Request{}, false
}

// Done releases the device taken by Next.
func (q *Queue) Done(mac string) {
	q.mu.Lock()
	delete(q.inflight, mac)
	_, waiting := q.pending[mac]
	q.mu.Unlock()

	if waiting {
		q.signal()
	}
}

// Len returns the number of waiting requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns the waiting request for mac, if any.
func (q *Queue) Pending(mac string) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.pending[mac]
	return req, ok
}

func (q *Queue) hasReadyLocked() bool {
	for _, mac := range q.order {
		if !q.inflight[mac] {
			return true
		}
	}
	return false
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
