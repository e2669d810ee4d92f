package orchestrator

import "sync"

// Router serializes work per ticket while letting distinct tickets run
// in parallel. Each ticket id gets a lazily created lane: one buffered
// channel drained by one goroutine, so events for a ticket execute
// strictly in submission order.
type Router struct {
	mu     sync.Mutex
	lanes  map[string]chan func()
	buf    int
	closed bool

	sending sync.WaitGroup // in-flight Submit sends
	running sync.WaitGroup // lane goroutines
}

func NewRouter(buf int) *Router {
	if buf <= 0 {
		buf = 64
	}
	return &Router{lanes: make(map[string]chan func()), buf: buf}
}

// Submit enqueues fn on the ticket's lane. It reports false once the
// router is closed; callers treat that as shutdown, not an error.
func (r *Router) Submit(ticketID string, fn func()) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	lane, ok := r.lanes[ticketID]
	if !ok {
		lane = make(chan func(), r.buf)
		r.lanes[ticketID] = lane
		r.running.Add(1)
		go func() {
			defer r.running.Done()
			for f := range lane {
				f()
			}
		}()
	}
	r.sending.Add(1)
	r.mu.Unlock()

	// Blocks when the lane is full, back-pressuring the feed consumer
	// instead of dropping or reordering events.
	lane <- fn
	r.sending.Done()
	return true
}

// Close stops new submissions, waits for in-flight sends, drains every
// lane, and waits for the queued work to finish.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.sending.Wait()

	r.mu.Lock()
	for _, lane := range r.lanes {
		close(lane)
	}
	r.mu.Unlock()

	r.running.Wait()
}
