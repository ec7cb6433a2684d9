package driftmail

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// OverflowPolicy determines what happens when a subscription's sink
// queue is full at publish time.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued event to make room. This is
	// the default: observation tooling usually prefers fresh events.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming event.
	DropNewest
	// BlockWithDeadline blocks the publisher until space frees up or
	// the configured deadline elapses, then discards.
	BlockWithDeadline
)

// Filter selects which inboxes a subscription observes. The zero value
// matches all inboxes.
type Filter struct {
	// InboxID restricts the subscription to one inbox when non-empty.
	InboxID string
}

// FilterInbox returns a filter matching a single inbox.
func FilterInbox(inboxID string) Filter {
	return Filter{InboxID: inboxID}
}

// FilterAll returns a filter matching every monitored inbox.
func FilterAll() Filter {
	return Filter{}
}

func (f Filter) matches(inboxID string) bool {
	return f.InboxID == "" || f.InboxID == inboxID
}

// Event is one delivery to a subscription: either a decrypted email or
// a per-event failure (Err non-nil, kind ErrDecode) for the same inbox.
type Event struct {
	InboxID    string
	EventID    string
	ReceivedAt time.Time
	Email      *Email
	Err        error
}

// Subscription is a live registration for events matching a filter.
// Events are consumed from Events(); Done() is closed when the
// subscription ends, and Err() reports the terminal cause if the event
// stream failed permanently.
//
// Within one subscription events arrive in publish order. Cancel is
// idempotent; after it returns no further events are delivered.
type Subscription struct {
	id            string
	filter        Filter
	hub           *subscriptionHub
	policy        OverflowPolicy
	blockDeadline time.Duration
	capacity      int

	out  chan *Event
	done chan struct{}

	cancelled atomic.Bool

	// mu guards the sink buffer, the in-flight slot, and the scheduled
	// flag. The event a worker is handing to the consumer sits in the
	// in-flight slot rather than a worker-local variable, so it stays
	// inside the evictable window: a sink of capacity N never holds
	// more than N events, counting the one being delivered.
	mu        sync.Mutex
	buf       []*Event
	inflight  *Event
	scheduled bool

	evicted chan struct{} // the in-flight event was evicted on overflow
	space   chan struct{} // occupancy dropped; wakes a blocked publisher

	// deliverMu is held for the duration of every delivery pass so
	// Cancel can wait out an in-flight delivery, and so at most one
	// worker drains this subscription at a time (per-subscription FIFO).
	deliverMu sync.Mutex

	errMu sync.Mutex
	err   error
}

// Events returns the channel events are delivered on. The channel is
// never closed; select on Done() to detect the end of the subscription.
func (s *Subscription) Events() <-chan *Event {
	return s.out
}

// Done returns a channel closed when the subscription is cancelled,
// the client closes, or the event stream terminates.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal stream error, if any. It is non-nil only
// after Done() is closed because the event stream failed permanently.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Cancel stops the subscription. It is safe to call multiple times;
// once it returns, no further events are delivered to the sink.
func (s *Subscription) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	s.hub.remove(s.id)
	close(s.done)

	// Wait for any in-flight delivery pass to finish.
	s.deliverMu.Lock()
	s.deliverMu.Unlock()

	// Drain whatever is still queued.
	s.mu.Lock()
	s.buf = nil
	s.inflight = nil
	s.mu.Unlock()
}

// terminate records the terminal cause and cancels the subscription.
func (s *Subscription) terminate(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.Cancel()
}

// occupancy counts queued plus in-flight events. Callers hold mu.
func (s *Subscription) occupancy() int {
	n := len(s.buf)
	if s.inflight != nil {
		n++
	}
	return n
}

// enqueue places an event in the sink, applying the overflow policy
// when the sink is full, then schedules a delivery pass.
func (s *Subscription) enqueue(ev *Event) {
	if s.cancelled.Load() {
		return
	}

	switch s.policy {
	case DropNewest:
		s.mu.Lock()
		if s.occupancy() >= s.capacity {
			s.mu.Unlock()
			return
		}
		s.buf = append(s.buf, ev)
		s.mu.Unlock()

	case BlockWithDeadline:
		if !s.enqueueBlocking(ev) {
			return
		}

	default: // DropOldest
		s.mu.Lock()
		if s.occupancy() >= s.capacity {
			// The oldest event is the in-flight one when the slot is
			// occupied; clearing it aborts the worker's pending handoff.
			if s.inflight != nil {
				s.inflight = nil
				select {
				case s.evicted <- struct{}{}:
				default:
				}
			} else if len(s.buf) > 0 {
				s.buf = s.buf[1:]
			}
		}
		s.buf = append(s.buf, ev)
		s.mu.Unlock()
	}

	s.schedule()
}

// enqueueBlocking waits for sink space until the block deadline. It
// reports whether the event was accepted.
func (s *Subscription) enqueueBlocking(ev *Event) bool {
	timer := time.NewTimer(s.blockDeadline)
	defer timer.Stop()
	for {
		s.mu.Lock()
		if s.occupancy() < s.capacity {
			s.buf = append(s.buf, ev)
			s.mu.Unlock()
			return true
		}
		s.mu.Unlock()

		select {
		case <-s.space:
		case <-timer.C:
			return false
		case <-s.done:
			return false
		}
	}
}

// schedule marks the subscription for draining by the worker pool.
// A subscription is scheduled at most once until its sink empties.
func (s *Subscription) schedule() {
	s.mu.Lock()
	if s.scheduled || s.cancelled.Load() {
		s.mu.Unlock()
		return
	}
	s.scheduled = true
	s.mu.Unlock()

	s.hub.enqueueWork(s)
}

// signalSpace wakes one publisher blocked in enqueueBlocking.
func (s *Subscription) signalSpace() {
	select {
	case s.space <- struct{}{}:
	default:
	}
}

// deliver drains the sink to the consumer channel. It runs on a hub
// worker; deliverMu serializes passes for this subscription.
func (s *Subscription) deliver() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	for {
		s.mu.Lock()
		if s.inflight == nil {
			if len(s.buf) == 0 || s.cancelled.Load() {
				s.scheduled = false
				s.mu.Unlock()
				return
			}
			s.inflight = s.buf[0]
			s.buf = s.buf[1:]
			// A leftover eviction signal belongs to a previous
			// in-flight event; clear it before arming the handoff.
			select {
			case <-s.evicted:
			default:
			}
		}
		ev := s.inflight
		s.mu.Unlock()

		select {
		case s.out <- ev:
			s.mu.Lock()
			if s.inflight == ev {
				s.inflight = nil
			}
			s.mu.Unlock()
			s.signalSpace()
		case <-s.evicted:
			// enqueue cleared the slot; move on to the next event.
		case <-s.done:
			return
		}
	}
}

// hubWorkQueueSize bounds the number of pending delivery passes. Each
// live subscription occupies at most one slot at a time.
const hubWorkQueueSize = 1024

// subscriptionHub fans events out to subscriptions. Publish never runs
// subscriber-facing work inline: a fixed worker pool drains the sink
// queues so one slow consumer cannot stall the others.
type subscriptionHub struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool

	work chan *Subscription
	quit chan struct{}
	wg   sync.WaitGroup
}

// newSubscriptionHub creates a hub with the given worker pool size.
func newSubscriptionHub(workers int) *subscriptionHub {
	h := &subscriptionHub{
		subs: make(map[string]*Subscription),
		work: make(chan *Subscription, hubWorkQueueSize),
		quit: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		h.wg.Add(1)
		go h.worker()
	}
	return h
}

func (h *subscriptionHub) worker() {
	defer h.wg.Done()
	for {
		select {
		case <-h.quit:
			return
		case s := <-h.work:
			s.deliver()
		}
	}
}

func (h *subscriptionHub) enqueueWork(s *Subscription) {
	select {
	case h.work <- s:
	case <-h.quit:
	}
}

// subscribe creates a subscription. The sink capacity and overflow
// policy come from the caller; the hub refuses new subscriptions after
// shutdown.
func (h *subscriptionHub) subscribe(filter Filter, capacity int, policy OverflowPolicy, blockDeadline time.Duration) (*Subscription, error) {
	s := &Subscription{
		id:            uuid.NewString(),
		filter:        filter,
		hub:           h,
		policy:        policy,
		blockDeadline: blockDeadline,
		capacity:      capacity,
		out:           make(chan *Event),
		done:          make(chan struct{}),
		evicted:       make(chan struct{}, 1),
		space:         make(chan struct{}, 1),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	h.subs[s.id] = s
	return s, nil
}

func (h *subscriptionHub) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// publish delivers an event to every matching subscription. The lock is
// held only long enough to copy the matching sink references.
func (h *subscriptionHub) publish(ev *Event) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	matching := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		if s.filter.matches(ev.InboxID) {
			matching = append(matching, s)
		}
	}
	h.mu.Unlock()

	for _, s := range matching {
		s.enqueue(ev)
	}
}

// terminate notifies every subscription that the event stream failed
// permanently, then cancels them. The hub keeps refusing publishes but
// still accepts Cancel calls.
func (h *subscriptionHub) terminate(err error) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.terminate(err)
	}
}

// shutdown cancels all subscriptions, stops the workers, and refuses
// further subscribes.
func (h *subscriptionHub) shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
	close(h.quit)
	h.wg.Wait()
}
