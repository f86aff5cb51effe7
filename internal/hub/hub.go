// Package hub implements the Progress Hub: fan-out of ProgressEvents to any
// number of live subscribers, with per-subscriber bounded buffers,
// coalescing, and slow-consumer eviction.
//
// The register/unregister/broadcast channel triad and non-blocking
// default-case drop are grounded directly on the teacher's WebSocket hub;
// this version generalises "drop on full" into "coalesce non-terminal
// events, then drop the subscriber" and splits the single global stream
// into per-job ordered sub-streams.
package hub

import (
	"strconv"
	"sync"

	"github.com/makr-code/loraforge/internal/common"
	"github.com/makr-code/loraforge/internal/domain"
)

// Filter selects which jobs a Subscription receives: either a specific
// JobID or the wildcard "*" for every job the principal may see.
type Filter struct {
	JobID    string // the job followed when Wildcard is false
	Wildcard bool
}

// Subscription is a live handle a caller reads ProgressEvents from.
type Subscription struct {
	id     uint64
	filter Filter
	events chan domain.ProgressEvent
	closed chan struct{}
	once   sync.Once

	// consecutiveDrops counts coalesced (dropped-to-make-room) deliveries
	// since the last one that didn't need to coalesce. A subscriber stuck
	// at the head of a long drop streak is not keeping up at all, so it is
	// evicted once the streak crosses dropStreakLimit.
	consecutiveDrops int

	// lastErr records why the subscription was force-closed, if any.
	mu      sync.Mutex
	lastErr error
}

// Events returns the channel to range over for delivered events. It is
// closed when the subscription ends, either because a specific-job
// subscription's job reached terminal state, or because the subscriber was
// evicted for falling behind (see Err).
func (s *Subscription) Events() <-chan domain.ProgressEvent { return s.events }

// Done is closed when the subscription has ended.
func (s *Subscription) Done() <-chan struct{} { return s.closed }

// Err returns the reason the subscription was force-closed, or nil if it
// ended normally (terminal delivered, or the caller unsubscribed).
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Subscription) closeWith(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		close(s.closed)
		close(s.events)
	})
}

// Hub is the fan-out publisher. The Job Manager is its sole publisher;
// any number of concurrent readers may subscribe.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*sub
	nextID uint64

	bufferSize  int
	maxSubs     int
	logger      *common.Logger
}

type sub struct {
	handle *Subscription
}

// New creates a Hub. bufferSize is the per-subscriber bounded outbound
// buffer (default 64 per the control-plane spec); maxSubs bounds the total
// number of concurrent subscriptions (0 means unbounded).
func New(bufferSize, maxSubs int, logger *common.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		subs:       make(map[uint64]*sub),
		bufferSize: bufferSize,
		maxSubs:    maxSubs,
		logger:     logger,
	}
}

// Subscribe joins the fan-out under filter, returning a live handle.
// Attach atomicity (bootstrap snapshot spliced in without losing a live
// event) is the caller's responsibility: the Manager takes a store
// snapshot and calls Subscribe while holding the same lock that serialises
// publication, per the Manager's single-writer discipline.
func (h *Hub) Subscribe(filter Filter) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxSubs > 0 && len(h.subs) >= h.maxSubs {
		return nil, domain.NewError(domain.ErrKindCapacity, "maxSubscribers reached")
	}

	h.nextID++
	handle := &Subscription{
		id:     h.nextID,
		filter: filter,
		events: make(chan domain.ProgressEvent, h.bufferSize),
		closed: make(chan struct{}),
	}
	h.subs[handle.id] = &sub{handle: handle}
	return handle, nil
}

// Unsubscribe detaches a subscription early (e.g. transport disconnect).
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s.id)
	h.mu.Unlock()
	s.closeWith(nil)
}

// Bootstrap delivers event to sub alone, never to any other subscriber.
// The Manager uses this to seed a freshly attached subscription with a
// status snapshot before any live event can arrive, while holding its own
// single-writer lock across the Subscribe+Bootstrap pair so the splice is
// atomic with respect to concurrent Publish calls.
func (h *Hub) Bootstrap(sub *Subscription, event domain.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	h.deliver(sub.id, sub, event)
}

// Publish delivers event to every subscription whose filter matches. Must
// be called only by the Manager's single writer, which guarantees per-job
// seq ordering across calls.
func (h *Hub) Publish(event domain.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, s := range h.subs {
		if !s.handle.filter.Wildcard && s.handle.filter.JobID != event.JobID {
			continue
		}
		h.deliver(id, s.handle, event)
	}
}

// dropStreakLimit bounds how many consecutive coalesced (drop-to-make-room)
// deliveries a subscriber tolerates before it is judged permanently behind
// rather than merely bursty, and evicted.
const dropStreakLimit = 8

// deliver attempts a non-blocking send; on a full buffer it coalesces by
// dropping the oldest non-terminal event to make room, and evicts the
// subscriber with ErrSlowConsumer once it has fallen behind for
// dropStreakLimit consecutive deliveries. Terminal events are never
// dropped silently — a terminal delivery that finds no room, or a buffered
// terminal event that coalescing would drop, evicts the subscriber with
// ErrSlowConsumer instead. Must be called with h.mu held.
func (h *Hub) deliver(id uint64, s *Subscription, event domain.ProgressEvent) {
	select {
	case s.events <- event:
		s.consecutiveDrops = 0
		if event.Terminal() && !s.filter.Wildcard {
			h.closeLocked(id, s, nil)
		}
		return
	default:
	}

	if event.Terminal() {
		// No room even for a terminal event: evict rather than drop it
		// silently, so the subscriber observes ErrSlowConsumer instead of
		// a stream that mysteriously never reaches a terminal state.
		h.evict(id, s, event)
		return
	}

	s.consecutiveDrops++
	if s.consecutiveDrops > dropStreakLimit {
		h.evict(id, s, event)
		return
	}

	// Coalesce: drop the oldest buffered event to make room for the
	// latest one, since only the newest non-terminal progress matters.
	select {
	case oldest := <-s.events:
		if oldest.Terminal() {
			h.evict(id, s, event)
			return
		}
	default:
	}
	select {
	case s.events <- event:
	default:
		h.evict(id, s, event)
	}
}

func (h *Hub) evict(id uint64, s *Subscription, event domain.ProgressEvent) {
	if h.logger != nil {
		h.logger.Warn().Str("subscription", strconv.FormatUint(id, 10)).Str("job_id", event.JobID).Msg("slow consumer evicted")
	}
	h.closeLocked(id, s, domain.ErrSlowConsumer)
}

func (h *Hub) closeLocked(id uint64, s *Subscription, err error) {
	delete(h.subs, id)
	s.closeWith(err)
}

// Count returns the number of active subscriptions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
