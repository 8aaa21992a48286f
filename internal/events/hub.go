package events

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"seasonplan/backend/internal/types"
)

// Hub is the per-workflow event log and live fan-out. The orchestrator is the
// single writer per workflow; the hub serializes sequence assignment and
// append under a per-workflow lock so subscribers observe one linearizable
// order. Subscribers that join late or reconnect replay from any sequence
// with no duplicates and no gaps.
//
// Delivery never drops or reorders events for an attached subscriber: each
// subscription owns an ordered queue drained by its own goroutine, so a slow
// consumer delays only itself, never the publisher or other subscribers.
type Hub struct {
	mu      sync.RWMutex
	streams map[types.ID]*stream

	published metric.Int64Counter
}

// Option configures a Hub.
type Option func(*Hub)

// WithMeter instruments the hub with a published-events counter.
func WithMeter(meter metric.Meter) Option {
	return func(h *Hub) {
		counter, err := meter.Int64Counter("seasonplan.events.published",
			metric.WithDescription("Events appended to workflow event logs"))
		if err == nil {
			h.published = counter
		}
	}
}

// NewHub creates an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{streams: make(map[types.ID]*stream)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// stream holds one workflow's event log and attached subscribers.
type stream struct {
	mu      sync.Mutex
	log     []Event
	subs    map[int64]*subscriber
	nextSub int64
	closed  bool
}

// Register creates the event stream for a newly created workflow. It is
// idempotent.
func (h *Hub) Register(workflowID types.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[workflowID]; !ok {
		h.streams[workflowID] = &stream{subs: make(map[int64]*subscriber)}
	}
}

// Publish assigns the next sequence number for the workflow, appends the
// event to its log and delivers it to every attached subscriber in publish
// order. It fails with NotFound for an unregistered workflow and with
// AgentFailed when the stream has already been closed, which indicates a
// driver bug rather than a caller condition.
func (h *Hub) Publish(ctx context.Context, workflowID types.ID, eventType EventType, payload any) (Event, error) {
	h.mu.RLock()
	s, ok := h.streams[workflowID]
	h.mu.RUnlock()
	if !ok {
		return Event{}, types.NewErrorf(types.NotFound, "unknown workflow %s", workflowID)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Event{}, types.NewErrorf(types.AgentFailed, "event stream for workflow %s is closed", workflowID)
	}
	event := Event{
		WorkflowID: workflowID,
		Sequence:   int64(len(s.log)) + 1,
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
	s.log = append(s.log, event)
	for _, sub := range s.subs {
		if event.Sequence > sub.from {
			sub.enqueue(event)
		}
	}
	s.mu.Unlock()

	if h.published != nil {
		h.published.Add(ctx, 1)
	}
	return event, nil
}

// Close marks the workflow's stream terminal. Attached subscribers receive
// everything already published, then their channels close. Later Subscribe
// calls still replay the full history. Idempotent.
func (h *Hub) Close(workflowID types.ID) {
	h.mu.RLock()
	s, ok := h.streams[workflowID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		sub.finish()
		delete(s.subs, id)
	}
}

// Subscribe returns an ordered view of the workflow's events: every stored
// event with sequence greater than fromSequence is replayed first, followed
// seamlessly by live events until the stream closes or the returned cancel
// function is called. The channel is closed when no further events will be
// delivered. Fails with NotFound for an unknown workflow.
func (h *Hub) Subscribe(ctx context.Context, workflowID types.ID, fromSequence int64) (<-chan Event, func(), error) {
	h.mu.RLock()
	s, ok := h.streams[workflowID]
	h.mu.RUnlock()
	if !ok {
		return nil, nil, types.NewErrorf(types.NotFound, "unknown workflow %s", workflowID)
	}

	if fromSequence < 0 {
		fromSequence = 0
	}

	sub := newSubscriber(fromSequence)

	s.mu.Lock()
	if fromSequence < int64(len(s.log)) {
		sub.queue = append(sub.queue, s.log[fromSequence:]...)
	}
	var id int64
	registered := false
	if s.closed {
		sub.finished = true
	} else {
		id = s.nextSub
		s.nextSub++
		s.subs[id] = sub
		registered = true
	}
	s.mu.Unlock()

	go sub.pump(ctx)

	cancel := func() {
		if registered {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}
		sub.cancel()
	}
	return sub.out, cancel, nil
}

// SubscriberCount returns the number of live subscribers attached to the
// workflow's stream. Used by tests and monitoring.
func (h *Hub) SubscriberCount(workflowID types.ID) int {
	h.mu.RLock()
	s, ok := h.streams[workflowID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// subscriber is one attached view of a stream. Events are appended to queue
// under mu by the publisher and drained in order by the pump goroutine.
// Events with sequence at or below from were already seen by the subscriber
// and are never delivered, whether replayed or live.
type subscriber struct {
	mu       sync.Mutex
	queue    []Event
	finished bool
	from     int64

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	out    chan Event
}

func newSubscriber(from int64) *subscriber {
	return &subscriber{
		from:   from,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Event, 16),
	}
}

// enqueue appends a live event. Called with the stream lock held, so queue
// order matches log order.
func (sub *subscriber) enqueue(event Event) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, event)
	sub.mu.Unlock()
	sub.wake()
}

// finish marks that no further events will arrive; the pump drains the queue
// and closes the output channel.
func (sub *subscriber) finish() {
	sub.mu.Lock()
	sub.finished = true
	sub.mu.Unlock()
	sub.wake()
}

func (sub *subscriber) wake() {
	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (sub *subscriber) cancel() {
	sub.once.Do(func() { close(sub.done) })
}

// pump drains the queue into out in order. It exits when the subscription is
// cancelled, the context ends, or the queue is empty after finish.
func (sub *subscriber) pump(ctx context.Context) {
	defer close(sub.out)
	for {
		sub.mu.Lock()
		var next *Event
		if len(sub.queue) > 0 {
			next = &sub.queue[0]
			sub.queue = sub.queue[1:]
		}
		finished := sub.finished
		sub.mu.Unlock()

		if next == nil {
			if finished {
				return
			}
			select {
			case <-sub.notify:
				continue
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case sub.out <- *next:
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
