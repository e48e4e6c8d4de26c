// Package msgqueue implements the synchronous message channel used
// between the session controller, its facade, and the worker
// pipelines. One consumer drains a FIFO of tagged messages; producers
// may either fire-and-forget or block until the consumer resolves the
// reply slot for their message kind.
package msgqueue

import (
	"log/slog"
	"sync"

	"github.com/camhal/camhal-go/internal/errors"
	"github.com/camhal/camhal-go/internal/logging"
)

type replySlot struct {
	cond    *sync.Cond
	pending bool
	result  error
}

// Queue is a synchronous message channel. M is the message type, K the
// comparable message-kind key that reply slots are indexed by.
//
// At most one SendAndWait may be outstanding per kind; the caller side
// of the facade serializes naturally because each public call blocks.
type Queue[M any, K comparable] struct {
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	notEmpty *sync.Cond
	messages []M
	slots    map[K]*replySlot
	closed   bool
}

// New creates a queue. replyKinds provisions one reply slot per listed
// kind; a queue created without reply kinds rejects SendAndWait.
func New[M any, K comparable](name string, replyKinds ...K) *Queue[M, K] {
	q := &Queue[M, K]{
		name:   name,
		logger: logging.ForService("msgqueue").With("queue", name),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	if len(replyKinds) > 0 {
		q.slots = make(map[K]*replySlot, len(replyKinds))
		for _, k := range replyKinds {
			q.slots[k] = &replySlot{cond: sync.NewCond(&sync.Mutex{})}
		}
	}
	return q
}

// Send enqueues a message and wakes the consumer. Never blocks.
func (q *Queue[M, K]) Send(msg M) error {
	q.mu.Lock()
	q.messages = append(q.messages, msg)
	q.mu.Unlock()
	q.notEmpty.Signal()
	return nil
}

// SendAndWait enqueues a message and blocks until the consumer calls
// Reply for the given kind, returning the reply's result. Fails with
// InvalidUsage, without enqueuing, when the queue has no reply slot
// for the kind.
func (q *Queue[M, K]) SendAndWait(msg M, kind K) error {
	slot, ok := q.slots[kind]
	if !ok {
		return errors.New(errors.ErrInvalidUsage).
			Component("msgqueue").
			Category(errors.CategoryState).
			Context("queue", q.name).
			Context("reason", "no reply slot for kind").
			Build()
	}

	slot.cond.L.Lock()
	if slot.pending {
		slot.cond.L.Unlock()
		return errors.New(errors.ErrInvalidUsage).
			Component("msgqueue").
			Category(errors.CategoryState).
			Context("queue", q.name).
			Context("reason", "reply already outstanding for kind").
			Build()
	}
	// Mark the slot pending before the consumer can possibly see the
	// message, so a fast Reply is not lost.
	slot.pending = true
	slot.cond.L.Unlock()

	q.mu.Lock()
	q.messages = append(q.messages, msg)
	q.mu.Unlock()
	q.notEmpty.Signal()

	slot.cond.L.Lock()
	for slot.pending {
		slot.cond.Wait()
	}
	result := slot.result
	slot.cond.L.Unlock()
	return result
}

// Receive blocks until a message is available and returns the oldest
// one. Single consumer only.
func (q *Queue[M, K]) Receive() M {
	q.mu.Lock()
	for len(q.messages) == 0 {
		q.notEmpty.Wait()
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	q.mu.Unlock()
	return msg
}

// Reply resolves the reply slot for kind and wakes its waiter. A reply
// to a slot with no waiter is a no-op (the waiter was cancelled).
func (q *Queue[M, K]) Reply(kind K, result error) {
	slot, ok := q.slots[kind]
	if !ok {
		q.logger.Error("reply for unknown kind", "kind", kind)
		return
	}
	slot.cond.L.Lock()
	if slot.pending {
		slot.result = result
		slot.pending = false
		slot.cond.Signal()
	}
	slot.cond.L.Unlock()
}

// RemoveMatching removes every queued message matching match,
// appending removed messages to collect when non-nil, then resolves
// kind's reply slot with Cancelled so no sender stays blocked on a
// message the consumer will never see.
func (q *Queue[M, K]) RemoveMatching(kind K, match func(M) bool, collect *[]M) {
	q.mu.Lock()
	kept := q.messages[:0]
	for _, m := range q.messages {
		if match(m) {
			if collect != nil {
				*collect = append(*collect, m)
			}
			continue
		}
		kept = append(kept, m)
	}
	q.messages = kept
	q.mu.Unlock()

	if _, ok := q.slots[kind]; ok {
		q.Reply(kind, errors.New(errors.ErrCancelled).
			Component("msgqueue").
			Category(errors.CategoryState).
			Context("queue", q.name).
			Build())
	}
}

// Len reports the number of queued messages.
func (q *Queue[M, K]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// IsEmpty reports whether the queue is drained.
func (q *Queue[M, K]) IsEmpty() bool {
	return q.Len() == 0
}

// Close marks the queue finished. Messages still queued indicate a
// protocol violation by the consumer and are logged, never panicked
// over.
func (q *Queue[M, K]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	if n := len(q.messages); n > 0 {
		q.logger.Error("queue closed while not empty",
			"remaining", n)
	}
}
