// Package queue is the in-process proof/claim delivery queue (spec §3:
// "Queues carry only {jobId}"). It extends the teacher's mutex-guarded
// slice queue (engine/dag/bootstrap/queue.Queue) with the semantics a
// durable job pipeline needs: visibility timeouts so a crashed consumer's
// in-flight message becomes redeliverable, an attempt counter, and
// routing to a dead-letter queue once a message has been redelivered too
// many times (spec §4.7).
package queue

import (
	"sync"
	"time"
)

// Message is one {jobId} delivery, plus the queue's own bookkeeping.
type Message struct {
	JobID     string
	Attempts  int
	VisibleAt time.Time
}

// Queue is a single-visibility, attempt-counted, DLQ-routing job queue.
// The zero value is not usable; construct with New.
type Queue struct {
	mu                sync.Mutex
	pending           []*Message
	inflight          map[string]*Message
	visibilityTimeout time.Duration
	maxAttempts       int
	deadLetter        *Queue
	now               func() time.Time
}

// New constructs a Queue. visibilityTimeout bounds how long a Dequeue'd
// message stays invisible before it is considered abandoned and becomes
// redeliverable. maxAttempts is the number of deliveries (not retries)
// before a message routes to deadLetter instead of back to pending;
// deadLetter may be nil, in which case exhausted messages are dropped.
func New(visibilityTimeout time.Duration, maxAttempts int, deadLetter *Queue) *Queue {
	return &Queue{
		inflight:          make(map[string]*Message),
		visibilityTimeout: visibilityTimeout,
		maxAttempts:       maxAttempts,
		deadLetter:        deadLetter,
		now:               time.Now,
	}
}

// Enqueue appends jobID as a new, immediately visible message. It
// satisfies coordinator.Enqueuer.
func (q *Queue) Enqueue(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, &Message{JobID: jobID, VisibleAt: q.now()})
	return nil
}

// Dequeue returns the oldest visible message, if any, marking it
// in-flight until Ack, Nack, or the visibility timeout elapses.
func (q *Queue) Dequeue() (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.reclaimExpiredLocked(now)

	idx := -1
	for i, m := range q.pending {
		if !m.VisibleAt.After(now) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}

	m := q.pending[idx]
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
	m.Attempts++
	m.VisibleAt = now.Add(q.visibilityTimeout)
	q.inflight[m.JobID] = m
	return m, true
}

// reclaimExpiredLocked moves in-flight messages whose visibility timeout
// has elapsed back onto pending. Caller must hold q.mu.
func (q *Queue) reclaimExpiredLocked(now time.Time) {
	for jobID, m := range q.inflight {
		if now.After(m.VisibleAt) {
			delete(q.inflight, jobID)
			q.routeOrRequeueLocked(m, now)
		}
	}
}

// routeOrRequeueLocked either puts m back on pending or, if it has
// exhausted maxAttempts, hands it to the dead-letter queue. Caller must
// hold q.mu.
func (q *Queue) routeOrRequeueLocked(m *Message, now time.Time) {
	if q.maxAttempts > 0 && m.Attempts >= q.maxAttempts {
		if q.deadLetter != nil {
			q.deadLetter.Enqueue(m.JobID)
		}
		return
	}
	m.VisibleAt = now
	q.pending = append(q.pending, m)
}

// Ack removes jobID from in-flight tracking; the delivery succeeded.
func (q *Queue) Ack(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, jobID)
}

// Nack returns jobID to pending after delay, or routes it to the
// dead-letter queue if it has exhausted maxAttempts. Used when a
// consumer observes a retryable failure and wants redelivery sooner than
// the visibility timeout would otherwise provide.
func (q *Queue) Nack(jobID string, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.inflight[jobID]
	if !ok {
		return
	}
	delete(q.inflight, jobID)
	if q.maxAttempts > 0 && m.Attempts >= q.maxAttempts {
		if q.deadLetter != nil {
			q.deadLetter.Enqueue(m.JobID)
		}
		return
	}
	m.VisibleAt = q.now().Add(delay)
	q.pending = append(q.pending, m)
}

// Len reports the number of pending (visible or delayed) plus in-flight
// messages, for the queue depth gauge.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inflight)
}
