package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/luxfi/log"
)

// FailMarker is the minimal coordinator surface a dead-letter consumer
// needs: a way to force a terminal failure for a job it has given up
// redelivering (spec §4.7's idempotent safety net).
type FailMarker interface {
	MarkFailed(ctx context.Context, jobID, reason string)
}

// ClaimFailMarker is FailMarker's claim-pipeline counterpart.
type ClaimFailMarker interface {
	MarkClaimFailed(ctx context.Context, jobID, reason string)
}

// DeadLetterConsumer drains a dead-letter queue and marks each arriving
// job permanently failed. Marking is idempotent: a job already terminal
// is a no-op in the coordinator, so redundant or duplicate dead-letter
// deliveries are safe.
type DeadLetterConsumer struct {
	queue  *Queue
	mark   func(ctx context.Context, jobID, reason string)
	reason string
	log    log.Logger
}

// NewProofDeadLetterConsumer builds a DeadLetterConsumer that force-fails
// proof jobs exhausted by the proof queue.
func NewProofDeadLetterConsumer(q *Queue, c FailMarker, logger log.Logger) *DeadLetterConsumer {
	return newDeadLetterConsumer(q, c.MarkFailed, "exhausted proof queue redelivery attempts (dead-letter)", logger)
}

// NewClaimDeadLetterConsumer builds a DeadLetterConsumer that force-fails
// the claim (not the underlying proof job, which already succeeded) for
// claims exhausted by the claim queue.
func NewClaimDeadLetterConsumer(q *Queue, c ClaimFailMarker, logger log.Logger) *DeadLetterConsumer {
	return newDeadLetterConsumer(q, c.MarkClaimFailed, "exhausted claim queue redelivery attempts (dead-letter)", logger)
}

func newDeadLetterConsumer(q *Queue, mark func(ctx context.Context, jobID, reason string), reason string, logger log.Logger) *DeadLetterConsumer {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &DeadLetterConsumer{queue: q, mark: mark, reason: reason, log: logger}
}

// Run drains the dead-letter queue until ctx is cancelled.
func (dc *DeadLetterConsumer) Run(ctx context.Context, idleDelay time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, ok := dc.queue.Dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleDelay):
			}
			continue
		}
		dc.log.Warn("dead letter: marking job failed", "jobId", msg.JobID, "attempts", msg.Attempts)
		dc.mark(ctx, msg.JobID, fmt.Sprintf("%s after %d attempts", dc.reason, msg.Attempts))
		dc.queue.Ack(msg.JobID)
	}
}
