package queue

import (
	"context"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/proofgw/internal/coordinator"
	"github.com/luxfi/proofgw/internal/prover"
	"github.com/luxfi/proofgw/internal/retry"
	"github.com/luxfi/proofgw/internal/store"
)

// ProofCoordinator is the subset of *coordinator.Coordinator the proof
// queue consumer drives (spec §4.5).
type ProofCoordinator interface {
	BeginQueueAttempt(ctx context.Context, jobID string) coordinator.BeginQueueResult
	MarkRetry(ctx context.Context, jobID, reason string)
	MarkProverAccepted(ctx context.Context, jobID, proverJobID, statusURL string, segmentLimitPo2 uint32)
	MarkFailed(ctx context.Context, jobID, reason string)
}

// Submitter is the subset of the Prover Client the proof queue consumer
// needs to dispatch a tape.
type Submitter interface {
	SubmitTape(ctx context.Context, tapeBytes []byte, segmentLimitPo2 uint32) prover.SubmitResult
}

// ProofConsumer drains the proof queue and drives each job through the
// initial dispatch-to-prover step (spec §4.5's numbered protocol):
//  1. Dequeue a {jobId} message.
//  2. BeginQueueAttempt to claim it and detect redelivery.
//  3. Skip re-dispatch on redelivery (already dispatching/running upstream).
//  4. Enforce wall-time.
//  5. Load the tape blob.
//  6. Submit to the prover and advance the coordinator accordingly.
type ProofConsumer struct {
	queue       *Queue
	coordinator ProofCoordinator
	blob        store.Blob
	prover      Submitter
	log         log.Logger
	maxWallTime time.Duration
	retryFloor  time.Duration
}

// NewProofConsumer constructs a ProofConsumer. maxWallTime matches the
// coordinator's MaxJobWallTime and is checked again here so a tape whose
// wall-time has already expired is never handed to the prover.
func NewProofConsumer(q *Queue, c ProofCoordinator, blob store.Blob, prov Submitter, logger log.Logger, maxWallTime time.Duration) *ProofConsumer {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &ProofConsumer{
		queue:       q,
		coordinator: c,
		blob:        blob,
		prover:      prov,
		log:         logger,
		maxWallTime: maxWallTime,
		retryFloor:  retry.DefaultFloor,
	}
}

// Run pulls messages off the queue until ctx is cancelled, sleeping
// briefly when the queue is empty.
func (pc *ProofConsumer) Run(ctx context.Context, idleDelay time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, ok := pc.queue.Dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleDelay):
			}
			continue
		}
		pc.process(ctx, msg)
	}
}

// process implements spec §4.5 for a single delivery.
func (pc *ProofConsumer) process(ctx context.Context, msg *Message) {
	res := pc.coordinator.BeginQueueAttempt(ctx, msg.JobID)
	switch res.Outcome {
	case coordinator.BeginQueueMissing, coordinator.BeginQueueTerminal, coordinator.BeginQueueRedelivered:
		pc.queue.Ack(msg.JobID)
		return
	}

	rec := res.Record
	if rec.Age(time.Now()) > pc.maxWallTime {
		pc.coordinator.MarkFailed(ctx, msg.JobID, "exceeded wall-time limit before dispatch")
		pc.queue.Ack(msg.JobID)
		return
	}

	tapeBytes, present, err := pc.blob.Get(ctx, rec.Tape.BlobKey)
	if err != nil || !present {
		pc.coordinator.MarkFailed(ctx, msg.JobID, "missing tape artifact")
		pc.queue.Ack(msg.JobID)
		return
	}

	segmentLimit := uint32(0)
	if rec.Prover.SegmentLimitPo2 != nil {
		segmentLimit = *rec.Prover.SegmentLimitPo2
	}

	submit := pc.prover.SubmitTape(ctx, tapeBytes, segmentLimit)
	switch submit.Kind {
	case prover.SubmitAccepted:
		pc.coordinator.MarkProverAccepted(ctx, msg.JobID, submit.ProverJobID, submit.StatusURL, submit.SegmentLimitPo2)
		pc.queue.Ack(msg.JobID)
	case prover.SubmitRetry:
		pc.coordinator.MarkRetry(ctx, msg.JobID, submit.Reason)
		pc.queue.Nack(msg.JobID, retry.Delay(int(rec.Queue.Attempts), 30*time.Second))
	case prover.SubmitFatal:
		pc.coordinator.MarkFailed(ctx, msg.JobID, submit.Reason)
		pc.queue.Ack(msg.JobID)
	default:
		pc.log.Error("proof consumer: unknown submit kind", "jobId", msg.JobID, "kind", submit.Kind)
		pc.queue.Nack(msg.JobID, pc.retryFloor)
	}
}
