package coordinator

import (
	"context"
	"time"

	"github.com/luxfi/proofgw/internal/model"
	"github.com/luxfi/proofgw/internal/prover"
)

// Enqueuer is the minimal interface the Coordinator needs from a queue to
// emit a `{jobId}` trigger message (spec §3: "Queues carry only
// {jobId}"). internal/queue.Queue implements this.
type Enqueuer interface {
	Enqueue(jobID string) error
}

// Poller is the subset of the Prover Client the Coordinator's alarm and
// recovery logic drive directly.
type Poller interface {
	PollBounded(ctx context.Context, proverJobID string, budget, interval time.Duration) prover.PollResult
	SubmitTape(ctx context.Context, tapeBytes []byte, segmentLimitPo2 uint32) prover.SubmitResult
	Summarize(successResponse map[string]interface{}) (model.ResultSummary, error)
}

// CreateOutcome discriminates the result of CreateJob.
type CreateOutcome string

const (
	CreateAccepted CreateOutcome = "accepted"
	CreateRejected CreateOutcome = "rejected"
)

// CreateResult is the tagged result of CreateJob (spec §4.4).
type CreateResult struct {
	Outcome   CreateOutcome
	Record    *model.ProofJobRecord // set on Accepted
	ActiveJob *model.ProofJobRecord // set on Rejected
}

// BeginQueueOutcome discriminates the result of BeginQueueAttempt.
type BeginQueueOutcome string

const (
	BeginQueueMissing     BeginQueueOutcome = "missing"
	BeginQueueTerminal    BeginQueueOutcome = "terminal"
	BeginQueueRedelivered BeginQueueOutcome = "redelivered"
	BeginQueueDispatching BeginQueueOutcome = "dispatching"
)

// BeginQueueResult is the tagged result of BeginQueueAttempt (spec §4.5
// steps 2-3).
type BeginQueueResult struct {
	Outcome BeginQueueOutcome
	Record  *model.ProofJobRecord
}

// BeginClaimOutcome discriminates the result of BeginClaimAttempt.
type BeginClaimOutcome string

const (
	BeginClaimNotSucceeded   BeginClaimOutcome = "not_succeeded"
	BeginClaimAlreadyDone    BeginClaimOutcome = "already_done"
	BeginClaimMissingResult  BeginClaimOutcome = "missing_result"
	BeginClaimReady          BeginClaimOutcome = "ready"
)

// BeginClaimResult is the tagged result of BeginClaimAttempt (spec §4.6
// step 1).
type BeginClaimResult struct {
	Outcome BeginClaimOutcome
	Record  *model.ProofJobRecord
}
