package prover

import "github.com/luxfi/proofgw/internal/model"

// SubmitKind discriminates the outcome of submitTape (spec §4.3).
type SubmitKind string

const (
	SubmitAccepted SubmitKind = "accepted"
	SubmitRetry    SubmitKind = "retry"
	SubmitFatal    SubmitKind = "fatal"
)

// SubmitResult is the tagged result of submitTape. Only the fields
// relevant to Kind are populated.
type SubmitResult struct {
	Kind            SubmitKind
	ProverJobID     string
	StatusURL       string
	SegmentLimitPo2 uint32
	Reason          string
}

// PollKind discriminates the outcome of pollOnce/pollBounded (spec §4.3).
type PollKind string

const (
	PollRunning PollKind = "running"
	PollSuccess PollKind = "success"
	PollRetry   PollKind = "retry"
	PollFatal   PollKind = "fatal"
)

// PollResult is the tagged result of a single poll or a bounded poll
// sequence.
type PollResult struct {
	Kind            PollKind
	ProverStatus    model.ProverJobStatus
	SuccessResponse map[string]interface{}
	Msg             string
	ClearProverJob  bool
}

// ValidatedHealth is the cached, compatibility-checked prover health
// result (spec §4.3/§4.8).
type ValidatedHealth struct {
	ImageID     string
	RulesDigest uint32
	Ruleset     string
	Compatible  bool
	Reason      string
}

// HealthError reports why a health check failed, carrying the retryable
// flag the rest of the client maps onto SubmitResult/PollResult kinds.
type HealthError struct {
	Retryable bool
	Msg       string
}

func (e *HealthError) Error() string { return e.Msg }
