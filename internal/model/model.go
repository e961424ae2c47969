// Package model holds the durable data types owned exclusively by the
// Coordinator. No other package writes a ProofJobRecord.
package model

import "time"

// Status is the lifecycle state of a ProofJobRecord. succeeded and failed
// are terminal and absorbing: once reached a record is never mutated back
// to a non-terminal status.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusDispatching    Status = "dispatching"
	StatusProverRunning  Status = "prover_running"
	StatusRetrying       Status = "retrying"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
)

// IsTerminal reports whether s is an absorbing status.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ProverJobStatus mirrors the status enum reported by the external prover.
type ProverJobStatus string

const (
	ProverStatusQueued    ProverJobStatus = "queued"
	ProverStatusRunning   ProverJobStatus = "running"
	ProverStatusSucceeded ProverJobStatus = "succeeded"
	ProverStatusFailed    ProverJobStatus = "failed"
)

// ClaimStatus is the lifecycle state of the on-chain settlement relay.
type ClaimStatus string

const (
	ClaimStatusQueued     ClaimStatus = "queued"
	ClaimStatusSubmitting ClaimStatus = "submitting"
	ClaimStatusRetrying   ClaimStatus = "retrying"
	ClaimStatusSucceeded  ClaimStatus = "succeeded"
	ClaimStatusFailed     ClaimStatus = "failed"
)

// TapeMetadata is the per-run metadata extracted by the tape validator.
type TapeMetadata struct {
	Seed          uint32 `json:"seed"`
	FrameCount    uint32 `json:"frameCount"`
	FinalScore    uint32 `json:"finalScore"`
	FinalRngState uint32 `json:"finalRngState"`
	Checksum      uint32 `json:"checksum"`
}

// TapeInfo describes the stored tape blob for a job.
type TapeInfo struct {
	SizeBytes int64        `json:"sizeBytes"`
	BlobKey   string       `json:"blobKey"`
	Metadata  TapeMetadata `json:"metadata"`
}

// QueueState tracks proof-queue delivery bookkeeping for a job.
type QueueState struct {
	Attempts      uint32     `json:"attempts"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	NextRetryAt   *time.Time `json:"nextRetryAt,omitempty"`
}

// ProverState tracks the external prover job associated with a record.
type ProverState struct {
	ProverJobID      string          `json:"proverJobId,omitempty"`
	ProverStatus     ProverJobStatus `json:"proverStatus,omitempty"`
	StatusURL        string          `json:"statusUrl,omitempty"`
	SegmentLimitPo2  *uint32         `json:"segmentLimitPo2,omitempty"`
	LastPolledAt     *time.Time      `json:"lastPolledAt,omitempty"`
	PollingErrors    uint32          `json:"pollingErrors"`
	RecoveryAttempts uint32          `json:"recoveryAttempts"`
}

// Journal is the canonical 24-byte summary committed by the prover into
// the proof. Encoding order is fixed: seed, frameCount, finalScore,
// finalRngState, tapeChecksum, rulesDigest — six little-endian u32s.
type Journal struct {
	Seed          uint32 `json:"seed"`
	FrameCount    uint32 `json:"frameCount"`
	FinalScore    uint32 `json:"finalScore"`
	FinalRngState uint32 `json:"finalRngState"`
	TapeChecksum  uint32 `json:"tapeChecksum"`
	RulesDigest   uint32 `json:"rulesDigest"`
}

// JournalByteLen is the fixed wire size of a canonical Journal.
const JournalByteLen = 24

// Stats carries the prover's cycle accounting for a successful run.
type Stats struct {
	Segments       uint32 `json:"segments"`
	TotalCycles    uint64 `json:"totalCycles"`
	UserCycles     uint64 `json:"userCycles"`
	PagingCycles   uint64 `json:"pagingCycles"`
	ReservedCycles uint64 `json:"reservedCycles"`
}

// ResultSummary is the extracted, size-bounded summary of a successful
// prover response, stored on the record itself (the full response lives
// in the artifact blob).
type ResultSummary struct {
	ElapsedMs            int64   `json:"elapsedMs"`
	RequestedReceiptKind string  `json:"requestedReceiptKind"`
	ProducedReceiptKind  *string `json:"producedReceiptKind,omitempty"`
	Journal              Journal `json:"journal"`
	Stats                Stats   `json:"stats"`
}

// Result is null until the record succeeds.
type Result struct {
	ArtifactKey string        `json:"artifactKey"`
	Summary     ResultSummary `json:"summary"`
}

// ClaimState tracks the on-chain settlement relay for a succeeded job.
type ClaimState struct {
	ClaimantAddress string      `json:"claimantAddress"`
	Status          ClaimStatus `json:"status"`
	Attempts        uint32      `json:"attempts"`
	LastAttemptAt   *time.Time  `json:"lastAttemptAt,omitempty"`
	LastError       string      `json:"lastError,omitempty"`
	NextRetryAt     *time.Time  `json:"nextRetryAt,omitempty"`
	SubmittedAt     *time.Time  `json:"submittedAt,omitempty"`
	TxHash          *string     `json:"txHash,omitempty"`
	FallbackPayload *FallbackPayload `json:"fallbackPayload,omitempty"`
}

// FallbackPayload lets a client relay a claim out-of-band after a fatal
// relay failure.
type FallbackPayload struct {
	ClaimantAddress  string `json:"claimantAddress"`
	JournalRawHex    string `json:"journalRawHex"`
	JournalDigestHex string `json:"journalDigestHex"`
	ProofArtifactKey string `json:"proofArtifactKey"`
	Note             string `json:"note"`
}

// ProofJobRecord is the authoritative unit owned by the Coordinator.
type ProofJobRecord struct {
	JobID       string     `json:"jobId"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Tape   TapeInfo    `json:"tape"`
	Queue  QueueState  `json:"queue"`
	Prover ProverState `json:"prover"`
	Result *Result     `json:"result,omitempty"`
	Claim  *ClaimState `json:"claim,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Age returns how long the record has existed as of now.
func (r *ProofJobRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// Clone returns a deep-enough copy safe for a reader to hold onto; the
// Coordinator is the only writer, but readers must never observe a record
// that later mutates underneath them.
func (r *ProofJobRecord) Clone() *ProofJobRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	if r.Result != nil {
		res := *r.Result
		cp.Result = &res
	}
	if r.Claim != nil {
		claim := *r.Claim
		if r.Claim.FallbackPayload != nil {
			fp := *r.Claim.FallbackPayload
			claim.FallbackPayload = &fp
		}
		if r.Claim.TxHash != nil {
			h := *r.Claim.TxHash
			claim.TxHash = &h
		}
		cp.Claim = &claim
	}
	if r.Prover.SegmentLimitPo2 != nil {
		v := *r.Prover.SegmentLimitPo2
		cp.Prover.SegmentLimitPo2 = &v
	}
	return &cp
}

// ResultArtifact is the JSON envelope persisted to the blob store on
// success: the verbatim prover success response plus storage metadata.
type ResultArtifact struct {
	StoredAt      time.Time              `json:"storedAt"`
	ProverResponse map[string]interface{} `json:"proverResponse"`
}
