package claim

import (
	"context"
	"encoding/json"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/proofgw/internal/coordinator"
	"github.com/luxfi/proofgw/internal/journal"
	"github.com/luxfi/proofgw/internal/model"
	"github.com/luxfi/proofgw/internal/queue"
	"github.com/luxfi/proofgw/internal/retry"
	"github.com/luxfi/proofgw/internal/store"
)

// ClaimCoordinator is the subset of *coordinator.Coordinator the claim
// consumer drives (spec §4.6).
type ClaimCoordinator interface {
	BeginClaimAttempt(ctx context.Context, jobID string) coordinator.BeginClaimResult
	MarkClaimRetry(ctx context.Context, jobID, reason string)
	MarkClaimSucceeded(ctx context.Context, jobID, txHash string)
	MarkClaimFailed(ctx context.Context, jobID, reason string)
}

// Consumer drains the claim queue and drives each succeeded job through
// seal extraction and on-chain relay (spec §4.6's numbered protocol).
type Consumer struct {
	queue       *queue.Queue
	coordinator ClaimCoordinator
	blob        store.Blob
	relay       *RelayClient
	maxRetries  int
	log         log.Logger
}

// NewConsumer constructs a claim Consumer.
func NewConsumer(q *queue.Queue, c ClaimCoordinator, blob store.Blob, relay *RelayClient, maxRetries int, logger log.Logger) *Consumer {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Consumer{queue: q, coordinator: c, blob: blob, relay: relay, maxRetries: maxRetries, log: logger}
}

// Run pulls messages off the claim queue until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, idleDelay time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, ok := c.queue.Dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleDelay):
			}
			continue
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg *queue.Message) {
	res := c.coordinator.BeginClaimAttempt(ctx, msg.JobID)
	switch res.Outcome {
	case coordinator.BeginClaimNotSucceeded, coordinator.BeginClaimAlreadyDone:
		c.queue.Ack(msg.JobID)
		return
	case coordinator.BeginClaimMissingResult:
		c.coordinator.MarkClaimFailed(ctx, msg.JobID, "missing proof result")
		c.queue.Ack(msg.JobID)
		return
	}

	rec := res.Record
	artifactRaw, present, err := c.blob.Get(ctx, rec.Result.ArtifactKey)
	if err != nil || !present {
		c.retryOrFail(ctx, msg, rec, "result artifact unavailable")
		return
	}

	var artifact model.ResultArtifact
	if err := json.Unmarshal(artifactRaw, &artifact); err != nil {
		c.coordinator.MarkClaimFailed(ctx, msg.JobID, "result artifact malformed: "+err.Error())
		c.queue.Ack(msg.JobID)
		return
	}

	proofObj, _ := artifact.ProverResponse["result"].(map[string]interface{})
	if proofObj == nil {
		proofObj = artifact.ProverResponse
	}
	receiptObj := extractReceipt(proofObj)
	if receiptObj == nil {
		c.coordinator.MarkClaimFailed(ctx, msg.JobID, "result artifact missing receipt")
		c.queue.Ack(msg.JobID)
		return
	}

	parsed, err := ParseReceiptSeal(receiptObj)
	if err != nil {
		c.coordinator.MarkClaimFailed(ctx, msg.JobID, "seal extraction failed: "+err.Error())
		c.queue.Ack(msg.JobID)
		return
	}
	finalSeal, err := ExtractSeal(parsed.Seal, parsed.VerifierParameters)
	if err != nil {
		c.coordinator.MarkClaimFailed(ctx, msg.JobID, "seal extraction failed: "+err.Error())
		c.queue.Ack(msg.JobID)
		return
	}

	packed := journal.Pack(rec.Result.Summary.Journal)
	outcome := c.relay.Submit(ctx, rec.Claim.ClaimantAddress, finalSeal, packed[:])
	switch outcome.Kind {
	case RelaySucceeded:
		c.coordinator.MarkClaimSucceeded(ctx, msg.JobID, outcome.TxHash)
		c.queue.Ack(msg.JobID)
	case RelayTransient:
		c.retryOrFail(ctx, msg, rec, outcome.Reason)
	case RelayFatal:
		c.coordinator.MarkClaimFailed(ctx, msg.JobID, outcome.Reason)
		c.queue.Ack(msg.JobID)
	}
}

func (c *Consumer) retryOrFail(ctx context.Context, msg *queue.Message, rec *model.ProofJobRecord, reason string) {
	if rec.Claim != nil && int(rec.Claim.Attempts) >= c.maxRetries {
		c.coordinator.MarkClaimFailed(ctx, msg.JobID, reason)
		c.queue.Ack(msg.JobID)
		return
	}
	c.coordinator.MarkClaimRetry(ctx, msg.JobID, reason)
	attempts := 0
	if rec.Claim != nil {
		attempts = int(rec.Claim.Attempts)
	}
	c.queue.Nack(msg.JobID, retry.Delay(attempts, 30*time.Second))
}

// extractReceipt finds receipt/proof.receipt in the stored response,
// tolerant of either shape the prover's success payload may take.
func extractReceipt(proof map[string]interface{}) map[string]interface{} {
	if proof == nil {
		return nil
	}
	if r, ok := proof["receipt"].(map[string]interface{}); ok {
		return r
	}
	if p, ok := proof["proof"].(map[string]interface{}); ok {
		if r, ok := p["receipt"].(map[string]interface{}); ok {
			return r
		}
	}
	return nil
}
