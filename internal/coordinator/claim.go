package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/luxfi/proofgw/internal/journal"
	"github.com/luxfi/proofgw/internal/model"
	"github.com/luxfi/proofgw/internal/retry"
)

// BeginClaimAttempt is the claim pipeline's entry point (spec §4.6 step
// 1): it validates jobID is succeeded with a result and claims the
// delivery, transitioning queued/retrying claim state to submitting.
func (c *Coordinator) BeginClaimAttempt(ctx context.Context, jobID string) BeginClaimResult {
	var result BeginClaimResult
	c.exec(func() {
		rec, ok := c.loadRecord(ctx, jobID)
		if !ok || rec.Status != model.StatusSucceeded || rec.Claim == nil {
			result = BeginClaimResult{Outcome: BeginClaimNotSucceeded}
			return
		}
		if rec.Result == nil {
			result = BeginClaimResult{Outcome: BeginClaimMissingResult, Record: rec.Clone()}
			return
		}
		if rec.Claim.Status == model.ClaimStatusSucceeded || rec.Claim.Status == model.ClaimStatusFailed {
			result = BeginClaimResult{Outcome: BeginClaimAlreadyDone, Record: rec.Clone()}
			return
		}

		now := c.clock()
		rec.Claim.Status = model.ClaimStatusSubmitting
		rec.Claim.Attempts++
		rec.Claim.LastAttemptAt = &now
		rec.Claim.NextRetryAt = nil
		c.touch(rec)
		if err := c.saveRecord(ctx, rec); err != nil {
			c.log.Error("coordinator: saving submitting claim failed", "jobId", jobID, "error", err)
			result = BeginClaimResult{Outcome: BeginClaimNotSucceeded}
			return
		}
		result = BeginClaimResult{Outcome: BeginClaimReady, Record: rec.Clone()}
	})
	return result
}

// MarkClaimRetry records a transient relay failure and schedules another
// delivery, or marks the claim permanently failed with a fallback payload
// once MaxQueueRetries is exhausted (spec §4.6/§7: relay failures never
// fail the underlying proof job, only the claim).
func (c *Coordinator) MarkClaimRetry(ctx context.Context, jobID, reason string) {
	c.exec(func() {
		rec, ok := c.loadRecord(ctx, jobID)
		if !ok || rec.Claim == nil || rec.Claim.Status == model.ClaimStatusSucceeded {
			return
		}
		now := c.clock()
		rec.Claim.LastError = reason
		if int(rec.Claim.Attempts) >= c.cfg.MaxQueueRetries {
			c.markClaimFailedLocked(rec, reason, now)
			if err := c.saveRecord(ctx, rec); err != nil {
				c.log.Error("coordinator: saving failed claim failed", "jobId", jobID, "error", err)
			}
			return
		}
		delay := retry.Delay(int(rec.Claim.Attempts), c.cfg.MaxRetryDelay)
		next := now.Add(delay)
		rec.Claim.Status = model.ClaimStatusRetrying
		rec.Claim.NextRetryAt = &next
		c.touch(rec)
		if err := c.saveRecord(ctx, rec); err != nil {
			c.log.Error("coordinator: saving retrying claim failed", "jobId", jobID, "error", err)
		}
	})
}

// MarkClaimSucceeded records a successful on-chain relay.
func (c *Coordinator) MarkClaimSucceeded(ctx context.Context, jobID, txHash string) {
	c.exec(func() {
		rec, ok := c.loadRecord(ctx, jobID)
		if !ok || rec.Claim == nil {
			return
		}
		rec.Claim.Status = model.ClaimStatusSucceeded
		rec.Claim.TxHash = &txHash
		rec.Claim.LastError = ""
		c.touch(rec)
		if err := c.saveRecord(ctx, rec); err != nil {
			c.log.Error("coordinator: saving succeeded claim failed", "jobId", jobID, "error", err)
			return
		}
		if c.metrics != nil {
			c.metrics.ClaimSucceeded.Inc()
		}
	})
}

// MarkClaimFailed marks the claim permanently failed for a fatal relay
// error (spec §4.6's fatal classification), attaching a fallback payload
// so the claimant can settle out-of-band. A claim that has already
// succeeded or failed is left unchanged.
func (c *Coordinator) MarkClaimFailed(ctx context.Context, jobID, reason string) {
	c.exec(func() {
		rec, ok := c.loadRecord(ctx, jobID)
		if !ok || rec.Claim == nil {
			return
		}
		if rec.Claim.Status == model.ClaimStatusSucceeded || rec.Claim.Status == model.ClaimStatusFailed {
			return
		}
		c.markClaimFailedLocked(rec, reason, c.clock())
		if err := c.saveRecord(ctx, rec); err != nil {
			c.log.Error("coordinator: saving failed claim failed", "jobId", jobID, "error", err)
		}
	})
}

// markClaimFailedLocked transitions rec's claim into its terminal failed
// state and attaches a fallback payload built from the succeeded job's
// own journal, so a client can replay the claim out-of-band even though
// the gateway has given up. Must be called from within the actor.
func (c *Coordinator) markClaimFailedLocked(rec *model.ProofJobRecord, reason string, now time.Time) {
	rec.Claim.Status = model.ClaimStatusFailed
	rec.Claim.LastError = reason
	c.touch(rec)

	if rec.Result == nil {
		if c.metrics != nil {
			c.metrics.ClaimFailed.Inc()
		}
		return
	}

	packed := journal.Pack(rec.Result.Summary.Journal)
	digest := sha256.Sum256(packed[:])
	rec.Claim.FallbackPayload = &model.FallbackPayload{
		ClaimantAddress:  rec.Claim.ClaimantAddress,
		JournalRawHex:    hex.EncodeToString(packed[:]),
		JournalDigestHex: hex.EncodeToString(digest[:]),
		ProofArtifactKey: rec.Result.ArtifactKey,
		Note:             "automatic on-chain relay failed; replay this payload against the settlement contract directly",
	}
	if c.metrics != nil {
		c.metrics.ClaimFailed.Inc()
	}
}
