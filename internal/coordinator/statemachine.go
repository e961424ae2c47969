package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/luxfi/proofgw/internal/model"
	"github.com/luxfi/proofgw/internal/prover"
	"github.com/luxfi/proofgw/internal/retry"
	"github.com/luxfi/proofgw/internal/store"
)

// isOOMError reports whether a poll failure reason indicates the prover
// ran out of memory, the only cause spec §4.4.1 calls out for halving the
// segment limit on recovery.
func isOOMError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "out of memory") || strings.Contains(lower, "oom")
}

// BeginQueueAttempt is the proof queue consumer's entry point (spec §4.5
// steps 2-3): it claims a delivery of jobID, detecting redelivery so the
// consumer can skip re-dispatching a job that is already dispatching or
// running.
func (c *Coordinator) BeginQueueAttempt(ctx context.Context, jobID string) BeginQueueResult {
	var result BeginQueueResult
	c.exec(func() {
		rec, ok := c.loadRecord(ctx, jobID)
		if !ok {
			result = BeginQueueResult{Outcome: BeginQueueMissing}
			return
		}
		if rec.Status.IsTerminal() {
			result = BeginQueueResult{Outcome: BeginQueueTerminal, Record: rec.Clone()}
			return
		}
		if rec.Status == model.StatusDispatching || rec.Status == model.StatusProverRunning {
			if rec.Status == model.StatusProverRunning && rec.Prover.ProverJobID != "" {
				c.scheduleAlarm(jobID, c.cfg.PollInterval)
			}
			result = BeginQueueResult{Outcome: BeginQueueRedelivered, Record: rec.Clone()}
			return
		}

		now := c.clock()
		rec.Status = model.StatusDispatching
		rec.Queue.Attempts++
		rec.Queue.LastAttemptAt = &now
		rec.Queue.NextRetryAt = nil
		c.touch(rec)
		if err := c.saveRecord(ctx, rec); err != nil {
			c.log.Error("coordinator: saving dispatching record failed", "jobId", jobID, "error", err)
			result = BeginQueueResult{Outcome: BeginQueueMissing}
			return
		}
		result = BeginQueueResult{Outcome: BeginQueueDispatching, Record: rec.Clone()}
	})
	return result
}

// MarkRetry records a dispatch failure and either schedules a retry
// (queue redelivery after a backoff computed purely from the attempt
// count, per spec §9's "no global counters") or force-fails the job if
// MaxQueueRetries is exhausted.
func (c *Coordinator) MarkRetry(ctx context.Context, jobID string, reason string) {
	c.exec(func() {
		rec, ok := c.loadRecord(ctx, jobID)
		if !ok || rec.Status.IsTerminal() {
			return
		}
		now := c.clock()
		rec.Queue.LastError = reason
		if int(rec.Queue.Attempts) >= c.cfg.MaxQueueRetries {
			c.forceFail(ctx, rec, fmt.Sprintf("exhausted queue retries: %s", reason), now)
			return
		}
		delay := retry.Delay(int(rec.Queue.Attempts), c.cfg.MaxRetryDelay)
		next := now.Add(delay)
		rec.Status = model.StatusRetrying
		rec.Queue.NextRetryAt = &next
		c.touch(rec)
		if err := c.saveRecord(ctx, rec); err != nil {
			c.log.Error("coordinator: saving retrying record failed", "jobId", jobID, "error", err)
		}
	})
}

// MarkProverAccepted records that the external prover accepted the tape
// and transitions the record into prover_running, arming the first poll
// alarm (spec §4.4's prover_running state).
func (c *Coordinator) MarkProverAccepted(ctx context.Context, jobID, proverJobID, statusURL string, segmentLimitPo2 uint32) {
	c.exec(func() {
		rec, ok := c.loadRecord(ctx, jobID)
		if !ok || rec.Status.IsTerminal() {
			return
		}
		rec.Status = model.StatusProverRunning
		rec.Prover.ProverJobID = proverJobID
		rec.Prover.ProverStatus = model.ProverStatusRunning
		rec.Prover.StatusURL = statusURL
		if segmentLimitPo2 != 0 {
			rec.Prover.SegmentLimitPo2 = &segmentLimitPo2
		}
		c.touch(rec)
		if err := c.saveRecord(ctx, rec); err != nil {
			c.log.Error("coordinator: saving prover_running record failed", "jobId", jobID, "error", err)
			return
		}
		c.scheduleAlarm(jobID, c.cfg.PollInterval)
	})
}

// Alarm is the timer-driven re-entry point (spec §9's "alarm"). It is
// also exposed directly so an operator or test can force an immediate
// poll without waiting for the timer.
func (c *Coordinator) Alarm(ctx context.Context, jobID string) {
	c.exec(func() { c.onAlarm(ctx, jobID, true) })
}

// KickAlarm forces one poll attempt without rearming the recurring timer
// on its own — it shares onAlarm's transition logic but with schedule set
// to false, so a caller driving its own cadence (e.g. a test) controls
// exactly when the next poll happens.
func (c *Coordinator) KickAlarm(ctx context.Context, jobID string) {
	c.exec(func() { c.onAlarm(ctx, jobID, false) })
}

// onAlarm performs one bounded poll of the prover and advances the
// record accordingly. Must run inside the actor.
func (c *Coordinator) onAlarm(ctx context.Context, jobID string, schedule bool) {
	rec, ok := c.loadRecord(ctx, jobID)
	if !ok || rec.Status.IsTerminal() {
		c.cancelAlarm(jobID)
		return
	}
	if rec.Status != model.StatusProverRunning {
		return
	}

	now := c.clock()
	if rec.Age(now) > c.cfg.MaxJobWallTime {
		c.forceFail(ctx, rec, "exceeded wall-time limit", now)
		return
	}

	pollCtx, pollCancel := context.WithTimeout(ctx, c.cfg.AbsolutePollDeadline)
	start := now
	res := c.proverCli.PollBounded(pollCtx, rec.Prover.ProverJobID, c.cfg.PollBudget, c.cfg.PollInterval)
	pollCancel()
	if c.metrics != nil {
		c.metrics.PollDuration.Observe(c.clock().Sub(start).Seconds())
	}

	switch res.Kind {
	case prover.PollRunning:
		rec.Prover.LastPolledAt = &now
		c.touch(rec)
		if err := c.saveRecord(ctx, rec); err != nil {
			c.log.Error("coordinator: saving polled record failed", "jobId", jobID, "error", err)
		}
		if schedule {
			c.scheduleAlarm(jobID, c.cfg.PollInterval)
		}

	case prover.PollSuccess:
		c.handleSuccess(ctx, rec, res, now)

	case prover.PollRetry:
		c.handleProverLoss(ctx, rec, res, now, schedule)

	case prover.PollFatal:
		c.forceFail(ctx, rec, res.Msg, now)
	}
}

// handleSuccess stores the result artifact and summary, marks the job
// succeeded, and enqueues the claim pipeline (spec §4.4's succeeded
// state / §4.6).
func (c *Coordinator) handleSuccess(ctx context.Context, rec *model.ProofJobRecord, res prover.PollResult, now time.Time) {
	c.cancelAlarm(rec.JobID)

	summary, err := c.proverCli.Summarize(res.SuccessResponse)
	if err != nil {
		c.forceFail(ctx, rec, fmt.Sprintf("result validation failed: %s", err), now)
		return
	}

	artifactKey := store.ResultBlobKey(rec.JobID)
	if c.blob != nil {
		artifact := model.ResultArtifact{StoredAt: now, ProverResponse: res.SuccessResponse}
		if raw, mErr := json.Marshal(artifact); mErr == nil {
			if err := c.blob.Put(ctx, artifactKey, "application/json", raw); err != nil {
				c.log.Error("coordinator: storing result artifact failed", "jobId", rec.JobID, "error", err)
			}
		}
	}

	rec.Status = model.StatusSucceeded
	rec.Result = &model.Result{ArtifactKey: artifactKey, Summary: summary}
	rec.UpdatedAt = now
	t := now
	rec.CompletedAt = &t
	if rec.Claim != nil {
		rec.Claim.Status = model.ClaimStatusQueued
	}
	if err := c.saveRecord(ctx, rec); err != nil {
		c.log.Error("coordinator: saving succeeded record failed", "jobId", rec.JobID, "error", err)
		return
	}
	if err := c.clearActiveJobID(ctx, rec.JobID); err != nil {
		c.log.Error("coordinator: clearing active slot failed", "jobId", rec.JobID, "error", err)
	}
	if c.metrics != nil {
		c.metrics.JobsSucceeded.Inc()
	}
	c.setActiveGauge(ctx)

	if c.claimQ != nil {
		if err := c.claimQ.Enqueue(rec.JobID); err != nil {
			c.log.Error("coordinator: enqueueing claim failed", "jobId", rec.JobID, "error", err)
		}
	}
	c.prune(ctx, now)
}

// handleProverLoss implements spec §4.4.1's prover-loss recovery: the
// prover job is gone (or otherwise requires a fresh submission) and the
// record is eligible for a bounded number of re-submissions before
// failing outright. The segment limit is only halved when the last-seen
// poll error suggests the prover ran out of memory; any other cause
// re-submits with the same parameters.
func (c *Coordinator) handleProverLoss(ctx context.Context, rec *model.ProofJobRecord, res prover.PollResult, now time.Time, schedule bool) {
	if rec.Prover.RecoveryAttempts >= uint32(c.cfg.MaxProverRecoveryAttempts) {
		c.forceFail(ctx, rec, fmt.Sprintf("prover lost job after %d recovery attempts: %s", rec.Prover.RecoveryAttempts, res.Msg), now)
		return
	}

	rec.Prover.RecoveryAttempts++
	rec.Prover.PollingErrors++
	rec.Prover.ProverJobID = ""
	rec.Prover.ProverStatus = ""
	rec.Prover.StatusURL = ""
	if c.metrics != nil {
		c.metrics.RecoveryAttempts.Inc()
	}

	limit := c.cfg.FallbackSegmentLimitPo2
	if rec.Prover.SegmentLimitPo2 != nil {
		limit = *rec.Prover.SegmentLimitPo2
	}
	if isOOMError(res.Msg) && rec.Prover.SegmentLimitPo2 != nil && *rec.Prover.SegmentLimitPo2 > c.cfg.FallbackSegmentLimitPo2 {
		limit = *rec.Prover.SegmentLimitPo2 / 2
		if limit < c.cfg.FallbackSegmentLimitPo2 {
			limit = c.cfg.FallbackSegmentLimitPo2
		}
	}
	rec.Prover.SegmentLimitPo2 = &limit

	tapeBytes, present, err := c.blob.Get(ctx, rec.Tape.BlobKey)
	if err != nil || !present {
		c.forceFail(ctx, rec, fmt.Sprintf("recovery re-submission: reading tape blob failed: %v", err), now)
		return
	}

	submit := c.proverCli.SubmitTape(ctx, tapeBytes, limit)
	switch submit.Kind {
	case prover.SubmitAccepted:
		rec.Status = model.StatusProverRunning
		rec.Prover.ProverJobID = submit.ProverJobID
		rec.Prover.ProverStatus = model.ProverStatusRunning
		rec.Prover.StatusURL = submit.StatusURL
		c.touch(rec)
		if err := c.saveRecord(ctx, rec); err != nil {
			c.log.Error("coordinator: saving recovery-resubmitted record failed", "jobId", rec.JobID, "error", err)
			return
		}
		if schedule {
			c.scheduleAlarm(rec.JobID, c.cfg.PollInterval)
		}
	case prover.SubmitRetry:
		c.touch(rec)
		if err := c.saveRecord(ctx, rec); err != nil {
			c.log.Error("coordinator: saving record failed", "jobId", rec.JobID, "error", err)
			return
		}
		if schedule {
			c.scheduleAlarm(rec.JobID, c.cfg.PollInterval)
		}
	case prover.SubmitFatal:
		c.forceFail(ctx, rec, fmt.Sprintf("recovery re-submission rejected: %s", submit.Reason), now)
	}
}

// MarkFailed force-fails jobID for an externally observed reason, e.g. a
// dead-letter queue giving up on redelivery (spec §4.7).
func (c *Coordinator) MarkFailed(ctx context.Context, jobID, reason string) {
	c.exec(func() {
		rec, ok := c.loadRecord(ctx, jobID)
		if !ok {
			return
		}
		c.forceFail(ctx, rec, reason, c.clock())
	})
}

// Cancel force-fails jobID on operator or client request.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) {
	c.MarkFailed(ctx, jobID, "cancelled")
}
