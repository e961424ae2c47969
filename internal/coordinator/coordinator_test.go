package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/proofgw/internal/model"
	"github.com/luxfi/proofgw/internal/prover"
	"github.com/luxfi/proofgw/internal/store"
)

type fakeQueue struct {
	enqueued []string
}

func (f *fakeQueue) Enqueue(jobID string) error {
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

type fakePoller struct {
	pollResult   prover.PollResult
	submitResult prover.SubmitResult
	summary      model.ResultSummary
}

func (f *fakePoller) PollBounded(ctx context.Context, proverJobID string, budget, interval time.Duration) prover.PollResult {
	return f.pollResult
}

func (f *fakePoller) SubmitTape(ctx context.Context, tapeBytes []byte, segmentLimitPo2 uint32) prover.SubmitResult {
	return f.submitResult
}

func (f *fakePoller) Summarize(successResponse map[string]interface{}) (model.ResultSummary, error) {
	return f.summary, nil
}

func newTestCoordinator(t *testing.T, poller Poller) (*Coordinator, *fakeQueue, *fakeQueue) {
	kv := store.NewMemoryKV()
	blob := store.NewMemoryBlob()
	proofQ := &fakeQueue{}
	claimQ := &fakeQueue{}
	c := New(kv, blob, poller, proofQ, claimQ, nil, nil, Config{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)
	return c, proofQ, claimQ
}

func TestCreateJob_AcceptsWhenSlotEmpty(t *testing.T) {
	c, proofQ, _ := newTestCoordinator(t, &fakePoller{})
	res := c.CreateJob(context.Background(), "", model.TapeInfo{BlobKey: "k"}, "addr")
	require.Equal(t, CreateAccepted, res.Outcome)
	require.Len(t, proofQ.enqueued, 1)

	active, ok := c.GetActiveJob(context.Background())
	require.True(t, ok)
	require.Equal(t, res.Record.JobID, active.JobID)
}

func TestCreateJob_RejectsWhenSlotHeld(t *testing.T) {
	c, _, _ := newTestCoordinator(t, &fakePoller{})
	first := c.CreateJob(context.Background(), "", model.TapeInfo{}, "addr")
	require.Equal(t, CreateAccepted, first.Outcome)

	second := c.CreateJob(context.Background(), "", model.TapeInfo{}, "addr2")
	require.Equal(t, CreateRejected, second.Outcome)
	require.Equal(t, first.Record.JobID, second.ActiveJob.JobID)
}

func TestBeginQueueAttempt_TransitionsToDispatching(t *testing.T) {
	c, _, _ := newTestCoordinator(t, &fakePoller{})
	created := c.CreateJob(context.Background(), "", model.TapeInfo{}, "addr")

	res := c.BeginQueueAttempt(context.Background(), created.Record.JobID)
	require.Equal(t, BeginQueueDispatching, res.Outcome)
	require.Equal(t, model.StatusDispatching, res.Record.Status)
	require.Equal(t, uint32(1), res.Record.Queue.Attempts)
}

func TestBeginQueueAttempt_DetectsRedelivery(t *testing.T) {
	c, _, _ := newTestCoordinator(t, &fakePoller{})
	created := c.CreateJob(context.Background(), "", model.TapeInfo{}, "addr")
	c.BeginQueueAttempt(context.Background(), created.Record.JobID)

	res := c.BeginQueueAttempt(context.Background(), created.Record.JobID)
	require.Equal(t, BeginQueueRedelivered, res.Outcome)
}

func TestBeginQueueAttempt_RedeliveryInProverRunningReschedulesAlarm(t *testing.T) {
	kv := store.NewMemoryKV()
	blob := store.NewMemoryBlob()
	cfg := Config{PollInterval: 5 * time.Millisecond, MaxJobWallTime: time.Hour}

	// c1 accepts the job into prover_running (arming its own in-process
	// alarm), then is discarded without ever firing it — simulating a
	// process crash where the timer never survives.
	c1 := New(kv, blob, &fakePoller{pollResult: prover.PollResult{Kind: prover.PollRunning}}, &fakeQueue{}, &fakeQueue{}, nil, nil, cfg, nil, nil)
	ctx1, cancel1 := context.WithCancel(context.Background())
	go c1.Run(ctx1)
	created := c1.CreateJob(context.Background(), "", model.TapeInfo{}, "addr")
	jobID := created.Record.JobID
	c1.BeginQueueAttempt(context.Background(), jobID)
	c1.MarkProverAccepted(context.Background(), jobID, "prover-1", "/status/prover-1", 0)
	cancel1()

	// c2 is a fresh Coordinator over the same store, with no timers of its
	// own. The proof queue redelivers the stuck job; BeginQueueAttempt must
	// rearm the poll alarm itself so the job doesn't stall forever.
	poller2 := &fakePoller{pollResult: prover.PollResult{Kind: prover.PollRunning}}
	c2 := New(kv, blob, poller2, &fakeQueue{}, &fakeQueue{}, nil, nil, cfg, nil, nil)
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	go c2.Run(ctx2)

	res := c2.BeginQueueAttempt(context.Background(), jobID)
	require.Equal(t, BeginQueueRedelivered, res.Outcome)

	time.Sleep(30 * time.Millisecond)
	rec, _ := c2.GetJob(context.Background(), jobID)
	require.NotNil(t, rec.Prover.LastPolledAt)
}

func TestBeginQueueAttempt_Missing(t *testing.T) {
	c, _, _ := newTestCoordinator(t, &fakePoller{})
	res := c.BeginQueueAttempt(context.Background(), "nonexistent")
	require.Equal(t, BeginQueueMissing, res.Outcome)
}

func TestMarkRetry_ExhaustsIntoFailure(t *testing.T) {
	cfg := Config{MaxQueueRetries: 2}
	kv := store.NewMemoryKV()
	blob := store.NewMemoryBlob()
	c := New(kv, blob, &fakePoller{}, &fakeQueue{}, &fakeQueue{}, nil, nil, cfg, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	created := c.CreateJob(context.Background(), "", model.TapeInfo{}, "addr")
	jobID := created.Record.JobID

	c.BeginQueueAttempt(context.Background(), jobID)
	c.MarkRetry(context.Background(), jobID, "transient")
	rec, _ := c.GetJob(context.Background(), jobID)
	require.Equal(t, model.StatusRetrying, rec.Status)

	c.BeginQueueAttempt(context.Background(), jobID)
	c.MarkRetry(context.Background(), jobID, "transient again")
	rec, _ = c.GetJob(context.Background(), jobID)
	require.Equal(t, model.StatusFailed, rec.Status)

	_, ok := c.GetActiveJob(context.Background())
	require.False(t, ok)
}

func TestMarkProverAccepted_TransitionsAndArmsAlarm(t *testing.T) {
	c, _, _ := newTestCoordinator(t, &fakePoller{pollResult: prover.PollResult{Kind: prover.PollRunning}})
	created := c.CreateJob(context.Background(), "", model.TapeInfo{}, "addr")
	jobID := created.Record.JobID

	c.BeginQueueAttempt(context.Background(), jobID)
	c.MarkProverAccepted(context.Background(), jobID, "prover-1", "/status/prover-1", 16)

	rec, _ := c.GetJob(context.Background(), jobID)
	require.Equal(t, model.StatusProverRunning, rec.Status)
	require.Equal(t, "prover-1", rec.Prover.ProverJobID)

	var armed bool
	c.exec(func() { _, armed = c.timers[jobID] })
	require.True(t, armed)
}

func TestAlarm_SuccessTransitionsRecordAndEnqueuesClaim(t *testing.T) {
	summary := model.ResultSummary{Journal: model.Journal{FinalScore: 42}}
	poller := &fakePoller{
		pollResult: prover.PollResult{Kind: prover.PollSuccess, SuccessResponse: map[string]interface{}{"ok": true}},
		summary:    summary,
	}
	c, _, claimQ := newTestCoordinator(t, poller)

	created := c.CreateJob(context.Background(), "", model.TapeInfo{BlobKey: "tape-key"}, "addr")
	jobID := created.Record.JobID
	c.BeginQueueAttempt(context.Background(), jobID)
	c.MarkProverAccepted(context.Background(), jobID, "prover-1", "/status/prover-1", 16)

	c.Alarm(context.Background(), jobID)

	rec, _ := c.GetJob(context.Background(), jobID)
	require.Equal(t, model.StatusSucceeded, rec.Status)
	require.NotNil(t, rec.Result)
	require.Equal(t, uint32(42), rec.Result.Summary.Journal.FinalScore)
	require.Len(t, claimQ.enqueued, 1)

	_, ok := c.GetActiveJob(context.Background())
	require.False(t, ok)
}

func TestAlarm_FatalPollForceFails(t *testing.T) {
	poller := &fakePoller{pollResult: prover.PollResult{Kind: prover.PollFatal, Msg: "bad tape"}}
	c, _, _ := newTestCoordinator(t, poller)

	created := c.CreateJob(context.Background(), "", model.TapeInfo{}, "addr")
	jobID := created.Record.JobID
	c.BeginQueueAttempt(context.Background(), jobID)
	c.MarkProverAccepted(context.Background(), jobID, "prover-1", "/status/prover-1", 16)

	c.Alarm(context.Background(), jobID)

	rec, _ := c.GetJob(context.Background(), jobID)
	require.Equal(t, model.StatusFailed, rec.Status)
	require.Equal(t, "bad tape", rec.Error)
}

func TestAlarm_ProverLossRecoversBySegmentHalving(t *testing.T) {
	blob := store.NewMemoryBlob()
	blob.Put(context.Background(), "tape-key", "application/octet-stream", []byte("tape-bytes"))

	poller := &fakePoller{
		pollResult:   prover.PollResult{Kind: prover.PollRetry, ClearProverJob: true, Msg: "prover reported out of memory"},
		submitResult: prover.SubmitResult{Kind: prover.SubmitAccepted, ProverJobID: "prover-2"},
	}
	kv := store.NewMemoryKV()
	c := New(kv, blob, poller, &fakeQueue{}, &fakeQueue{}, nil, nil, Config{MaxProverRecoveryAttempts: 2}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	created := c.CreateJob(context.Background(), "", model.TapeInfo{BlobKey: "tape-key"}, "addr")
	jobID := created.Record.JobID
	c.BeginQueueAttempt(context.Background(), jobID)
	limit := uint32(24)
	c.MarkProverAccepted(context.Background(), jobID, "prover-1", "/status/prover-1", limit)

	c.Alarm(context.Background(), jobID)

	rec, _ := c.GetJob(context.Background(), jobID)
	require.Equal(t, model.StatusProverRunning, rec.Status)
	require.Equal(t, "prover-2", rec.Prover.ProverJobID)
	require.Equal(t, uint32(1), rec.Prover.RecoveryAttempts)
	require.NotNil(t, rec.Prover.SegmentLimitPo2)
	require.Equal(t, uint32(12), *rec.Prover.SegmentLimitPo2)
}

func TestAlarm_ProverLossWithoutOOMKeepsSegmentLimit(t *testing.T) {
	blob := store.NewMemoryBlob()
	blob.Put(context.Background(), "tape-key", "application/octet-stream", []byte("tape-bytes"))

	poller := &fakePoller{
		pollResult:   prover.PollResult{Kind: prover.PollRetry, ClearProverJob: true, Msg: "connection reset by peer"},
		submitResult: prover.SubmitResult{Kind: prover.SubmitAccepted, ProverJobID: "prover-2"},
	}
	kv := store.NewMemoryKV()
	c := New(kv, blob, poller, &fakeQueue{}, &fakeQueue{}, nil, nil, Config{MaxProverRecoveryAttempts: 2}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	created := c.CreateJob(context.Background(), "", model.TapeInfo{BlobKey: "tape-key"}, "addr")
	jobID := created.Record.JobID
	c.BeginQueueAttempt(context.Background(), jobID)
	limit := uint32(24)
	c.MarkProverAccepted(context.Background(), jobID, "prover-1", "/status/prover-1", limit)

	c.Alarm(context.Background(), jobID)

	rec, _ := c.GetJob(context.Background(), jobID)
	require.Equal(t, model.StatusProverRunning, rec.Status)
	require.Equal(t, uint32(1), rec.Prover.RecoveryAttempts)
	require.NotNil(t, rec.Prover.SegmentLimitPo2)
	require.Equal(t, uint32(24), *rec.Prover.SegmentLimitPo2)
}

func TestBeginClaimAttempt_ReadyAndAlreadyDone(t *testing.T) {
	poller := &fakePoller{pollResult: prover.PollResult{Kind: prover.PollSuccess, SuccessResponse: map[string]interface{}{"ok": true}}}
	c, _, _ := newTestCoordinator(t, poller)
	created := c.CreateJob(context.Background(), "", model.TapeInfo{}, "addr")
	jobID := created.Record.JobID

	res := c.BeginClaimAttempt(context.Background(), jobID)
	require.Equal(t, BeginClaimNotSucceeded, res.Outcome)

	c.BeginQueueAttempt(context.Background(), jobID)
	c.MarkProverAccepted(context.Background(), jobID, "prover-1", "/status/prover-1", 16)
	c.Alarm(context.Background(), jobID)

	res = c.BeginClaimAttempt(context.Background(), jobID)
	require.Equal(t, BeginClaimReady, res.Outcome)

	c.MarkClaimSucceeded(context.Background(), jobID, "0xabc")
	res = c.BeginClaimAttempt(context.Background(), jobID)
	require.Equal(t, BeginClaimAlreadyDone, res.Outcome)
}

func TestMarkClaimFailed_AttachesFallbackPayload(t *testing.T) {
	poller := &fakePoller{pollResult: prover.PollResult{Kind: prover.PollSuccess, SuccessResponse: map[string]interface{}{"ok": true}}}
	c, _, _ := newTestCoordinator(t, poller)
	created := c.CreateJob(context.Background(), "", model.TapeInfo{}, "addr")
	jobID := created.Record.JobID

	c.BeginQueueAttempt(context.Background(), jobID)
	c.MarkProverAccepted(context.Background(), jobID, "prover-1", "/status/prover-1", 16)
	c.Alarm(context.Background(), jobID)

	c.MarkClaimFailed(context.Background(), jobID, "fatal relay error")
	rec, _ := c.GetJob(context.Background(), jobID)
	require.Equal(t, model.ClaimStatusFailed, rec.Claim.Status)
	require.NotNil(t, rec.Claim.FallbackPayload)
	require.Equal(t, rec.Result.ArtifactKey, rec.Claim.FallbackPayload.ProofArtifactKey)
}
