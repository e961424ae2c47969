package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/proofgw/internal/coordinator"
	"github.com/luxfi/proofgw/internal/model"
	"github.com/luxfi/proofgw/internal/prover"
	"github.com/luxfi/proofgw/internal/store"
)

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	q := New(time.Minute, 3, nil)
	require.NoError(t, q.Enqueue("job-1"))

	msg, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, "job-1", msg.JobID)
	require.Equal(t, 1, msg.Attempts)

	_, ok = q.Dequeue()
	require.False(t, ok)

	q.Ack("job-1")
	require.Equal(t, 0, q.Len())
}

func TestQueue_NackRequeuesUntilMaxAttemptsThenDLQ(t *testing.T) {
	dlq := New(time.Minute, 0, nil)
	q := New(time.Minute, 2, dlq)
	require.NoError(t, q.Enqueue("job-1"))

	msg, _ := q.Dequeue()
	q.Nack(msg.JobID, 0)

	msg, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, 2, msg.Attempts)
	q.Nack(msg.JobID, 0)

	_, ok = q.Dequeue()
	require.False(t, ok)

	dlqMsg, ok := dlq.Dequeue()
	require.True(t, ok)
	require.Equal(t, "job-1", dlqMsg.JobID)
}

func TestQueue_VisibilityTimeoutReclaims(t *testing.T) {
	q := New(10*time.Millisecond, 5, nil)
	require.NoError(t, q.Enqueue("job-1"))
	_, ok := q.Dequeue()
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	msg, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, "job-1", msg.JobID)
	require.Equal(t, 2, msg.Attempts)
}

type fakeProofCoordinator struct {
	beginResult coordinator.BeginQueueResult
	retried     []string
	accepted    []string
	failed      []string
}

func (f *fakeProofCoordinator) BeginQueueAttempt(ctx context.Context, jobID string) coordinator.BeginQueueResult {
	return f.beginResult
}
func (f *fakeProofCoordinator) MarkRetry(ctx context.Context, jobID, reason string) {
	f.retried = append(f.retried, jobID)
}
func (f *fakeProofCoordinator) MarkProverAccepted(ctx context.Context, jobID, proverJobID, statusURL string, segmentLimitPo2 uint32) {
	f.accepted = append(f.accepted, jobID)
}
func (f *fakeProofCoordinator) MarkFailed(ctx context.Context, jobID, reason string) {
	f.failed = append(f.failed, jobID)
}

type fakeSubmitter struct {
	result prover.SubmitResult
}

func (f *fakeSubmitter) SubmitTape(ctx context.Context, tapeBytes []byte, segmentLimitPo2 uint32) prover.SubmitResult {
	return f.result
}

func TestProofConsumer_DispatchesAcceptedSubmission(t *testing.T) {
	blob := store.NewMemoryBlob()
	blob.Put(context.Background(), "tape-key", "application/octet-stream", []byte("tape"))

	rec := &model.ProofJobRecord{JobID: "job-1", Tape: model.TapeInfo{BlobKey: "tape-key"}, CreatedAt: time.Now()}
	coord := &fakeProofCoordinator{
		beginResult: coordinator.BeginQueueResult{Outcome: coordinator.BeginQueueDispatching, Record: rec},
	}
	sub := &fakeSubmitter{result: prover.SubmitResult{Kind: prover.SubmitAccepted, ProverJobID: "p-1"}}

	q := New(time.Minute, 3, nil)
	pc := NewProofConsumer(q, coord, blob, sub, nil, time.Hour)
	q.Enqueue("job-1")

	msg, _ := q.Dequeue()
	pc.process(context.Background(), msg)

	require.Equal(t, []string{"job-1"}, coord.accepted)
	require.Equal(t, 0, q.Len())
}

func TestProofConsumer_MissingTapeBlobFailsImmediately(t *testing.T) {
	blob := store.NewMemoryBlob()

	rec := &model.ProofJobRecord{JobID: "job-1", Tape: model.TapeInfo{BlobKey: "missing-key"}, CreatedAt: time.Now()}
	coord := &fakeProofCoordinator{
		beginResult: coordinator.BeginQueueResult{Outcome: coordinator.BeginQueueDispatching, Record: rec},
	}
	sub := &fakeSubmitter{}

	q := New(time.Minute, 3, nil)
	pc := NewProofConsumer(q, coord, blob, sub, nil, time.Hour)
	q.Enqueue("job-1")

	msg, _ := q.Dequeue()
	pc.process(context.Background(), msg)

	require.Equal(t, []string{"job-1"}, coord.failed)
	require.Empty(t, coord.retried)
	require.Equal(t, 0, q.Len())
}

func TestDeadLetterConsumer_MarksFailed(t *testing.T) {
	coord := &fakeProofCoordinator{}
	q := New(time.Minute, 1, nil)
	dlq := New(time.Minute, 0, nil)
	_ = q
	dlq.Enqueue("job-1")

	dc := NewProofDeadLetterConsumer(dlq, coord, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go dc.Run(ctx, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, []string{"job-1"}, coord.failed)
}
