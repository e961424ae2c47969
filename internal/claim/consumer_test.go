package claim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/proofgw/internal/coordinator"
	"github.com/luxfi/proofgw/internal/model"
	"github.com/luxfi/proofgw/internal/queue"
	"github.com/luxfi/proofgw/internal/store"
)

type fakeClaimCoordinator struct {
	beginResult coordinator.BeginClaimResult
	succeeded   []string
	failed      []string
	retried     []string
}

func (f *fakeClaimCoordinator) BeginClaimAttempt(ctx context.Context, jobID string) coordinator.BeginClaimResult {
	return f.beginResult
}
func (f *fakeClaimCoordinator) MarkClaimRetry(ctx context.Context, jobID, reason string) {
	f.retried = append(f.retried, jobID)
}
func (f *fakeClaimCoordinator) MarkClaimSucceeded(ctx context.Context, jobID, txHash string) {
	f.succeeded = append(f.succeeded, jobID)
}
func (f *fakeClaimCoordinator) MarkClaimFailed(ctx context.Context, jobID, reason string) {
	f.failed = append(f.failed, jobID)
}

func TestConsumer_RelaysSuccessfully(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(relaySuccessResponse{TxHash: "0xdead"})
	}))
	defer srv.Close()

	sealInts := make([]interface{}, rawSealLen)
	params := make([]interface{}, 8)
	for i := range params {
		params[i] = float64(i)
	}
	artifact := model.ResultArtifact{
		ProverResponse: map[string]interface{}{
			"result": map[string]interface{}{
				"receipt": map[string]interface{}{
					"inner": map[string]interface{}{
						"Groth16": map[string]interface{}{
							"seal":                sealInts,
							"verifier_parameters": params,
						},
					},
				},
			},
		},
	}
	artifactRaw, _ := json.Marshal(artifact)

	blob := store.NewMemoryBlob()
	blob.Put(context.Background(), "result-key", "application/json", artifactRaw)

	rec := &model.ProofJobRecord{
		JobID:  "job-1",
		Status: model.StatusSucceeded,
		Result: &model.Result{ArtifactKey: "result-key", Summary: model.ResultSummary{}},
		Claim:  &model.ClaimState{ClaimantAddress: "addr1"},
	}
	coord := &fakeClaimCoordinator{
		beginResult: coordinator.BeginClaimResult{Outcome: coordinator.BeginClaimReady, Record: rec},
	}

	relay := NewRelayClient(RelayConfig{Endpoint: srv.URL})
	q := queue.New(time.Minute, 3, nil)
	q.Enqueue("job-1")
	msg, _ := q.Dequeue()

	c := NewConsumer(q, coord, blob, relay, 5, nil)
	c.process(context.Background(), msg)

	require.Equal(t, []string{"job-1"}, coord.succeeded)
}

func TestConsumer_MissingResultFailsImmediately(t *testing.T) {
	coord := &fakeClaimCoordinator{
		beginResult: coordinator.BeginClaimResult{Outcome: coordinator.BeginClaimMissingResult},
	}
	q := queue.New(time.Minute, 3, nil)
	q.Enqueue("job-1")
	msg, _ := q.Dequeue()

	c := NewConsumer(q, coord, store.NewMemoryBlob(), NewRelayClient(RelayConfig{Endpoint: "http://unused"}), 5, nil)
	c.process(context.Background(), msg)

	require.Equal(t, []string{"job-1"}, coord.failed)
}
