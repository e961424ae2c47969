package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/crc32"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/proofgw/internal/coordinator"
	"github.com/luxfi/proofgw/internal/model"
	"github.com/luxfi/proofgw/internal/store"
)

type fakeCoordinator struct {
	createResult coordinator.CreateResult
	job          *model.ProofJobRecord
	cancelled    []string
}

func (f *fakeCoordinator) NewJobID() string { return "job-1" }
func (f *fakeCoordinator) CreateJob(ctx context.Context, jobID string, tape model.TapeInfo, claimantAddress string) coordinator.CreateResult {
	return f.createResult
}
func (f *fakeCoordinator) GetJob(ctx context.Context, jobID string) (*model.ProofJobRecord, bool) {
	if f.job == nil {
		return nil, false
	}
	return f.job, true
}
func (f *fakeCoordinator) KickAlarm(ctx context.Context, jobID string) {}
func (f *fakeCoordinator) Cancel(ctx context.Context, jobID string) {
	f.cancelled = append(f.cancelled, jobID)
}

func validTape(t *testing.T) []byte {
	const magic = 0x5A4B5450
	buf := &bytes.Buffer{}
	writeU32 := func(v uint32) {
		b := make([]byte, 4)
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
		b[3] = byte(v >> 24)
		buf.Write(b)
	}
	writeU32(magic)
	writeU32(1)
	writeU32(42)
	writeU32(2)
	buf.Write([]byte{1, 2})
	headerAndBody := buf.Bytes()
	writeU32(7)
	writeU32(99)
	checksum := crc32.ChecksumIEEE(headerAndBody)
	writeU32(checksum)
	return buf.Bytes()
}

func TestHandleCreateJob_Accepted(t *testing.T) {
	rec := &model.ProofJobRecord{JobID: "job-1", Status: model.StatusQueued}
	coord := &fakeCoordinator{createResult: coordinator.CreateResult{Outcome: coordinator.CreateAccepted, Record: rec}}
	mux := http.NewServeMux()
	New(mux, coord, store.NewMemoryBlob(), nil, nil, Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/proofs/jobs", bytes.NewReader(validTape(t)))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	require.Equal(t, true, resp["success"])
}

func TestHandleCreateJob_RejectsMalformedTape(t *testing.T) {
	coord := &fakeCoordinator{}
	mux := http.NewServeMux()
	New(mux, coord, store.NewMemoryBlob(), nil, nil, Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/proofs/jobs", bytes.NewReader([]byte("short")))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCreateJob_RejectsWhenActive(t *testing.T) {
	active := &model.ProofJobRecord{JobID: "active-1", Status: model.StatusProverRunning}
	coord := &fakeCoordinator{createResult: coordinator.CreateResult{Outcome: coordinator.CreateRejected, ActiveJob: active}}
	mux := http.NewServeMux()
	New(mux, coord, store.NewMemoryBlob(), nil, nil, Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/proofs/jobs", bytes.NewReader(validTape(t)))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleGetJob_NotFound(t *testing.T) {
	coord := &fakeCoordinator{}
	mux := http.NewServeMux()
	New(mux, coord, store.NewMemoryBlob(), nil, nil, Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/proofs/jobs/missing", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetResult_ConflictWhenNotSucceeded(t *testing.T) {
	rec := &model.ProofJobRecord{JobID: "job-1", Status: model.StatusProverRunning}
	coord := &fakeCoordinator{job: rec}
	mux := http.NewServeMux()
	New(mux, coord, store.NewMemoryBlob(), nil, nil, Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/proofs/jobs/job-1/result", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleGetResult_StreamsArtifact(t *testing.T) {
	blob := store.NewMemoryBlob()
	blob.Put(context.Background(), "artifact-key", "application/json", []byte(`{"hello":"world"}`))
	rec := &model.ProofJobRecord{
		JobID:  "job-1",
		Status: model.StatusSucceeded,
		Result: &model.Result{ArtifactKey: "artifact-key"},
	}
	coord := &fakeCoordinator{job: rec}
	mux := http.NewServeMux()
	New(mux, coord, blob, nil, nil, Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/proofs/jobs/job-1/result", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"hello":"world"}`, w.Body.String())
}

func TestHandleCancelJob(t *testing.T) {
	rec := &model.ProofJobRecord{JobID: "job-1", Status: model.StatusProverRunning}
	coord := &fakeCoordinator{job: rec}
	mux := http.NewServeMux()
	New(mux, coord, store.NewMemoryBlob(), nil, nil, Config{})

	req := httptest.NewRequest(http.MethodDelete, "/api/proofs/jobs/job-1", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"job-1"}, coord.cancelled)
}

func TestHandleHealth_NoCheckerReturnsHealthy(t *testing.T) {
	coord := &fakeCoordinator{}
	mux := http.NewServeMux()
	New(mux, coord, store.NewMemoryBlob(), nil, nil, Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
