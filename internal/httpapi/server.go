// Package httpapi is the gateway's public HTTP surface (spec §4.8): five
// JSON routes (create, get and cancel a job, fetch its result, health) over a Go 1.22+ enhanced http.ServeMux, following the
// teacher's api.WriteJSON/api.WriteError response envelope and
// api/health.Checker shape.
package httpapi

import (
	"context"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/log"
	"github.com/luxfi/proofgw/api"
	"github.com/luxfi/proofgw/api/health"
	"github.com/luxfi/proofgw/internal/coordinator"
	"github.com/luxfi/proofgw/internal/model"
	"github.com/luxfi/proofgw/internal/store"
	"github.com/luxfi/proofgw/internal/tape"
)

// ClaimantAddressHeader carries the claimant's settlement address on
// POST /api/proofs/jobs, since the request body is the raw tape bytes.
const ClaimantAddressHeader = "X-Claimant-Address"

// Coordinator is the subset of *coordinator.Coordinator the HTTP surface
// drives directly.
type Coordinator interface {
	NewJobID() string
	CreateJob(ctx context.Context, jobID string, tape model.TapeInfo, claimantAddress string) coordinator.CreateResult
	GetJob(ctx context.Context, jobID string) (*model.ProofJobRecord, bool)
	KickAlarm(ctx context.Context, jobID string)
	Cancel(ctx context.Context, jobID string)
}

// Server wires the five public routes plus /metrics.
type Server struct {
	coordinator  Coordinator
	blob         store.Blob
	health       health.Checker
	log          log.Logger
	maxTapeBytes int64
}

// Config configures a Server.
type Config struct {
	MaxTapeBytes int64
}

// New constructs a Server and registers its routes on mux.
func New(mux *http.ServeMux, coord Coordinator, blob store.Blob, healthChecker health.Checker, logger log.Logger, cfg Config) *Server {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	if cfg.MaxTapeBytes == 0 {
		cfg.MaxTapeBytes = 2 * 1024 * 1024
	}
	s := &Server{
		coordinator:  coord,
		blob:         blob,
		health:       healthChecker,
		log:          logger,
		maxTapeBytes: cfg.MaxTapeBytes,
	}

	mux.HandleFunc("POST /api/proofs/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /api/proofs/jobs/{jobId}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/proofs/jobs/{jobId}", s.handleCancelJob)
	mux.HandleFunc("GET /api/proofs/jobs/{jobId}/result", s.handleGetResult)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	limited := http.MaxBytesReader(w, r.Body, s.maxTapeBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		api.WriteError(w, http.StatusRequestEntityTooLarge, api.NewHTTPError(http.StatusRequestEntityTooLarge, "tape exceeds size limit"))
		return
	}
	if int64(len(raw)) > s.maxTapeBytes {
		api.WriteError(w, http.StatusRequestEntityTooLarge, api.NewHTTPError(http.StatusRequestEntityTooLarge, "tape exceeds size limit"))
		return
	}

	meta, err := tape.Validate(raw, s.maxTapeBytes)
	if err != nil {
		if rk, ok := tape.IsRejection(err); ok {
			api.WriteJSON(w, http.StatusBadRequest, api.Response{
				Success: false,
				Error:   api.NewError(http.StatusBadRequest, err.Error()),
				Result:  map[string]string{"errorCode": string(rk)},
			})
			return
		}
		api.WriteError(w, http.StatusBadRequest, err)
		return
	}

	claimant := r.Header.Get(ClaimantAddressHeader)
	jobID := s.coordinator.NewJobID()
	blobKey := store.TapeBlobKey(jobID)
	if err := s.blob.Put(r.Context(), blobKey, "application/octet-stream", raw); err != nil {
		api.WriteError(w, http.StatusInternalServerError, err)
		return
	}

	tapeInfo := model.TapeInfo{SizeBytes: int64(len(raw)), BlobKey: blobKey, Metadata: meta}
	res := s.coordinator.CreateJob(r.Context(), jobID, tapeInfo, claimant)
	switch res.Outcome {
	case coordinator.CreateAccepted:
		api.WriteJSON(w, http.StatusAccepted, api.Response{
			Success: true,
			Result: map[string]interface{}{
				"statusUrl": "/api/proofs/jobs/" + res.Record.JobID,
				"job":       publicView(res.Record),
			},
		})
	case coordinator.CreateRejected:
		api.WriteJSON(w, http.StatusConflict, api.Response{
			Success: false,
			Error:   api.NewError(http.StatusConflict, "a proof job is already active"),
			Result:  map[string]interface{}{"activeJob": publicView(res.ActiveJob)},
		})
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	s.coordinator.KickAlarm(r.Context(), jobID)

	rec, ok := s.coordinator.GetJob(r.Context(), jobID)
	if !ok {
		api.WriteError(w, http.StatusNotFound, api.ErrNotFound)
		return
	}
	api.WriteSuccess(w, publicView(rec))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if _, ok := s.coordinator.GetJob(r.Context(), jobID); !ok {
		api.WriteError(w, http.StatusNotFound, api.ErrNotFound)
		return
	}
	s.coordinator.Cancel(r.Context(), jobID)
	api.WriteSuccess(w, map[string]string{"status": "cancelled"})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	rec, ok := s.coordinator.GetJob(r.Context(), jobID)
	if !ok {
		api.WriteError(w, http.StatusNotFound, api.ErrNotFound)
		return
	}
	if rec.Status != model.StatusSucceeded || rec.Result == nil {
		api.WriteError(w, http.StatusConflict, api.NewHTTPError(http.StatusConflict, "job has not succeeded"))
		return
	}
	raw, present, err := s.blob.Get(r.Context(), rec.Result.ArtifactKey)
	if err != nil || !present {
		api.WriteError(w, http.StatusNotFound, api.ErrNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		api.WriteSuccess(w, map[string]interface{}{"healthy": true})
		return
	}
	report, err := s.health.HealthCheck(r.Context())
	if err != nil {
		api.WriteJSON(w, http.StatusServiceUnavailable, api.Response{
			Success: false,
			Error:   api.NewError(http.StatusServiceUnavailable, err.Error()),
			Result:  report,
		})
		return
	}
	api.WriteSuccess(w, report)
}

// publicView strips nothing today but exists as the single seam where
// internal-only fields would be redacted before leaving the process.
func publicView(rec *model.ProofJobRecord) *model.ProofJobRecord {
	return rec
}

