// Command gateway runs the proof gateway HTTP server: it accepts tapes,
// drives them through the prover, and relays successful proofs on-chain.
// Configuration is entirely environment-driven: internal/config's FromEnv
// reads the PROOFGW_* variables and their defaults.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	loggerpkg "github.com/luxfi/proofgw/log"

	"github.com/luxfi/proofgw/api/health"
	"github.com/luxfi/proofgw/internal/claim"
	"github.com/luxfi/proofgw/internal/config"
	"github.com/luxfi/proofgw/internal/coordinator"
	"github.com/luxfi/proofgw/internal/httpapi"
	"github.com/luxfi/proofgw/internal/metrics"
	"github.com/luxfi/proofgw/internal/prover"
	"github.com/luxfi/proofgw/internal/queue"
	"github.com/luxfi/proofgw/internal/store"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("gateway: loading configuration: %v", err)
	}

	logger := loggerpkg.NewNoOpLogger()

	kv, err := store.OpenPebbleKV(filepath.Join(cfg.DataDir, "jobs"))
	if err != nil {
		log.Fatalf("gateway: opening job store: %v", err)
	}
	defer kv.Close()

	blob, err := store.NewFSBlob(filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		log.Fatalf("gateway: opening blob store: %v", err)
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.New(cfg.MetricsNamespace, registry)
	if err != nil {
		log.Fatalf("gateway: registering metrics: %v", err)
	}

	proverClient := prover.NewClient(cfg.Prover, logger)
	relayClient := claim.NewRelayClient(cfg.Relay)

	proofDLQ := queue.New(cfg.ProofQueueVisibility, 0, nil)
	claimDLQ := queue.New(cfg.ClaimQueueVisibility, 0, nil)
	proofQ := queue.New(cfg.ProofQueueVisibility, cfg.ProofQueueMaxRetries, proofDLQ)
	claimQ := queue.New(cfg.ClaimQueueVisibility, cfg.ClaimQueueMaxRetries, claimDLQ)

	coord := coordinator.New(kv, blob, proverClient, proofQ, claimQ, m, logger, cfg.Coordinator, nil, nil)

	proofConsumer := queue.NewProofConsumer(proofQ, coord, blob, proverClient, logger, cfg.Coordinator.MaxJobWallTime)
	proofDeadLetter := queue.NewProofDeadLetterConsumer(proofDLQ, coord, logger)
	claimConsumer := claim.NewConsumer(claimQ, coord, blob, relayClient, cfg.ClaimQueueMaxRetries, logger)
	claimDeadLetter := queue.NewClaimDeadLetterConsumer(claimDLQ, coord, logger)

	mux := http.NewServeMux()
	httpapi.New(mux, coord, blob, &gatewayHealth{prover: proverClient, kv: kv}, logger, httpapi.Config{MaxTapeBytes: cfg.MaxTapeBytes})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  90 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go coord.Run(ctx)
	go proofConsumer.Run(ctx, 200*time.Millisecond)
	go proofDeadLetter.Run(ctx, time.Second)
	go claimConsumer.Run(ctx, 200*time.Millisecond)
	go claimDeadLetter.Run(ctx, time.Second)
	go reportQueueDepth(ctx, m, proofQ)

	go func() {
		log.Printf("gateway: listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gateway: server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("gateway: shutting down")
	coord.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("gateway: graceful shutdown failed: %v", err)
	}
}

// reportQueueDepth periodically publishes the proof queue's depth so
// operators can see backlog growth before it turns into wall-time
// failures.
func reportQueueDepth(ctx context.Context, m *metrics.Metrics, q *queue.Queue) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.QueueDepth.Set(float64(q.Len()))
		}
	}
}

// gatewayHealth aggregates prover reachability and job-store liveness
// into the api/health.Report shape the teacher's handlers already know
// how to serialize.
type gatewayHealth struct {
	prover *prover.Client
	kv     *store.PebbleKV
}

func (h *gatewayHealth) HealthCheck(ctx context.Context) (interface{}, error) {
	start := time.Now()
	checks := make([]health.Check, 0, 2)
	healthy := true

	checkStart := time.Now()
	if _, herr := h.prover.HealthCheck(ctx); herr != nil {
		healthy = false
		checks = append(checks, health.Check{Name: "prover", Healthy: false, Error: herr.Msg, Duration: time.Since(checkStart)})
	} else {
		checks = append(checks, health.Check{Name: "prover", Healthy: true, Duration: time.Since(checkStart)})
	}

	checkStart = time.Now()
	if _, _, err := h.kv.Get(ctx, "active_job_id"); err != nil {
		healthy = false
		checks = append(checks, health.Check{Name: "job_store", Healthy: false, Error: err.Error(), Duration: time.Since(checkStart)})
	} else {
		checks = append(checks, health.Check{Name: "job_store", Healthy: true, Duration: time.Since(checkStart)})
	}

	report := health.Report{Healthy: healthy, Checks: checks, Duration: time.Since(start)}
	if !healthy {
		return report, errUnhealthy
	}
	return report, nil
}

var errUnhealthy = errors.New("gateway: one or more health checks failed")
