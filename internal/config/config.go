// Package config assembles the gateway's runtime configuration from its
// environment, following the teacher's config.Builder pattern: each field
// gets a sane default, a parse step collects every malformed value instead
// of failing on the first one, and FromEnv returns them joined.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/luxfi/proofgw/internal/claim"
	"github.com/luxfi/proofgw/internal/coordinator"
	"github.com/luxfi/proofgw/internal/prover"
)

// Config is the fully resolved, validated gateway configuration.
type Config struct {
	ListenAddr   string
	DataDir      string
	MaxTapeBytes int64

	Prover      prover.Config
	Relay       claim.RelayConfig
	Coordinator coordinator.Config

	ProofQueueVisibility time.Duration
	ProofQueueMaxRetries int
	ClaimQueueVisibility time.Duration
	ClaimQueueMaxRetries int

	MetricsNamespace string
}

type builder struct {
	cfg  Config
	errs []error
}

// FromEnv reads PROOFGW_* environment variables into a Config, applying
// defaults for anything unset and collecting every parse/validation error
// before returning.
func FromEnv() (Config, error) {
	b := &builder{cfg: defaults()}

	b.cfg.ListenAddr = getString("PROOFGW_LISTEN_ADDR", b.cfg.ListenAddr)
	b.cfg.DataDir = getString("PROOFGW_DATA_DIR", b.cfg.DataDir)
	b.cfg.MaxTapeBytes = b.int64Env("PROOFGW_MAX_TAPE_BYTES", b.cfg.MaxTapeBytes)

	b.cfg.Prover.BaseURL = getString("PROOFGW_PROVER_BASE_URL", b.cfg.Prover.BaseURL)
	b.cfg.Prover.APIKey = getString("PROOFGW_PROVER_API_KEY", b.cfg.Prover.APIKey)
	b.cfg.Prover.AccessTokenKey = getString("PROOFGW_PROVER_ACCESS_TOKEN_KEY", b.cfg.Prover.AccessTokenKey)
	b.cfg.Prover.AccessTokenVal = getString("PROOFGW_PROVER_ACCESS_TOKEN_VAL", b.cfg.Prover.AccessTokenVal)
	b.cfg.Prover.ReceiptKind = getString("PROOFGW_RECEIPT_KIND", b.cfg.Prover.ReceiptKind)
	b.cfg.Prover.RequestTimeout = b.durationEnv("PROOFGW_PROVER_REQUEST_TIMEOUT", b.cfg.Prover.RequestTimeout)
	b.cfg.Prover.SegmentLimitPo2 = uint32(b.uintEnv("PROOFGW_SEGMENT_LIMIT_PO2", uint64(b.cfg.Prover.SegmentLimitPo2)))
	b.cfg.Prover.MaxFrames = uint32(b.uintEnv("PROOFGW_MAX_FRAMES", uint64(b.cfg.Prover.MaxFrames)))
	b.cfg.Prover.VerifyReceipt = b.boolEnv("PROOFGW_VERIFY_RECEIPT", b.cfg.Prover.VerifyReceipt)
	b.cfg.Prover.ExpectedImageID = getString("PROOFGW_EXPECTED_IMAGE_ID", b.cfg.Prover.ExpectedImageID)
	b.cfg.Prover.HealthCacheTTL = b.durationEnv("PROOFGW_PROVER_HEALTH_CACHE_TTL", b.cfg.Prover.HealthCacheTTL)

	b.cfg.Relay.Endpoint = getString("PROOFGW_RELAY_ENDPOINT", b.cfg.Relay.Endpoint)
	b.cfg.Relay.AuthHeaderKey = getString("PROOFGW_RELAY_AUTH_HEADER_KEY", b.cfg.Relay.AuthHeaderKey)
	b.cfg.Relay.AuthHeaderVal = getString("PROOFGW_RELAY_AUTH_HEADER_VAL", b.cfg.Relay.AuthHeaderVal)
	b.cfg.Relay.RequestTimeout = b.durationEnv("PROOFGW_RELAY_REQUEST_TIMEOUT", b.cfg.Relay.RequestTimeout)

	b.cfg.Coordinator.MaxJobWallTime = b.durationEnv("PROOFGW_MAX_JOB_WALL_TIME", b.cfg.Coordinator.MaxJobWallTime)
	b.cfg.Coordinator.PollInterval = b.durationEnv("PROOFGW_POLL_INTERVAL", b.cfg.Coordinator.PollInterval)
	b.cfg.Coordinator.PollBudget = b.durationEnv("PROOFGW_POLL_BUDGET", b.cfg.Coordinator.PollBudget)
	b.cfg.Coordinator.MaxRetryDelay = b.durationEnv("PROOFGW_MAX_RETRY_DELAY", b.cfg.Coordinator.MaxRetryDelay)
	b.cfg.Coordinator.MaxQueueRetries = int(b.uintEnv("PROOFGW_MAX_QUEUE_RETRIES", uint64(b.cfg.Coordinator.MaxQueueRetries)))
	b.cfg.Coordinator.MaxProverRecoveryAttempts = int(b.uintEnv("PROOFGW_MAX_PROVER_RECOVERY_ATTEMPTS", uint64(b.cfg.Coordinator.MaxProverRecoveryAttempts)))
	b.cfg.Coordinator.CompletedJobRetention = b.durationEnv("PROOFGW_COMPLETED_JOB_RETENTION", b.cfg.Coordinator.CompletedJobRetention)
	b.cfg.Coordinator.MaxCompletedJobs = int(b.uintEnv("PROOFGW_MAX_COMPLETED_JOBS", uint64(b.cfg.Coordinator.MaxCompletedJobs)))
	b.cfg.Coordinator.FallbackSegmentLimitPo2 = uint32(b.uintEnv("PROOFGW_FALLBACK_SEGMENT_LIMIT_PO2", uint64(b.cfg.Coordinator.FallbackSegmentLimitPo2)))

	b.cfg.ProofQueueVisibility = b.durationEnv("PROOFGW_PROOF_QUEUE_VISIBILITY", b.cfg.ProofQueueVisibility)
	b.cfg.ProofQueueMaxRetries = int(b.uintEnv("PROOFGW_PROOF_QUEUE_MAX_RETRIES", uint64(b.cfg.ProofQueueMaxRetries)))
	b.cfg.ClaimQueueVisibility = b.durationEnv("PROOFGW_CLAIM_QUEUE_VISIBILITY", b.cfg.ClaimQueueVisibility)
	b.cfg.ClaimQueueMaxRetries = int(b.uintEnv("PROOFGW_CLAIM_QUEUE_MAX_RETRIES", uint64(b.cfg.ClaimQueueMaxRetries)))

	b.cfg.MetricsNamespace = getString("PROOFGW_METRICS_NAMESPACE", b.cfg.MetricsNamespace)

	if err := b.validate(); err != nil {
		return Config{}, err
	}
	return b.cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddr:   ":8080",
		DataDir:      "./data",
		MaxTapeBytes: 2 * 1024 * 1024,
		Prover: prover.Config{
			ReceiptKind:     "groth16",
			SegmentLimitPo2: 20,
			MaxFrames:       0,
			VerifyReceipt:   true,
		},
		Coordinator: coordinator.Config{
			MaxJobWallTime:            11 * time.Minute,
			PollInterval:              3 * time.Second,
			PollBudget:                45 * time.Second,
			MaxRetryDelay:             30 * time.Second,
			MaxQueueRetries:           5,
			MaxProverRecoveryAttempts: 3,
			CompletedJobRetention:     24 * time.Hour,
			MaxCompletedJobs:          200,
			FallbackSegmentLimitPo2:   12,
		},
		ProofQueueVisibility: 60 * time.Second,
		ProofQueueMaxRetries: 5,
		ClaimQueueVisibility: 60 * time.Second,
		ClaimQueueMaxRetries: 5,
		MetricsNamespace:     "proofgw",
	}
}

func getString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func (b *builder) durationEnv(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("%s: invalid duration %q: %w", key, v, err))
		return fallback
	}
	return d
}

func (b *builder) int64Env(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("%s: invalid integer %q: %w", key, v, err))
		return fallback
	}
	return n
}

func (b *builder) uintEnv(key string, fallback uint64) uint64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, v, err))
		return fallback
	}
	return n
}

func (b *builder) boolEnv(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("%s: invalid boolean %q: %w", key, v, err))
		return fallback
	}
	return parsed
}

// validate checks cross-field invariants and returns every collected parse
// error plus any validation error, joined.
func (b *builder) validate() error {
	if b.cfg.MaxTapeBytes <= 0 {
		b.errs = append(b.errs, fmt.Errorf("PROOFGW_MAX_TAPE_BYTES must be positive, got %d", b.cfg.MaxTapeBytes))
	}
	if strings.TrimSpace(b.cfg.Prover.BaseURL) == "" {
		b.errs = append(b.errs, fmt.Errorf("PROOFGW_PROVER_BASE_URL is required"))
	}
	if strings.TrimSpace(b.cfg.Relay.Endpoint) == "" {
		b.errs = append(b.errs, fmt.Errorf("PROOFGW_RELAY_ENDPOINT is required"))
	}
	if b.cfg.Coordinator.PollInterval <= 0 {
		b.errs = append(b.errs, fmt.Errorf("PROOFGW_POLL_INTERVAL must be positive"))
	}
	if b.cfg.Coordinator.MaxJobWallTime <= b.cfg.Coordinator.PollInterval {
		b.errs = append(b.errs, fmt.Errorf("PROOFGW_MAX_JOB_WALL_TIME must exceed PROOFGW_POLL_INTERVAL"))
	}
	if len(b.errs) > 0 {
		return joinErrors(b.errs)
	}
	return nil
}

func joinErrors(errs []error) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("config: %d invalid setting(s): %s", len(errs), strings.Join(msgs, "; "))
}
