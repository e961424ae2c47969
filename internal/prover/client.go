// Package prover is the typed HTTP surface over the external zkVM prover
// (spec §4.3). Every operation returns a discriminated result type
// (result.go); callers never shape-sniff a raw response.
package prover

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"

	"github.com/luxfi/log"
	"github.com/luxfi/proofgw/internal/journal"
	"github.com/luxfi/proofgw/internal/model"
	"github.com/luxfi/proofgw/internal/retry"
)

// Config configures a Client.
type Config struct {
	BaseURL         string
	APIKey          string
	AccessTokenKey  string
	AccessTokenVal  string
	RequestTimeout  time.Duration
	ReceiptKind     string
	SegmentLimitPo2 uint32
	MaxFrames       uint32
	VerifyReceipt   bool
	ExpectedImageID string // empty means "don't pin"
	HealthCacheTTL  time.Duration
	// RetryableErrorCodes are prover error_code values that map a failed
	// poll to Retry(clearProverJob=true) instead of Fatal (spec §4.3).
	RetryableErrorCodes map[string]bool
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.HealthCacheTTL == 0 {
		c.HealthCacheTTL = 30 * time.Second
	}
	if c.ReceiptKind == "" {
		c.ReceiptKind = "groth16"
	}
	if c.SegmentLimitPo2 == 0 {
		c.SegmentLimitPo2 = 20
	}
	if c.RetryableErrorCodes == nil {
		c.RetryableErrorCodes = map[string]bool{
			"prover_restarted": true,
			"worker_lost":      true,
			"queue_timeout":    true,
		}
	}
	return c
}

// Client is the typed prover HTTP surface.
type Client struct {
	cfg    Config
	http   *http.Client
	log    log.Logger
	health *healthCache
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config, logger log.Logger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		log:    logger,
		health: newHealthCache(cfg.HealthCacheTTL),
	}
}

func (c *Client) healthCacheKey() string {
	return c.cfg.BaseURL + "|" + c.cfg.ExpectedImageID
}

func (c *Client) setAuth(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}
	if c.cfg.AccessTokenKey != "" && c.cfg.AccessTokenVal != "" {
		req.Header.Set(c.cfg.AccessTokenKey, c.cfg.AccessTokenVal)
	}
}

// do issues req, retrying connection-level failures (resets, DNS hiccups)
// within the request's own timeout budget via a jitter-free exponential
// backoff. HTTP responses, even error statuses, are returned as-is and
// left to the caller's Retry/Fatal classification — only errors that
// never reached the server are retried here.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var resp *http.Response
	op := func() error {
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(err)
			}
			req.Body = body
		}
		r, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			if req.Body != nil && req.GetBody == nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, retry.HTTPBackOff(ctx, c.cfg.RequestTimeout)); err != nil {
		return nil, err
	}
	return resp, nil
}

// HealthCheck fetches /health, validates the image/rules-digest
// compatibility gate, and caches the result for HealthCacheTTL (spec
// §4.3).
func (c *Client) HealthCheck(ctx context.Context) (ValidatedHealth, *HealthError) {
	now := time.Now()
	if v, err, ok := c.health.get(c.healthCacheKey(), now); ok {
		return v, err
	}

	v, herr := c.fetchHealth(ctx)
	c.health.set(c.healthCacheKey(), now, v, herr)
	return v, herr
}

func (c *Client) fetchHealth(ctx context.Context) (ValidatedHealth, *HealthError) {
	u, err := url.JoinPath(c.cfg.BaseURL, "/health")
	if err != nil {
		return ValidatedHealth{}, &HealthError{Retryable: false, Msg: "prover health check failed: bad base url"}
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return ValidatedHealth{}, &HealthError{Retryable: false, Msg: "prover health check failed: building request"}
	}
	c.setAuth(req)

	resp, err := c.do(ctx, req)
	if err != nil {
		return ValidatedHealth{}, &HealthError{Retryable: true, Msg: fmt.Sprintf("prover health check failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return ValidatedHealth{}, &HealthError{Retryable: true, Msg: fmt.Sprintf("prover health check failed: status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return ValidatedHealth{}, &HealthError{Retryable: false, Msg: fmt.Sprintf("prover health check failed: status %d", resp.StatusCode)}
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ValidatedHealth{}, &HealthError{Retryable: true, Msg: "prover health check failed: malformed body"}
	}

	raw, err := hex.DecodeString(body.ImageID)
	if err != nil || len(raw) != 32 {
		return ValidatedHealth{}, &HealthError{Retryable: false, Msg: "prover health check failed: image_id is not 32-byte hex"}
	}

	if body.RulesDigest != journal.ExpectedRulesDigest {
		return ValidatedHealth{}, &HealthError{Retryable: false, Msg: "prover health check failed: rules_digest mismatch"}
	}

	if c.cfg.ExpectedImageID != "" && body.ImageID != c.cfg.ExpectedImageID {
		return ValidatedHealth{}, &HealthError{Retryable: false, Msg: "prover health check failed: image_id mismatch"}
	}

	c.log.Debug("prover health check ok", "imageId", body.ImageID, "rulesDigest", body.RulesDigest)
	return ValidatedHealth{
		ImageID:     body.ImageID,
		RulesDigest: body.RulesDigest,
		Ruleset:     body.Ruleset,
		Compatible:  true,
	}, nil
}

// SubmitTape submits the raw tape bytes for proving. Always preceded by a
// HealthCheck; a health failure maps straight to Retry/Fatal per its
// retryable flag without making the submit request (spec §4.3).
func (c *Client) SubmitTape(ctx context.Context, tapeBytes []byte, segmentLimitPo2 uint32) SubmitResult {
	if _, herr := c.HealthCheck(ctx); herr != nil {
		if herr.Retryable {
			return SubmitResult{Kind: SubmitRetry, Reason: herr.Msg}
		}
		return SubmitResult{Kind: SubmitFatal, Reason: herr.Msg}
	}

	if segmentLimitPo2 == 0 {
		segmentLimitPo2 = c.cfg.SegmentLimitPo2
	}

	q := url.Values{}
	q.Set("receipt_kind", c.cfg.ReceiptKind)
	q.Set("segment_limit_po2", strconv.FormatUint(uint64(segmentLimitPo2), 10))
	if c.cfg.MaxFrames > 0 {
		q.Set("max_frames", strconv.FormatUint(uint64(c.cfg.MaxFrames), 10))
	}
	q.Set("verify_receipt", strconv.FormatBool(c.cfg.VerifyReceipt))

	u := c.cfg.BaseURL + "/api/jobs/prove-tape/raw?" + q.Encode()
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(tapeBytes))
	if err != nil {
		return SubmitResult{Kind: SubmitRetry, Reason: "building submit request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	c.setAuth(req)

	resp, err := c.do(ctx, req)
	if err != nil {
		return SubmitResult{Kind: SubmitRetry, Reason: "submit request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK:
		var body submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || !body.Success || body.JobID == "" {
			return SubmitResult{Kind: SubmitRetry, Reason: "submit response malformed"}
		}
		return SubmitResult{
			Kind:            SubmitAccepted,
			ProverJobID:     body.JobID,
			StatusURL:       body.StatusURL,
			SegmentLimitPo2: segmentLimitPo2,
		}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return SubmitResult{Kind: SubmitRetry, Reason: fmt.Sprintf("submit status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound:
		return SubmitResult{Kind: SubmitFatal, Reason: "submit endpoint not found"}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return SubmitResult{Kind: SubmitFatal, Reason: fmt.Sprintf("submit status %d: %s", resp.StatusCode, string(msg))}
	}
}

// PollOnce performs a single status check against the prover (spec §4.3).
func (c *Client) PollOnce(ctx context.Context, proverJobID string) PollResult {
	u := c.cfg.BaseURL + "/api/jobs/" + url.PathEscape(proverJobID)
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return PollResult{Kind: PollRetry, Msg: "building poll request: " + err.Error()}
	}
	c.setAuth(req)

	resp, err := c.do(ctx, req)
	if err != nil {
		return PollResult{Kind: PollRetry, Msg: "poll request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return PollResult{Kind: PollRetry, Msg: "prover lost the job", ClearProverJob: true}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return PollResult{Kind: PollRetry, Msg: fmt.Sprintf("poll status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return PollResult{Kind: PollFatal, Msg: fmt.Sprintf("poll status %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return PollResult{Kind: PollRetry, Msg: "poll response malformed"}
	}
	var body jobStatusResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return PollResult{Kind: PollRetry, Msg: "poll response malformed"}
	}

	switch model.ProverJobStatus(body.Status) {
	case model.ProverStatusQueued, model.ProverStatusRunning:
		return PollResult{Kind: PollRunning, ProverStatus: model.ProverJobStatus(body.Status)}
	case model.ProverStatusSucceeded:
		if !body.complete() {
			return PollResult{Kind: PollRetry, Msg: "success response incomplete", ClearProverJob: true}
		}
		var asMap map[string]interface{}
		if err := json.Unmarshal(raw, &asMap); err != nil {
			return PollResult{Kind: PollRetry, Msg: "decoding success response failed", ClearProverJob: true}
		}
		return PollResult{Kind: PollSuccess, ProverStatus: model.ProverStatusSucceeded, SuccessResponse: asMap}
	case model.ProverJobStatus("failed"):
		if c.cfg.RetryableErrorCodes[body.ErrorCode] {
			return PollResult{Kind: PollRetry, Msg: body.Error, ClearProverJob: true}
		}
		return PollResult{Kind: PollFatal, Msg: body.Error}
	default:
		return PollResult{Kind: PollFatal, Msg: "unknown prover status: " + body.Status}
	}
}

// PollBounded runs repeated PollOnce calls, sleeping interval between
// attempts, until a terminal result is reached or the wall-clock budget
// is exhausted (in which case it returns Running without making another
// call past the deadline). A zero budget returns Running immediately
// without any HTTP call (spec §8 boundary case).
func (c *Client) PollBounded(ctx context.Context, proverJobID string, budget, interval time.Duration) PollResult {
	deadline := time.Now().Add(budget)
	if budget <= 0 {
		return PollResult{Kind: PollRunning}
	}

	for {
		result := c.PollOnce(ctx, proverJobID)
		if result.Kind != PollRunning {
			return result
		}
		if time.Now().After(deadline) {
			return result
		}
		remaining := time.Until(deadline)
		sleep := interval
		if remaining < sleep {
			sleep = remaining
		}
		if sleep <= 0 {
			return result
		}
		select {
		case <-ctx.Done():
			return PollResult{Kind: PollRunning}
		case <-time.After(sleep):
		}
		if time.Now().After(deadline) {
			return result
		}
	}
}

// Summarize validates and extracts a ResultSummary from a successful
// prover response, enforcing the rules-digest gate (spec §4.3/invariant
// 4).
func (c *Client) Summarize(successResponse map[string]interface{}) (model.ResultSummary, error) {
	raw, err := json.Marshal(successResponse)
	if err != nil {
		return model.ResultSummary{}, errors.Wrap(err, "prover: re-marshaling success response")
	}
	var body jobStatusResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return model.ResultSummary{}, errors.Wrap(err, "prover: decoding success response")
	}
	if !body.complete() {
		return model.ResultSummary{}, errors.New("prover: success response incomplete")
	}

	j, err := decodeJournal(body.Result.Proof.Journal)
	if err != nil {
		return model.ResultSummary{}, errors.Wrap(err, "prover: decoding journal")
	}
	if j.RulesDigest != journal.ExpectedRulesDigest {
		return model.ResultSummary{}, errors.Newf("prover: rules_digest mismatch: got 0x%x want 0x%x", j.RulesDigest, journal.ExpectedRulesDigest)
	}

	return model.ResultSummary{
		ElapsedMs:            body.Result.ElapsedMs,
		RequestedReceiptKind: body.Result.Proof.RequestedReceiptKind,
		ProducedReceiptKind:  body.Result.Proof.ProducedReceiptKind,
		Journal:              j,
		Stats: model.Stats{
			Segments:       body.Result.Proof.Stats.Segments,
			TotalCycles:    body.Result.Proof.Stats.TotalCycles,
			UserCycles:     body.Result.Proof.Stats.UserCycles,
			PagingCycles:   body.Result.Proof.Stats.PagingCycles,
			ReservedCycles: body.Result.Proof.Stats.ReservedCycles,
		},
	}, nil
}

func decodeJournal(m map[string]interface{}) (model.Journal, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return model.Journal{}, err
	}
	var j model.Journal
	if err := json.Unmarshal(raw, &j); err != nil {
		return model.Journal{}, err
	}
	return j, nil
}
