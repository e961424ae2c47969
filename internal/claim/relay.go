package claim

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// RelayConfig configures a RelayClient.
type RelayConfig struct {
	Endpoint       string
	AuthHeaderKey  string
	AuthHeaderVal  string
	RequestTimeout time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

// RelayClient calls the external settlement relay (spec §6).
type RelayClient struct {
	cfg RelayConfig
	hc  *http.Client
}

// NewRelayClient constructs a RelayClient.
func NewRelayClient(cfg RelayConfig) *RelayClient {
	cfg = cfg.withDefaults()
	return &RelayClient{cfg: cfg, hc: &http.Client{Timeout: cfg.RequestTimeout}}
}

type relayRequest struct {
	ClaimantAddress string `json:"claimantAddress"`
	Seal            string `json:"seal"`
	JournalRaw      string `json:"journalRaw"`
}

type relaySuccessResponse struct {
	TxHash string `json:"txHash"`
}

type relayErrorResponse struct {
	Error string `json:"error"`
}

// RelayOutcomeKind discriminates the result of a relay call.
type RelayOutcomeKind string

const (
	RelaySucceeded RelayOutcomeKind = "succeeded"
	RelayTransient RelayOutcomeKind = "transient"
	RelayFatal     RelayOutcomeKind = "fatal"
)

// RelayOutcome is the tagged result of Submit.
type RelayOutcome struct {
	Kind   RelayOutcomeKind
	TxHash string
	Reason string
}

// Submit calls the settlement relay with the claimant address, final
// seal, and packed journal, classifying any error per the documented
// transient/fatal substring matcher (spec §4.6, §9 — "the exact
// classification... is currently driven by substring matching... must
// preserve the current matcher's classifications exactly").
func (c *RelayClient) Submit(ctx context.Context, claimantAddress string, finalSeal, journalRaw []byte) RelayOutcome {
	body := relayRequest{
		ClaimantAddress: claimantAddress,
		Seal:            hex.EncodeToString(finalSeal),
		JournalRaw:      hex.EncodeToString(journalRaw),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return RelayOutcome{Kind: RelayFatal, Reason: errors.Wrap(err, "claim: marshaling relay request").Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(raw))
	if err != nil {
		return RelayOutcome{Kind: RelayFatal, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthHeaderKey != "" {
		req.Header.Set(c.cfg.AuthHeaderKey, c.cfg.AuthHeaderVal)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return classify(err.Error())
	}
	defer resp.Body.Close()

	var successBody relaySuccessResponse
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if jerr := json.NewDecoder(resp.Body).Decode(&successBody); jerr != nil {
			return RelayOutcome{Kind: RelayTransient, Reason: "relay success response decode failed: " + jerr.Error()}
		}
		return RelayOutcome{Kind: RelaySucceeded, TxHash: successBody.TxHash}
	}

	var errBody relayErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&errBody)
	reason := errBody.Error
	if reason == "" {
		reason = resp.Status
	}
	return classify(reason)
}

// transientSubstrings and fatalSubstrings implement the documented
// classification rule set exactly (spec §4.6). Fatal is checked first so
// a message matching both (unlikely, but the spec does not order them)
// resolves deterministically.
var fatalSubstrings = []string{
	"HostError: Error(Contract,",
	"missing trustline",
	"account not found",
}

var transientSubstrings = []string{
	"rpc request failed",
	"internal error; reference =",
	"SIMULATION_FAILED",
	"timeout",
	"network",
	"fetch",
}

func classify(reason string) RelayOutcome {
	for _, s := range fatalSubstrings {
		if strings.Contains(reason, s) {
			return RelayOutcome{Kind: RelayFatal, Reason: reason}
		}
	}
	for _, s := range transientSubstrings {
		if strings.Contains(reason, s) {
			return RelayOutcome{Kind: RelayTransient, Reason: reason}
		}
	}
	// Unrecognized errors default to fatal: an unclassified failure
	// should not retry indefinitely against an unresponsive contract.
	return RelayOutcome{Kind: RelayFatal, Reason: reason}
}
