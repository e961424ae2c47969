package prover

// Wire-level DTOs for the external prover's documented HTTP contract
// (spec §6). These are decoded once at the transport boundary; callers of
// Client never shape-sniff a response — they receive the discriminated
// SubmitResult/PollResult types in result.go instead.

type healthResponse struct {
	ImageID     string `json:"image_id"`
	RulesDigest uint32 `json:"rules_digest"`
	Ruleset     string `json:"ruleset"`
}

type submitResponse struct {
	Success   bool   `json:"success"`
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

type jobStatusResponse struct {
	Success   bool           `json:"success"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Result    *jobResultBody `json:"result,omitempty"`
}

type jobResultBody struct {
	ElapsedMs int64      `json:"elapsed_ms"`
	Proof     *proofBody `json:"proof,omitempty"`
}

type proofBody struct {
	Journal              map[string]interface{} `json:"journal"`
	Receipt              map[string]interface{} `json:"receipt"`
	RequestedReceiptKind string                 `json:"requested_receipt_kind"`
	ProducedReceiptKind  *string                `json:"produced_receipt_kind,omitempty"`
	Stats                statsBody              `json:"stats"`
}

type statsBody struct {
	Segments       uint32 `json:"segments"`
	TotalCycles    uint64 `json:"total_cycles"`
	UserCycles     uint64 `json:"user_cycles"`
	PagingCycles   uint64 `json:"paging_cycles"`
	ReservedCycles uint64 `json:"reserved_cycles"`
}

// complete reports whether a "succeeded" job response carries everything
// summarize() needs. An incomplete payload is treated as prover-loss
// (spec §4.3's pollOnce contract).
func (r *jobStatusResponse) complete() bool {
	return r.Result != nil &&
		r.Result.Proof != nil &&
		r.Result.Proof.Journal != nil &&
		r.Result.Proof.Receipt != nil
}
