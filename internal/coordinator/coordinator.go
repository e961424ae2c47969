// Package coordinator is the single-writer durable state machine that
// owns one active proof job at a time (spec §4.4). All mutation is
// serialized through a single actor goroutine — the Go-native reading of
// the teacher's single-owner-struct pattern (engine/chain/poll/set.go)
// and of spec §9's "timer-driven goroutine/task that re-enters the
// polling procedure under the actor's exclusive lock".
package coordinator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/luxfi/log"
	"github.com/luxfi/proofgw/internal/metrics"
	"github.com/luxfi/proofgw/internal/model"
	"github.com/luxfi/proofgw/internal/store"
)

const (
	activeJobKey  = "active_job_id"
	jobKeyPrefix  = "job:"
)

func jobKey(jobID string) string { return jobKeyPrefix + jobID }

// Coordinator is the actor. Construct with New and call Run in its own
// goroutine.
type Coordinator struct {
	kv         store.KV
	blob       store.Blob
	proverCli  Poller
	proofQ     Enqueuer
	claimQ     Enqueuer
	log        log.Logger
	metrics    *metrics.Metrics
	cfg        Config
	clock      func() time.Time
	newJobID   func() string

	cmds   chan func()
	stop   chan struct{}
	timers map[string]*time.Timer
}

// New constructs a Coordinator. clock and newJobID may be nil to use the
// real wall clock and a crypto/rand-based ID generator respectively;
// tests override them for determinism.
func New(
	kv store.KV,
	blob store.Blob,
	proverCli Poller,
	proofQ Enqueuer,
	claimQ Enqueuer,
	m *metrics.Metrics,
	logger log.Logger,
	cfg Config,
	clock func() time.Time,
	newJobID func() string,
) *Coordinator {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	if clock == nil {
		clock = time.Now
	}
	if newJobID == nil {
		newJobID = randomJobID
	}
	return &Coordinator{
		kv:       kv,
		blob:     blob,
		proverCli: proverCli,
		proofQ:   proofQ,
		claimQ:   claimQ,
		log:      logger,
		metrics:  m,
		cfg:      cfg.WithDefaults(),
		clock:    clock,
		newJobID: newJobID,
		cmds:     make(chan func()),
		stop:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}
}

func randomJobID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// Run executes the actor loop until ctx is cancelled or Stop is called.
// Callers typically run it in its own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		}
	}
}

// Stop ends the actor loop.
func (c *Coordinator) Stop() {
	close(c.stop)
}

// exec submits fn to the actor and blocks until it has run, guaranteeing
// serialized mutation (spec §4.4.3: "all mutations to a given record are
// serialized").
func (c *Coordinator) exec(fn func()) {
	done := make(chan struct{})
	c.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// --- persistence helpers (actor-goroutine only; no locking needed) ---

func (c *Coordinator) loadRecord(ctx context.Context, jobID string) (*model.ProofJobRecord, bool) {
	raw, ok, err := c.kv.Get(ctx, jobKey(jobID))
	if err != nil || !ok {
		return nil, false
	}
	var rec model.ProofJobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.log.Error("coordinator: corrupt job record", "jobId", jobID, "error", err)
		return nil, false
	}
	return &rec, true
}

func (c *Coordinator) saveRecord(ctx context.Context, rec *model.ProofJobRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "coordinator: marshaling record")
	}
	return c.kv.Put(ctx, jobKey(rec.JobID), raw)
}

func (c *Coordinator) loadActiveJobID(ctx context.Context) (string, bool) {
	raw, ok, err := c.kv.Get(ctx, activeJobKey)
	if err != nil || !ok || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

func (c *Coordinator) setActiveJobID(ctx context.Context, jobID string) error {
	return c.kv.Put(ctx, activeJobKey, []byte(jobID))
}

func (c *Coordinator) clearActiveJobID(ctx context.Context, jobID string) error {
	cur, ok := c.loadActiveJobID(ctx)
	if !ok || cur != jobID {
		return nil
	}
	return c.kv.Delete(ctx, activeJobKey)
}

func (c *Coordinator) touch(rec *model.ProofJobRecord) {
	rec.UpdatedAt = c.clock()
}

func (c *Coordinator) setActiveGauge(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	if _, ok := c.loadActiveJobID(ctx); ok {
		c.metrics.ActiveJobs.Set(1)
	} else {
		c.metrics.ActiveJobs.Set(0)
	}
}

// scheduleAlarm arms a one-shot timer that re-enters the actor via Alarm
// after d. Any previously armed timer for jobID is replaced. Must be
// called from within the actor.
func (c *Coordinator) scheduleAlarm(jobID string, d time.Duration) {
	c.cancelAlarm(jobID)
	c.timers[jobID] = time.AfterFunc(d, func() {
		c.exec(func() {
			c.onAlarm(context.Background(), jobID, true)
		})
	})
}

// cancelAlarm disarms jobID's timer, if any. Must be called from within
// the actor.
func (c *Coordinator) cancelAlarm(jobID string) {
	if t, ok := c.timers[jobID]; ok {
		t.Stop()
		delete(c.timers, jobID)
	}
}

// --- GetJob / GetActiveJob (read-only) ---

// GetJob returns a snapshot of jobID's record, if it exists.
func (c *Coordinator) GetJob(ctx context.Context, jobID string) (*model.ProofJobRecord, bool) {
	var rec *model.ProofJobRecord
	var ok bool
	c.exec(func() {
		rec, ok = c.loadRecord(ctx, jobID)
	})
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// GetActiveJob returns a snapshot of the record currently holding the
// active slot, if any.
func (c *Coordinator) GetActiveJob(ctx context.Context) (*model.ProofJobRecord, bool) {
	var rec *model.ProofJobRecord
	var ok bool
	c.exec(func() {
		id, has := c.loadActiveJobID(ctx)
		if !has {
			return
		}
		rec, ok = c.loadRecord(ctx, id)
	})
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// --- CreateJob ---

// NewJobID generates a fresh job identifier using the Coordinator's
// configured generator (crypto/rand by default). Callers that must write
// a tape blob keyed by jobId before the record exists — the HTTP surface
// — call this first and pass the result to CreateJob.
func (c *Coordinator) NewJobID() string {
	return c.newJobID()
}

// CreateJob admits a new tape as a fresh job under jobID (normally
// obtained from NewJobID), or rejects it if the active slot is held by a
// live non-terminal record (spec §4.4). A non-terminal record older than
// MaxJobWallTime is force-failed ("zombie recovery") before the new job
// is admitted.
func (c *Coordinator) CreateJob(ctx context.Context, jobID string, tape model.TapeInfo, claimantAddress string) CreateResult {
	var result CreateResult
	c.exec(func() {
		now := c.clock()

		if id, ok := c.loadActiveJobID(ctx); ok {
			active, exists := c.loadRecord(ctx, id)
			if exists && !active.Status.IsTerminal() {
				if active.Age(now) <= c.cfg.MaxJobWallTime {
					result = CreateResult{Outcome: CreateRejected, ActiveJob: active.Clone()}
					return
				}
				c.log.Info("coordinator: zombie recovery", "jobId", active.JobID, "age", active.Age(now))
				c.forceFail(ctx, active, "exceeded wall-time limit", now)
			}
		}

		if jobID == "" {
			jobID = c.newJobID()
		}
		rec := &model.ProofJobRecord{
			JobID:     jobID,
			Status:    model.StatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
			Tape:      tape,
			Claim: &model.ClaimState{
				ClaimantAddress: claimantAddress,
				Status:          model.ClaimStatusQueued,
			},
		}
		if err := c.saveRecord(ctx, rec); err != nil {
			c.log.Error("coordinator: saving new record failed", "jobId", jobID, "error", err)
			return
		}
		if err := c.setActiveJobID(ctx, jobID); err != nil {
			c.log.Error("coordinator: setting active slot failed", "jobId", jobID, "error", err)
			return
		}
		if c.metrics != nil {
			c.metrics.JobsCreated.Inc()
		}
		c.setActiveGauge(ctx)

		if err := c.proofQ.Enqueue(jobID); err != nil {
			c.log.Error("coordinator: enqueueing proof job failed", "jobId", jobID, "error", err)
		}

		result = CreateResult{Outcome: CreateAccepted, Record: rec.Clone()}
	})
	return result
}

// forceFail transitions a non-terminal rec to failed: it cancels the job's
// alarm, fails a claim that has not succeeded, saves the record, releases
// the active slot if rec holds it, and prunes. Used by zombie recovery and
// by markFailed.
func (c *Coordinator) forceFail(ctx context.Context, rec *model.ProofJobRecord, reason string, now time.Time) {
	if rec.Status.IsTerminal() {
		return
	}
	c.cancelAlarm(rec.JobID)
	rec.Status = model.StatusFailed
	rec.Error = reason
	rec.UpdatedAt = now
	t := now
	rec.CompletedAt = &t
	if rec.Claim != nil && rec.Claim.Status != model.ClaimStatusSucceeded {
		rec.Claim.Status = model.ClaimStatusFailed
		rec.Claim.LastError = fmt.Sprintf("proof job failed: %s", reason)
	}
	if err := c.saveRecord(ctx, rec); err != nil {
		c.log.Error("coordinator: saving force-failed record failed", "jobId", rec.JobID, "error", err)
	}
	if err := c.clearActiveJobID(ctx, rec.JobID); err != nil {
		c.log.Error("coordinator: clearing active slot failed", "jobId", rec.JobID, "error", err)
	}
	if c.metrics != nil {
		c.metrics.JobsFailed.Inc()
	}
	c.setActiveGauge(ctx)
	c.prune(ctx, now)
}

// prune implements the retention policy (spec §4.4.2). It must be called
// from within the actor (exec'd context).
func (c *Coordinator) prune(ctx context.Context, now time.Time) {
	items, _, err := c.kv.ScanPrefix(ctx, jobKeyPrefix, "", 0)
	if err != nil {
		c.log.Error("coordinator: prune scan failed", "error", err)
		return
	}

	type terminalRec struct {
		rec        *model.ProofJobRecord
		terminalAt time.Time
	}
	var terminals []terminalRec
	for _, item := range items {
		var rec model.ProofJobRecord
		if err := json.Unmarshal(item.Value, &rec); err != nil {
			continue
		}
		if !rec.Status.IsTerminal() {
			continue
		}
		terminalAt := rec.UpdatedAt
		if rec.CreatedAt.After(terminalAt) {
			terminalAt = rec.CreatedAt
		}
		if rec.CompletedAt != nil && rec.CompletedAt.After(terminalAt) {
			terminalAt = *rec.CompletedAt
		}
		terminals = append(terminals, terminalRec{rec: &rec, terminalAt: terminalAt})
	}

	sort.Slice(terminals, func(i, j int) bool {
		return terminals[i].terminalAt.Before(terminals[j].terminalAt)
	})

	keepFrom := len(terminals) - c.cfg.MaxCompletedJobs
	for i, t := range terminals {
		byAge := now.Sub(t.terminalAt) > c.cfg.CompletedJobRetention
		byCount := i < keepFrom
		if !byAge && !byCount {
			continue
		}
		if err := c.kv.Delete(ctx, jobKey(t.rec.JobID)); err != nil {
			c.log.Error("coordinator: prune delete record failed", "jobId", t.rec.JobID, "error", err)
			continue
		}
		if err := c.blob.Delete(ctx, store.TapeBlobKey(t.rec.JobID)); err != nil {
			c.log.Error("coordinator: prune delete tape blob failed", "jobId", t.rec.JobID, "error", err)
		}
	}
}
