package coordinator

import "time"

// Config bounds the Coordinator's timing and retention policy (spec §5,
// §6, §4.4.2). Every field has the safe default named in spec §6.
type Config struct {
	MaxJobWallTime            time.Duration
	PollInterval              time.Duration
	PollBudget                time.Duration
	AbsolutePollDeadline      time.Duration
	MaxRetryDelay             time.Duration
	MaxQueueRetries           int
	MaxProverRecoveryAttempts int
	CompletedJobRetention     time.Duration
	MaxCompletedJobs          int
	FallbackSegmentLimitPo2   uint32
}

// WithDefaults fills any zero-valued field with spec §6's documented
// default.
func (c Config) WithDefaults() Config {
	if c.MaxJobWallTime == 0 {
		c.MaxJobWallTime = 11 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.PollBudget == 0 {
		c.PollBudget = 45 * time.Second
	}
	if c.AbsolutePollDeadline == 0 {
		c.AbsolutePollDeadline = 11 * time.Minute
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = 30 * time.Second
	}
	if c.MaxQueueRetries == 0 {
		c.MaxQueueRetries = 5
	}
	if c.MaxProverRecoveryAttempts == 0 {
		c.MaxProverRecoveryAttempts = 3
	}
	if c.CompletedJobRetention == 0 {
		c.CompletedJobRetention = 24 * time.Hour
	}
	if c.MaxCompletedJobs == 0 {
		c.MaxCompletedJobs = 200
	}
	if c.FallbackSegmentLimitPo2 == 0 {
		c.FallbackSegmentLimitPo2 = 12
	}
	return c
}
