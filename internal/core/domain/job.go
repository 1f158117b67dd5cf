package domain

import (
	"math"
	"time"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusCancelled  JobStatus = "cancelled"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusFailed:     {JobStatusRetrying},
	JobStatusRetrying:   {JobStatusProcessing},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition can leave s without an explicit
// retry. Failed counts as terminal until a caller retries it.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// SourcesFor lists every status from which next may be entered.
func SourcesFor(next JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{JobStatusQueued, JobStatusProcessing, JobStatusFailed, JobStatusRetrying} {
		if from.CanTransitionTo(next) {
			out = append(out, from)
		}
	}
	return out
}

// RetryConfig is the backoff policy a supervising scheduler applies between
// attempts of a failed job.
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialInterval   time.Duration `json:"initial_interval"`
	MaxInterval       time.Duration `json:"max_interval"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialInterval:   5 * time.Second,
		MaxInterval:       300 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Normalize fills zero fields from def and repairs inverted bounds.
func (c RetryConfig) Normalize(def RetryConfig) RetryConfig {
	out := c
	if out.MaxAttempts < 0 {
		out.MaxAttempts = 0
	}
	if out.InitialInterval <= 0 {
		out.InitialInterval = def.InitialInterval
	}
	if out.MaxInterval <= 0 {
		out.MaxInterval = def.MaxInterval
	}
	if out.MaxInterval < out.InitialInterval {
		out.MaxInterval = out.InitialInterval
	}
	if out.BackoffMultiplier < 1.0 {
		out.BackoffMultiplier = def.BackoffMultiplier
	}
	return out
}

// Backoff returns the delay before the given retry attempt (1-based),
// growing geometrically from InitialInterval and capped at MaxInterval.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return min(c.InitialInterval, c.MaxInterval)
	}
	delay := float64(c.InitialInterval) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	if delay >= float64(c.MaxInterval) || math.IsInf(delay, 1) {
		return c.MaxInterval
	}
	return time.Duration(delay)
}

// ProcessingJob tracks one enrichment run for one asset. The job references
// the asset but does not own it.
type ProcessingJob struct {
	ID                    string       `json:"job_id"`
	AssetID               string       `json:"asset_id"`
	WorkflowName          string       `json:"workflow_name"`
	Status                JobStatus    `json:"status"`
	ProgressPercentage    int          `json:"progress_percentage"`
	CapabilitiesCompleted []string     `json:"capabilities_completed"`
	CapabilitiesFailed    []string     `json:"capabilities_failed"`
	ErrorMessage          string       `json:"error_message,omitempty"`
	RetryCount            int          `json:"retry_count"`
	RetryConfig           *RetryConfig `json:"retry_config,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	StartedAt             *time.Time   `json:"started_at,omitempty"`
	CompletedAt           *time.Time   `json:"completed_at,omitempty"`
	EstimatedCompletion   *time.Time   `json:"estimated_completion,omitempty"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// JobTransition describes a compare-and-set state change. The store applies
// it only while the job is in one of From.
type JobTransition struct {
	JobID        string
	From         []JobStatus
	To           JobStatus
	Progress     *int
	ErrorMessage *string
	RetryCount   *int
	RetryConfig  *RetryConfig
	StartedAt    *time.Time
	CompletedAt  *time.Time
	// ResetCapabilities clears capability outcomes of an earlier attempt.
	ResetCapabilities bool
	At                time.Time
}

// JobProgress records capability outcomes while a job is processing.
type JobProgress struct {
	JobID                 string
	ProgressPercentage    int
	CapabilitiesCompleted []string
	CapabilitiesFailed    []string
	At                    time.Time
}

// RetryResult is returned by the retry boundary.
type RetryResult struct {
	JobID      string    `json:"job_id"`
	RetryCount int       `json:"retry_count"`
	Status     JobStatus `json:"status"`
}
