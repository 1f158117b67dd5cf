package domain

import (
	"testing"
	"time"
)

func TestJobStatusTransitions(t *testing.T) {
	cases := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{JobStatusQueued, JobStatusProcessing, true},
		{JobStatusQueued, JobStatusCancelled, true},
		{JobStatusQueued, JobStatusCompleted, false},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusCancelled, true},
		{JobStatusProcessing, JobStatusRetrying, false},
		{JobStatusFailed, JobStatusRetrying, true},
		{JobStatusFailed, JobStatusProcessing, false},
		{JobStatusRetrying, JobStatusProcessing, true},
		{JobStatusRetrying, JobStatusCancelled, false},
		{JobStatusCompleted, JobStatusProcessing, false},
		{JobStatusCancelled, JobStatusQueued, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestSourcesFor(t *testing.T) {
	got := SourcesFor(JobStatusProcessing)
	if len(got) != 2 || got[0] != JobStatusQueued || got[1] != JobStatusRetrying {
		t.Fatalf("unexpected sources for processing: %v", got)
	}
	got = SourcesFor(JobStatusCancelled)
	if len(got) != 2 || got[0] != JobStatusQueued || got[1] != JobStatusProcessing {
		t.Fatalf("unexpected sources for cancelled: %v", got)
	}
}

func TestRetryConfigBackoff(t *testing.T) {
	cfg := DefaultRetryConfig()
	expected := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second}
	for i, want := range expected {
		if got := cfg.Backoff(i + 1); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, want, got)
		}
	}
	if got := cfg.Backoff(20); got != 300*time.Second {
		t.Fatalf("expected backoff capped at max interval, got %s", got)
	}
}

func TestRetryConfigNormalize(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: -1, MaxInterval: time.Second, InitialInterval: 10 * time.Second}.Normalize(DefaultRetryConfig())
	if cfg.MaxAttempts != 0 {
		t.Fatalf("expected negative attempts clamped to 0, got %d", cfg.MaxAttempts)
	}
	if cfg.MaxInterval != 10*time.Second {
		t.Fatalf("expected max interval raised to initial, got %s", cfg.MaxInterval)
	}
	if cfg.BackoffMultiplier != 2.0 {
		t.Fatalf("expected default multiplier, got %v", cfg.BackoffMultiplier)
	}
}

func TestCapabilityProgressPercentage(t *testing.T) {
	if got := (CapabilityProgress{Completed: 1, Total: 3}).Percentage(); got != 33 {
		t.Fatalf("expected 33, got %d", got)
	}
	if got := (CapabilityProgress{Completed: 3, Total: 3}).Percentage(); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if got := (CapabilityProgress{}).Percentage(); got != 0 {
		t.Fatalf("expected 0 for empty workflow, got %d", got)
	}
}
