package scheduler

import (
	"context"
	"errors"
	"time"
)

var (
	ErrOverlapSkip = errors.New("cycle skipped: previous cycle still running")
	ErrStopped     = errors.New("scheduler stopped")
)

// Job runs one snapshot cycle.
type Job func(ctx context.Context) error

// Config controls cycle execution.
//
// Defaults (when fields are zero):
//   - cycle_timeout: 10m
//   - history_size: 20
type Config struct {
	CycleTimeout time.Duration
	HistorySize  int
}

// Snapshot is a point-in-time view for status output.
type Snapshot struct {
	Running  bool
	Entries  int
	Interval time.Duration
	Next     time.Time
	Prev     time.Time
	InFlight bool
	Runs     uint64
	Skips    uint64
	Failures uint64
	History  []HistoryItem
}

// HistoryItem records one finished cycle.
type HistoryItem struct {
	Reason   string
	Started  time.Time
	Duration time.Duration
	Error    string
}
