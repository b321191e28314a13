// Package scheduler drives the snapshot cycle on a fixed, runtime-adjustable
// period.
//
// The service owns a robfig/cron instance holding at most one entry. Start and
// Restart both fire one cycle immediately and (re)arm the entry at the current
// interval; a cycle that is still running when the next trigger arrives makes
// that trigger a no-op (ErrOverlapSkip).
//
// cron.Every works in whole seconds: intervals are rounded down to the second,
// with a one second minimum.
package scheduler
