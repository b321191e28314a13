// Package retention decides which snapshot folders have outlived the keep-for
// window and removes them.
package retention

import (
	"sort"
	"time"
)

// Snapshot describes a previously created snapshot folder.
type Snapshot struct {
	ID        string
	CreatedAt time.Time
}

// SelectForDeletion returns the ids of snapshots to delete, oldest first.
//
// A snapshot is expired when it was created at or before now-keepFor
// (millisecond precision). The most recent expired snapshot always survives.
// Ties on CreatedAt keep input order.
func SelectForDeletion(snaps []Snapshot, keepFor time.Duration, now time.Time) []string {
	cutoff := now.UnixMilli() - keepFor.Milliseconds()

	var expired []Snapshot
	for _, s := range snaps {
		if s.CreatedAt.UnixMilli() <= cutoff {
			expired = append(expired, s)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	sort.SliceStable(expired, func(i, j int) bool {
		return expired[i].CreatedAt.UnixMilli() < expired[j].CreatedAt.UnixMilli()
	})
	expired = expired[:len(expired)-1]

	ids := make([]string, len(expired))
	for i, s := range expired {
		ids[i] = s.ID
	}
	return ids
}
