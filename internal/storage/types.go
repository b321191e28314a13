package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage closed")
)

// RootID is the well-known top-level folder destination containers live under.
const RootID = "toolbar_____"

// Config configures storage.
//
// Driver values:
//   - "file": JSON files derived from Path
//   - "sqlite": SQLite database file at Path (":memory:" works for tests)
//   - "memory": nothing persisted
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// PollInterval is how often the sqlite driver checks for commits made by
	// other processes. 0 means 2s.
	PollInterval time.Duration
	// Now stamps CreatedAt on new nodes. nil means time.Now.
	Now func() time.Time
}

// Node is a folder (URL == "") or a bookmark.
type Node struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (n Node) IsFolder() bool { return n.URL == "" }
