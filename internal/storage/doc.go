// Package storage persists the user settings and the folder tree that holds
// snapshots.
//
// Drivers:
//   - "file": JSON documents next to each other (<prefix>.settings.json and
//     <prefix>.tree.json), settings watched with fsnotify
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo)
//   - "memory": in-process only, nothing is written to disk
package storage
