package storage

import (
	"context"
	"errors"
	"strings"

	logx "mudbooker/pkg/logx"
)

// SettingsStore is a flat key/value store for user settings.
type SettingsStore interface {
	// Get returns the stored values for keys; absent keys are omitted.
	Get(ctx context.Context, keys []string) (map[string]any, error)
	Set(ctx context.Context, kv map[string]any) error
	// Subscribe delivers a signal whenever stored settings change, either
	// through Set or through an external edit picked up by Watch.
	Subscribe(buffer int) (<-chan struct{}, func())
}

// ContainerStore manages the folder tree.
type ContainerStore interface {
	// FindByName returns the first folder under parentID titled title.
	FindByName(ctx context.Context, parentID, title string) (Node, error)
	// Create adds a folder under parentID.
	Create(ctx context.Context, parentID, title string) (Node, error)
	// CreateChild adds a bookmark under parentID.
	CreateChild(ctx context.Context, parentID, title, url string) (Node, error)
	// ListChildren returns direct children in insertion order.
	ListChildren(ctx context.Context, parentID string) ([]Node, error)
	// DeleteSubtree removes id and everything below it. ErrNotFound if absent.
	DeleteSubtree(ctx context.Context, id string) error
}

// Store is the persistence API used by the service.
type Store interface {
	SettingsStore
	ContainerStore
	// Watch blocks until ctx is done, turning changes made outside this
	// process into Subscribe signals.
	Watch(ctx context.Context) error
	Close() error
}

// Open initializes the configured store.
// It returns ErrDisabled if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "memory":
		return openMemory(cfg, log), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
