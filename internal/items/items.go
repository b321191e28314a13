// Package items provides the set of open items captured by each snapshot.
package items

import (
	"context"
	"errors"
	"strings"

	logx "mudbooker/pkg/logx"
)

// Item is one open page.
type Item struct {
	Title string `json:"title" yaml:"title"`
	URL   string `json:"url" yaml:"url"`
}

// Source returns the items currently open.
type Source interface {
	List(ctx context.Context) ([]Item, error)
}

// Config selects the item source.
//
// Driver values:
//   - "file": JSON or YAML file at Path, re-read on every List
//   - "static": the fixed Items list
type Config struct {
	Driver string
	Path   string
	Items  []Item
}

func Open(cfg Config, log logx.Logger) (Source, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "file":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("items.path is required for file driver")
		}
		return &fileSource{path: cfg.Path, log: log.With(logx.String("comp", "items"))}, nil
	case "", "static":
		return Static(cfg.Items), nil
	default:
		return nil, errors.New("unknown items driver: " + cfg.Driver)
	}
}

// Static returns a Source that always lists a copy of items.
func Static(items []Item) Source {
	cp := append([]Item(nil), items...)
	return staticSource(cp)
}

type staticSource []Item

func (s staticSource) List(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]Item(nil), s...), nil
}
