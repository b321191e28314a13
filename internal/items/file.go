package items

import (
	"context"
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v3"

	logx "mudbooker/pkg/logx"
)

// fileSource reads a list of items from disk on every call, so whatever
// maintains the file (a browser export, a script) is picked up without a
// restart. JSON is valid YAML, so one decoder covers both.
//
// Accepted shapes:
//
//	- {title: ..., url: ...}
//
// or
//
//	items:
//	  - {title: ..., url: ...}
type fileSource struct {
	path string
	log  logx.Logger
}

type itemsDoc struct {
	Items []Item `yaml:"items"`
}

func (s *fileSource) List(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	out, err := decodeItems(b)
	if err != nil {
		return nil, fmt.Errorf("parse items %s: %w", s.path, err)
	}
	s.log.Debug("items loaded", logx.String("path", s.path), logx.Int("count", len(out)))
	return out, nil
}

func decodeItems(b []byte) ([]Item, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var list []Item
		if err := root.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	case yaml.MappingNode:
		var doc itemsDoc
		if err := root.Decode(&doc); err != nil {
			return nil, err
		}
		return doc.Items, nil
	default:
		return nil, fmt.Errorf("expected a list or an items: mapping, got %s", root.Tag)
	}
}
