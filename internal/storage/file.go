package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mudbooker/pkg/fswatch"
	logx "mudbooker/pkg/logx"
)

const treeVersion = 1

// fileStore keeps everything in memory and, unless it is the memory driver,
// mirrors it to disk after every mutation.
//
// Files:
//   - <prefix>.settings.json (flat JSON object, hand-editable, watched)
//   - <prefix>.tree.json     (folder tree snapshot)
//
// Both are replaced atomically (write tmp + rename).
type fileStore struct {
	log logx.Logger
	now func() time.Time

	settingsPath string
	treePath     string

	mu       sync.Mutex
	closed   bool
	settings map[string]any
	nodes    []Node // insertion order

	sig signals
}

type treeFile struct {
	Version int    `json:"version"`
	Nodes   []Node `json:"nodes"`
}

func openMemory(cfg Config, log logx.Logger) Store {
	return &fileStore{log: log, now: nowFunc(cfg), settings: map[string]any{}}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		now:          nowFunc(cfg),
		settingsPath: prefix + ".settings.json",
		treePath:     prefix + ".tree.json",
		settings:     map[string]any{},
	}

	kv, err := readSettingsFile(s.settingsPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	s.settings = kv

	var tf treeFile
	if err := readJSON(s.treePath, &tf); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load tree: %w", err)
	}
	if tf.Version > treeVersion {
		return nil, fmt.Errorf("tree file version %d is newer than supported %d", tf.Version, treeVersion)
	}
	s.nodes = tf.Nodes
	return s, nil
}

func nowFunc(cfg Config) func() time.Time {
	if cfg.Now != nil {
		return cfg.Now
	}
	return time.Now
}

func (s *fileStore) persistent() bool { return s.treePath != "" }

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.sig.closeAll()
	return nil
}

// --- settings ---

func (s *fileStore) Get(ctx context.Context, keys []string) (map[string]any, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := s.settings[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Set stores kv. A nil value removes the key.
func (s *fileStore) Set(ctx context.Context, kv map[string]any) error {
	_ = ctx
	norm, err := normalizeValues(kv)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	next := make(map[string]any, len(s.settings)+len(norm))
	for k, v := range s.settings {
		next[k] = v
	}
	for k, v := range norm {
		if v == nil {
			delete(next, k)
			continue
		}
		next[k] = v
	}
	if reflect.DeepEqual(next, s.settings) {
		s.mu.Unlock()
		return nil
	}
	if s.persistent() {
		if err := writeJSONAtomic(s.settingsPath, next); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.settings = next
	s.mu.Unlock()

	s.sig.notify()
	return nil
}

func (s *fileStore) Subscribe(buffer int) (<-chan struct{}, func()) {
	return s.sig.subscribe(buffer)
}

func (s *fileStore) Watch(ctx context.Context) error {
	if !s.persistent() {
		<-ctx.Done()
		return nil
	}
	return fswatch.Watch(ctx, s.settingsPath, fswatch.Options{Log: s.log}, s.reloadSettings)
}

// reloadSettings picks up hand edits of the settings file. Our own writes
// produce identical content and are not signalled twice.
func (s *fileStore) reloadSettings() {
	kv, err := readSettingsFile(s.settingsPath)
	if err != nil {
		s.log.Warn("settings file unreadable; keeping previous values",
			logx.String("path", s.settingsPath), logx.Err(err))
		return
	}
	s.mu.Lock()
	if s.closed || reflect.DeepEqual(kv, s.settings) {
		s.mu.Unlock()
		return
	}
	s.settings = kv
	s.mu.Unlock()

	s.log.Info("settings file changed", logx.String("path", s.settingsPath))
	s.sig.notify()
}

// --- tree ---

func (s *fileStore) FindByName(ctx context.Context, parentID, title string) (Node, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Node{}, ErrClosed
	}
	for _, n := range s.nodes {
		if n.ParentID == parentID && n.IsFolder() && n.Title == title {
			return n, nil
		}
	}
	return Node{}, ErrNotFound
}

func (s *fileStore) Create(ctx context.Context, parentID, title string) (Node, error) {
	return s.add(ctx, parentID, title, "")
}

func (s *fileStore) CreateChild(ctx context.Context, parentID, title, url string) (Node, error) {
	if strings.TrimSpace(url) == "" {
		return Node{}, errors.New("bookmark url is required")
	}
	return s.add(ctx, parentID, title, url)
}

func (s *fileStore) add(ctx context.Context, parentID, title, url string) (Node, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Node{}, ErrClosed
	}
	if !s.isFolderLocked(parentID) {
		return Node{}, fmt.Errorf("parent %q: %w", parentID, ErrNotFound)
	}
	n := Node{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Title:     title,
		URL:       url,
		CreatedAt: s.now(),
	}
	next := append(s.nodes[:len(s.nodes):len(s.nodes)], n)
	if err := s.saveTreeLocked(next); err != nil {
		return Node{}, err
	}
	s.nodes = next
	return n, nil
}

func (s *fileStore) ListChildren(ctx context.Context, parentID string) ([]Node, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if !s.isFolderLocked(parentID) {
		return nil, fmt.Errorf("parent %q: %w", parentID, ErrNotFound)
	}
	var out []Node
	for _, n := range s.nodes {
		if n.ParentID == parentID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fileStore) DeleteSubtree(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if id == RootID {
		return errors.New("cannot delete the root folder")
	}

	doomed := map[string]bool{}
	for _, n := range s.nodes {
		if n.ID == id {
			doomed[id] = true
			break
		}
	}
	if !doomed[id] {
		return ErrNotFound
	}
	// Nodes are appended after their parent, so one forward pass finds every
	// descendant.
	for _, n := range s.nodes {
		if doomed[n.ParentID] {
			doomed[n.ID] = true
		}
	}
	next := make([]Node, 0, len(s.nodes)-len(doomed))
	for _, n := range s.nodes {
		if !doomed[n.ID] {
			next = append(next, n)
		}
	}
	if err := s.saveTreeLocked(next); err != nil {
		return err
	}
	s.nodes = next
	return nil
}

func (s *fileStore) isFolderLocked(id string) bool {
	if id == RootID {
		return true
	}
	for _, n := range s.nodes {
		if n.ID == id {
			return n.IsFolder()
		}
	}
	return false
}

func (s *fileStore) saveTreeLocked(nodes []Node) error {
	if !s.persistent() {
		return nil
	}
	return writeJSONAtomic(s.treePath, treeFile{Version: treeVersion, Nodes: nodes})
}

// --- helpers ---

// normalizeValues round-trips kv through JSON so in-memory values have the
// same types as values read back from disk.
func normalizeValues(kv map[string]any) (map[string]any, error) {
	b, err := json.Marshal(kv)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func readSettingsFile(path string) (map[string]any, error) {
	kv := map[string]any{}
	if err := readJSON(path, &kv); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if kv == nil {
		kv = map[string]any{}
	}
	return kv, nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
