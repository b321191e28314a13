package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "mudbooker/pkg/logx"
)

//go:embed schema.sql
var schemaFS embed.FS

const defaultPollInterval = 2 * time.Second

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	now  func() time.Time
	poll time.Duration

	sig signals
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers. A single connection
	// also keeps ":memory:" databases alive and makes PRAGMA data_version only
	// move on commits from other processes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	st := &sqliteStore{db: db, log: log, now: nowFunc(cfg), poll: poll}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.sig.closeAll()
	return s.db.Close()
}

func mapErr(err error) error {
	if errors.Is(err, sql.ErrConnDone) || (err != nil && strings.Contains(err.Error(), "database is closed")) {
		return ErrClosed
	}
	return err
}

// --- settings ---

func (s *sqliteStore) Get(ctx context.Context, keys []string) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	q := `SELECT key, value FROM settings WHERE key IN (?` + strings.Repeat(",?", len(keys)-1) + `)`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, raw string
		if err := rows.Scan(&k, &raw); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			s.log.Warn("undecodable settings value skipped", logx.String("key", k), logx.Err(err))
			continue
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Set stores kv in one transaction. A nil value removes the key.
func (s *sqliteStore) Set(ctx context.Context, kv map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	changed := false
	for k, v := range kv {
		var res sql.Result
		if v == nil {
			res, err = tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, k)
		} else {
			b, mErr := json.Marshal(v)
			if mErr != nil {
				return fmt.Errorf("encode %s: %w", k, mErr)
			}
			res, err = tx.ExecContext(ctx,
				`INSERT INTO settings(key, value) VALUES(?,?)
				 ON CONFLICT(key) DO UPDATE SET value=excluded.value WHERE value <> excluded.value`,
				k, string(b),
			)
		}
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			changed = true
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if changed {
		s.sig.notify()
	}
	return nil
}

func (s *sqliteStore) Subscribe(buffer int) (<-chan struct{}, func()) {
	return s.sig.subscribe(buffer)
}

// Watch polls PRAGMA data_version, which moves when another connection
// (another mudbooker process, the sqlite3 shell) commits.
func (s *sqliteStore) Watch(ctx context.Context) error {
	last, err := s.dataVersion(ctx)
	if err != nil {
		return mapErr(err)
	}
	t := time.NewTicker(s.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		v, err := s.dataVersion(ctx)
		if err != nil {
			if errors.Is(mapErr(err), ErrClosed) {
				return nil
			}
			s.log.Warn("sqlite data_version poll failed", logx.Err(err))
			continue
		}
		if v != last {
			last = v
			s.log.Debug("external sqlite commit detected", logx.Int64("data_version", v))
			s.sig.notify()
		}
	}
}

func (s *sqliteStore) dataVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&v)
	return v, err
}

// --- tree ---

const nodeCols = `id, parent_id, title, url, created_ms`

func scanNode(sc interface{ Scan(...any) error }) (Node, error) {
	var (
		n  Node
		ms int64
	)
	if err := sc.Scan(&n.ID, &n.ParentID, &n.Title, &n.URL, &ms); err != nil {
		return Node{}, err
	}
	n.CreatedAt = time.UnixMilli(ms)
	return n, nil
}

func (s *sqliteStore) FindByName(ctx context.Context, parentID, title string) (Node, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeCols+` FROM nodes WHERE parent_id = ? AND title = ? AND url = '' ORDER BY seq LIMIT 1`,
		parentID, title,
	)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, ErrNotFound
	}
	return n, mapErr(err)
}

func (s *sqliteStore) Create(ctx context.Context, parentID, title string) (Node, error) {
	return s.add(ctx, parentID, title, "")
}

func (s *sqliteStore) CreateChild(ctx context.Context, parentID, title, url string) (Node, error) {
	if strings.TrimSpace(url) == "" {
		return Node{}, errors.New("bookmark url is required")
	}
	return s.add(ctx, parentID, title, url)
}

func (s *sqliteStore) add(ctx context.Context, parentID, title, url string) (Node, error) {
	ok, err := s.isFolder(ctx, parentID)
	if err != nil {
		return Node{}, mapErr(err)
	}
	if !ok {
		return Node{}, fmt.Errorf("parent %q: %w", parentID, ErrNotFound)
	}
	n := Node{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Title:     title,
		URL:       url,
		CreatedAt: s.now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes(`+nodeCols+`) VALUES(?,?,?,?,?)`,
		n.ID, n.ParentID, n.Title, n.URL, n.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Node{}, mapErr(err)
	}
	// Round to what is stored so callers see the same value ListChildren returns.
	n.CreatedAt = time.UnixMilli(n.CreatedAt.UnixMilli())
	return n, nil
}

func (s *sqliteStore) isFolder(ctx context.Context, id string) (bool, error) {
	if id == RootID {
		return true, nil
	}
	var url string
	err := s.db.QueryRowContext(ctx, `SELECT url FROM nodes WHERE id = ?`, id).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return url == "", nil
}

func (s *sqliteStore) ListChildren(ctx context.Context, parentID string) ([]Node, error) {
	ok, err := s.isFolder(ctx, parentID)
	if err != nil {
		return nil, mapErr(err)
	}
	if !ok {
		return nil, fmt.Errorf("parent %q: %w", parentID, ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeCols+` FROM nodes WHERE parent_id = ? ORDER BY seq`, parentID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteSubtree(ctx context.Context, id string) error {
	if id == RootID {
		return errors.New("cannot delete the root folder")
	}
	res, err := s.db.ExecContext(ctx, `
		WITH RECURSIVE sub(id) AS (
			SELECT id FROM nodes WHERE id = ?
			UNION ALL
			SELECT n.id FROM nodes n JOIN sub ON n.parent_id = sub.id
		)
		DELETE FROM nodes WHERE id IN (SELECT id FROM sub)`, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
