package settings

import (
	"context"
	"fmt"
	"sync"
	"time"

	logx "mudbooker/pkg/logx"
)

// Source is the read side of the settings storage.
type Source interface {
	Get(ctx context.Context, keys []string) (map[string]any, error)
}

// State is the in-memory mirror of the user settings.
//
// Readers take a Snapshot() per cycle; writers go through validated setters or
// Reload, which swaps the merged result in one step.
type State struct {
	mu  sync.RWMutex
	cur Settings
	log logx.Logger
}

// New returns a State seeded with initial. Fields of initial that fail
// validation fall back to Defaults().
func New(initial Settings, log logx.Logger) *State {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &State{cur: Defaults(), log: log}
	s.SetPrefix(initial.Prefix)
	s.SetSuffix(initial.Suffix)
	s.SetFormat(map[string]string{"year": string(initial.Format.Year), "month": string(initial.Format.Month)})
	s.SetContainerName(initial.ContainerName)
	s.SetInterval(initial.Interval)
	s.SetKeepFor(initial.KeepFor)
	s.SetDebug(initial.Debug)
	return s
}

func (s *State) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *State) Interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Interval
}

func (s *State) KeepFor() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.KeepFor
}

func (s *State) ContainerName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.ContainerName
}

func (s *State) Debug() Debug {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Debug
}

func (s *State) update(fn func(cur *Settings) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur
	if !fn(&next) {
		return false
	}
	s.cur = next
	return true
}

func (s *State) SetPrefix(v string) bool {
	return s.update(func(cur *Settings) bool { return setPrefix(cur, v) })
}

func (s *State) SetSuffix(v string) bool {
	return s.update(func(cur *Settings) bool { return setSuffix(cur, v) })
}

// SetFormat applies the recognized keys ("year", "month") with recognized
// values and ignores everything else. It returns the number of fields applied.
func (s *State) SetFormat(f map[string]string) int {
	n := 0
	s.update(func(cur *Settings) bool {
		n = setFormat(cur, f)
		return n > 0
	})
	return n
}

func (s *State) SetContainerName(v string) bool {
	return s.update(func(cur *Settings) bool { return setContainerName(cur, v) })
}

func (s *State) SetInterval(d time.Duration) bool {
	return s.update(func(cur *Settings) bool { return setInterval(cur, d) })
}

func (s *State) SetKeepFor(d time.Duration) bool {
	return s.update(func(cur *Settings) bool { return setKeepFor(cur, d) })
}

func (s *State) SetDebug(d Debug) bool {
	return s.update(func(cur *Settings) bool {
		if !d.Valid() {
			return false
		}
		cur.Debug = d
		return true
	})
}

// Reload is the outcome of merging storage into the State.
type Reload struct {
	Before  Settings
	After   Settings
	Applied []string
	// Unavailable is set when storage returned no data; the State is unchanged.
	Unavailable bool
}

// IntervalChanged reports whether the reload moved the tick period.
func (r Reload) IntervalChanged() bool { return r.Before.Interval != r.After.Interval }

// Reload reads Keys from src and merges the well-formed ones into the State.
// A read error leaves the State untouched.
func (s *State) Reload(ctx context.Context, src Source) (Reload, error) {
	before := s.Snapshot()
	kv, err := src.Get(ctx, Keys)
	if err != nil {
		return Reload{Before: before, After: before}, fmt.Errorf("settings read: %w", err)
	}
	if len(kv) == 0 {
		s.log.Debug("settings storage empty; keeping current settings")
		return Reload{Before: before, After: before, Unavailable: true}, nil
	}
	if v, ok := asInt(kv[KeySettingsVersion]); ok && v > MergeVersion {
		s.log.Warn("settings written by a newer version; merging known keys only",
			logx.Int64("version", v), logx.Int("supported", MergeVersion))
	}

	s.mu.Lock()
	before = s.cur
	after, applied := Merge(before, kv)
	s.cur = after
	s.mu.Unlock()

	if rejected := rejectedKeys(kv, applied, before.Debug.Enabled); len(rejected) > 0 {
		s.log.Debug("settings keys ignored", logx.Strings("keys", rejected))
	}
	return Reload{Before: before, After: after, Applied: applied}, nil
}
