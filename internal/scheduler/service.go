package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"mudbooker/internal/eventbus"
	logx "mudbooker/pkg/logx"
)

const (
	defaultCycleTimeout = 10 * time.Minute
	defaultHistorySize  = 20
	skipWarnEvery       = time.Minute
)

// Service is the single recurring timer of the process.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	log      logx.Logger
	bus      eventbus.Bus
	job      Job
	interval func() time.Duration

	c     *cron.Cron
	entry cron.EntryID
	every time.Duration
	// parent carries values (not cancellation) into cycles.
	parent context.Context

	inflight atomic.Bool
	cycles   sync.WaitGroup

	runs, skips, failures atomic.Uint64

	hmu          sync.Mutex
	history      []HistoryItem
	lastSkipWarn time.Time
}

// New returns a stopped scheduler. interval is read on every (re)arm.
func New(cfg Config, interval func() time.Duration, job Job, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = defaultCycleTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	return &Service{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "scheduler")),
		bus:      bus,
		job:      job,
		interval: interval,
	}
}

// Start fires one cycle and arms the repeating entry. It returns false if the
// scheduler is already running.
func (s *Service) Start(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		s.log.Debug("start ignored; already running")
		return false
	}
	s.parent = ctx
	s.c = cron.New()
	s.c.Start()

	_ = s.triggerLocked("start")
	s.armLocked()
	s.log.Info("scheduler started", logx.Duration("interval", s.every))
	return true
}

// Restart fires one cycle, drops the armed entry and arms a new one at the
// current interval. It returns false if the scheduler is not running. A
// non-nil ctx replaces the one cycles inherit values from.
func (s *Service) Restart(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		s.log.Debug("restart ignored; not running")
		return false
	}
	if ctx != nil {
		s.parent = ctx
	}
	prev := s.every
	_ = s.triggerLocked("restart")
	s.c.Remove(s.entry)
	s.entry = 0
	s.armLocked()
	s.log.Info("scheduler restarted", logx.Duration("from", prev), logx.Duration("to", s.every))
	return true
}

// Stop drops the entry, stops cron and waits for an in-flight cycle until ctx
// is done. Cycles are not interrupted.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entry = 0
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}

	done := make(chan struct{})
	go func() {
		s.cycles.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for in-flight cycle")
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Trigger fires one cycle now without touching the armed entry.
func (s *Service) Trigger(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return ErrStopped
	}
	return s.triggerLocked(reason)
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// armLocked schedules the one entry. Caller holds s.mu with s.c running and no
// entry armed.
func (s *Service) armLocked() {
	every := s.currentInterval()
	s.every = every
	s.entry = s.c.Schedule(cron.Every(every), cron.FuncJob(func() { _ = s.tick() }))
	s.bus.Publish(eventbus.Event{Type: eventbus.SchedulerArmed, Data: every})
	s.log.Debug("entry armed", logx.Int("entry", int(s.entry)), logx.Duration("every", every))
}

func (s *Service) currentInterval() time.Duration {
	d := time.Hour
	if s.interval != nil {
		d = s.interval()
	}
	if d < time.Second {
		d = time.Second
	}
	return d
}

func (s *Service) tick() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return ErrStopped
	}
	return s.triggerLocked("tick")
}

// triggerLocked launches a cycle unless one is in flight. The tick itself
// never waits for the cycle.
func (s *Service) triggerLocked(reason string) error {
	if !s.inflight.CompareAndSwap(false, true) {
		s.skips.Add(1)
		s.bus.Publish(eventbus.Event{Type: eventbus.CycleSkipped, Data: reason})
		s.warnSkip(reason)
		return ErrOverlapSkip
	}
	parent := s.parent
	if parent == nil {
		parent = context.Background()
	}
	timeout := s.cfg.CycleTimeout
	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		defer s.inflight.Store(false)
		s.runCycle(parent, timeout, reason)
	}()
	return nil
}

func (s *Service) runCycle(parent context.Context, timeout time.Duration, reason string) {
	// Shutdown must not abort a cycle halfway through creating folders.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
	defer cancel()

	started := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("cycle panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		if s.job == nil {
			return nil
		}
		return s.job(ctx)
	}()
	took := time.Since(started)

	item := HistoryItem{Reason: reason, Started: started, Duration: took}
	if err != nil {
		s.failures.Add(1)
		item.Error = err.Error()
		s.log.Warn("cycle failed", logx.String("reason", reason), logx.Duration("took", took),
			logx.Uint64("failures", s.failures.Load()), logx.Err(err))
	} else {
		s.log.Debug("cycle finished", logx.String("reason", reason), logx.Duration("took", took))
	}
	s.appendHistory(item)
	s.runs.Add(1)
}

func (s *Service) warnSkip(reason string) {
	s.hmu.Lock()
	now := time.Now()
	loud := now.Sub(s.lastSkipWarn) >= skipWarnEvery
	if loud {
		s.lastSkipWarn = now
	}
	s.hmu.Unlock()

	if loud {
		s.log.Warn("cycle skipped; previous cycle still running", logx.String("reason", reason),
			logx.Uint64("skipped", s.skips.Load()))
		return
	}
	s.log.Debug("cycle skipped; previous cycle still running", logx.String("reason", reason))
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, it)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	c := s.c
	entry := s.entry
	every := s.every
	s.mu.Unlock()

	snap := Snapshot{
		Running:  c != nil,
		InFlight: s.inflight.Load(),
		Runs:     s.runs.Load(),
		Skips:    s.skips.Load(),
		Failures: s.failures.Load(),
	}
	if c != nil {
		snap.Entries = len(c.Entries())
		snap.Interval = every
		if e := c.Entry(entry); e.Valid() {
			snap.Next = e.Next
			snap.Prev = e.Prev
		}
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
