package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"mudbooker/internal/config"
	"mudbooker/internal/eventbus"
	"mudbooker/internal/notifier"
	"mudbooker/internal/settings"
	"mudbooker/internal/storage"
	logx "mudbooker/pkg/logx"
)

type fakeSystemd struct {
	mu     sync.Mutex
	states []string
}

func (f *fakeSystemd) Notify(state string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return true, nil
}

func (f *fakeSystemd) WatchdogInterval() time.Duration { return 0 }

func (f *fakeSystemd) seen() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.states, ",")
}

type recSink struct {
	mu  sync.Mutex
	got []notifier.Notification
}

func (*recSink) Name() string { return "rec" }

func (r *recSink) Send(_ context.Context, n notifier.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func (r *recSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func testConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Driver: "memory"},
		Items: config.ItemsConfig{Items: []config.ItemConfig{
			{Title: "Go", URL: "https://go.dev"},
			{Title: "Example", URL: "https://example.com"},
		}},
		Notifier: &config.NotifierConfig{Enabled: true, RatePerSec: 100, RetryBase: "1ms"},
	}
}

func newTestApp(t *testing.T) (*App, *fakeSystemd, *recSink) {
	t.Helper()
	sd := &fakeSystemd{}
	sink := &recSink{}
	a, err := NewFromConfig(testConfig(), Options{Log: logx.Nop(), Systemd: sd, Sink: sink})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	return a, sd, sink
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartRunsFirstCycleAndStops(t *testing.T) {
	a, sd, sink := newTestApp(t)
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}

	waitFor(t, "first cycle", func() bool { return a.Scheduler().Snapshot().Runs == 1 })
	waitFor(t, "notification", func() bool { return sink.count() == 1 })

	st, err := a.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Snapshots != 1 || st.Destination == "" || st.RunState.LastRun.IsZero() {
		t.Fatalf("Status = %+v", st)
	}
	if !st.Scheduler.Running || st.Scheduler.Entries != 1 || st.Scheduler.Interval != time.Hour {
		t.Fatalf("scheduler = %+v", st.Scheduler)
	}
	if details, err := a.health(ctx); err != nil || details["scheduler_running"] != true {
		t.Fatalf("health = %v, %v", details, err)
	}
	waitFor(t, "notification history", func() bool {
		details, _ := a.health(ctx)
		return details["last_notification"] != nil
	})
	details, _ := a.health(ctx)
	if n, ok := details["goroutines"].(int64); !ok || n == 0 {
		t.Fatalf("goroutines = %v, want supervised loops counted", details["goroutines"])
	}
	if details["goroutine_panics"] != uint64(0) {
		t.Fatalf("goroutine_panics = %v", details["goroutine_panics"])
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := sd.seen(); got != sdReady+","+sdStopping {
		t.Fatalf("sd_notify states = %q", got)
	}
	if a.Scheduler().Running() {
		t.Fatal("scheduler still running after Stop")
	}
	if _, err := a.Store().Get(ctx, []string{"x"}); err == nil {
		t.Fatal("store should be closed after Stop")
	}
}

func TestIntervalChangeRestartsScheduler(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(ctx)
	waitFor(t, "first cycle", func() bool { return a.Scheduler().Snapshot().Runs == 1 })

	events, unsub := a.Bus().Subscribe(64)
	defer unsub()

	// 1h -> 30m: restart runs a cycle now and re-arms at 30m.
	if err := a.Store().Set(ctx, map[string]any{
		settings.KeyInterval:       settings.CategoryCustom,
		settings.KeyCustomInterval: 30,
	}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	waitFor(t, "restart cycle", func() bool { return a.Scheduler().Snapshot().Runs == 2 })
	snap := a.Scheduler().Snapshot()
	if snap.Interval != 30*time.Minute || snap.Entries != 1 {
		t.Fatalf("after restart: %+v", snap)
	}

	// A naming change reloads but leaves the timer alone.
	if err := a.Store().Set(ctx, map[string]any{settings.KeyPrefix: "auto-"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	reloads := 0
	timeout := time.After(5 * time.Second)
	for reloads < 2 {
		select {
		case ev := <-events:
			if ev.Type == eventbus.SettingsReloaded {
				reloads++
			}
		case <-timeout:
			t.Fatalf("settings.reloaded events = %d, want 2", reloads)
		}
	}
	if got := a.Settings().Snapshot().Prefix; got != "auto-" {
		t.Fatalf("prefix = %q", got)
	}
	time.Sleep(50 * time.Millisecond)
	if runs := a.Scheduler().Snapshot().Runs; runs != 2 {
		t.Fatalf("runs = %d after prefix change, want 2", runs)
	}
}

func TestTriggerWithoutStartRunsInline(t *testing.T) {
	a, _, sink := newTestApp(t)
	ctx := context.Background()
	defer a.Close()

	if err := a.Trigger(ctx); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("notifications = %d, want 1 after drain", sink.count())
	}

	plan, _, err := a.Prune(ctx, true)
	if err != nil || len(plan) != 0 {
		t.Fatalf("dry-run plan = %v, %v", plan, err)
	}
	dest, err := a.Store().FindByName(ctx, storage.RootID, settings.DefaultContainerName)
	if err != nil {
		t.Fatalf("destination: %v", err)
	}
	kids, _ := a.Store().ListChildren(ctx, dest.ID)
	if len(kids) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(kids))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(c *config.Config)
	}{
		{"unknown storage", func(c *config.Config) { c.Storage.Driver = "redis" }},
		{"file without path", func(c *config.Config) { c.Storage.Driver = "file" }},
		{"sqlite bad busy", func(c *config.Config) { c.Storage = config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "soon"} }},
		{"items file without path", func(c *config.Config) { c.Items.Driver = "file" }},
		{"item without url", func(c *config.Config) { c.Items.Items = []config.ItemConfig{{Title: "x"}} }},
		{"bad cycle timeout", func(c *config.Config) { c.Scheduler.CycleTimeout = "-1m" }},
		{"notifier negative", func(c *config.Config) { c.Notifier.Workers = -1 }},
		{"telegram without chat", func(c *config.Config) { c.Notifier.Telegram = &config.TelegramConfig{Token: "t"} }},
		{"metrics bad timeout", func(c *config.Config) { c.Metrics.ReadTimeout = "x" }},
		{"bad radix", func(c *config.Config) { c.Debug = config.DebugConfig{Enabled: true, Radix: 99} }},
		{"bad month", func(c *config.Config) { c.Defaults.Month = "roman" }},
		{"bad interval", func(c *config.Config) { c.Defaults.Interval = "hourly" }},
	}
	if err := Validate(testConfig()); err != nil {
		t.Fatalf("base config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mut(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestMapSettingsDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.Defaults = config.DefaultsConfig{Prefix: "p-", Month: "long", Interval: "2h", KeepFor: "72h"}
	cfg.Debug = config.DebugConfig{Enabled: true}

	s, err := mapSettingsDefaults(cfg)
	if err != nil {
		t.Fatalf("mapSettingsDefaults: %v", err)
	}
	if s.Prefix != "p-" || s.Suffix != settings.DefaultSuffix || s.Format.Month != settings.MonthLong {
		t.Fatalf("naming = %+v", s)
	}
	if s.Interval != 2*time.Hour || s.KeepFor != 72*time.Hour {
		t.Fatalf("periods = %v / %v", s.Interval, s.KeepFor)
	}
	if !s.Debug.Enabled || s.Debug.EntropyBits != 64 || s.Debug.Radix != 16 {
		t.Fatalf("debug = %+v", s.Debug)
	}
}

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		in         config.StorageConfig
		driver     string
		persistent bool
	}{
		{config.StorageConfig{}, "memory", false},
		{config.StorageConfig{Driver: "none"}, "memory", false},
		{config.StorageConfig{Driver: "file", Path: "./s.json"}, "file", true},
		{config.StorageConfig{Driver: "SQLite", Path: "./s.db"}, "sqlite", true},
		{config.StorageConfig{Driver: "sqlite", Path: ":memory:"}, "sqlite", false},
	}
	for _, tt := range tests {
		sc, persistent, err := mapStorageConfig(&config.Config{Storage: tt.in})
		if err != nil || sc.Driver != tt.driver || persistent != tt.persistent {
			t.Errorf("%+v: got %q/%v/%v", tt.in, sc.Driver, persistent, err)
		}
	}
}
