package app

import (
	"fmt"
	"strings"
	"time"

	"mudbooker/internal/config"
	"mudbooker/internal/items"
	"mudbooker/internal/metrics"
	"mudbooker/internal/notifier"
	"mudbooker/internal/scheduler"
	"mudbooker/internal/settings"
	"mudbooker/internal/storage"
	logx "mudbooker/pkg/logx"
)

func parseDurationField(path, raw string) (time.Duration, error) {
	return config.ParseDurationField(path, raw)
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig falls back to the in-memory driver for "" and "none";
// persistent reports whether snapshots survive a restart.
func mapStorageConfig(cfg *config.Config) (sc storage.Config, persistent bool, err error) {
	raw := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(raw.Driver))
	path := strings.TrimSpace(raw.Path)

	switch driver {
	case "", "none", "memory":
		return storage.Config{Driver: "memory"}, false, nil
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", raw.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		poll, err := parseDurationField("storage.poll_interval", raw.PollInterval)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, PollInterval: poll}, path != ":memory:", nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", raw.Driver)
	}
}

func mapItemsConfig(cfg *config.Config) (items.Config, error) {
	ic := cfg.Items
	driver := strings.ToLower(strings.TrimSpace(ic.Driver))
	switch driver {
	case "", "static":
	case "file":
		if strings.TrimSpace(ic.Path) == "" {
			return items.Config{}, fmt.Errorf("items.path is required when items.driver=file")
		}
	default:
		return items.Config{}, fmt.Errorf("unknown items.driver: %s", ic.Driver)
	}
	out := items.Config{Driver: driver, Path: strings.TrimSpace(ic.Path)}
	for i, it := range ic.Items {
		if strings.TrimSpace(it.URL) == "" {
			return items.Config{}, fmt.Errorf("items.items[%d].url is required", i)
		}
		out.Items = append(out.Items, items.Item{Title: it.Title, URL: it.URL})
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := parseDurationField("scheduler.cycle_timeout", cfg.Scheduler.CycleTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	if cfg.Scheduler.HistorySize < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.history_size must be >= 0")
	}
	return scheduler.Config{CycleTimeout: timeout, HistorySize: cfg.Scheduler.HistorySize}, nil
}

// mapNotifierConfig applies runtime defaults. An omitted section means
// enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         1,
		QueueSize:       64,
		RatePerSec:      1,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		SendTimeout:     10 * time.Second,
		DedupWindow:     0,
		DedupMaxEntries: 256,
	}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: counts must be >= 0")
	}
	out.Enabled = n.Enabled
	if n.Workers > 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize > 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec > 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax > 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries > 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}
	var err error
	if out.RetryBase, err = parseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = parseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = parseDurationOrDefault("notifier.send_timeout", n.SendTimeout, out.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = parseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	if n.Telegram != nil {
		if _, err := mapTelegramConfig(n.Telegram); err != nil {
			return notifier.Config{}, err
		}
	}
	return out, nil
}

func mapTelegramConfig(tc *config.TelegramConfig) (notifier.TelegramConfig, error) {
	out := notifier.TelegramConfig{
		Token:    strings.TrimSpace(tc.Token),
		ChatID:   tc.ChatID,
		ThreadID: tc.ThreadID,
		URL:      strings.TrimSpace(tc.APIURL),
	}
	if out.Token == "" {
		return notifier.TelegramConfig{}, fmt.Errorf("notifier.telegram.token is required")
	}
	if out.ChatID == 0 {
		return notifier.TelegramConfig{}, fmt.Errorf("notifier.telegram.chat_id is required")
	}
	return out, nil
}

// buildSink always includes the log sink; Telegram is added when configured.
func buildSink(cfg *config.Config, log logx.Logger) (notifier.Sink, error) {
	sinks := []notifier.Sink{notifier.NewLogSink(log)}
	if cfg.Notifier != nil && cfg.Notifier.Telegram != nil {
		tc, err := mapTelegramConfig(cfg.Notifier.Telegram)
		if err != nil {
			return nil, err
		}
		tg, err := notifier.NewTelegramSink(tc)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, tg)
	}
	return notifier.MultiSink(sinks...), nil
}

func mapMetricsConfig(cfg *config.Config) (metrics.ServerConfig, error) {
	mc := cfg.Metrics
	out := metrics.ServerConfig{
		Enabled:       mc.Enabled,
		Addr:          strings.TrimSpace(mc.Addr),
		Token:         strings.TrimSpace(mc.Token),
		AllowInsecure: mc.AllowInsecure,
		Pprof:         mc.Pprof,
	}
	var err error
	if out.ReadTimeout, err = parseDurationOrDefault("metrics.read_timeout", mc.ReadTimeout, 5*time.Second); err != nil {
		return metrics.ServerConfig{}, err
	}
	if out.WriteTimeout, err = parseDurationOrDefault("metrics.write_timeout", mc.WriteTimeout, 10*time.Second); err != nil {
		return metrics.ServerConfig{}, err
	}
	if out.IdleTimeout, err = parseDurationOrDefault("metrics.idle_timeout", mc.IdleTimeout, time.Minute); err != nil {
		return metrics.ServerConfig{}, err
	}
	return out, nil
}

func mapDebug(dc config.DebugConfig) (settings.Debug, error) {
	def := settings.Defaults().Debug
	d := settings.Debug{Enabled: dc.Enabled, EntropyBits: dc.EntropyBits, Radix: dc.Radix}
	if d.EntropyBits == 0 {
		d.EntropyBits = def.EntropyBits
	}
	if d.Radix == 0 {
		d.Radix = def.Radix
	}
	if !d.Valid() {
		return settings.Debug{}, fmt.Errorf("debug: entropy_bits must be 1..1024 and radix 2..36")
	}
	return d, nil
}

// mapSettingsDefaults overlays the non-empty defaults onto the built-in ones.
func mapSettingsDefaults(cfg *config.Config) (settings.Settings, error) {
	s := settings.Defaults()
	dc := cfg.Defaults
	if dc.Prefix != "" {
		s.Prefix = dc.Prefix
	}
	if dc.Suffix != "" {
		s.Suffix = dc.Suffix
	}
	if dc.Year != "" {
		s.Format.Year = settings.YearStyle(dc.Year)
		if !s.Format.Year.Valid() {
			return settings.Settings{}, fmt.Errorf("defaults.year: invalid %q", dc.Year)
		}
	}
	if dc.Month != "" {
		s.Format.Month = settings.MonthStyle(dc.Month)
		if !s.Format.Month.Valid() {
			return settings.Settings{}, fmt.Errorf("defaults.month: invalid %q", dc.Month)
		}
	}
	if strings.TrimSpace(dc.ContainerName) != "" {
		s.ContainerName = dc.ContainerName
	}
	var err error
	if s.Interval, err = parseDurationOrDefault("defaults.interval", dc.Interval, s.Interval); err != nil {
		return settings.Settings{}, err
	}
	if s.KeepFor, err = parseDurationOrDefault("defaults.keep_for", dc.KeepFor, s.KeepFor); err != nil {
		return settings.Settings{}, err
	}
	if s.Debug, err = mapDebug(cfg.Debug); err != nil {
		return settings.Settings{}, err
	}
	return s, nil
}

// Validate checks every section the app maps. It is also the config hot-reload
// validator.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapItemsConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMetricsConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSettingsDefaults(cfg); err != nil {
		return err
	}
	return nil
}
