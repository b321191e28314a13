package config

// Config is the process configuration file. User-facing snapshot settings
// (naming, interval, keep-for) live in the settings store; Defaults only seeds
// them before the first reload.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Items     ItemsConfig     `json:"items"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Notifier defaults to enabled with the log sink when omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Metrics  MetricsConfig   `json:"metrics,omitempty"`

	Debug    DebugConfig    `json:"debug,omitempty"`
	Defaults DefaultsConfig `json:"defaults,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the settings/folder store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./mudbooker.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`  // Go duration string (sqlite)
	PollInterval string `json:"poll_interval,omitempty"` // Go duration string (sqlite)
}

// ItemsConfig selects where open items are captured from. The static driver
// uses Items; the file driver re-reads Path on every cycle.
type ItemsConfig struct {
	Driver string       `json:"driver"`
	Path   string       `json:"path,omitempty"`
	Items  []ItemConfig `json:"items,omitempty"`
}

type ItemConfig struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SchedulerConfig bounds each snapshot cycle.
//
// The interval itself is a user setting and is not configured here.
type SchedulerConfig struct {
	// CycleTimeout is a Go duration string. Default: "10m".
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	HistorySize  int    `json:"history_size,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`

	// Telegram adds a Bot API sink next to the log sink.
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"` // do not log
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
}

// MetricsConfig controls the optional /metrics and /healthz listener.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	// Runtime adds Go runtime and process collectors.
	Runtime bool `json:"runtime,omitempty"`
	// Pprof exposes /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// DebugConfig appends a random token to snapshot names and pins interval and
// keep-for to their in-memory values.
type DebugConfig struct {
	Enabled     bool `json:"enabled"`
	EntropyBits int  `json:"entropy_bits,omitempty"`
	Radix       int  `json:"radix,omitempty"`
}

// DefaultsConfig seeds the in-memory settings before the store is read.
// Interval and keep-for are Go duration strings.
type DefaultsConfig struct {
	Prefix        string `json:"prefix,omitempty"`
	Suffix        string `json:"suffix,omitempty"`
	Year          string `json:"year,omitempty"`
	Month         string `json:"month,omitempty"`
	ContainerName string `json:"container_name,omitempty"`
	Interval      string `json:"interval,omitempty"`
	KeepFor       string `json:"keep_for,omitempty"`
}
