package settings

import (
	"strings"
	"time"
)

// YearStyle selects how the year is rendered in snapshot names.
type YearStyle string

const (
	YearNumeric  YearStyle = "numeric"
	YearTwoDigit YearStyle = "2-digit"
)

// MonthStyle selects how the month is rendered in snapshot names.
type MonthStyle string

const (
	MonthNumeric MonthStyle = "numeric"
	MonthShort   MonthStyle = "short"
	MonthLong    MonthStyle = "long"
)

func (y YearStyle) Valid() bool {
	return y == YearNumeric || y == YearTwoDigit
}

func (m MonthStyle) Valid() bool {
	return m == MonthNumeric || m == MonthShort || m == MonthLong
}

// DateFormat is the user-selectable part of the name template.
// Day is always zero-padded; hour and minute are always 2-digit.
type DateFormat struct {
	Year  YearStyle
	Month MonthStyle
}

// Debug appends a random token to each snapshot name and pins interval/keep-for
// to their in-memory values (reload does not touch them).
type Debug struct {
	Enabled     bool
	EntropyBits int
	Radix       int
}

const (
	maxEntropyBits = 1024
	minRadix       = 2
	maxRadix       = 36
)

func (d Debug) Valid() bool {
	return d.EntropyBits > 0 && d.EntropyBits <= maxEntropyBits && d.Radix >= minRadix && d.Radix <= maxRadix
}

// Settings is the user-controlled configuration read on every cycle.
type Settings struct {
	Prefix        string
	Suffix        string
	Format        DateFormat
	ContainerName string
	Interval      time.Duration
	KeepFor       time.Duration
	Debug         Debug
}

const (
	DefaultSuffix        = "_tabs"
	DefaultContainerName = "mudbooker_tabs"
	DefaultInterval      = time.Hour
	DefaultKeepFor       = 48 * time.Hour
)

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Prefix:        "",
		Suffix:        DefaultSuffix,
		Format:        DateFormat{Year: YearNumeric, Month: MonthShort},
		ContainerName: DefaultContainerName,
		Interval:      DefaultInterval,
		KeepFor:       DefaultKeepFor,
		Debug:         Debug{Enabled: false, EntropyBits: 64, Radix: 16},
	}
}

func validContainerName(s string) bool { return strings.TrimSpace(s) != "" }

// validPeriod accepts positive durations expressed in whole milliseconds.
func validPeriod(d time.Duration) bool {
	return d > 0 && d%time.Millisecond == 0
}
