package settings

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MergeVersion is the layout of the flat key/value settings understood by Merge.
const MergeVersion = 1

// Storage keys.
const (
	KeyInterval        = "interval"
	KeyCustomInterval  = "custom_interval"
	KeyKeepFor         = "keepfor"
	KeyCustomKeepFor   = "custom_keepfor"
	KeyPrefix          = "prefix"
	KeySuffix          = "suffix"
	KeyFormatYear      = "format_year"
	KeyFormatMonth     = "format_mon"
	KeyFolderName      = "folder_name"
	KeyLastRun         = "last"
	KeyNextRun         = "next"
	KeySettingsVersion = "settings_version"
)

// Keys are the storage keys read by Reload.
var Keys = []string{
	KeyInterval, KeyCustomInterval,
	KeyKeepFor, KeyCustomKeepFor,
	KeyPrefix, KeySuffix,
	KeyFormatYear, KeyFormatMonth,
	KeyFolderName,
	KeySettingsVersion,
}

// CategoryCustom redirects a category to its companion custom field.
const CategoryCustom = "c"

// Category tables: category value -> duration.
var (
	IntervalCategories = map[string]time.Duration{
		"1":  1 * time.Hour,
		"2":  2 * time.Hour,
		"3":  3 * time.Hour,
		"4":  4 * time.Hour,
		"6":  6 * time.Hour,
		"8":  8 * time.Hour,
		"12": 12 * time.Hour,
		"24": 24 * time.Hour,
	}
	KeepForCategories = map[string]time.Duration{
		"6":   6 * time.Hour,
		"12":  12 * time.Hour,
		"24":  24 * time.Hour,
		"48":  48 * time.Hour,
		"72":  72 * time.Hour,
		"168": 168 * time.Hour,
		"336": 336 * time.Hour,
		"720": 720 * time.Hour,
	}
)

// Custom field units: custom_interval is minutes, custom_keepfor is hours.
const (
	customIntervalUnit = time.Minute
	customKeepForUnit  = time.Hour
)

// Merge applies the well-formed keys of kv on top of cur and returns the result
// with the sorted list of keys it accepted. Missing, malformed or
// unknown keys leave the corresponding field as it was. Merge is pure.
//
// While cur.Debug.Enabled, interval and keep-for are not read from kv.
func Merge(cur Settings, kv map[string]any) (Settings, []string) {
	next := cur
	applied := make([]string, 0, len(kv))
	mark := func(ok bool, key string) {
		if ok {
			applied = append(applied, key)
		}
	}

	if v, ok := kv[KeyPrefix].(string); ok {
		mark(setPrefix(&next, v), KeyPrefix)
	}
	if v, ok := kv[KeySuffix].(string); ok {
		mark(setSuffix(&next, v), KeySuffix)
	}
	if v, ok := kv[KeyFormatYear].(string); ok {
		mark(setFormat(&next, map[string]string{"year": v}) > 0, KeyFormatYear)
	}
	if v, ok := kv[KeyFormatMonth].(string); ok {
		mark(setFormat(&next, map[string]string{"month": v}) > 0, KeyFormatMonth)
	}
	if v, ok := kv[KeyFolderName].(string); ok {
		mark(setContainerName(&next, v), KeyFolderName)
	}

	if !cur.Debug.Enabled {
		if d, ok := resolvePeriod(kv, KeyInterval, KeyCustomInterval, IntervalCategories, customIntervalUnit); ok {
			mark(setInterval(&next, d), KeyInterval)
		}
		if d, ok := resolvePeriod(kv, KeyKeepFor, KeyCustomKeepFor, KeepForCategories, customKeepForUnit); ok {
			mark(setKeepFor(&next, d), KeyKeepFor)
		}
	}

	sort.Strings(applied)
	return next, applied
}

// resolvePeriod turns a category (plus its custom companion when the category
// is "c") into a duration.
func resolvePeriod(kv map[string]any, catKey, customKey string, table map[string]time.Duration, unit time.Duration) (time.Duration, bool) {
	cat, ok := asString(kv[catKey])
	if !ok {
		return 0, false
	}
	cat = strings.TrimSpace(cat)
	if cat == CategoryCustom {
		n, ok := asInt(kv[customKey])
		if !ok || n <= 0 || n > int64(math.MaxInt64/int64(unit)) {
			return 0, false
		}
		return time.Duration(n) * unit, true
	}
	d, ok := table[cat]
	return d, ok
}

func setPrefix(cur *Settings, v string) bool {
	cur.Prefix = v
	return true
}

func setSuffix(cur *Settings, v string) bool {
	cur.Suffix = v
	return true
}

func setFormat(cur *Settings, f map[string]string) int {
	n := 0
	for k, v := range f {
		switch k {
		case "year":
			if y := YearStyle(v); y.Valid() {
				cur.Format.Year = y
				n++
			}
		case "month":
			if m := MonthStyle(v); m.Valid() {
				cur.Format.Month = m
				n++
			}
		}
	}
	return n
}

func setContainerName(cur *Settings, v string) bool {
	if !validContainerName(v) {
		return false
	}
	cur.ContainerName = v
	return true
}

func setInterval(cur *Settings, d time.Duration) bool {
	if !validPeriod(d) {
		return false
	}
	cur.Interval = d
	return true
}

func setKeepFor(cur *Settings, d time.Duration) bool {
	if !validPeriod(d) {
		return false
	}
	cur.KeepFor = d
	return true
}

// rejectedKeys lists keys present in kv that did not change anything.
func rejectedKeys(kv map[string]any, applied []string, debug bool) []string {
	done := make(map[string]bool, len(applied))
	for _, k := range applied {
		done[k] = true
	}
	var out []string
	for _, k := range []string{KeyPrefix, KeySuffix, KeyFormatYear, KeyFormatMonth, KeyFolderName} {
		if _, ok := kv[k]; ok && !done[k] {
			out = append(out, k)
		}
	}
	if !debug {
		for _, k := range []string{KeyInterval, KeyKeepFor} {
			if _, ok := kv[k]; ok && !done[k] {
				out = append(out, k)
			}
		}
	}
	return out
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		if x != math.Trunc(x) {
			return "", false
		}
		return strconv.FormatInt(int64(x), 10), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	default:
		return "", false
	}
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.Abs(x) > math.MaxInt64/2 {
			return 0, false
		}
		return int64(x), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	default:
		return 0, false
	}
}
