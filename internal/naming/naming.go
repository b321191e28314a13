// Package naming builds snapshot folder names from the current time and the
// user's naming settings.
package naming

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strings"
	"time"

	"mudbooker/internal/settings"
)

var separators = regexp.MustCompile(`[\s.,]+`)

// Base returns the deterministic part of a snapshot name: the formatted date,
// normalized, wrapped in the configured prefix and suffix.
func Base(now time.Time, s settings.Settings) string {
	name := normalize(formatDate(now, s.Format))
	if s.Prefix != "" {
		name = s.Prefix + name
	}
	if s.Suffix != "" {
		name += s.Suffix
	}
	return name
}

// formatDate renders now in fixed en-US shapes on a 24h clock:
//
//	numeric month:     1/05/2024, 14:30
//	short/long month:  Jan 05, 2024, 14:30
func formatDate(now time.Time, f settings.DateFormat) string {
	year := "2006"
	if f.Year == settings.YearTwoDigit {
		year = "06"
	}
	var layout string
	switch f.Month {
	case settings.MonthNumeric:
		layout = "1/02/" + year + ", 15:04"
	case settings.MonthLong:
		layout = "January 02, " + year + ", 15:04"
	default:
		layout = "Jan 02, " + year + ", 15:04"
	}
	return now.Format(layout)
}

func normalize(s string) string {
	s = separators.ReplaceAllString(s, "_")
	return strings.Replace(s, ":", "h", 1)
}

// Policy appends a random token to Base when debug naming is enabled.
type Policy struct {
	// Random is the entropy source for debug tokens; nil means crypto/rand.
	Random io.Reader
}

// Name returns the full snapshot name for now.
func (p Policy) Name(now time.Time, s settings.Settings) (string, error) {
	name := Base(now, s)
	if !s.Debug.Enabled {
		return name, nil
	}
	tok, err := p.token(s.Debug)
	if err != nil {
		return "", fmt.Errorf("debug token: %w", err)
	}
	return name + "_" + tok, nil
}

func (p Policy) token(d settings.Debug) (string, error) {
	if !d.Valid() {
		return "", fmt.Errorf("invalid debug settings: bits=%d radix=%d", d.EntropyBits, d.Radix)
	}
	r := p.Random
	if r == nil {
		r = rand.Reader
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(d.EntropyBits))
	n, err := rand.Int(r, limit)
	if err != nil {
		return "", err
	}
	return n.Text(d.Radix), nil
}
