package naming

import (
	"bytes"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"mudbooker/internal/settings"
)

var at = time.Date(2024, time.January, 5, 14, 30, 59, 0, time.UTC)

func TestBase(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*settings.Settings)
		want   string
	}{
		{
			name:   "defaults",
			mutate: func(*settings.Settings) {},
			want:   "Jan_05_2024_14h30_tabs",
		},
		{
			name: "prefix and no suffix",
			mutate: func(s *settings.Settings) {
				s.Prefix = "auto-"
				s.Suffix = ""
			},
			want: "auto-Jan_05_2024_14h30",
		},
		{
			name: "long month two digit year",
			mutate: func(s *settings.Settings) {
				s.Format = settings.DateFormat{Year: settings.YearTwoDigit, Month: settings.MonthLong}
			},
			want: "January_05_24_14h30_tabs",
		},
		{
			name: "numeric month",
			mutate: func(s *settings.Settings) {
				s.Format.Month = settings.MonthNumeric
			},
			want: "1/05/2024_14h30_tabs",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := settings.Defaults()
			tt.mutate(&s)
			if got := Base(at, s); got != tt.want {
				t.Fatalf("Base = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBaseLeavesAffixesUntouched(t *testing.T) {
	s := settings.Defaults()
	s.Suffix = ":x"
	got := Base(at, s)
	if got != "Jan_05_2024_14h30:x" {
		t.Fatalf("Base = %q", got)
	}
}

func TestBaseIsDeterministic(t *testing.T) {
	s := settings.Defaults()
	s.Prefix = "p. "
	if a, b := Base(at, s), Base(at, s); a != b {
		t.Fatalf("non-deterministic: %q vs %q", a, b)
	}
}

func TestNameWithoutDebugEqualsBase(t *testing.T) {
	s := settings.Defaults()
	got, err := Policy{}.Name(at, s)
	if err != nil {
		t.Fatalf("Name: %v", err)
	}
	if got != Base(at, s) {
		t.Fatalf("Name = %q, want %q", got, Base(at, s))
	}
}

func TestNameDebugToken(t *testing.T) {
	s := settings.Defaults()
	s.Debug = settings.Debug{Enabled: true, EntropyBits: 16, Radix: 2}

	got, err := Policy{}.Name(at, s)
	if err != nil {
		t.Fatalf("Name: %v", err)
	}
	base := Base(at, s) + "_"
	if !strings.HasPrefix(got, base) {
		t.Fatalf("Name = %q, want prefix %q", got, base)
	}
	tok := strings.TrimPrefix(got, base)
	if tok == "" || len(tok) > 16 || strings.Trim(tok, "01") != "" {
		t.Fatalf("token %q is not a 16-bit binary number", tok)
	}
}

func TestNameDebugTokenFromReader(t *testing.T) {
	s := settings.Defaults()
	s.Debug = settings.Debug{Enabled: true, EntropyBits: 8, Radix: 16}

	got, err := Policy{Random: bytes.NewReader([]byte{0x2a})}.Name(at, s)
	if err != nil {
		t.Fatalf("Name: %v", err)
	}
	if want := Base(at, s) + "_" + big.NewInt(0x2a).Text(16); got != want {
		t.Fatalf("Name = %q, want %q", got, want)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestNameDebugTokenError(t *testing.T) {
	s := settings.Defaults()
	s.Debug.Enabled = true
	if _, err := (Policy{Random: failingReader{}}).Name(at, s); err == nil {
		t.Fatal("expected entropy error")
	}
}
