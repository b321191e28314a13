package main

import (
	"context"
	"reflect"
	"testing"
	"time"

	"mudbooker/internal/naming"
	"mudbooker/internal/settings"
	"mudbooker/internal/storage"
	logx "mudbooker/pkg/logx"
)

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments(
		[]string{"interval=c", "custom_interval=30", "suffix=", "prefix=a=b", "folder_name=42"},
		[]string{"format_mon"},
	)
	if err != nil {
		t.Fatalf("parseAssignments: %v", err)
	}
	want := map[string]any{
		"interval":        "c",
		"custom_interval": "30",
		"suffix":          "",
		"prefix":          "a=b",
		"folder_name":     "42",
		"format_mon":      nil,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}

	tests := []struct {
		name  string
		args  []string
		unset []string
	}{
		{"no equals", []string{"interval"}, nil},
		{"empty key", []string{"=3"}, nil},
		{"blank key", []string{" =x"}, nil},
		{"blank unset", nil, []string{" "}},
		{"set and unset", []string{"prefix=x"}, []string{"prefix"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseAssignments(tt.args, tt.unset); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// storeAndReload pushes CLI-style assignments through a memory store into a
// fresh settings state, the path `settings set` and a running app take.
func storeAndReload(t *testing.T, args ...string) settings.Settings {
	t.Helper()
	ctx := context.Background()
	kv, err := parseAssignments(args, nil)
	if err != nil {
		t.Fatalf("parseAssignments: %v", err)
	}
	store, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Set(ctx, kv); err != nil {
		t.Fatalf("Set: %v", err)
	}
	st := settings.New(settings.Defaults(), logx.Nop())
	if _, err := st.Reload(ctx, store); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	return st.Snapshot()
}

func TestEmptySuffixDisablesIt(t *testing.T) {
	s := storeAndReload(t, "suffix=", "prefix=")
	if s.Suffix != "" || s.Prefix != "" {
		t.Fatalf("prefix/suffix = %q/%q, want both empty", s.Prefix, s.Suffix)
	}
	now := time.Date(2024, time.March, 5, 9, 7, 0, 0, time.UTC)
	withSuffix := naming.Base(now, settings.Defaults())
	if got := naming.Base(now, s); got+settings.DefaultSuffix != withSuffix {
		t.Fatalf("Base = %q, want %q without the suffix", got, withSuffix)
	}
}

func TestDigitOnlyTextSettings(t *testing.T) {
	s := storeAndReload(t, "prefix=2024", "suffix=007", "folder_name=42", "interval=c", "custom_interval=30")
	if s.Prefix != "2024" || s.Suffix != "007" || s.ContainerName != "42" {
		t.Fatalf("naming = %q/%q/%q", s.Prefix, s.Suffix, s.ContainerName)
	}
	if s.Interval != 30*time.Minute {
		t.Fatalf("interval = %v, want 30m", s.Interval)
	}
}
