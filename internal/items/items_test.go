package items

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	logx "mudbooker/pkg/logx"
)

func TestFileSourceFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    int
	}{
		{"json list", "tabs.json", `[{"title":"A","url":"https://a"},{"title":"B","url":"https://b"}]`, 2},
		{"json object", "tabs.json", `{"items":[{"title":"A","url":"https://a"}]}`, 1},
		{"yaml list", "tabs.yaml", "- title: A\n  url: https://a\n", 1},
		{"yaml object", "tabs.yml", "items:\n  - title: A\n    url: https://a\n  - title: C\n    url: https://c\n", 2},
		{"empty file", "tabs.yaml", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			src, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			got, err := src.List(context.Background())
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("List = %d items, want %d", len(got), tt.want)
			}
			if tt.want > 0 && (got[0].Title != "A" || got[0].URL != "https://a") {
				t.Fatalf("first item = %+v", got[0])
			}
		})
	}
}

func TestFileSourceRereads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabs.json")
	_ = os.WriteFile(path, []byte(`[{"title":"A","url":"https://a"}]`), 0o600)
	src, _ := Open(Config{Driver: "file", Path: path}, logx.Nop())

	if got, _ := src.List(context.Background()); len(got) != 1 {
		t.Fatalf("first List = %v", got)
	}
	_ = os.WriteFile(path, []byte(`[]`), 0o600)
	if got, _ := src.List(context.Background()); len(got) != 0 {
		t.Fatalf("second List = %v", got)
	}
}

func TestFileSourceErrors(t *testing.T) {
	dir := t.TempDir()
	src, _ := Open(Config{Driver: "file", Path: filepath.Join(dir, "missing.json")}, logx.Nop())
	if _, err := src.List(context.Background()); err == nil {
		t.Fatal("missing file should fail")
	}

	bad := filepath.Join(dir, "bad.yaml")
	_ = os.WriteFile(bad, []byte("just a string"), 0o600)
	src, _ = Open(Config{Driver: "file", Path: bad}, logx.Nop())
	if _, err := src.List(context.Background()); err == nil {
		t.Fatal("scalar document should fail")
	}

	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path should fail")
	}
	if _, err := Open(Config{Driver: "browser"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
}

func TestStaticSourceCopies(t *testing.T) {
	in := []Item{{Title: "A", URL: "https://a"}}
	src := Static(in)
	in[0].Title = "changed"

	got, err := src.List(context.Background())
	if err != nil || len(got) != 1 || got[0].Title != "A" {
		t.Fatalf("List = %v, %v", got, err)
	}
	got[0].Title = "mutated"
	again, _ := src.List(context.Background())
	if again[0].Title != "A" {
		t.Fatal("List must return a copy")
	}
}
