package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"mudbooker/internal/eventbus"
	"mudbooker/internal/notifier"
	"mudbooker/internal/retention"
	"mudbooker/internal/runner"
	logx "mudbooker/pkg/logx"
)

func TestObserveCycleEvents(t *testing.T) {
	c := NewCollector(false, logx.Nop())
	last := time.Date(2024, 1, 5, 14, 30, 0, 0, time.UTC)

	c.Observe(eventbus.Event{Type: eventbus.CycleCompleted, Data: runner.Result{
		Created:  3,
		Failed:   1,
		Took:     200 * time.Millisecond,
		RunState: runner.RunState{LastRun: last, NextRun: last.Add(time.Hour)},
		Pruned:   retention.Report{Deleted: []string{"a", "b"}, Failed: []string{"c"}},
	}})
	c.Observe(eventbus.Event{Type: eventbus.CycleFailed, Data: "boom"})
	c.Observe(eventbus.Event{Type: eventbus.CycleSkipped, Data: "tick"})
	c.Observe(eventbus.Event{Type: eventbus.CycleSkipped, Data: "restart"})
	c.Observe(eventbus.Event{Type: eventbus.SchedulerArmed, Data: 30 * time.Minute})
	c.Observe(eventbus.Event{Type: eventbus.SettingsReloaded})
	c.Observe(eventbus.Event{Type: notifier.EventSent})
	c.Observe(eventbus.Event{Type: "unrelated"})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"completed", testutil.ToFloat64(c.cycles.WithLabelValues("completed")), 1},
		{"failed", testutil.ToFloat64(c.cycles.WithLabelValues("failed")), 1},
		{"skipped", testutil.ToFloat64(c.cycles.WithLabelValues("skipped")), 2},
		{"created", testutil.ToFloat64(c.bookmarks.WithLabelValues("created")), 3},
		{"bookmark failures", testutil.ToFloat64(c.bookmarks.WithLabelValues("failed")), 1},
		{"pruned", testutil.ToFloat64(c.pruned), 2},
		{"prune failures", testutil.ToFloat64(c.pruneFailures), 1},
		{"last success", testutil.ToFloat64(c.lastSuccess), float64(last.Unix())},
		{"next run", testutil.ToFloat64(c.nextRun), float64(last.Add(time.Hour).Unix())},
		{"interval", testutil.ToFloat64(c.interval), 1800},
		{"reloads", testutil.ToFloat64(c.reloads), 1},
		{"sent", testutil.ToFloat64(c.notifications.WithLabelValues("sent")), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
	if n := testutil.CollectAndCount(c.cycleDuration); n != 1 {
		t.Fatalf("cycle duration series = %d", n)
	}
}

func TestConsumeStopsOnCancel(t *testing.T) {
	c := NewCollector(false, logx.Nop())
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, bus) }()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(c.reloads) == 0 && time.Now().Before(deadline) {
		bus.Publish(eventbus.Event{Type: eventbus.SettingsReloaded})
		time.Sleep(10 * time.Millisecond)
	}
	if testutil.ToFloat64(c.reloads) == 0 {
		t.Fatal("consumer never observed an event")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

func TestHandlerAuthAndHealth(t *testing.T) {
	c := NewCollector(false, logx.Nop())
	c.Observe(eventbus.Event{Type: eventbus.CycleFailed})

	var unhealthy atomic.Bool
	srv := NewServer(ServerConfig{Token: "s3cret"}, c.Registry(), func(context.Context) (map[string]any, error) {
		if unhealthy.Load() {
			return map[string]any{"scheduler": "stopped"}, errors.New("scheduler not running")
		}
		return map[string]any{"scheduler": "running"}, nil
	}, logx.Nop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	get := func(path, bearer string) (int, string) {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	if code, _ := get("/metrics", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
	if code, _ := get("/metrics?token=wrong", ""); code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", code)
	}
	code, body := get("/metrics", "s3cret")
	if code != http.StatusOK || !strings.Contains(body, `mudbooker_cycles_total{result="failed"} 1`) {
		t.Fatalf("metrics: %d\n%s", code, body)
	}

	code, body = get("/healthz?token=s3cret", "")
	var h map[string]any
	if err := json.Unmarshal([]byte(body), &h); err != nil || code != http.StatusOK || h["scheduler"] != "running" {
		t.Fatalf("healthz: %d %s", code, body)
	}
	unhealthy.Store(true)
	if code, _ = get("/healthz", "s3cret"); code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy: %d", code)
	}
	if code, _ = get("/debug/pprof/", "s3cret"); code != http.StatusNotFound {
		t.Fatalf("pprof off: %d", code)
	}
}

func TestHandlerPprof(t *testing.T) {
	srv := NewServer(ServerConfig{Token: "s3cret", Pprof: true}, nil, nil, logx.Nop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/debug/pprof/?token=s3cret")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pprof index: %d", resp.StatusCode)
	}
	resp, err = http.Get(ts.URL + "/debug/pprof/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("pprof without token: %d", resp.StatusCode)
	}
}

func TestServerLifecycle(t *testing.T) {
	srv := NewServer(ServerConfig{Enabled: true, Addr: "127.0.0.1:0"}, nil, nil, logx.Nop())
	srv.Start(context.Background())
	srv.Start(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for srv.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("server never bound")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	srv.Reconfigure(context.Background(), ServerConfig{Enabled: false})
	if srv.Addr() != "" {
		t.Fatal("disabled server still bound")
	}
	srv.Stop(context.Background())
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	srv := NewServer(ServerConfig{Enabled: true, Addr: "0.0.0.0:0"}, nil, nil, logx.Nop())
	if err := srv.serveOnce(context.Background()); err == nil {
		t.Fatal("expected insecure bind refusal")
	}
	for _, tc := range []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:1", true},
		{"localhost:1", true},
		{"[::1]:1", true},
		{":1", false},
		{"10.0.0.1:1", false},
		{"bogus", false},
	} {
		if got := isLoopbackAddr(tc.addr); got != tc.want {
			t.Errorf("isLoopbackAddr(%q) = %v", tc.addr, got)
		}
	}
}
