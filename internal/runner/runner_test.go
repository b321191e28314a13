package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mudbooker/internal/eventbus"
	"mudbooker/internal/items"
	"mudbooker/internal/notifier"
	"mudbooker/internal/settings"
	"mudbooker/internal/storage"
	logx "mudbooker/pkg/logx"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type recNotifier struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (n *recNotifier) Notify(ctx context.Context, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, title+": "+message)
	return n.err
}

type fixture struct {
	clk   *clock
	store storage.Store
	state *settings.State
	note  *recNotifier
	bus   eventbus.Bus
	r     *Runner
}

func newFixture(t *testing.T, list []items.Item) *fixture {
	t.Helper()
	clk := &clock{t: time.Date(2024, 1, 5, 14, 30, 0, 0, time.UTC)}
	st, err := storage.Open(storage.Config{Driver: "memory", Now: clk.now}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		clk:   clk,
		store: st,
		state: settings.New(settings.Defaults(), logx.Nop()),
		note:  &recNotifier{},
		bus:   eventbus.New(),
	}
	f.r = New(Deps{
		Settings: f.state,
		Items:    items.Static(list),
		Store:    st,
		Notifier: f.note,
		Bus:      f.bus,
		Log:      logx.Nop(),
		Now:      clk.now,
	})
	return f
}

var twoItems = []items.Item{
	{Title: "Go", URL: "https://go.dev"},
	{Title: "Example", URL: "https://example.com"},
}

func TestRunCreatesSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoItems)
	events, unsub := f.bus.Subscribe(4)
	defer unsub()

	res, err := f.r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Name != "Jan_05_2024_14h30_tabs" {
		t.Fatalf("Name = %q", res.Name)
	}
	if res.Created != 2 || res.Failed != 0 {
		t.Fatalf("Created/Failed = %d/%d", res.Created, res.Failed)
	}

	dest, err := f.store.FindByName(ctx, storage.RootID, settings.DefaultContainerName)
	if err != nil || dest.ID != res.DestinationID {
		t.Fatalf("destination = %+v, %v", dest, err)
	}
	kids, _ := f.store.ListChildren(ctx, res.FolderID)
	if len(kids) != 2 || kids[0].URL != "https://go.dev" {
		t.Fatalf("bookmarks = %+v", kids)
	}

	kv, _ := f.store.Get(ctx, []string{settings.KeyLastRun, settings.KeyNextRun})
	wantLast := f.clk.t.UnixMilli()
	if kv[settings.KeyLastRun] != float64(wantLast) || kv[settings.KeyNextRun] != float64(wantLast+time.Hour.Milliseconds()) {
		t.Fatalf("persisted run state = %#v", kv)
	}
	rs, err := ReadRunState(ctx, f.store)
	if err != nil || !rs.NextRun.Equal(f.clk.t.Add(time.Hour)) {
		t.Fatalf("ReadRunState = %+v, %v", rs, err)
	}
	if f.r.State() != res.RunState {
		t.Fatalf("State() = %+v, want %+v", f.r.State(), res.RunState)
	}

	if len(f.note.msgs) != 1 || f.note.msgs[0] != "MudBooker: 14:30 - 2 items were bookmarked" {
		t.Fatalf("notifications = %v", f.note.msgs)
	}

	select {
	case ev := <-events:
		if ev.Type != eventbus.CycleCompleted {
			t.Fatalf("event = %s", ev.Type)
		}
	default:
		t.Fatal("no completion event")
	}
}

func TestRunReusesDestination(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoItems)
	first, _ := f.r.Run(ctx)
	f.clk.t = f.clk.t.Add(time.Hour)
	second, err := f.r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.DestinationID != second.DestinationID {
		t.Fatal("second cycle created another destination")
	}
	roots, _ := f.store.ListChildren(ctx, storage.RootID)
	if len(roots) != 1 {
		t.Fatalf("root children = %d, want 1", len(roots))
	}
}

func TestRunSkipsFailedItems(t *testing.T) {
	f := newFixture(t, []items.Item{
		{Title: "ok", URL: "https://ok"},
		{Title: "no url"},
		{Title: "ok2", URL: "https://ok2"},
	})
	res, err := f.r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Created != 2 || res.Failed != 1 || res.Items != 3 {
		t.Fatalf("Result = %+v", res)
	}
	if !strings.Contains(f.note.msgs[0], "2 items") {
		t.Fatalf("notification should count created items: %v", f.note.msgs)
	}
}

func TestRunNotifyFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, twoItems)
	f.note.err = notifier.ErrQueueFull
	if _, err := f.r.Run(context.Background()); err != nil {
		t.Fatalf("Run should ignore notify errors: %v", err)
	}
}

type failingItems struct{}

func (failingItems) List(context.Context) ([]items.Item, error) { return nil, errors.New("browser gone") }

func TestRunFailsWhenItemsUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.r.deps.Items = failingItems{}
	events, unsub := f.bus.Subscribe(4)
	defer unsub()

	if _, err := f.r.Run(context.Background()); err == nil {
		t.Fatal("expected capture error")
	}
	if ev := <-events; ev.Type != eventbus.CycleFailed {
		t.Fatalf("event = %s, want %s", ev.Type, eventbus.CycleFailed)
	}
	roots, _ := f.store.ListChildren(context.Background(), storage.RootID)
	if len(roots) != 0 {
		t.Fatal("nothing should be created when capture fails")
	}
}

func TestRunPrunesWithCurrentKeepFor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoItems)
	f.state.SetKeepFor(2 * time.Hour)

	var ids []string
	for i := 0; i < 5; i++ {
		res, err := f.r.Run(ctx)
		if err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		ids = append(ids, res.FolderID)
		f.clk.t = f.clk.t.Add(time.Hour)
	}
	// Cycles at t0..t4; the fifth prune runs at t4 with cutoff t2:
	// t0, t1, t2 are expired, t2 survives.
	dest, _ := f.store.FindByName(ctx, storage.RootID, settings.DefaultContainerName)
	kids, _ := f.store.ListChildren(ctx, dest.ID)
	got := map[string]bool{}
	for _, k := range kids {
		got[k.ID] = true
	}
	if len(kids) != 3 || !got[ids[2]] || !got[ids[3]] || !got[ids[4]] {
		t.Fatalf("remaining snapshots = %+v", kids)
	}
}

func TestPlanPrune(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoItems)

	plan, err := f.r.PlanPrune(ctx)
	if err != nil || len(plan) != 0 {
		t.Fatalf("PlanPrune without destination = %v, %v", plan, err)
	}

	f.state.SetKeepFor(time.Hour)
	for i := 0; i < 3; i++ {
		_, _ = f.r.Run(ctx)
		f.clk.t = f.clk.t.Add(30 * time.Minute)
	}
	// All three are expired; the newest of them survives.
	f.clk.t = f.clk.t.Add(5 * time.Hour)
	plan, err = f.r.PlanPrune(ctx)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("PlanPrune = %d folders, want 2", len(plan))
	}
	rep, err := f.r.Prune(ctx)
	if err != nil || len(rep.Deleted) != 2 {
		t.Fatalf("Prune = %+v, %v", rep, err)
	}
}
