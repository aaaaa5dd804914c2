package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mlbridge/sidecar/internal/controlplane"
	"mlbridge/sidecar/internal/events"
	"mlbridge/sidecar/internal/jsonrpc"
	"mlbridge/sidecar/internal/settings"
	"mlbridge/sidecar/internal/telemetry"
)

// fakeStore implements Settings with scriptable failures.
type fakeStore struct {
	mu       sync.Mutex
	vals     map[string]string
	failSets int // fail this many Set/SetServerConfig calls, then succeed
}

func newFakeStore() *fakeStore {
	return &fakeStore{vals: make(map[string]string)}
}

func (s *fakeStore) ServerURL() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vals[settings.KeyServerURL], nil
}

func (s *fakeStore) SetServerConfig(url, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSets > 0 {
		s.failSets--
		return errors.New("disk full")
	}
	s.vals[settings.KeyServerURL] = url
	s.vals[settings.KeyAccessToken] = token
	return nil
}

func (s *fakeStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSets > 0 {
		s.failSets--
		return errors.New("disk full")
	}
	s.vals[key] = value
	return nil
}

func (s *fakeStore) get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vals[key]
}

// stubTransport satisfies controlplane.Transport for lifecycle checks.
type stubTransport struct {
	stopped atomic.Bool
	notif   chan jsonrpc.Notification
}

func newStubTransport() *stubTransport {
	return &stubTransport{notif: make(chan jsonrpc.Notification, 8)}
}

func (t *stubTransport) Call(context.Context, string, []any) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
func (t *stubTransport) Notifications() <-chan jsonrpc.Notification { return t.notif }
func (t *stubTransport) Stop() error {
	t.stopped.Store(true)
	return nil
}

type dialRecord struct {
	mu    sync.Mutex
	urls  []string
	trans []*stubTransport
}

func (r *dialRecord) dialer() Dialer {
	return func(_ context.Context, url, _ string) (controlplane.Transport, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		t := newStubTransport()
		r.urls = append(r.urls, url)
		r.trans = append(r.trans, t)
		return t, nil
	}
}

func (r *dialRecord) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.urls)
}

func (r *dialRecord) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.urls) == 0 {
		return ""
	}
	return r.urls[len(r.urls)-1]
}

func newTestDispatcher(store Settings, dial Dialer) (*Dispatcher, *controlplane.Client, *events.Bus) {
	emitter := telemetry.NewEmitter(telemetry.NewLoki(telemetry.LokiConfig{}))
	client := controlplane.NewClient(emitter)
	bus := events.NewBus()
	d := NewDispatcher(client, store, bus, emitter, dial)
	d.reconnect = NewDebouncer(20 * time.Millisecond)
	d.retryDelay = time.Millisecond
	return d, client, bus
}

func notification(t *testing.T, method string, params any) jsonrpc.Notification {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return jsonrpc.Notification{JSONRPC: "2.0", Method: method, Params: raw}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDebouncerCollapsesBursts(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int32
	var got atomic.Value
	for i := 0; i < 5; i++ {
		arg := i
		d.Trigger(func() {
			fired.Add(1)
			got.Store(arg)
		})
	}

	waitFor(t, "debounced fire", func() bool { return fired.Load() > 0 })
	time.Sleep(50 * time.Millisecond) // no second firing may follow
	if fired.Load() != 1 {
		t.Errorf("fired %d times, want 1", fired.Load())
	}
	if got.Load().(int) != 4 {
		t.Errorf("executed with arg %v, want latest (4)", got.Load())
	}
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var fired atomic.Int32
	d.Trigger(func() { fired.Add(1) })
	d.Stop()
	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("stopped debouncer must not fire")
	}
}

func TestStackChangedPersistsAndBroadcasts(t *testing.T) {
	store := newFakeStore()
	d, _, bus := newTestDispatcher(store, (&dialRecord{}).dialer())
	defer bus.Close()
	defer d.Stop()

	ch, cancel := bus.Subscribe(events.TopicStacks)
	defer cancel()

	d.Handle(context.Background(), notification(t, MethodStackChanged, StackChangedParams{ID: "stack-9"}))

	if got := store.get(settings.KeyActiveStack); got != "stack-9" {
		t.Errorf("persisted stack = %q, want stack-9", got)
	}
	select {
	case ev := <-ch:
		if ev.Payload != "stack-9" {
			t.Errorf("event payload = %v", ev.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no stacks event broadcast")
	}
}

func TestProjectChangedPersistRetriesOnce(t *testing.T) {
	store := newFakeStore()
	store.failSets = 1 // first Set fails, retry succeeds
	d, _, bus := newTestDispatcher(store, (&dialRecord{}).dialer())
	defer bus.Close()
	defer d.Stop()

	d.Handle(context.Background(), notification(t, MethodProjectChanged, ProjectChangedParams{Name: "research"}))

	if got := store.get(settings.KeyActiveProject); got != "research" {
		t.Errorf("persisted project = %q, want research (via retry)", got)
	}
}

func TestServerChangedSameURLIsNoop(t *testing.T) {
	store := newFakeStore()
	store.vals[settings.KeyServerURL] = "ws://zen.local:8237"
	rec := &dialRecord{}
	d, client, bus := newTestDispatcher(store, rec.dialer())
	defer bus.Close()
	defer d.Stop()

	live := newStubTransport()
	client.SetTransport(live)

	d.Handle(context.Background(), notification(t, MethodServerChanged,
		ServerChangedParams{URL: "ws://zen.local:8237", AccessToken: "tok"}))

	time.Sleep(50 * time.Millisecond)
	if live.stopped.Load() {
		t.Error("unchanged URL must not tear down the live transport")
	}
	if rec.count() != 0 {
		t.Errorf("dialed %d times, want 0", rec.count())
	}
}

func TestServerChangedBurstReconnectsOnceWithLatest(t *testing.T) {
	store := newFakeStore()
	rec := &dialRecord{}
	d, client, bus := newTestDispatcher(store, rec.dialer())
	defer bus.Close()
	defer d.Stop()

	live := newStubTransport()
	client.SetTransport(live)

	ctx := context.Background()
	for _, url := range []string{"ws://a:1", "ws://b:2", "ws://c:3"} {
		d.Handle(ctx, notification(t, MethodServerChanged,
			ServerChangedParams{URL: url, AccessToken: "tok-" + url}))
	}

	if !live.stopped.Load() {
		t.Error("old transport must be stopped before reconnect")
	}

	waitFor(t, "debounced reconnect", func() bool { return rec.count() > 0 })
	time.Sleep(60 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("dialed %d times, want bursts collapsed into 1", rec.count())
	}
	if rec.last() != "ws://c:3" {
		t.Errorf("dialed %q, want the latest URL ws://c:3", rec.last())
	}
	if got := store.get(settings.KeyServerURL); got != "ws://c:3" {
		t.Errorf("persisted URL = %q, want ws://c:3", got)
	}
	waitFor(t, "new transport installed", func() bool { return client.Ready() })
}

func TestInstalledStatusUpdatesEnvironment(t *testing.T) {
	store := newFakeStore()
	d, _, bus := newTestDispatcher(store, (&dialRecord{}).dialer())
	defer bus.Close()
	defer d.Stop()

	ch, cancel := bus.Subscribe(events.TopicEnvironment)
	defer cancel()

	ctx := context.Background()
	d.Handle(ctx, notification(t, MethodInstalledStatus, InstalledStatusParams{IsInstalled: true, Version: "0.58.1"}))
	d.Handle(ctx, notification(t, MethodClientInitialized, ClientInitializedParams{Ready: true}))

	env := d.Env()
	if !env.Installed || env.InstalledVersion != "0.58.1" || !env.ClientReady {
		t.Errorf("env = %+v", env)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("missing environment refresh event")
		}
	}
}

func TestUnknownAndMalformedNotificationsAreDropped(t *testing.T) {
	store := newFakeStore()
	d, _, bus := newTestDispatcher(store, (&dialRecord{}).dialer())
	defer bus.Close()
	defer d.Stop()

	ctx := context.Background()
	d.Handle(ctx, jsonrpc.Notification{Method: "somethingElse", Params: json.RawMessage(`{}`)})
	d.Handle(ctx, jsonrpc.Notification{Method: MethodStackChanged, Params: json.RawMessage(`not json`)})

	if got := store.get(settings.KeyActiveStack); got != "" {
		t.Errorf("malformed payload must not persist anything, got %q", got)
	}
}

func TestPumpProcessesInArrivalOrder(t *testing.T) {
	store := newFakeStore()
	d, _, bus := newTestDispatcher(store, (&dialRecord{}).dialer())
	defer bus.Close()
	defer d.Stop()

	ch := make(chan jsonrpc.Notification, 8)
	for _, id := range []string{"s1", "s2", "s3"} {
		ch <- notification(t, MethodStackChanged, StackChangedParams{ID: id})
	}
	close(ch)

	d.Pump(context.Background(), ch) // returns when channel closes

	if got := store.get(settings.KeyActiveStack); got != "s3" {
		t.Errorf("final persisted stack = %q, want the last arrival s3", got)
	}
}
