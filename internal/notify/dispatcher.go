// Package notify applies the control plane's push notifications to
// local state. Notifications are processed strictly in arrival order on
// a single goroutine; handlers only persist, flip flags, and broadcast
// invalidation events — the views they invalidate refresh idempotently,
// so a superseded refresh is harmless.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"mlbridge/sidecar/internal/controlplane"
	"mlbridge/sidecar/internal/events"
	"mlbridge/sidecar/internal/jsonrpc"
	"mlbridge/sidecar/internal/settings"
	"mlbridge/sidecar/internal/telemetry"
)

// Push notification methods sent by the control plane.
const (
	MethodServerChanged     = "serverChanged"
	MethodStackChanged      = "stackChanged"
	MethodProjectChanged    = "projectChanged"
	MethodInstalledStatus   = "installedStatus"
	MethodClientInitialized = "clientInitialized"
)

// Notification payloads. All are idempotent-safe to apply repeatedly.
type (
	ServerChangedParams struct {
		URL         string `json:"url"`
		AccessToken string `json:"access_token"`
	}
	StackChangedParams struct {
		ID string `json:"id"`
	}
	ProjectChangedParams struct {
		Name string `json:"name"`
	}
	InstalledStatusParams struct {
		IsInstalled bool   `json:"is_installed"`
		Version     string `json:"version"`
	}
	ClientInitializedParams struct {
		Ready bool `json:"ready"`
	}
)

// Settings is the slice of the settings store the dispatcher needs.
type Settings interface {
	ServerURL() (string, error)
	SetServerConfig(url, token string) error
	Set(key, value string) error
}

// Dialer opens a new transport to the given server.
type Dialer func(ctx context.Context, url, token string) (controlplane.Transport, error)

// Default timing. Overridable per-dispatcher for tests.
const (
	ReconnectSettle   = 500 * time.Millisecond
	PersistRetryDelay = 2 * time.Second
)

// Environment is the in-memory installation/readiness snapshot.
type Environment struct {
	Installed        bool
	InstalledVersion string
	ClientReady      bool
}

// Dispatcher consumes push notifications and keeps local state
// consistent: persisted settings, connection lifecycle, and the event
// bus that drives view refreshes.
type Dispatcher struct {
	client  *controlplane.Client
	store   Settings
	bus     *events.Bus
	emitter *telemetry.Emitter
	dial    Dialer

	reconnect  *Debouncer
	retryDelay time.Duration

	mu  sync.Mutex
	env Environment
}

// NewDispatcher wires a dispatcher. dial is invoked (debounced) after a
// server-changed notification announces a new URL.
func NewDispatcher(client *controlplane.Client, store Settings, bus *events.Bus, emitter *telemetry.Emitter, dial Dialer) *Dispatcher {
	return &Dispatcher{
		client:     client,
		store:      store,
		bus:        bus,
		emitter:    emitter,
		dial:       dial,
		reconnect:  NewDebouncer(ReconnectSettle),
		retryDelay: PersistRetryDelay,
	}
}

// Pump forwards one transport's notifications into Handle until the
// channel closes or ctx is done. Run it on its own goroutine per
// installed transport; only one transport is ever live, so arrival
// order is preserved.
func (d *Dispatcher) Pump(ctx context.Context, ch <-chan jsonrpc.Notification) {
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return
			}
			d.Handle(ctx, n)
		case <-ctx.Done():
			return
		}
	}
}

// Handle applies one notification. Unknown methods are logged and
// dropped; a malformed payload never crashes the dispatcher.
func (d *Dispatcher) Handle(ctx context.Context, n jsonrpc.Notification) {
	switch n.Method {
	case MethodServerChanged:
		var p ServerChangedParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			log.Printf("notify: bad %s payload: %v", n.Method, err)
			return
		}
		d.handleServerChanged(ctx, p)
	case MethodStackChanged:
		var p StackChangedParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			log.Printf("notify: bad %s payload: %v", n.Method, err)
			return
		}
		d.persistWithRetry(settings.KeyActiveStack, p.ID)
		d.bus.Publish(events.TopicStacks, p.ID)
	case MethodProjectChanged:
		var p ProjectChangedParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			log.Printf("notify: bad %s payload: %v", n.Method, err)
			return
		}
		d.persistWithRetry(settings.KeyActiveProject, p.Name)
		d.bus.Publish(events.TopicProject, p.Name)
	case MethodInstalledStatus:
		var p InstalledStatusParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			log.Printf("notify: bad %s payload: %v", n.Method, err)
			return
		}
		d.mu.Lock()
		d.env.Installed = p.IsInstalled
		d.env.InstalledVersion = p.Version
		d.mu.Unlock()
		d.bus.Publish(events.TopicEnvironment, nil)
	case MethodClientInitialized:
		var p ClientInitializedParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			log.Printf("notify: bad %s payload: %v", n.Method, err)
			return
		}
		d.mu.Lock()
		d.env.ClientReady = p.Ready
		d.mu.Unlock()
		d.bus.Publish(events.TopicEnvironment, nil)
	default:
		log.Printf("notify: ignoring unknown notification %s", n.Method)
	}
}

// handleServerChanged reacts to a server config announcement: when the
// URL actually changed, stop the live connection first (never two
// transports at once), persist the new pair, and schedule one debounced
// reconnect carrying the latest announced address.
func (d *Dispatcher) handleServerChanged(ctx context.Context, p ServerChangedParams) {
	current, err := d.store.ServerURL()
	if err != nil {
		log.Printf("notify: read server url: %v", err)
	}
	if p.URL == current {
		return
	}

	d.client.SetTransport(nil)

	if err := d.store.SetServerConfig(p.URL, p.AccessToken); err != nil {
		time.Sleep(d.retryDelay)
		if err := d.store.SetServerConfig(p.URL, p.AccessToken); err != nil {
			log.Printf("notify: persist server config failed twice: %v", err)
			d.emitter.EmitError("persistServerConfig", telemetry.PhaseNone, err)
		}
	}

	url, token := p.URL, p.AccessToken
	d.reconnect.Trigger(func() {
		d.Reconnect(ctx, url, token)
	})
	d.bus.Publish(events.TopicServer, p.URL)
}

// Reconnect dials the control plane and installs the new transport,
// starting a pump for its notification stream. Dial failures are
// reported but not retried; the next server-changed push or manual
// connect attempt tries again.
func (d *Dispatcher) Reconnect(ctx context.Context, url, token string) {
	if url == "" {
		return
	}
	t, err := d.dial(ctx, url, token)
	if err != nil {
		log.Printf("notify: reconnect to %s failed: %v", url, err)
		d.emitter.EmitError("reconnect", telemetry.PhaseRequest, err)
		return
	}
	d.client.SetTransport(t)
	go d.Pump(ctx, t.Notifications())
	d.emitter.EmitEvent("reconnected", nil)
	d.bus.Publish(events.TopicServer, url)
}

// Env returns the current installation/readiness snapshot.
func (d *Dispatcher) Env() Environment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.env
}

// Stop cancels any pending debounced reconnect.
func (d *Dispatcher) Stop() {
	d.reconnect.Stop()
}

// persistWithRetry writes one setting with a single bounded retry.
func (d *Dispatcher) persistWithRetry(key, value string) {
	if err := d.store.Set(key, value); err == nil {
		return
	}
	time.Sleep(d.retryDelay)
	if err := d.store.Set(key, value); err != nil {
		log.Printf("notify: persist %s failed twice: %v", key, err)
		d.emitter.EmitError("persistSetting", telemetry.PhaseNone, err)
	}
}
