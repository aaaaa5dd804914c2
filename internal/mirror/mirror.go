// Package mirror keeps a local cache of control-plane state for the
// views: stacks, components, deployments, runs, and server status.
// Refreshes are idempotent full replacements driven by invalidation
// events, so a redundant or superseded refresh never corrupts the
// cache. A disposed mirror discards in-flight results instead of
// applying them.
package mirror

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"

	"mlbridge/sidecar/internal/controlplane"
	"mlbridge/sidecar/internal/events"
)

// Snapshot is a point-in-time copy of the cached state.
type Snapshot struct {
	Stacks      []controlplane.Stack
	Components  []controlplane.Component
	Deployments []controlplane.Deployment
	Runs        []controlplane.PipelineRun
	Status      *controlplane.ServerStatus
}

// Mirror caches remote state and refreshes it when the event bus
// signals invalidation.
type Mirror struct {
	client *controlplane.Client
	bus    *events.Bus

	disposed atomic.Bool

	mu    sync.Mutex
	state Snapshot
}

// New creates a mirror over the given client and bus.
func New(client *controlplane.Client, bus *events.Bus) *Mirror {
	return &Mirror{client: client, bus: bus}
}

// Run subscribes to invalidation topics and refreshes the matching view
// until ctx is done or the subscription closes. A server event resets
// everything; the rest map to one view each.
func (m *Mirror) Run(ctx context.Context) {
	ch, cancel := m.bus.Subscribe(
		events.TopicServer,
		events.TopicStacks,
		events.TopicComponents,
		events.TopicDeployments,
		events.TopicRuns,
		events.TopicProject,
	)
	defer cancel()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.handle(ctx, ev.Topic)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Mirror) handle(ctx context.Context, topic events.Topic) {
	var err error
	switch topic {
	case events.TopicServer:
		err = m.RefreshAll(ctx)
	case events.TopicStacks:
		err = m.RefreshStacks(ctx)
	case events.TopicComponents:
		err = m.RefreshComponents(ctx)
	case events.TopicDeployments:
		err = m.RefreshDeployments(ctx)
	case events.TopicRuns, events.TopicProject:
		err = m.RefreshRuns(ctx)
	}
	if err != nil && !m.disposed.Load() {
		log.Printf("mirror: refresh %s: %v", topic, err)
	}
}

// =============================================================================
// Refresh
// =============================================================================

// refresh runs one list call and applies the decoded result, unless the
// mirror was disposed while the call was in flight.
func refresh[T any](m *Mirror, op func() controlplane.Outcome, apply func(*Snapshot, T)) error {
	if m.disposed.Load() {
		return nil
	}
	out := op()
	if !out.IsSuccess() {
		if out.Mismatch != nil {
			return errors.Errorf("version mismatch: client %s, server %s",
				out.Mismatch.ClientVersion, out.Mismatch.ServerVersion)
		}
		return errors.New(out.Err)
	}

	var decoded T
	if err := out.Decode(&decoded); err != nil {
		return errors.Wrap(err, "decode payload")
	}

	// Closed mid-refresh: drop the result on the floor.
	if m.disposed.Load() {
		return nil
	}
	m.mu.Lock()
	apply(&m.state, decoded)
	m.mu.Unlock()
	return nil
}

// RefreshStacks replaces the cached stack list.
func (m *Mirror) RefreshStacks(ctx context.Context) error {
	return refresh(m, func() controlplane.Outcome { return m.client.ListStacks(ctx) },
		func(s *Snapshot, v []controlplane.Stack) { s.Stacks = v })
}

// RefreshComponents replaces the cached component list.
func (m *Mirror) RefreshComponents(ctx context.Context) error {
	return refresh(m, func() controlplane.Outcome { return m.client.ListComponents(ctx) },
		func(s *Snapshot, v []controlplane.Component) { s.Components = v })
}

// RefreshDeployments replaces the cached deployment list.
func (m *Mirror) RefreshDeployments(ctx context.Context) error {
	return refresh(m, func() controlplane.Outcome { return m.client.ListDeployments(ctx) },
		func(s *Snapshot, v []controlplane.Deployment) { s.Deployments = v })
}

// RefreshRuns replaces the cached run list.
func (m *Mirror) RefreshRuns(ctx context.Context) error {
	return refresh(m, func() controlplane.Outcome { return m.client.ListPipelineRuns(ctx) },
		func(s *Snapshot, v []controlplane.PipelineRun) { s.Runs = v })
}

// RefreshStatus replaces the cached server status.
func (m *Mirror) RefreshStatus(ctx context.Context) error {
	return refresh(m, func() controlplane.Outcome { return m.client.GetServerStatus(ctx) },
		func(s *Snapshot, v controlplane.ServerStatus) { s.Status = &v })
}

// RefreshAll reloads every view, returning the first error but still
// attempting the rest.
func (m *Mirror) RefreshAll(ctx context.Context) error {
	var first error
	for _, f := range []func(context.Context) error{
		m.RefreshStatus,
		m.RefreshStacks,
		m.RefreshComponents,
		m.RefreshDeployments,
		m.RefreshRuns,
	} {
		if err := f(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// =============================================================================
// Queries
// =============================================================================

// State returns a copy of the cached snapshot.
func (m *Mirror) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Dispose marks the mirror closed. In-flight refreshes finish their
// network calls but never touch the cache afterwards.
func (m *Mirror) Dispose() {
	m.disposed.Store(true)
}

// Disposed reports whether the mirror has been closed.
func (m *Mirror) Disposed() bool {
	return m.disposed.Load()
}
