package telemetry

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDeduper(window time.Duration) (*Deduper, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
	d := NewDeduper(window)
	d.now = clock.now
	return d, clock
}

func TestDeduperSuppressesWithinWindow(t *testing.T) {
	d, clock := newTestDeduper(60 * time.Second)

	if !d.Allow("listStacks:response:response_error:abcd") {
		t.Fatal("first occurrence should be allowed")
	}
	clock.advance(10 * time.Second)
	if d.Allow("listStacks:response:response_error:abcd") {
		t.Error("repeat inside window should be suppressed")
	}
}

func TestDeduperReEmitsAfterWindow(t *testing.T) {
	d, clock := newTestDeduper(60 * time.Second)

	d.Allow("op:request:timeout:1111")
	clock.advance(61 * time.Second)
	if !d.Allow("op:request:timeout:1111") {
		t.Error("occurrence after window expiry should be emitted again")
	}
}

func TestDeduperKeysAreIndependent(t *testing.T) {
	d, _ := newTestDeduper(60 * time.Second)

	d.Allow("op:request:timeout:1111")
	if !d.Allow("op:request:timeout:2222") {
		t.Error("different hash should not be suppressed")
	}
	if !d.Allow("other:request:timeout:1111") {
		t.Error("different operation should not be suppressed")
	}
}

func TestDeduperPrunesLazily(t *testing.T) {
	d, clock := newTestDeduper(60 * time.Second)

	for i := 0; i < 10; i++ {
		d.Allow(fmt.Sprintf("op:request:timeout:%04d", i))
	}
	if d.Len() != 10 {
		t.Fatalf("expected 10 tracked keys, got %d", d.Len())
	}

	// Expired entries stay until the next scan interval elapses.
	clock.advance(2 * Window)
	d.Allow("fresh:request:timeout:ffff")
	if d.Len() != 1 {
		t.Errorf("expected stale keys pruned down to 1, got %d", d.Len())
	}
}

func TestEmitterNotReadyOncePerProcess(t *testing.T) {
	e := NewEmitter(NewLoki(LokiConfig{}))

	for i := 0; i < 5; i++ {
		e.EmitError("listStacks", PhasePreflight, "LSClient is not ready yet.")
	}
	if got := e.Emitted(); got != 1 {
		t.Errorf("preflight not-ready emitted %d times, want 1", got)
	}

	// Other signatures are unaffected by the lifetime cap.
	e.EmitError("listStacks", PhaseResponse, "ValidationError: bad spec")
	if got := e.Emitted(); got != 2 {
		t.Errorf("emitted = %d after distinct error, want 2", got)
	}
}

func TestEmitterDedupesSignatures(t *testing.T) {
	e := NewEmitter(NewLoki(LokiConfig{}))

	e.EmitError("deleteStack", PhaseResponse, "Stack a1b2c3d4-e5f6-7890-abcd-ef1234567890 not found")
	e.EmitError("deleteStack", PhaseResponse, "Stack 12345678-abcd-ef12-3456-789012345678 not found")
	if got := e.Emitted(); got != 1 {
		t.Errorf("normalization-equivalent errors emitted %d times, want 1", got)
	}
}

func TestEmitterNeverPanics(t *testing.T) {
	var e *Emitter
	e.EmitError("op", PhaseRequest, nil) // nil receiver is a no-op

	e = NewEmitter(nil)
	e.EmitError("op", PhaseRequest, struct{ X chan int }{}) // unusual value, must not panic
}
