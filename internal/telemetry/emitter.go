package telemetry

import (
	"context"
	"log"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Emitter is the privacy-safe error telemetry sink. It classifies raw
// error values into (kind, source, message-hash) signatures, deduplicates
// repeats inside the window, and pushes the signature — never the raw
// message — to Loki and an OTel counter.
type Emitter struct {
	loki         *LokiClient
	dedupe       *Deduper
	errCounter   metric.Int64Counter
	notReadySent atomic.Bool
	emitted      atomic.Int64
}

// Emitted returns how many error signatures were actually emitted (after
// dedupe). Exposed on the environment status surface.
func (e *Emitter) Emitted() int64 { return e.emitted.Load() }

// NewEmitter wires a classifier/dedupe pipeline in front of the given
// Loki client.
func NewEmitter(loki *LokiClient) *Emitter {
	meter := otel.Meter("mlbridge/sidecar/telemetry")
	errCounter, err := meter.Int64Counter("mlbridge.rpc.errors",
		metric.WithDescription("Classified remote call errors"))
	if err != nil {
		log.Printf("telemetry: failed to create error counter: %v", err)
	}
	return &Emitter{
		loki:       loki,
		dedupe:     NewDeduper(Window),
		errCounter: errCounter,
	}
}

// EmitError reports one error occurrence for the given operation and
// phase. Emission is suppressed when the same (operation, phase, kind,
// hash) signature fired within the last window; the preflight not-ready
// signature is additionally capped at one occurrence per process
// lifetime. This path must never break the operation it reports on, so
// any internal panic is swallowed.
func (e *Emitter) EmitError(operation string, phase Phase, errValue any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("telemetry: emit recovered: %v", r)
		}
	}()
	if e == nil {
		return
	}

	msg := ExtractMessage(errValue)
	kind, source := Classify(msg, phase)
	hash := Hash(msg)

	if kind == KindNotReady && phase == PhasePreflight {
		if e.notReadySent.Swap(true) {
			return
		}
	}

	key := operation + ":" + string(phase) + ":" + string(kind) + ":" + hash
	if !e.dedupe.Allow(key) {
		return
	}
	e.emitted.Add(1)

	if e.errCounter != nil {
		e.errCounter.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("phase", string(phase)),
				attribute.String("kind", string(kind)),
				attribute.String("source", string(source)),
			))
	}

	e.loki.Push(
		map[string]string{
			"type":  "rpc_error",
			"kind":  string(kind),
			"level": "error",
		},
		map[string]any{
			"operation":    operation,
			"phase":        string(phase),
			"kind":         string(kind),
			"source":       string(source),
			"message_hash": hash,
		},
	)
}

// EmitEvent pushes a non-error lifecycle event (reconnects, panics
// recovered, settings persisted). Payload values must already be
// privacy-safe; callers never put raw error messages here.
func (e *Emitter) EmitEvent(event string, details map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("telemetry: emit recovered: %v", r)
		}
	}()
	if e == nil {
		return
	}

	data := map[string]any{"event": event}
	for k, v := range details {
		data[k] = v
	}
	e.loki.Push(map[string]string{"type": "lifecycle", "level": "info"}, data)
}
