package controlplane

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mlbridge/sidecar/internal/telemetry"
)

// notReadyMessage is the synthesized error for calls made before a
// transport exists. The wording keeps the "not ready" keyword that the
// classifier keys on.
const notReadyMessage = "control plane transport is not ready"

// NotReady reports whether the outcome is the preflight failure issued
// when no transport is connected.
func (o Outcome) NotReady() bool {
	return o.Err == notReadyMessage
}

// Client issues named commands to the control plane and returns tagged
// outcomes. It owns the single live transport; swapping connections
// stops the old instance before installing the new one so two
// connections never race to deliver notifications.
type Client struct {
	mu        sync.Mutex
	transport Transport

	emitter *telemetry.Emitter
	tracer  trace.Tracer
}

// NewClient creates a client with no transport. Calls made before
// SetTransport return a not-ready failure without going anywhere.
func NewClient(emitter *telemetry.Emitter) *Client {
	return &Client{
		emitter: emitter,
		tracer:  otel.Tracer("mlbridge/sidecar/controlplane"),
	}
}

// SetTransport installs t as the only live connection, stopping the
// previous one first. Passing nil just disconnects.
func (c *Client) SetTransport(t Transport) {
	c.mu.Lock()
	old := c.transport
	c.transport = nil
	c.mu.Unlock()

	if old != nil {
		old.Stop()
	}

	if t != nil {
		c.mu.Lock()
		c.transport = t
		c.mu.Unlock()
	}
}

// Transport returns the current connection, or nil when disconnected.
func (c *Client) Transport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// Ready reports whether a transport is installed.
func (c *Client) Ready() bool {
	return c.Transport() != nil
}

// Call sends one named command with positional args. Every error
// outcome — preflight, transport-level, or response-level — is
// classified and emitted as privacy-safe telemetry before returning.
// Call never panics and never returns a partially populated Outcome.
func (c *Client) Call(ctx context.Context, operation string, args ...any) Outcome {
	ctx, span := c.tracer.Start(ctx, "controlplane.call",
		trace.WithAttributes(attribute.String("rpc.method", operation)))
	defer span.End()

	t := c.Transport()
	if t == nil {
		c.emitter.EmitError(operation, telemetry.PhasePreflight, notReadyMessage)
		span.SetAttributes(attribute.String("rpc.outcome", "not_ready"))
		return Failure(notReadyMessage)
	}

	if args == nil {
		args = []any{}
	}
	payload, err := t.Call(ctx, operation, args)
	if err != nil {
		c.emitter.EmitError(operation, telemetry.PhaseRequest, err)
		span.SetAttributes(attribute.String("rpc.outcome", "request_failed"))
		return Failure(err.Error())
	}

	outcome := interpret(payload)
	switch {
	case outcome.Mismatch != nil:
		c.emitter.EmitError(operation, telemetry.PhaseResponse, payload)
		span.SetAttributes(attribute.String("rpc.outcome", "version_mismatch"))
	case outcome.Err != "":
		c.emitter.EmitError(operation, telemetry.PhaseResponse, outcome.Err)
		span.SetAttributes(attribute.String("rpc.outcome", "response_error"))
	default:
		span.SetAttributes(attribute.String("rpc.outcome", "success"))
	}
	return outcome
}
