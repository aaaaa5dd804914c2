package dag

import (
	"net/url"
	"strings"

	"github.com/go-faster/jx"
)

// Render encodes the graph as the compact JSON document the run view
// consumes: node metadata, downstream edges, and the precomputed
// display layers. Node and edge keys are emitted in sorted ID order so
// the output is deterministic.
func (g *Graph) Render() []byte {
	var e jx.Encoder
	e.ObjStart()

	e.FieldStart("run")
	e.Str(g.RunID)

	e.FieldStart("nodes")
	e.ObjStart()
	for _, id := range g.sortedIDs() {
		n := g.Nodes[id]
		e.FieldStart(id)
		e.ObjStart()
		e.FieldStart("kind")
		e.Str(string(n.Kind))
		e.FieldStart("name")
		e.Str(n.Name)
		if n.Status != "" {
			e.FieldStart("status")
			e.Str(n.Status)
		}
		if n.Type != "" {
			e.FieldStart("type")
			e.Str(n.Type)
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	e.FieldStart("edges")
	e.ObjStart()
	for _, id := range g.sortedIDs() {
		targets := g.Edges[id]
		if len(targets) == 0 {
			continue
		}
		e.FieldStart(id)
		e.ArrStart()
		for _, to := range targets {
			e.Str(to)
		}
		e.ArrEnd()
	}
	e.ObjEnd()

	e.FieldStart("layers")
	e.ArrStart()
	for _, layer := range g.layers {
		e.ArrStart()
		for _, id := range layer {
			e.Str(id)
		}
		e.ArrEnd()
	}
	e.ArrEnd()

	e.ObjEnd()
	return e.Bytes()
}

// =============================================================================
// Dashboard URLs
// =============================================================================

// Resolver turns node IDs into dashboard deep links for the stepUrl and
// artifactUrl view messages.
type Resolver struct {
	base string // dashboard base URL, no trailing slash
}

// NewResolver creates a resolver for a dashboard base URL.
func NewResolver(dashboardURL string) *Resolver {
	return &Resolver{base: strings.TrimRight(dashboardURL, "/")}
}

// StepURL returns the dashboard link for a step, or "" when no
// dashboard is configured.
func (r *Resolver) StepURL(runID, stepID string) string {
	return r.link(runID, "step", stepID)
}

// ArtifactURL returns the dashboard link for an artifact, or "" when no
// dashboard is configured.
func (r *Resolver) ArtifactURL(runID, artifactID string) string {
	return r.link(runID, "artifact", artifactID)
}

func (r *Resolver) link(runID, param, id string) string {
	if r.base == "" || runID == "" || id == "" {
		return ""
	}
	return r.base + "/runs/" + url.PathEscape(runID) + "?" + param + "=" + url.QueryEscape(id)
}
