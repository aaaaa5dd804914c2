package bridge

import (
	"context"
	"encoding/json"

	"mlbridge/sidecar/internal/controlplane"
	"mlbridge/sidecar/internal/dag"
	"mlbridge/sidecar/internal/jsonrpc"
	"mlbridge/sidecar/internal/telemetry"
)

// viewMessage is the run-view protocol envelope: a command discriminator
// plus command-specific fields.
type viewMessage struct {
	Command    string `json:"command"`
	Session    string `json:"session"`
	RunID      string `json:"runId,omitempty"`
	StepID     string `json:"stepId,omitempty"`
	ArtifactID string `json:"artifactId,omitempty"`
	Message    string `json:"message,omitempty"`
	StepName   string `json:"stepName,omitempty"`
	Error      string `json:"error,omitempty"`
}

// viewState is what the bridge remembers per open run view.
type viewState struct {
	runID string
	graph *dag.Graph
}

// handleViewMessage routes one run-view message. create and update both
// (re)build the graph, so a stale view heals itself on the next update.
func (h *Handler) handleViewMessage(ctx context.Context, req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	msg, rpcErr := decodeParams[viewMessage](req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if msg.Session == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "session is required"}
	}

	switch msg.Command {
	case "register":
		h.viewMu.Lock()
		if _, ok := h.views[msg.Session]; !ok {
			h.views[msg.Session] = &viewState{}
		}
		h.viewMu.Unlock()
		return map[string]bool{"registered": true}, nil

	case "create", "update":
		if msg.RunID == "" {
			return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "runId is required"}
		}
		return h.buildRunGraph(ctx, msg.Session, msg.RunID)

	case "fail":
		// The view reports its own rendering failures; they go into
		// telemetry like any other error.
		h.emitter.EmitError("runView", telemetry.PhaseNone, msg.Error)
		return map[string]bool{"reported": true}, nil

	case "step":
		return h.lookupNode(msg.Session, msg.StepID, (*dag.Graph).Step, "step")
	case "artifact":
		return h.lookupNode(msg.Session, msg.ArtifactID, (*dag.Graph).Artifact, "artifact")

	case "stepUrl":
		return h.resolveURL(msg.Session, msg.StepID, func(r *dag.Resolver, runID string) string {
			return r.StepURL(runID, msg.StepID)
		})
	case "artifactUrl":
		return h.resolveURL(msg.Session, msg.ArtifactID, func(r *dag.Resolver, runID string) string {
			return r.ArtifactURL(runID, msg.ArtifactID)
		})

	case "sendMessage":
		if h.assistant == nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: "assistant is not configured"}
		}
		if msg.StepName != "" && msg.Error != "" {
			reply, err := h.assistant.SuggestFix(ctx, msg.Session, msg.StepName, msg.Error)
			if err != nil {
				return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: err.Error()}
			}
			return map[string]string{"reply": reply}, nil
		}
		reply, err := h.assistant.SendMessage(ctx, msg.Session, msg.Message)
		if err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: err.Error()}
		}
		return map[string]string{"reply": reply}, nil

	case "clearChat":
		if h.assistant != nil {
			h.assistant.ClearChat(msg.Session)
		}
		return map[string]bool{"cleared": true}, nil

	default:
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "unknown view command: " + msg.Command}
	}
}

// buildRunGraph fetches the run, builds its graph, caches it for the
// session, and returns the rendered document.
func (h *Handler) buildRunGraph(ctx context.Context, session, runID string) (interface{}, *jsonrpc.Error) {
	out := h.client.GetPipelineRun(ctx, runID)
	if !out.IsSuccess() {
		return outcomeResult(out)
	}

	var detail controlplane.RunDetail
	if err := out.Decode(&detail); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: "decode run payload: " + err.Error()}
	}
	graph, err := dag.Build(&detail)
	if err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: err.Error()}
	}

	h.viewMu.Lock()
	h.views[session] = &viewState{runID: runID, graph: graph}
	h.viewMu.Unlock()

	return json.RawMessage(graph.Render()), nil
}

func (h *Handler) lookupNode(session, id string, get func(*dag.Graph, string) *dag.Node, kind string) (interface{}, *jsonrpc.Error) {
	if id == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: kind + " id is required"}
	}
	graph := h.sessionGraph(session)
	if graph == nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "no run loaded for session"}
	}
	node := get(graph, id)
	if node == nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "unknown " + kind + ": " + id}
	}
	return node, nil
}

func (h *Handler) resolveURL(session, id string, resolve func(*dag.Resolver, string) string) (interface{}, *jsonrpc.Error) {
	if id == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "id is required"}
	}
	h.viewMu.Lock()
	state := h.views[session]
	h.viewMu.Unlock()
	if state == nil || state.graph == nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "no run loaded for session"}
	}

	status := h.mirror.State().Status
	if status == nil || status.Dashboard == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: "dashboard URL unknown; server status not loaded"}
	}
	url := resolve(dag.NewResolver(status.Dashboard), state.runID)
	return map[string]string{"url": url}, nil
}

func (h *Handler) sessionGraph(session string) *dag.Graph {
	h.viewMu.Lock()
	defer h.viewMu.Unlock()
	if state := h.views[session]; state != nil {
		return state.graph
	}
	return nil
}
