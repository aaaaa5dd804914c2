// Package bridge exposes the sidecar's command surface to the editor
// over JSON-RPC: the control-plane operations, the cached views, and
// the run-view message protocol. It is the only package that maps
// tagged outcomes onto wire errors.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"mlbridge/sidecar/internal/assist"
	"mlbridge/sidecar/internal/controlplane"
	"mlbridge/sidecar/internal/jsonrpc"
	"mlbridge/sidecar/internal/mirror"
	"mlbridge/sidecar/internal/notify"
	"mlbridge/sidecar/internal/settings"
	"mlbridge/sidecar/internal/telemetry"
)

// Handler routes editor requests. Implements middleware.RequestProcessor.
type Handler struct {
	client     *controlplane.Client
	mirror     *mirror.Mirror
	store      *settings.Store
	assistant  *assist.Assistant
	dispatcher *notify.Dispatcher
	emitter    *telemetry.Emitter

	viewMu sync.Mutex
	views  map[string]*viewState
}

// NewHandler wires the bridge. assistant may be nil when no API key is
// configured; the chat commands then fail cleanly.
func NewHandler(client *controlplane.Client, m *mirror.Mirror, store *settings.Store, assistant *assist.Assistant, dispatcher *notify.Dispatcher, emitter *telemetry.Emitter) *Handler {
	return &Handler{
		client:     client,
		mirror:     m,
		store:      store,
		assistant:  assistant,
		dispatcher: dispatcher,
		emitter:    emitter,
		views:      make(map[string]*viewState),
	}
}

// ProcessRequest routes a JSON-RPC request to the appropriate handler.
// Called by the transport middleware.
func (h *Handler) ProcessRequest(ctx context.Context, req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	switch req.Method {
	// Flavors and component types
	case "listFlavors":
		return outcomeResult(h.client.ListFlavors(ctx))
	case "getComponentTypes":
		return outcomeResult(h.client.GetComponentTypes(ctx))

	// Components
	case "listComponents":
		return outcomeResult(h.client.ListComponents(ctx))
	case "registerComponent":
		return h.handleRegisterComponent(ctx, req)
	case "updateComponent":
		return h.handleUpdateComponent(ctx, req)
	case "deleteComponent":
		return h.handleByID(ctx, req, h.client.DeleteComponent)

	// Stacks
	case "listStacks":
		return outcomeResult(h.client.ListStacks(ctx))
	case "createStack":
		return h.handleCreateStack(ctx, req)
	case "updateStack":
		return h.handleUpdateStack(ctx, req)
	case "deleteStack":
		return h.handleByID(ctx, req, h.client.DeleteStack)
	case "switchActiveStack":
		return h.handleByID(ctx, req, h.client.SwitchActiveStack)
	case "renameStack":
		return h.handleRename(ctx, req, h.client.RenameStack)
	case "copyStack":
		return h.handleRename(ctx, req, h.client.CopyStack)

	// Deployments
	case "listDeployments":
		return outcomeResult(h.client.ListDeployments(ctx))
	case "provisionDeployment":
		return h.handleProvisionDeployment(ctx, req)
	case "deprovisionDeployment":
		return h.handleByID(ctx, req, h.client.DeprovisionDeployment)
	case "deleteDeployment":
		return h.handleByID(ctx, req, h.client.DeleteDeployment)
	case "refreshDeploymentStatus":
		return h.handleByID(ctx, req, h.client.RefreshDeploymentStatus)
	case "invokeDeployment":
		return h.handleInvokeDeployment(ctx, req)
	case "getDeploymentLogs":
		return h.handleByID(ctx, req, h.client.GetDeploymentLogs)

	// Runs
	case "listPipelineRuns":
		return outcomeResult(h.client.ListPipelineRuns(ctx))
	case "getPipelineRun":
		return h.handleByID(ctx, req, h.client.GetPipelineRun)
	case "deletePipelineRun":
		return h.handleByID(ctx, req, h.client.DeletePipelineRun)

	// Projects and server
	case "listProjects":
		return outcomeResult(h.client.ListProjects(ctx))
	case "getActiveProject":
		return outcomeResult(h.client.GetActiveProject(ctx))
	case "setActiveProject":
		return h.handleSetActiveProject(ctx, req)
	case "getServerStatus":
		return outcomeResult(h.client.GetServerStatus(ctx))

	// Local state
	case "getEnvironment":
		return h.dispatcher.Env(), nil
	case "getCachedState":
		return h.mirror.State(), nil

	// Run view message protocol
	case "runView":
		return h.handleViewMessage(ctx, req)

	default:
		return nil, &jsonrpc.Error{Code: jsonrpc.MethodNotFound, Message: "Method not found"}
	}
}

// =============================================================================
// Parameterized handlers
// =============================================================================

func decodeParams[T any](req *jsonrpc.Request) (T, *jsonrpc.Error) {
	var params T
	paramsBytes, err := json.Marshal(req.Params)
	if err != nil {
		return params, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "Invalid params"}
	}
	if err := json.Unmarshal(paramsBytes, &params); err != nil {
		return params, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "Invalid params structure"}
	}
	return params, nil
}

type idParams struct {
	ID string `json:"id"`
}

func (h *Handler) handleByID(ctx context.Context, req *jsonrpc.Request, op func(context.Context, string) controlplane.Outcome) (interface{}, *jsonrpc.Error) {
	params, rpcErr := decodeParams[idParams](req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.ID == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "id is required"}
	}
	return outcomeResult(op(ctx, params.ID))
}

type renameParams struct {
	ID      string `json:"id"`
	NewName string `json:"new_name"`
}

func (h *Handler) handleRename(ctx context.Context, req *jsonrpc.Request, op func(context.Context, string, string) controlplane.Outcome) (interface{}, *jsonrpc.Error) {
	params, rpcErr := decodeParams[renameParams](req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.ID == "" || params.NewName == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "id and new_name are required"}
	}
	return outcomeResult(op(ctx, params.ID, params.NewName))
}

type stackParams struct {
	ID         string              `json:"id,omitempty"`
	Name       string              `json:"name"`
	Components map[string][]string `json:"components"`
}

func (h *Handler) handleCreateStack(ctx context.Context, req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	params, rpcErr := decodeParams[stackParams](req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Name == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "name is required"}
	}
	return outcomeResult(h.client.CreateStack(ctx, params.Name, params.Components))
}

func (h *Handler) handleUpdateStack(ctx context.Context, req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	params, rpcErr := decodeParams[stackParams](req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.ID == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "id is required"}
	}
	return outcomeResult(h.client.UpdateStack(ctx, params.ID, params.Name, params.Components))
}

type componentParams struct {
	ID     string         `json:"id,omitempty"`
	Type   string         `json:"type,omitempty"`
	Flavor string         `json:"flavor,omitempty"`
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

func (h *Handler) handleRegisterComponent(ctx context.Context, req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	params, rpcErr := decodeParams[componentParams](req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Type == "" || params.Flavor == "" || params.Name == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "type, flavor and name are required"}
	}
	return outcomeResult(h.client.RegisterComponent(ctx, params.Type, params.Flavor, params.Name, params.Config))
}

func (h *Handler) handleUpdateComponent(ctx context.Context, req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	params, rpcErr := decodeParams[componentParams](req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.ID == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "id is required"}
	}
	return outcomeResult(h.client.UpdateComponent(ctx, params.ID, params.Name, params.Config))
}

type deploymentParams struct {
	ID      string         `json:"id,omitempty"`
	Name    string         `json:"name,omitempty"`
	Config  map[string]any `json:"config,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (h *Handler) handleProvisionDeployment(ctx context.Context, req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	params, rpcErr := decodeParams[deploymentParams](req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Name == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "name is required"}
	}
	return outcomeResult(h.client.ProvisionDeployment(ctx, params.Name, params.Config))
}

func (h *Handler) handleInvokeDeployment(ctx context.Context, req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	params, rpcErr := decodeParams[deploymentParams](req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.ID == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "id is required"}
	}
	return outcomeResult(h.client.InvokeDeployment(ctx, params.ID, params.Payload))
}

type projectParams struct {
	Name string `json:"name"`
}

func (h *Handler) handleSetActiveProject(ctx context.Context, req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	params, rpcErr := decodeParams[projectParams](req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Name == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "name is required"}
	}
	out := h.client.SetActiveProject(ctx, params.Name)
	if out.IsSuccess() {
		if err := h.store.Set(settings.KeyActiveProject, params.Name); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: fmt.Sprintf("persist active project: %v", err)}
		}
	}
	return outcomeResult(out)
}

// =============================================================================
// Outcome mapping
// =============================================================================

// outcomeResult maps a tagged outcome onto the wire: success payloads
// pass through raw, version skew gets its own code with both versions
// in the data, and a missing transport maps to the not-ready code so
// the editor can queue a retry instead of surfacing an error.
func outcomeResult(out controlplane.Outcome) (interface{}, *jsonrpc.Error) {
	switch {
	case out.Mismatch != nil:
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.ErrVersionMismatch,
			Message: fmt.Sprintf("version mismatch: client %s, server %s", out.Mismatch.ClientVersion, out.Mismatch.ServerVersion),
			Data:    out.Mismatch,
		}
	case out.NotReady():
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrNotReady, Message: out.Err}
	case out.Err != "":
		return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: out.Err}
	default:
		return out.Payload, nil
	}
}
