package controlplane

import "context"

// =============================================================================
// Domain payloads
// =============================================================================

// Flavor is a named implementation template for a component type.
type Flavor struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	LogoURL  string `json:"logo_url,omitempty"`
	Docs     string `json:"docs,omitempty"`
	SDKDocs  string `json:"sdk_docs,omitempty"`
	Schema   any    `json:"config_schema,omitempty"`
	Provider string `json:"integration,omitempty"`
}

// Component is a configured instance of an infrastructure capability.
type Component struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Flavor string         `json:"flavor"`
	Config map[string]any `json:"config,omitempty"`
}

// Stack is a named collection of component references keyed by type.
type Stack struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Active     bool                   `json:"active,omitempty"`
	Components map[string][]Component `json:"components"`
}

// Project scopes stacks and runs on the control plane.
type Project struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Deployment is a provisioned, invocable endpoint.
type Deployment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	URL      string `json:"url,omitempty"`
	Pipeline string `json:"pipeline,omitempty"`
}

// PipelineRun is one execution of a pipeline.
type PipelineRun struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Pipeline  string `json:"pipeline"`
	StackName string `json:"stack_name,omitempty"`
	StartedAt string `json:"start_time,omitempty"`
	EndedAt   string `json:"end_time,omitempty"`
}

// RunStep is a node in a run's execution graph.
type RunStep struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Status  string   `json:"status"`
	After   []string `json:"after,omitempty"`   // upstream step IDs
	Inputs  []string `json:"inputs,omitempty"`  // consumed artifact IDs
	Outputs []string `json:"outputs,omitempty"` // produced artifact IDs
}

// RunArtifact is a data node produced by a step.
type RunArtifact struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// RunDetail is the full run payload used to build the DAG view.
type RunDetail struct {
	PipelineRun
	Steps     []RunStep     `json:"steps"`
	Artifacts []RunArtifact `json:"artifacts,omitempty"`
}

// ServerStatus describes the connected control plane.
type ServerStatus struct {
	URL       string `json:"url"`
	Version   string `json:"version"`
	StoreType string `json:"store_type,omitempty"`
	Dashboard string `json:"dashboard_url,omitempty"`
}

// =============================================================================
// Command surface
// =============================================================================
//
// Thin wrappers over Call. They keep command names in one place; callers
// interpret the Outcome (bridge maps it onto JSON-RPC, the mirror decodes
// payloads into the types above).

func (c *Client) ListFlavors(ctx context.Context) Outcome {
	return c.Call(ctx, "listFlavors")
}

func (c *Client) ListComponents(ctx context.Context) Outcome {
	return c.Call(ctx, "listComponents")
}

func (c *Client) GetComponentTypes(ctx context.Context) Outcome {
	return c.Call(ctx, "getComponentTypes")
}

func (c *Client) ListStacks(ctx context.Context) Outcome {
	return c.Call(ctx, "listStacks")
}

func (c *Client) CreateStack(ctx context.Context, name string, components map[string][]string) Outcome {
	return c.Call(ctx, "createStack", name, components)
}

func (c *Client) UpdateStack(ctx context.Context, id, name string, components map[string][]string) Outcome {
	return c.Call(ctx, "updateStack", id, name, components)
}

func (c *Client) DeleteStack(ctx context.Context, id string) Outcome {
	return c.Call(ctx, "deleteStack", id)
}

func (c *Client) SwitchActiveStack(ctx context.Context, id string) Outcome {
	return c.Call(ctx, "switchActiveStack", id)
}

func (c *Client) RenameStack(ctx context.Context, id, newName string) Outcome {
	return c.Call(ctx, "renameStack", id, newName)
}

func (c *Client) CopyStack(ctx context.Context, id, newName string) Outcome {
	return c.Call(ctx, "copyStack", id, newName)
}

func (c *Client) RegisterComponent(ctx context.Context, componentType, flavor, name string, config map[string]any) Outcome {
	return c.Call(ctx, "registerComponent", componentType, flavor, name, config)
}

func (c *Client) UpdateComponent(ctx context.Context, id, name string, config map[string]any) Outcome {
	return c.Call(ctx, "updateComponent", id, name, config)
}

func (c *Client) DeleteComponent(ctx context.Context, id string) Outcome {
	return c.Call(ctx, "deleteComponent", id)
}

func (c *Client) ListDeployments(ctx context.Context) Outcome {
	return c.Call(ctx, "listDeployments")
}

func (c *Client) ProvisionDeployment(ctx context.Context, name string, config map[string]any) Outcome {
	return c.Call(ctx, "provisionDeployment", name, config)
}

func (c *Client) DeprovisionDeployment(ctx context.Context, id string) Outcome {
	return c.Call(ctx, "deprovisionDeployment", id)
}

func (c *Client) DeleteDeployment(ctx context.Context, id string) Outcome {
	return c.Call(ctx, "deleteDeployment", id)
}

func (c *Client) RefreshDeploymentStatus(ctx context.Context, id string) Outcome {
	return c.Call(ctx, "refreshDeploymentStatus", id)
}

func (c *Client) InvokeDeployment(ctx context.Context, id string, payload map[string]any) Outcome {
	return c.Call(ctx, "invokeDeployment", id, payload)
}

func (c *Client) GetDeploymentLogs(ctx context.Context, id string) Outcome {
	return c.Call(ctx, "getDeploymentLogs", id)
}

func (c *Client) GetActiveProject(ctx context.Context) Outcome {
	return c.Call(ctx, "getActiveProject")
}

func (c *Client) SetActiveProject(ctx context.Context, name string) Outcome {
	return c.Call(ctx, "setActiveProject", name)
}

func (c *Client) ListProjects(ctx context.Context) Outcome {
	return c.Call(ctx, "listProjects")
}

func (c *Client) ListPipelineRuns(ctx context.Context) Outcome {
	return c.Call(ctx, "listPipelineRuns")
}

func (c *Client) GetPipelineRun(ctx context.Context, id string) Outcome {
	return c.Call(ctx, "getPipelineRun", id)
}

func (c *Client) DeletePipelineRun(ctx context.Context, id string) Outcome {
	return c.Call(ctx, "deletePipelineRun", id)
}

func (c *Client) GetServerStatus(ctx context.Context) Outcome {
	return c.Call(ctx, "getServerStatus")
}
