package dag

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"mlbridge/sidecar/internal/controlplane"
)

func linearRun() *controlplane.RunDetail {
	return &controlplane.RunDetail{
		PipelineRun: controlplane.PipelineRun{ID: "run-1", Name: "train", Status: "completed"},
		Steps: []controlplane.RunStep{
			{ID: "load", Name: "load_data", Status: "completed", Outputs: []string{"raw"}},
			{ID: "train", Name: "train_model", Status: "completed", Inputs: []string{"raw"}, Outputs: []string{"model"}},
			{ID: "eval", Name: "evaluate", Status: "running", After: []string{"train"}, Inputs: []string{"model"}},
		},
		Artifacts: []controlplane.RunArtifact{
			{ID: "raw", Name: "dataset", Type: "DatasetArtifact"},
			{ID: "model", Name: "model", Type: "ModelArtifact"},
		},
	}
}

func TestBuildLayersLinearRun(t *testing.T) {
	g, err := Build(linearRun())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	want := [][]string{
		{"load"},
		{"raw"},
		{"train"},
		{"model"},
		{"eval"},
	}
	if !reflect.DeepEqual(g.Layers(), want) {
		t.Errorf("layers = %v, want %v", g.Layers(), want)
	}
}

func TestBuildLayersAreStable(t *testing.T) {
	detail := &controlplane.RunDetail{
		PipelineRun: controlplane.PipelineRun{ID: "run-2"},
		Steps: []controlplane.RunStep{
			{ID: "c", Name: "c"},
			{ID: "a", Name: "a"},
			{ID: "b", Name: "b"},
			{ID: "sink", Name: "sink", After: []string{"a", "b", "c"}},
		},
	}

	first, err := Build(detail)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i := 0; i < 10; i++ {
		g, err := Build(detail)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if !reflect.DeepEqual(g.Layers(), first.Layers()) {
			t.Fatalf("layering not deterministic: %v vs %v", g.Layers(), first.Layers())
		}
	}
	if got := first.Layers()[0]; !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("roots = %v, want sorted a b c", got)
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	detail := &controlplane.RunDetail{
		PipelineRun: controlplane.PipelineRun{ID: "run-3"},
		Steps: []controlplane.RunStep{
			{ID: "a", Name: "a", After: []string{"b"}},
			{ID: "b", Name: "b", After: []string{"a"}},
		},
	}
	_, err := Build(detail)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error %q should name the cycle", err)
	}
}

func TestBuildRejectsUnknownReferences(t *testing.T) {
	cases := []struct {
		name string
		step controlplane.RunStep
	}{
		{"unknown after", controlplane.RunStep{ID: "s", After: []string{"ghost"}}},
		{"unknown input", controlplane.RunStep{ID: "s", Inputs: []string{"ghost"}}},
		{"unknown output", controlplane.RunStep{ID: "s", Outputs: []string{"ghost"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			detail := &controlplane.RunDetail{
				PipelineRun: controlplane.PipelineRun{ID: "run-4"},
				Steps:       []controlplane.RunStep{tc.step},
			}
			if _, err := Build(detail); err == nil {
				t.Error("expected error for dangling reference")
			}
		})
	}
}

func TestBuildRejectsDuplicateIDs(t *testing.T) {
	detail := &controlplane.RunDetail{
		PipelineRun: controlplane.PipelineRun{ID: "run-5"},
		Steps: []controlplane.RunStep{
			{ID: "x", Name: "first"},
			{ID: "x", Name: "second"},
		},
	}
	if _, err := Build(detail); err == nil {
		t.Error("expected duplicate id error")
	}
}

func TestRenderIsValidDeterministicJSON(t *testing.T) {
	g, err := Build(linearRun())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	out := g.Render()
	var doc struct {
		Run    string                       `json:"run"`
		Nodes  map[string]map[string]string `json:"nodes"`
		Edges  map[string][]string          `json:"edges"`
		Layers [][]string                   `json:"layers"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("render is not valid JSON: %v\n%s", err, out)
	}
	if doc.Run != "run-1" {
		t.Errorf("run = %q", doc.Run)
	}
	if doc.Nodes["train"]["kind"] != "step" || doc.Nodes["model"]["kind"] != "artifact" {
		t.Errorf("node kinds wrong: %v", doc.Nodes)
	}
	if len(doc.Layers) != 5 {
		t.Errorf("layers = %v", doc.Layers)
	}
	if !reflect.DeepEqual(out, g.Render()) {
		t.Error("render output must be byte-stable")
	}
}

func TestResolverURLs(t *testing.T) {
	r := NewResolver("https://dash.example.com/")
	if got := r.StepURL("run 1", "train"); got != "https://dash.example.com/runs/run%201?step=train" {
		t.Errorf("StepURL = %q", got)
	}
	if got := r.ArtifactURL("run-1", "model"); got != "https://dash.example.com/runs/run-1?artifact=model" {
		t.Errorf("ArtifactURL = %q", got)
	}
	if got := NewResolver("").StepURL("run-1", "train"); got != "" {
		t.Errorf("no dashboard should yield empty URL, got %q", got)
	}
}
