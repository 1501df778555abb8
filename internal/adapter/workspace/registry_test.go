package workspace

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/GGUFloader/agentcore/internal/domain/safety"
	"github.com/GGUFloader/agentcore/internal/port/toolexec"
)

// fakeGate implements toolexec.Validator for testing.
type fakeGate struct {
	deny    bool
	details []string
	opTypes []string
}

var _ toolexec.Validator = (*fakeGate)(nil)

func (g *fakeGate) Validate(_ context.Context, opType, details string, _ map[string]any) (bool, *safety.Violation) {
	g.opTypes = append(g.opTypes, opType)
	g.details = append(g.details, details)
	if g.deny {
		return false, &safety.Violation{ID: "v1", RuleID: "file_overwrite", RuleName: "File Overwrite", RiskLevel: safety.RiskHigh, Blocked: true}
	}
	return true, nil
}

func TestRegistryTools(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	var names []string
	for _, d := range r.Tools() {
		names = append(names, d.Name)
	}
	want := []string{
		"directory_analysis", "edit_file", "execute_command", "file_metadata",
		"list_directory", "read_file", "search_files", "write_file",
	}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v", names)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	res := r.Execute(context.Background(), "format_disk", nil)
	if res.OK() || res.Error != "Unknown tool: format_disk" {
		t.Fatalf("result = %+v", res)
	}
	avail, ok := res.Metadata["available_tools"].([]string)
	if !ok || len(avail) != 8 || !slices.Contains(avail, "read_file") {
		t.Errorf("available_tools = %v", res.Metadata["available_tools"])
	}
	if _, seen := r.Stats()["format_disk"]; seen {
		t.Error("unknown tools should not get stats")
	}
}

func TestRegistryMissingParameter(t *testing.T) {
	gate := &fakeGate{}
	r, _ := newTestRegistry(t, Options{Validator: gate})
	res := r.Execute(context.Background(), "write_file", map[string]any{"path": "a.txt"})
	if res.OK() || !strings.Contains(res.Error, `missing required parameter "content"`) {
		t.Errorf("result = %+v", res)
	}
	if len(gate.details) != 0 {
		t.Error("invalid calls should not reach the safety gate")
	}
	if s := r.Stats()["write_file"]; s.Calls != 1 || s.Failures != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRegistrySafetyGate(t *testing.T) {
	gate := &fakeGate{}
	r, root := newTestRegistry(t, Options{Validator: gate})
	writeFiles(t, root, map[string]string{"a.txt": "x"})

	mustRun(t, r, "read_file", map[string]any{"path": "a.txt"})
	if len(gate.details) != 1 || gate.opTypes[0] != "tool_execution" || gate.details[0] != `Tool: read_file, Parameters: {"path":"a.txt"}` {
		t.Errorf("gate saw %v %v", gate.opTypes, gate.details)
	}

	gate.deny = true
	res := r.Execute(context.Background(), "write_file", map[string]any{"path": "a.txt", "content": "y"})
	if res.OK() || res.Error != "Operation blocked by safety policy: File Overwrite" {
		t.Fatalf("blocked result = %+v", res)
	}
	if res.Metadata["rule_id"] != "file_overwrite" || res.Metadata["risk_level"] != "high" {
		t.Errorf("metadata = %v", res.Metadata)
	}
	data := readFile(t, root, "a.txt")
	if data != "x" {
		t.Errorf("blocked write changed the file: %q", data)
	}
	if s := r.Stats()["write_file"]; s.Blocked != 1 || s.Failures != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRegistryRecoversPanics(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	r.tools["explode"] = tool{
		desc: toolexec.Descriptor{Name: "explode"},
		run: func(context.Context, map[string]any) (any, error) {
			panic("kaboom")
		},
	}
	res := r.Execute(context.Background(), "explode", nil)
	if res.OK() || !strings.Contains(res.Error, "kaboom") {
		t.Errorf("result = %+v", res)
	}
	if s := r.Stats()["explode"]; s.Failures != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRegistryStats(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	mustRun(t, r, "list_directory", nil)
	mustRun(t, r, "list_directory", nil)
	r.Execute(context.Background(), "list_directory", map[string]any{"path": "nope"})

	s := r.Stats()["list_directory"]
	if s.Calls != 3 || s.Failures != 1 || s.LastUsed.IsZero() {
		t.Errorf("stats = %+v", s)
	}
}

func readFile(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, name))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
