package memory

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSignatureDeterministic(t *testing.T) {
	a := Signature("  List Files ", "/ws", []string{"read_file", "list_directory"})
	b := Signature("list files", "/ws", []string{"list_directory", "read_file"})
	if a != b {
		t.Errorf("signature should ignore case, whitespace and tool order: %s != %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %d", len(a))
	}
}

func TestSignatureDiffers(t *testing.T) {
	base := Signature("list files", "/ws", []string{"list_directory"})
	tests := []struct {
		name string
		sig  string
	}{
		{"description", Signature("read files", "/ws", []string{"list_directory"})},
		{"workspace", Signature("list files", "/other", []string{"list_directory"})},
		{"tools", Signature("list files", "/ws", []string{"read_file"})},
		{"no tools", Signature("list files", "/ws", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.sig == base {
				t.Errorf("signature should change with %s", tt.name)
			}
		})
	}
}

func TestSignatureDoesNotMutateInput(t *testing.T) {
	tools := []string{"b", "a"}
	Signature("x", "y", tools)
	if tools[0] != "b" {
		t.Error("Signature must not sort the caller's slice")
	}
}

func TestContentHash(t *testing.T) {
	// sha256("hello") = 2cf24dba5fb0a30e...
	if got := ContentHash([]byte("hello")); got != "2cf24dba5fb0a30e" {
		t.Errorf("ContentHash = %s", got)
	}
}

func TestSnapshotNormalize(t *testing.T) {
	var s Snapshot
	if err := json.Unmarshal([]byte(`{"saved_at":"2026-01-01T00:00:00Z"}`), &s); err != nil {
		t.Fatal(err)
	}
	s.Normalize()
	if s.CompletedTasks == nil || s.TaskSignatures == nil || s.FileHashes == nil || s.FileModifications == nil {
		t.Error("Normalize should fill nil collections")
	}
}

func TestSnapshotJSONKeepsNanoseconds(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.UTC)
	s := NewSnapshot()
	s.CompletedTasks["t"] = CompletedTask{TaskID: "t", CompletedAt: ts}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var out Snapshot
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if !out.CompletedTasks["t"].CompletedAt.Equal(ts) {
		t.Errorf("timestamp lost precision: %v", out.CompletedTasks["t"].CompletedAt)
	}
}
