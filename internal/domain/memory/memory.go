// Package memory provides the domain model for the agent's task and file
// modification memory used for redundancy detection.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// ModificationType classifies a file change.
type ModificationType string

const (
	ModCreated  ModificationType = "created"
	ModModified ModificationType = "modified"
	ModDeleted  ModificationType = "deleted"
)

// ValidModificationTypes lists all valid modification types.
var ValidModificationTypes = []ModificationType{ModCreated, ModModified, ModDeleted}

// CompletedTask is a task the agent finished, keyed by its signature for
// redundancy lookup.
type CompletedTask struct {
	TaskID        string         `json:"task_id"`
	Description   string         `json:"description"`
	CompletedAt   time.Time      `json:"completed_at"`
	WorkspacePath string         `json:"workspace_path"`
	ToolCallsUsed []string       `json:"tool_calls_used"`
	ResultSummary string         `json:"result_summary"`
	SessionID     string         `json:"session_id,omitempty"`
	Metadata      map[string]any `json:"metadata"`
}

// Signature returns the task's redundancy signature.
func (t *CompletedTask) Signature() string {
	return Signature(t.Description, t.WorkspacePath, t.ToolCallsUsed)
}

// FileModification is one entry of the append-only file change log.
type FileModification struct {
	FilePath         string           `json:"file_path"`
	ModificationType ModificationType `json:"modification_type"`
	Timestamp        time.Time        `json:"timestamp"`
	ContentHash      string           `json:"content_hash,omitempty"`
	SizeBytes        *int64           `json:"size_bytes,omitempty"`
	ToolUsed         string           `json:"tool_used"`
	SessionID        string           `json:"session_id"`
	Metadata         map[string]any   `json:"metadata"`
}

// Snapshot is the persisted form of the whole memory store.
type Snapshot struct {
	CompletedTasks    map[string]CompletedTask `json:"completed_tasks"`
	FileModifications []FileModification       `json:"file_modifications"`
	TaskSignatures    map[string]string        `json:"task_signatures"`
	FileHashes        map[string]string        `json:"file_hashes"`
	SavedAt           time.Time                `json:"saved_at"`
}

// NewSnapshot returns an empty snapshot with non-nil collections.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		CompletedTasks:    make(map[string]CompletedTask),
		FileModifications: []FileModification{},
		TaskSignatures:    make(map[string]string),
		FileHashes:        make(map[string]string),
	}
}

// Normalize replaces nil collections with empty ones. Loaders call it after
// decoding documents that omit keys.
func (s *Snapshot) Normalize() {
	if s.CompletedTasks == nil {
		s.CompletedTasks = make(map[string]CompletedTask)
	}
	if s.FileModifications == nil {
		s.FileModifications = []FileModification{}
	}
	if s.TaskSignatures == nil {
		s.TaskSignatures = make(map[string]string)
	}
	if s.FileHashes == nil {
		s.FileHashes = make(map[string]string)
	}
}

// Stats summarises memory usage.
type Stats struct {
	CompletedTasks       int  `json:"completed_tasks"`
	FileModifications    int  `json:"file_modifications"`
	TaskSignatures       int  `json:"task_signatures"`
	FileHashes           int  `json:"file_hashes"`
	RetentionDays        int  `json:"memory_retention_days"`
	MaxCompletedTasks    int  `json:"max_completed_tasks"`
	MaxFileModifications int  `json:"max_file_modifications"`
	PersistenceEnabled   bool `json:"persistence_enabled"`
}

// signatureKey has its fields in sorted key order so the encoding is
// canonical.
type signatureKey struct {
	Description string   `json:"description"`
	Tools       []string `json:"tools"`
	Workspace   string   `json:"workspace"`
}

// Signature derives the deterministic task signature: the first 16 hex
// characters of the SHA-256 of the canonical JSON of the lower-cased,
// trimmed description, the workspace and the sorted tool names.
func Signature(description, workspace string, tools []string) string {
	sorted := slices.Clone(tools)
	if sorted == nil {
		sorted = []string{}
	}
	slices.Sort(sorted)

	key := signatureKey{
		Description: strings.ToLower(strings.TrimSpace(description)),
		Tools:       sorted,
		Workspace:   workspace,
	}
	data, _ := json.Marshal(key) // cannot fail for strings
	return ContentHash(data)
}

// ContentHash returns the first 16 hex characters of the SHA-256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
