package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/domain/agent"
	"github.com/GGUFloader/agentcore/internal/domain/memory"
	"github.com/GGUFloader/agentcore/internal/port/toolexec"
)

var _ toolexec.Registry = (*Registry)(nil)

// safetyOperation is the operation type passed to the Validator.
const safetyOperation = "tool_execution"

// ToolStats are the cumulative execution counters of one tool.
type ToolStats struct {
	Calls         int           `json:"calls"`
	Failures      int           `json:"failures"`
	Blocked       int           `json:"blocked"`
	TotalDuration time.Duration `json:"total_duration_ns"`
	LastUsed      time.Time     `json:"last_used,omitzero"`
}

// Options wires the registry to its collaborators. All fields are optional.
type Options struct {
	Validator toolexec.Validator
	Recorder  toolexec.ModificationRecorder
	Pool      *Pool
}

type tool struct {
	desc toolexec.Descriptor
	run  func(ctx context.Context, params map[string]any) (any, error)
}

// toolset holds what the tool implementations share.
type toolset struct {
	sb       *Sandbox
	filter   *CommandFilter
	cfg      config.Tools
	modified func(ctx context.Context, path string, mod memory.ModificationType, tool string, content []byte)
}

// Registry executes the workspace tools by name.
type Registry struct {
	tools map[string]tool
	names []string
	gate  toolexec.Validator
	rec   toolexec.ModificationRecorder
	pool  *Pool
	ts    *toolset

	mu      sync.Mutex
	session string
	stats   map[string]*ToolStats
}

// NewRegistry creates a registry whose tools operate inside sb.
func NewRegistry(sb *Sandbox, cfg config.Tools, opts Options) *Registry {
	r := &Registry{
		tools: map[string]tool{},
		gate:  opts.Validator,
		rec:   opts.Recorder,
		pool:  opts.Pool,
		stats: map[string]*ToolStats{},
	}
	if r.pool == nil {
		r.pool = NewPool(cfg.MaxConcurrent)
	}
	ts := &toolset{
		sb:       sb,
		filter:   NewCommandFilter(cfg.AllowedCommands, cfg.DeniedCommands),
		cfg:      cfg,
		modified: r.recordModification,
	}
	r.ts = ts

	for _, t := range []tool{
		{listDirectoryDesc, ts.listDirectory},
		{readFileDesc, ts.readFile},
		{writeFileDesc, ts.writeFile},
		{editFileDesc, ts.editFile},
		{searchFilesDesc, ts.searchFiles},
		{fileMetadataDesc, ts.fileMetadata},
		{directoryAnalysisDesc, ts.directoryAnalysis},
		{executeCommandDesc, ts.executeCommand},
	} {
		r.tools[t.desc.Name] = t
		r.names = append(r.names, t.desc.Name)
	}
	slices.Sort(r.names)
	return r
}

// SetSession sets the session ID attached to recorded file modifications.
func (r *Registry) SetSession(id string) {
	r.mu.Lock()
	r.session = id
	r.mu.Unlock()
}

// Workspace returns the sandbox root.
func (r *Registry) Workspace() string { return r.ts.sb.Root() }

// Filter returns the command filter used by execute_command.
func (r *Registry) Filter() *CommandFilter { return r.ts.filter }

// Tools describes the registered tools, sorted by name.
func (r *Registry) Tools() []toolexec.Descriptor {
	out := make([]toolexec.Descriptor, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.tools[n].desc)
	}
	return out
}

// Execute runs a tool. Unknown tools, invalid parameters, safety denials,
// tool errors and panics all yield an error result.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) agent.ToolResult {
	t, ok := r.tools[name]
	if !ok {
		res := agent.ErrorResult("", name, fmt.Sprintf("Unknown tool: %s", name))
		res.Metadata = map[string]any{"available_tools": slices.Clone(r.names)}
		return res
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := checkRequired(t.desc, params); err != nil {
		r.observe(name, 0, statFailed)
		return agent.ErrorResult("", name, err.Error())
	}

	if r.gate != nil {
		details, _ := json.Marshal(params)
		allowed, v := r.gate.Validate(ctx, safetyOperation,
			fmt.Sprintf("Tool: %s, Parameters: %s", name, details),
			map[string]any{"tool_name": name, "session_id": r.sessionID()})
		if !allowed {
			r.observe(name, 0, statBlocked)
			res := agent.ErrorResult("", name, "Operation blocked by safety policy")
			if v != nil {
				res.Error = fmt.Sprintf("Operation blocked by safety policy: %s", v.RuleName)
				res.Metadata = map[string]any{
					"violation_id": v.ID,
					"rule_id":      v.RuleID,
					"risk_level":   string(v.RiskLevel),
				}
			}
			return res
		}
	}

	start := time.Now()
	var out any
	err := r.pool.Run(ctx, func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				slog.Error("tool panicked", "tool", name, "panic", p)
				err = fmt.Errorf("tool %s panicked: %v", name, p)
			}
		}()
		out, err = t.run(ctx, params)
		return err
	})
	elapsed := time.Since(start)

	if err != nil {
		r.observe(name, elapsed, statFailed)
		slog.Warn("tool failed", "tool", name, "error", err, "duration", elapsed)
		res := agent.ErrorResult("", name, err.Error())
		res.ExecutionTime = elapsed
		var cerr *CommandError
		if errors.As(err, &cerr) {
			res.Result = cerr.Result
		}
		return res
	}
	r.observe(name, elapsed, statOK)
	return agent.ToolResult{ToolName: name, Status: agent.ResultSuccess, Result: out, ExecutionTime: elapsed}
}

// Stats returns a copy of the per-tool counters.
func (r *Registry) Stats() map[string]ToolStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ToolStats, len(r.stats))
	for k, v := range r.stats {
		out[k] = *v
	}
	return out
}

type statOutcome int

const (
	statOK statOutcome = iota
	statFailed
	statBlocked
)

func (r *Registry) observe(name string, d time.Duration, outcome statOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[name]
	if !ok {
		s = &ToolStats{}
		r.stats[name] = s
	}
	s.Calls++
	s.TotalDuration += d
	s.LastUsed = time.Now()
	switch outcome {
	case statFailed:
		s.Failures++
	case statBlocked:
		s.Blocked++
	}
}

func (r *Registry) sessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

func (r *Registry) recordModification(ctx context.Context, path string, mod memory.ModificationType, tool string, content []byte) {
	if r.rec == nil {
		return
	}
	r.rec.RecordFileModification(ctx, path, mod, tool, r.sessionID(), content,
		map[string]any{"workspace": r.ts.sb.Root()})
}

// dir resolves p and requires an existing directory.
func (t *toolset) dir(p string) (string, error) {
	target, err := t.sb.Resolve(p)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("%w: directory does not exist: %s", domain.ErrNotFound, p)
	case err != nil:
		return "", fmt.Errorf("stat %s: %w", p, err)
	case !info.IsDir():
		return "", fmt.Errorf("%w: path is not a directory: %s", domain.ErrValidation, p)
	}
	return target, nil
}

// file resolves p and requires an existing regular file.
func (t *toolset) file(p string) (string, fs.FileInfo, error) {
	target, err := t.sb.Resolve(p)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil, fmt.Errorf("%w: file does not exist: %s", domain.ErrNotFound, p)
	case err != nil:
		return "", nil, fmt.Errorf("stat %s: %w", p, err)
	case !info.Mode().IsRegular():
		return "", nil, fmt.Errorf("%w: path is not a file: %s", domain.ErrValidation, p)
	}
	return target, info, nil
}
