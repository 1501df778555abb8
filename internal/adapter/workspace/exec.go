package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/GGUFloader/agentcore/internal/port/toolexec"
)

const (
	defaultCommandTimeout = 30 * time.Second
	maxCommandTimeout     = 300 * time.Second
	defaultMaxOutputBytes = 100_000
	commandWaitDelay      = 2 * time.Second
)

// CommandResult is returned by execute_command.
type CommandResult struct {
	Command          string  `json:"command"`
	WorkingDirectory string  `json:"working_directory"`
	ReturnCode       int     `json:"return_code"`
	Stdout           string  `json:"stdout"`
	Stderr           string  `json:"stderr"`
	Truncated        bool    `json:"truncated,omitempty"`
	ExecutionTime    float64 `json:"execution_time"`
}

// CommandError is returned when a command exits non-zero or times out.
// It carries the captured output.
type CommandError struct {
	Result   CommandResult
	TimedOut bool
}

func (e *CommandError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("command timed out after %.0f seconds", e.Result.ExecutionTime)
	}
	return fmt.Sprintf("command failed with return code %d", e.Result.ReturnCode)
}

var executeCommandDesc = toolexec.Descriptor{
	Name:        "execute_command",
	Description: "Execute an allowed shell command inside the workspace with a timeout and captured output",
	Params: []toolexec.Param{
		{Name: "command", Type: "string", Description: "Command line to execute", Required: true},
		{Name: "working_directory", Type: "string", Description: "Directory relative to the workspace root (default: root)"},
		{Name: "timeout", Type: "integer", Description: "Timeout in seconds, 1-300"},
	},
}

func (t *toolset) executeCommand(ctx context.Context, params map[string]any) (any, error) {
	command, err := stringParam(params, "command", "")
	if err != nil {
		return nil, err
	}
	wd, err := stringParam(params, "working_directory", "")
	if err != nil {
		return nil, err
	}
	timeout := t.cfg.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	secs, err := intParam(params, "timeout", int(timeout.Seconds()))
	if err != nil {
		return nil, err
	}
	timeout = min(max(time.Duration(secs)*time.Second, time.Second), maxCommandTimeout)

	command = strings.TrimSpace(command)
	if err := t.filter.Check(command); err != nil {
		return nil, err
	}
	dir, err := t.dir(wd)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.WaitDelay = commandWaitDelay
	limit := t.cfg.MaxOutputBytes
	if limit <= 0 {
		limit = defaultMaxOutputBytes
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	slog.Info("executing command", "command", command, "dir", dir, "timeout", timeout)
	start := time.Now()
	runErr := cmd.Run()

	res := CommandResult{
		Command:          command,
		WorkingDirectory: t.sb.Rel(dir),
		Stdout:           stdout.String(),
		Stderr:           stderr.String(),
		Truncated:        stdout.truncated || stderr.truncated,
		ExecutionTime:    time.Since(start).Seconds(),
	}
	if runErr == nil {
		return res, nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.ReturnCode = -1
		res.ExecutionTime = timeout.Seconds()
		slog.Warn("command timed out", "command", command, "timeout", timeout)
		return nil, &CommandError{Result: res, TimedOut: true}
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ReturnCode = exitErr.ExitCode()
		return nil, &CommandError{Result: res}
	}
	return nil, fmt.Errorf("run command: %w", runErr)
}

// cappedBuffer keeps the first limit bytes written to it and discards the
// rest.
type cappedBuffer struct {
	buf       strings.Builder
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string { return strings.ToValidUTF8(b.buf.String(), "\uFFFD") }
