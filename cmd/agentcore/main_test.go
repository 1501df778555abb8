package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/GGUFloader/agentcore/internal/adapter/postgres"
	"github.com/GGUFloader/agentcore/internal/adapter/workspace"
	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain/agent"
	"github.com/GGUFloader/agentcore/internal/domain/safety"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		args     []string
		wantCmd  string
		wantRest []string
	}{
		{nil, "serve", nil},
		{[]string{"--port", "9000"}, "serve", []string{"--port", "9000"}},
		{[]string{"chat", "-c", "x.yaml"}, "chat", []string{"-c", "x.yaml"}},
		{[]string{"events", "tail"}, "events", []string{"tail"}},
		{[]string{"--help"}, "help", nil},
		{[]string{"bogus"}, "bogus", []string{}},
	}
	for _, tt := range tests {
		cmd, rest := splitCommand(tt.args)
		if cmd != tt.wantCmd || !slices.Equal(rest, tt.wantRest) {
			t.Errorf("splitCommand(%v) = %q %v, want %q %v", tt.args, cmd, rest, tt.wantCmd, tt.wantRest)
		}
	}
}

func TestPromptConfirmer(t *testing.T) {
	v := &safety.Violation{RuleName: "Sensitive File Access", RiskLevel: safety.RiskHigh, OperationDetails: "read .env"}

	tests := []struct {
		name        string
		input       string
		interactive bool
		want        bool
	}{
		{"yes", "y\n", true, true},
		{"full yes", "  YES \n", true, true},
		{"no", "n\n", true, false},
		{"empty", "\n", true, false},
		{"eof", "", true, false},
		{"no terminal", "y\n", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := newPromptConfirmer(bufio.NewReader(strings.NewReader(tt.input)), &out, tt.interactive)
			got, err := p.Confirm(context.Background(), v)
			if err != nil {
				t.Fatalf("Confirm: %v", err)
			}
			if got != tt.want {
				t.Errorf("Confirm = %v, want %v", got, tt.want)
			}
			if !strings.Contains(out.String(), "Sensitive File Access") {
				t.Errorf("prompt = %q", out.String())
			}
		})
	}
}

func TestPromptConfirmerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newPromptConfirmer(bufio.NewReader(strings.NewReader("y\n")), &bytes.Buffer{}, true)
	if ok, err := p.Confirm(ctx, &safety.Violation{}); ok || err == nil {
		t.Errorf("Confirm = %v, %v", ok, err)
	}
}

func TestPrintHistory(t *testing.T) {
	var out bytes.Buffer
	printHistory(&out, nil)
	if !strings.Contains(out.String(), "no turns yet") {
		t.Errorf("empty history = %q", out.String())
	}

	out.Reset()
	printHistory(&out, []agent.Turn{{
		UserMessage: strings.Repeat("x", 100),
		Timestamp:   time.Now(),
		State:       agent.StateCompleted,
		ToolCalls:   []agent.ToolCall{{ToolName: "read_file"}},
	}})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "…") {
		t.Errorf("history = %q", out.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo", 10); got != "héllo" {
		t.Errorf("short = %q", got)
	}
	if got := truncate("héllo wörld", 5); got != "héll…" {
		t.Errorf("long = %q", got)
	}
}

func TestCommandsNeedBackends(t *testing.T) {
	cfg := config.Defaults()
	cfg.Postgres.DSN = ""
	ctx := context.Background()
	var out bytes.Buffer

	if err := runMigrate(ctx, &cfg, nil, &out); err == nil {
		t.Error("migrate without a DSN should fail")
	}
	if err := runEvents(ctx, &cfg, nil, &out); err == nil {
		t.Error("events without a subcommand should fail")
	}
	if err := runEvents(ctx, &cfg, []string{"tail"}, &out); err == nil {
		t.Error("events tail without NATS should fail")
	}
	if err := runEvents(ctx, &cfg, []string{"recent"}, &out); err == nil {
		t.Error("events recent without postgres should fail")
	}
	if err := runEvents(ctx, &cfg, []string{"replay"}, &out); err == nil {
		t.Error("unknown subcommand should fail")
	}
}

func TestMemorySnapshotsKeyedByResolvedRoot(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(t.TempDir(), "ws")
	if err := os.Symlink(dir, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	sb, err := workspace.NewSandbox(link)
	if err != nil {
		t.Fatal(err)
	}
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.Memory.Backend = "postgres"
	cfg.Agent.Workspace = link
	c := &core{cfg: &cfg}

	st, err := c.memorySnapshots(sb.Root())
	if err != nil {
		t.Fatal(err)
	}
	pg, ok := st.(*postgres.SnapshotStore)
	if !ok {
		t.Fatalf("store = %T, want *postgres.SnapshotStore", st)
	}
	if pg.Workspace() != want {
		t.Errorf("snapshot key = %q, want %q", pg.Workspace(), want)
	}
}
