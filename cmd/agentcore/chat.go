package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/domain/agent"
	"github.com/GGUFloader/agentcore/internal/domain/safety"
	"github.com/GGUFloader/agentcore/internal/port/confirm"
	"github.com/GGUFloader/agentcore/internal/service"
)

const chatHelp = `Commands:
  /help      show this help
  /history   list the turns of this session
  /clear     clear the turn history
  /tools     list the workspace tools
  /stats     show pipeline, memory and event statistics
  /quit      leave
`

func runChat(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	lines := bufio.NewReader(in)
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}

	c, err := newCore(ctx, cfg, newPromptConfirmer(lines, out, interactive))
	if err != nil {
		return err
	}
	defer c.close(context.Background())

	c.bus.Start(ctx)
	defer func() { _ = c.bus.Shutdown(context.Background()) }()
	go c.progress.Run(ctx)

	c.stream.Register(service.ChunkToolExecutionStart, func(ch service.Chunk) {
		fmt.Fprintf(out, "  > %s\n", ch.Content)
	})
	c.stream.Register(service.ChunkToolExecutionComplete, func(ch service.Chunk) {
		if msg, _ := ch.Metadata["error"].(string); msg != "" {
			fmt.Fprintf(out, "  ! %s: %s\n", ch.Metadata["tool_name"], msg)
		}
	})

	fmt.Fprintf(out, "agentcore %s, workspace %s. Type /help for commands.\n", version, c.tools.Workspace())
	for {
		fmt.Fprint(out, "\n> ")
		line, err := lines.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read input: %w", err)
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimSpace(line)

		switch {
		case line == "":
		case strings.HasPrefix(line, "/"):
			if quit := chatCommand(c, line, out); quit {
				return nil
			}
		default:
			chatTurn(ctx, c.pipeline, line, out)
		}

		if eof || ctx.Err() != nil {
			fmt.Fprintln(out)
			return nil
		}
	}
}

// chatTurn runs one turn and prints its answer.
func chatTurn(ctx context.Context, p *service.Pipeline, message string, out io.Writer) {
	turn, err := p.Process(ctx, message)
	switch {
	case errors.Is(err, domain.ErrBusy):
		fmt.Fprintln(out, "a turn is already running")
	case err != nil:
		fmt.Fprintf(out, "error: %v\n", err)
	default:
		fmt.Fprintf(out, "\n%s\n", turn.FinalResponse)
	}
}

// chatCommand handles a slash command and reports whether to quit.
func chatCommand(c *core, line string, out io.Writer) bool {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprint(out, chatHelp)
	case "/history":
		printHistory(out, c.pipeline.History())
	case "/clear":
		c.pipeline.ClearHistory()
		fmt.Fprintln(out, "history cleared")
	case "/tools":
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, d := range c.tools.Tools() {
			fmt.Fprintf(tw, "%s\t%s\n", d.Name, d.Description)
		}
		_ = tw.Flush()
	case "/stats":
		printStats(out, c)
	default:
		fmt.Fprintf(out, "unknown command %s, try /help\n", line)
	}
	return false
}

func printHistory(out io.Writer, turns []agent.Turn) {
	if len(turns) == 0 {
		fmt.Fprintln(out, "no turns yet")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tWHEN\tSTATE\tTOOLS\tMESSAGE")
	for i, t := range turns {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
			i+1, humanize.Time(t.Timestamp), t.State, len(t.ToolCalls), truncate(t.UserMessage, 60))
	}
	_ = tw.Flush()
}

func printStats(out io.Writer, c *core) {
	ps := c.pipeline.Stats()
	ms := c.memory.Stats()
	es := c.bus.Stats()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "turns\t%s\n", humanize.Comma(int64(ps.TotalTurns)))
	fmt.Fprintf(tw, "tool calls\t%s\n", humanize.Comma(int64(ps.TotalToolCalls)))
	fmt.Fprintf(tw, "session\t%s\n", ps.SessionID)
	fmt.Fprintf(tw, "completed tasks\t%s\n", humanize.Comma(int64(ms.CompletedTasks)))
	fmt.Fprintf(tw, "file modifications\t%s\n", humanize.Comma(int64(ms.FileModifications)))
	fmt.Fprintf(tw, "events emitted\t%s\n", humanize.Comma(es.TotalEmitted))
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// promptConfirmer asks on the terminal before a risky operation runs.
// Without a terminal every request is denied.
type promptConfirmer struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

var _ confirm.Confirmer = (*promptConfirmer)(nil)

func newPromptConfirmer(in *bufio.Reader, out io.Writer, interactive bool) *promptConfirmer {
	return &promptConfirmer{in: in, out: out, interactive: interactive}
}

func (p *promptConfirmer) Confirm(ctx context.Context, v *safety.Violation) (bool, error) {
	if !p.interactive {
		fmt.Fprintf(p.out, "  ! %s denied: confirmation needs a terminal\n", v.RuleName)
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fmt.Fprintf(p.out, "\n  %s risk: %s\n  %s\n  allow? [y/N] ",
		strings.ToUpper(string(v.RiskLevel)), v.RuleName, truncate(v.OperationDetails, 200))
	answer, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
