package workspace

import (
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/GGUFloader/agentcore/internal/domain"
)

// ErrCommandBlocked is returned for commands the filter rejects.
var ErrCommandBlocked = fmt.Errorf("%w: command blocked", domain.ErrSafetyBlocked)

// dangerousPatterns are rejected regardless of the allow list.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf\s+/`),
	regexp.MustCompile(`(?i)sudo\s+`),
	regexp.MustCompile(`(?i)chmod\s+777`),
	regexp.MustCompile(`(?i)>\s*/dev/`),
	regexp.MustCompile(`(?i)\|\s*sh`),
	regexp.MustCompile("(?i)`.*`"),
	regexp.MustCompile(`(?i)\$\(`),
	regexp.MustCompile(`(?i)&&\s*rm`),
	regexp.MustCompile(`(?i);\s*rm`),
}

// dangerousChars enable chaining or substitution in a shell.
const dangerousChars = "|&;`$"

// CommandFilter decides which shell commands execute_command may run.
type CommandFilter struct {
	allowed map[string]struct{}
	denied  map[string]struct{}
}

// NewCommandFilter builds a filter. An empty allow list admits every
// command that passes the other checks.
func NewCommandFilter(allowed, denied []string) *CommandFilter {
	f := &CommandFilter{allowed: map[string]struct{}{}, denied: map[string]struct{}{}}
	for _, c := range allowed {
		f.allowed[strings.ToLower(c)] = struct{}{}
	}
	for _, c := range denied {
		f.denied[strings.ToLower(c)] = struct{}{}
	}
	return f
}

// Check returns nil if command may run. Checks run in order: dangerous
// patterns, dangerous characters, the deny list, then the allow list.
func (f *CommandFilter) Check(command string) error {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return fmt.Errorf("%w: empty command", ErrCommandBlocked)
	}
	for _, re := range dangerousPatterns {
		if re.MatchString(cmd) {
			return fmt.Errorf("%w: matches dangerous pattern %s", ErrCommandBlocked, strings.TrimPrefix(re.String(), "(?i)"))
		}
	}
	if i := strings.IndexAny(cmd, dangerousChars); i >= 0 {
		return fmt.Errorf("%w: contains dangerous character %q", ErrCommandBlocked, cmd[i])
	}
	base := BaseCommand(cmd)
	if _, ok := f.denied[base]; ok {
		return fmt.Errorf("%w: %q is on the deny list", ErrCommandBlocked, base)
	}
	if len(f.allowed) > 0 {
		if _, ok := f.allowed[base]; !ok {
			return fmt.Errorf("%w: %q is not on the allow list", ErrCommandBlocked, base)
		}
	}
	return nil
}

// Allowed returns the allow list, sorted.
func (f *CommandFilter) Allowed() []string { return sortedKeys(f.allowed) }

// Denied returns the deny list, sorted.
func (f *CommandFilter) Denied() []string { return sortedKeys(f.denied) }

// BaseCommand returns the lower-cased program name of a command line,
// without any directory prefix.
func BaseCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	base := strings.ReplaceAll(fields[0], `\`, "/")
	return strings.ToLower(path.Base(base))
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
