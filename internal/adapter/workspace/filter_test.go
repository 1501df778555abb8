package workspace

import (
	"errors"
	"slices"
	"testing"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain"
)

func TestCommandFilterCheck(t *testing.T) {
	cfg := config.Defaults().Tools
	f := NewCommandFilter(cfg.AllowedCommands, cfg.DeniedCommands)

	tests := []struct {
		name    string
		command string
		allowed bool
	}{
		{"allowed", "ls -la", true},
		{"allowed with path", "/bin/ls src", true},
		{"upper case", "LS", true},
		{"empty", "   ", false},
		{"sudo rm root", "sudo rm -rf /", false},
		{"pipe to shell", "cat install.txt | sh", false},
		{"substitution", "echo $(whoami)", false},
		{"backticks", "echo `id`", false},
		{"chained rm", "ls; rm notes.txt", false},
		{"and operator", "ls && pwd", false},
		{"device write", "echo x > /dev/sda", false},
		{"denied", "rm notes.txt", false},
		{"not allowed", "python3 script.py", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.Check(tt.command)
			if tt.allowed && err != nil {
				t.Errorf("Check(%q) = %v, want nil", tt.command, err)
			}
			if !tt.allowed {
				if !errors.Is(err, ErrCommandBlocked) {
					t.Errorf("Check(%q) = %v, want ErrCommandBlocked", tt.command, err)
				}
				if !errors.Is(err, domain.ErrSafetyBlocked) {
					t.Errorf("Check(%q) should wrap ErrSafetyBlocked", tt.command)
				}
			}
		})
	}
}

func TestCommandFilterDenyBeforeAllow(t *testing.T) {
	f := NewCommandFilter([]string{"git"}, []string{"git"})
	if err := f.Check("git status"); err == nil {
		t.Error("deny list should win over allow list")
	}
}

func TestCommandFilterEmptyAllowList(t *testing.T) {
	f := NewCommandFilter(nil, []string{"rm"})
	if err := f.Check("python3 script.py"); err != nil {
		t.Errorf("empty allow list should admit: %v", err)
	}
	if err := f.Check("rm x"); err == nil {
		t.Error("deny list should still apply")
	}
	if !slices.Equal(f.Denied(), []string{"rm"}) || len(f.Allowed()) != 0 {
		t.Errorf("lists = %v %v", f.Allowed(), f.Denied())
	}
}

func TestBaseCommand(t *testing.T) {
	tests := map[string]string{
		"ls -la":              "ls",
		"./build.sh --fast":   "build.sh",
		"/usr/bin/GREP x":     "grep",
		`C:\tools\find.exe`:   "find.exe",
		"":                    "",
		"  tail -n 5 log.txt": "tail",
	}
	for in, want := range tests {
		if got := BaseCommand(in); got != want {
			t.Errorf("BaseCommand(%q) = %q, want %q", in, got, want)
		}
	}
}
