package natskv

import "testing"

func TestKVKey(t *testing.T) {
	tests := map[string]string{
		"abc123":              "confirm.abc123",
		"compliance-key":      "confirm.compliance-key",
		"command:sudo rm -rf": "confirm.command_sudo_rm_-rf",
		"a*b>c":               "confirm.a_b_c",
	}
	for in, want := range tests {
		if got := kvKey(in); got != want {
			t.Errorf("kvKey(%q) = %q, want %q", in, got, want)
		}
	}
}
