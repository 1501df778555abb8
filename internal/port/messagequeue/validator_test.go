package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateEventPayload(t *testing.T) {
	data := []byte(`{"event_id":"e1","event_type":"tool_call_started","source":"pipeline","priority":0,"timestamp":"2026-01-01T00:00:00Z","data":{"tool_name":"read_file"}}`)
	if err := Validate(EventSubject("tool_call_started"), data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	data := []byte(`{"foo":"bar"}`)
	if err := Validate("unknown.subject", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	err := Validate(EventSubject("x"), []byte(`{not valid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("expected 'invalid JSON' in error, got: %v", err)
	}
}

func TestValidateInvalidSchema(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not an object", `"just a string"`},
		{"missing id", `{"event_type":"x"}`},
		{"missing type", `{"event_id":"e1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(EventSubject("x"), []byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), "schema validation failed") {
				t.Fatalf("expected schema validation error, got: %v", err)
			}
		})
	}
}

func TestEventSubject(t *testing.T) {
	tests := map[string]string{
		"tool_call_started":   "agent.events.tool_call_started",
		"custom_event:deploy": "agent.events.custom_event_deploy",
		"a.b*c>d":             "agent.events.a_b_c_d",
	}
	for in, want := range tests {
		if got := EventSubject(in); got != want {
			t.Errorf("EventSubject(%q) = %q, want %q", in, got, want)
		}
	}
}
