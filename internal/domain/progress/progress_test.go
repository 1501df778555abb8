package progress

import (
	"testing"
	"time"
)

func TestEstimateCompletion(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(20 * time.Second)

	tests := []struct {
		name  string
		step  int
		total int
		want  *time.Duration
	}{
		{"no step done", 0, 4, nil},
		{"unknown total", 2, 0, nil},
		{"halfway", 2, 4, ptr(20 * time.Second)},
		{"one of five", 1, 5, ptr(80 * time.Second)},
		{"overshoot", 6, 4, ptr(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateCompletion(start, now, tt.step, tt.total)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected nil ETA, got %v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected ETA, got nil")
			}
			if d := got.Sub(now); d != *tt.want {
				t.Errorf("ETA offset = %v, want %v", d, *tt.want)
			}
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusNotStarted: false,
		StatusInProgress: false,
		StatusPaused:     false,
		StatusCompleted:  true,
		StatusCancelled:  true,
		StatusFailed:     true,
	}
	for s, want := range terminal {
		if got := s.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, got, want)
		}
	}
}

func TestPercent(t *testing.T) {
	i := Info{CurrentStep: 1, TotalSteps: 4}
	if got := i.Percent(); got != 25 {
		t.Errorf("Percent = %v, want 25", got)
	}
	i.TotalSteps = 0
	if got := i.Percent(); got != 0 {
		t.Errorf("Percent with zero total = %v, want 0", got)
	}
}

func ptr(d time.Duration) *time.Duration { return &d }
