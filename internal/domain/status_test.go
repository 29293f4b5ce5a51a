package domain

import (
	"testing"
	"time"
)

func TestDeriveStatus(t *testing.T) {
	start := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	c := Competition{StartDate: start, EndDate: start.Add(24 * time.Hour)}

	tests := []struct {
		name      string
		now       time.Time
		finalized bool
		want      CompetitionStatus
	}{
		{"before start", start.Add(-time.Second), false, StatusUpcoming},
		{"at start", start, false, StatusActive},
		{"just before end", start.Add(24*time.Hour - time.Nanosecond), false, StatusActive},
		{"at end", start.Add(24 * time.Hour), false, StatusCompleted},
		{"finalized early stays completed", start.Add(time.Hour), true, StatusCompleted},
		{"finalized never reverts to upcoming", start.Add(-time.Hour), true, StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(c, tt.now, tt.finalized); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestAttemptStateAndClamp(t *testing.T) {
	start := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	a := Attempt{StartedAt: start, Deadline: start.Add(time.Hour)}

	if got := a.State(start.Add(30 * time.Minute)); got != AttemptInProgress {
		t.Fatalf("expected in_progress, got %s", got)
	}
	if got := a.State(start.Add(time.Hour)); got != AttemptExpired {
		t.Fatalf("expected expired at deadline, got %s", got)
	}
	if a.IsOpen(start.Add(time.Hour)) {
		t.Fatalf("expected attempt closed at deadline")
	}
	if got := a.ClampToDeadline(start.Add(90 * time.Minute)); !got.Equal(a.Deadline) {
		t.Fatalf("expected clamp to deadline, got %s", got)
	}

	submitted := start.Add(45 * time.Minute)
	a.SubmittedAt = &submitted
	a.Outcome = OutcomeSubmitted
	if got := a.State(start.Add(2 * time.Hour)); got != AttemptSubmitted {
		t.Fatalf("expected submitted, got %s", got)
	}
	if a.Duration() != 45*time.Minute {
		t.Fatalf("expected 45m duration, got %s", a.Duration())
	}
}

func TestViewHidesAnswerKey(t *testing.T) {
	start := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	a := Attempt{
		StartedAt: start,
		Deadline:  start.Add(time.Hour),
		Questions: []Question{{Prompt: "2+2", Options: []string{"3", "4"}, CorrectIndex: 1}},
		Answers:   map[int]int{0: 1},
	}
	v := a.View(start.Add(10 * time.Minute))
	if v.RemainingSeconds != 50*60 {
		t.Fatalf("expected 3000 remaining seconds, got %d", v.RemainingSeconds)
	}
	if len(v.Questions) != 1 || v.Questions[0].Prompt != "2+2" {
		t.Fatalf("unexpected questions %+v", v.Questions)
	}
	v.Answers[0] = 0
	if a.Answers[0] != 1 {
		t.Fatalf("view must not alias attempt answers")
	}
}
