package clock

import (
	"testing"
	"time"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	c.Advance(45 * time.Minute)
	if got := c.Now(); !got.Equal(start.Add(45 * time.Minute)) {
		t.Fatalf("expected %s, got %s", start.Add(45*time.Minute), got)
	}

	c.Set(start)
	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("expected reset to %s, got %s", start, got)
	}
}
