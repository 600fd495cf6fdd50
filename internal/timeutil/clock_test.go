package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	c := RealClock{}
	start := c.Now()
	if c.Since(start) < 0 {
		t.Error("Since should not be negative")
	}
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	if got := c.Now(); !got.Equal(base) {
		t.Fatalf("Now = %v, want %v", got, base)
	}
	c.Advance(2 * time.Second)
	if got := c.Since(base); got != 2*time.Second {
		t.Errorf("Since = %v, want 2s", got)
	}

	later := base.Add(time.Hour)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("Now after Set = %v, want %v", got, later)
	}
}

func TestMockClock_Step(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)
	c.SetStep(time.Millisecond)

	first := c.Now()
	second := c.Now()
	if second.Sub(first) != time.Millisecond {
		t.Errorf("step = %v, want 1ms", second.Sub(first))
	}
}
