package engine

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_FiresOnce(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var fired atomic.Int32
	s.Schedule("a", 10*time.Millisecond, func() { fired.Add(1) })

	if s.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", s.Pending())
	}

	waitFor(t, func() bool { return fired.Load() == 1 })

	time.Sleep(30 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("expected exactly one fire, got %d", got)
	}
	if s.Pending() != 0 {
		t.Errorf("expected 0 pending after fire, got %d", s.Pending())
	}
}

func TestScheduler_ReplacesPending(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var first, second atomic.Int32
	s.Schedule("a", 50*time.Millisecond, func() { first.Add(1) })
	s.Schedule("a", 10*time.Millisecond, func() { second.Add(1) })

	if s.Pending() != 1 {
		t.Fatalf("expected 1 pending after replace, got %d", s.Pending())
	}

	waitFor(t, func() bool { return second.Load() == 1 })

	time.Sleep(60 * time.Millisecond)
	if first.Load() != 0 {
		t.Error("replaced check should never fire")
	}
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var fired atomic.Int32
	s.Schedule("a", 10*time.Millisecond, func() { fired.Add(1) })

	if !s.Cancel("a") {
		t.Fatal("expected cancel to report a pending check")
	}
	if s.Cancel("a") {
		t.Error("second cancel should report nothing pending")
	}

	time.Sleep(30 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("cancelled check should not fire")
	}
}

func TestScheduler_StopRejectsNew(t *testing.T) {
	s := NewScheduler()

	var fired atomic.Int32
	s.Schedule("a", 10*time.Millisecond, func() { fired.Add(1) })
	s.Stop()

	s.Schedule("b", time.Millisecond, func() { fired.Add(1) })
	if s.Pending() != 0 {
		t.Errorf("expected 0 pending after stop, got %d", s.Pending())
	}

	time.Sleep(30 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("no check should fire after stop, got %d", fired.Load())
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
