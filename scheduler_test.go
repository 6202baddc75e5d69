package ovnet

import (
	"testing"
	"time"
)

func TestDeadlineTrackerTakesEarliest(t *testing.T) {
	var d deadlineTracker
	d.consider(500)
	d.consider(200)
	d.consider(300)
	if got := d.deadline(0, time.Second); got != 200 {
		t.Fatalf("expected the earliest considered deadline (200), got %d", got)
	}
}

func TestDeadlineTrackerIgnoresNonPositive(t *testing.T) {
	var d deadlineTracker
	d.consider(0)
	d.consider(-5)
	if d.have {
		t.Fatal("non-positive candidates must not count as a considered deadline")
	}
}

func TestDeadlineTrackerFallback(t *testing.T) {
	var d deadlineTracker
	got := d.deadline(1000, 5*time.Second)
	if got != 6000 {
		t.Fatalf("expected fallback of now+5s = 6000, got %d", got)
	}
}

func TestDeadlineTrackerConsiderAfter(t *testing.T) {
	var d deadlineTracker
	d.considerAfter(1000, 2*time.Second)
	if got := d.deadline(0, time.Minute); got != 3000 {
		t.Fatalf("expected considerAfter(1000, 2s) to yield deadline 3000, got %d", got)
	}
}
