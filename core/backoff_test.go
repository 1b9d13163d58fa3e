package core

import (
	"testing"
	"time"
)

func TestExponentialBackoffScheduler(t *testing.T) {
	scheduler := ExponentialBackoffScheduler{
		Initial: 2 * time.Second,
		Max:     30 * time.Second,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := scheduler.NextDelay(tc.attempt); got != tc.want {
			t.Fatalf("NextDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestExponentialBackoffSchedulerDefaults(t *testing.T) {
	scheduler := ExponentialBackoffScheduler{}
	if got := scheduler.NextDelay(0); got != time.Second {
		t.Fatalf("NextDelay(0) = %v, want %v", got, time.Second)
	}
	if got := scheduler.NextDelay(100); got != 5*time.Minute {
		t.Fatalf("expected cap at default max, got %v", got)
	}
}

func TestExponentialBackoffSchedulerMonotonic(t *testing.T) {
	scheduler := ExponentialBackoffScheduler{
		Initial: time.Second,
		Max:     time.Minute,
	}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		delay := scheduler.NextDelay(attempt)
		if delay < prev {
			t.Fatalf("delay regressed at attempt %d: %v < %v", attempt, delay, prev)
		}
		if delay > time.Minute {
			t.Fatalf("delay exceeded cap at attempt %d: %v", attempt, delay)
		}
		prev = delay
	}
}
