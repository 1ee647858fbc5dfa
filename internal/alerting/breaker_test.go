package alerting

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := time.Now()
	b := newBreaker(3, 2, time.Minute)
	b.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("breaker open after %d failures, threshold is 3", i+1)
		}
	}
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker still closed after hitting the failure threshold")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := newBreaker(2, 1, time.Minute)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if !b.Allow() {
		t.Fatal("non-consecutive failures must not open the breaker")
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := time.Now()
	b := newBreaker(1, 2, time.Minute)
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("expected open")
	}

	// after the open window the breaker admits probes
	clock = clock.Add(time.Minute)
	if !b.Allow() {
		t.Fatal("expected half-open probe admission")
	}

	b.RecordSuccess()
	b.RecordSuccess()
	if !b.Allow() {
		t.Fatal("expected closed after enough probe successes")
	}
	// closed again with a clean failure count
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("expected reopened")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := time.Now()
	b := newBreaker(1, 2, time.Minute)
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	clock = clock.Add(time.Minute)
	if !b.Allow() {
		t.Fatal("expected half-open")
	}
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("a failed probe must reopen the breaker")
	}
	// and the open window restarts from the probe failure
	clock = clock.Add(30 * time.Second)
	if b.Allow() {
		t.Fatal("open window must restart on probe failure")
	}
}
