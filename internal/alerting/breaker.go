package alerting

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker is a per-sink circuit breaker. Consecutive failures open it; after
// openFor it admits probe deliveries, and enough consecutive probe successes
// close it again.
type breaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	openFor          time.Duration
	now              func() time.Time

	state     breakerState
	failures  int
	successes int
	openedAt  time.Time
}

func newBreaker(failureThreshold, successThreshold int, openFor time.Duration) *breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	if openFor <= 0 {
		openFor = time.Minute
	}
	return &breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openFor:          openFor,
		now:              time.Now,
	}
}

func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerClosed, breakerHalfOpen:
		return true
	default:
		if b.now().Sub(b.openedAt) >= b.openFor {
			b.state = breakerHalfOpen
			b.successes = 0
			return true
		}
		return false
	}
}

func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = breakerClosed
			b.failures = 0
			b.successes = 0
		}
	case breakerClosed:
		b.failures = 0
	}
}

func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerHalfOpen:
		b.state = breakerOpen
		b.openedAt = b.now()
		b.failures = 0
	case breakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = breakerOpen
			b.openedAt = b.now()
			b.failures = 0
		}
	}
}
