package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
)

type fakeSink struct {
	mu       sync.Mutex
	name     string
	failures int // fail this many sends before succeeding
	sent     []Alert
	attempts int
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Send(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	s.sent = append(s.sent, a)
	return nil
}

func (s *fakeSink) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSink) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = time.Millisecond
	cfg.Routes = []Route{
		{Severity: SeverityInfo, Sinks: []string{"a"}},
		{Severity: SeverityWarning, Sinks: []string{"a", "b"}},
		{Severity: SeverityCritical, Sinks: []string{"a", "b"}},
	}
	return cfg
}

func noSleep(_ context.Context, _ time.Duration) bool { return true }

func TestRouterRoutesBySeverity(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}
	r := NewRouter(testLogger(t), testConfig(), a, b)
	r.sleepFor = noSleep

	r.Notify(context.Background(), Alert{Title: "t1", Message: "m", Severity: SeverityInfo})
	if a.sentCount() != 1 || b.sentCount() != 0 {
		t.Fatalf("info routed to a=%d b=%d, want 1/0", a.sentCount(), b.sentCount())
	}

	r.Notify(context.Background(), Alert{Title: "t2", Message: "m", Severity: SeverityCritical})
	if a.sentCount() != 2 || b.sentCount() != 1 {
		t.Fatalf("critical routed to a=%d b=%d, want 2/1", a.sentCount(), b.sentCount())
	}
}

func TestRouterDedupesWithinTTL(t *testing.T) {
	sink := &fakeSink{name: "a"}
	cfg := testConfig()
	cfg.DedupeTTL = 5 * time.Minute
	r := NewRouter(testLogger(t), cfg, sink)
	r.sleepFor = noSleep

	clock := time.Now()
	r.now = func() time.Time { return clock }

	alert := Alert{Title: "disk full", Message: " /var at 98%", Severity: SeverityWarning}
	r.Notify(context.Background(), alert)
	r.Notify(context.Background(), alert)
	if sink.sentCount() != 1 {
		t.Fatalf("sent = %d, want repeat suppressed", sink.sentCount())
	}

	// a different fingerprint passes
	r.Notify(context.Background(), Alert{Title: "disk full", Message: "/opt at 98%", Severity: SeverityWarning})
	if sink.sentCount() != 2 {
		t.Fatalf("sent = %d, distinct alert must pass", sink.sentCount())
	}

	// and the original passes again once the TTL lapses
	clock = clock.Add(6 * time.Minute)
	r.Notify(context.Background(), alert)
	if sink.sentCount() != 3 {
		t.Fatalf("sent = %d, want re-delivery after TTL", sink.sentCount())
	}
}

func TestRouterRateCap(t *testing.T) {
	sink := &fakeSink{name: "a"}
	cfg := testConfig()
	cfg.RatePerMinute = 2
	r := NewRouter(testLogger(t), cfg, sink)
	r.sleepFor = noSleep

	clock := time.Now()
	r.now = func() time.Time { return clock }

	for _, title := range []string{"one", "two", "three"} {
		r.Notify(context.Background(), Alert{Title: title, Message: "m", Severity: SeverityInfo})
	}
	if sink.sentCount() != 2 {
		t.Fatalf("sent = %d, want the cap to hold at 2", sink.sentCount())
	}

	// the window slides: a minute later there is headroom again
	clock = clock.Add(61 * time.Second)
	r.Notify(context.Background(), Alert{Title: "four", Message: "m", Severity: SeverityInfo})
	if sink.sentCount() != 3 {
		t.Fatalf("sent = %d, want delivery after the window slides", sink.sentCount())
	}
}

func TestRouterRetriesTransientFailures(t *testing.T) {
	sink := &fakeSink{name: "a", failures: 2}
	cfg := testConfig()
	cfg.RetryMaxAttempts = 3
	r := NewRouter(testLogger(t), cfg, sink)
	r.sleepFor = noSleep

	r.Notify(context.Background(), Alert{Title: "flaky", Message: "m", Severity: SeverityInfo})
	if sink.attemptCount() != 3 {
		t.Fatalf("attempts = %d, want 3", sink.attemptCount())
	}
	if sink.sentCount() != 1 {
		t.Fatalf("sent = %d, want delivery on the final attempt", sink.sentCount())
	}
}

func TestRouterBreakerSkipsDeadSink(t *testing.T) {
	dead := &fakeSink{name: "a", failures: 1 << 30}
	cfg := testConfig()
	cfg.RetryMaxAttempts = 1
	cfg.BreakerFailureThreshold = 1
	cfg.BreakerOpenFor = time.Hour
	r := NewRouter(testLogger(t), cfg, dead)
	r.sleepFor = noSleep

	r.Notify(context.Background(), Alert{Title: "first", Message: "m", Severity: SeverityInfo})
	attemptsAfterFirst := dead.attemptCount()
	if attemptsAfterFirst != 1 {
		t.Fatalf("attempts = %d, want 1", attemptsAfterFirst)
	}

	// breaker is open now; the next alert never reaches the sink
	r.Notify(context.Background(), Alert{Title: "second", Message: "m", Severity: SeverityInfo})
	if dead.attemptCount() != attemptsAfterFirst {
		t.Fatal("open breaker must skip delivery")
	}
}

func TestRouterDefaultsInvalidSeverity(t *testing.T) {
	sink := &fakeSink{name: "a"}
	r := NewRouter(testLogger(t), testConfig(), sink)
	r.sleepFor = noSleep

	r.Notify(context.Background(), Alert{Title: "odd", Message: "m", Severity: Severity("panic")})
	if sink.sentCount() != 1 {
		t.Fatalf("sent = %d, unknown severity should fall back to info routing", sink.sentCount())
	}
}
