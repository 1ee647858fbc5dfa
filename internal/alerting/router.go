package alerting

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/padhaihub/padhai-backend/internal/pkg/httpx"
	"github.com/padhaihub/padhai-backend/internal/platform/logger"
)

// Notifier is what alert producers depend on. Notify never returns an error:
// alert delivery is best-effort and must not fail the caller's operation.
type Notifier interface {
	Notify(ctx context.Context, a Alert)
}

// NopNotifier drops everything. Used in tests and in binaries that have no
// alert channels configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Alert) {}

// Router fans alerts out to the sinks configured for their severity. It
// dedupes repeats within a TTL window, enforces a global per-minute rate cap,
// retries transient sink failures with backoff, and circuit-breaks sinks that
// keep failing so one dead channel cannot stall the rest.
type Router struct {
	log      *logger.Logger
	cfg      Config
	sinks    map[string]Sink
	breakers map[string]*breaker

	mu       sync.Mutex
	seen     map[string]time.Time
	window   []time.Time
	now      func() time.Time
	sleepFor func(ctx context.Context, d time.Duration) bool
}

func NewRouter(baseLog *logger.Logger, cfg Config, sinks ...Sink) *Router {
	r := &Router{
		log:      baseLog.With("component", "AlertRouter"),
		cfg:      cfg,
		sinks:    map[string]Sink{},
		breakers: map[string]*breaker{},
		seen:     map[string]time.Time{},
		now:      time.Now,
		sleepFor: sleepCtx,
	}
	for _, s := range sinks {
		r.sinks[s.Name()] = s
		r.breakers[s.Name()] = newBreaker(cfg.BreakerFailureThreshold, cfg.BreakerSuccessThreshold, cfg.BreakerOpenFor)
	}
	return r
}

func (r *Router) Notify(ctx context.Context, a Alert) {
	if a.At.IsZero() {
		a.At = r.now()
	}
	if !a.Severity.Valid() {
		a.Severity = SeverityInfo
	}
	if !r.admit(a) {
		return
	}
	// fan out to sinks in parallel so one slow channel does not delay the rest
	var g errgroup.Group
	for _, name := range r.cfg.sinksFor(a.Severity) {
		sink, ok := r.sinks[name]
		if !ok {
			continue
		}
		g.Go(func() error {
			r.deliver(ctx, sink, a)
			return nil
		})
	}
	_ = g.Wait()
}

// admit applies dedupe and the rate cap under one lock.
func (r *Router) admit(a Alert) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	fp := a.Fingerprint()
	if expiry, ok := r.seen[fp]; ok && now.Before(expiry) {
		return false
	}

	cutoff := now.Add(-time.Minute)
	kept := r.window[:0]
	for _, t := range r.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.window = kept
	if r.cfg.RatePerMinute > 0 && len(r.window) >= r.cfg.RatePerMinute {
		r.log.Warn("Alert dropped by rate cap", "title", a.Title, "severity", string(a.Severity))
		return false
	}

	r.seen[fp] = now.Add(r.cfg.DedupeTTL)
	r.window = append(r.window, now)
	// opportunistic cleanup of expired fingerprints
	for k, exp := range r.seen {
		if now.After(exp) {
			delete(r.seen, k)
		}
	}
	return true
}

func (r *Router) deliver(ctx context.Context, sink Sink, a Alert) {
	br := r.breakers[sink.Name()]
	if br != nil && !br.Allow() {
		r.log.Warn("Alert sink circuit open, skipping",
			"sink", sink.Name(), "title", a.Title)
		return
	}

	var lastErr error
	for attempt := 0; attempt < r.cfg.RetryMaxAttempts; attempt++ {
		if attempt > 0 {
			if !r.sleepFor(ctx, httpx.Backoff(r.cfg.RetryBaseDelay, r.cfg.RetryMaxDelay, attempt-1)) {
				return
			}
		}
		if err := sink.Send(ctx, a); err != nil {
			lastErr = err
			continue
		}
		if br != nil {
			br.RecordSuccess()
		}
		return
	}
	if br != nil {
		br.RecordFailure()
	}
	r.log.Error("Alert delivery failed",
		"sink", sink.Name(),
		"title", a.Title,
		"severity", string(a.Severity),
		"attempts", r.cfg.RetryMaxAttempts,
		"error", lastErr,
	)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
