// Package ratelimit shapes outbound traffic to a rate-limited upstream
// API with per-actor token buckets and escalating backoff.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// Profile describes one admission class.
type Profile struct {
	Capacity   float64       // bucket size
	RefillRate float64       // tokens per second
	Cooldown   time.Duration // minimum suggested wait on denial
}

// Built-in profiles. Interactive favors burst absorption for user-facing
// calls; Bulk throttles background collection harder.
var profiles = map[models.RateMode]Profile{
	models.ModeInteractive: {Capacity: 10, RefillRate: 1.0, Cooldown: 500 * time.Millisecond},
	models.ModeBulk:        {Capacity: 5, RefillRate: 0.5, Cooldown: 2 * time.Second},
}

const (
	backoffBase  = 2 * time.Second
	backoffCap   = 600 * time.Second
	backoffReset = 5 * time.Minute
)

var decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "aicos_ratelimit_decisions_total",
	Help: "Rate limiter admission decisions by mode and outcome.",
}, []string{"mode", "outcome"})

func init() {
	prometheus.MustRegister(decisionsTotal)
}

// Result is the non-blocking admission outcome. When Allowed is false,
// Wait suggests how long the caller should hold off; whether to sleep or
// reject is the caller's choice.
type Result struct {
	Allowed bool
	Wait    time.Duration
}

// Recorder receives an audit event for each denial and forced backoff.
type Recorder interface {
	Record(event models.AuditEvent)
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	profile    Profile
}

type backoffState struct {
	mu          sync.Mutex
	consecutive int
	until       time.Time
	lastDenial  time.Time
}

// Limiter admits requests through lazily created per-(actor, mode)
// buckets. Buckets carry their own locks so unrelated actors never
// contend; the limiter-level mutex only guards map growth.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	backoffs map[string]*backoffState
	recorder Recorder
	clock    func() time.Time
}

// NewLimiter creates a Limiter. recorder may be nil.
func NewLimiter(recorder Recorder) *Limiter {
	return &Limiter{
		buckets:  make(map[string]*bucket),
		backoffs: make(map[string]*backoffState),
		recorder: recorder,
		clock:    time.Now,
	}
}

func (l *Limiter) bucketFor(actor string, mode models.RateMode) *bucket {
	key := actor + "|" + string(mode)
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		p, known := profiles[mode]
		if !known {
			p = profiles[models.ModeBulk]
		}
		b = &bucket{tokens: p.Capacity, lastRefill: l.clock(), profile: p}
		l.buckets[key] = b
	}
	return b
}

func (l *Limiter) backoffFor(actor string) *backoffState {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.backoffs[actor]
	if !ok {
		s = &backoffState{}
		l.backoffs[actor] = s
	}
	return s
}

// TryAcquire refills the actor's bucket for elapsed time and consumes
// one token if available. Never blocks.
func (l *Limiter) TryAcquire(actor string, mode models.RateMode) Result {
	now := l.clock()

	// Only an upstream-forced window blocks outright. Locally
	// accumulated denials shape the advised wait further down but never
	// outrank a refilled token.
	bo := l.backoffFor(actor)
	bo.mu.Lock()
	if bo.consecutive > 0 && now.Sub(bo.lastDenial) > backoffReset {
		bo.consecutive = 0
		bo.until = time.Time{}
	}
	if now.Before(bo.until) {
		wait := l.escalateLocked(bo, now)
		if remaining := bo.until.Sub(now); remaining > wait {
			wait = remaining
		}
		bo.mu.Unlock()
		l.deny(actor, mode, "backoff", wait)
		return Result{Allowed: false, Wait: wait}
	}
	bo.mu.Unlock()

	b := l.bucketFor(actor, mode)
	b.mu.Lock()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.profile.RefillRate
	if b.tokens > b.profile.Capacity {
		b.tokens = b.profile.Capacity
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		b.mu.Unlock()
		decisionsTotal.WithLabelValues(string(mode), "allowed").Inc()
		return Result{Allowed: true}
	}

	// Time until one full token accrues, floored at the profile cooldown.
	wait := time.Duration((1 - b.tokens) / b.profile.RefillRate * float64(time.Second))
	if wait < b.profile.Cooldown {
		wait = b.profile.Cooldown
	}
	b.mu.Unlock()

	bo.mu.Lock()
	boWait := l.escalateLocked(bo, now)
	bo.mu.Unlock()
	if boWait > wait {
		wait = boWait
	}

	l.deny(actor, mode, "exhausted", wait)
	return Result{Allowed: false, Wait: wait}
}

// escalateLocked records one denial and returns the resulting backoff
// wait: base doubled per consecutive denial, capped. It never opens a
// blocking window; only ForceBackoff sets until. Caller holds bo.mu.
func (l *Limiter) escalateLocked(bo *backoffState, now time.Time) time.Duration {
	bo.consecutive++
	bo.lastDenial = now
	wait := backoffBase
	for i := 1; i < bo.consecutive; i++ {
		wait *= 2
		if wait >= backoffCap {
			wait = backoffCap
			break
		}
	}
	return wait
}

// ForceBackoff escalates an actor's backoff proactively, used when the
// upstream API reports near-exhaustion or an explicit retry-after,
// regardless of local bucket capacity.
func (l *Limiter) ForceBackoff(actor string, retryAfter time.Duration) {
	now := l.clock()
	if retryAfter <= 0 {
		retryAfter = backoffBase
	}
	if retryAfter > backoffCap {
		retryAfter = backoffCap
	}
	bo := l.backoffFor(actor)
	bo.mu.Lock()
	bo.consecutive++
	bo.lastDenial = now
	if until := now.Add(retryAfter); until.After(bo.until) {
		bo.until = until
	}
	bo.mu.Unlock()

	decisionsTotal.WithLabelValues("upstream", "forced").Inc()
	if l.recorder != nil {
		l.recorder.Record(models.AuditEvent{
			Timestamp: now.UTC(),
			Type:      models.EventRateLimit,
			Actor:     actor,
			Success:   false,
			Context:   map[string]any{"reason": "upstream_signal", "retry_after_ms": retryAfter.Milliseconds()},
		})
	}
}

func (l *Limiter) deny(actor string, mode models.RateMode, reason string, wait time.Duration) {
	decisionsTotal.WithLabelValues(string(mode), "denied").Inc()
	if l.recorder != nil {
		l.recorder.Record(models.AuditEvent{
			Timestamp: l.clock().UTC(),
			Type:      models.EventRateLimit,
			Actor:     actor,
			Success:   false,
			Context:   map[string]any{"mode": string(mode), "reason": reason, "wait_ms": wait.Milliseconds()},
		})
	}
}
