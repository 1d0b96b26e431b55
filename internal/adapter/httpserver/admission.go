package httpserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL      = 10 * time.Minute
	limiterSweepEvery   = 5 * time.Minute
	rejectReasonRate    = "rate_limit"
	rejectReasonGlobal  = "global_limit"
	rejectReasonPerIP   = "per_ip_limit"
	rejectReasonStopped = "shutting_down"
)

// admission gates long-lived stream connections (websocket and sse).
// A slot is held for the whole lifetime of the stream and must be released
// exactly once.
type admission struct {
	maxTotal int64
	total    atomic.Int64

	mu       sync.Mutex
	maxPerIP int
	perIP    map[string]int
	buckets  map[string]*bucket
	rate     rate.Limit
	burst    int
	clock    clockwork.Clock
	sweepAt  time.Time
	closed   bool
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newAdmission creates the admission gate. A zero or negative limit disables
// that particular check.
func newAdmission(maxTotal, maxPerIP int, connectsPerSecond float64, burst int, clock clockwork.Clock) *admission {
	return &admission{
		maxTotal: int64(maxTotal),
		maxPerIP: maxPerIP,
		perIP:    make(map[string]int),
		buckets:  make(map[string]*bucket),
		rate:     rate.Limit(connectsPerSecond),
		burst:    burst,
		clock:    clock,
		sweepAt:  clock.Now().Add(limiterSweepEvery),
	}
}

// acquire reserves a stream slot for ip. On rejection it returns the reason
// label used for metrics and logs. The rate token is spent only once the
// connection caps have room.
func (a *admission) acquire(ip string) (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false, rejectReasonStopped
	}
	if a.maxPerIP > 0 && a.perIP[ip] >= a.maxPerIP {
		return false, rejectReasonPerIP
	}
	if !a.acquireTotal() {
		return false, rejectReasonGlobal
	}
	if !a.allowRateLocked(ip) {
		a.total.Add(-1)
		return false, rejectReasonRate
	}
	a.perIP[ip]++
	return true, ""
}

func (a *admission) acquireTotal() bool {
	for {
		current := a.total.Load()
		if a.maxTotal > 0 && current >= a.maxTotal {
			return false
		}
		if a.total.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// release frees the slot held by ip.
func (a *admission) release(ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if count := a.perIP[ip]; count > 0 {
		if count == 1 {
			delete(a.perIP, ip)
		} else {
			a.perIP[ip] = count - 1
		}
		a.total.Add(-1)
	}
}

// close rejects every later acquire. Slots already held stay valid until released.
func (a *admission) close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

func (a *admission) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *admission) current() int64 {
	return a.total.Load()
}

func (a *admission) countFor(ip string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.perIP[ip]
}

// allowRateLocked must be called with mu held.
func (a *admission) allowRateLocked(ip string) bool {
	if a.rate <= 0 {
		return true
	}

	now := a.clock.Now()
	if now.After(a.sweepAt) {
		cutoff := now.Add(-limiterIdleTTL)
		for key, b := range a.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(a.buckets, key)
			}
		}
		a.sweepAt = now.Add(limiterSweepEvery)
	}

	b, ok := a.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(a.rate, a.burst)}
		a.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}
