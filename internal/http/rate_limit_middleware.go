package httpx

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/splax/recipebox/internal/domain"
)

const (
	counterSweepInterval  = 5 * time.Minute
	premiumRateMultiplier = 4
)

// RateLimiter counts requests per key inside fixed windows.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

// ratePolicy is the throttle applied to one route. Routes behind the auth
// guard are keyed by user and may scale the limit for premium accounts.
type ratePolicy struct {
	route   string
	limit   int
	window  time.Duration
	key     func(*http.Request) string
	premium int
}

func (p ratePolicy) limitFor(req *http.Request) int {
	if p.premium <= 1 {
		return p.limit
	}
	if user, ok := userFromContext(req.Context()); ok && user.SubscriptionTier == domain.TierPremium {
		return p.limit * p.premium
	}
	return p.limit
}

// windowCounter is the process-local RateLimiter. Counters that outlive
// their window are swept periodically.
type windowCounter struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
	clock   func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type fixedWindow struct {
	hits    int
	resetAt time.Time
}

// NewMemoryRateLimiter returns a fixed-window limiter held in memory.
func NewMemoryRateLimiter() RateLimiter {
	return newWindowCounter(time.Now)
}

func newWindowCounter(clock func() time.Time) *windowCounter {
	wc := &windowCounter{
		windows: make(map[string]*fixedWindow),
		clock:   clock,
		stop:    make(chan struct{}),
	}
	go wc.sweep()
	return wc
}

func (wc *windowCounter) Allow(key string, limit int, span time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if span <= 0 {
		span = time.Minute
	}
	now := wc.clock()

	wc.mu.Lock()
	defer wc.mu.Unlock()
	w := wc.windows[key]
	if w == nil || now.After(w.resetAt) {
		w = &fixedWindow{resetAt: now.Add(span)}
		wc.windows[key] = w
	}
	if w.hits >= limit {
		return rateDecision{count: w.hits, windowEnd: w.resetAt}
	}
	w.hits++
	return rateDecision{allowed: true, count: w.hits, windowEnd: w.resetAt}
}

func (wc *windowCounter) sweep() {
	ticker := time.NewTicker(counterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			wc.expire(wc.clock())
		case <-wc.stop:
			return
		}
	}
}

// expire forgets every window that ended before now.
func (wc *windowCounter) expire(now time.Time) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	for key, w := range wc.windows {
		if now.After(w.resetAt) {
			delete(wc.windows, key)
		}
	}
}

func (wc *windowCounter) Close() {
	wc.once.Do(func() { close(wc.stop) })
}

// throttle rejects requests over the policy's limit with 429.
func (r *Router) throttle(p ratePolicy, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		limit := p.limitFor(req)
		if limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		key := ""
		if p.key != nil {
			key = p.key(req)
		}
		if key == "" {
			key = rateLimitKeyIP(req)
		}
		decision := r.limiter.Allow(p.route+"|"+key, limit, p.window)
		r.applyRateHeaders(w, limit, decision)
		if !decision.allowed {
			r.recordRateLimitHit(p.route, rateMetricKey(key))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// throttleUser authenticates first so the limit is charged per user.
func (r *Router) throttleUser(p ratePolicy, next http.HandlerFunc) http.HandlerFunc {
	p.key = rateLimitKeyUser
	return r.requireAuth(r.throttle(p, next))
}

func rateLimitKeyUser(req *http.Request) string {
	if user, ok := userFromContext(req.Context()); ok {
		return "user:" + user.ID
	}
	return ""
}

func rateLimitKeyIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

func rateMetricKey(key string) string {
	if key == "" {
		return "unknown"
	}
	if idx := strings.IndexRune(key, ':'); idx > 0 {
		return key[:idx]
	}
	return key
}
