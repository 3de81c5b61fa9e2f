package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"karmika-sahayak/backend/pkg/errors"
	"karmika-sahayak/backend/pkg/logger"
	"karmika-sahayak/backend/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Method classes for admission control. Read-only calls get a multiple of
// the mutating budget within the same window.
const (
	classMutating = "mutating"
	classRead     = "read"
)

// RateLimiterOptions configures the sliding-window rate limiter
type RateLimiterOptions struct {
	// Window is the rolling window duration
	Window time.Duration
	// MaxRequests is the budget for mutating requests within the window
	MaxRequests int
	// ReadMultiplier scales the budget for read-only requests
	ReadMultiplier int
	// MaxClients caps the caller table; exceeding it forces a sweep
	MaxClients int
	// SweepEvery runs a full sweep after this many admissions
	SweepEvery int
	// KeyFunc extracts the limiting key from a request (e.g. IP, user ID)
	KeyFunc func(*gin.Context) string
	// Now is the clock, overridable in tests
	Now func() time.Time
}

// DefaultRateLimiterOptions returns sensible defaults
func DefaultRateLimiterOptions() RateLimiterOptions {
	return RateLimiterOptions{
		Window:         60 * time.Second,
		MaxRequests:    30,
		ReadMultiplier: 3,
		MaxClients:     10000,
		SweepEvery:     256,
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
		Now: time.Now,
	}
}

// caller holds per-class admission timestamps for one caller, oldest first.
type caller struct {
	mutating []time.Time
	reads    []time.Time
}

// RateLimiter implements sliding-window rate limiting middleware for Gin.
// Each caller carries a list of admission timestamps per method class; an
// attempt first expires timestamps older than the window, then admits only
// if the remaining count is under the class budget.
type RateLimiter struct {
	mu         sync.Mutex
	options    RateLimiterOptions
	callers    map[string]*caller
	admissions int
	logger     *logger.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(logger *logger.Logger, options ...RateLimiterOptions) *RateLimiter {
	opts := DefaultRateLimiterOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = DefaultRateLimiterOptions().KeyFunc
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReadMultiplier <= 0 {
		opts.ReadMultiplier = 1
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = DefaultRateLimiterOptions().SweepEvery
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultRateLimiterOptions().MaxClients
	}

	return &RateLimiter{
		options: opts,
		callers: make(map[string]*caller),
		logger:  logger,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := r.options.KeyFunc(c)
		read := isReadOnly(c.Request.Method)

		allowed, retryAfter := r.Allow(key, read)
		if !allowed {
			class := classMutating
			if read {
				class = classRead
			}
			r.logger.Warn("Rate limit exceeded",
				"client", key,
				"class", class,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			metrics.RecordThrottle(class)

			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.Header("X-RateLimit-Limit", strconv.Itoa(r.budget(read)))

			c.Error(errors.NewRateLimitError(seconds))
			c.Abort()
			return
		}

		c.Next()
	}
}

// Allow records an admission attempt for the caller and reports whether it
// was admitted. On rejection it returns how long until the oldest counted
// timestamp leaves the window.
func (r *RateLimiter) Allow(key string, read bool) (bool, time.Duration) {
	now := r.options.Now()
	cutoff := now.Add(-r.options.Window)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.callers[key]
	if !ok {
		entry = &caller{}
		r.callers[key] = entry
	}

	list := &entry.mutating
	if read {
		list = &entry.reads
	}
	*list = expire(*list, cutoff)

	if len(*list) >= r.budget(read) {
		oldest := (*list)[0]
		return false, r.options.Window - now.Sub(oldest)
	}

	*list = append(*list, now)
	r.admissions++

	if r.admissions%r.options.SweepEvery == 0 || len(r.callers) > r.options.MaxClients {
		r.sweepLocked(cutoff)
	}

	return true, 0
}

// budget returns the admission budget for the method class.
func (r *RateLimiter) budget(read bool) int {
	if read {
		return r.options.MaxRequests * r.options.ReadMultiplier
	}
	return r.options.MaxRequests
}

// sweepLocked drops callers with no timestamps left inside the window.
// Caller must hold r.mu.
func (r *RateLimiter) sweepLocked(cutoff time.Time) {
	for k, entry := range r.callers {
		entry.mutating = expire(entry.mutating, cutoff)
		entry.reads = expire(entry.reads, cutoff)
		if len(entry.mutating) == 0 && len(entry.reads) == 0 {
			delete(r.callers, k)
		}
	}
}

// expire drops timestamps strictly older than the cutoff; a timestamp equal
// to the cutoff still counts against the budget.
func expire(list []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(list) && list[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return list
	}
	return append(list[:0], list[i:]...)
}

func isReadOnly(method string) bool {
	switch method {
	case "GET", "HEAD", "OPTIONS":
		return true
	}
	return false
}

// Size reports the number of callers currently tracked.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callers)
}
