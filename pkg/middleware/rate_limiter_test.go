package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"karmika-sahayak/backend/pkg/errors"
	"karmika-sahayak/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", JSON: true, Output: io.Discard})
}

func testLimiter(t *testing.T, opts RateLimiterOptions, now *time.Time) *RateLimiter {
	t.Helper()
	opts.Now = func() time.Time { return *now }
	return NewRateLimiter(quietLogger(), opts)
}

func TestAllowRejectsSixthRequestInWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	opts := DefaultRateLimiterOptions()
	opts.Window = 60 * time.Second
	opts.MaxRequests = 5
	rl := testLimiter(t, opts, &now)

	for i := 0; i < 5; i++ {
		ok, _ := rl.Allow("10.0.0.1", false)
		require.True(t, ok, "request %d should be admitted", i+1)
	}

	ok, retry := rl.Allow("10.0.0.1", false)
	assert.False(t, ok, "sixth request should be rejected")
	assert.Equal(t, 60*time.Second, retry)

	// Advancing past the window readmits.
	now = now.Add(61 * time.Second)
	ok, _ = rl.Allow("10.0.0.1", false)
	assert.True(t, ok)
}

func TestAllowWindowBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	opts := DefaultRateLimiterOptions()
	opts.Window = 60 * time.Second
	opts.MaxRequests = 1
	rl := testLimiter(t, opts, &now)

	ok, _ := rl.Allow("10.0.0.1", false)
	require.True(t, ok)

	// A timestamp exactly at the window edge still counts.
	now = now.Add(60 * time.Second)
	ok, _ = rl.Allow("10.0.0.1", false)
	assert.False(t, ok)

	// One step past the edge it expires.
	now = now.Add(time.Nanosecond)
	ok, _ = rl.Allow("10.0.0.1", false)
	assert.True(t, ok)
}

func TestAllowReadBudgetIsMultiplied(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	opts := DefaultRateLimiterOptions()
	opts.Window = 60 * time.Second
	opts.MaxRequests = 2
	opts.ReadMultiplier = 3
	rl := testLimiter(t, opts, &now)

	for i := 0; i < 6; i++ {
		ok, _ := rl.Allow("10.0.0.1", true)
		require.True(t, ok, "read %d should be admitted", i+1)
	}
	ok, _ := rl.Allow("10.0.0.1", true)
	assert.False(t, ok, "seventh read should be rejected")

	// Mutating budget is tracked independently of the read budget.
	ok, _ = rl.Allow("10.0.0.1", false)
	assert.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1", false)
	assert.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1", false)
	assert.False(t, ok)
}

func TestAllowCallersAreIndependent(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	opts := DefaultRateLimiterOptions()
	opts.Window = 60 * time.Second
	opts.MaxRequests = 1
	rl := testLimiter(t, opts, &now)

	ok, _ := rl.Allow("10.0.0.1", false)
	require.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1", false)
	require.False(t, ok)

	// A different caller still has a full budget.
	ok, _ = rl.Allow("10.0.0.2", false)
	assert.True(t, ok)
}

func TestSweepDropsIdleCallers(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	opts := DefaultRateLimiterOptions()
	opts.Window = 60 * time.Second
	opts.MaxRequests = 10
	opts.SweepEvery = 4
	rl := testLimiter(t, opts, &now)

	rl.Allow("10.0.0.1", false)
	rl.Allow("10.0.0.2", false)
	require.Equal(t, 2, rl.Size())

	// Move far past the window so both callers go idle, then trigger the
	// periodic sweep with fresh admissions.
	now = now.Add(5 * time.Minute)
	rl.Allow("10.0.0.3", false)
	rl.Allow("10.0.0.4", false) // fourth admission overall, sweep fires

	assert.Equal(t, 2, rl.Size())
	_, tracked1 := rl.callers["10.0.0.1"]
	_, tracked2 := rl.callers["10.0.0.2"]
	assert.False(t, tracked1)
	assert.False(t, tracked2)
}

func TestSweepOnCallerTableOverflow(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	opts := DefaultRateLimiterOptions()
	opts.Window = 60 * time.Second
	opts.MaxRequests = 10
	opts.MaxClients = 3
	opts.SweepEvery = 1 << 30 // keep the periodic sweep out of the way
	rl := testLimiter(t, opts, &now)

	rl.Allow("10.0.0.1", false)
	rl.Allow("10.0.0.2", false)
	rl.Allow("10.0.0.3", false)
	require.Equal(t, 3, rl.Size())

	// The caller that pushes the table over the cap triggers the sweep,
	// clearing everything that has gone idle in the meantime.
	now = now.Add(5 * time.Minute)
	rl.Allow("10.0.0.4", false)
	assert.Equal(t, 1, rl.Size())
	_, tracked := rl.callers["10.0.0.4"]
	assert.True(t, tracked)
}

func TestMiddlewareRejectsWithThrottlingOutcome(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	opts := DefaultRateLimiterOptions()
	opts.Window = 60 * time.Second
	opts.MaxRequests = 2
	opts.KeyFunc = func(c *gin.Context) string { return "test-caller" }
	rl := testLimiter(t, opts, &now)

	router := gin.New()
	router.Use(errors.ErrorHandler())
	router.Use(rl.Middleware())
	router.POST("/messages", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/messages", nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/messages", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), errors.CodeRateLimited)
}
