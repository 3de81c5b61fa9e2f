// Package health aggregates periodic backend probes into one report.
// Only the database is critical to serving chat; Redis, Weaviate, the
// LLM backend, and the board API degrade answers without taking the
// service down.
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"karmika-sahayak/backend/pkg/logger"
)

// Status is the reported state of one checked component.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check probes one backend.
type Check func() (Status, string, error)

// Component is the last observed state of one backend.
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Report is the aggregated document served on /health. Status is "ok"
// when everything is up, "degraded" when an optional backend is not,
// and "unavailable" when a critical component is down.
type Report struct {
	Status     string                `json:"status"`
	Timestamp  time.Time             `json:"timestamp"`
	Components map[string]*Component `json:"components"`
}

// Checker runs registered checks on a fixed period and keeps the last
// result per component.
type Checker struct {
	mu          sync.RWMutex
	checks      map[string]Check
	components  map[string]*Component
	critical    map[string]bool
	checkPeriod time.Duration
	log         *logger.Logger
}

// NewChecker builds a checker that re-probes every checkPeriod once
// Start is called.
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	c := &Checker{
		checks:      make(map[string]Check),
		components:  make(map[string]*Component),
		critical:    make(map[string]bool),
		checkPeriod: checkPeriod,
		log:         log,
	}

	c.RegisterCheck("self", func() (Status, string, error) {
		return StatusUp, "Health checker is running", nil
	})

	return c
}

// RegisterCheck adds a non-critical check. A failing non-critical
// component marks the report degraded but the service stays available.
func (c *Checker) RegisterCheck(name string, check Check) {
	c.register(name, check, false)
}

// RegisterDatabaseCheck adds the thread-store probe. The database is the
// one backend the pipeline cannot run without, so it alone can flip the
// report to unavailable.
func (c *Checker) RegisterDatabaseCheck(ping func() error) {
	c.register("database", func() (Status, string, error) {
		if err := ping(); err != nil {
			return StatusDown, "Database connection failed", err
		}
		return StatusUp, "Database connection is established", nil
	}, true)
}

// RegisterAPICheck probes an HTTP endpoint and reports its latency.
func (c *Checker) RegisterAPICheck(name, endpoint string, client *http.Client) {
	if client == nil {
		client = http.DefaultClient
	}

	c.RegisterCheck("api-"+name, func() (Status, string, error) {
		start := time.Now()
		resp, err := client.Get(endpoint)
		if err != nil {
			return StatusDown, "API request failed", err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return StatusDegraded, fmt.Sprintf("API returned status %d", resp.StatusCode),
				fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return StatusUp, fmt.Sprintf("API is responding (latency: %s)", time.Since(start)), nil
	})
}

func (c *Checker) register(name string, check Check, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = check
	c.critical[name] = critical
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Description: "Not checked yet",
	}
}

// RunChecks executes every registered check once. Probes run outside the
// lock so a slow backend never blocks status reads.
func (c *Checker) RunChecks() {
	c.mu.RLock()
	snapshot := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		snapshot[name] = check
	}
	c.mu.RUnlock()

	for name, check := range snapshot {
		status, description, err := check()

		c.mu.Lock()
		component := c.components[name]
		component.Status = status
		component.Description = description
		component.LastChecked = time.Now()
		component.Error = ""
		if err != nil {
			component.Error = err.Error()
		}
		c.mu.Unlock()

		if err != nil {
			c.log.Warn("Health check failed",
				"component", name,
				"status", string(status),
				"error", err.Error(),
			)
		} else {
			c.log.Debug("Health check passed", "component", name, "status", string(status))
		}
	}
}

// Start runs all checks immediately, then re-runs them every checkPeriod
// for the life of the process.
func (c *Checker) Start() {
	go func() {
		c.RunChecks()

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for range ticker.C {
			c.RunChecks()
		}
	}()
}

// Snapshot copies the current component states and computes the overall
// verdict.
func (c *Checker) Snapshot() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	components := make(map[string]*Component, len(c.components))
	overall := "ok"
	for name, component := range c.components {
		copied := *component
		components[name] = &copied

		switch {
		case component.Status == StatusDown && c.critical[name]:
			overall = "unavailable"
		case component.Status != StatusUp && overall == "ok":
			overall = "degraded"
		}
	}

	return Report{Status: overall, Timestamp: time.Now(), Components: components}
}

// HTTPHandler serves the aggregated report. A down critical component
// returns 503; degraded optional backends still return 200.
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		if report.Status == "unavailable" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		if err := json.NewEncoder(w).Encode(report); err != nil {
			c.log.Error("Failed to encode health report", "error", err.Error())
		}
	}
}
