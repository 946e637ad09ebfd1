// Package health aggregates component checks into a single status for the
// receiver's health endpoint.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Check performs one health check.
type Check func(ctx context.Context) CheckResult

// Component is a named check.
type Component struct {
	Name string
	// Critical components make the overall status unhealthy when they fail;
	// others only degrade it.
	Critical bool
	Check    Check
	Timeout  time.Duration
}

// Checker runs registered components.
type Checker struct {
	mu         sync.RWMutex
	components []*Component
	started    time.Time
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{started: time.Now()}
}

// Register adds a component. A zero timeout becomes five seconds.
func (c *Checker) Register(comp *Component) {
	if comp.Timeout == 0 {
		comp.Timeout = 5 * time.Second
	}
	c.mu.Lock()
	c.components = append(c.components, comp)
	c.mu.Unlock()
}

// RegisterFunc registers a check under name.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

// Check runs all components concurrently.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	comps := append([]*Component(nil), c.components...)
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(comps))
	)
	for _, comp := range comps {
		comp := comp
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := run(ctx, comp)
			mu.Lock()
			results[comp.Name] = r
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func run(ctx context.Context, comp *Component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- comp.Check(ctx)
	}()

	var result CheckResult
	select {
	case result = <-done:
	case <-ctx.Done():
		result = CheckResult{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	result.Duration = time.Since(start)
	return result
}

// Overall folds results into one status.
func (c *Checker) Overall(results map[string]CheckResult) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := StatusHealthy
	for _, comp := range c.components {
		r, ok := results[comp.Name]
		if !ok {
			continue
		}
		switch r.Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			status = StatusDegraded
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// Response is the body of the health endpoint.
type Response struct {
	Status     Status                 `json:"status"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Handler serves the aggregated status: 200 when healthy or degraded, 503
// otherwise.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results := c.Check(r.Context())
		resp := Response{
			Status:     c.Overall(results),
			Uptime:     time.Since(c.started).Round(time.Second).String(),
			Components: results,
			Timestamp:  time.Now(),
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// ErrorCheck adapts a function that reports failure as an error.
func ErrorCheck(fn func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := fn(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy}
	}
}
