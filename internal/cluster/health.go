package cluster

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
)

// Health status values reported by HealthMonitor.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Endpoint is a process the health monitor checks.
type Endpoint struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// EndpointHealth tracks the health status of a single endpoint.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type EndpointHealth struct {
	LastCheck        time.Time `json:"last_check"`   // Timestamp of the last health check attempt
	LastHealthy      time.Time `json:"last_healthy"` // Timestamp of the last successful health check
	ID               string    `json:"id"`           // Endpoint identifier
	Status           string    `json:"status"`       // StatusHealthy, StatusUnhealthy or StatusUnknown
	ConsecutiveFails int       `json:"consecutive_fails"`
}

// HealthMonitor periodically checks the /health endpoint of every ps shard a
// worker depends on. It only observes: losing a shard is reported through
// the unhealthy callback, and the worker decides what to do about it.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	endpoints   map[string]*EndpointHealth
	httpClient  *http.Client
	checkFunc   func(addr string) error
	onUnhealthy func(id string)
	onRecovered func(id string)
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor that checks every interval and marks an
// endpoint unhealthy after 3 consecutive failures.
//
// Example:
//
//	monitor := NewHealthMonitor(5 * time.Second)
//	go monitor.Start(ctx, func() []Endpoint { return shards })
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		endpoints:   make(map[string]*EndpointHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked when an endpoint becomes unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(id string)) {
	h.onUnhealthy = callback
}

// SetOnRecovered sets the callback invoked when an unhealthy endpoint passes
// a check again.
func (h *HealthMonitor) SetOnRecovered(callback func(id string)) {
	h.onRecovered = callback
}

// SetCheckFunction overrides the default HTTP check, mostly for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}

// Start runs checks until ctx or the monitor is cancelled. It blocks.
func (h *HealthMonitor) Start(ctx context.Context, provider func() []Endpoint) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	glog.V(1).Infof("health monitor started with interval %v", h.interval)

	h.checkAll(provider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(provider())
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop cancels the monitoring goroutine and waits for it to complete.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *HealthMonitor) checkAll(endpoints []Endpoint) {
	current := make(map[string]bool)
	for _, ep := range endpoints {
		current[ep.ID] = true
		h.check(ep)
	}

	h.mu.Lock()
	for id := range h.endpoints {
		if !current[id] {
			delete(h.endpoints, id)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) check(ep Endpoint) {
	h.mu.Lock()
	health, exists := h.endpoints[ep.ID]
	if !exists {
		health = &EndpointHealth{
			ID:          ep.ID,
			Status:      StatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.endpoints[ep.ID] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(ep.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		glog.Warningf("health check failed for %s (attempt %d/%d): %v",
			ep.ID, health.ConsecutiveFails, h.maxFailures, err)

		if health.ConsecutiveFails >= h.maxFailures {
			previous := health.Status
			health.Status = StatusUnhealthy
			if previous != StatusUnhealthy && h.onUnhealthy != nil {
				glog.Warningf("%s marked unhealthy after %d failures", ep.ID, health.ConsecutiveFails)
				// Call callback without holding the lock
				go h.onUnhealthy(ep.ID)
			}
		}
		return
	}

	if health.Status == StatusUnhealthy {
		glog.Infof("%s recovered", ep.ID)
		if h.onRecovered != nil {
			go h.onRecovered(ep.ID)
		}
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	return checkHealth(h.ctx, h.httpClient, addr)
}

func checkHealth(ctx context.Context, client *http.Client, addr string) error {
	url := URL(addr)
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Health returns a copy of the status of one endpoint, or nil if it is not
// monitored.
func (h *HealthMonitor) Health(id string) *EndpointHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.endpoints[id]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// AllHealth returns a copy of every monitored endpoint's status.
func (h *HealthMonitor) AllHealth() map[string]*EndpointHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*EndpointHealth, len(h.endpoints))
	for id, health := range h.endpoints {
		cp := *health
		result[id] = &cp
	}
	return result
}

// IsHealthy reports whether an endpoint passed its last check.
func (h *HealthMonitor) IsHealthy(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.endpoints[id]
	return exists && health.Status == StatusHealthy
}

// WaitHealthy blocks until every address answers /health with 200, retrying
// with exponential backoff for at most maxWait. It is used only while a
// process is bootstrapping; training traffic is never retried.
func WaitHealthy(ctx context.Context, addrs []string, maxWait time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	for _, addr := range addrs {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		b.MaxInterval = 2 * time.Second
		b.MaxElapsedTime = maxWait

		attempt := 0
		err := backoff.Retry(func() error {
			attempt++
			err := checkHealth(ctx, client, addr)
			if err != nil {
				glog.V(1).Infof("waiting for %s (attempt %d): %v", addr, attempt, err)
			}
			return err
		}, backoff.WithContext(b, ctx))
		if err != nil {
			return fmt.Errorf("%s not healthy after %v: %w", addr, maxWait, err)
		}
	}
	return nil
}
