package healthcheck

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Probe reports whether one dependency is reachable.
type Probe func(ctx context.Context) error

// Checker probes the gate's dependencies (database, redis) on an interval and
// on demand, and keeps the latest status of each.
type Checker struct {
	mu           sync.RWMutex
	probes       map[string]Probe
	healthStatus map[string]*Status
	interval     time.Duration
	timeout      time.Duration
	maxFailures  int
	logger       *zap.Logger
	stopChan     chan struct{}
	running      bool
}

type Config struct {
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Per probe timeout (default: 2s)
	MaxFailures int           // Failures before marking unhealthy (default: 1)
	Logger      *zap.Logger
}

func NewChecker(cfg Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Checker{
		probes:       make(map[string]Probe),
		healthStatus: make(map[string]*Status),
		interval:     cfg.Interval,
		timeout:      cfg.Timeout,
		maxFailures:  cfg.MaxFailures,
		logger:       cfg.Logger,
		stopChan:     make(chan struct{}),
	}
}

// Register adds a named probe. Dependencies are assumed healthy until checked.
func (c *Checker) Register(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.probes[name] = probe
	c.healthStatus[name] = &Status{Target: name, IsHealthy: true}
}

// Start begins periodic checks in the background.
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info("starting dependency health checks",
		zap.Int("probes", len(c.probes)),
		zap.Duration("interval", c.interval),
	)

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.CheckAll(context.Background())
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
	}
}

// CheckAll runs every probe concurrently and waits for them.
func (c *Checker) CheckAll(ctx context.Context) {
	c.mu.RLock()
	probes := make(map[string]Probe, len(c.probes))
	for name, probe := range c.probes {
		probes[name] = probe
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for name, probe := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.check(ctx, name, probe)
		}()
	}
	wg.Wait()
}

func (c *Checker) check(ctx context.Context, name string, probe Probe) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := probe(ctx); err != nil {
		c.recordFailure(name, err)
		return
	}
	c.recordSuccess(name)
}

func (c *Checker) recordSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	status := c.healthStatus[name]
	status.LastCheck = now
	status.LastSuccess = now
	status.FailureCount = 0

	if !status.IsHealthy {
		c.logger.Info("dependency is healthy again", zap.String("dependency", name))
		status.IsHealthy = true
	}
}

func (c *Checker) recordFailure(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	status := c.healthStatus[name]
	status.LastCheck = now
	status.LastFailure = now
	status.FailureCount++

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.logger.Warn("dependency is unhealthy",
			zap.String("dependency", name),
			zap.Int("failures", status.FailureCount),
			zap.Error(err),
		)
		status.IsHealthy = false
	}
}

// GetAllStatus returns copies of every dependency's status, sorted by name.
func (c *Checker) GetAllStatus() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses := make([]Status, 0, len(c.healthStatus))
	for _, status := range c.healthStatus {
		statuses = append(statuses, *status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Target < statuses[j].Target
	})
	return statuses
}

// OverallHealth is Healthy with no probes registered.
func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthy := 0
	for _, status := range c.healthStatus {
		if status.IsHealthy {
			healthy++
		}
	}

	switch {
	case healthy == len(c.healthStatus):
		return Healthy
	case healthy == 0:
		return Unhealthy
	default:
		return Degraded
	}
}
