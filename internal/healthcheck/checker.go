package healthcheck

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pinger is satisfied by storage.RedisClient and storage.Postgres
type Pinger interface {
	Ping(ctx context.Context) error
}

// A named dependency check
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

func PingProbe(name string, p Pinger) Probe {
	return Probe{Name: name, Check: p.Ping}
}

// Periodically probes the service's dependencies
type Checker struct {
	mu          sync.RWMutex
	probes      []Probe
	status      map[string]*Status
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	logger      *slog.Logger
	now         func() time.Time
}

type Config struct {
	Probes      []Probe
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Per probe timeout (default: 2s)
	MaxFailures int           // Failures before marking unhealthy (default: 1)
	Logger      *slog.Logger
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
		cfg.Logger = slog.Default()
	}

	checker := &Checker{
		probes:      cfg.Probes,
		status:      make(map[string]*Status, len(cfg.Probes)),
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		logger:      cfg.Logger,
		now:         time.Now,
	}

	// Assume healthy until the first check says otherwise
	for _, probe := range cfg.Probes {
		checker.status[probe.Name] = &Status{
			Name:      probe.Name,
			IsHealthy: true,
			LastCheck: checker.now(),
		}
	}

	return checker
}

// Checks immediately, then every interval until ctx is done
func (c *Checker) Run(ctx context.Context) error {
	c.logger.Info("starting health checks", "probes", len(c.probes), "interval", c.interval)

	c.CheckAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CheckAll(ctx)
		case <-ctx.Done():
			c.logger.Info("health checker stopped")
			return nil
		}
	}
}

// Runs every probe concurrently and waits for them
func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, probe := range c.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			c.check(ctx, p)
		}(probe)
	}

	wg.Wait()
}

func (c *Checker) check(ctx context.Context, probe Probe) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := probe.Check(ctx); err != nil {
		c.recordFailure(probe.Name, err)
		return
	}
	c.recordSuccess(probe.Name)
}

func (c *Checker) recordSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status[name]
	status.LastCheck = c.now()
	status.LastSuccess = status.LastCheck
	status.FailureCount = 0
	status.LastError = ""

	if !status.IsHealthy {
		c.logger.Info("dependency recovered", "dependency", name)
		status.IsHealthy = true
	}
}

func (c *Checker) recordFailure(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status[name]
	status.LastCheck = c.now()
	status.LastFailure = status.LastCheck
	status.FailureCount++
	status.LastError = err.Error()

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.logger.Warn("dependency unhealthy", "dependency", name, "failures", status.FailureCount, "error", err)
		status.IsHealthy = false
	}
}

// Returns a copy of every probe's status keyed by name
func (c *Checker) GetAllStatus() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statusMap := make(map[string]Status, len(c.status))
	for name, status := range c.status {
		statusMap[name] = *status
	}

	return statusMap
}

func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthy := 0
	for _, status := range c.status {
		if status.IsHealthy {
			healthy++
		}
	}

	if len(c.status) > 0 && healthy == 0 {
		return Unhealthy
	}
	if healthy < len(c.status) {
		return Degraded
	}

	return Healthy
}
