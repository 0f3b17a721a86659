package repositories

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/framecraft/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck probes a single downstream dependency such as the order store or a sink.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// ReadinessProbe runs dependency checks concurrently and folds them into one report.
type ReadinessProbe struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

// NewReadinessProbe validates the check set. A nil clock falls back to time.Now.
func NewReadinessProbe(checks []DependencyCheck, clock func() time.Time) (*ReadinessProbe, error) {
	if len(checks) == 0 {
		return nil, errors.New("readiness probe: at least one dependency check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" || check.Check == nil {
			return nil, errors.New("readiness probe: dependency checks require a name and function")
		}
	}
	if clock == nil {
		clock = time.Now
	}
	return &ReadinessProbe{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: defaultProbeTimeout,
		now:     clock,
	}, nil
}

// Probe executes every check and reports the worst observed status.
func (p *ReadinessProbe) Probe(ctx context.Context) domain.ReadinessReport {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]domain.DependencyHealth, len(p.checks))
	)
	for _, check := range p.checks {
		wg.Add(1)
		go func(check DependencyCheck) {
			defer wg.Done()
			health := p.run(ctx, check)
			mu.Lock()
			results[check.Name] = health
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, result := range results {
		switch result.Status {
		case domain.HealthStatusError:
			status = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		}
	}
	return domain.ReadinessReport{Status: status, Checks: results, GeneratedAt: p.now()}
}

func (p *ReadinessProbe) run(ctx context.Context, check DependencyCheck) domain.DependencyHealth {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	err := check.Check(checkCtx)
	end := p.now()

	health := domain.DependencyHealth{Status: domain.HealthStatusOK, Detail: "ok", Latency: end.Sub(start), CheckedAt: end}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		health.Status = domain.HealthStatusError
		health.Detail = "timeout"
	default:
		health.Status = domain.HealthStatusDegraded
		health.Detail = err.Error()
	}
	return health
}
