package domain

import "time"

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// DependencyHealth captures the outcome of probing one dependency.
type DependencyHealth struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// ReadinessReport aggregates dependency status for the readiness endpoint.
type ReadinessReport struct {
	Status      string
	Checks      map[string]DependencyHealth
	GeneratedAt time.Time
}
