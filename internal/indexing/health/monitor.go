package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Pinger checks a backing store.
type Pinger interface {
	Health(ctx context.Context) error
}

// HeadFetcher fetches the latest block height of the chain.
type HeadFetcher interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// Liveness reports worker loop progress.
type Liveness interface {
	Name() string
	LastSuccess() time.Time
	Interval() time.Duration
}

// staleFactor is how many intervals a loop may go without success.
const staleFactor = 5

// Monitor aggregates health status from various system components.
type Monitor struct {
	store     Pinger
	head      HeadFetcher
	loops     []Liveness
	startedAt time.Time
	cacheTTL  time.Duration

	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. store and head may be nil.
func NewMonitor(store Pinger, head HeadFetcher, loops ...Liveness) *Monitor {
	return &Monitor{
		store:     store,
		head:      head,
		loops:     loops,
		startedAt: time.Now(),
		cacheTTL:  10 * time.Second,
	}
}

// CheckHealth performs a health check of every component.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks to avoid spamming RPC
	if m.lastReport != nil && time.Since(m.lastCheck) < m.cacheTTL {
		return m.lastReport
	}

	now := time.Now()
	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth),
		CheckedAt:    now,
	}
	set := func(name string, h ComponentHealth) {
		report.Components[name] = h
		report.SystemStatus = worse(report.SystemStatus, h.Status)
	}

	if m.store != nil {
		h := ComponentHealth{Status: StatusHealthy}
		if err := m.store.Health(ctx); err != nil {
			h = ComponentHealth{Status: StatusCritical, Detail: err.Error()}
		}
		set("database", h)
	}

	if m.head != nil {
		h := ComponentHealth{Status: StatusHealthy}
		head, err := m.head.LatestBlock(ctx)
		if err != nil {
			// If we can't get height, that's degradation
			h = ComponentHealth{Status: StatusDegraded, Detail: err.Error()}
		} else {
			report.ChainHead = head
		}
		set("chain", h)
	}

	for _, l := range m.loops {
		set(l.Name(), m.loopHealth(l, now))
	}

	m.lastCheck = now
	m.lastReport = report
	return report
}

func (m *Monitor) loopHealth(l Liveness, now time.Time) ComponentHealth {
	limit := staleFactor * l.Interval()
	last := l.LastSuccess()
	if last.IsZero() {
		if now.Sub(m.startedAt) > limit {
			return ComponentHealth{Status: StatusDegraded, Detail: "no successful iteration yet"}
		}
		return ComponentHealth{Status: StatusHealthy, Detail: "starting"}
	}

	h := ComponentHealth{Status: StatusHealthy, LastSuccess: &last}
	if age := now.Sub(last); age > limit {
		h.Status = StatusDegraded
		h.Detail = fmt.Sprintf("last success %s ago", age.Round(time.Second))
	}
	return h
}
