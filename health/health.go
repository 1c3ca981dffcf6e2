// Package health tracks liveness and latency of egress points. The tracker
// probes on a fixed interval and publishes an independently-versioned health
// map by atomic pointer swap; it never blocks the resolution path and never
// touches rule data.
package health

import (
	"time"

	"github.com/flowctl/policyd/policy"
)

// Status is the probed condition of one egress point.
type Status struct {
	State   policy.HealthState `json:"state"`
	Latency time.Duration      `json:"latency"`
	// Reliability is an exponentially weighted success ratio in [0, 1].
	Reliability float64   `json:"reliability"`
	CheckedAt   time.Time `json:"checkedAt"`
}

// Map is one published generation of health state, keyed by egress id.
// A Map is immutable once published.
type Map struct {
	Version  uint64            `json:"version"`
	Statuses map[string]Status `json:"statuses"`
}

// State returns the state for the egress id; an unknown egress is reported
// healthy, so a freshly added egress is usable before its first probe.
func (m *Map) State(egressID string) policy.HealthState {
	if m == nil {
		return policy.HealthHealthy
	}
	if st, ok := m.Statuses[egressID]; ok {
		return st.State
	}
	return policy.HealthHealthy
}

// Source yields health state per egress id. The resolver reads through this
// interface so tests can substitute a fixed map.
type Source interface {
	State(egressID string) policy.HealthState
}

// Static builds a fixed Source from explicit states, for tests and for
// manual overrides.
func Static(states map[string]policy.HealthState) Source {
	statuses := make(map[string]Status, len(states))
	for id, state := range states {
		statuses[id] = Status{State: state}
	}
	return &Map{Statuses: statuses}
}
