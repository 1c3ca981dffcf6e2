package selector

import (
	"github.com/flowctl/policyd/policy"
)

type healthFilter[T any] struct {
	state func(T) policy.HealthState
}

// HealthFilter drops candidates whose health state is down. Degraded
// candidates pass; only a dead egress is taken out of rotation.
func HealthFilter[T any](state func(T) policy.HealthState) Filter[T] {
	return &healthFilter[T]{
		state: state,
	}
}

func (f *healthFilter[T]) Filter(vs ...T) []T {
	var l []T
	for _, v := range vs {
		if f.state(v) == policy.HealthDown {
			continue
		}
		l = append(l, v)
	}
	return l
}
