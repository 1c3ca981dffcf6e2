// Package selector picks one candidate out of an ordered set through a
// strategy and a chain of filters. The resolver composes a FIFO strategy
// with a health filter to choose the egress for failover-enabled rules.
package selector

type Selector[T any] interface {
	Select(vs ...T) T
}

type Strategy[T any] interface {
	Apply(vs ...T) T
}

type Filter[T any] interface {
	Filter(vs ...T) []T
}

type defaultSelector[T any] struct {
	strategy Strategy[T]
	filters  []Filter[T]
}

func NewSelector[T any](strategy Strategy[T], filters ...Filter[T]) Selector[T] {
	return &defaultSelector[T]{
		filters:  filters,
		strategy: strategy,
	}
}

func (s *defaultSelector[T]) Select(vs ...T) (v T) {
	for _, filter := range s.filters {
		vs = filter.Filter(vs...)
	}
	if len(vs) == 0 {
		return
	}
	return s.strategy.Apply(vs...)
}
