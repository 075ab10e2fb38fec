package loadbalance

import (
	"sync/atomic"
)

// RoundRobinBalancer cycles through the nodes in order using an atomic
// counter.
type RoundRobinBalancer[T Node] struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer[T]) Pick(nodes []T) (T, error) {
	if len(nodes) == 0 {
		var zero T
		return zero, ErrNoNodes
	}
	index := (b.counter.Add(1) - 1) % uint64(len(nodes))
	return nodes[index], nil
}

func (b *RoundRobinBalancer[T]) Name() string {
	return "RoundRobin"
}
