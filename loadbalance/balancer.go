// Package loadbalance picks one worker out of several.
//
// Two strategies are implemented:
//   - RoundRobin:     workers are interchangeable, spread calls evenly
//   - ConsistentHash: workers hold state (a counter, a cache), send every
//     call for one key to the same worker
package loadbalance

import "github.com/pkg/errors"

var ErrNoNodes = errors.New("no nodes available")

// Node is anything a balancer can choose. Key must be stable and unique
// among the nodes balanced together.
type Node interface {
	Key() string
}

// Balancer picks one node per call. Pick must be goroutine-safe.
type Balancer[T Node] interface {
	Pick(nodes []T) (T, error)
	Name() string
}
