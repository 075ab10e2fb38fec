package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"
)

// DefaultReplicas is the number of virtual nodes per node.
const DefaultReplicas = 100

// ConsistentHashBalancer maps keys to nodes on a hash ring. The same key maps
// to the same node until the ring changes; removing a node only moves the
// keys that node owned.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer[T Node] struct {
	mu       sync.RWMutex
	replicas int
	ring     []uint32     // sorted virtual node hashes
	nodes    map[uint32]T // virtual node hash → node
}

func NewConsistentHashBalancer[T Node](replicas int) *ConsistentHashBalancer[T] {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	return &ConsistentHashBalancer[T]{
		replicas: replicas,
		nodes:    make(map[uint32]T),
	}
}

// Add places node on the ring with its virtual nodes, hashed from
// "{key}#{i}".
func (b *ConsistentHashBalancer[T]) Add(node T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", node.Key(), i)))
		if _, taken := b.nodes[hash]; !taken {
			b.ring = append(b.ring, hash)
		}
		b.nodes[hash] = node
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Remove takes every virtual node of key off the ring.
func (b *ConsistentHashBalancer[T]) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ring := b.ring[:0]
	for _, hash := range b.ring {
		if b.nodes[hash].Key() == key {
			delete(b.nodes, hash)
			continue
		}
		ring = append(ring, hash)
	}
	b.ring = ring
}

// Len reports the number of distinct nodes on the ring.
func (b *ConsistentHashBalancer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, n := range b.nodes {
		seen[n.Key()] = struct{}{}
	}
	return len(seen)
}

// Pick finds the node owning key: the first virtual node at or after the
// key's hash, wrapping around to the start of the ring.
func (b *ConsistentHashBalancer[T]) Pick(key string) (T, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		var zero T
		return zero, ErrNoNodes
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer[T]) Name() string {
	return "ConsistentHash"
}
