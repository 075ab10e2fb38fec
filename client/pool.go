package client

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"pipeworker/codec"
	"pipeworker/loadbalance"
)

type PoolOptions struct {
	Size     int
	Worker   Options
	Load     LoadOptions
	Balancer loadbalance.Balancer[*Client] // default round robin
	Replicas int                           // virtual nodes per worker for CallKey
}

// Pool spreads calls over Size workers, each loaded with the same exports.
// Call balances over live workers; CallKey pins a key to one worker.
type Pool struct {
	mu      sync.RWMutex
	clients []*Client
	bal     loadbalance.Balancer[*Client]
	ring    *loadbalance.ConsistentHashBalancer[*Client]
}

// NewPool starts and loads every worker in parallel. The workers live until
// ctx is done or Close is called. If any fails, the others are closed.
func NewPool(ctx context.Context, opts PoolOptions) (*Pool, error) {
	if opts.Size <= 0 {
		return nil, errors.Errorf("pool: size must be positive, got %d", opts.Size)
	}
	clients := make([]*Client, opts.Size)
	// no shared cancellation: a cancelled load closes its worker
	var g errgroup.Group
	for i := range clients {
		i := i
		g.Go(func() error {
			c, err := Start(ctx, opts.Worker)
			if err != nil {
				return errors.Wrapf(err, "pool: worker %d", i)
			}
			clients[i] = c
			return errors.Wrapf(c.Load(ctx, opts.Load), "pool: worker %d", i)
		})
	}
	if err := g.Wait(); err != nil {
		for _, c := range clients {
			if c != nil {
				c.Close()
			}
		}
		return nil, err
	}

	p := &Pool{
		clients: clients,
		bal:     opts.Balancer,
		ring:    loadbalance.NewConsistentHashBalancer[*Client](opts.Replicas),
	}
	if p.bal == nil {
		p.bal = &loadbalance.RoundRobinBalancer[*Client]{}
	}
	for _, c := range clients {
		p.ring.Add(c)
		go p.watch(c)
	}
	return p, nil
}

// watch drops c from the pool once its worker exits.
func (p *Pool) watch(c *Client) {
	<-c.Done()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, other := range p.clients {
		if other == c {
			p.clients = append(p.clients[:i:i], p.clients[i+1:]...)
			break
		}
	}
	p.ring.Remove(c.Key())
}

// Clients lists the live workers.
func (p *Pool) Clients() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Client(nil), p.clients...)
}

func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// Load runs lo on every live worker and reports the first failure. Every
// load runs to completion under ctx: a load the worker rejects leaves that
// worker serving, while cancelling a pending load closes the worker.
func (p *Pool) Load(ctx context.Context, lo LoadOptions) error {
	var g errgroup.Group
	for _, c := range p.Clients() {
		c := c
		g.Go(func() error {
			return errors.Wrapf(c.Load(ctx, lo), "pool: worker %s", c.Key())
		})
	}
	return g.Wait()
}

func (p *Pool) Call(ctx context.Context, target string, args ...any) (codec.Raw, error) {
	c, err := p.bal.Pick(p.Clients())
	if err != nil {
		return nil, errors.Wrap(err, "pool")
	}
	return c.Call(ctx, target, args...)
}

// CallKey sends the call to the worker that owns key, so stateful exports
// see every call for that key.
func (p *Pool) CallKey(ctx context.Context, key, target string, args ...any) (codec.Raw, error) {
	c, err := p.ring.Pick(key)
	if err != nil {
		return nil, errors.Wrap(err, "pool")
	}
	return c.Call(ctx, target, args...)
}

// Close closes every worker.
func (p *Pool) Close() error {
	var wg sync.WaitGroup
	for _, c := range p.Clients() {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}
	wg.Wait()
	return nil
}
