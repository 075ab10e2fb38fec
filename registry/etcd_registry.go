package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// EtcdRegistry stores instances in etcd:
//
//	Key:   /pipeworker/{service}/{id}
//	Value: JSON-encoded Instance
//
// Each key is attached to a lease kept alive in the background, so a worker
// that dies without deregistering disappears once its TTL runs out.
type EtcdRegistry struct {
	client *clientv3.Client
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease of a registered instance

	// keepalives outlive the Register call that started them
	ctx    context.Context
	cancel context.CancelFunc
}

func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect etcd")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client: c,
		logger: logger,
		leases: make(map[string]clientv3.LeaseID),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Register grants a lease on the first registration of an ID and reuses it
// for later updates.
func (r *EtcdRegistry) Register(ctx context.Context, service string, inst Instance, ttl int64) error {
	key := Key(service, inst.ID)
	val, err := json.Marshal(inst)
	if err != nil {
		return errors.Wrap(err, "encode instance")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	leaseID, ok := r.leases[key]
	if !ok {
		lease, err := r.client.Grant(ctx, ttl)
		if err != nil {
			return errors.Wrap(err, "grant lease")
		}
		leaseID = lease.ID
	}

	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(leaseID)); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}
	if ok {
		return nil
	}

	ch, err := r.client.KeepAlive(r.ctx, leaseID)
	if err != nil {
		return errors.Wrap(err, "keep lease alive")
	}
	r.leases[key] = leaseID
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("key", key))
	}()
	return nil
}

// Deregister deletes the instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, service, id string) error {
	key := Key(service, id)
	if _, err := r.client.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}

	r.mu.Lock()
	leaseID, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		if _, err := r.client.Revoke(ctx, leaseID); err != nil {
			return errors.Wrap(err, "revoke lease")
		}
	}
	return nil
}

func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, KeyPrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", service)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			r.logger.Warn("skipping malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Watch re-lists the service on every change under its prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, KeyPrefix(service), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, service)
			if err != nil {
				r.logger.Warn("watch re-list failed", zap.String("service", service), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close stops all keepalives and closes the etcd client. Leases that were
// not revoked expire after their TTL.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}
