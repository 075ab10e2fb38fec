// Package registry announces running workers.
//
// A worker that is configured with a registry publishes an Instance when it
// starts, republishes it after every successful load (so Names tracks the
// name table) and removes it on shutdown. Hosts can Discover or Watch the
// workers of a service.
package registry

import (
	"context"
	"time"
)

// Instance describes one running worker process.
type Instance struct {
	ID      string    `json:"id"`
	PID     int       `json:"pid"`
	Host    string    `json:"host"`
	Framing string    `json:"framing"`
	Names   []string  `json:"names"`
	Started time.Time `json:"started"`
}

type Registry interface {
	// Register publishes inst under service. Registering the same ID again
	// replaces the previous record.
	Register(ctx context.Context, service string, inst Instance, ttl int64) error
	Deregister(ctx context.Context, service, id string) error
	Discover(ctx context.Context, service string) ([]Instance, error)
	// Watch emits the full instance list whenever it changes, until ctx is
	// done.
	Watch(ctx context.Context, service string) <-chan []Instance
}

// KeyPrefix is the key space of service's instances.
func KeyPrefix(service string) string {
	return "/pipeworker/" + service + "/"
}

func Key(service, id string) string {
	return KeyPrefix(service) + id
}
