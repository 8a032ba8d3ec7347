// Package registry lets gateways announce themselves and clients find them.
//
// A gateway instance is addressed by its websocket URL; clients pick one with
// a loadbalance strategy and dial it.
package registry

import (
	"context"
	"errors"
)

// ErrNoInstances is returned by Discover callers that need at least one instance.
var ErrNoInstances = errors.New("no gateway instances registered")

type ServiceInstance struct {
	Addr    string `json:"addr"`    // ws:// or wss:// URL
	Weight  int    `json:"weight"`  // Weight for load balancing
	Version string `json:"version"`
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
