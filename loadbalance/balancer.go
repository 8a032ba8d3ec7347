// Package loadbalance picks which gateway instance a client dials.
//
// Three strategies are implemented:
//   - RoundRobin:      spread sessions evenly across equal gateways
//   - WeightedRandom:  gateways of different capacity
//   - ConsistentHash:  pin a player (or any key) to the same gateway
package loadbalance

import (
	"errors"
	"fmt"

	"mini-ws/registry"
)

var errNoInstances = errors.New("no instances available")

const (
	NameRoundRobin     = "round_robin"
	NameWeightedRandom = "weighted_random"
	NameConsistentHash = "consistent_hash"
)

// Balancer is the interface for list-based strategies.
// Must be goroutine-safe.
type Balancer interface {
	// Pick selects one instance from the available list.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name used in configuration.
	Name() string
}

// New returns the list-based balancer configured by name. An empty name means
// round robin. Consistent hashing is key-based and built separately.
func New(name string) (Balancer, error) {
	switch name {
	case "", NameRoundRobin:
		return &RoundRobinBalancer{}, nil
	case NameWeightedRandom:
		return &WeightedRandomBalancer{}, nil
	default:
		return nil, fmt.Errorf("unknown balancer %q", name)
	}
}
