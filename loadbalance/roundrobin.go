package loadbalance

import (
	"sync/atomic"

	"mini-ws/registry"
)

// RoundRobinBalancer hands out instances in order using an atomic counter.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, errNoInstances
	}
	index := (b.counter.Add(1) - 1) % uint64(len(instances))
	inst := instances[index]
	return &inst, nil
}

func (b *RoundRobinBalancer) Name() string {
	return NameRoundRobin
}
