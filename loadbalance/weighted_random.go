package loadbalance

import (
	"math/rand/v2"

	"mini-ws/registry"
)

type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, errNoInstances
	}

	// 计算总权重，负权重按 0 处理
	totalWeight := 0
	for _, v := range instances {
		totalWeight += max(v.Weight, 0)
	}

	// 所有权重都是 0 时退化为均匀随机
	if totalWeight == 0 {
		inst := instances[rand.IntN(len(instances))]
		return &inst, nil
	}

	r := rand.IntN(totalWeight)
	for _, v := range instances {
		r -= max(v.Weight, 0)
		if r < 0 {
			return &v, nil
		}
	}

	return nil, errNoInstances
}

func (b *WeightedRandomBalancer) Name() string {
	return NameWeightedRandom
}
