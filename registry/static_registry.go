package registry

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// StaticRegistry is an in-process Registry. It backs single-gateway setups,
// a fixed list of gateways from configuration, and tests. TTLs are ignored.
type StaticRegistry struct {
	services *xsync.MapOf[string, []ServiceInstance]

	mu       sync.Mutex
	watchers map[string][]chan []ServiceInstance
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		services: xsync.NewMapOf[string, []ServiceInstance](),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

func (r *StaticRegistry) Register(_ context.Context, serviceName string, instance ServiceInstance, _ int64) error {
	list, _ := r.services.Compute(serviceName, func(old []ServiceInstance, _ bool) ([]ServiceInstance, bool) {
		next := make([]ServiceInstance, 0, len(old)+1)
		for _, inst := range old {
			if inst.Addr != instance.Addr {
				next = append(next, inst)
			}
		}
		return append(next, instance), false
	})
	r.notify(serviceName, list)
	return nil
}

func (r *StaticRegistry) Deregister(_ context.Context, serviceName string, addr string) error {
	list, _ := r.services.Compute(serviceName, func(old []ServiceInstance, loaded bool) ([]ServiceInstance, bool) {
		next := make([]ServiceInstance, 0, len(old))
		for _, inst := range old {
			if inst.Addr != addr {
				next = append(next, inst)
			}
		}
		return next, len(next) == 0
	})
	r.notify(serviceName, list)
	return nil
}

func (r *StaticRegistry) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	list, _ := r.services.Load(serviceName)
	out := make([]ServiceInstance, len(list))
	copy(out, list)
	return out, nil
}

// Watch delivers the latest list after each change. A slow reader only sees
// the most recent list.
func (r *StaticRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[serviceName]
		for i, w := range ws {
			if w == ch {
				r.watchers[serviceName] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *StaticRegistry) notify(serviceName string, list []ServiceInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.watchers[serviceName] {
		snapshot := make([]ServiceInstance, len(list))
		copy(snapshot, list)
		// drop the stale list, if any, so the newest one always fits
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
