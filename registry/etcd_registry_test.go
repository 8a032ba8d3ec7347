package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func etcdEndpoints(t *testing.T) []string {
	t.Helper()
	env := os.Getenv("MINIWS_ETCD_ENDPOINTS")
	if env == "" {
		t.Skip("MINIWS_ETCD_ENDPOINTS not set")
	}
	return strings.Split(env, ",")
}

func TestRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), 2*time.Second, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()
	ctx := context.Background()

	// Register two instances
	inst1 := ServiceInstance{Addr: "ws://127.0.0.1:8001/ws", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "ws://127.0.0.1:8002/ws", Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, "gateway-test", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "gateway-test", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, "gateway-test")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	// Deregister one
	if err := reg.Deregister(ctx, "gateway-test", inst1.Addr); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover(ctx, "gateway-test")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after deregister, got %d", len(instances))
	}
	if instances[0].Addr != inst2.Addr {
		t.Fatalf("expect %s, got %s", inst2.Addr, instances[0].Addr)
	}

	// Cleanup
	reg.Deregister(ctx, "gateway-test", inst2.Addr)
}
