package client

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"mini-ws/server"
)

func setupGatewayAndClient(b *testing.B) *Client {
	svr := server.NewDemoServer(zap.NewNop())
	go svr.Serve("127.0.0.1:0", "", nil)
	b.Cleanup(func() { svr.Shutdown(3 * time.Second) })

	cfg := testConfig(fmt.Sprintf("ws://%s%s", svr.Addr(), server.DefaultPath))
	c, err := Dial(context.Background(), cfg)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { c.Close() })
	return c
}

// 场景1: 单 goroutine 串行调用
func BenchmarkSerialCall(b *testing.B) {
	c := setupGatewayAndClient(b)
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if res := c.GetItem(ctx, 1); !res.Success {
			b.Fatal(res)
		}
	}
}

// 场景2: 多 goroutine 并发调用。回复按 op code 关联，同一 op code 的回复可能互换，
// 这里所有请求结构相同，所以只校验成功。
func BenchmarkConcurrentCall(b *testing.B) {
	c := setupGatewayAndClient(b)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if res := c.GetItem(ctx, 1); !res.Success {
				b.Error(res)
				return
			}
		}
	})
}
