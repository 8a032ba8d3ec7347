package client

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mini-ws/config"
	"mini-ws/loadbalance"
	"mini-ws/message"
	"mini-ws/middleware"
	"mini-ws/registry"
	"mini-ws/result"
	"mini-ws/schema"
	"mini-ws/server"
)

// startGateway runs a demo gateway on a random port and returns it with its URL.
func startGateway(t *testing.T) (*server.Server, string) {
	t.Helper()
	svr := server.NewDemoServer(zap.NewNop())
	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve("127.0.0.1:0", "", nil) }()
	t.Cleanup(func() {
		assert.NoError(t, svr.Shutdown(time.Second))
		assert.NoError(t, <-errCh)
	})
	return svr, fmt.Sprintf("ws://%s%s", svr.Addr(), server.DefaultPath)
}

func testConfig(url string) config.Config {
	cfg := config.Default()
	cfg.URL = url
	cfg.ReceiveInit = true
	cfg.Timeout = 2 * time.Second
	return cfg
}

func dialGateway(t *testing.T, cfg config.Config, opts ...DialOption) *Client {
	t.Helper()
	c, err := Dial(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDialReceivesInitPush(t *testing.T) {
	_, url := startGateway(t)
	c := dialGateway(t, testConfig(url))

	push := c.Conn().InitPush()
	require.NotNil(t, push)
	assert.Equal(t, message.OpPlayerFlowResponse, push.OpCode)
	info := push.Data["player_info"].(map[string]any)
	assert.Equal(t, int64(10001), info["user_id"])
}

func TestPlayerFlowEndToEnd(t *testing.T) {
	_, url := startGateway(t)
	c := dialGateway(t, testConfig(url))
	ctx := context.Background()

	res := c.GetPlayerInfo(ctx)
	require.False(t, res.IsFault(), res.String())
	assert.True(t, res.Success)
	assert.Equal(t, message.GetPlayerInfo, res.SubCode)

	res = c.UpdateName(ctx, "trinity")
	require.True(t, res.Success, res.String())
	var info struct {
		PlayerInfo struct {
			UserID int64  `mapstructure:"user_id"`
			Name   string `mapstructure:"name"`
		} `mapstructure:"player_info"`
	}
	require.NoError(t, res.Decode(&info))
	assert.Equal(t, int64(10001), info.PlayerInfo.UserID)
	assert.Equal(t, "trinity", info.PlayerInfo.Name)

	res = c.UpdateName(ctx, "")
	assert.False(t, res.Success)
	assert.False(t, res.IsFault())
	assert.Equal(t, int64(server.CodeInvalidName), res.ErrorCode)
	assert.Equal(t, "invalid name", res.ErrorMsg)
	assert.Equal(t, int64(server.CodeInvalidName), res.Map()[result.KeyErrorCode])

	res = c.BindPhone(ctx, "13800138000")
	assert.True(t, res.Success, res.String())
	assert.NoError(t, schema.Subset(res.Data["player_info"].(map[string]any), map[string]any{
		"user_id": 10001,
		"name":    "trinity",
		"phone":   "13800138000",
	}))
}

func TestItemFlowEndToEnd(t *testing.T) {
	_, url := startGateway(t)
	c := dialGateway(t, testConfig(url))
	ctx := context.Background()

	res := c.GetAllItems(ctx)
	require.True(t, res.Success, res.String())
	itemSchema := schema.Object(map[string]schema.Schema{
		"item_id": schema.TypeOf(schema.Int),
		"name":    schema.TypeOf(schema.String),
		"count":   schema.TypeOf(schema.Int),
	})
	require.NoError(t, schema.Match(schema.Object(map[string]schema.Schema{
		"item_list": schema.ArrayOf(itemSchema),
	}), res.Data))
	items := res.Data["item_list"].([]any)
	require.Len(t, items, 3)
	assert.Equal(t, int64(1), items[0].(map[string]any)["item_id"])

	res = c.GetItem(ctx, 3)
	require.True(t, res.Success, res.String())
	assert.Equal(t, "shield", res.Data["item"].(map[string]any)["name"])

	res = c.GetItem(ctx, 404)
	assert.False(t, res.Success)
	assert.Equal(t, int64(server.CodeItemNotFound), res.ErrorCode)
}

func TestBroadcastIsUnsolicited(t *testing.T) {
	svr, url := startGateway(t)
	c := dialGateway(t, testConfig(url))

	require.NoError(t, svr.Broadcast(message.New(message.OpCode(100)).WithMemo("maintenance")))
	res := c.GetAllItems(context.Background())
	require.True(t, res.Success, res.String())

	unsolicited := c.Conn().Unsolicited()
	require.Len(t, unsolicited, 1)
	assert.Equal(t, message.OpCode(100), unsolicited[0].OpCode)
}

func TestHeartbeatReachesGateway(t *testing.T) {
	svr, url := startGateway(t)
	cfg := testConfig(url)
	cfg.HeartbeatInterval = 50 * time.Millisecond
	c := dialGateway(t, cfg)

	time.Sleep(230 * time.Millisecond)
	require.NoError(t, c.Close())
	assert.GreaterOrEqual(t, svr.Pings(), int64(3))
	assert.GreaterOrEqual(t, c.Conn().Pongs(), int64(2))
	assert.Equal(t, Closed, c.Conn().State())
}

func TestRateLimited(t *testing.T) {
	_, url := startGateway(t)
	cfg := testConfig(url)
	cfg.RateLimit = config.RateLimit{Rate: 0.001, Burst: 1}
	c := dialGateway(t, cfg)

	assert.True(t, c.GetAllItems(context.Background()).Success)
	res := c.GetAllItems(context.Background())
	assert.Equal(t, 429, res.StatusCode)
}

func TestTimeoutMiddlewareOption(t *testing.T) {
	_, url := startGateway(t)
	c := dialGateway(t, testConfig(url), WithMiddleware(middleware.TimeOutMiddleware(time.Second)))

	// area 42 has no service, so nothing ever replies
	res := c.Do(context.Background(), &middleware.Request{
		Message: message.New(message.OpCode(41)),
		Expect:  message.OpCode(42),
		Timeout: 100 * time.Millisecond,
	})
	assert.Equal(t, 408, res.StatusCode)
	assert.Equal(t, "timeout waiting for op_code 42", res.Message)
}

func TestDialThroughRegistry(t *testing.T) {
	_, url := startGateway(t)
	reg := registry.NewStaticRegistry()
	require.NoError(t, reg.Register(context.Background(), "gw", registry.ServiceInstance{Addr: url, Weight: 1}, 10))

	for _, balancer := range []string{loadbalance.NameRoundRobin, loadbalance.NameWeightedRandom, loadbalance.NameConsistentHash} {
		t.Run(balancer, func(t *testing.T) {
			cfg := testConfig("")
			cfg.Gateway = config.Gateway{Service: "gw", Balancer: balancer, HashKey: "player-10001"}
			c := dialGateway(t, cfg, WithRegistry(reg))
			assert.True(t, c.GetPlayerInfo(context.Background()).Success)
		})
	}
}

func TestDialErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Dial(ctx, config.Default())
	assert.ErrorContains(t, err, "either url or gateway.service")

	cfg := config.Default()
	cfg.Gateway.Service = "gw"
	_, err = Dial(ctx, cfg)
	assert.ErrorContains(t, err, "no registry configured")

	_, err = Dial(ctx, cfg, WithRegistry(registry.NewStaticRegistry()))
	assert.ErrorIs(t, err, registry.ErrNoInstances)

	cfg = testConfig("ws://127.0.0.1:1/ws")
	_, err = Dial(ctx, cfg)
	var connErr *ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

// TestFullIntegrationWithEtcd runs the whole chain:
// gateway → etcd → Dial (discover, balance) → handshake → init push → request.
func TestFullIntegrationWithEtcd(t *testing.T) {
	env := os.Getenv("MINIWS_ETCD_ENDPOINTS")
	if env == "" {
		t.Skip("MINIWS_ETCD_ENDPOINTS not set")
	}
	endpoints := strings.Split(env, ",")

	reg, err := registry.NewEtcdRegistry(endpoints, 2*time.Second, zap.NewNop())
	require.NoError(t, err)
	defer reg.Close()

	svr := server.NewServer(server.Options{ServiceName: "gw-integration"})
	svr.Register(server.NewService(message.ItemFlow).Handle(message.GetAllItems,
		func(context.Context, map[string]any) (map[string]any, error) {
			return map[string]any{"itemList": []any{}}, nil
		}))
	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve("127.0.0.1:0", "", reg) }()
	svr.Addr()
	defer func() {
		assert.NoError(t, svr.Shutdown(time.Second))
		assert.NoError(t, <-errCh)
	}()

	cfg := config.Default()
	cfg.Gateway.Service = "gw-integration"
	cfg.Registry.Endpoints = endpoints
	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	res := c.GetAllItems(context.Background())
	require.True(t, res.Success, res.String())
	assert.Empty(t, res.Data["item_list"])
}
