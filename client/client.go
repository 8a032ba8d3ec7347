package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mini-ws/config"
	"mini-ws/loadbalance"
	"mini-ws/message"
	"mini-ws/middleware"
	"mini-ws/registry"
	"mini-ws/result"
	"mini-ws/transport"
)

// Client is the generic request API on top of a Connection. Every feature
// area goes through Call; requests pass through the middleware chain first.
type Client struct {
	conn    *Connection
	handler middleware.HandlerFunc
}

func NewClient(conn *Connection, mws ...middleware.Middleware) *Client {
	c := &Client{conn: conn}
	c.handler = middleware.Chain(mws...)(c.roundTrip)
	return c
}

func (c *Client) roundTrip(ctx context.Context, req *middleware.Request) *result.Result {
	return c.conn.SendAndReceive(ctx, req.Message, req.Expect, req.Timeout)
}

// Do runs req through the middleware chain and the connection.
func (c *Client) Do(ctx context.Context, req *middleware.Request) *result.Result {
	return c.handler(ctx, req)
}

// Call sends action sub of area with data and waits for the area's response code.
func (c *Client) Call(ctx context.Context, area message.FeatureArea, sub uint32, data map[string]any) *result.Result {
	return c.Do(ctx, &middleware.Request{
		Message: area.NewRequest(sub, data),
		Expect:  area.Response,
	})
}

// Conn exposes the underlying session, e.g. for InitPush or Unsolicited.
func (c *Client) Conn() *Connection {
	return c.conn
}

func (c *Client) Close() error {
	return c.conn.Close()
}

type dialOptions struct {
	logger      *zap.Logger
	registry    registry.Registry
	dialer      transport.Dialer
	middlewares []middleware.Middleware
}

type DialOption func(*dialOptions)

func WithLogger(l *zap.Logger) DialOption {
	return func(o *dialOptions) { o.logger = l }
}

// WithRegistry overrides the etcd registry built from cfg.Registry.
func WithRegistry(r registry.Registry) DialOption {
	return func(o *dialOptions) { o.registry = r }
}

func WithDialer(d transport.Dialer) DialOption {
	return func(o *dialOptions) { o.dialer = d }
}

// WithMiddleware appends to the chain built from cfg.
func WithMiddleware(mws ...middleware.Middleware) DialOption {
	return func(o *dialOptions) { o.middlewares = append(o.middlewares, mws...) }
}

// Dial resolves the gateway URL, connects and returns a ready Client. The URL
// is cfg.URL when set, otherwise an instance of cfg.Gateway.Service picked from
// the registry by the configured balancer.
func Dial(ctx context.Context, cfg config.Config, opts ...DialOption) (*Client, error) {
	if err := config.ValidateClient(cfg); err != nil {
		return nil, err
	}

	o := &dialOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.dialer == nil {
		o.dialer = &transport.WebSocketDialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}

	url, err := resolveURL(ctx, cfg, o)
	if err != nil {
		return nil, err
	}

	conn := NewConnection(Options{
		URL:               url,
		ReceiveInit:       cfg.ReceiveInit,
		Timeout:           cfg.Timeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Dialer:            o.dialer,
		Logger:            o.logger,
	})
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}

	mws := []middleware.Middleware{
		middleware.LoggingMiddleware(o.logger),
		middleware.MetricsMiddleware(),
	}
	if cfg.RateLimit.Rate > 0 {
		burst := max(cfg.RateLimit.Burst, 1)
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit.Rate, burst))
	}
	mws = append(mws, o.middlewares...)
	return NewClient(conn, mws...), nil
}

func resolveURL(ctx context.Context, cfg config.Config, o *dialOptions) (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}

	reg := o.registry
	if reg == nil {
		if len(cfg.Registry.Endpoints) == 0 {
			return "", fmt.Errorf("gateway.service %q set but no registry configured", cfg.Gateway.Service)
		}
		etcd, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, o.logger)
		if err != nil {
			return "", err
		}
		defer etcd.Close()
		reg = etcd
	}

	instances, err := reg.Discover(ctx, cfg.Gateway.Service)
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		return "", fmt.Errorf("%w: %s", registry.ErrNoInstances, cfg.Gateway.Service)
	}

	var inst *registry.ServiceInstance
	if cfg.Gateway.Balancer == loadbalance.NameConsistentHash {
		ring := loadbalance.NewConsistentHashBalancer()
		ring.Reset(instances)
		inst, err = ring.Pick(cfg.Gateway.HashKey)
	} else {
		var b loadbalance.Balancer
		if b, err = loadbalance.New(cfg.Gateway.Balancer); err != nil {
			return "", err
		}
		inst, err = b.Pick(instances)
	}
	if err != nil {
		return "", err
	}

	o.logger.Info("gateway selected",
		zap.String("service", cfg.Gateway.Service),
		zap.String("balancer", cfg.Gateway.Balancer),
		zap.String("addr", inst.Addr))
	return inst.Addr, nil
}
