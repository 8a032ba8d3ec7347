// Package server implements a websocket game gateway speaking the same frame
// protocol as the client. It backs the integration tests and `wsctl serve`.
//
// Request processing pipeline:
//
//	Upgrade → handleConn (single goroutine reads frames)
//	  → ping: reply pong inline
//	  → request: go handleRequest (parallel processing)
//	    → Decode → Service (by op code) → action (by sub-code) → Encode → write reply
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"mini-ws/message"
	"mini-ws/protocol"
	"mini-ws/registry"
	"mini-ws/transport"
)

const (
	DefaultPath        = "/ws"
	DefaultServiceName = "game-gateway"
	registryTTL        = 10 // seconds; the lease is kept alive while serving
)

type Options struct {
	Logger *zap.Logger
	// ServiceName is the registry key instances are published under.
	ServiceName string
	// InitPush, when set, builds the message sent right after each handshake.
	InitPush func() *message.Message
}

// Server routes requests to services by op code.
type Server struct {
	services map[message.OpCode]*Service // request op code → *Service
	opts     Options
	logger   *zap.Logger
	frames   *protocol.FrameCodec
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	conns    *xsync.MapOf[*transport.WebSocket, struct{}]
	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool
	pings    atomic.Int64

	httpSrv   *http.Server
	listener  net.Listener
	ready     chan struct{} // closed once Serve is listening or has failed to start
	readyOnce sync.Once

	registry      registry.Registry
	advertiseAddr string // URL published in the registry, e.g. ws://10.0.0.5:8080/ws
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}
	s := &Server{
		services: make(map[message.OpCode]*Service),
		opts:     opts,
		logger:   opts.Logger,
		frames:   protocol.NewFrameCodec(),
		mux:      http.NewServeMux(),
		conns:    xsync.NewMapOf[*transport.WebSocket, struct{}](),
		ready:    make(chan struct{}),
	}
	s.mux.Handle(DefaultPath, s)
	return s
}

// Register adds a service. A later service for the same area replaces the earlier one.
func (s *Server) Register(svc *Service) {
	s.services[svc.area.Request] = svc
}

// Handle mounts an extra HTTP handler next to the websocket endpoint.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Serve listens on address, publishes advertiseAddr in reg (when not nil) and
// serves until Shutdown. It returns nil after a Shutdown.
func (s *Server) Serve(address, advertiseAddr string, reg registry.Registry) error {
	// on a failed start ready is closed with listener and httpSrv left nil
	defer s.markReady()

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	if reg != nil {
		if advertiseAddr == "" {
			advertiseAddr = fmt.Sprintf("ws://%s%s", listener.Addr(), DefaultPath)
		}
		inst := registry.ServiceInstance{Addr: advertiseAddr, Weight: 1}
		if err := reg.Register(context.Background(), s.opts.ServiceName, inst, registryTTL); err != nil {
			_ = listener.Close()
			return fmt.Errorf("register %s: %w", s.opts.ServiceName, err)
		}
		s.registry = reg
		s.advertiseAddr = advertiseAddr
	}
	s.listener = listener
	s.httpSrv = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	s.markReady()

	s.logger.Info("serving", zap.String("addr", listener.Addr().String()), zap.String("advertise", advertiseAddr))
	err = s.httpSrv.Serve(listener)
	if s.shutdown.Load() && errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Addr blocks until Serve is listening (and registered) and returns the bound
// address. It returns nil when Serve failed to start.
func (s *Server) Addr() net.Addr {
	<-s.ready
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Pings reports how many pings the server has answered.
func (s *Server) Pings() int64 {
	return s.pings.Load()
}

// Broadcast pushes m to every open connection.
func (s *Server) Broadcast(m *message.Message) error {
	frame, err := s.frames.Encode(m)
	if err != nil {
		return err
	}
	s.conns.Range(func(ws *transport.WebSocket, _ struct{}) bool {
		if err := ws.WriteFrame(frame); err != nil {
			s.logger.Warn("broadcast failed", zap.Stringer("remote", ws.RemoteAddr()), zap.Error(err))
		}
		return true
	})
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	s.handleConn(transport.NewWebSocket(conn))
}

// handleConn reads frames sequentially and dispatches each request to its own
// goroutine. A frame that does not decode closes the connection.
func (s *Server) handleConn(ws *transport.WebSocket) {
	s.conns.Store(ws, struct{}{})
	connectionsOpened.Inc()
	logger := s.logger.With(zap.Stringer("remote", ws.RemoteAddr()))
	defer func() {
		s.conns.Delete(ws)
		_ = ws.Close()
		logger.Info("connection closed")
	}()
	logger.Info("connection opened")

	if s.opts.InitPush != nil {
		if err := s.write(ws, s.opts.InitPush()); err != nil {
			logger.Warn("init push failed", zap.Error(err))
			return
		}
	}

	for {
		frame, err := ws.ReadFrame(context.Background())
		if err != nil {
			if !errors.Is(err, transport.ErrClosed) {
				logger.Warn("read failed", zap.Error(err))
			}
			return
		}

		m, err := s.frames.Decode(frame)
		if err != nil {
			requestsFailed.Inc()
			logger.Warn("decode failed", zap.Int("frame_len", len(frame)), zap.Error(err))
			return
		}

		if m.OpCode == message.OpPing {
			s.pings.Add(1)
			if err := s.write(ws, message.New(message.OpPong)); err != nil {
				return
			}
			continue
		}

		s.wg.Add(1)
		go s.handleRequest(ws, m, logger)
	}
}

func (s *Server) handleRequest(ws *transport.WebSocket, m *message.Message, logger *zap.Logger) {
	defer s.wg.Done()

	svc, ok := s.services[m.OpCode]
	if !ok {
		requestsFailed.Inc()
		logger.Warn("no service for op code", zap.Uint32("op_code", uint32(m.OpCode)))
		return
	}

	reply := svc.call(context.Background(), m)
	if err := s.write(ws, reply); err != nil {
		logger.Warn("write reply failed", zap.Uint32("op_code", uint32(reply.OpCode)), zap.Error(err))
		return
	}
	requestsHandled.Inc()
}

func (s *Server) write(ws *transport.WebSocket, m *message.Message) error {
	frame, err := s.frames.Encode(m)
	if err != nil {
		return err
	}
	return ws.WriteFrame(frame)
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry so clients stop picking this instance
//  2. Stop accepting new connections
//  3. Wait for in-flight requests to finish (with timeout)
//  4. Close every open connection
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	select {
	case <-s.ready:
		if s.httpSrv == nil {
			break
		}
		if s.registry != nil {
			if err := s.registry.Deregister(ctx, s.opts.ServiceName, s.advertiseAddr); err != nil {
				s.logger.Warn("deregister failed", zap.Error(err))
			}
		}
		// hijacked websocket connections are not tracked by http.Server
		err = s.httpSrv.Shutdown(ctx)
	default:
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	s.conns.Range(func(ws *transport.WebSocket, _ struct{}) bool {
		_ = ws.Close()
		return true
	})
	return err
}
