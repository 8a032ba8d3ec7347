package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mini-ws/registry"
	"mini-ws/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the demo game gateway",
	Long: `Run an in-memory gateway serving the player and item flows on /ws and
Prometheus metrics on /metrics. With registry endpoints configured the
instance is published in etcd under its service name.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().String("advertise", "", "URL published in the registry (default: ws://<listen addr>/ws)")
	serveCmd.Flags().Duration("shutdown-timeout", 5*time.Second, "time allowed for in-flight requests on shutdown")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var reg registry.Registry
	if len(cfg.Registry.Endpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, logger)
		if err != nil {
			return err
		}
		defer etcd.Close()
		reg = etcd
	}

	svr := server.NewDemoServer(logger)
	svr.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	}))

	addr, _ := cmd.Flags().GetString("addr")
	advertise, _ := cmd.Flags().GetString("advertise")
	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve(addr, advertise, reg) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout, _ := cmd.Flags().GetDuration("shutdown-timeout")
	logger.Info("shutting down", zap.Duration("timeout", timeout))
	if err := svr.Shutdown(timeout); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	return <-errCh
}
