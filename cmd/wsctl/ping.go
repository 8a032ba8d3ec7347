package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mini-ws/client"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Hold a session open and report heartbeat pongs",
	Args:  cobra.NoArgs,
	RunE:  runPing,
}

func init() {
	pingCmd.Flags().Duration("duration", 10*time.Second, "how long to keep the session open")
	pingCmd.Flags().Duration("interval", 0, "heartbeat interval (default: config heartbeat_interval)")
}

func runPing(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
		cfg.HeartbeatInterval = interval
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, cfg, client.WithLogger(logger))
	if err != nil {
		return err
	}
	defer c.Close()
	conn := c.Conn()

	duration, _ := cmd.Flags().GetDuration("duration")
	select {
	case <-time.After(duration):
	case <-ctx.Done():
	case <-conn.ListenerDone():
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pongs: %d\n", conn.Pongs())
	fmt.Fprintf(out, "unsolicited: %d\n", len(conn.Unsolicited()))
	if err := conn.Err(); err != nil {
		return fmt.Errorf("session failed: %w", err)
	}
	return nil
}
