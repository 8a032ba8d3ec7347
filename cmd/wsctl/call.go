package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"mini-ws/client"
	"mini-ws/codec"
	"mini-ws/message"
	"mini-ws/middleware"
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Send one request and print the normalized reply",
	Example: `  wsctl call --url ws://127.0.0.1:8080/ws --op 3 --sub 2 --data '{"name":"neo"}'
  wsctl call --config wsctl.yaml --env dev --op 5 --sub 1`,
	Args: cobra.NoArgs,
	RunE: runCall,
}

func init() {
	addCallFlags(callCmd.Flags())
	_ = callCmd.MarkFlagRequired("op")
}

func addCallFlags(flags *pflag.FlagSet) {
	flags.Uint32("op", 0, "request op code")
	flags.Uint32("sub", 0, "sub-code (omitted when not set)")
	flags.Uint32("expect", 0, "op code of the reply (default: op + 1)")
	flags.String("data", "", "request data as a JSON object")
	flags.String("memo", "", "memo string")
	flags.Duration("timeout", 0, "reply timeout (default: config timeout)")
}

func runCall(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	req, err := buildRequest(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, cfg, client.WithLogger(logger))
	if err != nil {
		return err
	}
	defer c.Close()

	res := c.Do(ctx, req)
	out, err := (&codec.JSONCodec{Indent: true}).Encode(res.Map())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if res.IsFault() {
		return fmt.Errorf("request failed: %s", res.Message)
	}
	return nil
}

func buildRequest(cmd *cobra.Command) (*middleware.Request, error) {
	flags := cmd.Flags()
	op, _ := flags.GetUint32("op")
	if op == 0 {
		return nil, fmt.Errorf("--op must be a non-zero op code")
	}
	m := message.New(message.OpCode(op))

	if flags.Changed("sub") {
		sub, _ := flags.GetUint32("sub")
		m.WithSubCode(sub)
	}
	if raw, _ := flags.GetString("data"); raw != "" {
		var data map[string]any
		if err := codec.GetCodec(codec.CodecTypeJSON).Decode([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("--data is not a JSON object: %w", err)
		}
		m.WithData(data)
	}
	if flags.Changed("memo") {
		memo, _ := flags.GetString("memo")
		m.WithMemo(memo)
	}

	expect := message.OpCode(op + 1)
	if flags.Changed("expect") {
		e, _ := flags.GetUint32("expect")
		expect = message.OpCode(e)
	}
	timeout, _ := flags.GetDuration("timeout")
	return &middleware.Request{Message: m, Expect: expect, Timeout: timeout}, nil
}
