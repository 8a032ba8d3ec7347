package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mini-ws/config"
	"mini-ws/logging"
)

const Version = "0.3.0"

var (
	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "wsctl",
		Short: "game gateway websocket client",
		Long: fmt.Sprintf(`wsctl (v%s)

Talks to a game gateway over the msgpack websocket protocol: send single
requests, hold a heartbeat session, or run a local demo gateway.`, Version),
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of wsctl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wsctl v%s\n", Version)
		},
	}
)

// flagKeys maps config keys to the persistent flags that override them.
var flagKeys = map[string]string{
	"url":       "url",
	"log.level": "log-level",
}

func init() {
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML config file with a common section and one section per environment")
	flags.String("env", "", "environment section of the config file to merge over common")
	flags.String("url", "", "gateway websocket URL (overrides gateway discovery)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

// loadConfig reads .env files, the config file and the environment, then
// applies the flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	path, _ := cmd.Flags().GetString("config")
	env, _ := cmd.Flags().GetString("env")
	return config.Load(path, env, config.WithFlags(cmd.Flags(), flagKeys))
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Development)
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
