//go:build unix

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/pubnub-go/internal/config"
	"github.com/rmacdonaldsmith/pubnub-go/internal/logging"
)

const appVersion = "0.1.0"

var (
	// Global flags
	configFile   string
	origin       string
	publishKey   string
	subscribeKey string
	uuid         string
	authKey      string
	timeout      time.Duration
	logLevel     string
	metricsAddr  string

	// Loaded by the persistent pre-run
	cfg *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pubnub-cli",
		Short: "PubNub REST API command line client",
		Long: `pubnub-cli publishes, subscribes and queries channels on a PubNub
compatible service. Every request runs through the asynchronous client on a
single host event loop.`,
		Version:           appVersion,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "YAML configuration file")
	flags.StringVar(&origin, "origin", "", "Service origin (default from config)")
	flags.StringVar(&publishKey, "publish-key", "", "Publish key")
	flags.StringVar(&subscribeKey, "subscribe-key", "", "Subscribe key")
	flags.StringVar(&uuid, "uuid", "", "Client UUID sent to presence")
	flags.StringVar(&authKey, "auth-key", "", "Access token for services with access control")
	flags.DurationVar(&timeout, "timeout", 0, "Request timeout for one-shot operations")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, disabled)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newSubscribeCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newHereNowCommand())
	rootCmd.AddCommand(newTimeCommand())

	return rootCmd
}

// loadConfig reads the configuration file and environment, then applies the
// flags that were set explicitly.
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("origin") {
		loaded.Client.Origin = origin
	}
	if flags.Changed("publish-key") {
		loaded.Client.PublishKey = publishKey
	}
	if flags.Changed("subscribe-key") {
		loaded.Client.SubscribeKey = subscribeKey
	}
	if flags.Changed("uuid") {
		loaded.Client.UUID = uuid
	}
	if flags.Changed("auth-key") {
		loaded.Client.AuthKey = authKey
	}
	if flags.Changed("timeout") {
		loaded.Client.Timeout = timeout
	}
	if flags.Changed("log-level") {
		loaded.Logging.Level = logLevel
	}
	if flags.Changed("metrics-addr") {
		loaded.Metrics.Enabled = metricsAddr != ""
		loaded.Metrics.Addr = metricsAddr
	}

	logConfig := loaded.LoggingConfig()
	logConfig.Output = cmd.ErrOrStderr()
	if err := logging.Setup(logConfig); err != nil {
		return err
	}

	cfg = loaded
	return nil
}
