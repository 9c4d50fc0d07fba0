package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/pubnub-go/internal/config"
	"github.com/rmacdonaldsmith/pubnub-go/internal/logging"
	"github.com/rmacdonaldsmith/pubnub-go/internal/mockservice"
)

const (
	// Application info
	appName    = "pubnub-mock"
	appVersion = "0.1.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run serves the mock until ctx is done. ready, when set, receives the bound
// listen address once the service accepts connections.
func run(ctx context.Context, args []string, out io.Writer, ready func(addr string)) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(out)
	var (
		configFile   = fs.String("config", "", "YAML configuration file")
		listenAddr   = fs.String("listen", "", "Listen address (default from config)")
		publishKey   = fs.String("publish-key", "", "Accept only this publish key")
		subscribeKey = fs.String("subscribe-key", "", "Accept only this subscribe key")
		authSecret   = fs.String("auth-secret", "", "Require auth keys signed with this secret")
		grant        = fs.String("grant", "", "Print an auth key for this UUID and exit (needs --auth-secret)")
		pollTimeout  = fs.Duration("poll-timeout", 0, "How long a subscribe request is held open")
		logLevel     = fs.String("log-level", "", "Log level (debug, info, warn, error, disabled)")
		showVersion  = fs.Bool("version", false, "Show version and exit")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintf(out, "%s v%s\n", appName, appVersion)
		return nil
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Mock.Addr = *listenAddr
		case "publish-key":
			cfg.Mock.PublishKey = *publishKey
		case "subscribe-key":
			cfg.Mock.SubscribeKey = *subscribeKey
		case "auth-secret":
			cfg.Mock.AuthSecret = *authSecret
		case "poll-timeout":
			cfg.Mock.PollTimeout = *pollTimeout
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})

	if err := logging.Setup(cfg.LoggingConfig()); err != nil {
		return err
	}

	server := mockservice.New(cfg.MockConfig())
	if *grant != "" {
		if server.Authority() == nil {
			return errors.New("--grant needs an auth secret")
		}
		token, err := server.Authority().Issue(*grant, nil, 0)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, token)
		return nil
	}

	listener, err := net.Listen("tcp", cfg.Mock.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	log.Info().
		Str("app", appName).
		Str("version", appVersion).
		Str("addr", listener.Addr().String()).
		Dur("poll_timeout", cfg.Mock.PollTimeout).
		Msg("mock service listening")
	if ready != nil {
		ready(listener.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(listener)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down mock service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("graceful stop: %w", err)
		}
		return nil
	})
	return g.Wait()
}
