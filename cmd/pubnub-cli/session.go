//go:build unix

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/pubnub-go/internal/config"
	"github.com/rmacdonaldsmith/pubnub-go/internal/httpengine"
	"github.com/rmacdonaldsmith/pubnub-go/internal/logging"
	"github.com/rmacdonaldsmith/pubnub-go/internal/metrics"
	"github.com/rmacdonaldsmith/pubnub-go/internal/pollloop"
	"github.com/rmacdonaldsmith/pubnub-go/pkg/pubnub"
)

// errInterrupted is returned when the loop stopped before the operation
// reported its outcome.
var errInterrupted = errors.New("interrupted before the operation completed")

// session owns one client, the poll loop driving it and the optional
// metrics server.
type session struct {
	loop   *pollloop.Loop
	client *pubnub.Client

	cancel context.CancelFunc
	group  *errgroup.Group
}

func newSession(cfg *config.Config) (*session, error) {
	loop, err := pollloop.New(pollloop.WithLogger(logging.Component("pollloop")))
	if err != nil {
		return nil, fmt.Errorf("failed to create host loop: %w", err)
	}

	clientConfig := cfg.ClientConfig()
	if cfg.Metrics.Enabled {
		clientConfig.Metrics = metrics.GetMetrics()
	}

	client, err := pubnub.New(clientConfig, httpengine.New(cfg.EngineConfig()), loop)
	if err != nil {
		_ = loop.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	s := &session{loop: loop, client: client, cancel: cancel, group: group}

	if cfg.Metrics.Enabled {
		s.serveMetrics(ctx, cfg.Metrics.Addr)
	}
	return s, nil
}

func (s *session) serveMetrics(ctx context.Context, addr string) {
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	s.group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

// drive runs the host loop until a callback calls stop or ctx is done.
// A cancelled ctx is a graceful stop, not an error.
func (s *session) drive(ctx context.Context) error {
	err := s.loop.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// stop makes drive return. It must be called from a callback.
func (s *session) stop() {
	s.loop.Interrupt()
}

// Close tears down the client, the metrics server and the loop.
func (s *session) Close() error {
	clientErr := s.client.Close()
	s.cancel()
	groupErr := s.group.Wait()
	return errors.Join(clientErr, groupErr, s.loop.Close())
}

// oneShot starts a single operation and drives the loop until it reports.
// start must arrange for done to be called from the operation callback.
func oneShot(ctx context.Context, start func(s *session, done func(error)) error) (err error) {
	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()

	finished := false
	var result error
	if err := start(s, func(err error) {
		finished = true
		result = err
		s.stop()
	}); err != nil {
		return err
	}

	if err := s.drive(ctx); err != nil {
		return err
	}
	if !finished {
		return errInterrupted
	}
	return result
}
