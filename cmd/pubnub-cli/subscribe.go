//go:build unix

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/pubnub-go/pkg/pubnub"
)

func newSubscribeCommand() *cobra.Command {
	var (
		channels     []string
		count        int
		duration     time.Duration
		prettyFormat bool
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Receive messages from channels in real time",
		Long: `Subscribe to one or more channels and print messages as they arrive.
The subscription ends after --count messages, after --duration, or on Ctrl+C,
and a presence leave is sent for the channels.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd.Context(), cmd.OutOrStdout(), channels, count, duration, prettyFormat)
		},
	}

	cmd.Flags().StringSliceVar(&channels, "channel", nil, "Channel to subscribe to, repeatable or comma separated (required)")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many messages (0 for no limit)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 for no limit)")
	cmd.Flags().BoolVar(&prettyFormat, "pretty", false, "Pretty print JSON payloads")
	if err := cmd.MarkFlagRequired("channel"); err != nil {
		panic(fmt.Sprintf("Failed to mark channel as required: %v", err))
	}

	return cmd
}

func runSubscribe(ctx context.Context, out io.Writer, channels []string, count int, duration time.Duration, pretty bool) (err error) {
	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()

	received := 0
	var subscribeErr error
	err = s.client.SubscribeMulti(channels, 0, func(messages []pubnub.Message, err error) {
		if err != nil {
			subscribeErr = err
			s.stop()
			return
		}
		for _, message := range messages {
			received++
			printMessage(out, message, received, pretty)
			if count > 0 && received >= count {
				// No further poll; the leave follows.
				s.client.CancelConnection()
				s.stop()
				return
			}
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	fmt.Fprintf(out, "🌊 Subscribed to %s as %s\n", strings.Join(channels, ", "), s.client.UUID())

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	if err := s.drive(ctx); err != nil {
		return err
	}
	if subscribeErr != nil {
		return fmt.Errorf("subscription ended: %w", subscribeErr)
	}

	left, err := leave(s, channels)
	if err != nil {
		return err
	}
	if !left {
		log.Warn().Strs("channels", channels).Msg("leave not confirmed")
	}

	fmt.Fprintf(out, "✅ Unsubscribed. Received %d message(s).\n", received)
	return nil
}

// leave unsubscribes from channels and waits for the presence leave.
func leave(s *session, channels []string) (bool, error) {
	done := false
	var leaveErr error
	n, err := s.client.Unsubscribe(channels, 0, func(err error) {
		done = true
		leaveErr = err
		s.stop()
	})
	if err != nil {
		return false, fmt.Errorf("failed to leave: %w", err)
	}
	if n == 0 {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.Timeout+time.Second)
	defer cancel()
	if err := s.drive(ctx); err != nil {
		return false, err
	}
	if leaveErr != nil {
		return false, fmt.Errorf("failed to leave: %w", leaveErr)
	}
	return done, nil
}

func printMessage(out io.Writer, message pubnub.Message, count int, pretty bool) {
	channel := message.Channel
	if channel == "" {
		channel = "?"
	}

	payload := message.Payload
	if pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, payload, "   ", "  "); err == nil {
			payload = buf.Bytes()
		}
	}
	fmt.Fprintf(out, "📨 #%d [%s] %s\n", count, channel, string(payload))
}
