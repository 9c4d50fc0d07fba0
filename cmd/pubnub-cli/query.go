//go:build unix

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/pubnub-go/pkg/pubnub"
)

func newHistoryCommand() *cobra.Command {
	var (
		channel string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent messages on a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			var messages []json.RawMessage
			err := oneShot(cmd.Context(), func(s *session, done func(error)) error {
				return s.client.History(channel, limit, 0, func(m []json.RawMessage, err error) {
					messages = m
					done(err)
				})
			})
			if err != nil {
				return fmt.Errorf("failed to fetch history: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "📜 %d message(s) on '%s':\n", len(messages), channel)
			for i, message := range messages {
				fmt.Fprintf(out, "  %d. %s\n", i+1, string(message))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "Channel to read (required)")
	cmd.Flags().IntVar(&limit, "limit", pubnub.DefaultHistoryLimit, "Maximum number of messages")
	if err := cmd.MarkFlagRequired("channel"); err != nil {
		panic(fmt.Sprintf("Failed to mark channel as required: %v", err))
	}

	return cmd
}

func newHereNowCommand() *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "here-now",
		Short: "List the clients present on a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result pubnub.HereNowResult
			err := oneShot(cmd.Context(), func(s *session, done func(error)) error {
				return s.client.HereNow(channel, 0, func(r pubnub.HereNowResult, err error) {
					result = r
					done(err)
				})
			})
			if err != nil {
				return fmt.Errorf("failed to fetch presence: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "👥 Occupancy of '%s': %d\n", channel, result.Occupancy)
			if len(result.UUIDs) > 0 {
				fmt.Fprintf(out, "   %s\n", strings.Join(result.UUIDs, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "Channel to inspect (required)")
	if err := cmd.MarkFlagRequired("channel"); err != nil {
		panic(fmt.Sprintf("Failed to mark channel as required: %v", err))
	}

	return cmd
}

func newTimeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "time",
		Short: "Show the service timetoken",
		RunE: func(cmd *cobra.Command, args []string) error {
			var timetoken string
			err := oneShot(cmd.Context(), func(s *session, done func(error)) error {
				return s.client.Time(0, func(tt string, err error) {
					timetoken = tt
					done(err)
				})
			})
			if err != nil {
				return fmt.Errorf("failed to fetch time: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), timetoken)
			return nil
		},
	}
}
