//go:build unix

package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/pubnub-go/pkg/pubnub"
)

func newPublishCommand() *cobra.Command {
	var (
		channel string
		message string
		post    bool
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a message to a channel",
		Long: `Publish a message to a channel. The message must be valid JSON; a bare
word is not, so quote strings: --message '"hello"'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(message)) {
				return errors.New("invalid JSON message")
			}
			if cmd.Flags().Changed("post") {
				cfg.Client.PublishPost = post
			}

			var result pubnub.PublishResult
			err := oneShot(cmd.Context(), func(s *session, done func(error)) error {
				return s.client.Publish(channel, json.RawMessage(message), 0, func(r pubnub.PublishResult, err error) {
					result = r
					done(err)
				})
			})
			if err != nil {
				return fmt.Errorf("failed to publish: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✅ Published to '%s' (%s, timetoken %s)\n", channel, result.Description, result.Timetoken)
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "Channel to publish to (required)")
	cmd.Flags().StringVar(&message, "message", "", "Message as JSON (required)")
	cmd.Flags().BoolVar(&post, "post", false, "Send the message as a POST body")
	if err := cmd.MarkFlagRequired("channel"); err != nil {
		panic(fmt.Sprintf("Failed to mark channel as required: %v", err))
	}
	if err := cmd.MarkFlagRequired("message"); err != nil {
		panic(fmt.Sprintf("Failed to mark message as required: %v", err))
	}

	return cmd
}
