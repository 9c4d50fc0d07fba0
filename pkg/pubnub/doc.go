// Package pubnub is an asynchronous client for the PubNub publish/subscribe
// REST API.
//
// A Client never blocks on the network. Each operation creates a transfer,
// hands it to a transfer.Engine and returns; the engine's sockets and timer
// are registered with a caller-supplied eventbridge.Host, and the outcome is
// delivered to the operation's callback when the host loop reports readiness.
//
//	engine := httpengine.New(httpengine.Config{})
//	loop, _ := pollloop.New()
//	client, err := pubnub.New(*pubnub.NewConfig("demo", "demo"), engine, loop)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("hello_world", 0, func(messages []pubnub.Message, err error) {
//	    for _, m := range messages {
//	        fmt.Println(m.Channel, string(m.Payload))
//	    }
//	})
//
//	loop.Run(ctx)
//
// Subscribe keeps one long-poll in flight and re-issues it with the
// continuation token from each response until CancelConnection, Close, or an
// Unsubscribe that empties the channel set. Retryable failures (transport
// errors, 5xx and 429) are re-issued after Config.RetryBackOff; other
// failures are delivered once and stop the loop.
//
// Errors returned directly by an operation mean nothing was started and the
// callback will not run. Every later outcome, success or *transfer.Error,
// reaches the callback exactly once. Cancelled requests report nothing.
package pubnub
