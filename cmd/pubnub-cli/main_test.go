//go:build unix

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/pubnub-go/internal/mockservice"
)

type fixture struct {
	mock   *mockservice.Server
	origin string
	// polls counts subscribe requests carrying a timetoken.
	polls atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	nop := zerolog.Nop()
	f := &fixture{mock: mockservice.New(mockservice.Config{Logger: &nop, PollTimeout: 10 * time.Second})}
	handler := f.mock.Handler()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/subscribe/") && !strings.HasSuffix(r.URL.Path, "/0") {
			f.polls.Add(1)
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { _ = f.mock.Close() })
	f.origin = server.URL
	return f
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--log-level", "disabled"))
	err := root.Execute()
	return out.String(), err
}

func TestMainCommandHelp(t *testing.T) {
	output, err := execute(t, "--help")
	require.NoError(t, err)

	for _, name := range []string{"publish", "subscribe", "history", "here-now", "time"} {
		assert.Contains(t, output, name)
	}
}

func TestPublishAndHistory(t *testing.T) {
	f := newFixture(t)

	output, err := execute(t, "publish", "--origin", f.origin, "--channel", "news", "--message", `{"headline":"hi"}`)
	require.NoError(t, err)
	assert.Contains(t, output, "Published to 'news' (Sent")

	output, err = execute(t, "publish", "--origin", f.origin, "--channel", "news", "--message", `"second"`, "--post")
	require.NoError(t, err)
	assert.Contains(t, output, "Published")

	output, err = execute(t, "history", "--origin", f.origin, "--channel", "news", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, output, "2 message(s) on 'news'")
	assert.Contains(t, output, `1. {"headline":"hi"}`)
	assert.Contains(t, output, `2. "second"`)
}

func TestPublishErrors(t *testing.T) {
	t.Run("invalid_json", func(t *testing.T) {
		_, err := execute(t, "publish", "--channel", "news", "--message", "invalid-json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid JSON message")
	})

	t.Run("service_error", func(t *testing.T) {
		f := newFixture(t)
		f.mock.FailNext(http.StatusBadGateway, 1)

		_, err := execute(t, "publish", "--origin", f.origin, "--channel", "news", "--message", "1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to publish")
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("missing_channel", func(t *testing.T) {
		_, err := execute(t, "publish", "--message", "1")
		require.Error(t, err)
	})
}

func TestTimeCommand(t *testing.T) {
	f := newFixture(t)

	output, err := execute(t, "time", "--origin", f.origin)
	require.NoError(t, err)
	assert.Regexp(t, `^\d{17}\n$`, output)
}

func TestHereNowCommand(t *testing.T) {
	f := newFixture(t)
	f.mock.Presence().Touch("watcher", "lobby")

	output, err := execute(t, "here-now", "--origin", f.origin, "--channel", "lobby")
	require.NoError(t, err)
	assert.Contains(t, output, "Occupancy of 'lobby': 1")
	assert.Contains(t, output, "watcher")
}

func TestSubscribeCommand(t *testing.T) {
	t.Run("stops_after_count_and_leaves", func(t *testing.T) {
		f := newFixture(t)

		type result struct {
			output string
			err    error
		}
		done := make(chan result, 1)
		go func() {
			output, err := execute(t, "subscribe", "--origin", f.origin, "--uuid", "cli-test",
				"--channel", "alerts", "--count", "2")
			done <- result{output, err}
		}()

		require.Eventually(t, func() bool { return f.polls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, []string{"cli-test"}, f.mock.Presence().Here("alerts"))

		for _, payload := range []string{`{"level":"warn"}`, `{"level":"error"}`} {
			_, err := f.mock.Log().Append(context.Background(), "alerts", json.RawMessage(payload))
			require.NoError(t, err)
		}

		select {
		case r := <-done:
			require.NoError(t, r.err)
			assert.Contains(t, r.output, "Subscribed to alerts as cli-test")
			assert.Contains(t, r.output, `#1 [alerts] {"level":"warn"}`)
			assert.Contains(t, r.output, `#2 [alerts] {"level":"error"}`)
			assert.Contains(t, r.output, "Received 2 message(s)")
		case <-time.After(10 * time.Second):
			t.Fatal("subscribe did not stop after two messages")
		}

		assert.Empty(t, f.mock.Presence().Here("alerts"), "leave must clear presence")
	})

	t.Run("stops_after_duration", func(t *testing.T) {
		f := newFixture(t)

		output, err := execute(t, "subscribe", "--origin", f.origin, "--channel", "quiet", "--duration", "200ms")
		require.NoError(t, err)
		assert.Contains(t, output, "Received 0 message(s)")
	})
}

func TestAuthKey(t *testing.T) {
	nop := zerolog.Nop()
	mock := mockservice.New(mockservice.Config{Logger: &nop, AuthSecret: "secret"})
	server := httptest.NewServer(mock.Handler())
	t.Cleanup(server.Close)
	t.Cleanup(func() { _ = mock.Close() })

	_, err := execute(t, "history", "--origin", server.URL, "--channel", "vault")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	token, err := mock.Authority().Issue("cli", []string{"vault"}, time.Minute)
	require.NoError(t, err)
	output, err := execute(t, "history", "--origin", server.URL, "--channel", "vault", "--auth-key", token)
	require.NoError(t, err)
	assert.Contains(t, output, "0 message(s) on 'vault'")
}

func TestLoadConfig_FlagPrecedence(t *testing.T) {
	f := newFixture(t)
	t.Setenv("PUBNUB_ORIGIN", "http://unreachable.invalid")
	t.Setenv("PUBNUB_TIMEOUT", "2s")

	_, err := execute(t, "time", "--origin", f.origin)
	require.NoError(t, err)
	assert.Equal(t, f.origin, cfg.Client.Origin, "flags win over the environment")
	assert.Equal(t, 2*time.Second, cfg.Client.Timeout, "environment wins over defaults")
}
