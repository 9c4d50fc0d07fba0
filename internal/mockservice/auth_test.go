package mockservice

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthority(t *testing.T) {
	auth := NewAuthority("secret")

	t.Run("issue_and_verify", func(t *testing.T) {
		token, err := auth.Issue("alice", []string{"news"}, time.Minute)
		require.NoError(t, err)

		grant, err := auth.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", grant.UUID)
		assert.True(t, grant.Allows("news"))
		assert.False(t, grant.Allows("news", "sports"))
	})

	t.Run("empty_channels_grant_everything", func(t *testing.T) {
		token, err := auth.Issue("bob", nil, 0)
		require.NoError(t, err)

		grant, err := auth.Verify(token)
		require.NoError(t, err)
		assert.True(t, grant.Allows("anything", "at-all"))
		assert.WithinDuration(t, time.Now().Add(DefaultGrantTTL), grant.ExpiresAt.Time, time.Minute)
	})

	t.Run("rejects_bad_tokens", func(t *testing.T) {
		_, err := auth.Verify("")
		assert.ErrorIs(t, err, ErrEmptyToken)

		_, err = auth.Verify("not-a-token")
		assert.Error(t, err)

		foreign, err := NewAuthority("other").Issue("eve", nil, time.Minute)
		require.NoError(t, err)
		_, err = auth.Verify(foreign)
		assert.Error(t, err, "signed with another secret")
	})

	t.Run("rejects_expired_tokens", func(t *testing.T) {
		start := time.Now()
		clocked := NewAuthority("secret")
		clocked.now = func() time.Time { return start }

		token, err := clocked.Issue("carol", nil, time.Minute)
		require.NoError(t, err)
		_, err = clocked.Verify(token)
		require.NoError(t, err)

		clocked.now = func() time.Time { return start.Add(2 * time.Minute) }
		_, err = clocked.Verify(token)
		assert.Error(t, err)
	})
}

func TestServer_AccessControl(t *testing.T) {
	s, base := newTestServer(t, Config{AuthSecret: "secret"})
	require.NotNil(t, s.Authority())

	token, err := s.Authority().Issue("alice", []string{"news"}, time.Minute)
	require.NoError(t, err)

	t.Run("missing_auth_key", func(t *testing.T) {
		status, body := get(t, base+"/history/demo/news/0/10")
		assert.Equal(t, http.StatusForbidden, status)
		assert.Contains(t, body, "Access Manager")
	})

	t.Run("granted_channel", func(t *testing.T) {
		status, _ := get(t, base+"/publish/demo/demo/0/news/0/1?auth="+token)
		assert.Equal(t, http.StatusOK, status)

		status, body := get(t, base+"/history/demo/news/0/10?auth="+token)
		assert.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `[1]`, body)
	})

	t.Run("channel_outside_grant", func(t *testing.T) {
		status, _ := get(t, base+"/subscribe/demo/news,sports/0/0?uuid=alice&auth="+token)
		assert.Equal(t, http.StatusForbidden, status)
		assert.Empty(t, s.Presence().Here("news"), "denied requests do not count as presence")
	})

	t.Run("time_is_open", func(t *testing.T) {
		status, _ := get(t, base+"/time/0")
		assert.Equal(t, http.StatusOK, status)
	})
}

func TestServer_AccessControlOff(t *testing.T) {
	s, base := newTestServer(t, Config{})
	assert.Nil(t, s.Authority())

	status, _ := get(t, base+"/history/demo/news/0/10?auth=ignored")
	assert.Equal(t, http.StatusOK, status)
}
