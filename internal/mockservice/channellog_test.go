package mockservice

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frozenLog(retention int) *ChannelLog {
	log := NewChannelLog(retention)
	now := time.Unix(1700000000, 0)
	log.now = func() time.Time { return now }
	return log
}

func TestChannelLog_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("timetokens_strictly_increase", func(t *testing.T) {
		log := frozenLog(0)
		first, err := log.Append(ctx, "a", json.RawMessage(`1`))
		require.NoError(t, err)
		second, err := log.Append(ctx, "b", json.RawMessage(`2`))
		require.NoError(t, err)

		assert.Equal(t, int64(1700000000)*1e7, first.Timetoken)
		assert.Equal(t, first.Timetoken+1, second.Timetoken)
		assert.Equal(t, "b", second.Channel)
	})

	t.Run("after_handed_out_timetoken", func(t *testing.T) {
		log := frozenLog(0)
		token := log.Timetoken()
		record, err := log.Append(ctx, "a", json.RawMessage(`"x"`))
		require.NoError(t, err)
		assert.Greater(t, record.Timetoken, token)
	})

	t.Run("invalid_payload", func(t *testing.T) {
		log := frozenLog(0)
		_, err := log.Append(ctx, "a", json.RawMessage(`{"open"`))
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("retention", func(t *testing.T) {
		log := frozenLog(2)
		for _, p := range []string{`1`, `2`, `3`} {
			_, err := log.Append(ctx, "a", json.RawMessage(p))
			require.NoError(t, err)
		}
		records, err := log.Latest(ctx, "a", 10)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.JSONEq(t, `2`, string(records[0].Payload))
		assert.JSONEq(t, `3`, string(records[1].Payload))
	})

	t.Run("cancelled_context", func(t *testing.T) {
		log := frozenLog(0)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := log.Append(cancelled, "a", json.RawMessage(`1`))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestChannelLog_ReadAfter(t *testing.T) {
	ctx := context.Background()
	log := frozenLog(0)

	var tokens []int64
	for _, channel := range []string{"a", "b", "a", "c"} {
		record, err := log.Append(ctx, channel, json.RawMessage(`"`+channel+`"`))
		require.NoError(t, err)
		tokens = append(tokens, record.Timetoken)
	}

	t.Run("merges_channels_in_timetoken_order", func(t *testing.T) {
		records, err := log.ReadAfter(ctx, []string{"b", "a"}, 0, 10)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, []int64{tokens[0], tokens[1], tokens[2]},
			[]int64{records[0].Timetoken, records[1].Timetoken, records[2].Timetoken})
	})

	t.Run("only_after_timetoken", func(t *testing.T) {
		records, err := log.ReadAfter(ctx, []string{"a", "b", "c"}, tokens[1], 10)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "a", records[0].Channel)
		assert.Equal(t, "c", records[1].Channel)
	})

	t.Run("max_count_and_duplicates", func(t *testing.T) {
		records, err := log.ReadAfter(ctx, []string{"a", "a"}, 0, 1)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, tokens[0], records[0].Timetoken)
	})

	t.Run("unknown_channel", func(t *testing.T) {
		records, err := log.ReadAfter(ctx, []string{"nope"}, 0, 10)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("negative_count", func(t *testing.T) {
		_, err := log.ReadAfter(ctx, []string{"a"}, 0, -1)
		assert.ErrorIs(t, err, ErrNegativeCount)
		_, err = log.Latest(ctx, "a", -1)
		assert.ErrorIs(t, err, ErrNegativeCount)
	})
}

func TestChannelLog_Changed(t *testing.T) {
	ctx := context.Background()
	log := frozenLog(0)

	changed := log.Changed()
	select {
	case <-changed:
		t.Fatal("closed before any append")
	default:
	}

	_, err := log.Append(ctx, "a", json.RawMessage(`1`))
	require.NoError(t, err)
	select {
	case <-changed:
	default:
		t.Fatal("append must close the previous channel")
	}

	next := log.Changed()
	require.NoError(t, log.Close())
	select {
	case <-next:
	default:
		t.Fatal("close must release waiters")
	}

	_, err = log.Append(ctx, "a", json.RawMessage(`1`))
	assert.ErrorIs(t, err, ErrLogClosed)
	_, err = log.ReadAfter(ctx, []string{"a"}, 0, 1)
	assert.ErrorIs(t, err, ErrLogClosed)
	_, err = log.Latest(ctx, "a", 1)
	assert.ErrorIs(t, err, ErrLogClosed)
	assert.NoError(t, log.Close())
}
