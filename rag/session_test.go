package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mededge/pulse/kv"
	"github.com/mededge/pulse/llm"
)

func newTestSessions(t *testing.T) (*SessionStore, *miniredis.Miniredis, kv.Store) {
	t.Helper()

	var mr = miniredis.RunT(t)
	var store = kv.NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = store.Close() })

	return NewSessionStore(store), mr, store
}

func TestCreateRegistersHashAndSetTogether(t *testing.T) {
	var sessions, mr, _ = newTestSessions(t)
	var ctx = context.Background()

	var created, err = sessions.Create(ctx, 7)
	require.NoError(t, err)
	require.NotEmpty(t, created.SessionID)
	require.NotEmpty(t, created.CreatedTime)

	// The user's set holds the id, and the summary hash exists.
	var members, _ = mr.SMembers("chat:message:set:7")
	require.Equal(t, []string{created.SessionID}, members)
	require.Equal(t, created.SessionID, mr.HGet("chat:message:hash:7:"+created.SessionID, "session_id"))
	require.Equal(t, "", mr.HGet("chat:message:hash:7:"+created.SessionID, "last_message"))
}

func TestSessionsSortNewestFirst(t *testing.T) {
	var sessions, mr, _ = newTestSessions(t)
	var ctx = context.Background()

	for id, created := range map[string]string{
		"a": "2026-01-02 10:00:00",
		"b": "2026-01-03 09:00:00",
		"c": "2026-01-02 23:59:59",
	} {
		mr.HSet("chat:message:hash:7:"+id, "session_id", id, "last_message", "", "created_time", created)
		mr.SAdd("chat:message:set:7", id)
	}

	var got, err = sessions.Sessions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "b", got[0].SessionID)
	require.Equal(t, "c", got[1].SessionID)
	require.Equal(t, "a", got[2].SessionID)
}

func TestSessionsSkipStaleSetEntries(t *testing.T) {
	var sessions, mr, _ = newTestSessions(t)
	var ctx = context.Background()

	mr.SAdd("chat:message:set:7", "evicted")

	var got, err = sessions.Sessions(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestAppendExchangeAndWindows(t *testing.T) {
	var sessions, _, _ = newTestSessions(t)
	var ctx = context.Background()

	var created, err = sessions.Create(ctx, 7)
	require.NoError(t, err)

	for i := 0; i != 7; i++ {
		require.NoError(t, sessions.AppendExchange(ctx, 7, created.SessionID,
			"question", "answer", 20))
	}

	// The full transcript alternates user/assistant envelopes.
	msgs, err := sessions.Messages(ctx, 7, created.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 14)
	require.Equal(t, llm.RoleUser, msgs[0].Role)
	require.Equal(t, llm.RoleAssistant, msgs[1].Role)

	// A turn's context window sees only the trailing envelopes.
	window, err := sessions.Window(ctx, 7, created.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, window, 10)
	require.Equal(t, msgs[4:], window)
}

func TestLastMessagePreviewCountsRunes(t *testing.T) {
	var sessions, mr, _ = newTestSessions(t)
	var ctx = context.Background()

	var created, err = sessions.Create(ctx, 7)
	require.NoError(t, err)

	var answer = strings.Repeat("药", 30)
	require.NoError(t, sessions.AppendExchange(ctx, 7, created.SessionID, "q", answer, 20))

	var got = mr.HGet("chat:message:hash:7:"+created.SessionID, "last_message")
	require.Equal(t, strings.Repeat("药", 20), got)

	// Short answers pass through whole.
	require.NoError(t, sessions.AppendExchange(ctx, 7, created.SessionID, "q", "short", 20))
	require.Equal(t, "short", mr.HGet("chat:message:hash:7:"+created.SessionID, "last_message"))
}
