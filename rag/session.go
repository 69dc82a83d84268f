// Package rag implements the AI chat service: per-session message
// history in the keyed store, history-aware query rewriting, fanned-out
// multi-query retrieval with deduplication, and streamed answer
// generation with post-stream persistence.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mededge/pulse/kv"
	"github.com/mededge/pulse/llm"
)

// Keyed store layout of a chat session. The hash and list are scoped to
// one (user, session) pair; the set indexes a user's session ids.
func hashKey(userID int64, sessionID string) string {
	return fmt.Sprintf("chat:message:hash:%d:%s", userID, sessionID)
}
func listKey(userID int64, sessionID string) string {
	return fmt.Sprintf("chat:message:list:%d:%s", userID, sessionID)
}
func setKey(userID int64) string {
	return fmt.Sprintf("chat:message:set:%d", userID)
}

const timeLayout = "2006-01-02 15:04:05"

// Session is the summary view of one chat session.
type Session struct {
	SessionID   string `json:"session_id"`
	LastMessage string `json:"last_message"`
	CreatedTime string `json:"created_time"`
}

// SessionStore keeps chat session state in the keyed store.
type SessionStore struct {
	store kv.Store
}

// NewSessionStore builds a SessionStore over the keyed store.
func NewSessionStore(store kv.Store) *SessionStore {
	return &SessionStore{store: store}
}

// Create allocates a session. The summary hash and the set registration
// are written in one transaction: the hash exists exactly when the set
// holds the id.
func (s *SessionStore) Create(ctx context.Context, userID int64) (Session, error) {
	var session = Session{
		SessionID:   uuid.NewString(),
		CreatedTime: time.Now().Format(timeLayout),
	}
	var err = s.store.Update(ctx, func(b kv.Batch) {
		b.HSet(hashKey(userID, session.SessionID), map[string]string{
			"session_id":   session.SessionID,
			"last_message": "",
			"created_time": session.CreatedTime,
		})
		b.SAdd(setKey(userID), session.SessionID)
	})
	if err != nil {
		return Session{}, fmt.Errorf("creating chat session: %w", err)
	}
	sessionsCreated.Inc()
	return session, nil
}

// Sessions lists the user's sessions, newest first.
func (s *SessionStore) Sessions(ctx context.Context, userID int64) ([]Session, error) {
	var ids, err = s.store.SMembers(ctx, setKey(userID))
	if err != nil {
		return nil, err
	}

	var out = make([]Session, 0, len(ids))
	for _, id := range ids {
		fields, err := s.store.HGetAll(ctx, hashKey(userID, id))
		if err != nil {
			return nil, err
		} else if len(fields) == 0 {
			continue // hash evicted; the set entry is stale
		}
		out = append(out, Session{
			SessionID:   fields["session_id"],
			LastMessage: fields["last_message"],
			CreatedTime: fields["created_time"],
		})
	}

	// CreatedTime's layout sorts lexicographically in time order.
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedTime > out[j].CreatedTime
	})
	return out, nil
}

// Messages returns the session's transcript in arrival order.
func (s *SessionStore) Messages(ctx context.Context, userID int64, sessionID string) ([]llm.Message, error) {
	return s.slice(ctx, userID, sessionID, 0, -1)
}

// Window returns the last |n| envelopes of the session.
func (s *SessionStore) Window(ctx context.Context, userID int64, sessionID string, n int64) ([]llm.Message, error) {
	return s.slice(ctx, userID, sessionID, -n, -1)
}

func (s *SessionStore) slice(ctx context.Context, userID int64, sessionID string, start, stop int64) ([]llm.Message, error) {
	var raw, err = s.store.LRange(ctx, listKey(userID, sessionID), start, stop)
	if err != nil {
		return nil, err
	}

	var out = make([]llm.Message, 0, len(raw))
	for _, item := range raw {
		var m llm.Message
		if err = json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decoding message envelope: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// AppendExchange appends the user and assistant envelopes of a
// completed turn and refreshes the session's last-message preview.
func (s *SessionStore) AppendExchange(ctx context.Context, userID int64, sessionID, question, answer string, previewRunes int) error {
	var user, err = json.Marshal(llm.Message{Role: llm.RoleUser, Content: question})
	if err != nil {
		return err
	}
	assistant, err := json.Marshal(llm.Message{Role: llm.RoleAssistant, Content: answer})
	if err != nil {
		return err
	}

	err = s.store.Update(ctx, func(b kv.Batch) {
		b.RPush(listKey(userID, sessionID), string(user), string(assistant))
		b.HSet(hashKey(userID, sessionID), map[string]string{
			"last_message": preview(answer, previewRunes),
		})
	})
	if err != nil {
		return fmt.Errorf("appending chat exchange: %w", err)
	}
	return nil
}

// preview returns at most n runes of s. Counting runes rather than
// bytes keeps multi-byte previews from splitting a character.
func preview(s string, n int) string {
	var runes = []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
