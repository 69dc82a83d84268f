package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/highwayhash"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mededge/pulse/llm"
)

// Options tune the chat pipeline. Zero values take defaults.
type Options struct {
	// Window is how many trailing history envelopes feed each turn.
	Window int64
	// MaxQueries caps retrieval fan-out, the lead query included.
	MaxQueries int
	// TopK is the per-query similarity search depth.
	TopK int
	// ChunkBuffer is the capacity of a turn's event channel.
	ChunkBuffer int
	// PreviewRunes sizes the session's last-message preview.
	PreviewRunes int
	// PersistTimeout bounds the post-stream history write.
	PersistTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Window == 0 {
		o.Window = 10
	}
	if o.MaxQueries == 0 {
		o.MaxQueries = 4
	}
	if o.TopK == 0 {
		o.TopK = 2
	}
	if o.ChunkBuffer == 0 {
		o.ChunkBuffer = 16
	}
	if o.PreviewRunes == 0 {
		o.PreviewRunes = 20
	}
	if o.PersistTimeout == 0 {
		o.PersistTimeout = 5 * time.Second
	}
	return o
}

// Event is one frame of a chat response stream.
type Event struct {
	// Chunk is a piece of assistant output.
	Chunk string
	// Err ends the stream when set. No further events follow it.
	Err error
}

// Service runs retrieval-augmented chat turns.
type Service struct {
	sessions *SessionStore
	model    llm.ChatModel
	search   llm.VectorStore
	opts     Options
}

// NewService assembles the chat pipeline.
func NewService(sessions *SessionStore, model llm.ChatModel, search llm.VectorStore, opts Options) *Service {
	return &Service{
		sessions: sessions,
		model:    model,
		search:   search,
		opts:     opts.withDefaults(),
	}
}

// CreateSession allocates a session for the user.
func (s *Service) CreateSession(ctx context.Context, userID int64) (Session, error) {
	return s.sessions.Create(ctx, userID)
}

// Sessions lists the user's sessions, newest first.
func (s *Service) Sessions(ctx context.Context, userID int64) ([]Session, error) {
	return s.sessions.Sessions(ctx, userID)
}

// Messages returns the session's transcript in arrival order.
func (s *Service) Messages(ctx context.Context, userID int64, sessionID string) ([]llm.Message, error) {
	return s.sessions.Messages(ctx, userID, sessionID)
}

// Chat runs one turn: it loads the session's history window, rewrites
// and expands the question for retrieval, gathers supporting passages,
// and streams the generated answer over the returned channel. The
// channel closes when the stream ends; a turn that ran to completion is
// appended to the session history, a cancelled one is not.
//
// Failures before the first chunk are returned synchronously, so the
// transport can still send a proper error response.
func (s *Service) Chat(ctx context.Context, userID int64, sessionID, question string) (<-chan Event, error) {
	var history, err = s.sessions.Window(ctx, userID, sessionID, s.opts.Window)
	if err != nil {
		return nil, err
	}

	var lead = s.rewriteQuestion(ctx, question, history)
	var queries = s.expandQueries(ctx, lead)

	docs, err := s.retrieve(ctx, queries)
	if err != nil {
		return nil, err
	}

	// Generation sees the verbatim question; rewriting serves retrieval
	// only.
	var msgs = make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: answerPrompt(docs)})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: question})

	var events = make(chan Event, s.opts.ChunkBuffer)
	go s.generate(ctx, events, msgs, userID, sessionID, question)
	return events, nil
}

// rewriteQuestion resolves the question against the history into a
// standalone retrieval query. A first-turn question passes through, and
// a failed rewrite degrades to the raw question.
func (s *Service) rewriteQuestion(ctx context.Context, question string, history []llm.Message) string {
	if len(history) == 0 {
		return question
	}

	var rewritten, err = s.model.Invoke(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: rewritePrompt},
		{Role: llm.RoleUser, Content: rewriteInput(question, history)},
	})
	if err != nil {
		log.WithField("err", err).Warn("history rewrite failed; retrieving with the raw question")
		return question
	}
	if rewritten = strings.TrimSpace(rewritten); rewritten == "" {
		return question
	}
	return rewritten
}

// expandQueries asks the model for alternative phrasings of |query|.
// The lead query always comes first and the total is capped; a failed
// expansion degrades to the lead query alone.
func (s *Service) expandQueries(ctx context.Context, query string) []string {
	var raw, err = s.model.Invoke(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: expandPrompt(query)},
	})
	if err != nil {
		log.WithField("err", err).Warn("multi-query expansion failed; retrieving with one query")
		return []string{query}
	}

	var queries = []string{query}
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line == "" || line == query {
			continue
		}
		queries = append(queries, line)
		if len(queries) == s.opts.MaxQueries {
			break
		}
	}
	return queries
}

// fingerprintKey seeds content fingerprints. Dedup is scoped to one
// request, so a fixed key serves.
var fingerprintKey = make([]byte, 32)

func contentFingerprint(content string) uint64 {
	return highwayhash.Sum64([]byte(strings.TrimSpace(content)), fingerprintKey)
}

// retrieve fans similarity searches out across |queries| and unions the
// results in query order, dropping passages whose stripped content was
// already seen.
func (s *Service) retrieve(ctx context.Context, queries []string) ([]llm.Document, error) {
	var group, groupCtx = errgroup.WithContext(ctx)
	var results = make([][]llm.Document, len(queries))

	for i, query := range queries {
		group.Go(func() error {
			var docs, err = s.search.SimilaritySearch(groupCtx, query, s.opts.TopK)
			if err != nil {
				return fmt.Errorf("searching %q: %w", query, err)
			}
			results[i] = docs
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var seen = make(map[uint64]struct{})
	var out []llm.Document
	for _, docs := range results {
		for _, doc := range docs {
			var fp = contentFingerprint(doc.PageContent)
			if _, ok := seen[fp]; ok {
				continue
			}
			seen[fp] = struct{}{}
			out = append(out, doc)
		}
	}
	return out, nil
}

// generate owns the events channel: it streams model output into it,
// closes it, and persists the finished turn.
func (s *Service) generate(ctx context.Context, events chan<- Event, msgs []llm.Message, userID int64, sessionID, question string) {
	defer close(events)

	var answer strings.Builder
	var err = s.model.Stream(ctx, msgs, func(chunk string) error {
		answer.WriteString(chunk)
		select {
		case events <- Event{Chunk: chunk}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if ctx.Err() != nil {
		// The caller went away mid-stream. The turn never completed, so
		// the session history stays as it was.
		chatTurns.WithLabelValues("cancelled").Inc()
		return
	}
	if err != nil {
		log.WithFields(log.Fields{"user": userID, "session": sessionID, "err": err}).
			Warn("chat generation failed")
		chatTurns.WithLabelValues("error").Inc()
		select {
		case events <- Event{Err: err}:
		case <-ctx.Done():
		}
		return
	}

	// Persist outside the request context: a caller that disconnects
	// right after the final chunk still gets the turn recorded.
	var persistCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.opts.PersistTimeout)
	defer cancel()

	if err = s.sessions.AppendExchange(persistCtx, userID, sessionID, question, answer.String(), s.opts.PreviewRunes); err != nil {
		log.WithFields(log.Fields{"user": userID, "session": sessionID, "err": err}).
			Error("failed to persist chat exchange")
	}
	chatTurns.WithLabelValues("completed").Inc()
}
