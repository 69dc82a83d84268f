// Package llm defines the language-model surfaces of the AI chat
// features: a conversational ChatModel and a VectorStore for
// similarity search, with production adapters for an OpenAI-compatible
// completions API and an HTTP vector search service.
package llm

import "context"

// Roles of chat message envelopes.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat envelope, as stored in session history and as
// sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatModel is a conversational language model.
type ChatModel interface {
	// Invoke runs one completion and returns its full text.
	Invoke(ctx context.Context, msgs []Message) (string, error)
	// Stream runs a streaming completion, calling emit with each
	// content chunk in order. A non-nil error from emit aborts the
	// stream and is returned.
	Stream(ctx context.Context, msgs []Message, emit func(chunk string) error) error
}

// Document is one retrieved context snippet.
type Document struct {
	PageContent string            `json:"page_content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// VectorStore performs nearest-neighbor search over embedded documents.
type VectorStore interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error)
}
