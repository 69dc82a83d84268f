package rag

import (
	"fmt"
	"strings"

	"github.com/mededge/pulse/llm"
)

// rewritePrompt turns a follow-up question into a self-contained one,
// so retrieval doesn't see dangling pronouns.
const rewritePrompt = `You are a search optimization expert. Rewrite the user's latest
question into a single self-contained sentence, resolving pronouns and
ellipses against the conversation history. For example, given a history
about oseltamivir, rewrite "what are its side effects" as "what are the
side effects of oseltamivir". Output only the rewritten sentence, with
no explanation.`

func rewriteInput(question string, history []llm.Message) string {
	var b strings.Builder
	b.WriteString("Conversation history:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&b, "\nLatest question: %s", question)
	return b.String()
}

// expandPrompt asks for alternative retrieval queries of |query|.
func expandPrompt(query string) string {
	return fmt.Sprintf(`You are an AI search assistant. Generate 3 alternative search
queries for the original question below, to retrieve more relevant
passages from a medical knowledge base.

Rules:
1. Expand synonyms and related medical terminology.
2. Decompose a compound question into its sub-questions.
3. Preserve the core intent; never change what is being asked.

Output exactly 3 lines, one query per line, with no numbering and no
explanation.

Original question: %s`, query)
}

// answerPrompt frames the retrieved passages for generation.
func answerPrompt(docs []llm.Document) string {
	var contexts = make([]string, len(docs))
	for i, doc := range docs {
		contexts[i] = doc.PageContent
	}
	return fmt.Sprintf(`You are a professional medical education assistant. Answer the
user's question using the reference passages below.

Principles:
1. Synthesize across passages and answer clearly and accurately.
2. If the passages don't contain the answer, say so; never invent one.
3. Keep a warm, professional tone.

Reference passages:
%s`, strings.Join(contexts, "\n\n"))
}
