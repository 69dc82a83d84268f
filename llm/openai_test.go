package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// completionsStub serves an OpenAI-compatible /chat/completions
// endpoint, answering streamed requests with |chunks| and plain ones
// with their concatenation.
func completionsStub(t *testing.T, chunks []string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)

		var body struct {
			Stream bool `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if !body.Stream {
			w.Header().Set("Content-Type", "application/json")
			var whole string
			for _, c := range chunks {
				whole += c
			}
			fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, whole)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestChatInvoke(t *testing.T) {
	var srv = completionsStub(t, []string{"para", "cetamol"})
	defer srv.Close()

	var chat = NewOpenAIChat(Config{
		APIKey:        "test",
		BaseURL:       srv.URL,
		Model:         "test-model",
		InvokeTimeout: time.Second,
		StreamTimeout: time.Second,
	})
	var out, err = chat.Invoke(context.Background(), []Message{
		{Role: RoleUser, Content: "name an antipyretic"},
	})
	require.NoError(t, err)
	require.Equal(t, "paracetamol", out)
}

func TestChatStreamEmitsChunksInOrder(t *testing.T) {
	var srv = completionsStub(t, []string{"first ", "second ", "third"})
	defer srv.Close()

	var chat = NewOpenAIChat(Config{
		APIKey:        "test",
		BaseURL:       srv.URL,
		Model:         "test-model",
		InvokeTimeout: time.Second,
		StreamTimeout: time.Second,
	})

	var got []string
	var err = chat.Stream(context.Background(), []Message{
		{Role: RoleUser, Content: "count"},
	}, func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"first ", "second ", "third"}, got)
}

func TestChatStreamStopsOnEmitError(t *testing.T) {
	var srv = completionsStub(t, []string{"one", "two", "three"})
	defer srv.Close()

	var chat = NewOpenAIChat(Config{
		APIKey:        "test",
		BaseURL:       srv.URL,
		Model:         "test-model",
		StreamTimeout: time.Second,
	})

	var calls int
	var err = chat.Stream(context.Background(), nil, func(string) error {
		calls++
		return fmt.Errorf("client went away")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
