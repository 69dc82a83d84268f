package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Config configures the chat completions client. Any OpenAI-compatible
// endpoint works; BaseURL points it at self-hosted gateways.
type Config struct {
	APIKey        string        `long:"api-key" env:"API_KEY" description:"API key of the chat completions service"`
	BaseURL       string        `long:"base-url" env:"BASE_URL" default:"https://api.openai.com/v1" description:"Base URL of the chat completions service"`
	Model         string        `long:"model" env:"MODEL" default:"gpt-4o-mini" description:"Chat model identifier"`
	InvokeTimeout time.Duration `long:"invoke-timeout" env:"INVOKE_TIMEOUT" default:"30s" description:"Deadline of non-streaming completions"`
	StreamTimeout time.Duration `long:"stream-timeout" env:"STREAM_TIMEOUT" default:"120s" description:"Deadline of a complete streaming completion"`
}

// OpenAIChat is the production ChatModel.
type OpenAIChat struct {
	client *openai.Client
	cfg    Config
}

// NewOpenAIChat builds a chat client from configuration.
func NewOpenAIChat(cfg Config) *OpenAIChat {
	var cc = openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	return &OpenAIChat{client: openai.NewClientWithConfig(cc), cfg: cfg}
}

func toWire(msgs []Message) []openai.ChatCompletionMessage {
	var out = make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// Invoke runs one completion and returns its full text.
func (c *OpenAIChat) Invoke(ctx context.Context, msgs []Message) (string, error) {
	var ctxT, cancel = context.WithTimeout(ctx, c.cfg.InvokeTimeout)
	defer cancel()

	var resp, err = c.client.CreateChatCompletion(ctxT, openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: toWire(msgs),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	} else if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream runs a streaming completion, forwarding content chunks to
// emit. The whole stream is bounded by StreamTimeout, so a wedged
// upstream cannot hold a request slot indefinitely.
func (c *OpenAIChat) Stream(ctx context.Context, msgs []Message, emit func(string) error) error {
	var ctxT, cancel = context.WithTimeout(ctx, c.cfg.StreamTimeout)
	defer cancel()

	var stream, err = c.client.CreateChatCompletionStream(ctxT, openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: toWire(msgs),
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("opening chat stream: %w", err)
	}
	defer stream.Close()

	for {
		var resp, err = stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("receiving chat chunk: %w", err)
		} else if len(resp.Choices) == 0 {
			continue
		}

		if content := resp.Choices[0].Delta.Content; content != "" {
			if err = emit(content); err != nil {
				return err
			}
		}
	}
}
