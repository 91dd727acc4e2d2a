package llm

import (
	"context"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("procast.llm")

// Message is one turn of a chat conversation in provider-neutral form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// TokenFunc receives streamed completion tokens as they arrive. A
// non-nil return aborts the stream and is propagated by ChatStream.
type TokenFunc func(token string) error

// Client defines the standard interface for any chat model backend.
type Client interface {
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, onToken TokenFunc) error
}
