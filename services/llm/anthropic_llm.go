package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	anthropicAPIVersion  = "2023-06-01"
	anthropicDefaultURL  = "https://api.anthropic.com/v1/messages"
	anthropicMaxTokens   = 4096
	cacheControlMinChars = 1024
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicStreamEvent covers the event payloads the SSE stream emits.
// Only the fields the stream loop inspects are decoded.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *anthropicError `json:"error,omitempty"`
}

// --- Client Implementation ---

type AnthropicClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

func NewAnthropicClient(model string) (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")

	// 1. Robust Secret Loading
	if apiKey == "" {
		secretPath := "/run/secrets/anthropic_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Anthropic API Key from Podman Secrets")
		}
	}

	// 2. Graceful Failure
	if apiKey == "" {
		slog.Warn("Anthropic API Key is missing.")
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is missing")
	}

	if model == "" {
		model = "claude-3-5-sonnet-20241022"
		slog.Info("Anthropic model not set, defaulting to", "model", model)
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    anthropicDefaultURL,
		apiKey:     apiKey,
		model:      model,
	}, nil
}

func (c *AnthropicClient) Model() string {
	return c.model
}

// buildRequest splits the leading system message out of the conversation,
// because the Anthropic API wants it as a top-level field. Long system
// prompts get a cache_control marker so repeated schema context is cached
// server side.
func (c *AnthropicClient) buildRequest(messages []Message, params GenerationParams, stream bool) anthropicRequest {
	var system []systemBlock
	chat := make([]anthropicMessage, 0, len(messages))

	for _, m := range messages {
		if m.Role == "system" {
			block := systemBlock{Type: "text", Text: m.Content}
			if len(m.Content) > cacheControlMinChars {
				block.CacheControl = &cacheControl{Type: "ephemeral"}
			}
			system = append(system, block)
			continue
		}
		chat = append(chat, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := anthropicMaxTokens
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}

	return anthropicRequest{
		Model:       c.model,
		Messages:    chat,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
		StopSeqs:    params.Stop,
		Stream:      stream,
	}
}

func (c *AnthropicClient) post(ctx context.Context, reqBody anthropicRequest) (*http.Response, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		var apiErr struct {
			Error *anthropicError `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != nil {
			return nil, fmt.Errorf("anthropic API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("anthropic API returned status %d", resp.StatusCode)
	}
	return resp, nil
}

func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.anthropic.chat")
	defer span.End()

	resp, err := c.post(ctx, c.buildRequest(messages, params, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("anthropic API error: %s", parsed.Error.Message)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic response contained no text content")
	}
	return sb.String(), nil
}

// ChatStream issues a streaming request and forwards each text delta to
// onToken. The SSE framing is simple enough to parse by hand: every event
// payload arrives on a "data: " line, and content_block_delta events carry
// the text.
func (c *AnthropicClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, onToken TokenFunc) error {
	ctx, span := tracer.Start(ctx, "llm.anthropic.chat_stream")
	defer span.End()

	resp, err := c.post(ctx, c.buildRequest(messages, params, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			slog.Debug("Skipping unparseable stream event", "payload", payload)
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				if err := onToken(event.Delta.Text); err != nil {
					return err
				}
			}
		case "error":
			if event.Error != nil {
				return fmt.Errorf("anthropic stream error: %s", event.Error.Message)
			}
			return fmt.Errorf("anthropic stream error")
		case "message_stop":
			return nil
		}
		// ping, message_start, content_block_start etc. carry no text.
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read anthropic stream: %w", err)
	}
	return nil
}

var _ Client = (*AnthropicClient)(nil)
