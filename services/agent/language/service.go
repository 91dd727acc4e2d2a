// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package language turns pipeline operations into model calls: intent
// classification, SQL drafting, and streamed result analysis. Prompt
// construction and response parsing live here so the pipeline never sees
// raw model text.
package language

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
	"github.com/Jubii100/Procast-Agent/services/agent/pipeline"
	"github.com/Jubii100/Procast-Agent/services/llm"
)

var tracer = otel.Tracer("procast.agent.language")

// IntentCache stores classifications keyed by the question text.
// Implementations decide retention; a miss is never an error.
type IntentCache interface {
	Get(ctx context.Context, question string) (datatypes.Classification, bool)
	Put(ctx context.Context, question string, c datatypes.Classification) error
}

// Config wires a Service.
type Config struct {
	// Primary handles SQL generation and result synthesis.
	Primary llm.Client

	// Auxiliary handles classification. A cheaper model is fine here;
	// falls back to Primary when nil.
	Auxiliary llm.Client

	// Cache is optional. When set, repeated questions skip the
	// classification call entirely.
	Cache IntentCache

	// MaxTokens caps each model response. Zero leaves the provider
	// default in place.
	MaxTokens int

	// Temperature applies to every call. The zero default keeps SQL
	// and routing decisions stable between identical requests.
	Temperature float32

	Logger *slog.Logger
}

type Service struct {
	primary   llm.Client
	auxiliary llm.Client
	cache     IntentCache
	params    llm.GenerationParams
	log       *slog.Logger
}

func New(cfg Config) (*Service, error) {
	if cfg.Primary == nil {
		return nil, fmt.Errorf("language: primary client is required")
	}
	aux := cfg.Auxiliary
	if aux == nil {
		aux = cfg.Primary
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		primary:   cfg.Primary,
		auxiliary: aux,
		cache:     cfg.Cache,
		params:    requestParams(cfg.MaxTokens, cfg.Temperature),
		log:       log,
	}, nil
}

// requestParams pins the generation knobs once at construction.
func requestParams(maxTokens int, temperature float32) llm.GenerationParams {
	p := llm.GenerationParams{Temperature: &temperature}
	if maxTokens > 0 {
		p.MaxTokens = &maxTokens
	}
	return p
}

func (s *Service) Classify(ctx context.Context, question string, history []datatypes.Turn) (datatypes.Classification, error) {
	ctx, span := tracer.Start(ctx, "language.classify")
	defer span.End()

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, question); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			s.log.Debug("Intent served from cache", "intent", cached.Intent)
			return cached, nil
		}
	}

	user, err := classifyUserPrompt.Format(map[string]any{
		"history":  formatHistory(history, maxHistoryMessages),
		"question": question,
	})
	if err != nil {
		return datatypes.Classification{}, fmt.Errorf("format classification prompt: %w", err)
	}

	raw, err := s.auxiliary.Chat(ctx, []llm.Message{
		{Role: "system", Content: classifySystem},
		{Role: "user", Content: user},
	}, s.params)
	if err != nil {
		return datatypes.Classification{}, fmt.Errorf("classification call failed: %w", err)
	}

	cls, err := parseClassification(raw)
	if err != nil {
		return datatypes.Classification{}, err
	}
	span.SetAttributes(attribute.String("intent", string(cls.Intent)))
	s.log.Info("Intent classified", "intent", cls.Intent, "requires_db", cls.RequiresDBQuery)

	if s.cache != nil {
		if err := s.cache.Put(ctx, question, cls); err != nil {
			s.log.Warn("Intent cache write failed", "error", err)
		}
	}
	return cls, nil
}

func (s *Service) GenerateSQL(ctx context.Context, req pipeline.GenerateRequest) (datatypes.SQLDraft, error) {
	ctx, span := tracer.Start(ctx, "language.generate_sql")
	defer span.End()
	span.SetAttributes(attribute.Bool("retry", req.PriorError != ""))

	system, err := sqlSystemPrompt.Format(map[string]any{"schema": req.SchemaContext})
	if err != nil {
		return datatypes.SQLDraft{}, fmt.Errorf("format SQL system prompt: %w", err)
	}
	user, err := sqlUserPrompt.Format(map[string]any{
		"history":    formatHistory(req.History, maxHistoryMessages),
		"question":   req.Question,
		"priorError": req.PriorError,
	})
	if err != nil {
		return datatypes.SQLDraft{}, fmt.Errorf("format SQL user prompt: %w", err)
	}

	raw, err := s.primary.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, s.params)
	if err != nil {
		return datatypes.SQLDraft{}, fmt.Errorf("SQL generation call failed: %w", err)
	}

	draft := parseDraft(raw)
	if draft.SQL != "" {
		s.log.Info("SQL generated", "sql_preview", preview(draft.SQL, 100))
	} else {
		s.log.Warn("SQL generation returned no query")
	}
	return draft, nil
}

func (s *Service) Synthesize(ctx context.Context, req pipeline.SynthesizeRequest, onDelta func(delta string) error) error {
	ctx, span := tracer.Start(ctx, "language.synthesize")
	defer span.End()
	span.SetAttributes(attribute.Int("row_count", req.Result.RowCount))

	rows := req.Result.Rows
	if len(rows) > maxResultRows {
		rows = rows[:maxResultRows]
	}
	resultsJSON, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("serialize query results: %w", err)
	}

	user, err := synthesisUserPrompt.Format(map[string]any{
		"question": req.Question,
		"sql":      req.SQL,
		"results":  string(resultsJSON),
	})
	if err != nil {
		return fmt.Errorf("format synthesis prompt: %w", err)
	}

	messages := make([]llm.Message, 0, len(req.History)+2)
	messages = append(messages, llm.Message{Role: "system", Content: synthesisSystem})
	history := req.History
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	for _, turn := range history {
		if turn.Role != "user" && turn.Role != "assistant" {
			continue
		}
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: user})

	s.log.Info("Starting streaming analysis", "question", preview(req.Question, 50))
	return s.primary.ChatStream(ctx, messages, s.params, llm.TokenFunc(onDelta))
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ pipeline.LanguageService = (*Service)(nil)
