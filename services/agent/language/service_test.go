// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package language

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
	"github.com/Jubii100/Procast-Agent/services/agent/pipeline"
	"github.com/Jubii100/Procast-Agent/services/llm"
)

// =============================================================================
// Mocks
// =============================================================================

// mockClient is a configurable llm.Client double.
type mockClient struct {
	Response     string
	Err          error
	StreamTokens []string
	StreamErr    error

	ChatCalls       int
	ChatStreamCalls int
	LastMessages    []llm.Message
	LastParams      llm.GenerationParams
}

func (m *mockClient) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	m.ChatCalls++
	m.LastMessages = messages
	m.LastParams = params
	return m.Response, m.Err
}

func (m *mockClient) ChatStream(ctx context.Context, messages []llm.Message, params llm.GenerationParams, onToken llm.TokenFunc) error {
	m.ChatStreamCalls++
	m.LastMessages = messages
	m.LastParams = params
	if m.StreamErr != nil {
		return m.StreamErr
	}
	for _, token := range m.StreamTokens {
		if err := onToken(token); err != nil {
			return err
		}
	}
	return nil
}

// mockCache is an in-memory IntentCache.
type mockCache struct {
	entries map[string]datatypes.Classification
	PutErr  error

	GetCalls int
	PutCalls int
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]datatypes.Classification)}
}

func (m *mockCache) Get(ctx context.Context, question string) (datatypes.Classification, bool) {
	m.GetCalls++
	c, ok := m.entries[question]
	return c, ok
}

func (m *mockCache) Put(ctx context.Context, question string, c datatypes.Classification) error {
	m.PutCalls++
	if m.PutErr != nil {
		return m.PutErr
	}
	m.entries[question] = c
	return nil
}

func systemContent(messages []llm.Message) string {
	for _, m := range messages {
		if m.Role == "system" {
			return m.Content
		}
	}
	return ""
}

func userContent(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_RequiresPrimary(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary client is required")
}

func TestNew_AuxiliaryFallsBackToPrimary(t *testing.T) {
	primary := &mockClient{Response: `{"intent": "friendly_chat", "confidence": 0.9, "requires_db_query": false, "clarification_questions": []}`}
	svc, err := New(Config{Primary: primary})
	require.NoError(t, err)

	_, err = svc.Classify(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, primary.ChatCalls)
}

// =============================================================================
// Classification
// =============================================================================

func TestClassify_ParsesIntent(t *testing.T) {
	aux := &mockClient{Response: `{"intent": "db_query", "confidence": 0.92, "requires_db_query": true, "clarification_questions": []}`}
	svc, err := New(Config{Primary: &mockClient{}, Auxiliary: aux})
	require.NoError(t, err)

	cls, err := svc.Classify(context.Background(), "total budget for Q1?", []datatypes.Turn{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	})
	require.NoError(t, err)

	assert.Equal(t, datatypes.IntentDBQuery, cls.Intent)
	assert.InDelta(t, 0.92, cls.Confidence, 1e-9)
	assert.True(t, cls.RequiresDBQuery)
	assert.Empty(t, cls.ClarificationQuestions)

	assert.Contains(t, systemContent(aux.LastMessages), "friendly_chat")
	user := userContent(aux.LastMessages)
	assert.Contains(t, user, "Question: total budget for Q1?")
	assert.Contains(t, user, "User: earlier question")
	assert.Contains(t, user, "Assistant: earlier answer")

	require.NotNil(t, aux.LastParams.Temperature)
	assert.Zero(t, *aux.LastParams.Temperature)
}

func TestClassify_StripsCodeFences(t *testing.T) {
	aux := &mockClient{Response: "```json\n{\"intent\": \"clarify\", \"confidence\": 0.6, \"requires_db_query\": false, \"clarification_questions\": [\"Which project?\"]}\n```"}
	svc, _ := New(Config{Primary: &mockClient{}, Auxiliary: aux})

	cls, err := svc.Classify(context.Background(), "tell me about the project", nil)
	require.NoError(t, err)
	assert.Equal(t, datatypes.IntentClarify, cls.Intent)
	assert.Equal(t, []string{"Which project?"}, cls.ClarificationQuestions)
}

func TestClassify_ExtractsJSONFromProse(t *testing.T) {
	aux := &mockClient{Response: `Sure! Here is the classification: {"intent": "general_info", "confidence": 0.8, "requires_db_query": false, "clarification_questions": []} Hope that helps.`}
	svc, _ := New(Config{Primary: &mockClient{}, Auxiliary: aux})

	cls, err := svc.Classify(context.Background(), "what categories exist?", nil)
	require.NoError(t, err)
	assert.Equal(t, datatypes.IntentGeneralInfo, cls.Intent)
}

func TestClassify_MalformedResponseIsError(t *testing.T) {
	aux := &mockClient{Response: "I think this needs the database."}
	svc, _ := New(Config{Primary: &mockClient{}, Auxiliary: aux})

	_, err := svc.Classify(context.Background(), "total budget?", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestClassify_UnknownIntentIsError(t *testing.T) {
	aux := &mockClient{Response: `{"intent": "sql_query", "confidence": 0.9, "requires_db_query": true, "clarification_questions": []}`}
	svc, _ := New(Config{Primary: &mockClient{}, Auxiliary: aux})

	_, err := svc.Classify(context.Background(), "total budget?", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown intent")
}

func TestClassify_NormalizesIntentCase(t *testing.T) {
	aux := &mockClient{Response: `{"intent": " DB_Query ", "confidence": 0.9, "requires_db_query": true, "clarification_questions": []}`}
	svc, _ := New(Config{Primary: &mockClient{}, Auxiliary: aux})

	cls, err := svc.Classify(context.Background(), "total budget?", nil)
	require.NoError(t, err)
	assert.Equal(t, datatypes.IntentDBQuery, cls.Intent)
}

func TestClassify_InfersRequiresDBWhenAbsent(t *testing.T) {
	aux := &mockClient{Response: `{"intent": "db_query", "confidence": 0.9}`}
	svc, _ := New(Config{Primary: &mockClient{}, Auxiliary: aux})

	cls, err := svc.Classify(context.Background(), "total budget?", nil)
	require.NoError(t, err)
	assert.True(t, cls.RequiresDBQuery)
}

func TestClassify_CacheHitSkipsModelCall(t *testing.T) {
	aux := &mockClient{Response: `{"intent": "db_query", "confidence": 0.9, "requires_db_query": true}`}
	cache := newMockCache()
	cache.entries["total budget?"] = datatypes.Classification{
		Intent: datatypes.IntentDBQuery, Confidence: 0.88, RequiresDBQuery: true,
	}
	svc, _ := New(Config{Primary: &mockClient{}, Auxiliary: aux, Cache: cache})

	cls, err := svc.Classify(context.Background(), "total budget?", nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.88, cls.Confidence, 1e-9)
	assert.Equal(t, 0, aux.ChatCalls)
}

func TestClassify_CachePopulatedOnMiss(t *testing.T) {
	aux := &mockClient{Response: `{"intent": "friendly_chat", "confidence": 0.95, "requires_db_query": false}`}
	cache := newMockCache()
	svc, _ := New(Config{Primary: &mockClient{}, Auxiliary: aux, Cache: cache})

	_, err := svc.Classify(context.Background(), "hi!", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.PutCalls)

	cached, ok := cache.entries["hi!"]
	require.True(t, ok)
	assert.Equal(t, datatypes.IntentFriendlyChat, cached.Intent)
}

func TestClassify_CacheWriteFailureTolerated(t *testing.T) {
	aux := &mockClient{Response: `{"intent": "db_query", "confidence": 0.9, "requires_db_query": true}`}
	cache := newMockCache()
	cache.PutErr = errors.New("disk full")
	svc, _ := New(Config{Primary: &mockClient{}, Auxiliary: aux, Cache: cache})

	_, err := svc.Classify(context.Background(), "total budget?", nil)
	assert.NoError(t, err)
}

// =============================================================================
// SQL Generation
// =============================================================================

func TestGenerateSQL_JSONContract(t *testing.T) {
	primary := &mockClient{Response: `{"sql": "SELECT \"Name\" FROM \"Projects\" WHERE \"IsDisabled\" = false", "explanation": "Lists active projects."}`}
	svc, _ := New(Config{Primary: primary, Auxiliary: &mockClient{}})

	draft, err := svc.GenerateSQL(context.Background(), pipeline.GenerateRequest{
		Question:      "list projects",
		SchemaContext: "## PROJECTS DOMAIN",
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "Name" FROM "Projects" WHERE "IsDisabled" = false`, draft.SQL)
	assert.Equal(t, "Lists active projects.", draft.Explanation)

	system := systemContent(primary.LastMessages)
	assert.Contains(t, system, "## PROJECTS DOMAIN")
	assert.Contains(t, system, "IsComputedInverse")
	assert.Contains(t, userContent(primary.LastMessages), "Question: list projects")
}

func TestGenerateSQL_PriorErrorFedBack(t *testing.T) {
	primary := &mockClient{Response: `{"sql": "SELECT 1", "explanation": ""}`}
	svc, _ := New(Config{Primary: primary, Auxiliary: &mockClient{}})

	_, err := svc.GenerateSQL(context.Background(), pipeline.GenerateRequest{
		Question:      "list projects",
		SchemaContext: "schema",
		PriorError:    `Table "Users" is not in the allowed schema domains`,
	})
	require.NoError(t, err)

	user := userContent(primary.LastMessages)
	assert.Contains(t, user, `Table "Users" is not in the allowed schema domains`)
	assert.Contains(t, user, "corrected query")
}

func TestGenerateSQL_NoPriorErrorSection(t *testing.T) {
	primary := &mockClient{Response: `{"sql": "SELECT 1", "explanation": ""}`}
	svc, _ := New(Config{Primary: primary, Auxiliary: &mockClient{}})

	_, err := svc.GenerateSQL(context.Background(), pipeline.GenerateRequest{
		Question:      "list projects",
		SchemaContext: "schema",
	})
	require.NoError(t, err)
	assert.NotContains(t, userContent(primary.LastMessages), "rejected")
}

func TestGenerateSQL_SalvagesSQLFence(t *testing.T) {
	primary := &mockClient{Response: "Here is the query:\n```sql\nSELECT \"Id\" FROM \"Projects\"\n```\nLet me know if you need more."}
	svc, _ := New(Config{Primary: primary, Auxiliary: &mockClient{}})

	draft, err := svc.GenerateSQL(context.Background(), pipeline.GenerateRequest{Question: "q", SchemaContext: "s"})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "Id" FROM "Projects"`, draft.SQL)
}

func TestGenerateSQL_SalvagesBareSelect(t *testing.T) {
	primary := &mockClient{Response: "SELECT COUNT(*) FROM \"EntryLines\""}
	svc, _ := New(Config{Primary: primary, Auxiliary: &mockClient{}})

	draft, err := svc.GenerateSQL(context.Background(), pipeline.GenerateRequest{Question: "q", SchemaContext: "s"})
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "EntryLines"`, draft.SQL)
}

func TestGenerateSQL_UnrecognizedResponseYieldsEmptyDraft(t *testing.T) {
	primary := &mockClient{Response: "I cannot answer that question from the schema provided."}
	svc, _ := New(Config{Primary: primary, Auxiliary: &mockClient{}})

	draft, err := svc.GenerateSQL(context.Background(), pipeline.GenerateRequest{Question: "q", SchemaContext: "s"})
	require.NoError(t, err)
	assert.Empty(t, draft.SQL)
}

func TestGenerateSQL_ModelErrorPropagates(t *testing.T) {
	primary := &mockClient{Err: errors.New("rate limited")}
	svc, _ := New(Config{Primary: primary, Auxiliary: &mockClient{}})

	_, err := svc.GenerateSQL(context.Background(), pipeline.GenerateRequest{Question: "q", SchemaContext: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

// =============================================================================
// Synthesis
// =============================================================================

func TestSynthesize_StreamsChunksInOrder(t *testing.T) {
	primary := &mockClient{StreamTokens: []string{"Total is ", "$1.2M."}}
	svc, _ := New(Config{Primary: primary, Auxiliary: &mockClient{}})

	var got []string
	err := svc.Synthesize(context.Background(), pipeline.SynthesizeRequest{
		Question: "total budget?",
		History: []datatypes.Turn{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
			{Role: "tool", Content: "ignored"},
		},
		SQL: `SELECT SUM("Amount") FROM "EntryLines"`,
		Result: datatypes.QueryResult{
			Columns:  []string{"sum"},
			Rows:     []map[string]any{{"sum": 1200000}},
			RowCount: 1,
		},
	}, func(delta string) error {
		got = append(got, delta)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Total is ", "$1.2M."}, got)

	assert.Contains(t, systemContent(primary.LastMessages), "You are Procast AI")
	user := userContent(primary.LastMessages)
	assert.Contains(t, user, "**User Question:** total budget?")
	assert.Contains(t, user, `SELECT SUM("Amount") FROM "EntryLines"`)
	assert.Contains(t, user, `"sum":1200000`)

	// system + 2 history turns + final user message; tool turn dropped
	assert.Len(t, primary.LastMessages, 4)
}

func TestSynthesize_TruncatesRowsForPrompt(t *testing.T) {
	primary := &mockClient{StreamTokens: []string{"ok"}}
	svc, _ := New(Config{Primary: primary, Auxiliary: &mockClient{}})

	rows := make([]map[string]any, 80)
	for i := range rows {
		rows[i] = map[string]any{"n": i}
	}

	err := svc.Synthesize(context.Background(), pipeline.SynthesizeRequest{
		Question: "q",
		SQL:      "SELECT 1",
		Result:   datatypes.QueryResult{Rows: rows, RowCount: 80},
	}, func(string) error { return nil })
	require.NoError(t, err)

	user := userContent(primary.LastMessages)
	assert.Contains(t, user, `{"n":49}`)
	assert.NotContains(t, user, `{"n":50}`)
}

func TestSynthesize_DeltaErrorAborts(t *testing.T) {
	primary := &mockClient{StreamTokens: []string{"a", "b", "c"}}
	svc, _ := New(Config{Primary: primary, Auxiliary: &mockClient{}})

	abort := errors.New("consumer gone")
	calls := 0
	err := svc.Synthesize(context.Background(), pipeline.SynthesizeRequest{
		Question: "q", SQL: "SELECT 1",
		Result: datatypes.QueryResult{Rows: []map[string]any{{"x": 1}}, RowCount: 1},
	}, func(string) error {
		calls++
		return abort
	})
	require.ErrorIs(t, err, abort)
	assert.Equal(t, 1, calls)
}

// =============================================================================
// History Formatting
// =============================================================================

func TestFormatHistory_CapsAndCapitalizes(t *testing.T) {
	history := make([]datatypes.Turn, 0, 14)
	for i := 0; i < 14; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history = append(history, datatypes.Turn{Role: role, Content: strings.Repeat("x", i+1)})
	}

	formatted := formatHistory(history, 10)
	lines := strings.Split(formatted, "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, "User: xxxxx", lines[0])
	assert.True(t, strings.HasPrefix(lines[9], "Assistant: "))
}
