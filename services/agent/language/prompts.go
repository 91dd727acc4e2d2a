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
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
)

// maxHistoryMessages bounds how much conversation context goes into a
// prompt. Older turns rarely help and they burn tokens.
const maxHistoryMessages = 10

// maxResultRows bounds how many result rows are serialized into the
// synthesis prompt.
const maxResultRows = 50

// classifySystem is static so the provider can cache it across requests.
const classifySystem = `You route questions for Procast AI, a financial analysis assistant for event budget management.

Classify the user's question into exactly one intent:
- "db_query": answering requires querying the budget database
- "general_info": answerable from general knowledge of the system, no data lookup needed
- "clarify": too ambiguous to act on without a follow-up question
- "friendly_chat": a greeting or small talk with no information request

Examples:
"What is our total budget for Q1 events?" is db_query.
"Show me projects that are over budget" is db_query.
"What types of expense categories does Procast support?" is general_info.
"Tell me about the project" is clarify (which project?).
"Hi there!" is friendly_chat.

Respond with ONLY a JSON object, no prose and no code fences:
{"intent": "<db_query|general_info|clarify|friendly_chat>", "confidence": <0.0 to 1.0>, "requires_db_query": <true|false>, "clarification_questions": ["<question to ask the user>"]}

Leave clarification_questions empty unless the intent is "clarify".`

var classifyUserPrompt = prompts.NewPromptTemplate(
	`{{if .history}}Conversation so far:
{{.history}}

{{end}}Question: {{.question}}`,
	[]string{"history", "question"},
)

// sqlSystemPrompt carries the schema context, so it is usually long
// enough to be cache marked by the Anthropic client.
var sqlSystemPrompt = prompts.NewPromptTemplate(
	`You are a SQL expert working with a budget management database for event planning.
Generate ONLY PostgreSQL SELECT statements. Never generate INSERT, UPDATE, DELETE, or DDL.
Always filter by "IsDisabled" = false for soft-deleted records.
Use proper table aliases and explicit column names. Identifiers are case sensitive and must be double quoted.

CRITICAL - Revenue vs Expenses in the "EntryLines" table:
- "IsComputedInverse" = false means EXPENSES/COSTS (positive amounts)
- "IsComputedInverse" = true means REVENUE/INCOME (stored as NEGATIVE amounts)

For budget, cost, or expense questions filter WHERE "IsComputedInverse" = false.
For revenue or income questions filter WHERE "IsComputedInverse" = true and use ABS() for positive values.
For a comprehensive overview, separate expenses and revenue using CASE statements.

WARNING: a raw SUM without an "IsComputedInverse" filter mixes revenue and expenses.

{{.schema}}

Respond with ONLY a JSON object, no prose and no code fences:
{"sql": "<the SELECT query>", "explanation": "<one sentence on what the query does>"}`,
	[]string{"schema"},
)

var sqlUserPrompt = prompts.NewPromptTemplate(
	`{{if .history}}Conversation so far:
{{.history}}

{{end}}Question: {{.question}}{{if .priorError}}

Your previous query was rejected: {{.priorError}}
Generate a corrected query that avoids this problem.{{end}}`,
	[]string{"history", "question", "priorError"},
)

const synthesisSystem = `You are Procast AI, a financial analysis assistant for event budget management.

You have just executed a database query and received results. Your task is to:
1. Analyze the query results
2. Provide clear, actionable insights
3. Highlight any risks or opportunities
4. Make recommendations where appropriate

Be concise but thorough. Use markdown formatting for clarity.
Format numbers with appropriate currency symbols and thousand separators.
If the results seem incomplete or unusual, note your confidence level.`

var synthesisUserPrompt = prompts.NewPromptTemplate(
	"**User Question:** {{.question}}\n\n**SQL Query Executed:**\n```sql\n{{.sql}}\n```\n\n**Query Results:**\n```json\n{{.results}}\n```\n\nPlease analyze these results and provide insights to answer the user's question.",
	[]string{"question", "sql", "results"},
)

// formatHistory renders the most recent turns as "Role: content" lines,
// oldest first.
func formatHistory(history []datatypes.Turn, max int) string {
	if len(history) > max {
		history = history[len(history)-max:]
	}
	lines := make([]string, 0, len(history))
	for _, turn := range history {
		role := turn.Role
		if role != "" {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, turn.Content))
	}
	return strings.Join(lines, "\n")
}
