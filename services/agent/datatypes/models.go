package datatypes

import "time"

// Intent is the classified purpose of a user message.
type Intent string

const (
	// IntentDBQuery means the question needs data from the database.
	IntentDBQuery Intent = "db_query"

	// IntentGeneralInfo means the question is about the assistant's
	// capabilities and can be answered from the schema summary.
	IntentGeneralInfo Intent = "general_info"

	// IntentClarify means the question is too vague to act on.
	IntentClarify Intent = "clarify"

	// IntentFriendlyChat means the message is small talk.
	IntentFriendlyChat Intent = "friendly_chat"
)

// Valid reports whether the intent is one the pipeline understands.
func (i Intent) Valid() bool {
	switch i {
	case IntentDBQuery, IntentGeneralInfo, IntentClarify, IntentFriendlyChat:
		return true
	}
	return false
}

// Classification is the structured result of intent classification.
type Classification struct {
	Intent                 Intent   `json:"intent"`
	Confidence             float64  `json:"confidence"`
	RequiresDBQuery        bool     `json:"requires_db_query"`
	ClarificationQuestions []string `json:"clarification_questions,omitempty"`
}

// SQLDraft is one generated query candidate plus the model's explanation
// of what it computes.
type SQLDraft struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation,omitempty"`
}

// QueryResult is the outcome of a successfully executed query.
type QueryResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated,omitempty"`
	Duration  time.Duration    `json:"-"`
}

// Analysis is the structured interpretation of query results.
type Analysis struct {
	Analysis        string  `json:"analysis"`
	Recommendations string  `json:"recommendations,omitempty"`
	Confidence      float64 `json:"confidence"`
}

// PersonScope carries the identity used for row-level security scoping.
// An empty PersonID means the session runs unscoped and RLS denies all
// table access.
type PersonScope struct {
	PersonID  string `json:"person_id,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Turn is one prior message given to the language service as context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AgentResult is the final outcome of one pipeline run, used for event
// logging and for the legacy non-streaming surfaces.
type AgentResult struct {
	Response        string   `json:"response"`
	Intent          Intent   `json:"intent"`
	Domains         []string `json:"selected_domains,omitempty"`
	SQL             string   `json:"sql_query,omitempty"`
	SQLExplanation  string   `json:"sql_explanation,omitempty"`
	RowCount        int      `json:"row_count"`
	Confidence      float64  `json:"confidence,omitempty"`
	Recommendations string   `json:"recommendations,omitempty"`
	SessionID       string   `json:"session_id,omitempty"`
	LLMCalls        int      `json:"total_llm_calls"`
	DBQueries       int      `json:"total_db_queries"`
	Rejections      int      `json:"sql_rejections,omitempty"`
}
