// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
	"strings"
)

// Canned reply templates for the non-data branches. These are control-flow
// outcomes, not prompts; the language service is never called for them.
const (
	defaultClarification = "Could you please provide more details about what you'd like to know?"

	emptyResultAnalysis = "No data was returned from the query."

	emptyResultRecommendation = "Try rephrasing your question or specifying a different time period or project."

	emptyResultConfidence = 0.3
)

// clarifyReply builds the clarification answer from the classifier's
// follow-up questions.
func clarifyReply(questions []string) string {
	q := strings.TrimSpace(strings.Join(questions, "\n"))
	if q == "" {
		q = defaultClarification
	}
	return "I need a bit more information to help you:\n\n" + q
}

// generalInfoReply builds the capability answer from the database
// summary. The domain list between the DOMAINS: and KEY FACTS markers is
// surfaced; when the summary has no such section a generic line stands in.
func generalInfoReply(summary string) string {
	domains := "- Projects, Budgets, Accounts, Invoices, and more"
	if _, after, found := strings.Cut(summary, "DOMAINS:"); found {
		section, _, _ := strings.Cut(after, "KEY FACTS")
		if s := strings.TrimSpace(section); s != "" {
			domains = s
		}
	}

	return fmt.Sprintf(`I can help you with budget analysis for your Procast events. Here's what I can do:

**Budget Analysis:**
- View project budget summaries
- Identify overspending or at-risk budgets
- Analyze spending by category
- Track budget changes over time
- Compare budgets vs actuals (invoices/POs)

**Available Data Domains:**
%s

Please ask a specific question about your budget data, and I'll query the database to provide insights.`, domains)
}

// emptyResultReply is streamed instead of a synthesis call when the query
// matched no rows.
func emptyResultReply() string {
	return emptyResultAnalysis + "\n\n### Recommendations\n" + emptyResultRecommendation
}

// friendlyReplies maps small-talk categories to canned answers.
var friendlyReplies = map[string]string{
	"greeting":    "Hello! I'm Procast AI, your budget analysis assistant. How can I help you with your event budget data today?",
	"how_are_you": "I'm doing great, thank you for asking! I'm here and ready to help you analyze your budget data. What would you like to know?",
	"thanks":      "You're welcome! If you have any more questions about your budget data, feel free to ask.",
	"goodbye":     "Goodbye! Feel free to come back anytime you need help with budget analysis.",
	"default":     "Hello! I'm Procast AI, your budget analysis assistant. I can help you analyze project budgets, identify spending patterns, and provide financial insights. What would you like to know about your budget data?",
}

// friendlyReply picks the canned small-talk answer for a message by
// keyword. First match wins; anything unrecognized gets the default.
func friendlyReply(message string) string {
	m := strings.ToLower(strings.TrimSpace(message))

	contains := func(keywords ...string) bool {
		for _, kw := range keywords {
			if strings.Contains(m, kw) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("hi", "hello", "hey", "greetings"):
		return friendlyReplies["greeting"]
	case contains("how are you", "how's it going", "what's up"):
		return friendlyReplies["how_are_you"]
	case contains("thank", "thanks", "appreciate"):
		return friendlyReplies["thanks"]
	case contains("bye", "goodbye", "see you", "later"):
		return friendlyReplies["goodbye"]
	default:
		return friendlyReplies["default"]
	}
}

// lowConfidenceNote is appended to the answer when the run's confidence
// falls below the reporting threshold.
func lowConfidenceNote(confidence float64) string {
	return fmt.Sprintf("\n\n*Note: Confidence level is %.0f%%. Results may be incomplete or require verification.*", confidence*100)
}
