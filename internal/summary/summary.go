// Package summary implements C9, the Summary Buffer: retrieval,
// eligibility, and storage discipline for the conversation
// summary-buffer-memory pattern (recent messages in full, older
// messages folded into a rolling summary). Grounded directly on the
// original conversation_memory.rs (MAX_RECENT_MESSAGES/
// SUMMARIZE_THRESHOLD constants, get_context/needs_summarization/
// messages_for_summary/create_summary upsert semantics,
// format_context_for_llm's labeled sections) and restyled after the
// teacher's chat_store_postgres.go session+message table pair.
// The summary text itself is produced by the external generator; this
// package only decides when summarization is due and what to hand the
// generator or the prompt assembler.
package summary

import (
	"context"
	"time"
)

// RecentMessages is how many trailing messages stay in full detail.
const RecentMessages = 10

// SummarizeThreshold is the total message count at which a
// conversation becomes eligible for summarization.
const SummarizeThreshold = 20

// Message is one turn in a conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           string // "user" or "assistant"
	Content        string
	CreatedAt      time.Time
}

// Summary is the rolling summary of a conversation's older messages.
type Summary struct {
	ConversationID     string
	SummaryText        string
	MessagesSummarized int
	LastUpdated        time.Time
}

// Context is what C12 hands to the prompt assembler: the rolling
// summary (if any) plus the most recent messages in chronological
// order.
type Context struct {
	Summary        *string
	Recent         []Message
	TotalMessages  int
}

// Store is the summary-buffer persistence contract shared by every backend.
type Store interface {
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	GetContext(ctx context.Context, conversationID string) (Context, error)
	NeedsSummarization(ctx context.Context, conversationID string) (bool, error)
	// MessagesForSummary returns every message except the last
	// RecentMessages, in chronological order.
	MessagesForSummary(ctx context.Context, conversationID string) ([]Message, error)
	// CreateSummary upserts the rolling summary for a conversation.
	CreateSummary(ctx context.Context, conversationID, summaryText string, messagesSummarized int) error
	GetSummary(ctx context.Context, conversationID string) (Summary, bool, error)
	DeleteSummary(ctx context.Context, conversationID string) error
}

// FormatContextForLLM renders a Context into the labeled-section text
// block the system prompt assembler appends, matching the original's
// format_context_for_llm layout exactly.
func FormatContextForLLM(ctx Context) string {
	var out string
	if ctx.Summary != nil {
		out += "**Previous conversation summary:**\n"
		out += *ctx.Summary
		out += "\n\n"
	}
	if len(ctx.Recent) > 0 {
		out += "**Recent messages:**\n"
		for _, msg := range ctx.Recent {
			out += msg.Role + ": " + msg.Content + "\n"
		}
	}
	return out
}
