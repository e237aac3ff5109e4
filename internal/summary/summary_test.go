package summary

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetContextOnEmptyConversation(t *testing.T) {
	store := NewMemory()
	ctx, err := store.GetContext(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, 0, ctx.TotalMessages)
	require.Empty(t, ctx.Recent)
	require.Nil(t, ctx.Summary)
}

func appendN(t *testing.T, store Store, convID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := store.AppendMessage(context.Background(), Message{ConversationID: convID, Role: "user", Content: "msg"})
		require.NoError(t, err)
	}
}

func TestGetContextReturnsLastRecentMessagesChronologically(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		_, err := store.AppendMessage(ctx, Message{ConversationID: "conv-1", Role: "user", Content: string(rune('a' + i))})
		require.NoError(t, err)
	}

	got, err := store.GetContext(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, 15, got.TotalMessages)
	require.Len(t, got.Recent, RecentMessages)
	require.Equal(t, "f", got.Recent[0].Content) // messages 0-4 are dropped, so recent starts at 'f'
	require.Equal(t, "o", got.Recent[len(got.Recent)-1].Content)
}

func TestNeedsSummarizationThreshold(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	appendN(t, store, "conv-1", SummarizeThreshold-1)
	needs, err := store.NeedsSummarization(ctx, "conv-1")
	require.NoError(t, err)
	require.False(t, needs)

	appendN(t, store, "conv-1", 1)
	needs, err = store.NeedsSummarization(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, needs)
}

func TestMessagesForSummaryExcludesRecentTail(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	appendN(t, store, "conv-1", 25)

	msgs, err := store.MessagesForSummary(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 15)
}

func TestMessagesForSummaryEmptyWhenBelowRecentCount(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	appendN(t, store, "conv-1", 3)

	msgs, err := store.MessagesForSummary(ctx, "conv-1")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestCreateSummaryUpsertsInPlace(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	require.NoError(t, store.CreateSummary(ctx, "conv-1", "first", 10))
	require.NoError(t, store.CreateSummary(ctx, "conv-1", "second", 20))

	summ, ok, err := store.GetSummary(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", summ.SummaryText)
	require.Equal(t, 20, summ.MessagesSummarized)
}

func TestDeleteSummaryRemovesIt(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	require.NoError(t, store.CreateSummary(ctx, "conv-1", "text", 10))
	require.NoError(t, store.DeleteSummary(ctx, "conv-1"))

	_, ok, err := store.GetSummary(ctx, "conv-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFormatContextForLLM(t *testing.T) {
	summaryText := "User asked about Rust programming."
	c := Context{
		Summary: &summaryText,
		Recent: []Message{
			{Role: "user", Content: "What is ownership?"},
			{Role: "assistant", Content: "Ownership is Rust's memory management system."},
		},
		TotalMessages: 12,
	}
	out := FormatContextForLLM(c)
	require.Contains(t, out, "Previous conversation summary:")
	require.Contains(t, out, summaryText)
	require.Contains(t, out, "Recent messages:")
	require.Contains(t, out, "user: What is ownership?")
	require.Contains(t, out, "assistant: Ownership is Rust's memory management system.")
}
