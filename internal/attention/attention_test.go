package attention

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateTokensUsesWordCountHeuristic(t *testing.T) {
	tokens := EstimateTokens("Hello world, this is a test message.")
	require.Equal(t, 10, tokens) // 7 words * 1.3 = 9.1, ceil -> 10
}

func TestNeedsCompression(t *testing.T) {
	c := New(DefaultConfig())
	require.False(t, c.NeedsCompression(1000))
	require.False(t, c.NeedsCompression(30000))
	require.True(t, c.NeedsCompression(35000))
}

func TestManageSmallContextPassesThroughUntouched(t *testing.T) {
	c := New(DefaultConfig())
	small := "User: Hello\n\nAssistant: Hi there!"

	got := c.Manage(small)

	require.False(t, got.RequiresCompression)
	require.Equal(t, small, got.Window)
	require.Empty(t, got.Sink)
	require.Empty(t, got.CompressedMiddle)
	require.Equal(t, 1.0, got.CompressionRatio)
}

func buildLongContext(n int) string {
	messages := make([]string, n)
	for i := 0; i < n; i++ {
		messages[i] = fmt.Sprintf("User: Message %d\nAssistant: Response %d", i, i)
	}
	return strings.Join(messages, "\n\n")
}

func TestManageLargeContextCompressesMiddle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContextTokens = 100
	cfg.WindowSize = 50
	c := New(cfg)

	large := buildLongContext(50)
	got := c.Manage(large)

	require.True(t, got.RequiresCompression)
	require.NotEmpty(t, got.Sink)
	require.NotEmpty(t, got.Window)
	require.NotEmpty(t, got.CompressedMiddle)
	require.Less(t, got.CompressedTokens, got.TotalOriginalTokens)
	require.Less(t, got.CompressionRatio, 1.0)
}

func TestManageSinkIsExactlyFirstSinkSizeMessages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContextTokens = 100
	c := New(cfg)

	large := buildLongContext(50)
	got := c.Manage(large)

	messages := strings.Split(large, "\n\n")
	want := strings.Join(messages[:cfg.SinkSize], "\n\n")
	require.Equal(t, want, got.Sink)
}

func TestManageWindowEndsWithTheMostRecentMessage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContextTokens = 100
	cfg.WindowSize = 50
	c := New(cfg)

	got := c.Manage(buildLongContext(50))
	require.True(t, strings.HasSuffix(got.Window, "Response 49"))
}

func TestSummarizeChunkExtractsFirstMedianLast(t *testing.T) {
	chunk := "line one\nline two\nline three\nline four\nline five"
	got := summarizeChunk(chunk)

	require.Contains(t, got, "[Summary]")
	require.Contains(t, got, "line one")
	require.Contains(t, got, "line three")
	require.Contains(t, got, "line five")
}

func TestSummarizeChunkReturnsShortChunkUnchanged(t *testing.T) {
	chunk := "line one\nline two"
	require.Equal(t, chunk, summarizeChunk(chunk))
}

func TestFormatForPromptLabelsEachSection(t *testing.T) {
	m := Managed{
		Sink:             "User: Hello",
		CompressedMiddle: "[Summary] Previous conversation",
		Window:           "User: What's the weather?",
	}

	formatted := FormatForPrompt(m)

	require.Contains(t, formatted, "=== Conversation Start ===")
	require.Contains(t, formatted, "=== Earlier Context (Summarized) ===")
	require.Contains(t, formatted, "=== Recent Conversation ===")
	require.Contains(t, formatted, "Hello")
	require.Contains(t, formatted, "Previous conversation")
	require.Contains(t, formatted, "weather")
}

func TestFormatForPromptOmitsEmptySections(t *testing.T) {
	m := Managed{Window: "just the window"}
	formatted := FormatForPrompt(m)

	require.NotContains(t, formatted, "Conversation Start")
	require.NotContains(t, formatted, "Summarized")
	require.Contains(t, formatted, "=== Recent Conversation ===")
}
