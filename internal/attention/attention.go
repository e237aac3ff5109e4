// Package attention implements C10, the Attention-Sink Compressor: a
// StreamingLLM-style context reducer that keeps a short leading sink, a
// recent trailing window, and replaces everything in between with a
// cheap extractive summary. Grounded directly on the original
// attention_sink.rs (sink/window split, chunked extractive
// summarization, labeled-section prompt formatting). Pure Go: the
// component trusts a heuristic word-count tokenizer and never looks
// inside messages semantically.
package attention

import (
	"math"
	"strings"
)

// Config holds the compressor's tunable constants.
type Config struct {
	SinkSize         int
	WindowSize       int
	ChunkSize        int
	MaxContextTokens int
}

// DefaultConfig returns the spec-pinned defaults.
func DefaultConfig() Config {
	return Config{SinkSize: 4, WindowSize: 4000, ChunkSize: 2000, MaxContextTokens: 32768}
}

// Managed is the result of compressing a context.
type Managed struct {
	Sink                string
	CompressedMiddle    string
	Window              string
	TotalOriginalTokens int
	CompressedTokens    int
	CompressionRatio    float64
	RequiresCompression bool
}

// Compressor applies the attention-sink pattern to oversized contexts.
type Compressor struct {
	cfg Config
}

// New returns a Compressor with the given configuration.
func New(cfg Config) *Compressor {
	return &Compressor{cfg: cfg}
}

// EstimateTokens approximates a token count from whitespace-split words.
func EstimateTokens(text string) int {
	words := strings.Fields(text)
	return int(math.Ceil(float64(len(words)) * 1.3))
}

// NeedsCompression reports whether tokenCount exceeds the configured budget.
func (c *Compressor) NeedsCompression(tokenCount int) bool {
	return tokenCount > c.cfg.MaxContextTokens
}

// Manage splits fullContext into messages on blank-line boundaries and,
// if it exceeds MaxContextTokens, reduces it to a sink, a compressed
// middle, and a recent window. Contexts within budget pass through
// untouched as the window.
func (c *Compressor) Manage(fullContext string) Managed {
	estimated := EstimateTokens(fullContext)

	if !c.NeedsCompression(estimated) {
		return Managed{
			Window:              fullContext,
			TotalOriginalTokens: estimated,
			CompressedTokens:    estimated,
			CompressionRatio:    1.0,
			RequiresCompression: false,
		}
	}

	messages := strings.Split(fullContext, "\n\n")

	sinkCount := c.cfg.SinkSize
	if sinkCount > len(messages) {
		sinkCount = len(messages)
	}
	sink := strings.Join(messages[:sinkCount], "\n\n")

	windowCount := c.messageCountForTokens(messages, c.cfg.WindowSize)
	recentStart := len(messages) - windowCount
	if recentStart < sinkCount {
		recentStart = sinkCount
	}
	window := strings.Join(messages[recentStart:], "\n\n")

	var compressedMiddle string
	if recentStart > sinkCount {
		compressedMiddle = c.compressMiddle(messages[sinkCount:recentStart])
	}

	sinkTokens := EstimateTokens(sink)
	middleTokens := EstimateTokens(compressedMiddle)
	windowTokens := EstimateTokens(window)
	compressedTotal := sinkTokens + middleTokens + windowTokens

	return Managed{
		Sink:                sink,
		CompressedMiddle:    compressedMiddle,
		Window:              window,
		TotalOriginalTokens: estimated,
		CompressedTokens:    compressedTotal,
		CompressionRatio:    float64(compressedTotal) / float64(estimated),
		RequiresCompression: true,
	}
}

// middleGroupSize is how many messages go into each extractive summary,
// independent of ChunkSize: the original compresses by message count,
// not by re-estimating tokens per group.
const middleGroupSize = 10

func (c *Compressor) compressMiddle(messages []string) string {
	if len(messages) == 0 {
		return ""
	}
	var chunks []string
	for start := 0; start < len(messages); start += middleGroupSize {
		end := start + middleGroupSize
		if end > len(messages) {
			end = len(messages)
		}
		group := strings.Join(messages[start:end], "\n")
		chunks = append(chunks, summarizeChunk(group))
	}
	return strings.Join(chunks, "\n\n[...]\n\n")
}

// summarizeChunk extracts the first, median, and last line of a chunk
// as a stand-in for abstractive summarization, which is the external
// generator's job.
func summarizeChunk(chunk string) string {
	lines := strings.Split(chunk, "\n")
	if len(lines) <= 3 {
		return chunk
	}
	first := lines[0]
	median := lines[len(lines)/2]
	last := lines[len(lines)-1]
	return "[Summary] " + strings.Join([]string{first, median, last}, " ... ")
}

// messageCountForTokens walks messages from the end, accumulating
// tokens, and returns how many fit within targetTokens without
// exceeding it. Always returns at least 1 when messages is non-empty.
func (c *Compressor) messageCountForTokens(messages []string, targetTokens int) int {
	total := 0
	count := 0
	for i := len(messages) - 1; i >= 0; i-- {
		tokens := EstimateTokens(messages[i])
		if total+tokens > targetTokens {
			break
		}
		total += tokens
		count++
	}
	if count < 1 && len(messages) > 0 {
		count = 1
	}
	return count
}

// FormatForPrompt renders a Managed context into the labeled sections
// the prompt assembler appends, matching the original's
// format_for_prompt layout exactly.
func FormatForPrompt(m Managed) string {
	var out strings.Builder
	if m.Sink != "" {
		out.WriteString("=== Conversation Start ===\n")
		out.WriteString(m.Sink)
		out.WriteString("\n\n")
	}
	if m.CompressedMiddle != "" {
		out.WriteString("=== Earlier Context (Summarized) ===\n")
		out.WriteString(m.CompressedMiddle)
		out.WriteString("\n\n")
	}
	out.WriteString("=== Recent Conversation ===\n")
	out.WriteString(m.Window)
	return out.String()
}
