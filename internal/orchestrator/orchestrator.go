// Package orchestrator implements C12, the Pipeline Orchestrator: it
// sequences a single conversational turn through context assembly,
// retrieval, optional compression, generation, and post-store, per
// spec.md §4.11. Grounded directly on the original conversation
// pipeline (src-tauri/src/commands/ai.rs's turn handler) and restyled
// after the teacher's RunWARPP orchestration idiom
// (internal/agent/warpp.go: errgroup.WithContext fan-out for
// independent sub-tasks, context-result channels) plus the teacher's
// per-session mutex discipline for serializing a single
// conversation's turns while letting independent conversations run
// concurrently.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cortex/internal/attention"
	"cortex/internal/conversation"
	"cortex/internal/coreerr"
	"cortex/internal/episodic"
	"cortex/internal/graph"
	"cortex/internal/hybrid"
	"cortex/internal/llm"
	"cortex/internal/persona"
	"cortex/internal/promptcache"
	"cortex/internal/retention"
	"cortex/internal/summary"
	"cortex/internal/vectorstore"

	"github.com/rs/zerolog/log"
)

// Embedder is the subset of C1 the orchestrator needs to index a new
// episode's text after a successful turn.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config tunes orchestration policy that isn't owned by one of the
// wired components.
type Config struct {
	// RelevantPastLimit bounds how many hybrid-retrieved episodes are
	// formatted into the "relevant past conversations" block.
	RelevantPastLimit int
	// EnableGraphExpansion additionally folds C7 graph retrieval
	// results into the context block when a graph engine is wired.
	EnableGraphExpansion bool
	GenOptions           llm.Options
}

// DefaultConfig returns sane defaults; callers still must wire the
// component dependencies via New.
func DefaultConfig() Config {
	return Config{RelevantPastLimit: 5, EnableGraphExpansion: true, GenOptions: llm.DefaultOptions()}
}

// Orchestrator sequences a turn across every wired component. All
// fields besides the per-conversation mutex map are read-only after
// construction, so Orchestrator is safe for concurrent use across
// distinct conversations; a single conversation's turns are
// serialized internally (spec.md §5).
type Orchestrator struct {
	persona       persona.Store
	summaries     summary.Store
	cache         *promptcache.Cache
	retriever     *hybrid.Retriever
	compressor    *attention.Compressor
	generator     llm.Generator
	conversations conversation.Store
	episodes      episodic.Store
	vectors       vectorstore.VectorStore
	embedder      Embedder
	retentionCtl  *retention.Controller
	graphEngine   *graph.Engine
	cfg           Config
	now           func() time.Time

	turnLocks sync.Map // conversation id -> *sync.Mutex
}

// New wires an Orchestrator. summaries and graphEngine may be nil: a
// nil summary.Store means no rolling-summary context is ever
// assembled, and a nil graph.Engine means EnableGraphExpansion is a
// no-op.
func New(
	personaStore persona.Store,
	summaries summary.Store,
	cache *promptcache.Cache,
	retriever *hybrid.Retriever,
	compressor *attention.Compressor,
	generator llm.Generator,
	conversations conversation.Store,
	episodes episodic.Store,
	vectors vectorstore.VectorStore,
	embedder Embedder,
	retentionCtl *retention.Controller,
	graphEngine *graph.Engine,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		persona: personaStore, summaries: summaries, cache: cache, retriever: retriever,
		compressor: compressor, generator: generator, conversations: conversations,
		episodes: episodes, vectors: vectors, embedder: embedder, retentionCtl: retentionCtl,
		graphEngine: graphEngine, cfg: cfg, now: time.Now,
	}
}

// TurnResult is what a completed turn hands back to the caller.
type TurnResult struct {
	Conversation     conversation.Conversation
	AssistantMessage string
	EpisodeID        string // empty if embedding/episode creation failed
	UsedCachedPrompt bool
	Compressed       bool
	RetrievedCount   int
}

func (o *Orchestrator) lockFor(conversationID string) *sync.Mutex {
	v, _ := o.turnLocks.LoadOrStore(conversationID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// RunTurn executes one conversational turn per spec.md §4.11's
// seven-step sequence: assemble system prompt, consult the prompt
// cache, retrieve via C8, compress via C10 if oversized, generate,
// and on success persist + boost + (maybe) enqueue summarization.
// Turns against the same conversationID are serialized; independent
// conversations proceed concurrently.
func (o *Orchestrator) RunTurn(ctx context.Context, conversationID, userMessage string) (TurnResult, error) {
	lock := o.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := o.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return TurnResult{}, err
	}

	systemPrompt, summaryCtx := o.assembleSystemPrompt(ctx, conversationID)

	contextBlock, retrievedCount := o.retrieveContextBlock(ctx, userMessage)
	if contextBlock != "" {
		systemPrompt += "\n\n" + contextBlock
	}

	fullPrompt := systemPrompt + "\n\nUser: " + userMessage

	usedCache := o.cache != nil && o.cache.Contains(fullPrompt)
	if o.cache != nil && !usedCache {
		o.cache.Put(fullPrompt)
	}

	compressedPrompt := fullPrompt
	compressed := false
	if o.compressor != nil {
		tokens := attention.EstimateTokens(fullPrompt)
		if o.compressor.NeedsCompression(tokens) {
			managed := o.compressor.Manage(fullPrompt)
			compressedPrompt = attention.FormatForPrompt(managed)
			compressed = true
		}
	}

	assistantText, err := o.generator.Generate(ctx, compressedPrompt, o.cfg.GenOptions)
	if err != nil {
		return TurnResult{}, coreerr.New(coreerr.Model, "generate assistant response", err)
	}

	updatedConv, err := o.conversations.AppendTurn(ctx,
		conversationID,
		conversation.Message{Role: conversation.RoleUser, Content: userMessage},
		conversation.Message{Role: conversation.RoleAssistant, Content: assistantText},
	)
	if err != nil {
		return TurnResult{}, err
	}

	episodeID := o.storeEpisodeAndBoost(ctx, userMessage, assistantText)

	if o.summaries != nil {
		for _, m := range []summary.Message{
			{ConversationID: conversationID, Role: "user", Content: userMessage},
			{ConversationID: conversationID, Role: "assistant", Content: assistantText},
		} {
			if _, err := o.summaries.AppendMessage(ctx, m); err != nil {
				log.Warn().Err(err).Str("conversation_id", conversationID).Msg("orchestrator: failed to record message in summary buffer")
			}
		}
		o.maybeEnqueueSummarization(conversationID)
		_ = summaryCtx // summaryCtx already consumed into the prompt; kept for future richer logging
	}

	return TurnResult{
		Conversation:     updatedConv,
		AssistantMessage: assistantText,
		EpisodeID:        episodeID,
		UsedCachedPrompt: usedCache,
		Compressed:       compressed,
		RetrievedCount:   retrievedCount,
	}, nil
}

// assembleSystemPrompt builds step 1: persona tone guidance plus, if a
// summary store is wired, the rolling summary + recent window.
func (o *Orchestrator) assembleSystemPrompt(ctx context.Context, conversationID string) (string, summary.Context) {
	var sb strings.Builder
	sb.WriteString("You are a helpful, privacy-respecting local assistant.")

	if o.persona != nil {
		params, err := o.persona.Get(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("orchestrator: persona lookup failed, using default tone")
			params = persona.Default()
		}
		sb.WriteString("\n\n")
		sb.WriteString(persona.RenderPromptFragment(params))
	}

	var summaryCtx summary.Context
	if o.summaries != nil {
		sc, err := o.summaries.GetContext(ctx, conversationID)
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("orchestrator: summary context lookup failed")
		} else {
			summaryCtx = sc
			if rendered := summary.FormatContextForLLM(sc); rendered != "" {
				sb.WriteString("\n\n")
				sb.WriteString(rendered)
			}
		}
	}

	return sb.String(), summaryCtx
}

// retrieveContextBlock runs step 3: hybrid retrieval (C8), optionally
// widened with graph retrieval (C7), formatted as a labeled block. A
// retrieval failure degrades gracefully to an empty block, per
// spec.md §4.11's error-handling note.
func (o *Orchestrator) retrieveContextBlock(ctx context.Context, userMessage string) (string, int) {
	if o.retriever == nil {
		return "", 0
	}
	results, err := o.retriever.Search(ctx, userMessage)
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: hybrid retrieval failed, continuing without context")
		return "", 0
	}

	limit := o.cfg.RelevantPastLimit
	if limit <= 0 || limit > len(results) {
		limit = len(results)
	}
	results = results[:limit]
	if len(results) == 0 {
		return "", 0
	}

	var sb strings.Builder
	sb.WriteString("=== Relevant Past Conversations ===\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "- %s\n", r.Text)
	}

	if o.cfg.EnableGraphExpansion && o.graphEngine != nil {
		entities, err := o.graphEngine.Retrieve(ctx, userMessage)
		if err != nil {
			log.Warn().Err(err).Msg("orchestrator: graph retrieval failed, continuing without graph context")
		} else if len(entities) > 0 {
			sb.WriteString("=== Related Entities ===\n")
			for _, e := range entities {
				fmt.Fprintf(&sb, "- %s (%s)\n", e.Entity.Name, e.Entity.EntityType)
			}
		}
	}

	return sb.String(), len(results)
}

// storeEpisodeAndBoost runs step 6's write-side: a new Episode with
// default satisfaction, a best-effort Vector Record, and a contextual
// boost task against C5 seeded with the just-completed exchange. An
// embedding failure leaves the episode with no embedding_ref and is
// logged, never surfaced to the caller, per spec.md §4.11.
func (o *Orchestrator) storeEpisodeAndBoost(ctx context.Context, userMessage, assistantText string) string {
	if o.episodes == nil {
		return ""
	}

	ep, err := o.episodes.Create(ctx, episodic.Episode{UserMessage: userMessage, AIResponse: assistantText})
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: episode creation failed")
		return ""
	}

	if o.embedder != nil && o.vectors != nil {
		vecs, embedErr := o.embedder.EmbedBatch(ctx, []string{userMessage + "\n" + assistantText})
		if embedErr != nil {
			log.Warn().Err(embedErr).Str("episode_id", ep.ID).Msg("orchestrator: embedding failed, episode has no embedding_ref")
		} else {
			insertErr := o.vectors.Insert(ctx, []vectorstore.Record{{ID: ep.ID, Text: userMessage + "\n" + assistantText, Vector: vecs[0]}})
			if insertErr != nil {
				log.Warn().Err(insertErr).Str("episode_id", ep.ID).Msg("orchestrator: vector insert failed")
			} else {
				ep.EmbeddingRef = ep.ID
				if updErr := o.episodes.Update(ctx, ep); updErr != nil {
					log.Warn().Err(updErr).Str("episode_id", ep.ID).Msg("orchestrator: failed to record embedding_ref")
				}
			}
		}
	}

	if o.retentionCtl != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if _, err := o.retentionCtl.BoostContextual(gctx, userMessage+"\n"+assistantText); err != nil {
				log.Warn().Err(err).Msg("orchestrator: contextual boost task failed")
			}
			return nil // never propagate: boosting is best-effort
		})
		_ = g.Wait()
	}

	return ep.ID
}

// maybeEnqueueSummarization runs step 7: if the conversation's
// summary-buffer store reports it has crossed the summarization
// threshold, produce and upsert a rolling summary via the generator.
// Runs synchronously today (no background task queue is wired), but
// is isolated in its own function so cmd/cortexd can later dispatch
// it onto a worker pool without touching RunTurn.
func (o *Orchestrator) maybeEnqueueSummarization(conversationID string) {
	ctx := context.Background()
	due, err := o.summaries.NeedsSummarization(ctx, conversationID)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("orchestrator: summarization eligibility check failed")
		return
	}
	if !due {
		return
	}

	messages, err := o.summaries.MessagesForSummary(ctx, conversationID)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("orchestrator: failed to load messages for summary")
		return
	}
	if len(messages) == 0 {
		return
	}

	var transcript strings.Builder
	for _, m := range messages {
		transcript.WriteString(m.Role)
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}
	prompt := "Summarize the following conversation concisely, preserving facts and decisions:\n\n" + transcript.String()

	summaryText, err := o.generator.Generate(ctx, prompt, o.cfg.GenOptions)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("orchestrator: summarization generation failed")
		return
	}

	if err := o.summaries.CreateSummary(ctx, conversationID, summaryText, len(messages)); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("orchestrator: failed to upsert summary")
	}
}
