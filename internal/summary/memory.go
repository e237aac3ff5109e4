package summary

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu        sync.RWMutex
	messages  map[string][]Message // conversationID -> chronological messages
	summaries map[string]Summary
}

// NewMemory returns an in-memory Store, suitable for tests and for
// running without a configured relational backend.
func NewMemory() Store {
	return &memoryStore{
		messages:  make(map[string][]Message),
		summaries: make(map[string]Summary),
	}
}

func (s *memoryStore) AppendMessage(_ context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return msg, nil
}

func (s *memoryStore) GetContext(_ context.Context, conversationID string) (Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[conversationID]
	total := len(all)

	recentStart := total - RecentMessages
	if recentStart < 0 {
		recentStart = 0
	}
	recent := make([]Message, total-recentStart)
	copy(recent, all[recentStart:])

	var summaryText *string
	if summ, ok := s.summaries[conversationID]; ok {
		text := summ.SummaryText
		summaryText = &text
	}

	return Context{Summary: summaryText, Recent: recent, TotalMessages: total}, nil
}

func (s *memoryStore) NeedsSummarization(_ context.Context, conversationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[conversationID]) >= SummarizeThreshold, nil
}

func (s *memoryStore) MessagesForSummary(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[conversationID]
	if len(all) <= RecentMessages {
		return []Message{}, nil
	}
	cut := len(all) - RecentMessages
	out := make([]Message, cut)
	copy(out, all[:cut])
	return out, nil
}

func (s *memoryStore) CreateSummary(_ context.Context, conversationID, summaryText string, messagesSummarized int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[conversationID] = Summary{
		ConversationID: conversationID, SummaryText: summaryText,
		MessagesSummarized: messagesSummarized, LastUpdated: time.Now().UTC(),
	}
	return nil
}

func (s *memoryStore) GetSummary(_ context.Context, conversationID string) (Summary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summ, ok := s.summaries[conversationID]
	return summ, ok, nil
}

func (s *memoryStore) DeleteSummary(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.summaries, conversationID)
	return nil
}
