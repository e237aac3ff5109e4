package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu            sync.Mutex
	conversations map[string]Conversation
	messages      map[string][]Message
	now           func() time.Time
}

// NewMemory returns an in-memory Store.
func NewMemory() Store {
	return &memoryStore{
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
		now:           time.Now,
	}
}

func (s *memoryStore) CreateConversation(_ context.Context, mode Mode) (Conversation, error) {
	now := s.now()
	conv := Conversation{ID: uuid.NewString(), Mode: mode, CreatedAt: now, UpdatedAt: now}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *memoryStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (s *memoryStore) AppendTurn(_ context.Context, conversationID string, userMsg, assistantMsg Message) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, ErrNotFound
	}

	now := s.now()
	if userMsg.ID == "" {
		userMsg.ID = uuid.NewString()
	}
	if userMsg.Timestamp.IsZero() {
		userMsg.Timestamp = now
	}
	userMsg.ConversationID = conversationID
	if assistantMsg.ID == "" {
		assistantMsg.ID = uuid.NewString()
	}
	if assistantMsg.Timestamp.IsZero() {
		assistantMsg.Timestamp = now
	}
	assistantMsg.ConversationID = conversationID

	s.messages[conversationID] = append(s.messages[conversationID], userMsg, assistantMsg)
	conv.MessageCount = len(s.messages[conversationID])
	conv.UpdatedAt = now
	s.conversations[conversationID] = conv
	return conv, nil
}

func (s *memoryStore) Messages(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *memoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}
