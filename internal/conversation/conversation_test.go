package conversation

import (
	"context"
	"testing"
)

func TestAppendTurnAdvancesMessageCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	conv, err := s.CreateConversation(ctx, ModeUserLed)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	updated, err := s.AppendTurn(ctx, conv.ID, Message{Role: RoleUser, Content: "hi"}, Message{Role: RoleAssistant, Content: "hello"})
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if updated.MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2", updated.MessageCount)
	}

	msgs, err := s.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != updated.MessageCount {
		t.Fatalf("len(Messages) = %d, want MessageCount %d", len(msgs), updated.MessageCount)
	}
}

func TestAppendTurnUnknownConversationFails(t *testing.T) {
	s := NewMemory()
	if _, err := s.AppendTurn(context.Background(), "missing", Message{Role: RoleUser}, Message{Role: RoleAssistant}); err != ErrNotFound {
		t.Fatalf("AppendTurn() error = %v, want ErrNotFound", err)
	}
}

func TestMultipleTurnsAccumulateMessageCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	conv, _ := s.CreateConversation(ctx, ModeUserLed)
	for i := 0; i < 3; i++ {
		var err error
		conv, err = s.AppendTurn(ctx, conv.ID, Message{Role: RoleUser, Content: "q"}, Message{Role: RoleAssistant, Content: "a"})
		if err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}
	if conv.MessageCount != 6 {
		t.Fatalf("MessageCount = %d, want 6", conv.MessageCount)
	}
	msgs, _ := s.Messages(ctx, conv.ID)
	if len(msgs) != 6 {
		t.Fatalf("len(Messages) = %d, want 6", len(msgs))
	}
}

func TestDeleteConversationRemovesMessages(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	conv, _ := s.CreateConversation(ctx, ModeUserLed)
	s.AppendTurn(ctx, conv.ID, Message{Role: RoleUser, Content: "hi"}, Message{Role: RoleAssistant, Content: "hello"})
	if err := s.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	msgs, err := s.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected cascaded delete, got %d messages", len(msgs))
	}
}
