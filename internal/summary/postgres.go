package summary

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Postgres-backed Store and ensures its schema
// exists, grounded on the teacher's chat_sessions/chat_messages table
// pair but split per the original's messages/conversation_summaries
// tables (no session/ownership concerns in this component's contract).
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS conversation_messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS conversation_messages_conv_idx ON conversation_messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS conversation_summaries (
    conversation_id TEXT PRIMARY KEY,
    summary_text TEXT NOT NULL,
    messages_summarized INTEGER NOT NULL DEFAULT 0,
    last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
	if err != nil {
		return nil, err
	}
	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO conversation_messages (id, conversation_id, role, content, created_at)
VALUES ($1, $2, $3, $4, $5)`, msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (s *postgresStore) GetContext(ctx context.Context, conversationID string) (Context, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversation_messages WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return Context{}, err
	}

	rows, err := s.pool.Query(ctx, `
SELECT id, conversation_id, role, content, created_at
FROM conversation_messages
WHERE conversation_id = $1
ORDER BY created_at DESC
LIMIT $2`, conversationID, RecentMessages)
	if err != nil {
		return Context{}, err
	}
	defer rows.Close()
	var reversed []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return Context{}, err
		}
		reversed = append(reversed, m)
	}
	if err := rows.Err(); err != nil {
		return Context{}, err
	}
	recent := make([]Message, len(reversed))
	for i, m := range reversed {
		recent[len(reversed)-1-i] = m
	}

	var summaryText *string
	var text string
	err = s.pool.QueryRow(ctx, `SELECT summary_text FROM conversation_summaries WHERE conversation_id = $1`, conversationID).Scan(&text)
	switch {
	case err == nil:
		summaryText = &text
	case errors.Is(err, pgx.ErrNoRows):
		// no summary yet
	default:
		return Context{}, err
	}

	return Context{Summary: summaryText, Recent: recent, TotalMessages: total}, nil
}

func (s *postgresStore) NeedsSummarization(ctx context.Context, conversationID string) (bool, error) {
	var total int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversation_messages WHERE conversation_id = $1`, conversationID).Scan(&total)
	if err != nil {
		return false, err
	}
	return total >= SummarizeThreshold, nil
}

func (s *postgresStore) MessagesForSummary(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, conversation_id, role, content, created_at
FROM conversation_messages
WHERE conversation_id = $1
ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	all := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		all = append(all, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(all) <= RecentMessages {
		return []Message{}, nil
	}
	return all[:len(all)-RecentMessages], nil
}

func (s *postgresStore) CreateSummary(ctx context.Context, conversationID, summaryText string, messagesSummarized int) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO conversation_summaries (conversation_id, summary_text, messages_summarized, last_updated)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (conversation_id) DO UPDATE
SET summary_text = EXCLUDED.summary_text,
    messages_summarized = EXCLUDED.messages_summarized,
    last_updated = NOW()`, conversationID, summaryText, messagesSummarized)
	return err
}

func (s *postgresStore) GetSummary(ctx context.Context, conversationID string) (Summary, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT conversation_id, summary_text, messages_summarized, last_updated
FROM conversation_summaries WHERE conversation_id = $1`, conversationID)
	var summ Summary
	err := row.Scan(&summ.ConversationID, &summ.SummaryText, &summ.MessagesSummarized, &summ.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, err
	}
	return summ, true, nil
}

func (s *postgresStore) DeleteSummary(ctx context.Context, conversationID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM conversation_summaries WHERE conversation_id = $1`, conversationID)
	return err
}
