package conversation

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
// exists, matching spec.md §6's conversations/messages tables
// (cascade delete from conversations to messages).
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    mode TEXT NOT NULL CHECK (mode IN ('user-led','ai-led')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    message_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user','assistant','system')),
    content TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    tokens INTEGER,
    context_level INTEGER CHECK (context_level IN (1,2,3)),
    satisfaction TEXT CHECK (satisfaction IN ('positive','negative'))
);
CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS messages_timestamp_idx ON messages(timestamp DESC);
`)
	if err != nil {
		return nil, err
	}
	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) CreateConversation(ctx context.Context, mode Mode) (Conversation, error) {
	conv := Conversation{ID: uuid.NewString(), Mode: mode}
	row := s.pool.QueryRow(ctx, `
INSERT INTO conversations (id, mode) VALUES ($1, $2)
RETURNING id, mode, created_at, updated_at, message_count`, conv.ID, string(mode))
	return scanConversation(row)
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var conv Conversation
	var mode string
	if err := row.Scan(&conv.ID, &mode, &conv.CreatedAt, &conv.UpdatedAt, &conv.MessageCount); err != nil {
		return Conversation{}, err
	}
	conv.Mode = Mode(mode)
	return conv, nil
}

func (s *postgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, mode, created_at, updated_at, message_count FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return conv, err
}

// AppendTurn wraps the user+assistant insert and the message_count
// bump in a single transaction: either both messages land and the
// counter advances by two, or nothing is written at all.
func (s *postgresStore) AppendTurn(ctx context.Context, conversationID string, userMsg, assistantMsg Message) (Conversation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Conversation{}, err
	}
	defer tx.Rollback(ctx)

	for _, msg := range []*Message{&userMsg, &assistantMsg} {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now().UTC()
		}
		msg.ConversationID = conversationID
		var contextLevel any
		if msg.ContextLevel != nil {
			contextLevel = int(*msg.ContextLevel)
		}
		var satisfaction any
		if msg.Satisfaction != nil {
			satisfaction = *msg.Satisfaction
		}
		var tokens any
		if msg.Tokens != nil {
			tokens = *msg.Tokens
		}
		_, err := tx.Exec(ctx, `
INSERT INTO messages (id, conversation_id, role, content, timestamp, tokens, context_level, satisfaction)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			msg.ID, conversationID, string(msg.Role), msg.Content, msg.Timestamp, tokens, contextLevel, satisfaction)
		if err != nil {
			return Conversation{}, err
		}
	}

	row := tx.QueryRow(ctx, `
UPDATE conversations
SET message_count = message_count + 2, updated_at = NOW()
WHERE id = $1
RETURNING id, mode, created_at, updated_at, message_count`, conversationID)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

func (s *postgresStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, conversation_id, role, content, timestamp, tokens, context_level, satisfaction
FROM messages WHERE conversation_id = $1 ORDER BY timestamp ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		var role string
		var tokens *int
		var contextLevel *int
		var satisfaction *string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Timestamp, &tokens, &contextLevel, &satisfaction); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		m.Tokens = tokens
		if contextLevel != nil {
			cl := ContextLevel(*contextLevel)
			m.ContextLevel = &cl
		}
		m.Satisfaction = satisfaction
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *postgresStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return err
}
