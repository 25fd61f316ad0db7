package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Bridge is the conversation surface the adjudicator posts through. Methods
// take the caller's transaction so notifications commit together with the
// ruling they announce.
type Bridge interface {
	FindOrCreateDirect(ctx context.Context, tx pgx.Tx, userA, userB, context string) (string, error)
	PostSystemMessage(ctx context.Context, tx pgx.Tx, conversationID, body string) error
}

// PGBridge stores conversations and messages in PostgreSQL.
type PGBridge struct{}

func NewBridge() *PGBridge {
	return &PGBridge{}
}

// FindOrCreateDirect returns the direct conversation between the two users,
// creating it if absent. Participants are ordered lexically before the lookup
// so both call orders hit the same row. When a concurrent caller wins the
// insert race, the unique violation is treated as "already created" and the
// lookup is retried instead of failing the operation.
func (b *PGBridge) FindOrCreateDirect(ctx context.Context, tx pgx.Tx, userA, userB, convContext string) (string, error) {
	if userA == userB {
		return "", fmt.Errorf("chat: conversation needs two distinct users")
	}
	if userB < userA {
		userA, userB = userB, userA
	}

	id, err := b.findDirect(ctx, tx, userA, userB, convContext)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("chat: find conversation: %w", err)
	}

	// The insert runs under a savepoint: a unique violation must not poison
	// the caller's transaction, which still has the ruling to commit.
	sp, err := tx.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("chat: savepoint: %w", err)
	}
	err = sp.QueryRow(ctx, `
		INSERT INTO conversations (user_a, user_b, context)
		VALUES ($1, $2, $3)
		RETURNING id
	`, userA, userB, convContext).Scan(&id)
	if err == nil {
		if err := sp.Commit(ctx); err != nil {
			return "", fmt.Errorf("chat: release savepoint: %w", err)
		}
		return id, nil
	}
	_ = sp.Rollback(ctx)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		id, err = b.findDirect(ctx, tx, userA, userB, convContext)
		if err != nil {
			return "", fmt.Errorf("chat: refetch conversation after conflict: %w", err)
		}
		return id, nil
	}
	return "", fmt.Errorf("chat: create conversation: %w", err)
}

func (b *PGBridge) findDirect(ctx context.Context, tx pgx.Tx, userA, userB, convContext string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		SELECT id FROM conversations
		WHERE user_a = $1 AND user_b = $2 AND context = $3
	`, userA, userB, convContext).Scan(&id)
	return id, err
}

// PostSystemMessage appends a platform-authored message to the conversation.
func (b *PGBridge) PostSystemMessage(ctx context.Context, tx pgx.Tx, conversationID, body string) error {
	if body == "" {
		return fmt.Errorf("chat: empty message body")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (conversation_id, sender_kind, sender_user_id, body)
		VALUES ($1, $2, NULL, $3)
	`, conversationID, string(SenderSystem), body); err != nil {
		return fmt.Errorf("chat: post system message: %w", err)
	}
	return nil
}

// PostUserMessage appends a participant-authored message.
func (b *PGBridge) PostUserMessage(ctx context.Context, tx pgx.Tx, conversationID, senderUserID, body string) error {
	if body == "" {
		return fmt.Errorf("chat: empty message body")
	}
	if senderUserID == "" {
		return fmt.Errorf("chat: sender required")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (conversation_id, sender_kind, sender_user_id, body)
		VALUES ($1, $2, $3, $4)
	`, conversationID, string(SenderUser), senderUserID, body); err != nil {
		return fmt.Errorf("chat: post message: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages in posting order.
func (b *PGBridge) ListMessages(ctx context.Context, tx pgx.Tx, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := tx.Query(ctx, `
		SELECT id, conversation_id, sender_kind, COALESCE(sender_user_id::text, ''), body, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var kind string
		if err := rows.Scan(&m.ID, &m.ConversationID, &kind, &m.Sender.UserID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		m.Sender.Kind = SenderKind(kind)
		if m.Sender.Kind == SenderSystem {
			m.Sender = SystemSender
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
