package message

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Append(ctx context.Context, conversationID, senderID, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	// The timestamp is assigned inside the insert: at least now(), and always
	// one microsecond past the newest message in the conversation. Two appends
	// landing on the same clock tick still get distinct, ordered timestamps.
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		SELECT $1, $2, $3, $4, GREATEST(
			now(),
			COALESCE(
				(SELECT MAX(created_at) FROM messages WHERE conversation_id = $2) + interval '1 microsecond',
				now()
			)
		)
		RETURNING created_at
	`

	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}

	// Two inserts can snapshot the same MAX(created_at) and collide on the
	// (conversation_id, created_at) unique index. A single retry re-reads
	// the max and lands one microsecond later.
	for attempt := 0; ; attempt++ {
		row := s.db.QueryRowContext(ctx, query, msg.ID, conversationID, senderID, content)
		err := row.Scan(&msg.CreatedAt)
		if err == nil {
			return msg, nil
		}
		var pqErr *pq.Error
		if attempt == 0 && errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			continue
		}
		return nil, err
	}
}

func (s *SQLStore) Page(ctx context.Context, conversationID string, before *time.Time, limit int) ([]*Message, error) {
	// The newest `limit` rows before the boundary, flipped back into
	// ascending order for the caller.
	query := `
		SELECT id, conversation_id, sender_id, content, created_at
		FROM (
			SELECT id, conversation_id, sender_id, content, created_at
			FROM messages
			WHERE conversation_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) page
		ORDER BY created_at ASC, id ASC
	`

	var boundary sql.NullTime
	if before != nil {
		boundary = sql.NullTime{Time: *before, Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, query, conversationID, boundary, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]*Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return msgs, nil
}

func (s *SQLStore) LatestTimestamp(ctx context.Context, conversationID string) (time.Time, error) {
	query := `SELECT MAX(created_at) FROM messages WHERE conversation_id = $1`

	var ts sql.NullTime
	row := s.db.QueryRowContext(ctx, query, conversationID)
	if err := row.Scan(&ts); err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

func (s *SQLStore) CountUnread(ctx context.Context, conversationID, userID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1 AND created_at > $2 AND sender_id <> $3
	`

	var count int
	row := s.db.QueryRowContext(ctx, query, conversationID, since, userID)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}
