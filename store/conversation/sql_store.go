package conversation

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const selectByDirectKey = `
	SELECT id, is_group, title, created_at
	FROM conversations
	WHERE direct_key = $1
`

func (s *SQLStore) GetOrCreateDirect(ctx context.Context, userA, userB string) (*Conversation, bool, error) {
	key := DirectKey(userA, userB)

	convo, err := s.scanConversation(s.db.QueryRowContext(ctx, selectByDirectKey, key))
	if err == nil {
		return convo, false, nil
	}
	if err != ErrConversationNotFound {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ON CONFLICT DO NOTHING on the direct_key unique index serializes
	// concurrent calls from both members: the loser inserts nothing and
	// re-reads the winner's row.
	insert := `
		INSERT INTO conversations (id, is_group, direct_key, created_at)
		VALUES ($1, FALSE, $2, $3)
		ON CONFLICT (direct_key) DO NOTHING
		RETURNING id, is_group, title, created_at
	`

	convo, err = s.scanConversation(tx.QueryRowContext(ctx, insert, uuid.NewString(), key, time.Now()))
	if err == ErrConversationNotFound {
		// Lost the race: a concurrent call inserted the pair first.
		existing, lookupErr := s.scanConversation(s.db.QueryRowContext(ctx, selectByDirectKey, key))
		return existing, false, lookupErr
	}
	if err != nil {
		return nil, false, err
	}

	members := []string{userA}
	if userB != userA {
		members = append(members, userB)
	}
	if err = insertMembers(ctx, tx, convo.ID, members, convo.CreatedAt); err != nil {
		return nil, false, err
	}

	if err = tx.Commit(); err != nil {
		return nil, false, err
	}

	return convo, true, nil
}

func (s *SQLStore) CreateGroup(ctx context.Context, creatorID, title string, memberIDs []string) (*Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	convo := &Conversation{
		ID:        uuid.NewString(),
		IsGroup:   true,
		Title:     title,
		CreatedAt: time.Now(),
	}

	insert := `
		INSERT INTO conversations (id, is_group, title, created_at)
		VALUES ($1, TRUE, $2, $3)
	`
	if _, err = tx.ExecContext(ctx, insert, convo.ID, convo.Title, convo.CreatedAt); err != nil {
		return nil, err
	}

	seen := map[string]bool{creatorID: true}
	members := []string{creatorID}
	for _, id := range memberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}

	if err = insertMembers(ctx, tx, convo.ID, members, convo.CreatedAt); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return convo, nil
}

func insertMembers(ctx context.Context, tx *sql.Tx, conversationID string, userIDs []string, joinedAt time.Time) error {
	insert := `
		INSERT INTO conversation_members (conversation_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`
	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, insert, conversationID, userID, joinedAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, is_group, title, created_at
		FROM conversations
		WHERE id = $1
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLStore) Rename(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET title = $2 WHERE id = $1`, id, title)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *SQLStore) AddMembers(ctx context.Context, id string, userIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertMembers(ctx, tx, id, userIDs, time.Now()); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLStore) RemoveMember(ctx context.Context, id, userID string) error {
	query := `DELETE FROM conversation_members WHERE conversation_id = $1 AND user_id = $2`
	res, err := s.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotAMember
	}
	return nil
}

func (s *SQLStore) IsMember(ctx context.Context, id, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM conversation_members
			WHERE conversation_id = $1 AND user_id = $2
		)
	`
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, id, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *SQLStore) MemberIDs(ctx context.Context, id string) ([]string, error) {
	query := `
		SELECT user_id FROM conversation_members
		WHERE conversation_id = $1
		ORDER BY user_id
	`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		ids = append(ids, userID)
	}
	return ids, rows.Err()
}

func (s *SQLStore) Memberships(ctx context.Context, userID string) ([]*Membership, error) {
	query := `
		SELECT conversation_id, user_id, joined_at
		FROM conversation_members
		WHERE user_id = $1
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []*Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ConversationID, &m.UserID, &m.JoinedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, &m)
	}
	return memberships, rows.Err()
}

func (s *SQLStore) ListForUser(ctx context.Context, userID string) ([]*Summary, error) {
	// Display title fallback is resolved in the query: explicit title first,
	// then the 1:1 peer's display name, then a generic label.
	query := `
		SELECT c.id, c.is_group, c.title, c.created_at,
			CASE
				WHEN c.title <> '' THEN c.title
				WHEN c.is_group THEN 'Group'
				ELSE COALESCE(peer.display_name, 'Conversation')
			END AS display_title,
			last.sender_id, last.content, last.created_at,
			COALESCE(last.created_at, c.created_at) AS last_activity
		FROM conversations c
		JOIN conversation_members m ON m.conversation_id = c.id AND m.user_id = $1
		LEFT JOIN LATERAL (
			SELECT u.display_name
			FROM conversation_members pm
			JOIN users u ON u.id = pm.user_id
			WHERE pm.conversation_id = c.id AND pm.user_id <> $1
			LIMIT 1
		) peer ON TRUE
		LEFT JOIN LATERAL (
			SELECT msg.sender_id, msg.content, msg.created_at
			FROM messages msg
			WHERE msg.conversation_id = c.id
			ORDER BY msg.created_at DESC, msg.id DESC
			LIMIT 1
		) last ON TRUE
		ORDER BY COALESCE(last.created_at, c.created_at) DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*Summary
	for rows.Next() {
		var (
			sum       Summary
			sender    sql.NullString
			content   sql.NullString
			createdAt sql.NullTime
		)
		if err := rows.Scan(
			&sum.ID, &sum.IsGroup, &sum.Title, &sum.CreatedAt,
			&sum.DisplayTitle,
			&sender, &content, &createdAt,
			&sum.LastActivity,
		); err != nil {
			return nil, err
		}
		if sender.Valid {
			sum.Preview = &Preview{
				SenderID:  sender.String,
				Content:   content.String,
				CreatedAt: createdAt.Time,
			}
		}
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

func (s *SQLStore) scanConversation(row *sql.Row) (*Conversation, error) {
	var convo Conversation
	if err := row.Scan(&convo.ID, &convo.IsGroup, &convo.Title, &convo.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &convo, nil
}
