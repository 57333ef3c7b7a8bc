package conversation

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db), mock
}

func conversationRows(id string, isGroup bool, title string, createdAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "is_group", "title", "created_at"}).
		AddRow(id, isGroup, title, createdAt)
}

func TestDirectKeyIsOrderIndependent(t *testing.T) {
	if DirectKey("alice", "bob") != DirectKey("bob", "alice") {
		t.Error("direct key must not depend on argument order")
	}
	if DirectKey("alice", "bob") != "alice|bob" {
		t.Errorf("unexpected key: %s", DirectKey("alice", "bob"))
	}
}

func TestGetOrCreateDirectReturnsExisting(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, is_group, title, created_at").
		WithArgs("alice|bob").
		WillReturnRows(conversationRows("conv-1", false, "", now))

	convo, created, err := store.GetOrCreateDirect(context.Background(), "bob", "alice")
	if err != nil {
		t.Fatalf("get or create failed: %v", err)
	}
	if created {
		t.Error("expected created=false for an existing pair")
	}
	if convo.ID != "conv-1" {
		t.Errorf("expected conv-1, got %s", convo.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetOrCreateDirectInsertsPair(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, is_group, title, created_at").
		WithArgs("alice|bob").
		WillReturnError(sql.ErrNoRows)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs(sqlmock.AnyArg(), "alice|bob", sqlmock.AnyArg()).
		WillReturnRows(conversationRows("conv-new", false, "", now))
	mock.ExpectExec("INSERT INTO conversation_members").
		WithArgs("conv-new", "alice", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO conversation_members").
		WithArgs("conv-new", "bob", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	convo, created, err := store.GetOrCreateDirect(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("get or create failed: %v", err)
	}
	if !created {
		t.Error("expected created=true for a new pair")
	}
	if convo.ID != "conv-new" {
		t.Errorf("expected conv-new, got %s", convo.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetOrCreateDirectLostRace(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, is_group, title, created_at").
		WithArgs("alice|bob").
		WillReturnError(sql.ErrNoRows)

	mock.ExpectBegin()
	// ON CONFLICT DO NOTHING returns no row when a concurrent insert won.
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs(sqlmock.AnyArg(), "alice|bob", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT id, is_group, title, created_at").
		WithArgs("alice|bob").
		WillReturnRows(conversationRows("conv-won", false, "", now))
	mock.ExpectRollback()

	convo, created, err := store.GetOrCreateDirect(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("get or create failed: %v", err)
	}
	if created {
		t.Error("expected created=false after losing the race")
	}
	if convo.ID != "conv-won" {
		t.Errorf("expected conv-won, got %s", convo.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateGroupDeduplicatesMembers(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO conversations").
		WithArgs(sqlmock.AnyArg(), "Team", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Creator first, then each unique member exactly once.
	mock.ExpectExec("INSERT INTO conversation_members").
		WithArgs(sqlmock.AnyArg(), "alice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO conversation_members").
		WithArgs(sqlmock.AnyArg(), "bob", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO conversation_members").
		WithArgs(sqlmock.AnyArg(), "carol", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	convo, err := store.CreateGroup(context.Background(), "alice", "Team", []string{"bob", "alice", "carol", "bob", ""})
	if err != nil {
		t.Fatalf("create group failed: %v", err)
	}
	if !convo.IsGroup {
		t.Error("expected a group conversation")
	}
	if convo.Title != "Team" {
		t.Errorf("expected title Team, got %s", convo.Title)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRenameUnknownConversation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE conversations SET title").
		WithArgs("missing", "New Title").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Rename(context.Background(), "missing", "New Title")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestRemoveMemberNotAMember(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM conversation_members").
		WithArgs("conv-1", "mallory").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.RemoveMember(context.Background(), "conv-1", "mallory")
	if !errors.Is(err, ErrNotAMember) {
		t.Errorf("expected ErrNotAMember, got %v", err)
	}
}

func TestListForUserBuildsPreview(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "is_group", "title", "created_at",
		"display_title", "sender_id", "content", "last_created_at", "last_activity",
	}).
		AddRow("conv-2", false, "", now.Add(-time.Hour), "Bob", "bob", "see you", now, now).
		AddRow("conv-1", true, "Team", now.Add(-2*time.Hour), "Team", nil, nil, nil, now.Add(-2*time.Hour))

	mock.ExpectQuery("SELECT c.id, c.is_group, c.title, c.created_at").
		WithArgs("alice").
		WillReturnRows(rows)

	summaries, err := store.ListForUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}

	first := summaries[0]
	if first.DisplayTitle != "Bob" {
		t.Errorf("expected peer display title Bob, got %s", first.DisplayTitle)
	}
	if first.Preview == nil || first.Preview.Content != "see you" {
		t.Errorf("expected preview with last message, got %+v", first.Preview)
	}

	second := summaries[1]
	if second.Preview != nil {
		t.Errorf("expected no preview for an empty conversation, got %+v", second.Preview)
	}
	if !second.LastActivity.Equal(now.Add(-2 * time.Hour)) {
		t.Errorf("expected creation time as last activity, got %v", second.LastActivity)
	}
}
