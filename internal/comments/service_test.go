package comments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDGenerator struct {
	next int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("comment-%d", g.next), nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:lexcollab_comments_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Comment{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := newTickingClock()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequentialIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct comments service: %v", err)
	}

	return service
}

// newTickingClock advances one second per call so created_at ordering is
// observable in tests.
func newTickingClock() func() time.Time {
	current := int64(1700000000)
	return func() time.Time {
		current++
		return time.Unix(current, 0).UTC()
	}
}

func mustComment(t *testing.T, service *Service, params CreateParams) Comment {
	t.Helper()
	comment, err := service.Create(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return comment
}

func TestCreateRejectsEmptyContent(t *testing.T) {
	service := newTestService(t)

	_, err := service.Create(context.Background(), CreateParams{
		DocumentID: "doc-1",
		User:       "alice",
		Content:    "   ",
	})
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected empty content error, got %v", err)
	}

	records, err := service.List(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no persisted comments, got %d", len(records))
	}
}

func TestCreateDefaultsAnonymousUser(t *testing.T) {
	service := newTestService(t)

	comment := mustComment(t, service, CreateParams{
		DocumentID: "doc-1",
		Content:    "needs review",
	})
	if comment.User != AnonymousUser {
		t.Fatalf("expected anonymous sentinel, got %q", comment.User)
	}
}

func TestCreateWithUnknownParentFailsWithoutWrite(t *testing.T) {
	service := newTestService(t)

	parentID := "nonexistent"
	_, err := service.Create(context.Background(), CreateParams{
		DocumentID:      "doc-1",
		User:            "alice",
		Content:         "reply",
		ParentCommentID: &parentID,
	})
	if !errors.Is(err, ErrParentNotFound) {
		t.Fatalf("expected parent not found, got %v", err)
	}

	records, err := service.List(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no persisted comments, got %d", len(records))
	}
}

func TestCreateRejectsParentFromAnotherDocument(t *testing.T) {
	service := newTestService(t)

	parent := mustComment(t, service, CreateParams{
		DocumentID: "doc-1",
		User:       "alice",
		Content:    "root",
	})

	_, err := service.Create(context.Background(), CreateParams{
		DocumentID:      "doc-2",
		User:            "bob",
		Content:         "cross reply",
		ParentCommentID: &parent.ID,
	})
	if !errors.Is(err, ErrParentDocumentMismatch) {
		t.Fatalf("expected parent document mismatch, got %v", err)
	}
}

func TestListOrdersByCreationTimeAscending(t *testing.T) {
	service := newTestService(t)

	for i := 0; i < 4; i++ {
		mustComment(t, service, CreateParams{
			DocumentID: "doc-1",
			User:       "alice",
			Content:    fmt.Sprintf("comment %d", i),
		})
	}
	mustComment(t, service, CreateParams{
		DocumentID: "doc-2",
		User:       "bob",
		Content:    "other document",
	})

	records, err := service.List(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 comments, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].CreatedAtSeconds < records[i-1].CreatedAtSeconds {
			t.Fatalf("comments out of order at index %d", i)
		}
	}
}

func TestReplyExposesParentCommentID(t *testing.T) {
	service := newTestService(t)

	parent := mustComment(t, service, CreateParams{
		DocumentID: "doc-1",
		User:       "alice",
		Content:    "root",
	})
	reply := mustComment(t, service, CreateParams{
		DocumentID:      "doc-1",
		User:            "bob",
		Content:         "reply",
		ParentCommentID: &parent.ID,
	})

	if reply.ParentCommentID == nil || *reply.ParentCommentID != parent.ID {
		t.Fatalf("expected parent reference %q, got %#v", parent.ID, reply.ParentCommentID)
	}
}

func TestDeleteCascadesToReplies(t *testing.T) {
	service := newTestService(t)

	parent := mustComment(t, service, CreateParams{
		DocumentID: "doc-1",
		User:       "alice",
		Content:    "root",
	})
	mustComment(t, service, CreateParams{
		DocumentID:      "doc-1",
		User:            "bob",
		Content:         "reply one",
		ParentCommentID: &parent.ID,
	})
	mustComment(t, service, CreateParams{
		DocumentID:      "doc-1",
		User:            "carol",
		Content:         "reply two",
		ParentCommentID: &parent.ID,
	})
	survivor := mustComment(t, service, CreateParams{
		DocumentID: "doc-1",
		User:       "dave",
		Content:    "unrelated",
	})

	if err := service.Delete(context.Background(), parent.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	records, err := service.List(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected only the unrelated comment to survive, got %d", len(records))
	}
	if records[0].ID != survivor.ID {
		t.Fatalf("unexpected surviving comment %q", records[0].ID)
	}
}

func TestDeleteUnknownCommentFails(t *testing.T) {
	service := newTestService(t)

	err := service.Delete(context.Background(), "missing")
	if !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected comment not found, got %v", err)
	}
}

func TestDeleteForDocumentRemovesAll(t *testing.T) {
	service := newTestService(t)

	for i := 0; i < 3; i++ {
		mustComment(t, service, CreateParams{
			DocumentID: "doc-1",
			User:       "alice",
			Content:    fmt.Sprintf("comment %d", i),
		})
	}
	kept := mustComment(t, service, CreateParams{
		DocumentID: "doc-2",
		User:       "bob",
		Content:    "other",
	})

	if err := service.DeleteForDocument(context.Background(), "doc-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	gone, err := service.List(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(gone) != 0 {
		t.Fatalf("expected no comments for doc-1, got %d", len(gone))
	}

	remaining, err := service.List(context.Background(), "doc-2")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != kept.ID {
		t.Fatalf("expected doc-2 comments untouched, got %#v", remaining)
	}
}
