package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lexcollab/backend/internal/ai"
	"github.com/lexcollab/backend/internal/comments"
	"github.com/lexcollab/backend/internal/documents"
	"github.com/lexcollab/backend/internal/export"
	"github.com/lexcollab/backend/internal/realtime"
)

type stubDrafter struct {
	outcome ai.Outcome
	err     error
}

func (d *stubDrafter) Draft(ctx context.Context, messages []documents.Message) (ai.Outcome, error) {
	if d.err != nil {
		return ai.Outcome{}, d.err
	}
	return d.outcome, nil
}

type stubRenderer struct {
	err error
}

func (r *stubRenderer) RenderPDF(ctx context.Context, markdown, title string) (export.Result, error) {
	if r.err != nil {
		return export.Result{}, r.err
	}
	return export.Result{
		Data:     []byte("%PDF-1.4 stub"),
		Filename: "document.pdf",
		MimeType: "application/pdf",
	}, nil
}

type stubSignatureStore struct {
	url string
	err error
}

func (s *stubSignatureStore) UploadSignature(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.url, nil
}

type testEnv struct {
	handler   http.Handler
	documents *documents.Service
	comments  *comments.Service
	drafter   *stubDrafter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:lexcollab_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&documents.Document{}, &documents.DocumentVersion{}, &comments.Comment{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	documentsService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: documents.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct documents service: %v", err)
	}

	commentsService, err := comments.NewService(comments.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: documents.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct comments service: %v", err)
	}

	drafter := &stubDrafter{outcome: ai.Outcome{Type: ai.OutcomeQuestion, Text: "What is the term?"}}

	handler, err := NewHTTPHandler(Dependencies{
		DocumentsService: documentsService,
		CommentsService:  commentsService,
		Rooms:            realtime.NewRoomRegistry(),
		Drafter:          drafter,
		Renderer:         &stubRenderer{},
		Signatures:       &stubSignatureStore{url: "http://blobs.local/signatures/sig.png"},
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return &testEnv{
		handler:   handler,
		documents: documentsService,
		comments:  commentsService,
		drafter:   drafter,
	}
}

func (env *testEnv) createDocument(t *testing.T, title, content string) documents.Record {
	t.Helper()
	record, err := env.documents.Create(context.Background(), documents.CreateParams{
		Title:          title,
		InitialContent: &content,
	})
	if err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}
	return record
}
