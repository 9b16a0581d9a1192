package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lexcollab/backend/internal/ai"
	"github.com/lexcollab/backend/internal/comments"
	"github.com/lexcollab/backend/internal/documents"
	"github.com/lexcollab/backend/internal/export"
	"github.com/lexcollab/backend/internal/realtime"
)

var (
	errMissingDocumentsService = errors.New("documents service dependency required")
	errMissingCommentsService  = errors.New("comments service dependency required")
)

// DraftingService produces legal document text from a chat transcript.
type DraftingService interface {
	Draft(ctx context.Context, messages []documents.Message) (ai.Outcome, error)
}

// PDFRenderer converts Markdown document content into a downloadable PDF.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, markdown, title string) (export.Result, error)
}

// SignatureStore uploads a signature image and returns its public URL.
type SignatureStore interface {
	UploadSignature(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error)
}

// Dependencies wires the HTTP and websocket surface. Drafter, Renderer, and
// Signatures are optional; routes depending on a missing collaborator report
// a configuration error instead of failing at startup.
type Dependencies struct {
	DocumentsService *documents.Service
	CommentsService  *comments.Service
	Rooms            *realtime.RoomRegistry
	Drafter          DraftingService
	Renderer         PDFRenderer
	Signatures       SignatureStore
	Logger           *zap.Logger
}

// NewHTTPHandler builds the full API surface: REST routes under /api and the
// document collaboration socket under /ws.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.DocumentsService == nil {
		return nil, errMissingDocumentsService
	}
	if deps.CommentsService == nil {
		return nil, errMissingCommentsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rooms := deps.Rooms
	if rooms == nil {
		rooms = realtime.NewRoomRegistry()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		documents:  deps.DocumentsService,
		comments:   deps.CommentsService,
		rooms:      rooms,
		drafter:    deps.Drafter,
		renderer:   deps.Renderer,
		signatures: deps.Signatures,
		logger:     logger,
	}

	api := router.Group("/api")
	api.POST("/chat", handler.handleChat)
	api.POST("/download-pdf", handler.handleDownloadAdHocPDF)
	api.POST("/upload-signature", handler.handleUploadSignature)
	api.POST("/share", handler.handleShare)
	api.GET("/conversations", handler.handleListConversations)
	api.POST("/conversations", handler.handleCreateConversation)
	api.GET("/conversations/:id", handler.handleGetConversation)
	api.PUT("/conversations/:id", handler.handleUpdateConversation)
	api.DELETE("/conversations/:id", handler.handleDeleteConversation)
	api.GET("/conversations/:id/download", handler.handleDownloadLatestPDF)
	api.GET("/conversations/:id/versions/:version/content", handler.handleGetVersionContent)
	api.GET("/conversations/:id/versions/:version/download", handler.handleDownloadVersionPDF)
	api.GET("/documents/:document_id/comments", handler.handleListComments)
	api.POST("/documents/:document_id/comments", handler.handleCreateComment)

	router.GET("/ws/documents/:document_id", handler.handleDocumentSocket)

	return router, nil
}

type httpHandler struct {
	documents  *documents.Service
	comments   *comments.Service
	rooms      *realtime.RoomRegistry
	drafter    DraftingService
	renderer   PDFRenderer
	signatures SignatureStore
	logger     *zap.Logger
}
