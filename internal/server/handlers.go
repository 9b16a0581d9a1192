package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lexcollab/backend/internal/ai"
	"github.com/lexcollab/backend/internal/blob"
	"github.com/lexcollab/backend/internal/comments"
	"github.com/lexcollab/backend/internal/documents"
	"github.com/lexcollab/backend/internal/export"
)

const (
	writeRetryAttempts = 3
	writeRetryBackoff  = 200 * time.Millisecond

	maxSignatureBytes = 5 << 20
)

var (
	errDraftingNotConfigured   = errors.New("drafting service is not configured")
	errRenderingNotConfigured  = errors.New("pdf rendering is not configured")
	errSignaturesNotConfigured = errors.New("signature storage is not configured")
)

// respondError maps the failure taxonomy onto HTTP status codes: missing
// references are 404, caller mistakes 400, expired external calls 504, and
// everything else 500 with the message in the body.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, documents.ErrDocumentNotFound),
		errors.Is(err, documents.ErrVersionNotFound),
		errors.Is(err, comments.ErrCommentNotFound),
		errors.Is(err, comments.ErrParentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, documents.ErrEmptyContent),
		errors.Is(err, comments.ErrEmptyContent),
		errors.Is(err, comments.ErrEmptyDocumentID),
		errors.Is(err, comments.ErrParentDocumentMismatch),
		errors.Is(err, ai.ErrEmptyTranscript):
		status = http.StatusBadRequest
	case errors.Is(err, ai.ErrTimeout),
		errors.Is(err, export.ErrTimeout),
		errors.Is(err, blob.ErrTimeout):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// withWriteRetry re-runs a persistence write a bounded number of times with
// linear backoff. Caller-fault failures are returned immediately.
func withWriteRetry(fn func() error) error {
	var err error
	for attempt := 1; attempt <= writeRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt < writeRetryAttempts {
			time.Sleep(writeRetryBackoff * time.Duration(attempt))
		}
	}
	return err
}

func isRetryable(err error) bool {
	switch {
	case errors.Is(err, documents.ErrDocumentNotFound),
		errors.Is(err, documents.ErrVersionNotFound),
		errors.Is(err, documents.ErrEmptyContent),
		errors.Is(err, comments.ErrParentNotFound),
		errors.Is(err, comments.ErrEmptyContent),
		errors.Is(err, comments.ErrEmptyDocumentID):
		return false
	}
	return true
}

type chatRequestPayload struct {
	Messages []documents.Message `json:"messages"`
}

func (h *httpHandler) handleChat(c *gin.Context) {
	var request chatRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Messages are required"})
		return
	}
	if h.drafter == nil {
		h.respondError(c, errDraftingNotConfigured)
		return
	}

	outcome, err := h.drafter.Draft(c.Request.Context(), request.Messages)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

type conversationSummaryPayload struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	CreatedAt      int64  `json:"created_at"`
	LatestDocument string `json:"latest_document"`
}

func (h *httpHandler) handleListConversations(c *gin.Context) {
	summaries, err := h.documents.ListSummaries(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload := make([]conversationSummaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		payload = append(payload, conversationSummaryPayload{
			ID:             summary.ID,
			Title:          summary.Title,
			CreatedAt:      summary.CreatedAtSeconds,
			LatestDocument: summary.LatestContent,
		})
	}

	c.JSON(http.StatusOK, payload)
}

type conversationRequestPayload struct {
	Title                  string              `json:"title"`
	Messages               []documents.Message `json:"messages"`
	Content                *string             `json:"content"`
	InitialDocumentContent *string             `json:"initial_document_content"`
	UploadedBy             string              `json:"uploaded_by"`
	Notes                  string              `json:"notes"`
}

func (p conversationRequestPayload) initialContent() *string {
	if p.Content != nil {
		return p.Content
	}
	return p.InitialDocumentContent
}

func (h *httpHandler) handleCreateConversation(c *gin.Context) {
	var request conversationRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var record documents.Record
	err := withWriteRetry(func() error {
		var createErr error
		record, createErr = h.documents.Create(c.Request.Context(), documents.CreateParams{
			Title:          request.Title,
			Messages:       request.Messages,
			InitialContent: request.initialContent(),
			UploadedBy:     request.UploadedBy,
			Notes:          request.Notes,
		})
		return createErr
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload, err := newDocumentPayload(record)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payload)
}

func (h *httpHandler) handleGetConversation(c *gin.Context) {
	record, err := h.documents.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload, err := newDocumentPayload(record)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleUpdateConversation(c *gin.Context) {
	var request conversationRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	documentID := c.Param("id")
	params := documents.UpdateParams{
		Messages:   request.Messages,
		Content:    request.initialContent(),
		UploadedBy: request.UploadedBy,
		Notes:      request.Notes,
	}
	if request.Title != "" {
		params.Title = &request.Title
	}

	err := withWriteRetry(func() error {
		_, updateErr := h.documents.Update(c.Request.Context(), documentID, params)
		return updateErr
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	record, err := h.documents.GetByID(c.Request.Context(), documentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload, err := newDocumentPayload(record)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleDeleteConversation(c *gin.Context) {
	documentID := c.Param("id")
	if err := h.documents.Delete(c.Request.Context(), documentID); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.comments.DeleteForDocument(c.Request.Context(), documentID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": documentID})
}

type shareRequestPayload struct {
	Title   string  `json:"title"`
	Content *string `json:"content"`
}

func (h *httpHandler) handleShare(c *gin.Context) {
	var request shareRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Content == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	var record documents.Record
	err := withWriteRetry(func() error {
		var createErr error
		record, createErr = h.documents.Create(c.Request.Context(), documents.CreateParams{
			Title:          request.Title,
			InitialContent: request.Content,
			Notes:          "Shared document",
		})
		return createErr
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        record.Document.ID,
		"share_url": fmt.Sprintf("/shared/%s", record.Document.ID),
	})
}

func (h *httpHandler) handleGetVersionContent(c *gin.Context) {
	versionNumber, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version number"})
		return
	}

	version, err := h.documents.GetVersion(c.Request.Context(), c.Param("id"), versionNumber)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"version_number": version.VersionNumber,
		"content":        version.Content,
		"uploaded_at":    version.UploadedAtSeconds,
		"notes":          version.Notes,
	})
}

func (h *httpHandler) handleDownloadLatestPDF(c *gin.Context) {
	documentID := c.Param("id")
	record, err := h.documents.GetByID(c.Request.Context(), documentID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	version, err := h.documents.Latest(c.Request.Context(), documentID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.renderPDFResponse(c, version.Content, record.Document.Title)
}

func (h *httpHandler) handleDownloadVersionPDF(c *gin.Context) {
	versionNumber, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version number"})
		return
	}

	documentID := c.Param("id")
	record, err := h.documents.GetByID(c.Request.Context(), documentID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	version, err := h.documents.GetVersion(c.Request.Context(), documentID, versionNumber)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.renderPDFResponse(c, version.Content, record.Document.Title)
}

type adHocPDFRequestPayload struct {
	Content *string `json:"content"`
	Title   string  `json:"title"`
}

func (h *httpHandler) handleDownloadAdHocPDF(c *gin.Context) {
	var request adHocPDFRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Content == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	title := request.Title
	if title == "" {
		title = "document"
	}
	h.renderPDFResponse(c, *request.Content, title)
}

func (h *httpHandler) renderPDFResponse(c *gin.Context, content, title string) {
	if h.renderer == nil {
		h.respondError(c, errRenderingNotConfigured)
		return
	}

	result, err := h.renderer.RenderPDF(c.Request.Context(), content, title)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.MimeType, result.Data)
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	records, err := h.comments.List(c.Request.Context(), c.Param("document_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload := make([]commentPayload, 0, len(records))
	for _, comment := range records {
		payload = append(payload, newCommentPayload(comment))
	}
	c.JSON(http.StatusOK, payload)
}

type commentRequestPayload struct {
	User            string          `json:"user"`
	Content         string          `json:"content"`
	Position        json.RawMessage `json:"position"`
	ParentCommentID *string         `json:"parent_comment_id"`
}

func (h *httpHandler) handleCreateComment(c *gin.Context) {
	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	params := comments.CreateParams{
		DocumentID:      c.Param("document_id"),
		User:            request.User,
		Content:         request.Content,
		ParentCommentID: request.ParentCommentID,
	}
	if len(request.Position) > 0 {
		position := string(request.Position)
		params.PositionJSON = &position
	}

	comment, err := h.comments.Create(c.Request.Context(), params)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newCommentPayload(comment))
}

func (h *httpHandler) handleUploadSignature(c *gin.Context) {
	if h.signatures == nil {
		h.respondError(c, errSignaturesNotConfigured)
		return
	}

	file, err := c.FormFile("signature")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature file is required"})
		return
	}
	if file.Size > maxSignatureBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature file too large"})
		return
	}

	reader, err := file.Open()
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer reader.Close()

	url, err := h.signatures.UploadSignature(
		c.Request.Context(), file.Filename, reader, file.Size, file.Header.Get("Content-Type"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}
