package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lexcollab/backend/internal/comments"
	"github.com/lexcollab/backend/internal/documents"
	"github.com/lexcollab/backend/internal/realtime"
)

var (
	errContentRequired = errors.New("content is required")
	errUserRequired    = errors.New("user is required")
)

var socketUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleDocumentSocket runs one collaboration session: join the document's
// room, push current state, then dispatch inbound messages one at a time
// until the transport closes. Dispatch failures are reported back on the
// same session without closing it.
func (h *httpHandler) handleDocumentSocket(c *gin.Context) {
	documentID := c.Param("document_id")

	conn, err := socketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("document_id", documentID))
		return
	}
	defer conn.Close()

	session := realtime.NewSession(uuid.NewString())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for frame := range session.Stream() {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}()

	h.rooms.Join(documentID, session)
	h.logger.Debug("session joined",
		zap.String("document_id", documentID),
		zap.String("session_id", session.ID()))

	h.pushDocumentState(c.Request.Context(), documentID, session)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.dispatchSessionMessage(c.Request.Context(), documentID, session, data)
	}

	h.rooms.Leave(documentID, session)
	session.Close()
	<-writerDone
	h.logger.Debug("session closed",
		zap.String("document_id", documentID),
		zap.String("session_id", session.ID()))
}

// pushDocumentState sends the full current document record to a freshly
// joined session. The "undefined" placeholder id skips the lookup entirely;
// an unknown id is silently ignored so the share flow can start from an
// empty room.
func (h *httpHandler) pushDocumentState(ctx context.Context, documentID string, session *realtime.Session) {
	if documentID == documents.UndefinedDocumentID {
		return
	}

	record, err := h.documents.GetByID(ctx, documentID)
	if err != nil {
		if !errors.Is(err, documents.ErrDocumentNotFound) {
			h.logger.Warn("document state lookup failed", zap.Error(err), zap.String("document_id", documentID))
		}
		return
	}

	payload, err := newDocumentPayload(record)
	if err != nil {
		h.logger.Warn("document state encode failed", zap.Error(err), zap.String("document_id", documentID))
		return
	}

	frame, err := encodeFrame(frameKindDocumentState, "document", payload)
	if err != nil {
		return
	}
	session.Send(frame)
}

func (h *httpHandler) dispatchSessionMessage(ctx context.Context, documentID string, session *realtime.Session, data []byte) {
	var message inboundMessage
	if err := json.Unmarshal(data, &message); err != nil {
		session.Send(encodeErrorFrame(invalidJSONMessage))
		return
	}

	var err error
	switch message.Type {
	case messageKindShareDocument:
		err = h.handleShareMessage(ctx, session, message)
	case messageKindUpdateDocument:
		err = h.handleUpdateMessage(ctx, documentID, session, message)
	case messageKindComment:
		err = h.handleCommentMessage(ctx, documentID, message)
	case messageKindSuggestion:
		err = h.handleSuggestionMessage(documentID, message)
	default:
		// unrecognized kinds are dropped, not errors
		return
	}
	if err != nil {
		session.Send(encodeErrorFrame(err.Error()))
	}
}

// handleShareMessage creates a brand-new document carrying the shared content
// as version 0 and confirms to the sender only.
func (h *httpHandler) handleShareMessage(ctx context.Context, session *realtime.Session, message inboundMessage) error {
	if message.Content == nil {
		return errContentRequired
	}

	record, err := h.documents.Create(ctx, documents.CreateParams{
		Title:          message.Title,
		InitialContent: message.Content,
		Notes:          "Shared document",
	})
	if err != nil {
		return err
	}

	frame, err := encodeFrame(frameKindShareSuccess, "document_id", record.Document.ID)
	if err != nil {
		return err
	}
	session.Send(frame)
	return nil
}

// handleUpdateMessage appends the full replacement content as the next
// version and fans it out to every other member of the room. The sender
// already holds its own edit, so it is excluded from the echo.
func (h *httpHandler) handleUpdateMessage(ctx context.Context, documentID string, session *realtime.Session, message inboundMessage) error {
	if message.Content == nil {
		return errContentRequired
	}

	if _, err := h.documents.Append(ctx, documentID, *message.Content, message.User, "Document updated via live session"); err != nil {
		return err
	}

	frame, err := encodeFrame(frameKindDocumentUpdate, "content", *message.Content)
	if err != nil {
		return err
	}
	h.rooms.Broadcast(documentID, frame, session.ID())
	return nil
}

// handleCommentMessage persists the comment and fans it out to the whole
// room, sender included, so every client renders the thread identically.
func (h *httpHandler) handleCommentMessage(ctx context.Context, documentID string, message inboundMessage) error {
	var content string
	if message.Content != nil {
		content = *message.Content
	}

	params := comments.CreateParams{
		DocumentID:      documentID,
		User:            message.User,
		Content:         content,
		ParentCommentID: message.ParentCommentID,
	}
	if len(message.Position) > 0 {
		position := string(message.Position)
		params.PositionJSON = &position
	}

	comment, err := h.comments.Create(ctx, params)
	if err != nil {
		return err
	}

	frame, err := encodeFrame(frameKindComment, "comment", newCommentPayload(comment))
	if err != nil {
		return err
	}
	h.rooms.Broadcast(documentID, frame, "")
	return nil
}

// handleSuggestionMessage relays an ephemeral drafting suggestion to the
// whole room, sender included. Nothing is persisted.
func (h *httpHandler) handleSuggestionMessage(documentID string, message inboundMessage) error {
	if message.User == "" {
		return errUserRequired
	}
	if message.Content == nil || *message.Content == "" {
		return errContentRequired
	}

	position := message.Position
	if len(position) == 0 {
		position = json.RawMessage(`{}`)
	}

	frame, err := encodeFrame(frameKindSuggestion, "suggestion", suggestionPayload{
		User:     message.User,
		Content:  *message.Content,
		Position: position,
	})
	if err != nil {
		return err
	}
	h.rooms.Broadcast(documentID, frame, "")
	return nil
}
