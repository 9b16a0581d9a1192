package server

import (
	"encoding/json"

	"github.com/lexcollab/backend/internal/comments"
	"github.com/lexcollab/backend/internal/documents"
)

// Inbound message kinds accepted over a document session.
const (
	messageKindShareDocument  = "share_document"
	messageKindUpdateDocument = "update_document"
	messageKindComment        = "comment"
	messageKindSuggestion     = "suggestion"
)

// Outbound frame kinds pushed to document sessions.
const (
	frameKindDocumentState  = "document_state"
	frameKindShareSuccess   = "share_success"
	frameKindDocumentUpdate = "document_update"
	frameKindComment        = "comment"
	frameKindSuggestion     = "suggestion"
	frameKindError          = "error"
)

const invalidJSONMessage = "Invalid JSON format"

// inboundMessage is the superset envelope of every accepted message kind;
// dispatch validates the fields each kind requires.
type inboundMessage struct {
	Type            string          `json:"type"`
	Title           string          `json:"title"`
	Content         *string         `json:"content"`
	User            string          `json:"user"`
	Position        json.RawMessage `json:"position"`
	ParentCommentID *string         `json:"parent_comment_id"`
}

type versionPayload struct {
	VersionNumber int64  `json:"version_number"`
	Content       string `json:"content"`
	UploadedAt    int64  `json:"uploaded_at"`
	UploadedBy    string `json:"uploaded_by,omitempty"`
	Notes         string `json:"notes"`
}

type documentPayload struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	Messages  []documents.Message `json:"messages"`
	Versions  []versionPayload    `json:"document_versions"`
	CreatedAt int64               `json:"created_at"`
	UpdatedAt int64               `json:"updated_at"`
}

type commentPayload struct {
	ID              string          `json:"id"`
	User            string          `json:"user"`
	Content         string          `json:"content"`
	Position        json.RawMessage `json:"position"`
	CreatedAt       int64           `json:"created_at"`
	ParentCommentID *string         `json:"parent_comment_id"`
}

type suggestionPayload struct {
	User     string          `json:"user"`
	Content  string          `json:"content"`
	Position json.RawMessage `json:"position"`
}

func newDocumentPayload(record documents.Record) (documentPayload, error) {
	messages, err := documents.DecodeMessages(record.Document.MessagesJSON)
	if err != nil {
		return documentPayload{}, err
	}

	versions := make([]versionPayload, 0, len(record.Versions))
	for _, version := range record.Versions {
		versions = append(versions, versionPayload{
			VersionNumber: version.VersionNumber,
			Content:       version.Content,
			UploadedAt:    version.UploadedAtSeconds,
			UploadedBy:    version.UploadedBy,
			Notes:         version.Notes,
		})
	}

	return documentPayload{
		ID:        record.Document.ID,
		Title:     record.Document.Title,
		Messages:  messages,
		Versions:  versions,
		CreatedAt: record.Document.CreatedAtSeconds,
		UpdatedAt: record.Document.UpdatedAtSeconds,
	}, nil
}

func newCommentPayload(comment comments.Comment) commentPayload {
	payload := commentPayload{
		ID:              comment.ID,
		User:            comment.User,
		Content:         comment.Content,
		CreatedAt:       comment.CreatedAtSeconds,
		ParentCommentID: comment.ParentCommentID,
	}
	if comment.PositionJSON != nil {
		payload.Position = json.RawMessage(*comment.PositionJSON)
	}
	return payload
}

// encodeFrame marshals an outbound frame of the given kind with one named
// payload field, e.g. {"type":"comment","comment":{...}}.
func encodeFrame(kind, field string, payload any) ([]byte, error) {
	frame := map[string]any{"type": kind}
	if field != "" {
		frame[field] = payload
	}
	return json.Marshal(frame)
}

func encodeErrorFrame(message string) []byte {
	frame, err := json.Marshal(map[string]any{
		"type":    frameKindError,
		"message": message,
	})
	if err != nil {
		return []byte(`{"type":"error","message":"internal error"}`)
	}
	return frame
}
