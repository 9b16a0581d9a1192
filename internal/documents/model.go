package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

// UndefinedDocumentID is the placeholder a client sends when it opens a
// session before any document exists (the share flow).
const UndefinedDocumentID = "undefined"

var (
	// ErrDocumentNotFound indicates that a document identifier resolves to no stored document.
	ErrDocumentNotFound = errors.New("documents: document not found")
	// ErrVersionNotFound indicates that a version number does not exist for the document.
	ErrVersionNotFound = errors.New("documents: version not found")
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("documents: invalid document id")
	// ErrEmptyContent indicates that version content is required but missing.
	ErrEmptyContent = errors.New("documents: content is required")
)

// DocumentID represents a validated document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" || trimmed == UndefinedDocumentID {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// Message is one chat turn in a document's drafting transcript. The
// collaboration core stores the transcript verbatim and never inspects it.
type Message struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// EncodeMessages serializes a transcript for the text column.
func EncodeMessages(messages []Message) (string, error) {
	if messages == nil {
		messages = []Message{}
	}
	encoded, err := json.Marshal(messages)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// DecodeMessages parses a stored transcript column.
func DecodeMessages(raw string) ([]Message, error) {
	if strings.TrimSpace(raw) == "" {
		return []Message{}, nil
	}
	var messages []Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Document models the persisted aggregate root: title, drafting transcript,
// and bookkeeping timestamps. Versions live in their own table.
type Document struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Title            string `gorm:"column:title;size:512;not null"`
	MessagesJSON     string `gorm:"column:messages_json;type:text;not null;default:'[]'"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_documents_updated"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// DocumentVersion is one immutable numbered snapshot of a document's content.
// Rows are only ever inserted; the highest version number is the live content.
type DocumentVersion struct {
	DocumentID        string `gorm:"column:document_id;primaryKey;size:190;not null"`
	VersionNumber     int64  `gorm:"column:version_number;primaryKey;not null"`
	Content           string `gorm:"column:content;type:text;not null"`
	UploadedAtSeconds int64  `gorm:"column:uploaded_at_s;not null"`
	UploadedBy        string `gorm:"column:uploaded_by;size:190;not null;default:''"`
	Notes             string `gorm:"column:notes;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentVersion) TableName() string {
	return "document_versions"
}

// Record bundles a document with its full version history, ordered by
// ascending version number.
type Record struct {
	Document Document
	Versions []DocumentVersion
}

// Summary is the listing-view projection of a document.
type Summary struct {
	ID               string
	Title            string
	CreatedAtSeconds int64
	LatestContent    string
}
