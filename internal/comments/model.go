package comments

import "errors"

// AnonymousUser is the author recorded when the caller has no
// authenticated identity.
const AnonymousUser = "anonymous"

var (
	// ErrCommentNotFound indicates that a comment identifier resolves to no stored comment.
	ErrCommentNotFound = errors.New("comments: comment not found")
	// ErrParentNotFound indicates that a referenced parent comment does not exist.
	ErrParentNotFound = errors.New("comments: parent comment not found")
	// ErrParentDocumentMismatch indicates that a parent comment belongs to a different document.
	ErrParentDocumentMismatch = errors.New("comments: parent comment belongs to another document")
	// ErrEmptyContent indicates that comment content is required but missing.
	ErrEmptyContent = errors.New("comments: content is required")
	// ErrEmptyDocumentID indicates that the owning document identifier is missing.
	ErrEmptyDocumentID = errors.New("comments: document id is required")
)

// Comment is one entry in a document's discussion. A non-nil ParentCommentID
// makes it a reply; threading is exactly one level deep and the reader
// reconstructs the tree from the flat ordered list.
type Comment struct {
	ID               string  `gorm:"column:id;primaryKey;size:190;not null"`
	DocumentID       string  `gorm:"column:document_id;size:190;not null;index:idx_comments_document_created,priority:1"`
	User             string  `gorm:"column:user;size:255;not null"`
	Content          string  `gorm:"column:content;type:text;not null"`
	PositionJSON     *string `gorm:"column:position_json;type:text"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null;index:idx_comments_document_created,priority:2"`
	ParentCommentID  *string `gorm:"column:parent_comment_id;size:190"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "document_comments"
}
