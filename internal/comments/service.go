package comments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew        = "comments.service.new"
	opCreate            = "comments.create"
	opList              = "comments.list"
	opDelete            = "comments.delete"
	opDeleteForDocument = "comments.delete_for_document"
)

// ServiceError carries an operation code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for new comments.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig wires the comment store dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the per-document threaded comment store.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates configuration and constructs a comment service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateParams describes a new comment. ParentCommentID, when set, must
// resolve to an existing comment on the same document.
type CreateParams struct {
	DocumentID      string
	User            string
	Content         string
	PositionJSON    *string
	ParentCommentID *string
}

// Create validates and stores a comment. Constraint violations are rejected
// before anything is written.
func (s *Service) Create(ctx context.Context, params CreateParams) (Comment, error) {
	documentID := strings.TrimSpace(params.DocumentID)
	if documentID == "" {
		return Comment{}, ErrEmptyDocumentID
	}
	if strings.TrimSpace(params.Content) == "" {
		return Comment{}, ErrEmptyContent
	}

	user := strings.TrimSpace(params.User)
	if user == "" {
		user = AnonymousUser
	}

	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Comment{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	comment := Comment{
		ID:               commentID,
		DocumentID:       documentID,
		User:             user,
		Content:          params.Content,
		PositionJSON:     params.PositionJSON,
		CreatedAtSeconds: s.clock().UTC().Unix(),
		ParentCommentID:  nil,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if params.ParentCommentID != nil && strings.TrimSpace(*params.ParentCommentID) != "" {
			parentID := strings.TrimSpace(*params.ParentCommentID)
			var parent Comment
			err := tx.Where("id = ?", parentID).Take(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrParentNotFound, parentID)
			}
			if err != nil {
				return newServiceError(opCreate, "parent_query_failed", err)
			}
			if parent.DocumentID != documentID {
				return fmt.Errorf("%w: %s", ErrParentDocumentMismatch, parentID)
			}
			comment.ParentCommentID = &parent.ID
		}
		if err := tx.Create(&comment).Error; err != nil {
			return newServiceError(opCreate, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrParentNotFound) && !errors.Is(txErr, ErrParentDocumentMismatch) {
			s.logError(opCreate, "transaction_failed", txErr, zap.String("document_id", documentID))
		}
		return Comment{}, txErr
	}

	return comment, nil
}

// List returns the document's comments ordered by ascending creation time.
func (s *Service) List(ctx context.Context, documentID string) ([]Comment, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, ErrEmptyDocumentID
	}

	var records []Comment
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at_s ASC").
		Find(&records).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("document_id", documentID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	if records == nil {
		records = []Comment{}
	}

	return records, nil
}

// Delete removes a comment and cascades to its replies. The store does not
// assume foreign-key cascade support, so the reply batch is collected and
// deleted explicitly.
func (s *Service) Delete(ctx context.Context, commentID string) error {
	if strings.TrimSpace(commentID) == "" {
		return fmt.Errorf("%w: empty id", ErrCommentNotFound)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comment Comment
		err := tx.Where("id = ?", commentID).Take(&comment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrCommentNotFound, commentID)
		}
		if err != nil {
			return newServiceError(opDelete, "query_failed", err)
		}

		var replyIDs []string
		if err := tx.Model(&Comment{}).
			Where("parent_comment_id = ?", comment.ID).
			Pluck("id", &replyIDs).Error; err != nil {
			return newServiceError(opDelete, "replies_query_failed", err)
		}

		targets := append(replyIDs, comment.ID)
		if err := tx.Where("id IN ?", targets).Delete(&Comment{}).Error; err != nil {
			s.logError(opDelete, "delete_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opDelete, "delete_failed", err)
		}
		return nil
	})
}

// DeleteForDocument removes every comment attached to the document.
func (s *Service) DeleteForDocument(ctx context.Context, documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return ErrEmptyDocumentID
	}

	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&Comment{}).Error; err != nil {
		s.logError(opDeleteForDocument, "delete_failed", err, zap.String("document_id", documentID))
		return newServiceError(opDeleteForDocument, "delete_failed", err)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("comments service error", attrs...)
}
