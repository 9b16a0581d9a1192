package documents

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

const (
	opServiceNew     = "documents.service.new"
	opCreate         = "documents.create"
	opGet            = "documents.get"
	opUpdate         = "documents.update"
	opAppend         = "documents.append"
	opLatest         = "documents.latest"
	opGetVersion     = "documents.get_version"
	opListSummaries  = "documents.list_summaries"
	opDeleteDocument = "documents.delete"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for new documents.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig wires the ledger service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the append-only version ledger over documents and their
// numbered content snapshots.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	locks      *documentLocks
}

// NewService validates configuration and constructs a ledger service.
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
		locks:      newDocumentLocks(),
	}, nil
}

// CreateParams describes a new document. InitialContent, when present,
// becomes version 0.
type CreateParams struct {
	Title          string
	Messages       []Message
	InitialContent *string
	UploadedBy     string
	Notes          string
}

// Create stores a new document and, when initial content is supplied, its
// version 0 snapshot.
func (s *Service) Create(ctx context.Context, params CreateParams) (Record, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		title = "Shared Document"
	}

	documentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Record{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	messagesJSON, err := EncodeMessages(params.Messages)
	if err != nil {
		s.logError(opCreate, "messages_encode_failed", err)
		return Record{}, newServiceError(opCreate, "messages_encode_failed", err)
	}

	now := s.clock().UTC().Unix()
	document := Document{
		ID:               documentID,
		Title:            title,
		MessagesJSON:     messagesJSON,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	record := Record{Document: document, Versions: []DocumentVersion{}}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&document).Error; err != nil {
			return newServiceError(opCreate, "document_insert_failed", err)
		}
		if params.InitialContent != nil {
			version := DocumentVersion{
				DocumentID:        documentID,
				VersionNumber:     0,
				Content:           *params.InitialContent,
				UploadedAtSeconds: now,
				UploadedBy:        params.UploadedBy,
				Notes:             defaultNotes(params.Notes, 0),
			}
			if err := tx.Create(&version).Error; err != nil {
				return newServiceError(opCreate, "version_insert_failed", err)
			}
			record.Versions = append(record.Versions, version)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreate, "transaction_failed", txErr, zap.String("document_id", documentID))
		return Record{}, txErr
	}

	return record, nil
}

// GetByID loads a document with its full version history.
func (s *Service) GetByID(ctx context.Context, documentID string) (Record, error) {
	id, err := NewDocumentID(documentID)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	var document Document
	err = s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id.String())
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("document_id", id.String()))
		return Record{}, newServiceError(opGet, "query_failed", err)
	}

	versions, err := s.loadVersions(ctx, id.String())
	if err != nil {
		s.logError(opGet, "versions_query_failed", err, zap.String("document_id", id.String()))
		return Record{}, newServiceError(opGet, "versions_query_failed", err)
	}

	return Record{Document: document, Versions: versions}, nil
}

// UpdateParams carries the mutable document fields plus optional new content.
// Nil fields are left untouched.
type UpdateParams struct {
	Title      *string
	Messages   []Message
	Content    *string
	UploadedBy string
	Notes      string
}

// Update sets title and transcript and, when content is supplied, appends the
// next version. Returns the appended version number, or -1 when no version
// was appended.
func (s *Service) Update(ctx context.Context, documentID string, params UpdateParams) (int64, error) {
	id, err := NewDocumentID(documentID)
	if err != nil {
		return -1, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	release := s.locks.acquire(id.String())
	defer release()

	appended := int64(-1)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var document Document
		err := tx.Where("id = ?", id.String()).Take(&document).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, id.String())
		}
		if err != nil {
			return newServiceError(opUpdate, "query_failed", err)
		}

		if params.Title != nil && strings.TrimSpace(*params.Title) != "" {
			document.Title = strings.TrimSpace(*params.Title)
		}
		if params.Messages != nil {
			messagesJSON, err := EncodeMessages(params.Messages)
			if err != nil {
				return newServiceError(opUpdate, "messages_encode_failed", err)
			}
			document.MessagesJSON = messagesJSON
		}
		document.UpdatedAtSeconds = s.clock().UTC().Unix()

		if err := tx.Save(&document).Error; err != nil {
			return newServiceError(opUpdate, "document_save_failed", err)
		}

		if params.Content != nil {
			next, err := s.nextVersionNumber(tx, id.String())
			if err != nil {
				return newServiceError(opUpdate, "version_number_failed", err)
			}
			version := DocumentVersion{
				DocumentID:        id.String(),
				VersionNumber:     next,
				Content:           *params.Content,
				UploadedAtSeconds: document.UpdatedAtSeconds,
				UploadedBy:        params.UploadedBy,
				Notes:             defaultNotes(params.Notes, next),
			}
			if err := tx.Create(&version).Error; err != nil {
				return newServiceError(opUpdate, "version_insert_failed", err)
			}
			appended = next
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrDocumentNotFound) {
			s.logError(opUpdate, "transaction_failed", txErr, zap.String("document_id", id.String()))
		}
		return -1, txErr
	}

	return appended, nil
}

// Append stores the next numbered version for an existing document and bumps
// its updated timestamp.
func (s *Service) Append(ctx context.Context, documentID, content, uploadedBy, notes string) (int64, error) {
	id, err := NewDocumentID(documentID)
	if err != nil {
		return -1, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	contentCopy := content
	version, err := s.Update(ctx, id.String(), UpdateParams{
		Content:    &contentCopy,
		UploadedBy: uploadedBy,
		Notes:      notes,
	})
	if err != nil {
		return -1, err
	}
	if version < 0 {
		s.logError(opAppend, "no_version_appended", nil, zap.String("document_id", id.String()))
		return -1, newServiceError(opAppend, "no_version_appended", nil)
	}
	return version, nil
}

// Latest returns the highest numbered version for the document.
func (s *Service) Latest(ctx context.Context, documentID string) (DocumentVersion, error) {
	id, err := NewDocumentID(documentID)
	if err != nil {
		return DocumentVersion{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	var version DocumentVersion
	err = s.db.WithContext(ctx).
		Where("document_id = ?", id.String()).
		Order("version_number DESC").
		Take(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if _, getErr := s.GetByID(ctx, id.String()); getErr != nil {
			return DocumentVersion{}, getErr
		}
		return DocumentVersion{}, fmt.Errorf("%w: document %s has no versions", ErrVersionNotFound, id.String())
	}
	if err != nil {
		s.logError(opLatest, "query_failed", err, zap.String("document_id", id.String()))
		return DocumentVersion{}, newServiceError(opLatest, "query_failed", err)
	}

	return version, nil
}

// GetVersion returns the exact numbered version, no interpolation.
func (s *Service) GetVersion(ctx context.Context, documentID string, versionNumber int64) (DocumentVersion, error) {
	id, err := NewDocumentID(documentID)
	if err != nil {
		return DocumentVersion{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	var version DocumentVersion
	err = s.db.WithContext(ctx).
		Where("document_id = ? AND version_number = ?", id.String(), versionNumber).
		Take(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DocumentVersion{}, fmt.Errorf("%w: version %d of document %s", ErrVersionNotFound, versionNumber, id.String())
	}
	if err != nil {
		s.logError(opGetVersion, "query_failed", err,
			zap.String("document_id", id.String()),
			zap.Int64("version_number", versionNumber))
		return DocumentVersion{}, newServiceError(opGetVersion, "query_failed", err)
	}

	return version, nil
}

// ListSummaries returns every document with the content of its highest
// version, empty string when no version exists yet.
func (s *Service) ListSummaries(ctx context.Context) ([]Summary, error) {
	var records []Document
	if err := s.db.WithContext(ctx).
		Order("updated_at_s DESC").
		Find(&records).Error; err != nil {
		s.logError(opListSummaries, "query_failed", err)
		return nil, newServiceError(opListSummaries, "query_failed", err)
	}

	summaries := make([]Summary, 0, len(records))
	for _, document := range records {
		summary := Summary{
			ID:               document.ID,
			Title:            document.Title,
			CreatedAtSeconds: document.CreatedAtSeconds,
		}
		var latest DocumentVersion
		err := s.db.WithContext(ctx).
			Where("document_id = ?", document.ID).
			Order("version_number DESC").
			Take(&latest).Error
		if err == nil {
			summary.LatestContent = latest.Content
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opListSummaries, "latest_version_query_failed", err, zap.String("document_id", document.ID))
			return nil, newServiceError(opListSummaries, "latest_version_query_failed", err)
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// Delete removes the document and its version history.
func (s *Service) Delete(ctx context.Context, documentID string) error {
	id, err := NewDocumentID(documentID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	release := s.locks.acquire(id.String())
	defer release()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id.String()).Delete(&Document{})
		if result.Error != nil {
			s.logError(opDeleteDocument, "document_delete_failed", result.Error, zap.String("document_id", id.String()))
			return newServiceError(opDeleteDocument, "document_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, id.String())
		}
		if err := tx.Where("document_id = ?", id.String()).Delete(&DocumentVersion{}).Error; err != nil {
			s.logError(opDeleteDocument, "versions_delete_failed", err, zap.String("document_id", id.String()))
			return newServiceError(opDeleteDocument, "versions_delete_failed", err)
		}
		return nil
	})
}

func (s *Service) loadVersions(ctx context.Context, documentID string) ([]DocumentVersion, error) {
	var versions []DocumentVersion
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("version_number ASC").
		Find(&versions).Error; err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []DocumentVersion{}
	}
	return versions, nil
}

// nextVersionNumber computes max(existing)+1, or 0 for the first version.
// Callers must hold the per-document lock.
func (s *Service) nextVersionNumber(tx *gorm.DB, documentID string) (int64, error) {
	var latest DocumentVersion
	err := tx.Where("document_id = ?", documentID).
		Order("version_number DESC").
		Take(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return latest.VersionNumber + 1, nil
}

func defaultNotes(notes string, versionNumber int64) string {
	if strings.TrimSpace(notes) != "" {
		return notes
	}
	if versionNumber == 0 {
		return "Initial Document"
	}
	return fmt.Sprintf("Version %d update", versionNumber)
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
	s.loggerOrDefault().Error("documents service error", attrs...)
}
