package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var (
	// ErrMissingEndpoint indicates that no object-store endpoint was configured.
	ErrMissingEndpoint = errors.New("blob: endpoint is required")
	// ErrTimeout indicates that the upload exceeded its deadline.
	ErrTimeout = errors.New("blob: upload timed out")
	// ErrUploadFailed indicates that the object store rejected the upload.
	ErrUploadFailed = errors.New("blob: upload failed")

	noOpLogger = zap.NewNop()
)

// StoreConfig wires the signature blob store.
type StoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Store uploads signature images to an S3-compatible object store and hands
// back the public URL embedded into document content.
type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
	useSSL    bool
	endpoint  string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewStore constructs a blob store client.
func NewStore(cfg StoreConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrMissingEndpoint
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		useSSL:    cfg.UseSSL,
		endpoint:  cfg.Endpoint,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// EnsureBucket creates the configured bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	s.logger.Info("blob bucket created", zap.String("bucket", s.bucket))
	return nil
}

// UploadSignature stores one signature image and returns its public URL.
// The call is bounded by the configured timeout.
func (s *Store) UploadSignature(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	objectName := fmt.Sprintf("signatures/%s%s", uuid.NewString(), path.Ext(filename))
	_, err := s.client.PutObject(callCtx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return "", fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
		}
		s.logger.Warn("signature upload failed", zap.Error(err), zap.String("object", objectName))
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	return s.objectURL(objectName), nil
}

func (s *Store) objectURL(objectName string) string {
	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, objectName)
	}
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.bucket, objectName)
}
