// Package s3 stores data object content in an S3 (or S3 compatible) bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/rodsnfs/internal/logger"
	"github.com/marmos91/rodsnfs/pkg/content"
)

// Client is the subset of the S3 API the store needs. *s3.Client satisfies it.
type Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3ContentStore implements content.Store with one S3 object per content ID.
//
// S3 objects cannot be patched in place, so WriteAt downloads the current
// object, applies the write and uploads the result. Writes to the same ID
// are serialized by a per-ID lock so concurrent read-modify-write cycles
// cannot lose each other's updates within one process.
type S3ContentStore struct {
	client    Client
	bucket    string
	keyPrefix string

	locksMu sync.Mutex
	locks   map[content.ContentID]*sync.Mutex
}

// S3ContentStoreConfig configures an S3ContentStore.
type S3ContentStoreConfig struct {
	Client    Client
	Bucket    string
	KeyPrefix string

	// SkipBucketCheck disables the HeadBucket probe at construction.
	SkipBucketCheck bool
}

// NewS3ContentStore validates the configuration and verifies that the
// bucket is reachable.
func NewS3ContentStore(ctx context.Context, cfg S3ContentStoreConfig) (*S3ContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	if !cfg.SkipBucketCheck {
		_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(cfg.Bucket),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
		}
	}

	logger.Info("S3 content store ready", "bucket", cfg.Bucket, "key_prefix", cfg.KeyPrefix)

	return &S3ContentStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		locks:     make(map[content.ContentID]*sync.Mutex),
	}, nil
}

// objectKey returns the object key for id, with the configured prefix.
func (s *S3ContentStore) objectKey(id content.ContentID) string {
	return s.keyPrefix + string(id)
}

func (s *S3ContentStore) lockFor(id content.ContentID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}

func isInvalidRange(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange" {
		return true
	}
	return strings.Contains(err.Error(), "InvalidRange")
}

func (s *S3ContentStore) ReadAt(ctx context.Context, id content.ContentID, p []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.ValidateRequest(id, offset); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	// S3 ranges are inclusive.
	end := offset + int64(len(p)) - 1
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, end)),
	})
	if err != nil {
		if isNotFound(err) || isInvalidRange(err) {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("failed to read from S3: %w", err)
	}
	defer func() { _ = result.Body.Close() }()

	n, err := io.ReadFull(result.Body, p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return n, io.EOF
	}
	if err != nil {
		return n, fmt.Errorf("failed to read S3 body: %w", err)
	}
	return n, nil
}

// WriteAt performs a read-modify-write of the whole object.
func (s *S3ContentStore) WriteAt(ctx context.Context, id content.ContentID, p []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.ValidateRequest(id, offset); err != nil {
		return 0, err
	}

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	existing, err := s.readAll(ctx, id)
	if err != nil {
		return 0, err
	}

	size := int64(len(existing))
	if end := offset + int64(len(p)); end > size {
		size = end
	}
	merged := make([]byte, size)
	copy(merged, existing)
	copy(merged[offset:], p)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
		Body:   bytes.NewReader(merged),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write object to S3: %w", err)
	}
	return len(p), nil
}

// readAll returns the full object, or nil if it does not exist.
func (s *S3ContentStore) readAll(ctx context.Context, id content.ContentID) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read existing object: %w", err)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read existing object: %w", err)
	}
	return data, nil
}

func (s *S3ContentStore) Size(ctx context.Context, id content.ContentID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to head object: %w", err)
	}

	if result.ContentLength == nil {
		return 0, fmt.Errorf("content length not available for %s", id)
	}
	return *result.ContentLength, nil
}

func (s *S3ContentStore) Exists(ctx context.Context, id content.ContentID) (bool, error) {
	if _, err := s.Size(ctx, id); err != nil {
		if errors.Is(err, content.ErrContentNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3ContentStore) Delete(ctx context.Context, id content.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()
	return nil
}
