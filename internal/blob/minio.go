// Package blob stores permit documents in an S3-compatible bucket and hands
// back opaque references.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"kilnguard/api/internal/util"
)

// Document kinds accepted on a permission request.
var DocumentKinds = map[string]struct{}{
	"id_document":      {},
	"land_certificate": {},
	"coop_certificate": {},
	"tree_age_proof":   {},
}

const refScheme = "s3://"

// MaxDocumentSize bounds a single upload.
const MaxDocumentSize = 10 << 20

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Store writes documents to one bucket.
type Store struct {
	client objectPutter
	bucket string
	now    func() time.Time
}

// NewStore connects to the endpoint and creates the bucket if missing.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Store{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

// Put uploads a document and returns its reference. The caller owns r.
func (s *Store) Put(ctx context.Context, ownerID, kind, filename, contentType string, r io.Reader, size int64) (string, error) {
	if _, ok := DocumentKinds[kind]; !ok {
		return "", fmt.Errorf("unknown document kind %q", kind)
	}
	if size <= 0 || size > MaxDocumentSize {
		return "", fmt.Errorf("document size %d out of range", size)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	objectName := objectKey(ownerID, kind, filename, s.now())
	_, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"owner": ownerID,
			"kind":  kind,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return refScheme + s.bucket + "/" + objectName, nil
}

// ErrInvalidReference is returned by ParseReference.
var ErrInvalidReference = errors.New("invalid document reference")

// ParseReference splits a reference into bucket and object name.
func ParseReference(ref string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(ref, refScheme)
	if !ok {
		return "", "", ErrInvalidReference
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", ErrInvalidReference
	}
	return bucket, object, nil
}

func objectKey(ownerID, kind, filename string, now time.Time) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/"))))
	if len(ext) > 8 {
		ext = ""
	}
	return path.Join(ownerID, kind, now.UTC().Format("2006/01/02"), util.NewID("doc")+ext)
}
