package attachments

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aixgo-dev/convsync/pkg/observability"
)

// MinioConfig configures the object-storage attachment store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore implements Store on any S3-compatible object store. Objects are
// laid out as <conversationID>/<name> so a conversation's files share a
// prefix.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the object store and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
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

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(conversationID, name string) string {
	return path.Join(conversationID, name)
}

// Upload stores a file under the conversation.
func (s *MinioStore) Upload(ctx context.Context, conversationID, name, contentType string, r io.Reader, size int64) (*Attachment, error) {
	if conversationID == "" || name == "" {
		return nil, fmt.Errorf("conversation id and name are required")
	}

	info, err := s.client.PutObject(ctx, s.bucket, objectKey(conversationID, name), r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		observability.RecordAttachmentOp("upload", "error")
		return nil, fmt.Errorf("upload %s/%s: %w", conversationID, name, err)
	}
	observability.RecordAttachmentOp("upload", "ok")

	return &Attachment{
		ConversationID: conversationID,
		Name:           name,
		ContentType:    contentType,
		Size:           info.Size,
		UploadedAt:     time.Now().UTC(),
	}, nil
}

// Download opens a stored file. The caller must close the reader.
func (s *MinioStore) Download(ctx context.Context, conversationID, name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(conversationID, name), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", conversationID, name, err)
	}
	// GetObject is lazy; Stat forces the first request so absence surfaces
	// here instead of at first read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrAttachmentNotFound
		}
		return nil, fmt.Errorf("stat %s/%s: %w", conversationID, name, err)
	}
	return obj, nil
}

// List returns the attachments stored for a conversation.
func (s *MinioStore) List(ctx context.Context, conversationID string) ([]*Attachment, error) {
	prefix := conversationID + "/"
	out := []*Attachment{}

	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", conversationID, info.Err)
		}
		out = append(out, &Attachment{
			ConversationID: conversationID,
			Name:           strings.TrimPrefix(info.Key, prefix),
			ContentType:    info.ContentType,
			Size:           info.Size,
			UploadedAt:     info.LastModified,
		})
	}
	return out, nil
}

// DeleteConversationFiles removes every file stored for a conversation.
func (s *MinioStore) DeleteConversationFiles(ctx context.Context, conversationID string) error {
	prefix := conversationID + "/"

	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			observability.RecordAttachmentOp("delete", "error")
			return fmt.Errorf("list for delete %s: %w", conversationID, info.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, info.Key, minio.RemoveObjectOptions{}); err != nil {
			observability.RecordAttachmentOp("delete", "error")
			return fmt.Errorf("delete %s: %w", info.Key, err)
		}
	}
	observability.RecordAttachmentOp("delete", "ok")
	return nil
}

// Ping verifies the bucket is reachable.
func (s *MinioStore) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("object store ping: %w", err)
	}
	return nil
}
