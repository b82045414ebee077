// Package attachments stores files uploaded alongside conversations. The
// production implementation uses S3-compatible object storage; MemoryStore
// backs the tests. Objects are keyed by conversation so deleting a
// conversation can cascade to its files.
package attachments

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrAttachmentNotFound is returned when the requested object does not exist.
var ErrAttachmentNotFound = errors.New("attachment not found")

// Attachment describes one stored file.
type Attachment struct {
	ConversationID string    `json:"conversationId"`
	Name           string    `json:"name"`
	ContentType    string    `json:"contentType"`
	Size           int64     `json:"size"`
	UploadedAt     time.Time `json:"uploadedAt"`
}

// Store is the attachment storage contract.
type Store interface {
	// Upload stores a file under the conversation.
	Upload(ctx context.Context, conversationID, name, contentType string, r io.Reader, size int64) (*Attachment, error)
	// Download opens a stored file. The caller must close the reader.
	Download(ctx context.Context, conversationID, name string) (io.ReadCloser, error)
	// List returns the attachments stored for a conversation.
	List(ctx context.Context, conversationID string) ([]*Attachment, error)
	// DeleteConversationFiles removes every file stored for a conversation.
	DeleteConversationFiles(ctx context.Context, conversationID string) error
}
