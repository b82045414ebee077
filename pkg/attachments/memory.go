package attachments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryStore implements Store in memory for tests and ephemeral use.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]map[string]*memoryObject
}

type memoryObject struct {
	meta Attachment
	data []byte
}

// NewMemoryStore creates an empty in-memory attachment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]map[string]*memoryObject)}
}

// Upload stores a file under the conversation.
func (s *MemoryStore) Upload(ctx context.Context, conversationID, name, contentType string, r io.Reader, size int64) (*Attachment, error) {
	if conversationID == "" || name == "" {
		return nil, fmt.Errorf("conversation id and name are required")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.objects[conversationID] == nil {
		s.objects[conversationID] = make(map[string]*memoryObject)
	}
	obj := &memoryObject{
		meta: Attachment{
			ConversationID: conversationID,
			Name:           name,
			ContentType:    contentType,
			Size:           int64(len(data)),
			UploadedAt:     time.Now().UTC(),
		},
		data: data,
	}
	s.objects[conversationID][name] = obj

	meta := obj.meta
	return &meta, nil
}

// Download opens a stored file.
func (s *MemoryStore) Download(ctx context.Context, conversationID, name string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[conversationID][name]
	if !ok {
		return nil, ErrAttachmentNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// List returns the attachments stored for a conversation.
func (s *MemoryStore) List(ctx context.Context, conversationID string) ([]*Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Attachment{}
	for _, obj := range s.objects[conversationID] {
		meta := obj.meta
		out = append(out, &meta)
	}
	return out, nil
}

// DeleteConversationFiles removes every file stored for a conversation.
func (s *MemoryStore) DeleteConversationFiles(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, conversationID)
	return nil
}
