package conversation

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidPathComponent is returned when an id contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent checks that a string is safe to use as a path
// component. It rejects empty strings, path separators, and traversal
// sequences.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

const (
	conversationKeyPrefix = "mas_conversation_"
	templateKeyPrefix     = "mas_template_"
	analyticsKeyPrefix    = "mas_analytics_"
)

// FileBackend implements Backend using one JSON file per entity. It is the
// local cache tier: state survives process restart on the same device.
// Storage layout:
//
//	<baseDir>/
//	  ├── mas_conversation_<conversationID>.json
//	  ├── mas_template_<templateID>.json
//	  └── mas_analytics_<userID>.json
//
// Date fields round-trip through RFC 3339 with sub-second precision. A
// corrupt or unreadable entry behaves as not-found so callers can fall back
// to remote sources; it is logged for diagnosis, never raised.
type FileBackend struct {
	baseDir string
	aead    cipher.AEAD
	mu      sync.RWMutex
	closed  bool
}

// NewFileBackend creates a file-based local cache backend. If baseDir is
// empty, uses ~/.convsync/cache.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".convsync", "cache")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileBackend{baseDir: baseDir}, nil
}

// NewEncryptedFileBackend creates a file backend that encrypts entries at
// rest with ChaCha20-Poly1305. The key must be chacha20poly1305.KeySize
// bytes. An entry sealed with a different key reads as corrupt, i.e.
// not-found.
func NewEncryptedFileBackend(baseDir string, key []byte) (*FileBackend, error) {
	b, err := NewFileBackend(baseDir)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	b.aead = aead
	return b, nil
}

// Name identifies the backend in configuration and sync status.
func (f *FileBackend) Name() string { return "local" }

func (f *FileBackend) entryPath(prefix, id string) string {
	return filepath.Join(f.baseDir, prefix+id+".json")
}

func (f *FileBackend) writeEntry(prefix, id string, v any) error {
	if err := validatePathComponent(id); err != nil {
		return fmt.Errorf("invalid id %q: %w", id, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if f.aead != nil {
		nonce := make([]byte, chacha20poly1305.NonceSizeX)
		if _, err := rand.Read(nonce); err != nil {
			return fmt.Errorf("generate nonce: %w", err)
		}
		data = f.aead.Seal(nonce, nonce, data, nil)
	}

	if err := os.WriteFile(f.entryPath(prefix, id), data, 0600); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

// readEntry loads and decodes one entry. A missing file returns notFound; a
// corrupt file is logged and also returns notFound so the read path degrades
// instead of crashing.
func (f *FileBackend) readEntry(prefix, id string, v any, notFound error) error {
	if err := validatePathComponent(id); err != nil {
		return fmt.Errorf("invalid id %q: %w", id, err)
	}

	path := f.entryPath(prefix, id)
	data, err := os.ReadFile(path) // #nosec G304 - id validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return notFound
		}
		log.Printf("convsync: read %s: %v", path, err)
		return notFound
	}

	if f.aead != nil {
		if len(data) < chacha20poly1305.NonceSizeX {
			log.Printf("convsync: corrupt entry %s: short ciphertext", path)
			return notFound
		}
		nonce, ct := data[:chacha20poly1305.NonceSizeX], data[chacha20poly1305.NonceSizeX:]
		data, err = f.aead.Open(nil, nonce, ct, nil)
		if err != nil {
			log.Printf("convsync: corrupt entry %s: %v", path, err)
			return notFound
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		log.Printf("convsync: corrupt entry %s: %v", path, err)
		return notFound
	}
	return nil
}

// SaveConversation creates or replaces a conversation record.
func (f *FileBackend) SaveConversation(ctx context.Context, rec *ConversationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrBackendClosed
	}
	return f.writeEntry(conversationKeyPrefix, rec.ConversationID, rec)
}

// LoadConversation retrieves a conversation by id.
func (f *FileBackend) LoadConversation(ctx context.Context, conversationID string) (*ConversationRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrBackendClosed
	}

	var rec ConversationRecord
	if err := f.readEntry(conversationKeyPrefix, conversationID, &rec, ErrConversationNotFound); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListConversations returns a user's conversations matching the filter,
// sorted by UpdatedAt descending. Corrupt entries are skipped.
func (f *FileBackend) ListConversations(ctx context.Context, userID string, filter ListFilter) ([]*ConversationRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrBackendClosed
	}

	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*ConversationRecord{}, nil
		}
		return nil, fmt.Errorf("read base directory: %w", err)
	}

	recs := []*ConversationRecord{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, conversationKeyPrefix) || filepath.Ext(name) != ".json" {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, conversationKeyPrefix), ".json")

		var rec ConversationRecord
		if err := f.readEntry(conversationKeyPrefix, id, &rec, ErrConversationNotFound); err != nil {
			continue
		}
		if rec.UserID != userID || !filter.Matches(&rec) {
			continue
		}
		recs = append(recs, &rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
	})

	if filter.Limit > 0 && filter.Limit < len(recs) {
		recs = recs[:filter.Limit]
	}
	return recs, nil
}

// DeleteConversation removes a conversation record.
func (f *FileBackend) DeleteConversation(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrBackendClosed
	}
	if err := validatePathComponent(conversationID); err != nil {
		return fmt.Errorf("invalid conversation ID: %w", err)
	}

	if err := os.Remove(f.entryPath(conversationKeyPrefix, conversationID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove entry: %w", err)
	}
	return nil
}

// UpdateConversationMetadata applies a partial metadata update.
func (f *FileBackend) UpdateConversationMetadata(ctx context.Context, conversationID string, update MetadataUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrBackendClosed
	}

	var rec ConversationRecord
	if err := f.readEntry(conversationKeyPrefix, conversationID, &rec, ErrConversationNotFound); err != nil {
		return err
	}

	applyMetadataUpdate(&rec, update)
	return f.writeEntry(conversationKeyPrefix, conversationID, &rec)
}

// SaveTemplate creates or replaces a workflow template.
func (f *FileBackend) SaveTemplate(ctx context.Context, tpl *WorkflowTemplate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrBackendClosed
	}
	return f.writeEntry(templateKeyPrefix, tpl.TemplateID, tpl)
}

// LoadTemplate retrieves a template by id.
func (f *FileBackend) LoadTemplate(ctx context.Context, templateID string) (*WorkflowTemplate, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrBackendClosed
	}

	var tpl WorkflowTemplate
	if err := f.readEntry(templateKeyPrefix, templateID, &tpl, ErrTemplateNotFound); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// ListTemplates returns templates, optionally filtered by category.
func (f *FileBackend) ListTemplates(ctx context.Context, category string) ([]*WorkflowTemplate, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrBackendClosed
	}

	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*WorkflowTemplate{}, nil
		}
		return nil, fmt.Errorf("read base directory: %w", err)
	}

	tpls := []*WorkflowTemplate{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, templateKeyPrefix) || filepath.Ext(name) != ".json" {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, templateKeyPrefix), ".json")

		var tpl WorkflowTemplate
		if err := f.readEntry(templateKeyPrefix, id, &tpl, ErrTemplateNotFound); err != nil {
			continue
		}
		if category != "" && tpl.Category != category {
			continue
		}
		tpls = append(tpls, &tpl)
	}

	sort.Slice(tpls, func(i, j int) bool {
		return tpls[i].UpdatedAt.After(tpls[j].UpdatedAt)
	})
	return tpls, nil
}

// ListAllConversationIDs enumerates every cached conversation id across all
// users. The sync pass uses it to find candidates for reconciliation.
func (f *FileBackend) ListAllConversationIDs(ctx context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrBackendClosed
	}

	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read base directory: %w", err)
	}

	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, conversationKeyPrefix) || filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, conversationKeyPrefix), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveAnalytics stores a per-user analytics snapshot.
func (f *FileBackend) SaveAnalytics(ctx context.Context, analytics *UserAnalytics) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrBackendClosed
	}
	return f.writeEntry(analyticsKeyPrefix, analytics.UserID, analytics)
}

// LoadAnalytics retrieves a user's analytics snapshot.
func (f *FileBackend) LoadAnalytics(ctx context.Context, userID string) (*UserAnalytics, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrBackendClosed
	}

	var a UserAnalytics
	if err := f.readEntry(analyticsKeyPrefix, userID, &a, ErrAnalyticsNotFound); err != nil {
		return nil, err
	}
	return &a, nil
}

// Close releases any resources held by the backend.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

// applyMetadataUpdate mutates a record in place. Nil pointers leave fields
// untouched; a non-nil Tags slice replaces the tag set.
func applyMetadataUpdate(rec *ConversationRecord, update MetadataUpdate) {
	if update.Name != nil {
		rec.Name = *update.Name
	}
	if update.Description != nil {
		rec.Description = *update.Description
	}
	if update.Tags != nil {
		rec.Tags = append([]string(nil), update.Tags...)
	}
	rec.UpdatedAt = nowUTC()
}
