package conversation

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend implements Backend using in-memory maps. It is used as an
// ephemeral tier and throughout the tests. All reads and writes deep-copy so
// callers cannot mutate stored state.
type MemoryBackend struct {
	name          string
	conversations map[string]*ConversationRecord
	templates     map[string]*WorkflowTemplate
	analytics     map[string]*UserAnalytics
	mu            sync.RWMutex
	closed        bool

	// failWith, when set, is returned from every mutating and loading
	// operation. Tests use it to simulate an unavailable backend.
	failWith error
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		name:          "memory",
		conversations: make(map[string]*ConversationRecord),
		templates:     make(map[string]*WorkflowTemplate),
		analytics:     make(map[string]*UserAnalytics),
	}
}

// NewNamedMemoryBackend creates an in-memory backend with a custom name so
// several instances can stand in for distinct tiers in tests.
func NewNamedMemoryBackend(name string) *MemoryBackend {
	b := NewMemoryBackend()
	b.name = name
	return b
}

// Name identifies the backend in configuration and sync status.
func (m *MemoryBackend) Name() string { return m.name }

// SetFailure makes every subsequent operation return err. Pass nil to
// restore normal behavior.
func (m *MemoryBackend) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MemoryBackend) checkLocked() error {
	if m.closed {
		return ErrBackendClosed
	}
	return m.failWith
}

// SaveConversation creates or replaces a conversation record.
func (m *MemoryBackend) SaveConversation(ctx context.Context, rec *ConversationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(); err != nil {
		return err
	}
	m.conversations[rec.ConversationID] = rec.Clone()
	return nil
}

// LoadConversation retrieves a conversation by id.
func (m *MemoryBackend) LoadConversation(ctx context.Context, conversationID string) (*ConversationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	rec, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return rec.Clone(), nil
}

// ListConversations returns a user's conversations matching the filter,
// sorted by UpdatedAt descending.
func (m *MemoryBackend) ListConversations(ctx context.Context, userID string, filter ListFilter) ([]*ConversationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkLocked(); err != nil {
		return nil, err
	}

	recs := []*ConversationRecord{}
	for _, rec := range m.conversations {
		if rec.UserID != userID || !filter.Matches(rec) {
			continue
		}
		recs = append(recs, rec.Clone())
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
func (m *MemoryBackend) DeleteConversation(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(); err != nil {
		return err
	}
	delete(m.conversations, conversationID)
	return nil
}

// UpdateConversationMetadata applies a partial metadata update.
func (m *MemoryBackend) UpdateConversationMetadata(ctx context.Context, conversationID string, update MetadataUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(); err != nil {
		return err
	}
	rec, ok := m.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	applyMetadataUpdate(rec, update)
	return nil
}

// ListAllConversationIDs enumerates every stored conversation id across all
// users.
func (m *MemoryBackend) ListAllConversationIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(m.conversations))
	for id := range m.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveTemplate creates or replaces a workflow template.
func (m *MemoryBackend) SaveTemplate(ctx context.Context, tpl *WorkflowTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(); err != nil {
		return err
	}
	m.templates[tpl.TemplateID] = tpl.Clone()
	return nil
}

// LoadTemplate retrieves a template by id.
func (m *MemoryBackend) LoadTemplate(ctx context.Context, templateID string) (*WorkflowTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	tpl, ok := m.templates[templateID]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return tpl.Clone(), nil
}

// ListTemplates returns templates, optionally filtered by category.
func (m *MemoryBackend) ListTemplates(ctx context.Context, category string) ([]*WorkflowTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkLocked(); err != nil {
		return nil, err
	}

	tpls := []*WorkflowTemplate{}
	for _, tpl := range m.templates {
		if category != "" && tpl.Category != category {
			continue
		}
		tpls = append(tpls, tpl.Clone())
	}

	sort.Slice(tpls, func(i, j int) bool {
		return tpls[i].UpdatedAt.After(tpls[j].UpdatedAt)
	})
	return tpls, nil
}

// SaveAnalytics stores a per-user analytics snapshot.
func (m *MemoryBackend) SaveAnalytics(ctx context.Context, analytics *UserAnalytics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(); err != nil {
		return err
	}
	m.analytics[analytics.UserID] = analytics.Clone()
	return nil
}

// LoadAnalytics retrieves a user's analytics snapshot.
func (m *MemoryBackend) LoadAnalytics(ctx context.Context, userID string) (*UserAnalytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	a, ok := m.analytics[userID]
	if !ok {
		return nil, ErrAnalyticsNotFound
	}
	return a.Clone(), nil
}

// Ping reports liveness; it fails when a failure is injected.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkLocked()
}

// Close releases resources held by the backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}
