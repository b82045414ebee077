package conversation

import (
	"context"
	"fmt"
)

// EnterpriseBackend is the extension point for on-premise or
// enterprise-managed storage. It satisfies the full Backend contract so a
// concrete implementation can be slotted into the unified service's backend
// list without code changes elsewhere; until one is configured, every
// operation fails with ErrNotConfigured. The conformance suite in
// backendtest defines the contract a real implementation must meet.
type EnterpriseBackend struct{}

// NewEnterpriseBackend returns the unconfigured enterprise stub.
func NewEnterpriseBackend() *EnterpriseBackend {
	return &EnterpriseBackend{}
}

// Name identifies the backend in configuration and sync status.
func (e *EnterpriseBackend) Name() string { return "enterprise" }

func (e *EnterpriseBackend) err(op string) error {
	return fmt.Errorf("enterprise %s: %w", op, ErrNotConfigured)
}

// SaveConversation fails with ErrNotConfigured.
func (e *EnterpriseBackend) SaveConversation(ctx context.Context, rec *ConversationRecord) error {
	return e.err("save conversation")
}

// LoadConversation fails with ErrNotConfigured.
func (e *EnterpriseBackend) LoadConversation(ctx context.Context, conversationID string) (*ConversationRecord, error) {
	return nil, e.err("load conversation")
}

// ListConversations fails with ErrNotConfigured.
func (e *EnterpriseBackend) ListConversations(ctx context.Context, userID string, filter ListFilter) ([]*ConversationRecord, error) {
	return nil, e.err("list conversations")
}

// DeleteConversation fails with ErrNotConfigured.
func (e *EnterpriseBackend) DeleteConversation(ctx context.Context, conversationID string) error {
	return e.err("delete conversation")
}

// UpdateConversationMetadata fails with ErrNotConfigured.
func (e *EnterpriseBackend) UpdateConversationMetadata(ctx context.Context, conversationID string, update MetadataUpdate) error {
	return e.err("update metadata")
}

// SaveTemplate fails with ErrNotConfigured.
func (e *EnterpriseBackend) SaveTemplate(ctx context.Context, tpl *WorkflowTemplate) error {
	return e.err("save template")
}

// LoadTemplate fails with ErrNotConfigured.
func (e *EnterpriseBackend) LoadTemplate(ctx context.Context, templateID string) (*WorkflowTemplate, error) {
	return nil, e.err("load template")
}

// ListTemplates fails with ErrNotConfigured.
func (e *EnterpriseBackend) ListTemplates(ctx context.Context, category string) ([]*WorkflowTemplate, error) {
	return nil, e.err("list templates")
}

// SaveAnalytics fails with ErrNotConfigured.
func (e *EnterpriseBackend) SaveAnalytics(ctx context.Context, analytics *UserAnalytics) error {
	return e.err("save analytics")
}

// LoadAnalytics fails with ErrNotConfigured.
func (e *EnterpriseBackend) LoadAnalytics(ctx context.Context, userID string) (*UserAnalytics, error) {
	return nil, e.err("load analytics")
}

// Close is a no-op for the stub.
func (e *EnterpriseBackend) Close() error { return nil }
