package conversation

import (
	"context"
	"errors"
	"time"
)

// Common errors for storage operations.
var (
	// ErrConversationNotFound is returned when a conversation doesn't exist.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrTemplateNotFound is returned when a template doesn't exist.
	ErrTemplateNotFound = errors.New("workflow template not found")
	// ErrAnalyticsNotFound is returned when no analytics snapshot exists yet.
	ErrAnalyticsNotFound = errors.New("analytics snapshot not found")
	// ErrBackendClosed is returned when operating on a closed backend.
	ErrBackendClosed = errors.New("storage backend is closed")
	// ErrNotConfigured is returned by extension-point backends that have no
	// concrete implementation wired in.
	ErrNotConfigured = errors.New("backend not configured")
	// ErrBackendUnavailable wraps network/auth/quota failures raised by
	// remote adapters. The unified service catches it and falls back.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Backend abstracts conversation persistence. Implementations must be safe
// for concurrent use. Load operations return the sentinel not-found errors
// above; adapters surface raw failures wrapped in ErrBackendUnavailable and
// never retry internally — fallback policy belongs to the unified service.
type Backend interface {
	// Name identifies the backend in configuration and sync status.
	Name() string

	// SaveConversation creates or replaces a conversation record.
	SaveConversation(ctx context.Context, rec *ConversationRecord) error

	// LoadConversation retrieves a conversation by id.
	// Returns ErrConversationNotFound if it doesn't exist.
	LoadConversation(ctx context.Context, conversationID string) (*ConversationRecord, error)

	// ListConversations returns a user's conversations matching the filter,
	// sorted by UpdatedAt descending.
	ListConversations(ctx context.Context, userID string, filter ListFilter) ([]*ConversationRecord, error)

	// DeleteConversation removes a conversation record.
	DeleteConversation(ctx context.Context, conversationID string) error

	// UpdateConversationMetadata applies a partial metadata update and bumps
	// UpdatedAt. Returns ErrConversationNotFound for an absent id.
	UpdateConversationMetadata(ctx context.Context, conversationID string, update MetadataUpdate) error

	// SaveTemplate creates or replaces a workflow template.
	SaveTemplate(ctx context.Context, tpl *WorkflowTemplate) error

	// LoadTemplate retrieves a template by id.
	// Returns ErrTemplateNotFound if it doesn't exist.
	LoadTemplate(ctx context.Context, templateID string) (*WorkflowTemplate, error)

	// ListTemplates returns templates, optionally filtered by category.
	ListTemplates(ctx context.Context, category string) ([]*WorkflowTemplate, error)

	// SaveAnalytics stores a per-user analytics snapshot.
	SaveAnalytics(ctx context.Context, analytics *UserAnalytics) error

	// LoadAnalytics retrieves a user's analytics snapshot.
	// Returns ErrAnalyticsNotFound if none has been generated.
	LoadAnalytics(ctx context.Context, userID string) (*UserAnalytics, error)

	// Close releases any resources held by the backend.
	Close() error
}

// ListFilter narrows ListConversations results. Zero values match
// everything. Date bounds are inclusive on CreatedAt; Tags matches when any
// tag intersects.
type ListFilter struct {
	CreatedAfter            *time.Time
	CreatedBefore           *time.Time
	OrchestratorType        string
	SessionType             string
	Tags                    []string
	MinQualityScore         *float64
	MinGovernanceCompliance *float64
	IsTemplate              *bool
	IsPublic                *bool
	// Limit caps the number of results (0 = unlimited).
	Limit int
}

// Matches reports whether a record passes the filter.
func (f ListFilter) Matches(rec *ConversationRecord) bool {
	if f.CreatedAfter != nil && rec.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && rec.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	if f.OrchestratorType != "" && rec.SessionConfig.Orchestrator.ID != f.OrchestratorType {
		return false
	}
	if f.SessionType != "" && rec.SessionConfig.SessionType != f.SessionType {
		return false
	}
	if len(f.Tags) > 0 && !anyTagMatch(rec.Tags, f.Tags) {
		return false
	}
	if f.MinQualityScore != nil && rec.SessionMetrics.ConversationQuality < *f.MinQualityScore {
		return false
	}
	if f.MinGovernanceCompliance != nil && rec.SessionMetrics.GovernanceCompliance < *f.MinGovernanceCompliance {
		return false
	}
	if f.IsTemplate != nil && rec.IsTemplate != *f.IsTemplate {
		return false
	}
	if f.IsPublic != nil && rec.IsPublic != *f.IsPublic {
		return false
	}
	return true
}

func anyTagMatch(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// Pinger is implemented by backends that can report liveness. The unified
// service probes it to flip the online flag.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Subscriber is implemented by backends with server-push change streams.
// Callbacks fire with the current state on registration and on every
// subsequent change. The returned function cancels the subscription.
type Subscriber interface {
	SubscribeConversation(ctx context.Context, conversationID string, fn func(*ConversationRecord)) (func(), error)
	SubscribeAnalytics(ctx context.Context, userID string, fn func(*UserAnalytics)) (func(), error)
}

// BatchWriter is implemented by backends that can commit several records
// atomically.
type BatchWriter interface {
	SaveConversations(ctx context.Context, recs []*ConversationRecord) error
}

// Cleaner is implemented by backends that support age-based cleanup. It
// deletes a user's conversations older than the cutoff and returns the count
// removed.
type Cleaner interface {
	CleanupConversations(ctx context.Context, userID string, olderThan time.Time) (int, error)
}
