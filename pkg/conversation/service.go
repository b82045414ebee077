package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func nowUTC() time.Time { return time.Now().UTC() }

// Service implements conversation CRUD, template instantiation and analytics
// aggregation over a single Backend. It holds the pure persistence logic;
// multi-backend routing, offline queuing and conflict handling live in
// Unified.
type Service struct {
	backend     Backend
	attachments AttachmentStore
}

// AttachmentStore is the narrow surface the service needs for cascading
// deletes of a conversation's uploaded files. The concrete implementations
// live in pkg/attachments.
type AttachmentStore interface {
	DeleteConversationFiles(ctx context.Context, conversationID string) error
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAttachments wires a file store so DeleteConversation cascades to a
// conversation's uploaded files.
func WithAttachments(store AttachmentStore) ServiceOption {
	return func(s *Service) { s.attachments = store }
}

// NewService creates a persistence service over the given backend.
func NewService(backend Backend, opts ...ServiceOption) *Service {
	s := &Service{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying backend.
func (s *Service) Backend() Backend { return s.backend }

func validateRecord(rec *ConversationRecord) error {
	if rec == nil {
		return errors.New("conversation record is nil")
	}
	if rec.ConversationID == "" {
		return errors.New("conversation id is required")
	}
	if rec.UserID == "" {
		return errors.New("user id is required")
	}
	return nil
}

// SaveConversation creates or replaces a conversation. CreatedAt is stamped
// once on first save; UpdatedAt is bumped on every save; the MessageCount
// rollup is recomputed from the message log.
func (s *Service) SaveConversation(ctx context.Context, rec *ConversationRecord) error {
	if err := validateRecord(rec); err != nil {
		return fmt.Errorf("invalid conversation: %w", err)
	}

	now := nowUTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.SessionMetrics.MessageCount = len(rec.Messages)

	if err := s.backend.SaveConversation(ctx, rec); err != nil {
		return fmt.Errorf("save conversation %s: %w", rec.ConversationID, err)
	}
	return nil
}

// LoadConversation retrieves a conversation. An absent id returns (nil, nil)
// rather than an error so callers can fall back to other sources.
func (s *Service) LoadConversation(ctx context.Context, conversationID string) (*ConversationRecord, error) {
	rec, err := s.backend.LoadConversation(ctx, conversationID)
	if errors.Is(err, ErrConversationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	return rec, nil
}

// GetUserConversations returns a user's conversations matching the filter,
// sorted by UpdatedAt descending.
func (s *Service) GetUserConversations(ctx context.Context, userID string, filter ListFilter) ([]*ConversationRecord, error) {
	recs, err := s.backend.ListConversations(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list conversations for %s: %w", userID, err)
	}
	return recs, nil
}

// DeleteConversation removes a conversation and cascades to any uploaded
// files. Deletion failures surface to the caller: there is no safe
// local-only fallback for a delete.
func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := s.backend.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	if s.attachments != nil {
		if err := s.attachments.DeleteConversationFiles(ctx, conversationID); err != nil {
			return fmt.Errorf("delete conversation files %s: %w", conversationID, err)
		}
	}
	return nil
}

// UpdateConversationMetadata applies a partial metadata update.
func (s *Service) UpdateConversationMetadata(ctx context.Context, conversationID string, update MetadataUpdate) error {
	if err := s.backend.UpdateConversationMetadata(ctx, conversationID, update); err != nil {
		return fmt.Errorf("update metadata %s: %w", conversationID, err)
	}
	return nil
}

// AppendMessage appends a message and recomputes the session rollup. The
// message timestamp defaults to now when unset.
func (s *Service) AppendMessage(ctx context.Context, conversationID string, msg Message) error {
	rec, err := s.backend.LoadConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("append message %s: %w", conversationID, err)
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = nowUTC()
	}
	rec.Messages = append(rec.Messages, msg)
	rec.SessionMetrics.MessageCount = len(rec.Messages)
	if !rec.CreatedAt.IsZero() {
		rec.SessionMetrics.DurationSeconds = msg.Timestamp.Sub(rec.CreatedAt).Seconds()
	}
	rec.UpdatedAt = nowUTC()

	return s.backend.SaveConversation(ctx, rec)
}

// AppendAuditShare appends an audit-log sharing event.
func (s *Service) AppendAuditShare(ctx context.Context, conversationID string, share AuditLogShare) error {
	rec, err := s.backend.LoadConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("append audit share %s: %w", conversationID, err)
	}

	if share.ID == "" {
		share.ID = uuid.New().String()
	}
	if share.SharedAt.IsZero() {
		share.SharedAt = nowUTC()
	}
	rec.AuditLogShares = append(rec.AuditLogShares, share)
	rec.UpdatedAt = nowUTC()

	return s.backend.SaveConversation(ctx, rec)
}

// SaveWorkflowTemplate creates or updates a template. CreatedBy and
// CreatedAt are immutable after creation.
func (s *Service) SaveWorkflowTemplate(ctx context.Context, tpl *WorkflowTemplate) error {
	if tpl == nil || tpl.TemplateID == "" {
		return errors.New("template id is required")
	}

	now := nowUTC()
	existing, err := s.backend.LoadTemplate(ctx, tpl.TemplateID)
	switch {
	case err == nil:
		tpl.CreatedBy = existing.CreatedBy
		tpl.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrTemplateNotFound):
		if tpl.CreatedAt.IsZero() {
			tpl.CreatedAt = now
		}
	default:
		return fmt.Errorf("load template %s: %w", tpl.TemplateID, err)
	}
	tpl.UpdatedAt = now

	if err := s.backend.SaveTemplate(ctx, tpl); err != nil {
		return fmt.Errorf("save template %s: %w", tpl.TemplateID, err)
	}
	return nil
}

// GetWorkflowTemplates returns templates, optionally filtered by category.
func (s *Service) GetWorkflowTemplates(ctx context.Context, category string) ([]*WorkflowTemplate, error) {
	tpls, err := s.backend.ListTemplates(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return tpls, nil
}

// Default governance scores for participants instantiated from a template.
// The template's own minimums take precedence when they are stricter.
const (
	defaultTrustScore      = 0.8
	defaultComplianceScore = 0.9
)

// Customizations overrides applied when instantiating a conversation from a
// template.
type Customizations struct {
	Name        string
	Description string
	Tags        []string
	SessionType string
}

// CreateConversationFromTemplate builds a new conversation seeded from a
// template's recommended orchestrator and roster, then increments the
// template's usage counter. The new conversation starts with empty message,
// audit and insight logs; metrics are zeroed except ParticipationBalance and
// GovernanceCompliance, which default to 1.0. Tags are the template's tags
// plus "from-template". Usage-increment failures surface to the caller.
func (s *Service) CreateConversationFromTemplate(ctx context.Context, templateID, userID string, custom *Customizations) (*ConversationRecord, error) {
	tpl, err := s.backend.LoadTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", templateID, err)
	}

	now := nowUTC()
	rec := &ConversationRecord{
		ConversationID: uuid.New().String(),
		UserID:         userID,
		Name:           tpl.Name,
		Description:    tpl.Description,
		Tags:           append(append([]string(nil), tpl.Tags...), "from-template"),
		SessionConfig: SessionConfig{
			Orchestrator: OrchestratorConfig{
				ID:   tpl.OrchestratorType,
				Name: tpl.OrchestratorType,
			},
		},
		Messages:           []Message{},
		AuditLogShares:     []AuditLogShare{},
		GovernanceInsights: []GovernanceInsight{},
		SessionMetrics: SessionMetrics{
			ParticipationBalance: 1.0,
			GovernanceCompliance: 1.0,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, agent := range tpl.RecommendedAgents {
		trust := defaultTrustScore
		if agent.MinTrust > trust {
			trust = agent.MinTrust
		}
		compliance := defaultComplianceScore
		if agent.MinCompliance > compliance {
			compliance = agent.MinCompliance
		}
		rec.SessionConfig.Participants = append(rec.SessionConfig.Participants, Participant{
			AgentID: uuid.New().String(),
			Role:    agent.Role,
			Identity: GovernanceIdentity{
				TrustScore:      trust,
				ComplianceScore: compliance,
			},
		})
	}

	if custom != nil {
		if custom.Name != "" {
			rec.Name = custom.Name
		}
		if custom.Description != "" {
			rec.Description = custom.Description
		}
		if len(custom.Tags) > 0 {
			rec.Tags = append(rec.Tags, custom.Tags...)
		}
		rec.SessionConfig.SessionType = custom.SessionType
	}

	if err := s.backend.SaveConversation(ctx, rec); err != nil {
		return nil, fmt.Errorf("save conversation from template %s: %w", templateID, err)
	}

	tpl.UsageStats.TimesUsed++
	tpl.UpdatedAt = now
	if err := s.backend.SaveTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("increment template usage %s: %w", templateID, err)
	}

	return rec, nil
}

// GetMASAnalytics returns the analytics snapshot for a user, generated from
// the full conversation set at read time and persisted for subsequent reads.
// Analytics is best-effort derived state: aggregation failures degrade to a
// well-formed all-zero snapshot, never an error.
func (s *Service) GetMASAnalytics(ctx context.Context, userID string) (*UserAnalytics, error) {
	recs, err := s.backend.ListConversations(ctx, userID, ListFilter{})
	if err != nil {
		return emptyAnalytics(userID), nil
	}

	analytics := AggregateAnalytics(userID, recs)
	if err := s.backend.SaveAnalytics(ctx, analytics); err != nil {
		// The snapshot is a cache; a failed write only costs the next
		// read another aggregation pass.
		return analytics, nil
	}
	return analytics, nil
}
