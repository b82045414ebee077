// Package conversation provides multi-backend persistence for
// multi-agent-system (MAS) conversation records. Conversations are stored in
// a local cache for durability, mirrored to a remote document store when
// online, and reconciled by a unified service that queues writes while
// offline and resolves divergent versions on reconnect.
package conversation

import (
	"time"
)

// ConversationRecord is the central entity: one MAS conversation owned by a
// user, with its session configuration, message log, audit trail, derived
// governance insights and rollup metrics.
type ConversationRecord struct {
	// ConversationID is globally unique across all backends.
	ConversationID string `json:"conversationId"`
	// UserID identifies the owning user.
	UserID string `json:"userId"`
	// Name is the display name of the conversation.
	Name string `json:"name"`
	// Description is optional free-form text.
	Description string `json:"description,omitempty"`
	// Tags is a free-form tag set.
	Tags []string `json:"tags,omitempty"`
	// IsTemplate marks a conversation saved as a reusable starting point.
	IsTemplate bool `json:"isTemplate"`
	// IsPublic marks a conversation visible outside its owner.
	IsPublic bool `json:"isPublic"`
	// SessionConfig describes the orchestrator and participant roster.
	SessionConfig SessionConfig `json:"sessionConfig"`
	// Messages is the append-only ordered message log.
	Messages []Message `json:"messages"`
	// AuditLogShares records audit-log sharing events, append-only.
	AuditLogShares []AuditLogShare `json:"auditLogShares"`
	// GovernanceInsights holds derived insights, append-only.
	GovernanceInsights []GovernanceInsight `json:"governanceInsights"`
	// SessionMetrics is the rollup recomputed on each message append.
	SessionMetrics SessionMetrics `json:"sessionMetrics"`
	// CreatedAt is set once at creation and never changes.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is bumped on every mutation.
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionConfig describes how a conversation session is orchestrated.
type SessionConfig struct {
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	// SessionType is a free-form classifier (e.g. "collaborative").
	SessionType string `json:"sessionType,omitempty"`
	// Participants is the ordered agent roster.
	Participants []Participant `json:"participants"`
}

// OrchestratorConfig identifies the orchestrator driving a session.
// Parameters is an opaque payload stored verbatim; its business semantics
// belong to the caller.
type OrchestratorConfig struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Participant is one agent taking part in a conversation.
type Participant struct {
	AgentID  string             `json:"agentId"`
	Role     string             `json:"role"`
	Identity GovernanceIdentity `json:"identity"`
}

// GovernanceIdentity carries an agent's trust and compliance sub-scores.
type GovernanceIdentity struct {
	TrustScore      float64 `json:"trustScore"`
	ComplianceScore float64 `json:"complianceScore"`
}

// Message is a single conversation message. Messages are immutable once
// appended.
type Message struct {
	ID        string         `json:"id"`
	SenderID  string         `json:"senderId"`
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditLogShare records one audit-log sharing event.
type AuditLogShare struct {
	ID         string    `json:"id"`
	SharedWith string    `json:"sharedWith"`
	Method     string    `json:"method,omitempty"`
	SharedAt   time.Time `json:"sharedAt"`
}

// GovernanceInsight is a derived observation about a conversation.
type GovernanceInsight struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Description    string    `json:"description,omitempty"`
	Recommendation string    `json:"recommendation,omitempty"`
	Actionable     bool      `json:"actionable"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SessionMetrics is the scalar rollup for one conversation.
type SessionMetrics struct {
	MessageCount         int     `json:"messageCount"`
	ConversationQuality  float64 `json:"conversationQuality"`
	GovernanceCompliance float64 `json:"governanceCompliance"`
	ParticipationBalance float64 `json:"participationBalance"`
	DurationSeconds      float64 `json:"durationSeconds"`
}

// WorkflowTemplate is a reusable, versioned blueprint for creating new
// conversations. Templates are never auto-deleted; only usage-stat
// increments and explicit edits mutate them.
type WorkflowTemplate struct {
	TemplateID  string   `json:"templateId"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	// CreatedBy is immutable after creation.
	CreatedBy string `json:"createdBy"`
	// OrchestratorType is the recommended orchestrator for instantiations.
	OrchestratorType  string             `json:"orchestratorType"`
	RecommendedAgents []RecommendedAgent `json:"recommendedAgents,omitempty"`
	WorkflowSteps     []WorkflowStep     `json:"workflowSteps,omitempty"`
	SuccessCriteria   SuccessCriteria    `json:"successCriteria"`
	UsageStats        UsageStats         `json:"usageStats"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// RecommendedAgent is one entry in a template's participant roster.
type RecommendedAgent struct {
	Role          string  `json:"role"`
	Capability    string  `json:"capability,omitempty"`
	MinTrust      float64 `json:"minTrust"`
	MinCompliance float64 `json:"minCompliance"`
}

// WorkflowStep is one ordered step in a template's workflow.
type WorkflowStep struct {
	Name             string   `json:"name"`
	ExpectedActions  []string `json:"expectedActions,omitempty"`
	GovernanceChecks []string `json:"governanceChecks,omitempty"`
}

// SuccessCriteria holds the thresholds a templated conversation should meet.
type SuccessCriteria struct {
	MinQuality         float64 `json:"minQuality"`
	MinCompliance      float64 `json:"minCompliance"`
	MaxDurationSeconds float64 `json:"maxDurationSeconds,omitempty"`
}

// UsageStats tracks template usage. Averages are exact cumulative means
// derived from the stored sums and TimesUsed.
type UsageStats struct {
	TimesUsed              int     `json:"timesUsed"`
	AverageQuality         float64 `json:"averageQuality"`
	AverageSuccess         float64 `json:"averageSuccess"`
	AverageDurationSeconds float64 `json:"averageDurationSeconds"`
}

// UserAnalytics is a derived, denormalized aggregate over one user's
// conversations. It is a cache, not a source of truth: it must always be
// re-derivable from the full conversation set and self-heals on the next
// generation pass.
//
// The *Sum fields keep running totals so incremental updates preserve exact
// arithmetic means instead of the exponential decay a two-point blend causes.
type UserAnalytics struct {
	UserID             string  `json:"userId"`
	TotalConversations int     `json:"totalConversations"`
	TotalMessages      int     `json:"totalMessages"`
	TotalAuditShares   int     `json:"totalAuditShares"`
	QualitySum         float64 `json:"qualitySum"`
	ComplianceSum      float64 `json:"complianceSum"`
	DurationSum        float64 `json:"durationSum"`

	AverageQualityScore         float64 `json:"averageQualityScore"`
	AverageGovernanceCompliance float64 `json:"averageGovernanceCompliance"`
	AverageDurationSeconds      float64 `json:"averageDurationSeconds"`

	// OrchestratorStats groups by orchestrator id.
	OrchestratorStats map[string]*OrchestratorStat `json:"orchestratorStats,omitempty"`
	// AgentStats groups by participant role.
	AgentStats map[string]*AgentRoleStat `json:"agentStats,omitempty"`

	InsightStats InsightStats      `json:"insightStats"`
	Trends       ImprovementTrends `json:"trends"`
	GeneratedAt  time.Time         `json:"generatedAt"`
}

// OrchestratorStat accumulates usage for one orchestrator id.
type OrchestratorStat struct {
	Conversations   int     `json:"conversations"`
	QualitySum      float64 `json:"qualitySum"`
	DurationSum     float64 `json:"durationSum"`
	AverageQuality  float64 `json:"averageQuality"`
	AverageDuration float64 `json:"averageDuration"`
}

// AgentRoleStat accumulates usage for one participant role.
type AgentRoleStat struct {
	Conversations  int     `json:"conversations"`
	QualitySum     float64 `json:"qualitySum"`
	AverageQuality float64 `json:"averageQuality"`
}

// InsightStats summarizes governance insights across conversations.
type InsightStats struct {
	Total              int            `json:"total"`
	CountByType        map[string]int `json:"countByType,omitempty"`
	ActionableFraction float64        `json:"actionableFraction"`
	// TopRecommendations holds the five most frequently recurring
	// recommendation strings, ties broken by first occurrence.
	TopRecommendations []string `json:"topRecommendations,omitempty"`
}

// ImprovementTrends carries simplified trend scalars comparing the most
// recent half of a user's conversations against the earlier half.
type ImprovementTrends struct {
	QualityTrend    float64 `json:"qualityTrend"`
	ComplianceTrend float64 `json:"complianceTrend"`
}

// MetadataUpdate is a partial update to a conversation's descriptive fields.
// Nil pointers leave the corresponding field untouched; a non-nil Tags slice
// replaces the tag set.
type MetadataUpdate struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// OperationKind identifies the kind of a queued write.
type OperationKind string

const (
	// OpSaveConversation queues a full record save.
	OpSaveConversation OperationKind = "save_conversation"
	// OpUpdateMetadata queues a partial metadata update.
	OpUpdateMetadata OperationKind = "update_metadata"
	// OpSaveTemplate queues a full template save.
	OpSaveTemplate OperationKind = "save_template"
	// OpDeleteConversation queues a deletion.
	OpDeleteConversation OperationKind = "delete_conversation"
)

// PendingOperation is a write that has not yet reached the primary backend.
// Operations for the same conversation id replay in enqueue order.
type PendingOperation struct {
	ID             string              `json:"id"`
	Kind           OperationKind       `json:"kind"`
	ConversationID string              `json:"conversationId"`
	TemplateID     string              `json:"templateId,omitempty"`
	Record         *ConversationRecord `json:"record,omitempty"`
	Template       *WorkflowTemplate   `json:"template,omitempty"`
	Metadata       *MetadataUpdate     `json:"metadata,omitempty"`
	EnqueuedAt     time.Time           `json:"enqueuedAt"`
	Attempts       int                 `json:"attempts"`
}

// ConflictCategory classifies what diverged between two versions.
type ConflictCategory string

const (
	// ConflictContent means the message logs diverged.
	ConflictContent ConflictCategory = "content"
	// ConflictMetadata means name, description or tags diverged.
	ConflictMetadata ConflictCategory = "metadata"
	// ConflictStructure means the session configuration diverged.
	ConflictStructure ConflictCategory = "structure"
)

// Conflict captures two divergent versions of the same conversation detected
// during reconciliation. It is resolved (and removed) by automatic policy or
// an explicit caller choice.
type Conflict struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversationId"`
	Local          *ConversationRecord `json:"local"`
	Remote         *ConversationRecord `json:"remote"`
	Category       ConflictCategory    `json:"category"`
	DetectedAt     time.Time           `json:"detectedAt"`
}

// Clone returns a deep copy of the record. Backends hand out clones so
// callers cannot mutate cached state.
func (r *ConversationRecord) Clone() *ConversationRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Tags = append([]string(nil), r.Tags...)
	out.Messages = append([]Message(nil), r.Messages...)
	out.AuditLogShares = append([]AuditLogShare(nil), r.AuditLogShares...)
	out.GovernanceInsights = append([]GovernanceInsight(nil), r.GovernanceInsights...)
	out.SessionConfig.Participants = append([]Participant(nil), r.SessionConfig.Participants...)
	if r.SessionConfig.Orchestrator.Parameters != nil {
		params := make(map[string]any, len(r.SessionConfig.Orchestrator.Parameters))
		for k, v := range r.SessionConfig.Orchestrator.Parameters {
			params[k] = v
		}
		out.SessionConfig.Orchestrator.Parameters = params
	}
	for i := range out.Messages {
		if md := r.Messages[i].Metadata; md != nil {
			m := make(map[string]any, len(md))
			for k, v := range md {
				m[k] = v
			}
			out.Messages[i].Metadata = m
		}
	}
	return &out
}

// Clone returns a deep copy of the template.
func (t *WorkflowTemplate) Clone() *WorkflowTemplate {
	if t == nil {
		return nil
	}
	out := *t
	out.Tags = append([]string(nil), t.Tags...)
	out.RecommendedAgents = append([]RecommendedAgent(nil), t.RecommendedAgents...)
	out.WorkflowSteps = make([]WorkflowStep, len(t.WorkflowSteps))
	for i, s := range t.WorkflowSteps {
		out.WorkflowSteps[i] = WorkflowStep{
			Name:             s.Name,
			ExpectedActions:  append([]string(nil), s.ExpectedActions...),
			GovernanceChecks: append([]string(nil), s.GovernanceChecks...),
		}
	}
	return &out
}

// Clone returns a deep copy of the analytics snapshot.
func (a *UserAnalytics) Clone() *UserAnalytics {
	if a == nil {
		return nil
	}
	out := *a
	if a.OrchestratorStats != nil {
		out.OrchestratorStats = make(map[string]*OrchestratorStat, len(a.OrchestratorStats))
		for k, v := range a.OrchestratorStats {
			s := *v
			out.OrchestratorStats[k] = &s
		}
	}
	if a.AgentStats != nil {
		out.AgentStats = make(map[string]*AgentRoleStat, len(a.AgentStats))
		for k, v := range a.AgentStats {
			s := *v
			out.AgentStats[k] = &s
		}
	}
	if a.InsightStats.CountByType != nil {
		out.InsightStats.CountByType = make(map[string]int, len(a.InsightStats.CountByType))
		for k, v := range a.InsightStats.CountByType {
			out.InsightStats.CountByType[k] = v
		}
	}
	out.InsightStats.TopRecommendations = append([]string(nil), a.InsightStats.TopRecommendations...)
	return &out
}
