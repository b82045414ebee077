// Package backendtest provides a conformance suite every conversation
// backend must pass. New backends (including future enterprise adapters)
// plug into the system by implementing conversation.Backend and running
// this suite against a live instance.
package backendtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/convsync/pkg/conversation"
)

// Factory creates a fresh, empty backend for each subtest. Cleanup is the
// test's responsibility via t.Cleanup inside the factory.
type Factory func(t *testing.T) conversation.Backend

// Run exercises the full Backend contract against the given factory.
func Run(t *testing.T, factory Factory) {
	t.Run("ConversationRoundTrip", func(t *testing.T) { testConversationRoundTrip(t, factory) })
	t.Run("ConversationNotFound", func(t *testing.T) { testConversationNotFound(t, factory) })
	t.Run("ConversationOverwrite", func(t *testing.T) { testConversationOverwrite(t, factory) })
	t.Run("DeleteConversation", func(t *testing.T) { testDeleteConversation(t, factory) })
	t.Run("MetadataUpdate", func(t *testing.T) { testMetadataUpdate(t, factory) })
	t.Run("ListScopedToUser", func(t *testing.T) { testListScopedToUser(t, factory) })
	t.Run("ListFilterAndLimit", func(t *testing.T) { testListFilterAndLimit(t, factory) })
	t.Run("TemplateRoundTrip", func(t *testing.T) { testTemplateRoundTrip(t, factory) })
	t.Run("TemplateCategoryFilter", func(t *testing.T) { testTemplateCategoryFilter(t, factory) })
	t.Run("AnalyticsRoundTrip", func(t *testing.T) { testAnalyticsRoundTrip(t, factory) })
	t.Run("TimestampFidelity", func(t *testing.T) { testTimestampFidelity(t, factory) })
}

// SampleConversation builds a fully populated record for conformance tests.
func SampleConversation(id, userID string) *conversation.ConversationRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &conversation.ConversationRecord{
		ConversationID: id,
		UserID:         userID,
		Name:           "quarterly review",
		Description:    "multi-agent review session",
		Tags:           []string{"review", "q3"},
		SessionConfig: conversation.SessionConfig{
			Orchestrator: conversation.OrchestratorConfig{
				ID:   "round-robin",
				Name: "Round Robin",
			},
			SessionType: "collaborative",
			Participants: []conversation.Participant{
				{
					AgentID: "agent-1",
					Role:    "analyst",
					Identity: conversation.GovernanceIdentity{
						TrustScore:      0.9,
						ComplianceScore: 0.95,
					},
				},
			},
		},
		Messages: []conversation.Message{
			{ID: "m1", SenderID: "agent-1", Role: "analyst", Content: "hello", Timestamp: now},
		},
		AuditLogShares: []conversation.AuditLogShare{
			{ID: "s1", SharedWith: "auditor@example.com", Method: "email", SharedAt: now},
		},
		GovernanceInsights: []conversation.GovernanceInsight{
			{ID: "i1", Type: "quality", Description: "balanced", Actionable: true, CreatedAt: now},
		},
		SessionMetrics: conversation.SessionMetrics{
			MessageCount:         1,
			ConversationQuality:  0.8,
			GovernanceCompliance: 0.9,
			ParticipationBalance: 1.0,
			DurationSeconds:      120,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testConversationRoundTrip(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	rec := SampleConversation("conv-1", "user-1")
	require.NoError(t, b.SaveConversation(ctx, rec))

	got, err := b.LoadConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ConversationID, got.ConversationID)
	assert.Equal(t, rec.UserID, got.UserID)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Tags, got.Tags)
	assert.Equal(t, len(rec.Messages), len(got.Messages))
	assert.Equal(t, rec.Messages[0].Content, got.Messages[0].Content)
	assert.Equal(t, rec.SessionMetrics, got.SessionMetrics)
}

func testConversationNotFound(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	_, err := b.LoadConversation(ctx, "missing")
	assert.True(t, errors.Is(err, conversation.ErrConversationNotFound), "got %v", err)
}

func testConversationOverwrite(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	rec := SampleConversation("conv-1", "user-1")
	require.NoError(t, b.SaveConversation(ctx, rec))

	rec.Name = "renamed"
	rec.Messages = append(rec.Messages, conversation.Message{
		ID: "m2", SenderID: "agent-1", Content: "more", Timestamp: time.Now().UTC(),
	})
	require.NoError(t, b.SaveConversation(ctx, rec))

	got, err := b.LoadConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Len(t, got.Messages, 2)
}

func testDeleteConversation(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	rec := SampleConversation("conv-1", "user-1")
	require.NoError(t, b.SaveConversation(ctx, rec))
	require.NoError(t, b.DeleteConversation(ctx, "conv-1"))

	_, err := b.LoadConversation(ctx, "conv-1")
	assert.True(t, errors.Is(err, conversation.ErrConversationNotFound))
}

func testMetadataUpdate(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	rec := SampleConversation("conv-1", "user-1")
	require.NoError(t, b.SaveConversation(ctx, rec))

	name := "updated name"
	require.NoError(t, b.UpdateConversationMetadata(ctx, "conv-1", conversation.MetadataUpdate{
		Name: &name,
		Tags: []string{"fresh"},
	}))

	got, err := b.LoadConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "updated name", got.Name)
	// Description pointer was nil, so it must survive untouched.
	assert.Equal(t, rec.Description, got.Description)
	assert.Equal(t, []string{"fresh"}, got.Tags)
	assert.True(t, got.UpdatedAt.After(rec.UpdatedAt) || got.UpdatedAt.Equal(rec.UpdatedAt))
}

func testListScopedToUser(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	require.NoError(t, b.SaveConversation(ctx, SampleConversation("conv-1", "user-1")))
	require.NoError(t, b.SaveConversation(ctx, SampleConversation("conv-2", "user-1")))
	require.NoError(t, b.SaveConversation(ctx, SampleConversation("conv-3", "user-2")))

	recs, err := b.ListConversations(ctx, "user-1", conversation.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, "user-1", rec.UserID)
	}
}

func testListFilterAndLimit(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	for i, quality := range []float64{0.3, 0.6, 0.9} {
		rec := SampleConversation(string(rune('a'+i)), "user-1")
		rec.SessionMetrics.ConversationQuality = quality
		rec.UpdatedAt = rec.UpdatedAt.Add(time.Duration(i) * time.Minute)
		require.NoError(t, b.SaveConversation(ctx, rec))
	}

	minQuality := 0.5
	recs, err := b.ListConversations(ctx, "user-1", conversation.ListFilter{
		MinQualityScore: &minQuality,
	})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = b.ListConversations(ctx, "user-1", conversation.ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	// Newest-updated first.
	assert.Equal(t, "c", recs[0].ConversationID)
}

func testTemplateRoundTrip(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	tpl := &conversation.WorkflowTemplate{
		TemplateID:       "tpl-1",
		Name:             "analysis workflow",
		Category:         "analysis",
		OrchestratorType: "pipeline",
		CreatedBy:        "user-1",
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, b.SaveTemplate(ctx, tpl))

	got, err := b.LoadTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, tpl.Name, got.Name)
	assert.Equal(t, tpl.OrchestratorType, got.OrchestratorType)

	_, err = b.LoadTemplate(ctx, "missing")
	assert.True(t, errors.Is(err, conversation.ErrTemplateNotFound))
}

func testTemplateCategoryFilter(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	for id, category := range map[string]string{"tpl-1": "analysis", "tpl-2": "review", "tpl-3": "analysis"} {
		require.NoError(t, b.SaveTemplate(ctx, &conversation.WorkflowTemplate{
			TemplateID: id,
			Category:   category,
			UpdatedAt:  time.Now().UTC(),
		}))
	}

	tpls, err := b.ListTemplates(ctx, "analysis")
	require.NoError(t, err)
	assert.Len(t, tpls, 2)

	tpls, err = b.ListTemplates(ctx, "")
	require.NoError(t, err)
	assert.Len(t, tpls, 3)
}

func testAnalyticsRoundTrip(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	_, err := b.LoadAnalytics(ctx, "user-1")
	assert.True(t, errors.Is(err, conversation.ErrAnalyticsNotFound))

	a := &conversation.UserAnalytics{
		UserID:              "user-1",
		TotalConversations:  3,
		TotalMessages:       12,
		QualitySum:          2.4,
		AverageQualityScore: 0.8,
		GeneratedAt:         time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, b.SaveAnalytics(ctx, a))

	got, err := b.LoadAnalytics(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, a.TotalConversations, got.TotalConversations)
	assert.Equal(t, a.AverageQualityScore, got.AverageQualityScore)
}

func testTimestampFidelity(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	created := time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	rec := SampleConversation("conv-ts", "user-1")
	rec.CreatedAt = created
	rec.UpdatedAt = created
	rec.Messages[0].Timestamp = created
	require.NoError(t, b.SaveConversation(ctx, rec))

	got, err := b.LoadConversation(ctx, "conv-ts")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(created), "CreatedAt %v != %v", got.CreatedAt, created)
	assert.True(t, got.Messages[0].Timestamp.Equal(created))
}
