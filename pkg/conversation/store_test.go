package conversation

import (
	"testing"
	"time"
)

func TestListFilter_Matches(t *testing.T) {
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := &ConversationRecord{
		ConversationID: "c1",
		UserID:         "u1",
		Tags:           []string{"review", "q3"},
		IsPublic:       true,
		SessionConfig: SessionConfig{
			Orchestrator: OrchestratorConfig{ID: "round-robin"},
			SessionType:  "collaborative",
		},
		SessionMetrics: SessionMetrics{
			ConversationQuality:  0.75,
			GovernanceCompliance: 0.9,
		},
		CreatedAt: created,
	}

	before := created.Add(-time.Hour)
	after := created.Add(time.Hour)
	lowQuality := 0.5
	highQuality := 0.8
	isTemplate := true
	notTemplate := false
	public := true

	tests := []struct {
		name   string
		filter ListFilter
		want   bool
	}{
		{"empty filter matches", ListFilter{}, true},
		{"created after pass", ListFilter{CreatedAfter: &before}, true},
		{"created after fail", ListFilter{CreatedAfter: &after}, false},
		{"created before pass", ListFilter{CreatedBefore: &after}, true},
		{"created before fail", ListFilter{CreatedBefore: &before}, false},
		{"orchestrator match", ListFilter{OrchestratorType: "round-robin"}, true},
		{"orchestrator mismatch", ListFilter{OrchestratorType: "pipeline"}, false},
		{"session type match", ListFilter{SessionType: "collaborative"}, true},
		{"session type mismatch", ListFilter{SessionType: "solo"}, false},
		{"tag intersect", ListFilter{Tags: []string{"q3", "q4"}}, true},
		{"tag disjoint", ListFilter{Tags: []string{"q4"}}, false},
		{"quality above floor", ListFilter{MinQualityScore: &lowQuality}, true},
		{"quality below floor", ListFilter{MinQualityScore: &highQuality}, false},
		{"is template mismatch", ListFilter{IsTemplate: &isTemplate}, false},
		{"is template match", ListFilter{IsTemplate: &notTemplate}, true},
		{"is public match", ListFilter{IsPublic: &public}, true},
		{"combined pass", ListFilter{
			CreatedAfter:     &before,
			OrchestratorType: "round-robin",
			Tags:             []string{"review"},
			MinQualityScore:  &lowQuality,
		}, true},
		{"combined one fails", ListFilter{
			OrchestratorType: "round-robin",
			SessionType:      "solo",
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(rec); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
