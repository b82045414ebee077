package conversation

import (
	"math"
	"testing"
	"time"
)

func analyticsFixture() []*ConversationRecord {
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	mk := func(i int, orch, role string, quality, compliance, duration float64, insights []GovernanceInsight) *ConversationRecord {
		return &ConversationRecord{
			ConversationID: string(rune('a' + i)),
			UserID:         "u1",
			SessionConfig: SessionConfig{
				Orchestrator: OrchestratorConfig{ID: orch},
				Participants: []Participant{{AgentID: "ag", Role: role}},
			},
			Messages:           make([]Message, i+1),
			GovernanceInsights: insights,
			SessionMetrics: SessionMetrics{
				ConversationQuality:  quality,
				GovernanceCompliance: compliance,
				DurationSeconds:      duration,
			},
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
	}

	return []*ConversationRecord{
		mk(0, "round-robin", "analyst", 0.4, 0.8, 100, []GovernanceInsight{
			{ID: "i1", Type: "quality", Recommendation: "add moderator", Actionable: true},
			{ID: "i2", Type: "balance", Recommendation: "rotate speakers"},
		}),
		mk(1, "round-robin", "critic", 0.6, 0.9, 200, []GovernanceInsight{
			{ID: "i3", Type: "quality", Recommendation: "add moderator", Actionable: true},
		}),
		mk(2, "pipeline", "analyst", 0.8, 1.0, 300, nil),
		mk(3, "pipeline", "analyst", 1.0, 0.7, 400, nil),
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAggregateAnalytics_ExactMeans(t *testing.T) {
	a := AggregateAnalytics("u1", analyticsFixture())

	if a.TotalConversations != 4 {
		t.Errorf("total conversations = %d, want 4", a.TotalConversations)
	}
	if a.TotalMessages != 1+2+3+4 {
		t.Errorf("total messages = %d, want 10", a.TotalMessages)
	}
	if !almostEqual(a.AverageQualityScore, (0.4+0.6+0.8+1.0)/4) {
		t.Errorf("average quality = %v", a.AverageQualityScore)
	}
	if !almostEqual(a.AverageGovernanceCompliance, (0.8+0.9+1.0+0.7)/4) {
		t.Errorf("average compliance = %v", a.AverageGovernanceCompliance)
	}
	if !almostEqual(a.AverageDurationSeconds, 250) {
		t.Errorf("average duration = %v", a.AverageDurationSeconds)
	}

	rr := a.OrchestratorStats["round-robin"]
	if rr == nil || rr.Conversations != 2 || !almostEqual(rr.AverageQuality, 0.5) {
		t.Errorf("round-robin stats = %+v", rr)
	}
	pl := a.OrchestratorStats["pipeline"]
	if pl == nil || !almostEqual(pl.AverageDuration, 350) {
		t.Errorf("pipeline stats = %+v", pl)
	}

	analyst := a.AgentStats["analyst"]
	if analyst == nil || analyst.Conversations != 3 {
		t.Errorf("analyst stats = %+v", analyst)
	}
}

func TestAggregateAnalytics_Insights(t *testing.T) {
	a := AggregateAnalytics("u1", analyticsFixture())

	if a.InsightStats.Total != 3 {
		t.Errorf("insight total = %d, want 3", a.InsightStats.Total)
	}
	if a.InsightStats.CountByType["quality"] != 2 {
		t.Errorf("quality insights = %d, want 2", a.InsightStats.CountByType["quality"])
	}
	if !almostEqual(a.InsightStats.ActionableFraction, 2.0/3.0) {
		t.Errorf("actionable fraction = %v", a.InsightStats.ActionableFraction)
	}
	if len(a.InsightStats.TopRecommendations) == 0 || a.InsightStats.TopRecommendations[0] != "add moderator" {
		t.Errorf("top recommendations = %v", a.InsightStats.TopRecommendations)
	}
}

func TestAggregateAnalytics_Trends(t *testing.T) {
	a := AggregateAnalytics("u1", analyticsFixture())

	// Later half (0.8, 1.0) vs earlier half (0.4, 0.6): +0.4 quality.
	if !almostEqual(a.Trends.QualityTrend, 0.4) {
		t.Errorf("quality trend = %v, want 0.4", a.Trends.QualityTrend)
	}
}

func TestAggregateAnalytics_EmptySet(t *testing.T) {
	a := AggregateAnalytics("u1", nil)
	if a.UserID != "u1" || a.TotalConversations != 0 {
		t.Errorf("unexpected empty snapshot: %+v", a)
	}
	if a.OrchestratorStats == nil || a.InsightStats.CountByType == nil {
		t.Error("maps must be initialized in empty snapshot")
	}
	if a.GeneratedAt.IsZero() {
		t.Error("GeneratedAt must be stamped")
	}
}

// Incremental folding must agree with full aggregation: the stored sums keep
// the means exact regardless of how many saves arrive one at a time.
func TestApplyConversation_MatchesFullAggregation(t *testing.T) {
	recs := analyticsFixture()

	full := AggregateAnalytics("u1", recs)

	incremental := &UserAnalytics{UserID: "u1"}
	for _, rec := range recs {
		incremental.ApplyConversation(rec)
	}

	if incremental.TotalConversations != full.TotalConversations {
		t.Errorf("totals diverge: %d vs %d", incremental.TotalConversations, full.TotalConversations)
	}
	if !almostEqual(incremental.AverageQualityScore, full.AverageQualityScore) {
		t.Errorf("quality diverges: %v vs %v", incremental.AverageQualityScore, full.AverageQualityScore)
	}
	if !almostEqual(incremental.AverageDurationSeconds, full.AverageDurationSeconds) {
		t.Errorf("duration diverges: %v vs %v", incremental.AverageDurationSeconds, full.AverageDurationSeconds)
	}

	rrInc := incremental.OrchestratorStats["round-robin"]
	rrFull := full.OrchestratorStats["round-robin"]
	if rrInc == nil || !almostEqual(rrInc.AverageQuality, rrFull.AverageQuality) {
		t.Errorf("orchestrator stats diverge: %+v vs %+v", rrInc, rrFull)
	}
}

func TestTopRecommendations_TieBreaksByFirstSeen(t *testing.T) {
	counts := map[string]int{"x": 2, "y": 2, "z": 3}
	order := []string{"y", "x", "z"}

	got := topRecommendations(counts, order, 5)
	want := []string{"z", "y", "x"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ranked[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if got := topRecommendations(counts, order, 2); len(got) != 2 {
		t.Errorf("limit not applied: %v", got)
	}
}
