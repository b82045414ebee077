package conversation

import (
	"sort"
)

// emptyAnalytics returns a well-formed all-zero snapshot.
func emptyAnalytics(userID string) *UserAnalytics {
	return &UserAnalytics{
		UserID:            userID,
		OrchestratorStats: map[string]*OrchestratorStat{},
		AgentStats:        map[string]*AgentRoleStat{},
		InsightStats:      InsightStats{CountByType: map[string]int{}},
		GeneratedAt:       nowUTC(),
	}
}

// AggregateAnalytics computes a user's analytics snapshot from the full
// conversation set in one pass. Averages are exact arithmetic means.
func AggregateAnalytics(userID string, recs []*ConversationRecord) *UserAnalytics {
	a := emptyAnalytics(userID)
	if len(recs) == 0 {
		return a
	}

	var actionable int
	recCounts := map[string]int{}
	recOrder := []string{}

	for _, rec := range recs {
		a.TotalConversations++
		a.TotalMessages += len(rec.Messages)
		a.TotalAuditShares += len(rec.AuditLogShares)
		a.QualitySum += rec.SessionMetrics.ConversationQuality
		a.ComplianceSum += rec.SessionMetrics.GovernanceCompliance
		a.DurationSum += rec.SessionMetrics.DurationSeconds

		orchID := rec.SessionConfig.Orchestrator.ID
		if orchID != "" {
			stat := a.OrchestratorStats[orchID]
			if stat == nil {
				stat = &OrchestratorStat{}
				a.OrchestratorStats[orchID] = stat
			}
			stat.Conversations++
			stat.QualitySum += rec.SessionMetrics.ConversationQuality
			stat.DurationSum += rec.SessionMetrics.DurationSeconds
		}

		for _, p := range rec.SessionConfig.Participants {
			if p.Role == "" {
				continue
			}
			stat := a.AgentStats[p.Role]
			if stat == nil {
				stat = &AgentRoleStat{}
				a.AgentStats[p.Role] = stat
			}
			stat.Conversations++
			stat.QualitySum += rec.SessionMetrics.ConversationQuality
		}

		for _, ins := range rec.GovernanceInsights {
			a.InsightStats.Total++
			a.InsightStats.CountByType[ins.Type]++
			if ins.Actionable {
				actionable++
			}
			if ins.Recommendation != "" {
				if _, seen := recCounts[ins.Recommendation]; !seen {
					recOrder = append(recOrder, ins.Recommendation)
				}
				recCounts[ins.Recommendation]++
			}
		}
	}

	n := float64(a.TotalConversations)
	a.AverageQualityScore = a.QualitySum / n
	a.AverageGovernanceCompliance = a.ComplianceSum / n
	a.AverageDurationSeconds = a.DurationSum / n

	for _, stat := range a.OrchestratorStats {
		c := float64(stat.Conversations)
		stat.AverageQuality = stat.QualitySum / c
		stat.AverageDuration = stat.DurationSum / c
	}
	for _, stat := range a.AgentStats {
		stat.AverageQuality = stat.QualitySum / float64(stat.Conversations)
	}

	if a.InsightStats.Total > 0 {
		a.InsightStats.ActionableFraction = float64(actionable) / float64(a.InsightStats.Total)
	}
	a.InsightStats.TopRecommendations = topRecommendations(recCounts, recOrder, 5)
	a.Trends = computeTrends(recs)

	return a
}

// topRecommendations returns the limit most frequent recommendation strings.
// Ties break by insertion order of first occurrence.
func topRecommendations(counts map[string]int, order []string, limit int) []string {
	ranked := append([]string(nil), order...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return counts[ranked[i]] > counts[ranked[j]]
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// computeTrends compares the more recent half of the conversations (by
// CreatedAt) against the earlier half.
func computeTrends(recs []*ConversationRecord) ImprovementTrends {
	if len(recs) < 2 {
		return ImprovementTrends{}
	}

	ordered := append([]*ConversationRecord(nil), recs...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	mid := len(ordered) / 2
	early, late := ordered[:mid], ordered[mid:]

	mean := func(rs []*ConversationRecord, pick func(*ConversationRecord) float64) float64 {
		var sum float64
		for _, r := range rs {
			sum += pick(r)
		}
		return sum / float64(len(rs))
	}
	quality := func(r *ConversationRecord) float64 { return r.SessionMetrics.ConversationQuality }
	compliance := func(r *ConversationRecord) float64 { return r.SessionMetrics.GovernanceCompliance }

	return ImprovementTrends{
		QualityTrend:    mean(late, quality) - mean(early, quality),
		ComplianceTrend: mean(late, compliance) - mean(early, compliance),
	}
}

// ApplyConversation folds one saved conversation into the snapshot
// incrementally, keeping exact cumulative means via the stored sums and
// counts. The remote service uses this to maintain the denormalized per-user
// analytics document in O(1) per save.
func (a *UserAnalytics) ApplyConversation(rec *ConversationRecord) {
	a.TotalConversations++
	a.TotalMessages += len(rec.Messages)
	a.TotalAuditShares += len(rec.AuditLogShares)
	a.QualitySum += rec.SessionMetrics.ConversationQuality
	a.ComplianceSum += rec.SessionMetrics.GovernanceCompliance
	a.DurationSum += rec.SessionMetrics.DurationSeconds

	n := float64(a.TotalConversations)
	a.AverageQualityScore = a.QualitySum / n
	a.AverageGovernanceCompliance = a.ComplianceSum / n
	a.AverageDurationSeconds = a.DurationSum / n

	if orchID := rec.SessionConfig.Orchestrator.ID; orchID != "" {
		if a.OrchestratorStats == nil {
			a.OrchestratorStats = map[string]*OrchestratorStat{}
		}
		stat := a.OrchestratorStats[orchID]
		if stat == nil {
			stat = &OrchestratorStat{}
			a.OrchestratorStats[orchID] = stat
		}
		stat.Conversations++
		stat.QualitySum += rec.SessionMetrics.ConversationQuality
		stat.DurationSum += rec.SessionMetrics.DurationSeconds
		c := float64(stat.Conversations)
		stat.AverageQuality = stat.QualitySum / c
		stat.AverageDuration = stat.DurationSum / c
	}

	a.GeneratedAt = nowUTC()
}
