package conversation

import (
	"sort"

	"github.com/google/uuid"
)

// recordsDiverge reports whether two versions of the same conversation
// differ materially (message log, session structure or metadata).
func recordsDiverge(local, remote *ConversationRecord) bool {
	return messagesDiffer(local, remote) || structureDiffers(local, remote) || metadataDiffers(local, remote)
}

// classifyConflict picks the dominant divergence category. Content outranks
// structure, which outranks metadata.
func classifyConflict(local, remote *ConversationRecord) ConflictCategory {
	switch {
	case messagesDiffer(local, remote):
		return ConflictContent
	case structureDiffers(local, remote):
		return ConflictStructure
	default:
		return ConflictMetadata
	}
}

func messagesDiffer(local, remote *ConversationRecord) bool {
	if len(local.Messages) != len(remote.Messages) {
		return true
	}
	for i := range local.Messages {
		if local.Messages[i].ID != remote.Messages[i].ID {
			return true
		}
	}
	return false
}

func structureDiffers(local, remote *ConversationRecord) bool {
	if local.SessionConfig.Orchestrator.ID != remote.SessionConfig.Orchestrator.ID {
		return true
	}
	if len(local.SessionConfig.Participants) != len(remote.SessionConfig.Participants) {
		return true
	}
	for i := range local.SessionConfig.Participants {
		if local.SessionConfig.Participants[i].AgentID != remote.SessionConfig.Participants[i].AgentID {
			return true
		}
	}
	return false
}

func metadataDiffers(local, remote *ConversationRecord) bool {
	if local.Name != remote.Name || local.Description != remote.Description {
		return true
	}
	if len(local.Tags) != len(remote.Tags) {
		return true
	}
	seen := map[string]bool{}
	for _, t := range local.Tags {
		seen[t] = true
	}
	for _, t := range remote.Tags {
		if !seen[t] {
			return true
		}
	}
	return false
}

// newConflict builds a conflict record from two divergent versions.
func newConflict(local, remote *ConversationRecord) *Conflict {
	return &Conflict{
		ID:             uuid.New().String(),
		ConversationID: local.ConversationID,
		Local:          local.Clone(),
		Remote:         remote.Clone(),
		Category:       classifyConflict(local, remote),
		DetectedAt:     nowUTC(),
	}
}

// mergeRecords reconciles two divergent versions into one canonical record:
// tags are set-unioned, messages (and audit shares) are concatenated,
// deduplicated by id and time-sorted, and non-empty local name/description
// win over remote. Scalar metrics come from whichever side was updated more
// recently; the message-count rollup is recomputed from the merged log.
func mergeRecords(local, remote *ConversationRecord) *ConversationRecord {
	merged := local.Clone()

	merged.Tags = unionStrings(local.Tags, remote.Tags)
	merged.Messages = mergeMessages(local.Messages, remote.Messages)
	merged.AuditLogShares = mergeAuditShares(local.AuditLogShares, remote.AuditLogShares)
	merged.GovernanceInsights = mergeInsights(local.GovernanceInsights, remote.GovernanceInsights)

	if merged.Name == "" {
		merged.Name = remote.Name
	}
	if merged.Description == "" {
		merged.Description = remote.Description
	}

	if remote.UpdatedAt.After(local.UpdatedAt) {
		merged.SessionMetrics = remote.SessionMetrics
	}
	merged.SessionMetrics.MessageCount = len(merged.Messages)

	if remote.CreatedAt.Before(merged.CreatedAt) {
		merged.CreatedAt = remote.CreatedAt
	}
	merged.UpdatedAt = nowUTC()

	return merged
}

func unionStrings(a, b []string) []string {
	out := append([]string(nil), a...)
	seen := map[string]bool{}
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func mergeMessages(a, b []Message) []Message {
	out := append([]Message(nil), a...)
	seen := map[string]bool{}
	for _, m := range a {
		seen[m.ID] = true
	}
	for _, m := range b {
		if !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func mergeAuditShares(a, b []AuditLogShare) []AuditLogShare {
	out := append([]AuditLogShare(nil), a...)
	seen := map[string]bool{}
	for _, s := range a {
		seen[s.ID] = true
	}
	for _, s := range b {
		if !seen[s.ID] {
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SharedAt.Before(out[j].SharedAt)
	})
	return out
}

func mergeInsights(a, b []GovernanceInsight) []GovernanceInsight {
	out := append([]GovernanceInsight(nil), a...)
	seen := map[string]bool{}
	for _, in := range a {
		seen[in.ID] = true
	}
	for _, in := range b {
		if !seen[in.ID] {
			seen[in.ID] = true
			out = append(out, in)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
