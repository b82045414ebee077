package conversation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestUnified(t *testing.T, cfg UnifiedConfig) (*Unified, *MemoryBackend, *MemoryBackend) {
	t.Helper()

	local := NewNamedMemoryBackend("local")
	primary := NewNamedMemoryBackend("primary")
	cfg.Primary = primary

	u, err := NewUnified(local, cfg)
	if err != nil {
		t.Fatalf("new unified: %v", err)
	}
	t.Cleanup(func() { u.Close() })
	return u, local, primary
}

func waitForPending(t *testing.T, u *Unified, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if u.GetSyncStatus().PendingOperations == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pending operations never reached %d, have %d", want, u.GetSyncStatus().PendingOperations)
}

func TestUnified_OfflineSaveIsLocallyDurable(t *testing.T) {
	u, local, primary := newTestUnified(t, UnifiedConfig{OfflineMode: true})
	ctx := context.Background()

	rec := testRecord("c1", "u1")
	if err := u.SaveConversation(ctx, rec); err != nil {
		t.Fatalf("offline save: %v", err)
	}

	// The caller's next read sees its own write.
	got, err := u.LoadConversation(ctx, "c1")
	if err != nil || got == nil {
		t.Fatalf("load after offline save: rec=%v err=%v", got, err)
	}

	if _, err := local.LoadConversation(ctx, "c1"); err != nil {
		t.Errorf("record missing from local cache: %v", err)
	}
	if _, err := primary.LoadConversation(ctx, "c1"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("primary must not be written while offline, err = %v", err)
	}

	status := u.GetSyncStatus()
	if status.PendingOperations != 1 || status.IsOnline {
		t.Errorf("status = %+v, want 1 pending and offline", status)
	}
}

func TestUnified_TriggerSyncNoopInOfflineMode(t *testing.T) {
	u, _, primary := newTestUnified(t, UnifiedConfig{OfflineMode: true})
	ctx := context.Background()

	if err := u.SaveConversation(ctx, testRecord("c1", "u1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := u.TriggerSync(ctx); err != nil {
		t.Fatalf("trigger sync: %v", err)
	}

	if got := u.GetSyncStatus().PendingOperations; got != 1 {
		t.Errorf("pending = %d, want 1 (offline sync must not drain)", got)
	}
	if _, err := primary.LoadConversation(ctx, "c1"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("primary must stay untouched, err = %v", err)
	}
}

func TestUnified_ReplayDrainsQueue(t *testing.T) {
	u, _, primary := newTestUnified(t, UnifiedConfig{})
	ctx := context.Background()

	primary.SetFailure(errors.New("remote down"))
	rec := testRecord("c1", "u1")
	if err := u.SaveConversation(ctx, rec); err != nil {
		t.Fatalf("save with failing primary: %v", err)
	}
	if got := u.GetSyncStatus().PendingOperations; got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}

	primary.SetFailure(nil)
	if err := u.TriggerSync(ctx); err != nil {
		t.Fatalf("trigger sync: %v", err)
	}

	if got := u.GetSyncStatus().PendingOperations; got != 0 {
		t.Errorf("pending = %d, want 0 after replay", got)
	}
	pushed, err := primary.LoadConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("primary after replay: %v", err)
	}
	if pushed.Name != rec.Name {
		t.Errorf("replayed name = %q, want %q", pushed.Name, rec.Name)
	}
	if u.GetSyncStatus().LastSync.IsZero() {
		t.Error("LastSync must be stamped after a pass")
	}
}

func TestUnified_SaveFansOutToFallback(t *testing.T) {
	fallback := NewNamedMemoryBackend("fallback")
	u, _, primary := newTestUnified(t, UnifiedConfig{Fallbacks: []Backend{fallback}})
	ctx := context.Background()

	primary.SetFailure(errors.New("remote down"))
	if err := u.SaveConversation(ctx, testRecord("c1", "u1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := fallback.LoadConversation(ctx, "c1"); err != nil {
		t.Errorf("fallback tier missed the write: %v", err)
	}
	if got := u.GetSyncStatus().PendingOperations; got != 1 {
		t.Errorf("pending = %d, want 1 (still owed to the primary)", got)
	}
}

// selectiveFailBackend fails conversation saves for a single id so a replay
// pass has to skip that conversation's later operations while making
// progress on everything else.
type selectiveFailBackend struct {
	*MemoryBackend
	failID string
}

func (s *selectiveFailBackend) SaveConversation(ctx context.Context, rec *ConversationRecord) error {
	if s.failID != "" && rec.ConversationID == s.failID {
		return errors.New("injected save failure")
	}
	return s.MemoryBackend.SaveConversation(ctx, rec)
}

func TestUnified_ReplayPreservesPerConversationOrder(t *testing.T) {
	local := NewNamedMemoryBackend("local")
	primary := &selectiveFailBackend{MemoryBackend: NewNamedMemoryBackend("primary"), failID: "c1"}

	u, err := NewUnified(local, UnifiedConfig{Primary: primary, OfflineMode: true})
	if err != nil {
		t.Fatalf("new unified: %v", err)
	}
	defer u.Close()
	ctx := context.Background()

	v1 := testRecord("c1", "u1")
	v1.Name = "first version"
	v2 := testRecord("c1", "u1")
	v2.Name = "second version"
	other := testRecord("c2", "u1")

	for _, rec := range []*ConversationRecord{v1, other, v2} {
		if err := u.SaveConversation(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", rec.ConversationID, err)
		}
	}

	// Come online with c1 still failing: c2 drains, both c1 ops stay queued.
	u.UpdateConfig(ConfigUpdate{OfflineMode: boolPtr(false)})
	if err := u.TriggerSync(ctx); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if got := u.GetSyncStatus().PendingOperations; got != 2 {
		t.Fatalf("pending = %d, want 2 (both c1 versions)", got)
	}
	if _, err := primary.LoadConversation(ctx, "c2"); err != nil {
		t.Errorf("c2 should have drained: %v", err)
	}

	// Once c1 recovers, both versions replay in order and v2 wins.
	primary.failID = ""
	if err := u.TriggerSync(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if got := u.GetSyncStatus().PendingOperations; got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
	final, err := primary.LoadConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("primary c1: %v", err)
	}
	if final.Name != "second version" {
		t.Errorf("final name = %q, want the later write", final.Name)
	}
}

func boolPtr(b bool) *bool { return &b }

func TestUnified_SetOnlineTriggersReplay(t *testing.T) {
	u, _, primary := newTestUnified(t, UnifiedConfig{})
	ctx := context.Background()

	u.SetOnline(false)
	if err := u.SaveConversation(ctx, testRecord("c1", "u1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	waitForPending(t, u, 1)

	u.SetOnline(true)
	waitForPending(t, u, 0)

	if _, err := primary.LoadConversation(ctx, "c1"); err != nil {
		t.Errorf("primary after reconnect: %v", err)
	}
}

func TestUnified_MetadataReplayPushesWholeRecordWhenPrimaryLacksIt(t *testing.T) {
	u, local, primary := newTestUnified(t, UnifiedConfig{})
	ctx := context.Background()

	// Seed the cache directly so no save operation is queued for c1.
	rec := testRecord("c1", "u1")
	rec.UpdatedAt = nowUTC()
	if err := local.SaveConversation(ctx, rec); err != nil {
		t.Fatalf("seed local: %v", err)
	}

	primary.SetFailure(errors.New("remote down"))
	newName := "renamed"
	if err := u.UpdateConversationMetadata(ctx, "c1", MetadataUpdate{Name: &newName}); err != nil {
		t.Fatalf("metadata update: %v", err)
	}

	cached, err := local.LoadConversation(ctx, "c1")
	if err != nil || cached.Name != "renamed" {
		t.Fatalf("local cache not updated: rec=%v err=%v", cached, err)
	}
	if got := u.GetSyncStatus().PendingOperations; got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}

	// The primary never saw the record, so the replay falls back to pushing
	// the full local copy.
	primary.SetFailure(nil)
	if err := u.TriggerSync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	pushed, err := primary.LoadConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("primary after replay: %v", err)
	}
	if pushed.Name != "renamed" {
		t.Errorf("primary name = %q, want %q", pushed.Name, "renamed")
	}
}

func TestUnified_DeleteQueuedOffline(t *testing.T) {
	u, local, primary := newTestUnified(t, UnifiedConfig{})
	ctx := context.Background()

	rec := testRecord("c1", "u1")
	if err := u.SaveConversation(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	u.SetOnline(false)
	if err := u.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatalf("offline delete: %v", err)
	}
	if _, err := local.LoadConversation(ctx, "c1"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("local copy should be gone, err = %v", err)
	}

	u.SetOnline(true)
	waitForPending(t, u, 0)
	if _, err := primary.LoadConversation(ctx, "c1"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("primary copy should be gone after replay, err = %v", err)
	}
}

func TestUnified_ManualConflictDetectionAndResolution(t *testing.T) {
	u, local, primary := newTestUnified(t, UnifiedConfig{ConflictResolution: ResolutionManual})
	ctx := context.Background()

	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	localRec := testRecord("c1", "u1")
	localRec.Name = "local version"
	localRec.UpdatedAt = base
	remoteRec := localRec.Clone()
	remoteRec.Name = "remote version"
	remoteRec.Messages = append(remoteRec.Messages, Message{ID: "m2", Content: "remote only"})
	remoteRec.UpdatedAt = base.Add(time.Minute)

	if err := local.SaveConversation(ctx, localRec); err != nil {
		t.Fatalf("seed local: %v", err)
	}
	if err := primary.SaveConversation(ctx, remoteRec); err != nil {
		t.Fatalf("seed primary: %v", err)
	}

	if err := u.TriggerSync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	conflicts := u.GetConflicts()
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.ConversationID != "c1" || c.Local == nil || c.Remote == nil {
		t.Fatalf("malformed conflict: %+v", c)
	}

	// A second pass must not duplicate the unresolved conflict.
	if err := u.TriggerSync(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if n := len(u.GetConflicts()); n != 1 {
		t.Fatalf("conflicts after second pass = %d, want 1", n)
	}

	if err := u.ResolveConflict(ctx, c.ID, "local"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if n := u.GetSyncStatus().ConflictsDetected; n != 0 {
		t.Errorf("conflicts after resolve = %d, want 0", n)
	}
	for name, b := range map[string]Backend{"local": local, "primary": primary} {
		got, err := b.LoadConversation(ctx, "c1")
		if err != nil {
			t.Fatalf("%s after resolve: %v", name, err)
		}
		if got.Name != "local version" {
			t.Errorf("%s name = %q, want chosen side", name, got.Name)
		}
	}

	if err := u.ResolveConflict(ctx, c.ID, "local"); err == nil {
		t.Error("resolving a cleared conflict must fail")
	}
	if err := u.ResolveConflict(ctx, "nope", "local"); err == nil {
		t.Error("unknown conflict id must fail")
	}
}

func TestUnified_LatestPolicyPicksNewerSide(t *testing.T) {
	u, local, primary := newTestUnified(t, UnifiedConfig{ConflictResolution: ResolutionLatest})
	ctx := context.Background()

	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	older := testRecord("c1", "u1")
	older.Name = "stale"
	older.UpdatedAt = base
	newer := older.Clone()
	newer.Name = "fresh"
	newer.Messages = append(newer.Messages, Message{ID: "m2"})
	newer.UpdatedAt = base.Add(time.Hour)

	if err := local.SaveConversation(ctx, older); err != nil {
		t.Fatalf("seed local: %v", err)
	}
	if err := primary.SaveConversation(ctx, newer); err != nil {
		t.Fatalf("seed primary: %v", err)
	}

	if err := u.TriggerSync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	got, err := local.LoadConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("local after reconcile: %v", err)
	}
	if got.Name != "fresh" {
		t.Errorf("local name = %q, want newer side", got.Name)
	}
	if n := u.GetSyncStatus().ConflictsDetected; n != 0 {
		t.Errorf("latest policy must auto-resolve, conflicts = %d", n)
	}
}

func TestUnified_PollingSubscriptionEmitsOnChange(t *testing.T) {
	u, _, _ := newTestUnified(t, UnifiedConfig{
		OfflineMode:  true,
		PollInterval: 20 * time.Millisecond,
	})
	ctx := context.Background()

	rec := testRecord("c1", "u1")
	if err := u.SaveConversation(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	updates := make(chan string, 8)
	cancel, err := u.SubscribeToConversation(ctx, "c1", func(r *ConversationRecord) {
		updates <- r.Name
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// First read always emits.
	select {
	case name := <-updates:
		if name != "session" {
			t.Errorf("initial emit = %q", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial emission")
	}

	rec.Name = "renamed"
	if err := u.SaveConversation(ctx, rec); err != nil {
		t.Fatalf("second save: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case name := <-updates:
			if name == "renamed" {
				return
			}
		case <-deadline:
			t.Fatal("no emission after change")
		}
	}
}

func TestUnified_CleanupSweepsLocalCache(t *testing.T) {
	u, local, _ := newTestUnified(t, UnifiedConfig{})
	ctx := context.Background()

	cutoff := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	stale := testRecord("old", "u1")
	stale.UpdatedAt = cutoff.Add(-time.Hour)
	fresh := testRecord("new", "u1")
	fresh.UpdatedAt = cutoff.Add(time.Hour)
	for _, rec := range []*ConversationRecord{stale, fresh} {
		if err := local.SaveConversation(ctx, rec); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	removed, err := u.CleanupConversations(ctx, "u1", cutoff)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := local.LoadConversation(ctx, "old"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("stale record should be gone, err = %v", err)
	}
	if _, err := local.LoadConversation(ctx, "new"); err != nil {
		t.Errorf("fresh record should remain: %v", err)
	}
}

func TestUnified_ReadRefreshesLocalCache(t *testing.T) {
	u, local, primary := newTestUnified(t, UnifiedConfig{})
	ctx := context.Background()

	rec := testRecord("c1", "u1")
	rec.UpdatedAt = nowUTC()
	if err := primary.SaveConversation(ctx, rec); err != nil {
		t.Fatalf("seed primary: %v", err)
	}

	got, err := u.LoadConversation(ctx, "c1")
	if err != nil || got == nil {
		t.Fatalf("load: rec=%v err=%v", got, err)
	}

	// The remote read warms the cache for later offline reads.
	if _, err := local.LoadConversation(ctx, "c1"); err != nil {
		t.Errorf("cache not refreshed: %v", err)
	}

	u.SetOnline(false)
	offline, err := u.LoadConversation(ctx, "c1")
	if err != nil || offline == nil {
		t.Fatalf("offline load after refresh: rec=%v err=%v", offline, err)
	}
}

func TestUnified_ClearingOfflineModeRestoresOnline(t *testing.T) {
	u, _, primary := newTestUnified(t, UnifiedConfig{OfflineMode: true})
	ctx := context.Background()

	if err := u.SaveConversation(ctx, testRecord("c1", "u1")); err != nil {
		t.Fatalf("offline save: %v", err)
	}
	if u.GetSyncStatus().IsOnline {
		t.Fatal("must start offline")
	}

	// Leaving offline mode must flip the online flag, not just the config,
	// or the queue can never drain.
	if err := u.UpdateConfig(ConfigUpdate{OfflineMode: boolPtr(false)}); err != nil {
		t.Fatalf("update config: %v", err)
	}
	if !u.GetSyncStatus().IsOnline {
		t.Fatal("clearing offline mode must restore the online flag")
	}
	if err := u.TriggerSync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if got := u.GetSyncStatus().PendingOperations; got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
	if _, err := primary.LoadConversation(ctx, "c1"); err != nil {
		t.Errorf("primary after drain: %v", err)
	}
}

func TestUnified_TemplateUsagePropagatesToPrimary(t *testing.T) {
	u, _, primary := newTestUnified(t, UnifiedConfig{})
	ctx := context.Background()

	tpl := &WorkflowTemplate{TemplateID: "t1", Name: "wf", OrchestratorType: "pipeline"}
	if err := u.SaveWorkflowTemplate(ctx, tpl); err != nil {
		t.Fatalf("save template: %v", err)
	}

	if _, err := u.CreateConversationFromTemplate(ctx, "t1", "u1", nil); err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	// The unified read surface prefers the primary while online, so the
	// incremented counter must be visible there.
	tpls, err := u.GetWorkflowTemplates(ctx, "")
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(tpls) != 1 || tpls[0].UsageStats.TimesUsed != 1 {
		t.Errorf("unified read times used = %+v, want 1", tpls)
	}
	stored, err := primary.LoadTemplate(ctx, "t1")
	if err != nil {
		t.Fatalf("primary template: %v", err)
	}
	if stored.UsageStats.TimesUsed != 1 {
		t.Errorf("primary times used = %d, want 1", stored.UsageStats.TimesUsed)
	}
}

func TestUnified_OfflineTemplateUsageReplays(t *testing.T) {
	u, _, primary := newTestUnified(t, UnifiedConfig{OfflineMode: true})
	ctx := context.Background()

	tpl := &WorkflowTemplate{TemplateID: "t1", Name: "wf"}
	if err := u.SaveWorkflowTemplate(ctx, tpl); err != nil {
		t.Fatalf("save template: %v", err)
	}
	if _, err := u.CreateConversationFromTemplate(ctx, "t1", "u1", nil); err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	if err := u.UpdateConfig(ConfigUpdate{OfflineMode: boolPtr(false)}); err != nil {
		t.Fatalf("update config: %v", err)
	}
	if err := u.TriggerSync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if got := u.GetSyncStatus().PendingOperations; got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
	stored, err := primary.LoadTemplate(ctx, "t1")
	if err != nil {
		t.Fatalf("primary template after replay: %v", err)
	}
	if stored.UsageStats.TimesUsed != 1 {
		t.Errorf("primary times used = %d, want 1", stored.UsageStats.TimesUsed)
	}
}

func TestUnified_EnableSyncAtRuntime(t *testing.T) {
	u, _, primary := newTestUnified(t, UnifiedConfig{
		SyncEnabled:  false,
		SyncInterval: time.Second,
	})
	ctx := context.Background()

	if err := u.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	primary.SetFailure(errors.New("remote down"))
	if err := u.SaveConversation(ctx, testRecord("c1", "u1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	primary.SetFailure(nil)

	// Enabling sync after Start must schedule the background pass.
	if err := u.UpdateConfig(ConfigUpdate{SyncEnabled: boolPtr(true)}); err != nil {
		t.Fatalf("enable sync: %v", err)
	}
	waitForPending(t, u, 0)
	if _, err := primary.LoadConversation(ctx, "c1"); err != nil {
		t.Errorf("primary after scheduled drain: %v", err)
	}

	// Disabling removes the schedule.
	if err := u.UpdateConfig(ConfigUpdate{SyncEnabled: boolPtr(false)}); err != nil {
		t.Fatalf("disable sync: %v", err)
	}
	u.mu.Lock()
	id := u.cronID
	u.mu.Unlock()
	if id != 0 {
		t.Errorf("cron entry still scheduled after disable")
	}
}

func TestUnified_FailedPassDoesNotStampLastSync(t *testing.T) {
	u, _, primary := newTestUnified(t, UnifiedConfig{})
	ctx := context.Background()

	primary.SetFailure(errors.New("remote down"))
	if err := u.SaveConversation(ctx, testRecord("c1", "u1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := u.TriggerSync(canceled); err == nil {
		t.Fatal("expected sync failure on canceled context")
	}
	if !u.GetSyncStatus().LastSync.IsZero() {
		t.Error("failed pass must not advance LastSync")
	}

	primary.SetFailure(nil)
	if err := u.TriggerSync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if u.GetSyncStatus().LastSync.IsZero() {
		t.Error("successful pass must stamp LastSync")
	}
}

func TestUnified_ConcurrentReadsAndWritesSameRecord(t *testing.T) {
	u, _, primary := newTestUnified(t, UnifiedConfig{})
	ctx := context.Background()

	rec := testRecord("c1", "u1")
	rec.UpdatedAt = nowUTC()
	if err := primary.SaveConversation(ctx, rec); err != nil {
		t.Fatalf("seed primary: %v", err)
	}

	done := make(chan error, 20)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := u.LoadConversation(ctx, "c1")
			done <- err
		}()
		go func() {
			done <- u.SaveConversation(ctx, rec.Clone())
		}()
	}
	for i := 0; i < 20; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent op: %v", err)
		}
	}

	if _, err := u.LoadConversation(ctx, "c1"); err != nil {
		t.Errorf("load after churn: %v", err)
	}
}

func TestUnified_ValidatesBeforeQueueing(t *testing.T) {
	u, _, _ := newTestUnified(t, UnifiedConfig{OfflineMode: true})

	if err := u.SaveConversation(context.Background(), &ConversationRecord{}); err == nil {
		t.Error("expected validation error")
	}
	if got := u.GetSyncStatus().PendingOperations; got != 0 {
		t.Errorf("invalid record must not be queued, pending = %d", got)
	}
}
