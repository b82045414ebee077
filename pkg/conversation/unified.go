package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aixgo-dev/convsync/pkg/observability"
)

// ConflictResolution selects how divergent versions are reconciled.
type ConflictResolution string

const (
	// ResolutionLatest picks whichever side was updated more recently.
	ResolutionLatest ConflictResolution = "latest"
	// ResolutionMerge combines both sides into one reconciled record.
	ResolutionMerge ConflictResolution = "merge"
	// ResolutionManual surfaces a Conflict for the caller to resolve.
	ResolutionManual ConflictResolution = "manual"
)

// UnifiedConfig configures the unified persistence service.
type UnifiedConfig struct {
	// Primary is the preferred backend for reads and writes.
	Primary Backend
	// Fallbacks are tried in order when the primary is unavailable.
	Fallbacks []Backend
	// SyncEnabled starts the periodic background sync.
	SyncEnabled bool
	// SyncInterval is the background sync period (default 30s).
	SyncInterval time.Duration
	// ConflictResolution is the reconciliation policy (default latest).
	ConflictResolution ConflictResolution
	// OfflineMode forces all writes onto the queue regardless of
	// connectivity.
	OfflineMode bool
	// OperationTimeout bounds every backend call made by this service so a
	// hung remote call cannot stall a sync pass (default 15s).
	OperationTimeout time.Duration
	// PollInterval is the re-read period for subscription polling when the
	// primary has no push support (default 10s).
	PollInterval time.Duration
}

func (c *UnifiedConfig) applyDefaults() {
	if c.SyncInterval <= 0 {
		c.SyncInterval = 30 * time.Second
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 15 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.ConflictResolution == "" {
		c.ConflictResolution = ResolutionLatest
	}
}

// ConfigUpdate is a partial update to the unified configuration. Nil fields
// leave the current value untouched.
type ConfigUpdate struct {
	SyncEnabled        *bool
	ConflictResolution *ConflictResolution
	OfflineMode        *bool
}

// SyncStatus is the observable synchronization state.
type SyncStatus struct {
	IsOnline          bool      `json:"isOnline"`
	LastSync          time.Time `json:"lastSync"`
	PendingOperations int       `json:"pendingOperations"`
	ConflictsDetected int       `json:"conflictsDetected"`
	SyncInProgress    bool      `json:"syncInProgress"`
}

// Unified is the orchestration layer callers use exclusively. Every write
// lands in the local cache first (so a caller's next read sees its own write
// even with the network down), then reaches the primary backend directly or
// through the pending-operation queue. A periodic pass replays the queue and
// reconciles divergent versions.
//
// Exactly one Unified should own the sync timer and queue per process; it is
// constructed explicitly and injected, never a package-level singleton.
type Unified struct {
	local    Backend
	localSvc *Service
	cfg      UnifiedConfig

	queue     *operationQueue
	conflicts map[string]*Conflict

	mu             sync.Mutex
	online         bool
	syncInProgress bool
	lastSync       time.Time

	// locks serializes all mutation paths per conversation id so a replay
	// and a fresh write cannot race on the same record.
	locks  map[string]*sync.Mutex
	lockMu sync.Mutex

	cron    *cron.Cron
	cronID  cron.EntryID
	limiter *rate.Limiter
	tracer  trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUnified creates the unified service over a local cache backend and the
// configured primary/fallback backends. Call Start to begin background
// synchronization and Close to tear everything down.
func NewUnified(local Backend, cfg UnifiedConfig, opts ...ServiceOption) (*Unified, error) {
	if local == nil {
		return nil, errors.New("local backend is required")
	}
	if cfg.Primary == nil {
		return nil, errors.New("primary backend is required")
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	u := &Unified{
		local:     local,
		localSvc:  NewService(local, opts...),
		cfg:       cfg,
		queue:     newOperationQueue(),
		conflicts: make(map[string]*Conflict),
		online:    !cfg.OfflineMode,
		locks:     make(map[string]*sync.Mutex),
		cron:      cron.New(),
		limiter:   rate.NewLimiter(rate.Limit(50), 10),
		tracer:    otel.Tracer("convsync"),
		ctx:       ctx,
		cancel:    cancel,
	}
	return u, nil
}

// Start launches the periodic background sync when enabled.
func (u *Unified) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.cfg.SyncEnabled {
		return nil
	}
	return u.scheduleSyncLocked()
}

// scheduleSyncLocked registers the cron entry if none exists. The caller
// holds u.mu.
func (u *Unified) scheduleSyncLocked() error {
	if u.cronID != 0 {
		return nil
	}

	id, err := u.cron.AddFunc(fmt.Sprintf("@every %s", u.cfg.SyncInterval), func() {
		u.probeConnectivity()
		if err := u.TriggerSync(u.ctx); err != nil {
			log.Printf("convsync: background sync: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	u.cronID = id
	u.cron.Start()
	return nil
}

// Close stops the sync timer and pollers and releases all backends.
func (u *Unified) Close() error {
	u.cron.Stop()
	u.cancel()
	u.wg.Wait()

	var firstErr error
	for _, b := range append([]Backend{u.local, u.cfg.Primary}, u.cfg.Fallbacks...) {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// lockFor returns the per-conversation mutex, creating it on first use.
func (u *Unified) lockFor(conversationID string) *sync.Mutex {
	u.lockMu.Lock()
	defer u.lockMu.Unlock()

	l, ok := u.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		u.locks[conversationID] = l
	}
	return l
}

func (u *Unified) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	u.mu.Lock()
	timeout := u.cfg.OperationTimeout
	u.mu.Unlock()
	return context.WithTimeout(ctx, timeout)
}

// SetOnline records the platform connectivity signal. Going online kicks off
// an immediate sync pass.
func (u *Unified) SetOnline(online bool) {
	u.mu.Lock()
	wasOnline := u.online
	u.online = online
	u.mu.Unlock()

	if online && !wasOnline {
		go func() {
			if err := u.TriggerSync(u.ctx); err != nil {
				log.Printf("convsync: sync on reconnect: %v", err)
			}
		}()
	}
}

func (u *Unified) isOnline() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.online && !u.cfg.OfflineMode
}

// Ping checks the primary backend's liveness. A primary without a liveness
// probe always reports healthy.
func (u *Unified) Ping(ctx context.Context) error {
	p, ok := u.cfg.Primary.(Pinger)
	if !ok {
		return nil
	}
	opCtx, cancel := u.opCtx(ctx)
	defer cancel()
	return p.Ping(opCtx)
}

// probeConnectivity pings the primary backend when it supports liveness
// checks and flips the online flag accordingly.
func (u *Unified) probeConnectivity() {
	p, ok := u.cfg.Primary.(Pinger)
	if !ok {
		return
	}
	ctx, cancel := u.opCtx(u.ctx)
	defer cancel()

	u.mu.Lock()
	if u.cfg.OfflineMode {
		u.mu.Unlock()
		return
	}
	u.mu.Unlock()

	err := p.Ping(ctx)
	u.mu.Lock()
	u.online = err == nil
	u.mu.Unlock()
}

// UpdateConfig applies a partial configuration update. Enabling sync
// schedules the background pass if none is running; disabling it removes the
// schedule. Clearing offline mode restores the online flag optimistically so
// the next TriggerSync can drain the queue; the connectivity probe corrects
// the flag if the primary is actually unreachable.
func (u *Unified) UpdateConfig(update ConfigUpdate) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if update.SyncEnabled != nil && *update.SyncEnabled != u.cfg.SyncEnabled {
		u.cfg.SyncEnabled = *update.SyncEnabled
		if *update.SyncEnabled {
			if err := u.scheduleSyncLocked(); err != nil {
				return err
			}
		} else if u.cronID != 0 {
			u.cron.Remove(u.cronID)
			u.cronID = 0
		}
	}
	if update.ConflictResolution != nil {
		u.cfg.ConflictResolution = *update.ConflictResolution
	}
	if update.OfflineMode != nil {
		u.cfg.OfflineMode = *update.OfflineMode
		u.online = !*update.OfflineMode
	}
	return nil
}

// GetSyncStatus returns the current synchronization state.
func (u *Unified) GetSyncStatus() SyncStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	return SyncStatus{
		IsOnline:          u.online && !u.cfg.OfflineMode,
		LastSync:          u.lastSync,
		PendingOperations: u.queue.Len(),
		ConflictsDetected: len(u.conflicts),
		SyncInProgress:    u.syncInProgress,
	}
}

// SaveConversation writes the record to the local cache unconditionally,
// then attempts the primary backend; on failure or while offline the write
// is queued for replay. The call reports success once the record is durable
// locally; a transient backend failure never becomes a caller-visible
// failure for a locally durable write.
func (u *Unified) SaveConversation(ctx context.Context, rec *ConversationRecord) error {
	if err := validateRecord(rec); err != nil {
		return fmt.Errorf("invalid conversation: %w", err)
	}

	l := u.lockFor(rec.ConversationID)
	l.Lock()
	defer l.Unlock()

	if err := u.localSvc.SaveConversation(ctx, rec); err != nil {
		return err
	}

	if !u.isOnline() {
		u.enqueue(&PendingOperation{
			Kind:           OpSaveConversation,
			ConversationID: rec.ConversationID,
			Record:         rec.Clone(),
		})
		return nil
	}

	opCtx, cancel := u.opCtx(ctx)
	err := u.cfg.Primary.SaveConversation(opCtx, rec)
	cancel()
	if err == nil {
		observability.RecordBackendOp(u.cfg.Primary.Name(), "save", "ok")
		return nil
	}
	observability.RecordBackendOp(u.cfg.Primary.Name(), "save", "error")
	log.Printf("convsync: primary save %s: %v", rec.ConversationID, err)

	u.enqueue(&PendingOperation{
		Kind:           OpSaveConversation,
		ConversationID: rec.ConversationID,
		Record:         rec.Clone(),
	})

	// Best-effort fan-out to fallback tiers; the queued operation still
	// replays against the primary later.
	for _, b := range u.cfg.Fallbacks {
		opCtx, cancel := u.opCtx(ctx)
		err := b.SaveConversation(opCtx, rec)
		cancel()
		if err == nil {
			observability.RecordBackendOp(b.Name(), "save", "ok")
			break
		}
		observability.RecordBackendOp(b.Name(), "save", "error")
	}
	return nil
}

// UpdateConversationMetadata applies a partial metadata update locally and
// forwards it to the primary, queueing it when unreachable.
func (u *Unified) UpdateConversationMetadata(ctx context.Context, conversationID string, update MetadataUpdate) error {
	l := u.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()

	if err := u.local.UpdateConversationMetadata(ctx, conversationID, update); err != nil && !errors.Is(err, ErrConversationNotFound) {
		return fmt.Errorf("update metadata %s: %w", conversationID, err)
	}

	if !u.isOnline() {
		u.enqueue(&PendingOperation{
			Kind:           OpUpdateMetadata,
			ConversationID: conversationID,
			Metadata:       &update,
		})
		return nil
	}

	opCtx, cancel := u.opCtx(ctx)
	err := u.cfg.Primary.UpdateConversationMetadata(opCtx, conversationID, update)
	cancel()
	if err == nil || errors.Is(err, ErrConversationNotFound) {
		return nil
	}
	log.Printf("convsync: primary metadata update %s: %v", conversationID, err)
	u.enqueue(&PendingOperation{
		Kind:           OpUpdateMetadata,
		ConversationID: conversationID,
		Metadata:       &update,
	})
	return nil
}

// DeleteConversation removes the record locally and from the primary,
// queueing the delete when unreachable. Attachments cascade via the local
// service.
func (u *Unified) DeleteConversation(ctx context.Context, conversationID string) error {
	l := u.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()

	if err := u.localSvc.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}

	if !u.isOnline() {
		u.enqueue(&PendingOperation{
			Kind:           OpDeleteConversation,
			ConversationID: conversationID,
		})
		return nil
	}

	opCtx, cancel := u.opCtx(ctx)
	err := u.cfg.Primary.DeleteConversation(opCtx, conversationID)
	cancel()
	if err != nil {
		log.Printf("convsync: primary delete %s: %v", conversationID, err)
		u.enqueue(&PendingOperation{
			Kind:           OpDeleteConversation,
			ConversationID: conversationID,
		})
	}
	return nil
}

// LoadConversation reads from the primary when online, refreshing the local
// cache with the result, and falls through the fallback tiers to the local
// cache otherwise. An absent id returns (nil, nil).
func (u *Unified) LoadConversation(ctx context.Context, conversationID string) (*ConversationRecord, error) {
	if u.isOnline() {
		for _, b := range u.readOrder() {
			opCtx, cancel := u.opCtx(ctx)
			rec, err := b.LoadConversation(opCtx, conversationID)
			cancel()
			if err == nil {
				// Refresh-on-read keeps the cache warm for offline reads.
				// The per-id lock keeps the refresh from interleaving with
				// a replay or conflict resolution on the same record.
				l := u.lockFor(conversationID)
				l.Lock()
				saveErr := u.local.SaveConversation(ctx, rec)
				l.Unlock()
				if saveErr != nil {
					log.Printf("convsync: cache refresh %s: %v", conversationID, saveErr)
				}
				return rec, nil
			}
			if errors.Is(err, ErrConversationNotFound) {
				// The id may exist only locally (queued write); keep
				// falling through.
				continue
			}
			observability.RecordBackendOp(b.Name(), "load", "error")
		}
	}
	return u.localSvc.LoadConversation(ctx, conversationID)
}

// GetUserConversations lists from the primary when online and falls through
// to the local cache otherwise.
func (u *Unified) GetUserConversations(ctx context.Context, userID string, filter ListFilter) ([]*ConversationRecord, error) {
	if u.isOnline() {
		for _, b := range u.readOrder() {
			opCtx, cancel := u.opCtx(ctx)
			recs, err := b.ListConversations(opCtx, userID, filter)
			cancel()
			if err == nil {
				g, refreshCtx := errgroup.WithContext(ctx)
				g.SetLimit(4)
				for _, rec := range recs {
					rec := rec
					g.Go(func() error {
						l := u.lockFor(rec.ConversationID)
						l.Lock()
						saveErr := u.local.SaveConversation(refreshCtx, rec)
						l.Unlock()
						if saveErr != nil {
							log.Printf("convsync: cache refresh %s: %v", rec.ConversationID, saveErr)
						}
						return nil
					})
				}
				g.Wait()
				return recs, nil
			}
			observability.RecordBackendOp(b.Name(), "list", "error")
		}
	}
	return u.localSvc.GetUserConversations(ctx, userID, filter)
}

// readOrder is primary first, then configured fallbacks.
func (u *Unified) readOrder() []Backend {
	return append([]Backend{u.cfg.Primary}, u.cfg.Fallbacks...)
}

// SaveWorkflowTemplate writes through the local cache and forwards to the
// primary, queueing the save when unreachable.
func (u *Unified) SaveWorkflowTemplate(ctx context.Context, tpl *WorkflowTemplate) error {
	if err := u.localSvc.SaveWorkflowTemplate(ctx, tpl); err != nil {
		return err
	}
	u.pushTemplate(ctx, tpl)
	return nil
}

// pushTemplate forwards a template to the primary, queueing it for replay
// while offline or on failure.
func (u *Unified) pushTemplate(ctx context.Context, tpl *WorkflowTemplate) {
	if u.isOnline() {
		opCtx, cancel := u.opCtx(ctx)
		err := u.cfg.Primary.SaveTemplate(opCtx, tpl)
		cancel()
		if err == nil {
			return
		}
		log.Printf("convsync: primary template save %s: %v", tpl.TemplateID, err)
	}
	u.enqueue(&PendingOperation{
		Kind:       OpSaveTemplate,
		TemplateID: tpl.TemplateID,
		Template:   tpl.Clone(),
	})
}

// GetWorkflowTemplates lists templates from the primary when online, else
// from the local cache.
func (u *Unified) GetWorkflowTemplates(ctx context.Context, category string) ([]*WorkflowTemplate, error) {
	if u.isOnline() {
		opCtx, cancel := u.opCtx(ctx)
		tpls, err := u.cfg.Primary.ListTemplates(opCtx, category)
		cancel()
		if err == nil {
			return tpls, nil
		}
		log.Printf("convsync: primary template list: %v", err)
	}
	return u.localSvc.GetWorkflowTemplates(ctx, category)
}

// CreateConversationFromTemplate instantiates a conversation locally and
// pushes it to the primary through the regular write path. The template's
// incremented usage counter propagates too, so a unified read never shows a
// stale count.
func (u *Unified) CreateConversationFromTemplate(ctx context.Context, templateID, userID string, custom *Customizations) (*ConversationRecord, error) {
	rec, err := u.localSvc.CreateConversationFromTemplate(ctx, templateID, userID, custom)
	if err != nil {
		return nil, err
	}

	if tpl, loadErr := u.local.LoadTemplate(ctx, templateID); loadErr == nil {
		u.pushTemplate(ctx, tpl)
	} else {
		log.Printf("convsync: reload template %s: %v", templateID, loadErr)
	}

	if !u.isOnline() {
		u.enqueue(&PendingOperation{
			Kind:           OpSaveConversation,
			ConversationID: rec.ConversationID,
			Record:         rec.Clone(),
		})
		return rec, nil
	}

	opCtx, cancel := u.opCtx(ctx)
	defer cancel()
	if err := u.cfg.Primary.SaveConversation(opCtx, rec); err != nil {
		log.Printf("convsync: primary save %s: %v", rec.ConversationID, err)
		u.enqueue(&PendingOperation{
			Kind:           OpSaveConversation,
			ConversationID: rec.ConversationID,
			Record:         rec.Clone(),
		})
	}
	return rec, nil
}

// GetMASAnalytics returns the user's analytics snapshot, preferring the
// primary's denormalized document when online and regenerating from the
// local conversation set otherwise. Analytics never fails hard.
func (u *Unified) GetMASAnalytics(ctx context.Context, userID string) (*UserAnalytics, error) {
	if u.isOnline() {
		opCtx, cancel := u.opCtx(ctx)
		a, err := u.cfg.Primary.LoadAnalytics(opCtx, userID)
		cancel()
		if err == nil {
			if saveErr := u.local.SaveAnalytics(ctx, a); saveErr != nil {
				log.Printf("convsync: cache analytics %s: %v", userID, saveErr)
			}
			return a, nil
		}
	}
	return u.localSvc.GetMASAnalytics(ctx, userID)
}

func (u *Unified) enqueue(op *PendingOperation) {
	u.queue.Enqueue(op)
	observability.SetPendingOperations(u.queue.Len())
}

// TriggerSync runs one synchronization pass: it replays queued operations
// against the primary in FIFO order, then reconciles divergent versions.
// At most one pass runs at a time; a concurrent trigger is a no-op.
func (u *Unified) TriggerSync(ctx context.Context) error {
	u.mu.Lock()
	if u.syncInProgress || !u.online || u.cfg.OfflineMode {
		u.mu.Unlock()
		return nil
	}
	u.syncInProgress = true
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.syncInProgress = false
		u.mu.Unlock()
	}()

	ctx, span := u.tracer.Start(ctx, "convsync.sync")
	defer span.End()
	span.SetAttributes(attribute.Int("pending_operations", u.queue.Len()))

	if err := u.replayQueue(ctx); err != nil {
		observability.RecordSyncPass("error")
		return err
	}
	u.detectConflicts(ctx)

	// LastSync marks the end of a completed pass; a failed pass must not
	// advance it or the health signal would mask replay failures.
	u.mu.Lock()
	u.lastSync = nowUTC()
	u.mu.Unlock()
	observability.RecordSyncPass("ok")
	return nil
}

// opKey identifies the record an operation mutates, so replay ordering and
// locking treat conversations and templates as separate keyspaces.
func opKey(op *PendingOperation) string {
	if op.Kind == OpSaveTemplate {
		return "template/" + op.TemplateID
	}
	return op.ConversationID
}

// replayQueue applies queued operations to the primary in FIFO order. When
// an operation for a record fails, later operations for the same record are
// skipped this pass so causal order is preserved.
func (u *Unified) replayQueue(ctx context.Context) error {
	blocked := map[string]bool{}

	for _, op := range u.queue.Snapshot() {
		key := opKey(op)
		if blocked[key] {
			continue
		}
		if err := u.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("replay rate limit: %w", err)
		}

		l := u.lockFor(key)
		l.Lock()
		err := u.applyOperation(ctx, op)
		l.Unlock()

		if err != nil {
			log.Printf("convsync: replay %s %s: %v", op.Kind, key, err)
			u.queue.MarkAttempt(op.ID)
			blocked[key] = true
			observability.RecordBackendOp(u.cfg.Primary.Name(), "replay", "error")
			continue
		}
		u.queue.Remove(op.ID)
		observability.RecordBackendOp(u.cfg.Primary.Name(), "replay", "ok")
	}

	observability.SetPendingOperations(u.queue.Len())
	return nil
}

func (u *Unified) applyOperation(ctx context.Context, op *PendingOperation) error {
	opCtx, cancel := u.opCtx(ctx)
	defer cancel()

	switch op.Kind {
	case OpSaveConversation:
		return u.cfg.Primary.SaveConversation(opCtx, op.Record)
	case OpUpdateMetadata:
		err := u.cfg.Primary.UpdateConversationMetadata(opCtx, op.ConversationID, *op.Metadata)
		if errors.Is(err, ErrConversationNotFound) {
			// The record never reached the primary; fold the update into
			// the local copy and push that instead.
			rec, loadErr := u.local.LoadConversation(opCtx, op.ConversationID)
			if loadErr != nil {
				return err
			}
			return u.cfg.Primary.SaveConversation(opCtx, rec)
		}
		return err
	case OpDeleteConversation:
		err := u.cfg.Primary.DeleteConversation(opCtx, op.ConversationID)
		if errors.Is(err, ErrConversationNotFound) {
			return nil
		}
		return err
	case OpSaveTemplate:
		return u.cfg.Primary.SaveTemplate(opCtx, op.Template)
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// detectConflicts compares local and primary versions of every cached
// conversation and reconciles per the configured policy.
func (u *Unified) detectConflicts(ctx context.Context) {
	ids := u.cachedConversationIDs(ctx)

	for _, id := range ids {
		l := u.lockFor(id)
		l.Lock()
		u.reconcile(ctx, id)
		l.Unlock()
	}

	u.mu.Lock()
	n := len(u.conflicts)
	u.mu.Unlock()
	observability.SetConflicts(n)
}

// cachedConversationIDs enumerates conversation ids present in the local
// cache across all users seen by this process.
func (u *Unified) cachedConversationIDs(ctx context.Context) []string {
	lister, ok := u.local.(interface {
		ListAllConversationIDs(ctx context.Context) ([]string, error)
	})
	if !ok {
		return nil
	}
	ids, err := lister.ListAllConversationIDs(ctx)
	if err != nil {
		log.Printf("convsync: enumerate cache: %v", err)
		return nil
	}
	return ids
}

func (u *Unified) reconcile(ctx context.Context, conversationID string) {
	opCtx, cancel := u.opCtx(ctx)
	defer cancel()

	local, err := u.local.LoadConversation(opCtx, conversationID)
	if err != nil {
		return
	}
	remote, err := u.cfg.Primary.LoadConversation(opCtx, conversationID)
	if err != nil {
		return
	}
	if !recordsDiverge(local, remote) {
		return
	}

	u.mu.Lock()
	policy := u.cfg.ConflictResolution
	u.mu.Unlock()

	switch policy {
	case ResolutionLatest:
		winner := local
		if remote.UpdatedAt.After(local.UpdatedAt) {
			winner = remote
		}
		u.writeBoth(opCtx, winner)
	case ResolutionMerge:
		u.writeBoth(opCtx, mergeRecords(local, remote))
	case ResolutionManual:
		u.mu.Lock()
		for _, c := range u.conflicts {
			if c.ConversationID == conversationID {
				u.mu.Unlock()
				return
			}
		}
		c := newConflict(local, remote)
		u.conflicts[c.ID] = c
		u.mu.Unlock()
	}
}

// writeBoth saves the reconciled record as canonical to both tiers.
func (u *Unified) writeBoth(ctx context.Context, rec *ConversationRecord) {
	if err := u.local.SaveConversation(ctx, rec); err != nil {
		log.Printf("convsync: reconcile local save %s: %v", rec.ConversationID, err)
	}
	if err := u.cfg.Primary.SaveConversation(ctx, rec); err != nil {
		log.Printf("convsync: reconcile primary save %s: %v", rec.ConversationID, err)
	}
}

// CleanupConversations removes a user's conversations last updated before
// olderThan from the primary (when it supports retention cleanup) and from
// the local cache. Returns the number removed from the primary, or from the
// cache when the primary has no cleanup support.
func (u *Unified) CleanupConversations(ctx context.Context, userID string, olderThan time.Time) (int, error) {
	removed := 0

	if c, ok := u.cfg.Primary.(Cleaner); ok && u.isOnline() {
		opCtx, cancel := u.opCtx(ctx)
		n, err := c.CleanupConversations(opCtx, userID, olderThan)
		cancel()
		if err != nil {
			return n, fmt.Errorf("primary cleanup: %w", err)
		}
		removed = n
	}

	recs, err := u.local.ListConversations(ctx, userID, ListFilter{})
	if err != nil {
		return removed, fmt.Errorf("list local for cleanup: %w", err)
	}
	localRemoved := 0
	for _, rec := range recs {
		if rec.UpdatedAt.After(olderThan) {
			continue
		}
		if err := u.local.DeleteConversation(ctx, rec.ConversationID); err != nil {
			return removed, fmt.Errorf("delete local %s: %w", rec.ConversationID, err)
		}
		localRemoved++
	}
	if removed == 0 {
		removed = localRemoved
	}
	return removed, nil
}

// GetConflicts returns the unresolved conflicts awaiting a caller decision.
func (u *Unified) GetConflicts() []*Conflict {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]*Conflict, 0, len(u.conflicts))
	for _, c := range u.conflicts {
		out = append(out, c)
	}
	return out
}

// ResolveConflict applies a caller's decision for a detected conflict:
// "local" and "remote" pick one side; "merge" combines both. The chosen
// version becomes canonical on both tiers and the conflict is cleared.
func (u *Unified) ResolveConflict(ctx context.Context, conflictID, choice string) error {
	u.mu.Lock()
	c, ok := u.conflicts[conflictID]
	u.mu.Unlock()
	if !ok {
		return fmt.Errorf("conflict %s not found", conflictID)
	}

	var resolved *ConversationRecord
	switch choice {
	case "local":
		resolved = c.Local
	case "remote":
		resolved = c.Remote
	case "merge":
		resolved = mergeRecords(c.Local, c.Remote)
	default:
		return fmt.Errorf("unknown resolution choice %q", choice)
	}
	resolved.UpdatedAt = nowUTC()

	l := u.lockFor(c.ConversationID)
	l.Lock()
	opCtx, cancel := u.opCtx(ctx)
	u.writeBoth(opCtx, resolved)
	cancel()
	l.Unlock()

	u.mu.Lock()
	delete(u.conflicts, conflictID)
	n := len(u.conflicts)
	u.mu.Unlock()
	observability.SetConflicts(n)
	return nil
}

// SubscribeToConversation delivers the conversation on registration and on
// every change. When the primary supports push it delegates; otherwise it
// degrades to polling so the interface works uniformly offline or on a
// non-push backend. The returned function cancels the subscription.
func (u *Unified) SubscribeToConversation(ctx context.Context, conversationID string, fn func(*ConversationRecord)) (func(), error) {
	if sub, ok := u.cfg.Primary.(Subscriber); ok && u.isOnline() {
		return sub.SubscribeConversation(ctx, conversationID, fn)
	}
	return u.poll(ctx, func(pollCtx context.Context) (time.Time, func(), bool) {
		rec, err := u.localSvc.LoadConversation(pollCtx, conversationID)
		if err != nil || rec == nil {
			return time.Time{}, nil, false
		}
		return rec.UpdatedAt, func() { fn(rec) }, true
	}), nil
}

// SubscribeToAnalytics mirrors SubscribeToConversation for the per-user
// analytics snapshot.
func (u *Unified) SubscribeToAnalytics(ctx context.Context, userID string, fn func(*UserAnalytics)) (func(), error) {
	if sub, ok := u.cfg.Primary.(Subscriber); ok && u.isOnline() {
		return sub.SubscribeAnalytics(ctx, userID, fn)
	}
	return u.poll(ctx, func(pollCtx context.Context) (time.Time, func(), bool) {
		a, err := u.localSvc.GetMASAnalytics(pollCtx, userID)
		if err != nil || a == nil {
			return time.Time{}, nil, false
		}
		return a.GeneratedAt, func() { fn(a) }, true
	}), nil
}

// poll re-reads on a fixed interval and emits when the observed timestamp
// advances. The first successful read always emits.
func (u *Unified) poll(ctx context.Context, read func(context.Context) (time.Time, func(), bool)) func() {
	pollCtx, cancel := context.WithCancel(u.ctx)

	u.mu.Lock()
	interval := u.cfg.PollInterval
	u.mu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last time.Time
		emitted := false

		tick := func() {
			ts, emit, ok := read(pollCtx)
			if !ok {
				return
			}
			if !emitted || ts.After(last) {
				last = ts
				emitted = true
				emit()
			}
		}

		tick()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick()
			}
		}
	}()

	return cancel
}
