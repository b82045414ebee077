// Package firestore implements the remote conversation backend on Google
// Cloud Firestore. It stores conversations, workflow templates and
// denormalized per-user analytics in three collections, supports snapshot
// subscriptions, batched writes and retention cleanup.
//
// Important Notes:
//   - Firestore has a 500 operations per batch limit
//   - Composite indexes must be created for the user/updated_at queries
//   - Analytics documents are folded transactionally on first save
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aixgo-dev/convsync/pkg/conversation"
)

const (
	conversationsCollection = "mas_conversations"
	templatesCollection     = "mas_templates"
	analyticsCollection     = "mas_analytics"

	// Firestore batch operation limit.
	maxBatchSize = 500

	defaultCleanupAge = 90 * 24 * time.Hour
)

// Config contains configuration for the Firestore backend.
type Config struct {
	ProjectID        string
	CredentialsFile  string
	CollectionPrefix string
	CleanupAge       time.Duration
}

// Option configures a Store.
type Option func(*Config)

// WithProjectID sets the GCP project ID.
func WithProjectID(projectID string) Option {
	return func(c *Config) {
		c.ProjectID = projectID
	}
}

// WithCredentialsFile sets the path to service account credentials.
func WithCredentialsFile(path string) Option {
	return func(c *Config) {
		c.CredentialsFile = path
	}
}

// WithCollectionPrefix namespaces the three collections, e.g. for staging
// environments sharing a project.
func WithCollectionPrefix(prefix string) Option {
	return func(c *Config) {
		c.CollectionPrefix = prefix
	}
}

// WithCleanupAge sets the retention horizon used by CleanupConversations
// when the caller passes a zero time (default 90 days).
func WithCleanupAge(age time.Duration) Option {
	return func(c *Config) {
		c.CleanupAge = age
	}
}

// Store implements conversation.Backend on Firestore, plus the Pinger,
// Subscriber, BatchWriter and Cleaner capabilities.
type Store struct {
	client     *firestore.Client
	cfg        Config
	cleanupAge time.Duration
}

// New creates a Firestore-backed conversation store.
//
// Example:
//
//	store, err := firestore.New(ctx,
//	    firestore.WithProjectID("my-project"),
//	    firestore.WithCredentialsFile("/path/to/credentials.json"),
//	)
func New(ctx context.Context, opts ...Option) (*Store, error) {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return NewFromClient(client, opts...), nil
}

// NewFromClient wraps an existing client, e.g. one pointed at the emulator
// in tests.
func NewFromClient(client *firestore.Client, opts ...Option) *Store {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.CleanupAge <= 0 {
		cfg.CleanupAge = defaultCleanupAge
	}
	return &Store{client: client, cfg: cfg, cleanupAge: cfg.CleanupAge}
}

// Name identifies the backend in configuration and sync status.
func (s *Store) Name() string { return "firestore" }

func (s *Store) conversations() *firestore.CollectionRef {
	return s.client.Collection(s.cfg.CollectionPrefix + conversationsCollection)
}

func (s *Store) templates() *firestore.CollectionRef {
	return s.client.Collection(s.cfg.CollectionPrefix + templatesCollection)
}

func (s *Store) analytics() *firestore.CollectionRef {
	return s.client.Collection(s.cfg.CollectionPrefix + analyticsCollection)
}

// conversationDoc is the Firestore representation of a conversation. Query
// fields are flattened at the top level; the full record travels as a JSON
// payload so the document schema stays stable as the record type grows.
type conversationDoc struct {
	ID               string    `firestore:"id"`
	UserID           string    `firestore:"user_id"`
	OrchestratorType string    `firestore:"orchestrator_type,omitempty"`
	SessionType      string    `firestore:"session_type,omitempty"`
	Tags             []string  `firestore:"tags,omitempty"`
	IsTemplate       bool      `firestore:"is_template"`
	IsPublic         bool      `firestore:"is_public"`
	QualityScore     float64   `firestore:"quality_score"`
	CreatedAt        time.Time `firestore:"created_at"`
	UpdatedAt        time.Time `firestore:"updated_at"`
	Payload          []byte    `firestore:"payload"`
}

type templateDoc struct {
	ID        string    `firestore:"id"`
	Category  string    `firestore:"category,omitempty"`
	CreatedBy string    `firestore:"created_by,omitempty"`
	UpdatedAt time.Time `firestore:"updated_at"`
	Payload   []byte    `firestore:"payload"`
}

type analyticsDoc struct {
	UserID      string    `firestore:"user_id"`
	GeneratedAt time.Time `firestore:"generated_at"`
	Payload     []byte    `firestore:"payload"`
}

func encodeConversation(rec *conversation.ConversationRecord) (*conversationDoc, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation: %w", err)
	}
	return &conversationDoc{
		ID:               rec.ConversationID,
		UserID:           rec.UserID,
		OrchestratorType: rec.SessionConfig.Orchestrator.ID,
		SessionType:      rec.SessionConfig.SessionType,
		Tags:             rec.Tags,
		IsTemplate:       rec.IsTemplate,
		IsPublic:         rec.IsPublic,
		QualityScore:     rec.SessionMetrics.ConversationQuality,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
		Payload:          payload,
	}, nil
}

func decodeConversation(snap *firestore.DocumentSnapshot) (*conversation.ConversationRecord, error) {
	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", snap.Ref.ID, err)
	}
	var rec conversation.ConversationRecord
	if err := json.Unmarshal(doc.Payload, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal conversation %s: %w", snap.Ref.ID, err)
	}
	return &rec, nil
}

func encodeTemplate(tpl *conversation.WorkflowTemplate) (*templateDoc, error) {
	payload, err := json.Marshal(tpl)
	if err != nil {
		return nil, fmt.Errorf("marshal template: %w", err)
	}
	return &templateDoc{
		ID:        tpl.TemplateID,
		Category:  tpl.Category,
		CreatedBy: tpl.CreatedBy,
		UpdatedAt: tpl.UpdatedAt,
		Payload:   payload,
	}, nil
}

func decodeTemplate(snap *firestore.DocumentSnapshot) (*conversation.WorkflowTemplate, error) {
	var doc templateDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode template %s: %w", snap.Ref.ID, err)
	}
	var tpl conversation.WorkflowTemplate
	if err := json.Unmarshal(doc.Payload, &tpl); err != nil {
		return nil, fmt.Errorf("unmarshal template %s: %w", snap.Ref.ID, err)
	}
	return &tpl, nil
}

func decodeAnalytics(snap *firestore.DocumentSnapshot) (*conversation.UserAnalytics, error) {
	var doc analyticsDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode analytics %s: %w", snap.Ref.ID, err)
	}
	var a conversation.UserAnalytics
	if err := json.Unmarshal(doc.Payload, &a); err != nil {
		return nil, fmt.Errorf("unmarshal analytics %s: %w", snap.Ref.ID, err)
	}
	return &a, nil
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// SaveConversation creates or replaces a conversation document. On first
// save it also folds the conversation into the user's denormalized analytics
// document, in the same transaction, so analytics reads stay O(1).
func (s *Store) SaveConversation(ctx context.Context, rec *conversation.ConversationRecord) error {
	doc, err := encodeConversation(rec)
	if err != nil {
		return err
	}
	convRef := s.conversations().Doc(rec.ConversationID)
	analyticsRef := s.analytics().Doc(rec.UserID)

	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, getErr := tx.Get(convRef)
		isNew := notFound(getErr)
		if getErr != nil && !isNew {
			return getErr
		}

		if err := tx.Set(convRef, doc); err != nil {
			return err
		}
		if !isNew {
			return nil
		}

		a := &conversation.UserAnalytics{UserID: rec.UserID}
		snap, getErr := tx.Get(analyticsRef)
		switch {
		case getErr == nil:
			if a, err = decodeAnalytics(snap); err != nil {
				return err
			}
		case notFound(getErr):
		default:
			return getErr
		}

		a.ApplyConversation(rec)
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal analytics: %w", err)
		}
		return tx.Set(analyticsRef, &analyticsDoc{
			UserID:      rec.UserID,
			GeneratedAt: a.GeneratedAt,
			Payload:     payload,
		})
	})
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", rec.ConversationID, err)
	}
	return nil
}

// LoadConversation retrieves a conversation by id.
func (s *Store) LoadConversation(ctx context.Context, conversationID string) (*conversation.ConversationRecord, error) {
	snap, err := s.conversations().Doc(conversationID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, conversation.ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	return decodeConversation(snap)
}

// ListConversations returns a user's conversations matching the filter,
// ordered by update time descending. The user scope and ordering run
// server-side; the remaining filter fields are applied on the decoded
// records.
func (s *Store) ListConversations(ctx context.Context, userID string, filter conversation.ListFilter) ([]*conversation.ConversationRecord, error) {
	query := s.conversations().
		Where("user_id", "==", userID).
		OrderBy("updated_at", firestore.Desc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	recs := []*conversation.ConversationRecord{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list conversations for %s: %w", userID, err)
		}
		rec, err := decodeConversation(snap)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(rec) {
			continue
		}
		recs = append(recs, rec)
		if filter.Limit > 0 && len(recs) == filter.Limit {
			break
		}
	}
	return recs, nil
}

// DeleteConversation removes a conversation document. Deleting an absent id
// is not an error.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, err := s.conversations().Doc(conversationID).Delete(ctx); err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	return nil
}

// UpdateConversationMetadata applies a partial metadata update inside a
// transaction so a concurrent save cannot be lost.
func (s *Store) UpdateConversationMetadata(ctx context.Context, conversationID string, update conversation.MetadataUpdate) error {
	ref := s.conversations().Doc(conversationID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if notFound(err) {
				return conversation.ErrConversationNotFound
			}
			return err
		}
		rec, err := decodeConversation(snap)
		if err != nil {
			return err
		}

		if update.Name != nil {
			rec.Name = *update.Name
		}
		if update.Description != nil {
			rec.Description = *update.Description
		}
		if update.Tags != nil {
			rec.Tags = append([]string(nil), update.Tags...)
		}
		rec.UpdatedAt = time.Now().UTC()

		doc, err := encodeConversation(rec)
		if err != nil {
			return err
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			return err
		}
		return fmt.Errorf("update metadata %s: %w", conversationID, err)
	}
	return nil
}

// SaveTemplate creates or replaces a workflow template document.
func (s *Store) SaveTemplate(ctx context.Context, tpl *conversation.WorkflowTemplate) error {
	doc, err := encodeTemplate(tpl)
	if err != nil {
		return err
	}
	if _, err := s.templates().Doc(tpl.TemplateID).Set(ctx, doc); err != nil {
		return fmt.Errorf("save template %s: %w", tpl.TemplateID, err)
	}
	return nil
}

// LoadTemplate retrieves a template by id.
func (s *Store) LoadTemplate(ctx context.Context, templateID string) (*conversation.WorkflowTemplate, error) {
	snap, err := s.templates().Doc(templateID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, conversation.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("load template %s: %w", templateID, err)
	}
	return decodeTemplate(snap)
}

// ListTemplates returns templates, optionally filtered by category,
// newest-updated first.
func (s *Store) ListTemplates(ctx context.Context, category string) ([]*conversation.WorkflowTemplate, error) {
	query := s.templates().Query.OrderBy("updated_at", firestore.Desc)
	if category != "" {
		query = s.templates().Where("category", "==", category).OrderBy("updated_at", firestore.Desc)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	tpls := []*conversation.WorkflowTemplate{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list templates: %w", err)
		}
		tpl, err := decodeTemplate(snap)
		if err != nil {
			return nil, err
		}
		tpls = append(tpls, tpl)
	}
	return tpls, nil
}

// SaveAnalytics stores a per-user analytics snapshot.
func (s *Store) SaveAnalytics(ctx context.Context, a *conversation.UserAnalytics) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal analytics: %w", err)
	}
	_, err = s.analytics().Doc(a.UserID).Set(ctx, &analyticsDoc{
		UserID:      a.UserID,
		GeneratedAt: a.GeneratedAt,
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("save analytics %s: %w", a.UserID, err)
	}
	return nil
}

// LoadAnalytics retrieves a user's analytics snapshot.
func (s *Store) LoadAnalytics(ctx context.Context, userID string) (*conversation.UserAnalytics, error) {
	snap, err := s.analytics().Doc(userID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, conversation.ErrAnalyticsNotFound
		}
		return nil, fmt.Errorf("load analytics %s: %w", userID, err)
	}
	return decodeAnalytics(snap)
}

// SaveConversations writes a batch of conversations through a BulkWriter,
// chunked under the per-batch operation limit. Batch saves do not fold
// analytics; callers regenerate or rely on the next individual save.
func (s *Store) SaveConversations(ctx context.Context, recs []*conversation.ConversationRecord) error {
	for start := 0; start < len(recs); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(recs) {
			end = len(recs)
		}

		bw := s.client.BulkWriter(ctx)
		for _, rec := range recs[start:end] {
			doc, err := encodeConversation(rec)
			if err != nil {
				bw.End()
				return err
			}
			if _, err := bw.Set(s.conversations().Doc(rec.ConversationID), doc); err != nil {
				bw.End()
				return fmt.Errorf("queue save %s: %w", rec.ConversationID, err)
			}
		}
		bw.End()
	}
	return nil
}

// CleanupConversations deletes a user's conversations last updated before
// olderThan and returns the number removed. A zero time applies the
// configured retention horizon.
func (s *Store) CleanupConversations(ctx context.Context, userID string, olderThan time.Time) (int, error) {
	if olderThan.IsZero() {
		olderThan = time.Now().UTC().Add(-s.cleanupAge)
	}

	iter := s.conversations().
		Where("user_id", "==", userID).
		Where("updated_at", "<", olderThan).
		Documents(ctx)
	defer iter.Stop()

	bw := s.client.BulkWriter(ctx)
	deleted := 0
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bw.End()
			return deleted, fmt.Errorf("cleanup query for %s: %w", userID, err)
		}
		if _, err := bw.Delete(snap.Ref); err != nil {
			bw.End()
			return deleted, fmt.Errorf("queue delete %s: %w", snap.Ref.ID, err)
		}
		deleted++
	}
	bw.End()
	return deleted, nil
}

// SubscribeConversation streams document snapshots for one conversation.
// The callback fires on every change, including the initial state. The
// returned function cancels the stream.
func (s *Store) SubscribeConversation(ctx context.Context, conversationID string, fn func(*conversation.ConversationRecord)) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	snaps := s.conversations().Doc(conversationID).Snapshots(subCtx)

	go func() {
		defer snaps.Stop()
		for {
			snap, err := snaps.Next()
			if err != nil {
				return
			}
			if !snap.Exists() {
				continue
			}
			rec, err := decodeConversation(snap)
			if err != nil {
				continue
			}
			fn(rec)
		}
	}()
	return cancel, nil
}

// SubscribeAnalytics streams the per-user analytics document.
func (s *Store) SubscribeAnalytics(ctx context.Context, userID string, fn func(*conversation.UserAnalytics)) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	snaps := s.analytics().Doc(userID).Snapshots(subCtx)

	go func() {
		defer snaps.Stop()
		for {
			snap, err := snaps.Next()
			if err != nil {
				return
			}
			if !snap.Exists() {
				continue
			}
			a, err := decodeAnalytics(snap)
			if err != nil {
				continue
			}
			fn(a)
		}
	}()
	return cancel, nil
}

// Ping verifies the store is reachable. A not-found read still proves
// connectivity.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.conversations().Doc("__ping__").Get(ctx)
	if err != nil && !notFound(err) {
		return fmt.Errorf("firestore ping: %w", err)
	}
	return nil
}

// Close closes the connection to Firestore.
func (s *Store) Close() error {
	return s.client.Close()
}
