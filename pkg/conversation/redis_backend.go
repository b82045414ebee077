package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend using Redis. It provides a distributed
// cache tier suitable for multi-node deployments, typically configured as a
// fallback between the local file cache and the remote document store.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all keys (default: "convsync:").
	Prefix string
	// TTL is the entry expiry duration (0 = never expire).
	TTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisBackend creates a new Redis backend and verifies connectivity.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "convsync:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
	}, nil
}

// NewRedisBackendFromClient creates a Redis backend from an existing client.
// This is useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "convsync:"
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Name identifies the backend in configuration and sync status.
func (b *RedisBackend) Name() string { return "redis" }

// Key helpers
func (b *RedisBackend) conversationKey(id string) string { return b.prefix + "conv:" + id }
func (b *RedisBackend) templateKey(id string) string     { return b.prefix + "tpl:" + id }
func (b *RedisBackend) analyticsKey(userID string) string {
	return b.prefix + "analytics:" + userID
}
func (b *RedisBackend) userIndexKey(userID string) string { return b.prefix + "user:" + userID }
func (b *RedisBackend) templateIndexKey() string          { return b.prefix + "templates" }

func (b *RedisBackend) checkClosed() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBackendClosed
	}
	return nil
}

func (b *RedisBackend) expiry() time.Duration {
	if b.ttl > 0 {
		return b.ttl
	}
	return 0
}

// SaveConversation creates or replaces a conversation record.
func (b *RedisBackend) SaveConversation(ctx context.Context, rec *ConversationRecord) error {
	if err := b.checkClosed(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	pipe := b.client.Pipeline()
	pipe.Set(ctx, b.conversationKey(rec.ConversationID), data, b.expiry())
	pipe.SAdd(ctx, b.userIndexKey(rec.UserID), rec.ConversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// LoadConversation retrieves a conversation by id.
func (b *RedisBackend) LoadConversation(ctx context.Context, conversationID string) (*ConversationRecord, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}

	data, err := b.client.Get(ctx, b.conversationKey(conversationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	var rec ConversationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return &rec, nil
}

// ListConversations returns a user's conversations matching the filter,
// sorted by UpdatedAt descending.
func (b *RedisBackend) ListConversations(ctx context.Context, userID string, filter ListFilter) ([]*ConversationRecord, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}

	ids, err := b.client.SMembers(ctx, b.userIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	sort.Strings(ids)

	recs := []*ConversationRecord{}
	for _, id := range ids {
		rec, err := b.LoadConversation(ctx, id)
		if err != nil {
			if errors.Is(err, ErrConversationNotFound) {
				// Entry expired or was deleted, clean up the index.
				b.client.SRem(ctx, b.userIndexKey(userID), id)
				continue
			}
			return nil, err
		}
		if !filter.Matches(rec) {
			continue
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
	})

	if filter.Limit > 0 && filter.Limit < len(recs) {
		recs = recs[:filter.Limit]
	}
	return recs, nil
}

// DeleteConversation removes a conversation and its index entry.
func (b *RedisBackend) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := b.checkClosed(); err != nil {
		return err
	}

	rec, err := b.LoadConversation(ctx, conversationID)
	if err != nil && !errors.Is(err, ErrConversationNotFound) {
		return err
	}

	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.conversationKey(conversationID))
	if rec != nil {
		pipe.SRem(ctx, b.userIndexKey(rec.UserID), conversationID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// UpdateConversationMetadata applies a partial metadata update.
func (b *RedisBackend) UpdateConversationMetadata(ctx context.Context, conversationID string, update MetadataUpdate) error {
	rec, err := b.LoadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	applyMetadataUpdate(rec, update)
	return b.SaveConversation(ctx, rec)
}

// SaveTemplate creates or replaces a workflow template.
func (b *RedisBackend) SaveTemplate(ctx context.Context, tpl *WorkflowTemplate) error {
	if err := b.checkClosed(); err != nil {
		return err
	}

	data, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}

	pipe := b.client.Pipeline()
	pipe.Set(ctx, b.templateKey(tpl.TemplateID), data, b.expiry())
	pipe.SAdd(ctx, b.templateIndexKey(), tpl.TemplateID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

// LoadTemplate retrieves a template by id.
func (b *RedisBackend) LoadTemplate(ctx context.Context, templateID string) (*WorkflowTemplate, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}

	data, err := b.client.Get(ctx, b.templateKey(templateID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}

	var tpl WorkflowTemplate
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("unmarshal template: %w", err)
	}
	return &tpl, nil
}

// ListTemplates returns templates, optionally filtered by category.
func (b *RedisBackend) ListTemplates(ctx context.Context, category string) ([]*WorkflowTemplate, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}

	ids, err := b.client.SMembers(ctx, b.templateIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	sort.Strings(ids)

	tpls := []*WorkflowTemplate{}
	for _, id := range ids {
		tpl, err := b.LoadTemplate(ctx, id)
		if err != nil {
			if errors.Is(err, ErrTemplateNotFound) {
				b.client.SRem(ctx, b.templateIndexKey(), id)
				continue
			}
			return nil, err
		}
		if category != "" && tpl.Category != category {
			continue
		}
		tpls = append(tpls, tpl)
	}

	sort.Slice(tpls, func(i, j int) bool {
		return tpls[i].UpdatedAt.After(tpls[j].UpdatedAt)
	})
	return tpls, nil
}

// SaveAnalytics stores a per-user analytics snapshot.
func (b *RedisBackend) SaveAnalytics(ctx context.Context, analytics *UserAnalytics) error {
	if err := b.checkClosed(); err != nil {
		return err
	}

	data, err := json.Marshal(analytics)
	if err != nil {
		return fmt.Errorf("marshal analytics: %w", err)
	}
	if err := b.client.Set(ctx, b.analyticsKey(analytics.UserID), data, b.expiry()).Err(); err != nil {
		return fmt.Errorf("save analytics: %w", err)
	}
	return nil
}

// LoadAnalytics retrieves a user's analytics snapshot.
func (b *RedisBackend) LoadAnalytics(ctx context.Context, userID string) (*UserAnalytics, error) {
	if err := b.checkClosed(); err != nil {
		return nil, err
	}

	data, err := b.client.Get(ctx, b.analyticsKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAnalyticsNotFound
		}
		return nil, fmt.Errorf("get analytics: %w", err)
	}

	var a UserAnalytics
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal analytics: %w", err)
	}
	return &a, nil
}

// Ping checks if the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.checkClosed(); err != nil {
		return err
	}
	return b.client.Ping(ctx).Err()
}

// Close releases resources held by the backend.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}
