package main

import (
	"context"
	"fmt"

	"github.com/aixgo-dev/convsync/pkg/attachments"
	"github.com/aixgo-dev/convsync/pkg/conversation"
	fsbackend "github.com/aixgo-dev/convsync/pkg/conversation/firestore"
)

// buildUnified assembles the unified service from configuration: file-based
// local cache (encrypted when a key is configured), the selected primary
// backend, Redis as a fallback tier when configured alongside Firestore, and
// the attachment store when object storage is configured.
func buildUnified(ctx context.Context) (*conversation.Unified, error) {
	var local conversation.Backend
	var err error
	if cfg.Cache.EncryptionKey != "" {
		local, err = conversation.NewEncryptedFileBackend(cfg.Cache.Dir, []byte(cfg.Cache.EncryptionKey))
	} else {
		local, err = conversation.NewFileBackend(cfg.Cache.Dir)
	}
	if err != nil {
		return nil, fmt.Errorf("create local cache: %w", err)
	}

	var primary conversation.Backend
	var fallbacks []conversation.Backend

	switch cfg.PrimaryBackend {
	case "firestore":
		opts := []fsbackend.Option{fsbackend.WithProjectID(cfg.GCPProject)}
		if cfg.GCPCredentials != "" {
			opts = append(opts, fsbackend.WithCredentialsFile(cfg.GCPCredentials))
		}
		primary, err = fsbackend.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create firestore backend: %w", err)
		}
		if cfg.Redis.Addr != "" {
			redisBackend, err := conversation.NewRedisBackend(conversation.RedisConfig{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Prefix:   cfg.Redis.Prefix,
			})
			if err != nil {
				return nil, fmt.Errorf("create redis fallback: %w", err)
			}
			fallbacks = append(fallbacks, redisBackend)
		}
	case "redis":
		primary, err = conversation.NewRedisBackend(conversation.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis backend: %w", err)
		}
	case "memory":
		primary = conversation.NewMemoryBackend()
	default:
		return nil, fmt.Errorf("unknown primary backend %q", cfg.PrimaryBackend)
	}

	var opts []conversation.ServiceOption
	if cfg.Attachments.Endpoint != "" {
		store, err := attachments.NewMinioStore(ctx, attachments.MinioConfig{
			Endpoint:  cfg.Attachments.Endpoint,
			AccessKey: cfg.Attachments.AccessKey,
			SecretKey: cfg.Attachments.SecretKey,
			Bucket:    cfg.Attachments.Bucket,
			UseSSL:    cfg.Attachments.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("create attachment store: %w", err)
		}
		opts = append(opts, conversation.WithAttachments(store))
	}

	unified, err := conversation.NewUnified(local, conversation.UnifiedConfig{
		Primary:            primary,
		Fallbacks:          fallbacks,
		SyncEnabled:        cfg.Sync.Enabled,
		SyncInterval:       cfg.Sync.Interval.Std(),
		ConflictResolution: conversation.ConflictResolution(cfg.Sync.ConflictResolution),
		OfflineMode:        cfg.Sync.OfflineMode,
		OperationTimeout:   cfg.Sync.OperationTimeout.Std(),
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("create unified service: %w", err)
	}
	return unified, nil
}
