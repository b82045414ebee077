package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// maxConfigSize bounds config files to guard against accidental huge reads.
const maxConfigSize = 1 << 20

// Duration wraps time.Duration so YAML accepts "30s" / "1m" strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the application configuration
type Config struct {
	// Local cache
	Cache CacheConfig `yaml:"cache"`

	// Primary backend selection: firestore, redis or memory
	PrimaryBackend string `yaml:"primary_backend"`

	// GCP Configuration
	GCPProject     string `yaml:"gcp_project"`
	GCPCredentials string `yaml:"gcp_credentials"`

	// Redis Configuration
	Redis RedisConfig `yaml:"redis"`

	// Attachment storage
	Attachments AttachmentsConfig `yaml:"attachments"`

	// Synchronization
	Sync SyncConfig `yaml:"sync"`

	// Observability
	Observability ObservabilityConfig `yaml:"observability"`
}

// CacheConfig holds local cache settings
type CacheConfig struct {
	Dir           string `yaml:"dir"`
	EncryptionKey string `yaml:"encryption_key"`
}

// RedisConfig holds Redis backend settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AttachmentsConfig holds object storage settings
type AttachmentsConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// SyncConfig holds synchronization settings
type SyncConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Interval           Duration `yaml:"interval"`
	ConflictResolution string   `yaml:"conflict_resolution"` // latest, merge, manual
	OfflineMode        bool     `yaml:"offline_mode"`
	OperationTimeout   Duration `yaml:"operation_timeout"`
}

// ObservabilityConfig holds metrics and tracing settings
type ObservabilityConfig struct {
	Port          int    `yaml:"port"`
	EnableMetrics bool   `yaml:"enable_metrics"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes", info.Size())
	}

	data, err := os.ReadFile(path) // #nosec G304 - path provided by operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// DefaultConfig returns a config with defaults and environment overrides
// applied, for running without a config file.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.PrimaryBackend == "" {
		c.PrimaryBackend = "firestore"
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = Duration(30 * time.Second)
	}
	if c.Sync.ConflictResolution == "" {
		c.Sync.ConflictResolution = "latest"
	}
	if c.Sync.OperationTimeout == 0 {
		c.Sync.OperationTimeout = Duration(15 * time.Second)
	}
	if c.Observability.Port == 0 {
		c.Observability.Port = 9090
	}
}

// applyEnv overrides file values from CONVSYNC_* variables plus the
// conventional GCP ones.
func (c *Config) applyEnv() {
	if v := os.Getenv("CONVSYNC_PRIMARY_BACKEND"); v != "" {
		c.PrimaryBackend = v
	}
	if v := os.Getenv("CONVSYNC_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("CONVSYNC_CACHE_ENCRYPTION_KEY"); v != "" {
		c.Cache.EncryptionKey = v
	}
	if v := os.Getenv("GCP_PROJECT"); v != "" && c.GCPProject == "" {
		c.GCPProject = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && c.GCPCredentials == "" {
		c.GCPCredentials = v
	}
	if v := os.Getenv("CONVSYNC_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("CONVSYNC_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CONVSYNC_MINIO_ENDPOINT"); v != "" {
		c.Attachments.Endpoint = v
	}
	if v := os.Getenv("CONVSYNC_MINIO_ACCESS_KEY"); v != "" {
		c.Attachments.AccessKey = v
	}
	if v := os.Getenv("CONVSYNC_MINIO_SECRET_KEY"); v != "" {
		c.Attachments.SecretKey = v
	}
	if v := os.Getenv("CONVSYNC_SYNC_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Sync.Enabled = b
		}
	}
	if v := os.Getenv("CONVSYNC_OFFLINE_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Sync.OfflineMode = b
		}
	}
	if v := os.Getenv("CONVSYNC_OTLP_ENDPOINT"); v != "" {
		c.Observability.OTLPEndpoint = v
	}
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.PrimaryBackend {
	case "firestore":
		if c.GCPProject == "" {
			return fmt.Errorf("gcp_project is required for the firestore backend")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown primary_backend %q", c.PrimaryBackend)
	}

	switch c.Sync.ConflictResolution {
	case "latest", "merge", "manual":
	default:
		return fmt.Errorf("unknown conflict_resolution %q", c.Sync.ConflictResolution)
	}

	if c.Cache.EncryptionKey != "" && len(c.Cache.EncryptionKey) != 32 {
		return fmt.Errorf("cache.encryption_key must be exactly 32 bytes")
	}

	return nil
}
