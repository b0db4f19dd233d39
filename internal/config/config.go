// Package config loads the gateway's layered configuration: defaults,
// then an optional config file, then GATEWAY_*-prefixed environment
// variables, then flags bound by cmd/gateway. Grounded on the teacher's
// cmd/config/config.go, which wraps a package-level loader and panics on
// load failure for CLI initialization; this package instead returns an
// error, since the gateway's cmd layer is the one place allowed to decide
// whether a load failure is fatal.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide Gateway Config record (SPEC_FULL.md §3).
type Config struct {
	TrustedNodeURL    string        `mapstructure:"trusted_node_url"`
	PeerURLs          []string      `mapstructure:"peer_urls"`
	S3Bucket          string        `mapstructure:"s3_bucket"`
	S3Region          string        `mapstructure:"s3_region"`
	ChunkCacheDir     string        `mapstructure:"chunk_cache_dir"`
	MetadataCacheDir  string        `mapstructure:"metadata_cache_dir"`
	MaxHops           uint32        `mapstructure:"max_hops"`
	ResolverTimeout   time.Duration `mapstructure:"resolver_timeout"`
	MaxConcurrentRes  int           `mapstructure:"max_concurrent_resolutions"`
	ImporterQueueSize int           `mapstructure:"importer_queue_size"`
	ParserQueueSize   int           `mapstructure:"parser_queue_size"`
	VerifierInterval  time.Duration `mapstructure:"verifier_interval"`
	ListenAddr        string        `mapstructure:"listen_addr"`
	LogLevel          string        `mapstructure:"log_level"`
	SourceParallelism int           `mapstructure:"source_parallelism"`
	MissTTL           time.Duration `mapstructure:"arns_miss_ttl"`
	HitTTL            time.Duration `mapstructure:"arns_hit_ttl"`
	CDBIndexPaths     []string      `mapstructure:"cdb_index_paths"`
	BundleTempDir     string        `mapstructure:"bundle_temp_dir"`
	MemStoreEntries   int           `mapstructure:"mem_store_entries"`
	ResolverRateLimit float64       `mapstructure:"resolver_rate_limit"`
	ResolverRateBurst int           `mapstructure:"resolver_rate_burst"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("trusted_node_url", "https://arweave.net")
	v.SetDefault("peer_urls", []string{})
	v.SetDefault("chunk_cache_dir", "./data/chunks")
	v.SetDefault("metadata_cache_dir", "./data/chunk-metadata")
	v.SetDefault("max_hops", 3)
	v.SetDefault("resolver_timeout", 5*time.Second)
	v.SetDefault("max_concurrent_resolutions", 3)
	v.SetDefault("importer_queue_size", 1000)
	v.SetDefault("parser_queue_size", 100)
	v.SetDefault("verifier_interval", 30*time.Second)
	v.SetDefault("listen_addr", ":4000")
	v.SetDefault("log_level", "info")
	v.SetDefault("source_parallelism", 3)
	v.SetDefault("arns_miss_ttl", 30*time.Second)
	v.SetDefault("arns_hit_ttl", 5*time.Minute)
	v.SetDefault("cdb_index_paths", []string{})
	v.SetDefault("bundle_temp_dir", "./data/bundle-tmp")
	v.SetDefault("mem_store_entries", 10_000)
	v.SetDefault("resolver_rate_limit", 0.0)
	v.SetDefault("resolver_rate_burst", 10)
}

// Load reads configuration from an optional file (empty path skips the
// file tier) layered under environment and defaults, and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("GATEWAY")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants the rest of the system assumes holds
// for a loaded Config.
func (c *Config) Validate() error {
	if c.MaxHops == 0 {
		return fmt.Errorf("config: max_hops must be > 0")
	}
	if c.ImporterQueueSize <= 0 || c.ParserQueueSize <= 0 {
		return fmt.Errorf("config: queue sizes must be > 0")
	}
	if c.SourceParallelism <= 0 {
		return fmt.Errorf("config: source_parallelism must be > 0")
	}
	if c.MaxConcurrentRes <= 0 {
		return fmt.Errorf("config: max_concurrent_resolutions must be > 0")
	}
	return nil
}
