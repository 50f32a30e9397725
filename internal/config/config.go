/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

package config

import (
	"fmt"
	"strings"
)

// Config mirrors the configuration last passed to Store. It is a plain
// assignment; the atomically swapped snapshot is the one Current returns.
var Config *GatewayConfig

// GatewayConfig is the top-level configuration object, decoded from YAML.
type GatewayConfig struct {
	// Server holds the frontend listener and admin listener settings.
	Server *ServerConfig `yaml:"server"`
	// Buckets is the ordered list of configured bucket bindings.
	Buckets []*BucketConfig `yaml:"buckets"`
	// Cache is the default tiered-cache configuration; buckets may override it.
	Cache *CacheConfig `yaml:"cache"`
	// RateLimits is the default rate-limit configuration; buckets may override it.
	RateLimits *RateLimitConfig `yaml:"rate_limits"`
	// IPFilter is the default IP allow/block configuration; buckets may override it.
	IPFilter *IPFilterConfig `yaml:"ip_filter"`
	// Logging configures the structured logger.
	Logging *LoggingConfig `yaml:"logging"`
	// Metrics configures the Prometheus exposition endpoint.
	Metrics *MetricsConfig `yaml:"metrics"`
	// Tracing configures the OpenTelemetry exporter.
	Tracing *TracingConfig `yaml:"tracing"`
	// AuditLog configures the audit record sinks.
	AuditLog *AuditConfig `yaml:"audit_log"`
	// AdminAuth gates every /admin/* route behind the same authenticator and
	// admin_claim/admin_value check, independent of any bucket's own Auth.
	AdminAuth *AuthConfig `yaml:"admin_auth"`
}

// ServerConfig describes the proxy frontend and admin listeners.
type ServerConfig struct {
	// ListenAddress is the address the read-only proxy listens on.
	ListenAddress string `yaml:"listen_address"`
	// AdminListenAddress is the address admin/health/metrics endpoints listen on.
	// When empty, admin endpoints share ListenAddress.
	AdminListenAddress string `yaml:"admin_listen_address"`
	// ShutdownTimeoutSecs bounds how long in-flight requests get to finish on shutdown.
	ShutdownTimeoutSecs int `yaml:"shutdown_timeout_secs"`
	// ReadTimeoutSecs is the per-connection read timeout.
	ReadTimeoutSecs int `yaml:"read_timeout_secs"`
	// StreamBufferBytes sizes the bounded buffer used to pipe upstream bodies to clients.
	StreamBufferBytes int `yaml:"stream_buffer_bytes"`
	// CorsAllowedOrigins lists origins echoed back on OPTIONS preflight.
	CorsAllowedOrigins []string `yaml:"cors_allowed_origins"`
	// MaxReplicaRetries bounds how many further replicas SignAndConnect may try
	// after a failed attempt; once they are exhausted the answer is BadGateway.
	MaxReplicaRetries int `yaml:"max_replica_retries"`
}

// BucketConfig is a configured path_prefix -> replica_set, policies mapping.
type BucketConfig struct {
	// Name identifies the bucket binding in logs, metrics, and admin paths.
	Name string `yaml:"name"`
	// PathPrefix is matched against the incoming request path; longest match wins.
	PathPrefix string `yaml:"path_prefix"`
	// Bucket is the upstream S3 bucket name, if different from Name.
	Bucket string `yaml:"bucket"`
	// Auth configures token extraction and validation for this binding.
	Auth *AuthConfig `yaml:"auth"`
	// Authz configures the policy-engine call for this binding.
	Authz *AuthzConfig `yaml:"authz"`
	// Replicas is the priority-ordered set of upstream endpoints.
	Replicas []*ReplicaConfig `yaml:"replicas"`
	// Cache overrides the global cache config for this binding, when non-nil.
	Cache *CacheConfig `yaml:"cache"`
	// RateLimits overrides the global rate-limit config for this binding, when non-nil.
	RateLimits *RateLimitConfig `yaml:"rate_limits"`
	// IPFilter overrides the global IP filter config for this binding, when non-nil.
	IPFilter *IPFilterConfig `yaml:"ip_filter"`
}

// ReplicaConfig is one upstream endpoint entry in a bucket's replica set.
type ReplicaConfig struct {
	Name      string `yaml:"name"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	// Priority: lower wins; ties are broken by position in the list.
	Priority int `yaml:"priority"`
	// TimeoutSecs bounds connect+read for requests to this replica.
	TimeoutSecs int `yaml:"timeout_secs"`
	// CircuitBreaker tunes this replica's breaker transition thresholds.
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes a replica's breaker state machine.
type CircuitBreakerConfig struct {
	FailureThreshold uint32 `yaml:"failure_threshold"`
	SuccessThreshold uint32 `yaml:"success_threshold"`
	OpenTimeoutSecs  int    `yaml:"open_timeout_secs"`
}

// AuthConfig configures bearer-token extraction and validation.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// Sources lists token extraction sources tried in order.
	Sources []TokenSourceConfig `yaml:"sources"`
	// Algorithm is the expected JWT family: HS256/384/512, RS256, ES256.
	Algorithm string `yaml:"algorithm"`
	// SharedSecret is used for HS-family algorithms.
	SharedSecret string `yaml:"shared_secret"`
	// PublicKeys maps kid -> PEM-encoded public key for RS/ES families.
	PublicKeys map[string]string `yaml:"public_keys"`
	// JWKS configures a remote JSON Web Key Set source, keyed by kid.
	JWKS *JWKSConfig `yaml:"jwks"`
	// ClaimRules are evaluated conjunctively after signature validation.
	ClaimRules []ClaimRuleConfig `yaml:"claim_rules"`
	// LeewaySecs is the clock-skew tolerance applied to exp/nbf.
	LeewaySecs int `yaml:"leeway_secs"`
	// AdminClaim/AdminValue gate access to /admin/* routes.
	AdminClaim string `yaml:"admin_claim"`
	AdminValue string `yaml:"admin_value"`
}

// TokenSourceConfig names one place to look for a bearer token.
type TokenSourceConfig struct {
	// Kind is one of "bearer", "header", "query".
	Kind string `yaml:"kind"`
	// Name is the header or query parameter name (ignored for "bearer").
	Name string `yaml:"name"`
	// Prefix is an optional prefix to strip (e.g. "Token ").
	Prefix string `yaml:"prefix"`
}

// ClaimRuleConfig is one conjunctive claim check.
type ClaimRuleConfig struct {
	Claim    string      `yaml:"claim"`
	Operator string      `yaml:"operator"` // equals, in, contains, gt, lt, gte, lte
	Value    interface{} `yaml:"value"`
}

// JWKSConfig configures the remote key-set fetch and cache.
type JWKSConfig struct {
	URL       string `yaml:"url"`
	TTLSecs   int    `yaml:"ttl_secs"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// AuthzConfig configures the external policy-engine call.
type AuthzConfig struct {
	Enabled bool `yaml:"enabled"`
	// PolicyURL is the HTTP endpoint that evaluates a PolicyInput.
	PolicyURL string `yaml:"policy_url"`
	// TimeoutMs bounds every policy call.
	TimeoutMs int `yaml:"timeout_ms"`
	// FailMode is "fail_closed" (default) or "fail_open".
	FailMode string `yaml:"fail_mode"`
	// DecisionCacheTTLSecs caches decisions by a hash of the serialized input.
	DecisionCacheTTLSecs int `yaml:"decision_cache_ttl_secs"`
}

// CacheConfig configures the tiered cache, globally or per-bucket.
type CacheConfig struct {
	// Layers lists enabled layers in probe order, e.g. ["memory", "disk", "redis"].
	Layers []string `yaml:"layers"`
	// MaxItemSizeBytes bounds what may be buffered and cached; larger responses stream uncached.
	MaxItemSizeBytes int64 `yaml:"max_item_size_bytes"`
	// CoalesceRequests enables single-flight de-duplication of concurrent misses.
	CoalesceRequests bool               `yaml:"coalesce_requests"`
	Memory           *MemoryCacheConfig `yaml:"memory"`
	Disk             *DiskCacheConfig   `yaml:"disk"`
	Redis            *RedisCacheConfig  `yaml:"redis"`
}

// MemoryCacheConfig configures the L1 layer.
type MemoryCacheConfig struct {
	MaxSizeBytes     int64 `yaml:"max_size_bytes"`
	TTLSecs          int   `yaml:"ttl_secs"`
	ReapIntervalSecs int   `yaml:"reap_interval_secs"`
	ShardCount       int   `yaml:"shard_count"`
}

// DiskCacheConfig configures the L2 layer.
type DiskCacheConfig struct {
	// Backend selects the storage engine: "files" (content-addressed, default), "bbolt", "badger".
	Backend           string `yaml:"backend"`
	Directory         string `yaml:"directory"`
	MaxSizeBytes      int64  `yaml:"max_size_bytes"`
	LowWaterMarkBytes int64  `yaml:"low_water_mark_bytes"`
	TTLSecs           int    `yaml:"ttl_secs"`
}

// RedisCacheConfig configures the L3 layer.
type RedisCacheConfig struct {
	Addresses  []string `yaml:"addresses"`
	Password   string   `yaml:"password"`
	DB         int      `yaml:"db"`
	KeyPrefix  string   `yaml:"key_prefix"`
	TimeoutMs  int      `yaml:"timeout_ms"`
	MaxTTLSecs int      `yaml:"max_ttl_secs"`
}

// RateLimitConfig configures token-bucket limiting at several scopes.
type RateLimitConfig struct {
	Global    *TokenBucketConfig `yaml:"global"`
	PerIP     *TokenBucketConfig `yaml:"per_ip"`
	PerBucket *TokenBucketConfig `yaml:"per_bucket"`
	PerUser   *TokenBucketConfig `yaml:"per_user"`
}

// TokenBucketConfig is one scope's capacity and refill rate.
type TokenBucketConfig struct {
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// IPFilterConfig configures CIDR allow/block lists; allow takes precedence.
type IPFilterConfig struct {
	Allow []string `yaml:"allow"`
	Block []string `yaml:"block"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address"`
	Path          string `yaml:"path"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	// Implementation is one of "none", "stdout", "jaeger".
	Implementation string `yaml:"implementation"`
	CollectorURL   string `yaml:"collector_url"`
	ServiceName    string `yaml:"service_name"`
}

// AuditConfig configures the audit queue and its sinks.
type AuditConfig struct {
	QueueSize int                `yaml:"queue_size"`
	Sinks     []string           `yaml:"sinks"` // "file", "syslog", "s3"
	File      *AuditFileConfig   `yaml:"file"`
	Syslog    *AuditSyslogConfig `yaml:"syslog"`
	S3        *AuditS3Config     `yaml:"s3"`
	// SensitiveHeaders are replaced with [REDACTED] before serialization.
	SensitiveHeaders []string `yaml:"sensitive_headers"`
}

// AuditFileConfig configures the rotated-JSON-lines sink.
type AuditFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// AuditSyslogConfig configures the syslog sink.
type AuditSyslogConfig struct {
	Network string `yaml:"network"` // "tcp" or "udp"
	Address string `yaml:"address"`
	Tag     string `yaml:"tag"`
}

// AuditS3Config configures the periodic batch-export sink.
type AuditS3Config struct {
	Bucket         string `yaml:"bucket"`
	Prefix         string `yaml:"prefix"`
	IntervalSecs   int    `yaml:"interval_secs"`
	LocalDirectory string `yaml:"local_directory"`
	Region         string `yaml:"region"`
}

// Validate checks structural invariants the loader cannot express via
// defaults alone: a listen address, at least one bucket, non-empty and
// unique bucket names, a path_prefix beginning with "/", and at least one
// replica per bucket. Overlapping prefixes and cache layer/backend names are
// not checked here.
func (c *GatewayConfig) Validate() error {
	if c.Server == nil || c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	if len(c.Buckets) == 0 {
		return fmt.Errorf("at least one bucket must be configured")
	}
	seen := map[string]bool{}
	for _, b := range c.Buckets {
		if b.Name == "" {
			return fmt.Errorf("bucket missing name")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate bucket name %q", b.Name)
		}
		seen[b.Name] = true
		if !strings.HasPrefix(b.PathPrefix, "/") {
			return fmt.Errorf("bucket %q: path_prefix must begin with /", b.Name)
		}
		if len(b.Replicas) == 0 {
			return fmt.Errorf("bucket %q: at least one replica is required", b.Name)
		}
	}
	return nil
}

// EffectiveCache returns the bucket's cache config, falling back to the
// global default when the bucket did not explicitly set one.
func (c *GatewayConfig) EffectiveCache(b *BucketConfig) *CacheConfig {
	if b.Cache != nil {
		return b.Cache
	}
	return c.Cache
}

// EffectiveRateLimits returns the bucket's rate-limit config, falling back
// to the global default when the bucket did not explicitly set one.
func (c *GatewayConfig) EffectiveRateLimits(b *BucketConfig) *RateLimitConfig {
	if b.RateLimits != nil {
		return b.RateLimits
	}
	return c.RateLimits
}

// EffectiveIPFilter returns the bucket's IP filter config, falling back to
// the global default when the bucket did not explicitly set one.
func (c *GatewayConfig) EffectiveIPFilter(b *BucketConfig) *IPFilterConfig {
	if b.IPFilter != nil {
		return b.IPFilter
	}
	return c.IPFilter
}
