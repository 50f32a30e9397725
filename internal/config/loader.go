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
	"os"
	"regexp"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// current holds the atomically-swapped running configuration, read by every
// request-handling goroutine and replaced wholesale on a successful reload.
var current atomic.Pointer[GatewayConfig]

// Current returns the live configuration snapshot.
func Current() *GatewayConfig { return current.Load() }

// Store atomically replaces the live configuration snapshot.
func Store(c *GatewayConfig) {
	current.Store(c)
	Config = c
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv resolves ${NAME} references against the process environment.
// An unresolved reference is a fatal load error, per the configured
// environment-variable-substitution contract.
func substituteEnv(raw []byte) ([]byte, error) {
	var missing []string
	out := envPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envPattern.FindSubmatch(m)[1]
		v, ok := os.LookupEnv(string(name))
		if !ok {
			missing = append(missing, string(name))
			return m
		}
		return []byte(v)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("unresolved environment variable(s) in config: %v", missing)
	}
	return out, nil
}

// Load reads, substitutes, decodes, defaults, and validates a YAML
// configuration file at path, returning the new snapshot. It does not
// install the result; call Store after a successful Load to activate it
// (the caller decides whether this is an initial load or a hot reload).
func Load(path string) (*GatewayConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	resolved, err := substituteEnv(raw)
	if err != nil {
		return nil, err
	}

	c := &GatewayConfig{}
	if err := yaml.Unmarshal(resolved, c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyDefaults(c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return c, nil
}

// Reload loads the configuration at path and, if valid, atomically swaps it
// in. On any error the previously active configuration remains live and the
// error is returned to the admin-reload caller unchanged.
func Reload(path string) error {
	c, err := Load(path)
	if err != nil {
		return err
	}
	Store(c)
	return nil
}

// applyDefaults fills in every unset (nil or zero) field the way the
// reference proxy's NewConfig()/setDefaults pass does: section pointers
// that were entirely absent from the YAML document get a whole default
// substructure, and scalar fields inside a present section get individually
// defaulted when left at their zero value.
func applyDefaults(c *GatewayConfig) {
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = defaultListenAddress
	}
	if c.Server.ShutdownTimeoutSecs == 0 {
		c.Server.ShutdownTimeoutSecs = defaultShutdownTimeoutSecs
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = defaultReadTimeoutSecs
	}
	if c.Server.StreamBufferBytes == 0 {
		c.Server.StreamBufferBytes = defaultStreamBufferBytes
	}
	if c.Server.MaxReplicaRetries == 0 {
		c.Server.MaxReplicaRetries = defaultMaxReplicaRetries
	}

	if c.Cache == nil {
		c.Cache = &CacheConfig{}
	}
	applyCacheDefaults(c.Cache)

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = defaultMetricsListenAddress
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}

	if c.Tracing == nil {
		c.Tracing = &TracingConfig{}
	}
	if c.Tracing.Implementation == "" {
		c.Tracing.Implementation = defaultTracingImplementation
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaultTracingServiceName
	}

	if c.AuditLog == nil {
		c.AuditLog = &AuditConfig{}
	}
	if c.AuditLog.QueueSize == 0 {
		c.AuditLog.QueueSize = defaultAuditQueueSize
	}
	if len(c.AuditLog.Sinks) == 0 {
		c.AuditLog.Sinks = defaultAuditSinks
	}
	if c.AuditLog.File == nil {
		c.AuditLog.File = &AuditFileConfig{}
	}
	if c.AuditLog.File.Path == "" {
		c.AuditLog.File.Path = defaultAuditFilePath
	}
	if c.AuditLog.File.MaxSizeMB == 0 {
		c.AuditLog.File.MaxSizeMB = defaultAuditMaxSizeMB
	}
	if c.AuditLog.File.MaxBackups == 0 {
		c.AuditLog.File.MaxBackups = defaultAuditMaxBackups
	}
	if c.AuditLog.File.MaxAgeDays == 0 {
		c.AuditLog.File.MaxAgeDays = defaultAuditMaxAgeDays
	}
	if len(c.AuditLog.SensitiveHeaders) == 0 {
		c.AuditLog.SensitiveHeaders = defaultSensitiveHeaders
	}

	if c.AdminAuth == nil {
		c.AdminAuth = &AuthConfig{}
	}
	applyAuthDefaults(c.AdminAuth)

	for _, b := range c.Buckets {
		if b.Bucket == "" {
			b.Bucket = b.Name
		}
		if b.Auth == nil {
			b.Auth = &AuthConfig{}
		}
		applyAuthDefaults(b.Auth)

		if b.Authz == nil {
			b.Authz = &AuthzConfig{}
		}
		applyAuthzDefaults(b.Authz)

		if b.Cache != nil {
			applyCacheDefaults(b.Cache)
		}

		for _, r := range b.Replicas {
			if r.TimeoutSecs == 0 {
				r.TimeoutSecs = defaultReplicaTimeoutSecs
			}
			if r.CircuitBreaker == nil {
				r.CircuitBreaker = &CircuitBreakerConfig{}
			}
			if r.CircuitBreaker.FailureThreshold == 0 {
				r.CircuitBreaker.FailureThreshold = defaultFailureThreshold
			}
			if r.CircuitBreaker.SuccessThreshold == 0 {
				r.CircuitBreaker.SuccessThreshold = defaultSuccessThreshold
			}
			if r.CircuitBreaker.OpenTimeoutSecs == 0 {
				r.CircuitBreaker.OpenTimeoutSecs = defaultOpenTimeoutSecs
			}
		}
	}
}

func applyCacheDefaults(cc *CacheConfig) {
	if len(cc.Layers) == 0 {
		cc.Layers = defaultCacheLayers
	}
	if cc.MaxItemSizeBytes == 0 {
		cc.MaxItemSizeBytes = defaultMaxItemSizeBytes
	}
	if cc.Memory == nil {
		cc.Memory = &MemoryCacheConfig{}
	}
	if cc.Memory.MaxSizeBytes == 0 {
		cc.Memory.MaxSizeBytes = defaultMemoryMaxSizeBytes
	}
	if cc.Memory.TTLSecs == 0 {
		cc.Memory.TTLSecs = defaultMemoryTTLSecs
	}
	if cc.Memory.ReapIntervalSecs == 0 {
		cc.Memory.ReapIntervalSecs = defaultMemoryReapIntervalSecs
	}
	if cc.Memory.ShardCount == 0 {
		cc.Memory.ShardCount = defaultMemoryShardCount
	}
	if cc.Disk == nil {
		cc.Disk = &DiskCacheConfig{}
	}
	if cc.Disk.Backend == "" {
		cc.Disk.Backend = defaultDiskBackend
	}
	if cc.Disk.Directory == "" {
		cc.Disk.Directory = defaultDiskDirectory
	}
	if cc.Disk.MaxSizeBytes == 0 {
		cc.Disk.MaxSizeBytes = defaultDiskMaxSizeBytes
	}
	if cc.Disk.LowWaterMarkBytes == 0 {
		cc.Disk.LowWaterMarkBytes = defaultDiskLowWaterMarkBytes
	}
	if cc.Disk.TTLSecs == 0 {
		cc.Disk.TTLSecs = defaultDiskTTLSecs
	}
	if cc.Redis != nil {
		if cc.Redis.KeyPrefix == "" {
			cc.Redis.KeyPrefix = defaultRedisKeyPrefix
		}
		if cc.Redis.TimeoutMs == 0 {
			cc.Redis.TimeoutMs = defaultRedisTimeoutMs
		}
		if cc.Redis.MaxTTLSecs == 0 {
			cc.Redis.MaxTTLSecs = defaultRedisMaxTTLSecs
		}
	}
}

func applyAuthDefaults(a *AuthConfig) {
	if a.Algorithm == "" {
		a.Algorithm = defaultAuthAlgorithm
	}
	if a.LeewaySecs == 0 {
		a.LeewaySecs = defaultLeewaySecs
	}
	if a.AdminClaim == "" {
		a.AdminClaim = defaultAdminClaim
	}
	if a.AdminValue == "" {
		a.AdminValue = defaultAdminValue
	}
	if a.JWKS != nil {
		if a.JWKS.TTLSecs == 0 {
			a.JWKS.TTLSecs = defaultJWKSTTLSecs
		}
		if a.JWKS.TimeoutMs == 0 {
			a.JWKS.TimeoutMs = defaultJWKSTimeoutMs
		}
	}
}

func applyAuthzDefaults(a *AuthzConfig) {
	if a.TimeoutMs == 0 {
		a.TimeoutMs = defaultAuthzTimeoutMs
	}
	if a.FailMode == "" {
		a.FailMode = defaultAuthzFailMode
	}
	if a.DecisionCacheTTLSecs == 0 {
		a.DecisionCacheTTLSecs = defaultDecisionCacheTTLSecs
	}
}
