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

const (
	defaultListenAddress       = ":8080"
	defaultAdminListenAddress  = ":8081"
	defaultShutdownTimeoutSecs = 30
	defaultReadTimeoutSecs     = 30
	defaultStreamBufferBytes   = 64 * 1024
	defaultMaxReplicaRetries   = 2

	defaultReplicaTimeoutSecs   = 10
	defaultFailureThreshold     = 5
	defaultSuccessThreshold     = 2
	defaultOpenTimeoutSecs      = 30

	defaultAuthAlgorithm  = "HS256"
	defaultLeewaySecs     = 5
	defaultAdminClaim     = "role"
	defaultAdminValue     = "admin"
	defaultJWKSTTLSecs    = 300
	defaultJWKSTimeoutMs  = 2000

	defaultAuthzTimeoutMs          = 1000
	defaultAuthzFailMode           = "fail_closed"
	defaultDecisionCacheTTLSecs    = 60

	defaultMaxItemSizeBytes = 32 * 1024 * 1024

	defaultMemoryMaxSizeBytes     = 256 * 1024 * 1024
	defaultMemoryTTLSecs          = 300
	defaultMemoryReapIntervalSecs = 30
	defaultMemoryShardCount       = 32

	defaultDiskBackend            = "files"
	defaultDiskDirectory          = "/var/cache/yatagarasu"
	defaultDiskMaxSizeBytes       = 10 * 1024 * 1024 * 1024
	defaultDiskLowWaterMarkBytes  = 8 * 1024 * 1024 * 1024
	defaultDiskTTLSecs            = 3600

	defaultRedisKeyPrefix  = "yatagarasu"
	defaultRedisTimeoutMs  = 250
	defaultRedisMaxTTLSecs = 86400

	defaultLogLevel = "info"

	defaultMetricsListenAddress = ":9090"
	defaultMetricsPath          = "/metrics"

	defaultTracingImplementation = "none"
	defaultTracingServiceName    = "yatagarasu"

	defaultAuditQueueSize  = 10000
	defaultAuditFilePath   = "/var/log/yatagarasu/audit.jsonl"
	defaultAuditMaxSizeMB  = 100
	defaultAuditMaxBackups = 10
	defaultAuditMaxAgeDays = 30
)

var defaultAuditSinks = []string{"file"}

var defaultSensitiveHeaders = []string{"Authorization", "Cookie", "X-Api-Key"}

var defaultCacheLayers = []string{"memory", "disk"}
