package pipeline

import (
	"time"

	"github.com/yatagarasu/yatagarasu/internal/circuit"
	"github.com/yatagarasu/yatagarasu/internal/config"
	"github.com/yatagarasu/yatagarasu/internal/replica"
)

func newReplica(b *config.BucketConfig, rc *config.ReplicaConfig) *replica.Replica {
	bucketName := b.Bucket
	if bucketName == "" {
		bucketName = b.Name
	}

	cb := rc.CircuitBreaker
	settings := circuit.Settings{Name: b.Name + "/" + rc.Name}
	if cb != nil {
		settings.FailureThreshold = cb.FailureThreshold
		settings.SuccessThreshold = cb.SuccessThreshold
		settings.OpenTimeout = time.Duration(cb.OpenTimeoutSecs) * time.Second
	}
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.OpenTimeout == 0 {
		settings.OpenTimeout = 30 * time.Second
	}

	return &replica.Replica{
		Name:      rc.Name,
		Bucket:    bucketName,
		Region:    rc.Region,
		Endpoint:  rc.Endpoint,
		AccessKey: rc.AccessKey,
		SecretKey: rc.SecretKey,
		Priority:  rc.Priority,
		Timeout:   time.Duration(rc.TimeoutSecs) * time.Second,
		Breaker:   circuit.New(settings),
	}
}
