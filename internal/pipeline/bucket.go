package pipeline

import (
	"github.com/yatagarasu/yatagarasu/internal/auth"
	"github.com/yatagarasu/yatagarasu/internal/authz"
	"github.com/yatagarasu/yatagarasu/internal/cache/tiered"
	"github.com/yatagarasu/yatagarasu/internal/config"
	"github.com/yatagarasu/yatagarasu/internal/ipfilter"
	"github.com/yatagarasu/yatagarasu/internal/ratelimit"
	"github.com/yatagarasu/yatagarasu/internal/replica"
)

// bucketRuntime is the compiled, request-ready state for one BucketConfig:
// everything the teacher's BucketConfig cross-references resolved into
// objects the pipeline can call directly, rebuilt wholesale on every config
// reload (spec §3: "BucketBinding ... immutable snapshot; atomically
// replaced on reload").
type bucketRuntime struct {
	cfg *config.BucketConfig

	authenticator *auth.Authenticator // nil when auth is disabled
	authorizer    *authz.Authorizer   // nil when authz is disabled
	limiter       *ratelimit.Limiter
	ipFilter      *ipfilter.Filter
	replicas      *replica.Set
	cache         *tiered.Cache

	maxItemSizeBytes int64
	coalesceRequests bool
	cacheTTLSecs     int
}

func buildBucketRuntime(cfg *config.GatewayConfig, b *config.BucketConfig) (*bucketRuntime, error) {
	rt := &bucketRuntime{cfg: b}

	if b.Auth != nil {
		a, err := auth.New(b.Auth)
		if err != nil {
			return nil, err
		}
		rt.authenticator = a
	}
	if b.Authz != nil {
		rt.authorizer = authz.New(b.Authz)
	}

	rateLimitCfg := cfg.EffectiveRateLimits(b)
	rt.limiter = ratelimit.New(rateLimitCfg)

	ipFilterCfg := cfg.EffectiveIPFilter(b)
	rt.ipFilter = ipfilter.New(ipFilterCfg)

	replicas := make([]*replica.Replica, 0, len(b.Replicas))
	for _, rc := range b.Replicas {
		replicas = append(replicas, newReplica(b, rc))
	}
	set, err := replica.NewSet(replicas)
	if err != nil {
		return nil, err
	}
	rt.replicas = set

	cacheCfg := cfg.EffectiveCache(b)
	c, err := buildCache(cacheCfg)
	if err != nil {
		return nil, err
	}
	rt.cache = c
	rt.maxItemSizeBytes = cacheCfg.MaxItemSizeBytes
	rt.coalesceRequests = cacheCfg.CoalesceRequests
	if cacheCfg.Memory != nil {
		rt.cacheTTLSecs = cacheCfg.Memory.TTLSecs
	}

	return rt, nil
}

// bucketName returns the upstream bucket name shared by this binding's
// replicas, used to build cache.Key values consistently across lookup and
// populate.
func (rt *bucketRuntime) bucketName() string {
	reps := rt.replicas.All()
	if len(reps) == 0 {
		return rt.cfg.Name
	}
	return reps[0].Bucket
}
