package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/cache"
	"github.com/yatagarasu/yatagarasu/internal/cache/disk"
	"github.com/yatagarasu/yatagarasu/internal/cache/memory"
	"github.com/yatagarasu/yatagarasu/internal/cache/rediscache"
	"github.com/yatagarasu/yatagarasu/internal/cache/tiered"
	"github.com/yatagarasu/yatagarasu/internal/config"
)

// buildCache constructs the ordered tiered cache named in cfg.Layers, per
// spec §4.7. Layers are built independently (not shared across bucket
// bindings) so per-bucket cache overrides (different sizes, different disk
// directories) never interfere with each other.
func buildCache(cfg *config.CacheConfig) (*tiered.Cache, error) {
	layers := make([]cache.Cache, 0, len(cfg.Layers))
	for _, name := range cfg.Layers {
		switch name {
		case cache.LayerMemory:
			if cfg.Memory == nil {
				return nil, fmt.Errorf("pipeline: memory layer configured without a memory section")
			}
			m := memory.New(cfg.Memory.MaxSizeBytes, cfg.Memory.ShardCount)
			interval := time.Duration(cfg.Memory.ReapIntervalSecs) * time.Second
			if interval > 0 {
				m.StartReaper(context.Background(), interval)
			}
			layers = append(layers, m)
		case cache.LayerDisk:
			if cfg.Disk == nil {
				return nil, fmt.Errorf("pipeline: disk layer configured without a disk section")
			}
			d, err := buildDisk(cfg.Disk)
			if err != nil {
				return nil, err
			}
			layers = append(layers, d)
		case cache.LayerRedis:
			if cfg.Redis == nil {
				return nil, fmt.Errorf("pipeline: redis layer configured without a redis section")
			}
			r := rediscache.New(rediscache.Config{
				Addresses: cfg.Redis.Addresses,
				Password:  cfg.Redis.Password,
				DB:        cfg.Redis.DB,
				KeyPrefix: cfg.Redis.KeyPrefix,
				Timeout:   time.Duration(cfg.Redis.TimeoutMs) * time.Millisecond,
				MaxTTL:    time.Duration(cfg.Redis.MaxTTLSecs) * time.Second,
			})
			layers = append(layers, r)
		default:
			return nil, fmt.Errorf("pipeline: unknown cache layer %q", name)
		}
	}
	return tiered.New(layers...), nil
}

func buildDisk(cfg *config.DiskCacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case "", "files":
		return disk.New(cfg.Directory, cfg.MaxSizeBytes, cfg.LowWaterMarkBytes)
	case "bbolt":
		return disk.NewBBolt(cfg.Directory, cfg.MaxSizeBytes)
	case "badger":
		return disk.NewBadger(cfg.Directory, cfg.MaxSizeBytes)
	default:
		return nil, fmt.Errorf("pipeline: unknown disk cache backend %q", cfg.Backend)
	}
}
