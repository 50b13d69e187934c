package cache

import (
	"time"

	"go.uber.org/zap"

	"imgopt/internal/metrics"
)

// NewMemory creates the memory tier. A non-positive entry count disables it.
func NewMemory(maxEntries int, ttl time.Duration, log *zap.Logger) Cache {
	if maxEntries <= 0 {
		log.Info("Memory cache disabled")
		return NewNoopCache()
	}
	log.Info("Using memory cache", zap.Int("max_entries", maxEntries), zap.Duration("ttl", ttl))
	mc := NewMemoryCache(maxEntries, ttl)
	metrics.TrackMemoryEntries(mc.Len)
	return mc
}

// NewDisk creates the disk tier rooted at dir and sweeps leftovers from
// interrupted writes.
func NewDisk(dir string, log *zap.Logger) (*FileCache, error) {
	fc, err := NewFileCache(dir)
	if err != nil {
		return nil, err
	}

	stats, err := fc.Sweep()
	if err != nil {
		log.Warn("Disk cache sweep failed", zap.String("cache_dir", dir), zap.Error(err))
	}
	log.Info("Using disk cache",
		zap.String("cache_dir", dir),
		zap.Int("entries", stats.Entries),
		zap.Int64("bytes", stats.Bytes),
		zap.Int("removed_temp_files", stats.RemovedTemp),
	)
	return fc, nil
}
