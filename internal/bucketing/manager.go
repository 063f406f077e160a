// Package bucketing assigns audit events to stable partitions so the
// ClickHouse table can be sharded without hot spots.
package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"reset-service/internal/config"
)

type BucketingManager struct {
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	return &BucketingManager{
		eventBuckets: cfg.Bucketing.EventBuckets,
		hasherPool: sync.Pool{
			New: func() interface{} {
				return murmur3.New64()
			},
		},
	}
}

// GetEventBucket returns a consistent bucket (0 to eventBuckets-1) for a
// phone hash. The same phone always lands in the same bucket.
func (bm *BucketingManager) GetEventBucket(phoneHash string) int {
	h := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(h)

	h.Reset()
	_, _ = h.Write([]byte(phoneHash))
	return int(h.Sum64() % uint64(bm.eventBuckets))
}

// GetDateBucket returns the calendar-date partition key for an event time.
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
