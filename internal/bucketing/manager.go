package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"shop-auth/internal/config"
)

// BucketingManager assigns users to stable partitions so the Scylla
// users table stays evenly distributed regardless of phone prefixes.
type BucketingManager struct {
	userBuckets int
	hasherPool  sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		userBuckets: cfg.Bucketing.UserBuckets,
	}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetUserBucket returns a consistent bucket in [0, userBuckets) for a key.
func (bm *BucketingManager) GetUserBucket(key string) int {
	return int(bm.getHash(key) % uint64(bm.userBuckets))
}

// GetTimeBucket returns the start of the window containing now.
func (bm *BucketingManager) GetTimeBucket(now time.Time, windowSeconds int) int64 {
	return now.Unix() / int64(windowSeconds) * int64(windowSeconds)
}

// GetDateBucket returns the UTC date partition for audit rows.
func (bm *BucketingManager) GetDateBucket(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) GetUserBuckets() int {
	return bm.userBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
