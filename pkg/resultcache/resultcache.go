// Package resultcache memoizes classification outcomes for repeated inputs,
// so identical texts skip the batch pipeline entirely.
package resultcache

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/coocood/freecache"
	"github.com/doublewordai/arbiter/internal/backend"
	"github.com/doublewordai/arbiter/pkg/metrics"
	"github.com/spaolacci/murmur3"
)

const metricUpdateInterval = 1 * time.Minute

type Cache interface {
	Get(text string) (*backend.Result, bool)
	Set(text string, result *backend.Result)
}

// V1 is a freecache-backed cache keyed by the 128-bit murmur3 hash of the
// input text. Only successful outcomes are stored; failures are always
// recomputed.
type V1 struct {
	cache  *freecache.Cache
	ttlSec int
}

func NewV1(sizeInBytes, ttlSec int) *V1 {
	v1 := &V1{
		cache:  freecache.NewCache(sizeInBytes),
		ttlSec: ttlSec,
	}
	go v1.publishMetric()
	return v1
}

func cacheKey(text string) []byte {
	h1, h2 := murmur3.Sum128([]byte(text))
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], h1)
	binary.BigEndian.PutUint64(key[8:], h2)
	return key
}

func (c *V1) Get(text string) (*backend.Result, bool) {
	value, err := c.cache.Get(cacheKey(text))
	if err != nil {
		metrics.Count("arbiter.cache.miss.total", 1, nil)
		return nil, false
	}
	var result backend.Result
	if err := json.Unmarshal(value, &result); err != nil {
		metrics.Count("arbiter.cache.miss.total", 1, nil)
		return nil, false
	}
	metrics.Count("arbiter.cache.hit.total", 1, nil)
	return &result, true
}

func (c *V1) Set(text string, result *backend.Result) {
	value, err := json.Marshal(result)
	if err != nil {
		return
	}
	// Set failures (entry larger than 1/1024 of the cache) just mean this
	// input is not memoized.
	_ = c.cache.Set(cacheKey(text), value, c.ttlSec)
}

func (c *V1) publishMetric() {
	ticker := time.NewTicker(metricUpdateInterval)
	defer ticker.Stop()
	for range ticker.C {
		metrics.Gauge("arbiter.cache.hit.rate", c.cache.HitRate(), nil)
		metrics.Gauge("arbiter.cache.entry.count", float64(c.cache.EntryCount()), nil)
	}
}

// Noop is the cache used when RESULT_CACHE_SIZE_IN_BYTES is unset.
type Noop struct{}

func (Noop) Get(string) (*backend.Result, bool) { return nil, false }

func (Noop) Set(string, *backend.Result) {}

// New picks the implementation from configuration: a zero size disables
// memoization.
func New(sizeInBytes, ttlSec int) Cache {
	if sizeInBytes <= 0 {
		return Noop{}
	}
	return NewV1(sizeInBytes, ttlSec)
}
