package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	records map[string]*core.DomainRecord
}

// MemoryCache is a sharded in-memory implementation of core.DomainCache.
// Reads only take the read lock of one shard.
type MemoryCache struct {
	shards      [shardCount]*shard
	perShard    int
	logger      *zap.Logger
	cleanupFreq time.Duration
	now         func() time.Time
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// Option configures a MemoryCache
type Option func(*MemoryCache)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(c *MemoryCache) {
		c.now = now
	}
}

// NewMemoryCache creates a new in-memory cache holding at most capacity
// records (0 means unbounded). A positive cleanupFreq starts a background
// task that drops expired records.
func NewMemoryCache(logger *zap.Logger, capacity int, cleanupFreq time.Duration, opts ...Option) *MemoryCache {
	c := &MemoryCache{
		logger:      logger,
		cleanupFreq: cleanupFreq,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
	if capacity > 0 {
		c.perShard = (capacity + shardCount - 1) / shardCount
	}
	for i := range c.shards {
		c.shards[i] = &shard{records: make(map[string]*core.DomainRecord)}
	}
	for _, opt := range opts {
		opt(c)
	}

	if cleanupFreq > 0 {
		go c.startCleanupTask()
	}
	return c
}

func key(domain string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
}

func (c *MemoryCache) shardFor(k string) *shard {
	return c.shards[xxhash.Sum64String(k)%shardCount]
}

// Get returns a copy of the record for domain if present and not expired
func (c *MemoryCache) Get(domain string) (*core.DomainRecord, bool) {
	k := key(domain)
	s := c.shardFor(k)

	s.mu.RLock()
	rec, ok := s.records[k]
	s.mu.RUnlock()

	if !ok || rec.Expired(c.now()) {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// Set stores a copy of record. When the shard is full the record checked
// longest ago is evicted.
func (c *MemoryCache) Set(record *core.DomainRecord) {
	if record == nil {
		return
	}
	k := key(record.Domain)
	if k == "" {
		return
	}
	cp := *record
	cp.Domain = k
	s := c.shardFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[k]; !exists && c.perShard > 0 && len(s.records) >= c.perShard {
		c.evictOldest(s)
	}
	s.records[k] = &cp
}

// evictOldest must be called with the shard lock held
func (c *MemoryCache) evictOldest(s *shard) {
	var oldest string
	var at time.Time
	for k, rec := range s.records {
		if oldest == "" || rec.LastChecked.Before(at) {
			oldest, at = k, rec.LastChecked
		}
	}
	if oldest != "" {
		delete(s.records, oldest)
		c.logger.Debug("Evicted domain record", zap.String("domain", oldest))
	}
}

// Delete removes a cache entry
func (c *MemoryCache) Delete(domain string) {
	k := key(domain)
	s := c.shardFor(k)

	s.mu.Lock()
	delete(s.records, k)
	s.mu.Unlock()
}

// Cleanup removes records expired at now and returns how many were dropped
func (c *MemoryCache) Cleanup(now time.Time) int {
	expiredCount := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, rec := range s.records {
			if rec.Expired(now) {
				delete(s.records, k)
				expiredCount++
			}
		}
		s.mu.Unlock()
	}

	c.logger.Debug("Cleaned up expired domain records", zap.Int("expired_count", expiredCount))
	return expiredCount
}

// Len returns the number of records held, expired or not
func (c *MemoryCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.records)
		s.mu.RUnlock()
	}
	return n
}

// startCleanupTask starts a background task to clean up expired entries
func (c *MemoryCache) startCleanupTask() {
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Cleanup(c.now())
		case <-c.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup task. It is safe to call more than once.
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

var _ core.DomainCache = (*MemoryCache)(nil)
