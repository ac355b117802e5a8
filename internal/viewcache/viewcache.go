package viewcache

import (
	"sync"
	"time"

	"ipsentry/internal/eventlog"
	"ipsentry/internal/logger"
)

// preWarmWindow Sweep 提前多久重算将要过期的条目
const preWarmWindow = 30 * time.Second

// Producer renders a view payload on cache miss or staleness.
type Producer func() ([]byte, error)

// WatermarkSource is satisfied by eventlog.WatermarkStore.
type WatermarkSource interface {
	Current() eventlog.Watermark
}

type entry struct {
	payload     []byte
	watermark   eventlog.Watermark
	producedAt  time.Time
	allowedLag  time.Duration
	hardCeiling time.Duration
	producer    Producer
}

// Cache 基于水位线的派生视图缓存：一次生产，水位线校验复用。
// 同一契约供过滤日志查询与仪表盘片段两处使用，各带自己的容忍滞后。
type Cache struct {
	source  WatermarkSource
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func New(source WatermarkSource) *Cache {
	return &Cache{
		source:  source,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// GetOrCompute 返回缓存载荷；条目缺失或过期时同步调用 producer 重算。
// 过期判定：水位线落后且存活超过 allowedLag，或无论水位线存活超过
// hardCeiling。
func (c *Cache) GetOrCompute(key string, producer Producer, allowedLag, hardCeiling time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok {
		// 记住最新的 producer 与参数，供 Sweep 预热使用
		e.producer = producer
		e.allowedLag = allowedLag
		e.hardCeiling = hardCeiling
		if !c.stale(e, c.now()) {
			return e.payload, nil
		}
	}

	payload, err := producer()
	if err != nil {
		if ok {
			// 重算失败时退回旧载荷，读路径不因缓存层失败而中断
			return e.payload, nil
		}
		return nil, err
	}

	c.entries[key] = &entry{
		payload:     payload,
		watermark:   c.source.Current(),
		producedAt:  c.now(),
		allowedLag:  allowedLag,
		hardCeiling: hardCeiling,
		producer:    producer,
	}
	return payload, nil
}

// Purge 立即作废指定条目；key 为空时作废全部
func (c *Cache) Purge(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == "" {
		c.entries = make(map[string]*entry)
		return
	}
	delete(c.entries, key)
}

// Sweep 低频后台维护：对将在预热窗口内过期的条目提前重算，避免
// 用户读路径承担同步重算开销。
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	horizon := c.now().Add(preWarmWindow)
	for key, e := range c.entries {
		if e.producer == nil || !c.stale(e, horizon) {
			continue
		}
		payload, err := e.producer()
		if err != nil {
			logger.Cache.Warn().Err(err).Str("key", key).Msg("pre-warm recompute failed")
			continue
		}
		e.payload = payload
		e.watermark = c.source.Current()
		e.producedAt = c.now()
	}
}

// Len returns the number of tracked entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) stale(e *entry, at time.Time) bool {
	age := at.Sub(e.producedAt)
	if e.hardCeiling > 0 && age > e.hardCeiling {
		return true
	}
	return e.watermark.Behind(c.source.Current()) && age > e.allowedLag
}
