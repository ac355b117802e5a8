package eventlog

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ipsentry/internal/kvcache"
)

const watermarkKey = "eventlog:watermark"

// Watermark 事件日志的全局水位线：任何写入都会推进它
type Watermark struct {
	DataModified float64
	Hash         string
}

// IsZero reports the "empty log" sentinel.
func (w Watermark) IsZero() bool {
	return w.DataModified == 0 && w.Hash == ""
}

// Behind reports whether w was taken before other.
func (w Watermark) Behind(other Watermark) bool {
	return w.DataModified < other.DataModified
}

// WatermarkStore publishes the log watermark through the shared key-value
// cache. Advances are serialized within the process; cross-process races
// are tolerated, the watermark is a staleness hint, not a lock.
type WatermarkStore struct {
	cache kvcache.Store[string, Watermark]
	mu    sync.Mutex
	now   func() time.Time
}

func NewWatermarkStore(cache kvcache.Store[string, Watermark]) *WatermarkStore {
	return &WatermarkStore{cache: cache, now: time.Now}
}

// Current 返回当前水位线，日志为空时返回零值
func (s *WatermarkStore) Current() Watermark {
	w, _ := s.cache.Get(watermarkKey)
	return w
}

// Advance 推进水位线。data_modified 严格递增：时钟未前进时在上一值上加
// 一个微小增量。
func (s *WatermarkStore) Advance(ip string, stamp float64, sessionID string) Watermark {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, _ := s.cache.Get(watermarkKey)
	next := float64(s.now().UnixNano()) / 1e9
	if next <= cur.DataModified {
		next = cur.DataModified + 1e-6
	}

	w := Watermark{
		DataModified: next,
		Hash:         watermarkHash(ip, stamp, sessionID),
	}
	s.cache.Set(watermarkKey, w, 0)
	return w
}

// Reset 将水位线重置为空哨兵（仅在日志被整体删除时调用）
func (s *WatermarkStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(watermarkKey)
}

func watermarkHash(ip string, stamp float64, sessionID string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s",
		ip, strconv.FormatFloat(stamp, 'f', -1, 64), sessionID)))
	return hex.EncodeToString(sum[:])[:16]
}
